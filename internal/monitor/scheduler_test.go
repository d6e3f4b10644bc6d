package monitor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appErr "github.com/samims/pricewatch/internal/errors"
	"github.com/samims/pricewatch/internal/extractor"
	"github.com/samims/pricewatch/internal/model"
	"github.com/samims/pricewatch/internal/notifier"
	"github.com/samims/pricewatch/internal/storage"
)

const productURL = "https://amazon.it/dp/B0C1234567"

var testNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func price(v string) decimal.NullDecimal {
	if v == "" {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func priced(v string) *extractor.Snapshot {
	return &extractor.Snapshot{
		Title:        "Echo Dot",
		CurrentPrice: price(v),
		Currency:     "EUR",
		Availability: model.AvailabilityInStock,
	}
}

// seed stores one product at oldPrice tracked by subscribers.
func seed(t *testing.T, store *storage.MemoryStorage, oldPrice string, subscribers ...string) model.MonitoredProduct {
	t.Helper()
	ctx := context.Background()

	p := &model.Product{
		CatalogID:    "B0C1234567",
		URL:          productURL,
		Title:        "Echo Dot",
		CurrentPrice: price(oldPrice),
		Currency:     "EUR",
	}
	require.NoError(t, store.CreateProduct(ctx, p))
	for _, id := range subscribers {
		require.NoError(t, store.UpsertSubscriber(ctx, &model.Subscriber{ID: id}))
		_, err := store.ActivateTracking(ctx, id, p.ID)
		require.NoError(t, err)
	}

	monitored, err := store.ListMonitoredProducts(ctx)
	require.NoError(t, err)
	for _, mp := range monitored {
		if mp.ID == p.ID {
			return mp
		}
	}
	return model.MonitoredProduct{Product: *p}
}

func newTestScheduler(store Store, ext extractor.Extractor, n notifier.Notifier) *Scheduler {
	s := NewScheduler(Config{
		Interval:         10 * time.Millisecond,
		RetentionHorizon: 30 * 24 * time.Hour,
		SweepHour:        3,
	}, store, ext, n, slog.Default())
	s.now = func() time.Time { return testNow }
	return s
}

func TestScheduler_CheckOne(t *testing.T) {
	tests := []struct {
		name         string
		oldPrice     string
		snap         *extractor.Snapshot
		extractErr   error
		wantSkipped  bool
		wantDropped  bool
		wantNotified int
		wantObs      int
		wantPrice    string
	}{
		{
			name:         "strict drop notifies every tracker",
			oldPrice:     "100.00",
			snap:         priced("85.00"),
			wantDropped:  true,
			wantNotified: 2,
			wantObs:      1,
			wantPrice:    "85.00",
		},
		{
			name:      "equal price updates without notifying",
			oldPrice:  "100.00",
			snap:      priced("100"),
			wantObs:   1,
			wantPrice: "100",
		},
		{
			name:      "higher price updates without notifying",
			oldPrice:  "100.00",
			snap:      priced("120.00"),
			wantObs:   1,
			wantPrice: "120.00",
		},
		{
			name:      "unknown old price never notifies",
			oldPrice:  "",
			snap:      priced("10.00"),
			wantObs:   1,
			wantPrice: "10.00",
		},
		{
			name:        "missing price is skipped",
			oldPrice:    "100.00",
			snap:        priced(""),
			wantSkipped: true,
			wantPrice:   "100.00",
		},
		{
			name:        "extractor failure is skipped",
			oldPrice:    "100.00",
			extractErr:  extractor.ErrUnavailable,
			wantSkipped: true,
			wantPrice:   "100.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := storage.NewMemoryStorage()
			mp := seed(t, store, tt.oldPrice, "alice", "bob")

			ext := extractor.NewMockExtractor(t)
			ext.On("Extract", mock.Anything, productURL).Return(tt.snap, tt.extractErr).Once()

			n := notifier.NewMockNotifier(t)
			if tt.wantNotified > 0 {
				n.On("Notify", mock.Anything, mock.Anything, mock.MatchedBy(func(msg string) bool {
					return strings.Contains(msg, "85.00 EUR") && strings.Contains(msg, "<s>100.00 EUR</s>")
				})).Return(nil).Times(tt.wantNotified)
			}

			s := newTestScheduler(store, ext, n)
			res, err := s.CheckOne(ctx, mp)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSkipped, res.Skipped)
			assert.Equal(t, tt.wantDropped, res.Dropped)
			assert.Equal(t, tt.wantNotified, res.Notified)
			n.AssertNumberOfCalls(t, "Notify", tt.wantNotified)

			stored, err := store.GetProduct(ctx, mp.ID)
			require.NoError(t, err)
			if tt.wantPrice == "" {
				assert.False(t, stored.CurrentPrice.Valid)
			} else {
				require.True(t, stored.CurrentPrice.Valid)
				assert.True(t, decimal.RequireFromString(tt.wantPrice).Equal(stored.CurrentPrice.Decimal))
			}

			history, err := store.ListObservations(ctx, mp.ID, 0)
			require.NoError(t, err)
			require.Len(t, history, tt.wantObs)
			if tt.wantObs > 0 {
				assert.True(t, decimal.RequireFromString(tt.wantPrice).Equal(history[0].Price))
			}
		})
	}
}

func TestScheduler_CheckOne_NotifyFailureDoesNotStopFanOut(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	mp := seed(t, store, "50.00", "alice", "bob", "carol")

	ext := extractor.NewMockExtractor(t)
	ext.On("Extract", mock.Anything, productURL).Return(priced("40.00"), nil).Once()

	n := notifier.NewMockNotifier(t)
	n.On("Notify", mock.Anything, "alice", mock.Anything).Return(errors.New("bot was blocked")).Once()
	n.On("Notify", mock.Anything, "bob", mock.Anything).Return(nil).Once()
	n.On("Notify", mock.Anything, "carol", mock.Anything).Return(nil).Once()

	s := newTestScheduler(store, ext, n)
	res, err := s.CheckOne(ctx, mp)
	require.NoError(t, err)
	assert.True(t, res.Dropped)
	assert.Equal(t, 2, res.Notified)
	assert.Equal(t, 1, res.NotifyFailed)

	stored, err := store.GetProduct(ctx, mp.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("40").Equal(stored.CurrentPrice.Decimal), "price update is kept")
}

func TestScheduler_RunOnce(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, "100.00", "alice")

	ext := extractor.NewMockExtractor(t)
	ext.On("Extract", mock.Anything, productURL).Return(priced("85.00"), nil).Once()
	n := notifier.NewMockNotifier(t)
	n.On("Notify", mock.Anything, "alice", mock.Anything).Return(nil).Once()

	s := newTestScheduler(store, ext, n)
	report, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Products)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Drops)
	assert.Equal(t, 1, report.Notified)

	st := s.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.LastCycle)
	assert.Equal(t, 1, st.LastCycle.Drops)
}

func TestScheduler_RunOnce_RefreshesUntrackedProducts(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	mp := seed(t, store, "10.00", "alice")
	require.NoError(t, store.DeactivateTracking(ctx, "alice", mp.ID))

	ext := extractor.NewMockExtractor(t)
	ext.On("Extract", mock.Anything, productURL).Return(priced("9.00"), nil).Once()
	n := notifier.NewMockNotifier(t)

	s := newTestScheduler(store, ext, n)
	report, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Products)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Drops)
	assert.Zero(t, report.Notified)

	stored, err := store.GetProduct(ctx, mp.ID)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("9.00").Equal(stored.CurrentPrice.Decimal))

	history, err := store.ListObservations(ctx, mp.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestScheduler_RunOnce_SingleFlight(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, "10.00", "alice")

	release := make(chan struct{})
	ext := extractor.NewMockExtractor(t)
	ext.On("Extract", mock.Anything, productURL).
		Run(func(mock.Arguments) { <-release }).
		Return(priced("10.00"), nil).Once()

	s := newTestScheduler(store, ext, notifier.NewMockNotifier(t))

	done := make(chan error, 1)
	go func() {
		_, err := s.RunOnce(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return s.Status().Running }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		_, err := s.RunOnce(context.Background())
		assert.ErrorIs(t, err, appErr.ErrAlreadyRunning)
	}

	close(release)
	require.NoError(t, <-done)
	assert.False(t, s.Status().Running)

	ext.AssertNumberOfCalls(t, "Extract", 1)
}

func TestScheduler_RunOnce_ReleasesGuardOnPanic(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, "10.00", "alice")

	ext := extractor.NewMockExtractor(t)
	ext.On("Extract", mock.Anything, productURL).
		Run(func(mock.Arguments) { panic("boom") }).
		Return(nil, nil).Once()
	ext.On("Extract", mock.Anything, productURL).Return(priced("10.00"), nil).Once()

	s := newTestScheduler(store, ext, notifier.NewMockNotifier(t))

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, s.Status().Running)

	_, err = s.RunOnce(context.Background())
	require.NoError(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, "10.00", "alice")

	ext := extractor.NewMockExtractor(t)
	ext.On("Extract", mock.Anything, productURL).Return(priced("10.00"), nil).Maybe()

	s := newTestScheduler(store, ext, notifier.NewMockNotifier(t))
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start is rejected")

	require.Eventually(t, func() bool { return s.Status().LastCycle != nil }, time.Second, 5*time.Millisecond)

	st := s.Status()
	assert.True(t, st.Active)
	require.NotNil(t, st.NextSweep)
	assert.Equal(t, 3, st.NextSweep.Hour())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	st = s.Status()
	assert.False(t, st.Active)
	assert.False(t, st.Running)
	assert.NoError(t, s.Stop(ctx), "stop is idempotent")
}

func TestScheduler_StopAbandonsCycleAfterGrace(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, "10.00", "alice")

	ext := extractor.NewMockExtractor(t)
	ext.On("Extract", mock.Anything, productURL).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, extractor.ErrUnavailable).Once()

	s := newTestScheduler(store, ext, notifier.NewMockNotifier(t))
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Status().Running }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.Status().Running)
}

func TestScheduler_RunOnce_RefusedWhileStopping(t *testing.T) {
	store := storage.NewMemoryStorage()
	seed(t, store, "10.00", "alice")

	release := make(chan struct{})
	ext := extractor.NewMockExtractor(t)
	ext.On("Extract", mock.Anything, productURL).
		Run(func(args mock.Arguments) {
			select {
			case <-release:
			case <-args.Get(0).(context.Context).Done():
			}
		}).
		Return(nil, extractor.ErrUnavailable).Once()
	ext.On("Extract", mock.Anything, productURL).Return(priced("10.00"), nil).Once()

	s := newTestScheduler(store, ext, notifier.NewMockNotifier(t))
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Status().Running }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(ctx) }()
	require.Eventually(t, func() bool { return !s.Status().Active }, time.Second, time.Millisecond)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, appErr.ErrSchedulerStopping)
	assert.Error(t, s.Start(context.Background()), "start is rejected while stopping")

	close(release)
	require.NoError(t, <-stopped)

	_, err = s.RunOnce(context.Background())
	assert.NoError(t, err, "manual runs work again once stopped")
}

func TestScheduler_Sweep(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	mp := seed(t, store, "10.00", "alice")

	horizon := 30 * 24 * time.Hour
	for _, at := range []time.Time{
		testNow.Add(-horizon - time.Hour),
		testNow.Add(-horizon - time.Microsecond),
		testNow.Add(-horizon),
		testNow.Add(-time.Hour),
	} {
		require.NoError(t, store.AppendObservation(ctx, &model.PriceObservation{
			ProductID:  mp.ID,
			Price:      decimal.NewFromInt(10),
			Currency:   "EUR",
			ObservedAt: at,
		}))
	}

	s := newTestScheduler(store, extractor.NewMockExtractor(t), notifier.NewMockNotifier(t))
	deleted, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	history, err := store.ListObservations(ctx, mp.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[1].ObservedAt.Equal(testNow.Add(-horizon)), "observation at the cutoff is kept")

	st := s.Status()
	require.NotNil(t, st.LastSweep)
	assert.Equal(t, int64(2), st.LastSweep.Deleted)
}

type failingSweepStore struct {
	*storage.MemoryStorage
}

func (failingSweepStore) DeleteObservationsBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("connection reset")
}

func TestScheduler_SweepFailure(t *testing.T) {
	store := failingSweepStore{storage.NewMemoryStorage()}
	s := newTestScheduler(store, extractor.NewMockExtractor(t), notifier.NewMockNotifier(t))

	_, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, appErr.ErrRetentionSweepFailed)

	st := s.Status()
	require.NotNil(t, st.LastSweep)
	assert.Contains(t, st.LastSweep.Error, "connection reset")
}
