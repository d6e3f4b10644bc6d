package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	appErr "github.com/samims/pricewatch/internal/errors"
	"github.com/samims/pricewatch/internal/extractor"
	"github.com/samims/pricewatch/internal/metrics"
	"github.com/samims/pricewatch/internal/model"
	"github.com/samims/pricewatch/internal/notifier"
	"github.com/samims/pricewatch/pkg/tracing"
)

// Store is the slice of storage the scheduler needs.
type Store interface {
	ListMonitoredProducts(ctx context.Context) ([]model.MonitoredProduct, error)
	UpdateProduct(ctx context.Context, p *model.Product) error
	AppendObservation(ctx context.Context, obs *model.PriceObservation) error
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Interval         time.Duration
	ItemDelay        time.Duration
	RetentionHorizon time.Duration
	SweepHour        int
	SweepMinute      int
	Location         *time.Location
}

// CycleReport summarises one poll cycle.
type CycleReport struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Products     int       `json:"products"`
	Checked      int       `json:"checked"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	Drops        int       `json:"drops"`
	Notified     int       `json:"notified"`
	NotifyFailed int       `json:"notify_failed"`
	Aborted      bool      `json:"aborted,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// CheckResult is the outcome of checking a single product.
type CheckResult struct {
	ProductID    int64
	Skipped      bool
	OldPrice     decimal.NullDecimal
	NewPrice     decimal.Decimal
	Dropped      bool
	Notified     int
	NotifyFailed int
}

type SweepReport struct {
	At      time.Time `json:"at"`
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
	Error   string    `json:"error,omitempty"`
}

type Status struct {
	Active    bool         `json:"active"`
	Running   bool         `json:"running"`
	Interval  string       `json:"interval"`
	NextSweep *time.Time   `json:"next_sweep,omitempty"`
	LastCycle *CycleReport `json:"last_cycle,omitempty"`
	LastSweep *SweepReport `json:"last_sweep,omitempty"`
}

// Scheduler owns the poll loop and the retention sweep. At most one poll
// cycle runs at a time; ticks that arrive while a cycle runs are dropped.
type Scheduler struct {
	cfg       Config
	store     Store
	extractor extractor.Extractor
	notifier  notifier.Notifier
	logger    *slog.Logger
	tracer    *tracing.Tracer
	limiter   *rate.Limiter
	now       func() time.Time

	running  atomic.Bool
	inflight sync.WaitGroup

	mu        sync.Mutex
	active    bool
	stopping  bool
	stop      chan struct{}
	loopDone  chan struct{}
	cancel    context.CancelFunc
	cron      *cron.Cron
	sweepID   cron.EntryID
	lastCycle *CycleReport
	lastSweep *SweepReport
}

func NewScheduler(cfg Config, store Store, ext extractor.Extractor, n notifier.Notifier, logger *slog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		extractor: ext,
		notifier:  n,
		logger:    logger.With("layer", "monitor", "component", "scheduler"),
		tracer:    tracing.NewTracer("monitor-scheduler"),
		limiter:   rate.NewLimiter(rate.Every(cfg.ItemDelay), 1),
		now:       time.Now,
	}
}

// Start begins ticking and schedules the daily sweep. Cycles run on a
// context detached from ctx so a shutdown signal does not cut them short;
// Stop decides when they are abandoned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return errors.New("scheduler already started")
	}
	if s.stopping {
		return appErr.ErrSchedulerStopping
	}
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("invalid poll interval %s", s.cfg.Interval)
	}

	cycleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c := cron.New(cron.WithLocation(s.cfg.Location))
	spec := fmt.Sprintf("%d %d * * *", s.cfg.SweepMinute, s.cfg.SweepHour)
	id, err := c.AddFunc(spec, func() {
		// Failures are logged inside Sweep.
		_, _ = s.Sweep(cycleCtx)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule retention sweep %q: %w", spec, err)
	}
	c.Start()

	s.cron = c
	s.sweepID = id
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.active = true

	go s.loop(ctx, cycleCtx, s.stop, s.loopDone)

	s.logger.Info("Scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Duration("item_delay", s.cfg.ItemDelay),
		slog.String("sweep_at", fmt.Sprintf("%02d:%02d", s.cfg.SweepHour, s.cfg.SweepMinute)),
		slog.String("location", s.cfg.Location.String()))
	return nil
}

func (s *Scheduler) loop(ctx, cycleCtx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped accepting ticks", slog.Any("reason", ctx.Err()))
			return
		case <-stop:
			return
		case <-ticker.C:
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				s.tick(cycleCtx)
			}()
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	switch {
	case appErr.IsAlreadyRunning(err):
		s.logger.Debug("Tick dropped, poll cycle still running")
	case appErr.IsSchedulerStopping(err):
		s.logger.Debug("Tick dropped, scheduler is stopping")
	case err != nil:
		s.logger.Error("Poll cycle failed", slog.Any("error", err))
	default:
		s.logger.Info("Poll cycle completed",
			slog.Int("products", report.Products),
			slog.Int("checked", report.Checked),
			slog.Int("skipped", report.Skipped),
			slog.Int("drops", report.Drops),
			slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	}
}

// Stop stops ticking and the sweep, then waits for the in-flight cycle
// until ctx expires. After that the cycle is cancelled and awaited.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.stopping = true
	close(s.stop)
	cronDone := s.cron.Stop()
	loopDone, cancel := s.loopDone, s.cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.stopping = false
		s.mu.Unlock()
	}()

	<-loopDone

	idle := make(chan struct{})
	go func() {
		s.inflight.Wait()
		<-cronDone.Done()
		close(idle)
	}()

	select {
	case <-idle:
		cancel()
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Grace period elapsed, abandoning in-flight poll cycle")
		cancel()
		<-idle
		return ctx.Err()
	}
}

// RunOnce runs one poll cycle now. It fails with ErrAlreadyRunning while
// another cycle runs and with ErrSchedulerStopping while Stop is waiting.
func (s *Scheduler) RunOnce(ctx context.Context) (report CycleReport, err error) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		metrics.PollCycles.WithLabelValues("skipped").Inc()
		return CycleReport{}, appErr.ErrSchedulerStopping
	}
	// Registered under mu so Stop never waits while a new cycle joins.
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if !s.running.CompareAndSwap(false, true) {
		metrics.PollCycles.WithLabelValues("skipped").Inc()
		return CycleReport{}, appErr.ErrAlreadyRunning
	}
	defer s.running.Store(false)

	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll cycle panic: %v", r)
			s.logger.Error("Poll cycle panicked", slog.Any("panic", r))
		}
		if err != nil {
			report.Error = err.Error()
			metrics.PollCycles.WithLabelValues("failed").Inc()
		} else {
			metrics.PollCycles.WithLabelValues("completed").Inc()
		}
		if report.StartedAt.IsZero() {
			report.StartedAt = started
		}
		report.FinishedAt = s.now()
		metrics.PollCycleDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

		s.mu.Lock()
		last := report
		s.lastCycle = &last
		s.mu.Unlock()
	}()

	return s.cycle(ctx)
}

func (s *Scheduler) cycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: s.now()}

	ctx, span := s.tracer.StartSpan(ctx, "PollCycle")
	defer span.End()

	products, err := s.store.ListMonitoredProducts(ctx)
	if err != nil {
		s.tracer.RecordError(span, err)
		return report, appErr.NewPersistence("list monitored products", err)
	}
	report.Products = len(products)
	span.SetAttributes(attribute.Int("poll.products", len(products)))

	for _, mp := range products {
		if err := s.limiter.Wait(ctx); err != nil {
			report.Aborted = true
			s.logger.Warn("Poll cycle interrupted", slog.Int("checked", report.Checked), slog.Any("error", err))
			break
		}

		res, err := s.CheckOne(ctx, mp)
		if err != nil {
			report.Failed++
			s.logger.Error("Product check failed", slog.Int64("product_id", mp.ID), slog.Any("error", err))
			continue
		}
		if res.Skipped {
			report.Skipped++
			continue
		}
		report.Checked++
		if res.Dropped {
			report.Drops++
			report.Notified += res.Notified
			report.NotifyFailed += res.NotifyFailed
		}
	}
	return report, nil
}

// CheckOne refreshes a product from its page and fans out a notification
// when the price strictly dropped from a known value.
func (s *Scheduler) CheckOne(ctx context.Context, mp model.MonitoredProduct) (CheckResult, error) {
	p := mp.Product
	res := CheckResult{ProductID: p.ID}

	ctx, span := s.tracer.StartSpan(ctx, "CheckOne", attribute.Int64(tracing.AttrProductID, p.ID))
	defer span.End()

	snap, err := s.extractor.Extract(ctx, p.URL)
	if err != nil || snap == nil || !snap.CurrentPrice.Valid {
		res.Skipped = true
		metrics.ProductChecks.WithLabelValues("skipped").Inc()
		s.logger.Debug("No usable price, skipping product",
			slog.Int64("product_id", p.ID),
			slog.String("url", p.URL),
			slog.Any("error", err))
		return res, nil
	}

	oldPrice := p.CurrentPrice
	res.OldPrice = oldPrice
	res.NewPrice = snap.CurrentPrice.Decimal

	if snap.Title != "" {
		p.Title = snap.Title
	}
	p.CurrentPrice = snap.CurrentPrice
	p.ReferencePrice = snap.ReferencePrice
	if snap.Currency != "" {
		p.Currency = snap.Currency
	}
	if snap.Availability != "" {
		p.Availability = snap.Availability
	}

	if err := s.store.UpdateProduct(ctx, &p); err != nil {
		metrics.ProductChecks.WithLabelValues("failed").Inc()
		s.tracer.RecordError(span, err)
		return res, appErr.NewPersistence("update product", err)
	}

	obs := &model.PriceObservation{
		ProductID:  p.ID,
		Price:      res.NewPrice,
		Currency:   p.Currency,
		ObservedAt: s.now(),
	}
	if err := s.store.AppendObservation(ctx, obs); err != nil {
		metrics.ProductChecks.WithLabelValues("failed").Inc()
		s.tracer.RecordError(span, err)
		return res, appErr.NewPersistence("append observation", err)
	}
	metrics.ProductChecks.WithLabelValues("updated").Inc()

	if oldPrice.Valid && res.NewPrice.LessThan(oldPrice.Decimal) {
		res.Dropped = true
		metrics.PriceDrops.Inc()
		s.logger.Info("Price drop detected",
			slog.Int64("product_id", p.ID),
			slog.String("old_price", oldPrice.Decimal.String()),
			slog.String("new_price", res.NewPrice.String()),
			slog.Int("trackers", len(mp.Trackings)))
		res.Notified, res.NotifyFailed = s.fanOut(ctx, p, oldPrice.Decimal, mp.Trackings)
	}
	return res, nil
}

// fanOut notifies every active tracking of p. A failed delivery is logged
// and does not stop the remaining ones.
func (s *Scheduler) fanOut(ctx context.Context, p model.Product, oldPrice decimal.Decimal, trackings []model.Tracking) (delivered, failed int) {
	msg := notifier.RenderPriceDrop(notifier.PriceDrop{
		Title:     p.Title,
		URL:       p.URL,
		OldPrice:  oldPrice,
		NewPrice:  p.CurrentPrice.Decimal,
		Currency:  p.Currency,
		CheckedAt: s.now(),
		Location:  s.cfg.Location,
	})

	for _, t := range trackings {
		if !t.Active {
			continue
		}
		if err := s.notifier.Notify(ctx, t.SubscriberID, msg); err != nil {
			err = fmt.Errorf("%w: subscriber %s: %w", appErr.ErrNotificationDeliveryFailed, t.SubscriberID, err)
			s.logger.Warn("Price drop notification failed",
				slog.Int64("product_id", p.ID),
				slog.String("subscriber_id", t.SubscriberID),
				slog.Any("error", err))
			metrics.Notifications.WithLabelValues("failed").Inc()
			failed++
			continue
		}
		metrics.Notifications.WithLabelValues("delivered").Inc()
		delivered++
	}
	return delivered, failed
}

// Sweep deletes observations older than the retention horizon.
func (s *Scheduler) Sweep(ctx context.Context) (int64, error) {
	now := s.now()
	report := SweepReport{At: now, Cutoff: now.Add(-s.cfg.RetentionHorizon)}

	deleted, err := s.store.DeleteObservationsBefore(ctx, report.Cutoff)
	if err != nil {
		err = fmt.Errorf("%w: %w", appErr.ErrRetentionSweepFailed, err)
		report.Error = err.Error()
		s.logger.Error("Retention sweep failed", slog.Time("cutoff", report.Cutoff), slog.Any("error", err))
	} else {
		report.Deleted = deleted
		metrics.ObservationsSwept.Add(float64(deleted))
		s.logger.Info("Retention sweep completed",
			slog.Time("cutoff", report.Cutoff),
			slog.Int64("deleted", deleted))
	}

	s.mu.Lock()
	s.lastSweep = &report
	s.mu.Unlock()

	return report.Deleted, err
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Active:    s.active,
		Running:   s.running.Load(),
		Interval:  s.cfg.Interval.String(),
		LastCycle: s.lastCycle,
		LastSweep: s.lastSweep,
	}
	if s.active {
		if next := s.cron.Entry(s.sweepID).Next; !next.IsZero() {
			st.NextSweep = &next
		}
	}
	return st
}
