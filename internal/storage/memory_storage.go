package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	appErr "github.com/samims/pricewatch/internal/errors"
	"github.com/samims/pricewatch/internal/model"
)

type trackingKey struct {
	subscriberID string
	productID    int64
}

// MemoryStorage keeps everything in process memory. It mirrors the
// constraints of the Postgres schema and is used for local runs and tests.
type MemoryStorage struct {
	mu sync.RWMutex

	now func() time.Time

	nextProductID     int64
	nextObservationID int64
	nextTrackingID    int64

	products     map[int64]model.Product
	observations map[int64][]model.PriceObservation
	subscribers  map[string]model.Subscriber
	trackings    map[trackingKey]model.Tracking
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		now:          time.Now,
		products:     make(map[int64]model.Product),
		observations: make(map[int64][]model.PriceObservation),
		subscribers:  make(map[string]model.Subscriber),
		trackings:    make(map[trackingKey]model.Tracking),
	}
}

func (m *MemoryStorage) Ping(context.Context) error {
	return nil
}

func (m *MemoryStorage) FindProductByURL(_ context.Context, url string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.productIDs() {
		if p := m.products[id]; p.URL == url {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("product with url %s: %w", url, appErr.ErrNotFound)
}

func (m *MemoryStorage) FindProductByCatalogID(_ context.Context, catalogID string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.productIDs()
	for _, id := range ids {
		if p := m.products[id]; p.CatalogID == catalogID {
			return &p, nil
		}
	}
	for _, id := range ids {
		if p := m.products[id]; strings.Contains(p.URL, "/"+catalogID) {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("product with catalog id %s: %w", catalogID, appErr.ErrNotFound)
}

func (m *MemoryStorage) GetProduct(_ context.Context, id int64) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, appErr.ErrNotFound)
	}
	return &p, nil
}

func (m *MemoryStorage) CreateProduct(_ context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkUnique(p); err != nil {
		return err
	}
	m.nextProductID++
	now := m.now()
	p.ID = m.nextProductID
	p.CreatedAt, p.UpdatedAt = now, now
	m.products[p.ID] = *p
	return nil
}

func (m *MemoryStorage) UpdateProduct(_ context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.products[p.ID]
	if !ok {
		return fmt.Errorf("product %d: %w", p.ID, appErr.ErrNotFound)
	}
	if err := m.checkUnique(p); err != nil {
		return err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = m.now()
	m.products[p.ID] = *p
	return nil
}

func (m *MemoryStorage) ListMonitoredProducts(context.Context) ([]model.MonitoredProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byProduct := make(map[int64][]model.Tracking)
	for _, t := range m.trackings {
		if t.Active {
			byProduct[t.ProductID] = append(byProduct[t.ProductID], t)
		}
	}

	var out []model.MonitoredProduct
	for _, id := range m.productIDs() {
		trackings := byProduct[id]
		sort.Slice(trackings, func(i, j int) bool { return trackings[i].ID < trackings[j].ID })
		out = append(out, model.MonitoredProduct{Product: m.products[id], Trackings: trackings})
	}
	return out, nil
}

func (m *MemoryStorage) AppendObservation(_ context.Context, obs *model.PriceObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[obs.ProductID]; !ok {
		return fmt.Errorf("product %d: %w", obs.ProductID, appErr.ErrNotFound)
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = m.now()
	}
	history := m.observations[obs.ProductID]
	if n := len(history); n > 0 && !obs.ObservedAt.After(history[n-1].ObservedAt) {
		obs.ObservedAt = history[n-1].ObservedAt.Add(time.Microsecond)
	}

	m.nextObservationID++
	obs.ID = m.nextObservationID
	m.observations[obs.ProductID] = append(history, *obs)
	return nil
}

func (m *MemoryStorage) ListObservations(_ context.Context, productID int64, limit int) ([]model.PriceObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.observations[productID]
	out := make([]model.PriceObservation, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, history[i])
	}
	return out, nil
}

func (m *MemoryStorage) DeleteObservationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for productID, history := range m.observations {
		kept := history[:0]
		for _, o := range history {
			if o.ObservedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, o)
		}
		m.observations[productID] = kept
	}
	return deleted, nil
}

func (m *MemoryStorage) UpsertSubscriber(_ context.Context, s *model.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.subscribers[s.ID]; ok {
		if s.DisplayName == "" {
			s.DisplayName = existing.DisplayName
		}
		s.CreatedAt = existing.CreatedAt
	} else {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.subscribers[s.ID] = *s
	return nil
}

func (m *MemoryStorage) GetSubscriber(_ context.Context, id string) (*model.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subscribers[id]
	if !ok {
		return nil, fmt.Errorf("subscriber %s: %w", id, appErr.ErrNotFound)
	}
	return &s, nil
}

func (m *MemoryStorage) FindActiveTracking(_ context.Context, subscriberID string, productID int64) (*model.Tracking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.trackings[trackingKey{subscriberID, productID}]
	if !ok || !t.Active {
		return nil, fmt.Errorf("tracking %s/%d: %w", subscriberID, productID, appErr.ErrNotFound)
	}
	return &t, nil
}

func (m *MemoryStorage) ActivateTracking(_ context.Context, subscriberID string, productID int64) (*model.Tracking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.subscribers[subscriberID]; !ok {
		return nil, fmt.Errorf("subscriber %s: %w", subscriberID, appErr.ErrNotFound)
	}
	if _, ok := m.products[productID]; !ok {
		return nil, fmt.Errorf("product %d: %w", productID, appErr.ErrNotFound)
	}

	key := trackingKey{subscriberID, productID}
	now := m.now()
	t, ok := m.trackings[key]
	switch {
	case ok && t.Active:
		return nil, fmt.Errorf("tracking %s/%d already active: %w", subscriberID, productID, appErr.ErrConflict)
	case ok:
		t.Active = true
		t.UpdatedAt = now
	default:
		m.nextTrackingID++
		t = model.Tracking{
			ID:           m.nextTrackingID,
			SubscriberID: subscriberID,
			ProductID:    productID,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}
	m.trackings[key] = t
	return &t, nil
}

func (m *MemoryStorage) DeactivateTracking(_ context.Context, subscriberID string, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := trackingKey{subscriberID, productID}
	t, ok := m.trackings[key]
	if !ok || !t.Active {
		return fmt.Errorf("tracking %s/%d: %w", subscriberID, productID, appErr.ErrNotFound)
	}
	t.Active = false
	t.UpdatedAt = m.now()
	m.trackings[key] = t
	return nil
}

func (m *MemoryStorage) CountActiveTrackings(_ context.Context, productID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.trackings {
		if t.ProductID == productID && t.Active {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStorage) ListTrackedProducts(_ context.Context, subscriberID string) ([]model.TrackedProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.TrackedProduct
	for _, t := range m.trackings {
		if t.SubscriberID != subscriberID || !t.Active {
			continue
		}
		p := m.products[t.ProductID]
		out = append(out, model.TrackedProduct{
			ProductID:    p.ID,
			Title:        p.Title,
			URL:          p.URL,
			CurrentPrice: p.CurrentPrice,
			Currency:     p.Currency,
			Availability: p.Availability,
			TrackedSince: t.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TrackedSince.Equal(out[j].TrackedSince) {
			return out[i].ProductID > out[j].ProductID
		}
		return out[i].TrackedSince.After(out[j].TrackedSince)
	})
	return out, nil
}

func (m *MemoryStorage) Stats(context.Context) (model.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := model.Stats{
		TotalProducts: len(m.products),
		Subscribers:   len(m.subscribers),
	}
	for _, t := range m.trackings {
		if t.Active {
			s.ActiveTrackings++
		}
	}
	for _, history := range m.observations {
		if n := len(history); n > 0 {
			last := history[n-1].ObservedAt
			if s.LastObservation == nil || last.After(*s.LastObservation) {
				s.LastObservation = &last
			}
		}
	}
	return s, nil
}

// checkUnique enforces the url and catalog id unique constraints.
func (m *MemoryStorage) checkUnique(p *model.Product) error {
	for id, other := range m.products {
		if id == p.ID {
			continue
		}
		if other.URL == p.URL {
			return fmt.Errorf("product url %s: %w", p.URL, appErr.ErrConflict)
		}
		if p.CatalogID != "" && other.CatalogID == p.CatalogID {
			return fmt.Errorf("product catalog id %s: %w", p.CatalogID, appErr.ErrConflict)
		}
	}
	return nil
}

func (m *MemoryStorage) productIDs() []int64 {
	ids := make([]int64, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
