package storage

import (
	"context"
	"time"

	"github.com/samims/pricewatch/internal/model"
)

type HealthCheckStorage interface {
	Ping(ctx context.Context) error
}

type ProductStorage interface {
	// FindProductByURL matches the stored canonical URL exactly.
	FindProductByURL(ctx context.Context, url string) (*model.Product, error)
	// FindProductByCatalogID matches the catalog id column, or any stored
	// URL that carries "/<catalogID>".
	FindProductByCatalogID(ctx context.Context, catalogID string) (*model.Product, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	CreateProduct(ctx context.Context, p *model.Product) error
	UpdateProduct(ctx context.Context, p *model.Product) error
	// ListMonitoredProducts returns every product together with its active
	// trackings, which may be none.
	ListMonitoredProducts(ctx context.Context) ([]model.MonitoredProduct, error)
}

type ObservationStorage interface {
	// AppendObservation stores obs. ObservedAt is moved forward when needed
	// so timestamps stay strictly increasing per product.
	AppendObservation(ctx context.Context, obs *model.PriceObservation) error
	ListObservations(ctx context.Context, productID int64, limit int) ([]model.PriceObservation, error)
	// DeleteObservationsBefore removes observations with ObservedAt < cutoff.
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type SubscriberStorage interface {
	UpsertSubscriber(ctx context.Context, s *model.Subscriber) error
	GetSubscriber(ctx context.Context, id string) (*model.Subscriber, error)
}

type TrackingStorage interface {
	FindActiveTracking(ctx context.Context, subscriberID string, productID int64) (*model.Tracking, error)
	// ActivateTracking inserts the pair or reactivates an inactive row. It
	// returns ErrConflict when the pair is already active.
	ActivateTracking(ctx context.Context, subscriberID string, productID int64) (*model.Tracking, error)
	DeactivateTracking(ctx context.Context, subscriberID string, productID int64) error
	CountActiveTrackings(ctx context.Context, productID int64) (int, error)
	ListTrackedProducts(ctx context.Context, subscriberID string) ([]model.TrackedProduct, error)
}

type Storage interface {
	HealthCheckStorage
	ProductStorage
	ObservationStorage
	SubscriberStorage
	TrackingStorage
	Stats(ctx context.Context) (model.Stats, error)
}
