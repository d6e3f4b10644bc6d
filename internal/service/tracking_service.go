package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	appErr "github.com/samims/pricewatch/internal/errors"
	"github.com/samims/pricewatch/internal/extractor"
	"github.com/samims/pricewatch/internal/identity"
	"github.com/samims/pricewatch/internal/model"
	"github.com/samims/pricewatch/internal/storage"
	"github.com/samims/pricewatch/pkg/tracing"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// LinkNormalizer turns raw links into canonical product identities.
type LinkNormalizer interface {
	Validate(rawURL string) error
	Normalize(ctx context.Context, rawURL string) (identity.Identity, error)
}

// AddResult is the outcome of a successful AddTracking call.
type AddResult struct {
	Created      bool          `json:"created"`
	Product      model.Product `json:"product"`
	Unified      bool          `json:"unified"`
	TrackerCount int           `json:"tracker_count"`
}

type TrackingService interface {
	RegisterSubscriber(ctx context.Context, id, displayName string) (*model.Subscriber, error)
	AddTracking(ctx context.Context, subscriberID, rawURL string) (*AddResult, error)
	RemoveTracking(ctx context.Context, subscriberID string, productID int64) error
	ListTrackings(ctx context.Context, subscriberID string) ([]model.TrackedProduct, error)
	PriceHistory(ctx context.Context, productID int64, limit int) ([]model.PriceObservation, error)
	Stats(ctx context.Context) (model.Stats, error)
}

type trackingService struct {
	store      storage.Storage
	normalizer LinkNormalizer
	extractor  extractor.Extractor
	logger     *slog.Logger
	tracer     *tracing.Tracer
}

func NewTrackingService(store storage.Storage, normalizer LinkNormalizer, ext extractor.Extractor, logger *slog.Logger) TrackingService {
	l := logger.With("layer", "service", "component", "trackingService")
	return &trackingService{
		store:      store,
		normalizer: normalizer,
		extractor:  ext,
		logger:     l,
		tracer:     tracing.NewTracer("tracking-service"),
	}
}

func (s *trackingService) RegisterSubscriber(ctx context.Context, id, displayName string) (*model.Subscriber, error) {
	ctx, span := s.tracer.StartSpan(ctx, "RegisterSubscriber", attribute.String(tracing.AttrSubscriberID, id))
	defer span.End()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("subscriber id is required: %w", appErr.ErrInvalidInput)
	}

	sub := &model.Subscriber{ID: id, DisplayName: strings.TrimSpace(displayName)}
	if err := s.store.UpsertSubscriber(ctx, sub); err != nil {
		s.tracer.RecordError(span, err)
		s.logger.Error("failed to upsert subscriber", slog.String("subscriber_id", id), slog.Any("error", err))
		return nil, appErr.NewPersistence("upsert subscriber", err)
	}

	s.logger.Info("Subscriber registered", slog.String("subscriber_id", id))
	return sub, nil
}

// AddTracking links subscriberID to the product behind rawURL, creating or
// refreshing the product on the way.
func (s *trackingService) AddTracking(ctx context.Context, subscriberID, rawURL string) (*AddResult, error) {
	ctx, span := s.tracer.StartSpan(ctx, "AddTracking", attribute.String(tracing.AttrSubscriberID, subscriberID))
	defer span.End()

	s.logger.Info("AddTracking called", slog.String("subscriber_id", subscriberID), slog.String("url", rawURL))

	if err := s.normalizer.Validate(rawURL); err != nil {
		s.logger.Warn("Rejected link", slog.String("url", rawURL), slog.Any("error", err))
		return nil, err
	}

	if _, err := s.store.GetSubscriber(ctx, subscriberID); err != nil {
		if appErr.IsNotFound(err) {
			return nil, fmt.Errorf("subscriber %s: %w", subscriberID, appErr.ErrSubscriberNotFound)
		}
		s.tracer.RecordError(span, err)
		return nil, appErr.NewPersistence("get subscriber", err)
	}

	id, err := s.normalizer.Normalize(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(tracing.AttrCatalogID, id.CatalogID))

	snap, err := s.extractor.Extract(ctx, id.URL)
	if err != nil || !snap.Usable() {
		s.logger.Warn("Extraction failed",
			slog.String("url", id.URL),
			slog.Any("error", err))
		if err == nil {
			err = errors.New("no title and no price")
		}
		return nil, fmt.Errorf("%s: %w: %w", id.URL, appErr.ErrExtractionFailed, err)
	}

	product, created, unified, err := s.upsertProduct(ctx, rawURL, id, snap)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64(tracing.AttrProductID, product.ID))

	if _, err := s.store.FindActiveTracking(ctx, subscriberID, product.ID); err == nil {
		return nil, &appErr.AlreadyTrackingError{ProductID: product.ID, Unified: unified}
	} else if !appErr.IsNotFound(err) {
		s.tracer.RecordError(span, err)
		return nil, appErr.NewPersistence("find tracking", err)
	}

	if _, err := s.store.ActivateTracking(ctx, subscriberID, product.ID); err != nil {
		if appErr.IsConflict(err) {
			return nil, &appErr.AlreadyTrackingError{ProductID: product.ID, Unified: unified}
		}
		s.tracer.RecordError(span, err)
		return nil, appErr.NewPersistence("activate tracking", err)
	}

	count, err := s.store.CountActiveTrackings(ctx, product.ID)
	if err != nil {
		// The tracking exists; a missing count only weakens the reply.
		s.logger.Warn("failed to count trackers", slog.Int64("product_id", product.ID), slog.Any("error", err))
	}

	s.logger.Info("Tracking added",
		slog.String("subscriber_id", subscriberID),
		slog.Int64("product_id", product.ID),
		slog.Bool("product_created", created),
		slog.Bool("unified", unified),
		slog.Int("trackers", count))

	return &AddResult{Created: true, Product: *product, Unified: unified, TrackerCount: count}, nil
}

// upsertProduct resolves the product for id, creating it or refreshing its
// fields from snap. It performs at most one product write and one
// observation insert.
func (s *trackingService) upsertProduct(ctx context.Context, rawURL string, id identity.Identity, snap *extractor.Snapshot) (*model.Product, bool, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, byCatalog, err := s.lookupProduct(ctx, id)
		if err != nil {
			return nil, false, false, appErr.NewPersistence("lookup product", err)
		}

		if existing == nil {
			p := &model.Product{
				CatalogID: id.CatalogID,
				URL:       id.URL,
				Title:     snap.Title,
			}
			applySnapshot(p, snap)
			if p.Title == "" {
				p.Title = placeholderTitle(id)
			}

			err := s.store.CreateProduct(ctx, p)
			if appErr.IsConflict(err) {
				// Lost a race with a concurrent add of the same product.
				continue
			}
			if err != nil {
				return nil, false, false, appErr.NewPersistence("create product", err)
			}
			if err := s.recordObservation(ctx, p); err != nil {
				return nil, false, false, err
			}
			return p, true, false, nil
		}

		unified := id.CatalogID != "" && (byCatalog || strings.TrimSpace(rawURL) != id.URL)

		oldPrice := existing.CurrentPrice
		if existing.URL != id.URL {
			s.logger.Info("Repointing product URL",
				slog.Int64("product_id", existing.ID),
				slog.String("from", existing.URL),
				slog.String("to", id.URL))
			existing.URL = id.URL
		}
		if existing.CatalogID == "" {
			existing.CatalogID = id.CatalogID
		}
		if snap.Title != "" {
			existing.Title = snap.Title
		}
		applySnapshot(existing, snap)

		if err := s.store.UpdateProduct(ctx, existing); err != nil {
			return nil, false, false, appErr.NewPersistence("update product", err)
		}
		if priceChanged(oldPrice, existing.CurrentPrice) {
			if err := s.recordObservation(ctx, existing); err != nil {
				return nil, false, false, err
			}
		}
		return existing, false, unified, nil
	}
	return nil, false, false, appErr.NewPersistence("create product", appErr.ErrConflict)
}

// lookupProduct tries the canonical URL, then the catalog id.
func (s *trackingService) lookupProduct(ctx context.Context, id identity.Identity) (*model.Product, bool, error) {
	p, err := s.store.FindProductByURL(ctx, id.URL)
	if err == nil {
		return p, false, nil
	}
	if !appErr.IsNotFound(err) {
		return nil, false, err
	}
	if id.CatalogID == "" {
		return nil, false, nil
	}

	p, err = s.store.FindProductByCatalogID(ctx, id.CatalogID)
	if err == nil {
		return p, true, nil
	}
	if appErr.IsNotFound(err) {
		return nil, false, nil
	}
	return nil, false, err
}

func (s *trackingService) recordObservation(ctx context.Context, p *model.Product) error {
	if !p.CurrentPrice.Valid {
		return nil
	}
	obs := &model.PriceObservation{
		ProductID: p.ID,
		Price:     p.CurrentPrice.Decimal,
		Currency:  p.Currency,
	}
	if err := s.store.AppendObservation(ctx, obs); err != nil {
		return appErr.NewPersistence("append observation", err)
	}
	return nil
}

func (s *trackingService) RemoveTracking(ctx context.Context, subscriberID string, productID int64) error {
	ctx, span := s.tracer.StartSpan(ctx, "RemoveTracking",
		attribute.String(tracing.AttrSubscriberID, subscriberID),
		attribute.Int64(tracing.AttrProductID, productID))
	defer span.End()

	if err := s.store.DeactivateTracking(ctx, subscriberID, productID); err != nil {
		if appErr.IsNotFound(err) {
			s.logger.Warn("Tracking not found for removal",
				slog.String("subscriber_id", subscriberID),
				slog.Int64("product_id", productID))
			return appErr.NewNotFound("tracking of product %d by %s", productID, subscriberID)
		}
		s.tracer.RecordError(span, err)
		s.logger.Error("failed to remove tracking", slog.Any("error", err))
		return appErr.NewPersistence("deactivate tracking", err)
	}

	s.logger.Info("Tracking removed",
		slog.String("subscriber_id", subscriberID),
		slog.Int64("product_id", productID))
	return nil
}

func (s *trackingService) ListTrackings(ctx context.Context, subscriberID string) ([]model.TrackedProduct, error) {
	ctx, span := s.tracer.StartSpan(ctx, "ListTrackings", attribute.String(tracing.AttrSubscriberID, subscriberID))
	defer span.End()

	list, err := s.store.ListTrackedProducts(ctx, subscriberID)
	if err != nil {
		s.tracer.RecordError(span, err)
		s.logger.Error("failed to list trackings", slog.String("subscriber_id", subscriberID), slog.Any("error", err))
		return nil, appErr.NewPersistence("list trackings", err)
	}
	span.SetAttributes(attribute.Int("tracking.count", len(list)))
	return list, nil
}

func (s *trackingService) PriceHistory(ctx context.Context, productID int64, limit int) ([]model.PriceObservation, error) {
	ctx, span := s.tracer.StartSpan(ctx, "PriceHistory", attribute.Int64(tracing.AttrProductID, productID))
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		if appErr.IsNotFound(err) {
			return nil, appErr.NewNotFound("product %d", productID)
		}
		s.tracer.RecordError(span, err)
		return nil, appErr.NewPersistence("get product", err)
	}

	history, err := s.store.ListObservations(ctx, productID, limit)
	if err != nil {
		s.tracer.RecordError(span, err)
		return nil, appErr.NewPersistence("list observations", err)
	}
	return history, nil
}

func (s *trackingService) Stats(ctx context.Context) (model.Stats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Error("failed to load stats", slog.Any("error", err))
		return model.Stats{}, appErr.NewPersistence("stats", err)
	}
	return stats, nil
}

// applySnapshot copies the mutable price fields of snap into p. A snapshot
// without a price leaves the stored price alone.
func applySnapshot(p *model.Product, snap *extractor.Snapshot) {
	if snap.CurrentPrice.Valid {
		p.CurrentPrice = snap.CurrentPrice
		p.ReferencePrice = snap.ReferencePrice
	}
	if snap.Currency != "" {
		p.Currency = snap.Currency
	}
	if snap.Availability != "" {
		p.Availability = snap.Availability
	}
}

// priceChanged reports a strict change from old to a known fresh price.
func priceChanged(old, fresh decimal.NullDecimal) bool {
	if !fresh.Valid {
		return false
	}
	return !old.Valid || !fresh.Decimal.Equal(old.Decimal)
}

func placeholderTitle(id identity.Identity) string {
	if id.CatalogID != "" {
		return "Prodotto " + id.CatalogID
	}
	return "Prodotto Amazon"
}
