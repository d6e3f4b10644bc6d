package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/samims/pricewatch/internal/storage"
)

const readinessTimeout = 2 * time.Second

type HealthService interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

type healthService struct {
	store  storage.HealthCheckStorage
	logger *slog.Logger
}

func NewHealthService(store storage.HealthCheckStorage, logger *slog.Logger) HealthService {
	l := logger.With("layer", "service", "component", "healthService")
	return &healthService{store: store, logger: l}
}

func (s *healthService) Liveness(context.Context) error {
	s.logger.Debug("Liveness check passed")
	return nil
}

func (s *healthService) Readiness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("Readiness check failed", slog.Any("error", err))
		return err
	}
	s.logger.Debug("Readiness check passed")
	return nil
}
