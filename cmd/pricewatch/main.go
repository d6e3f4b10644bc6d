package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/samims/pricewatch/internal/config"
	"github.com/samims/pricewatch/internal/extractor"
	"github.com/samims/pricewatch/internal/handler"
	"github.com/samims/pricewatch/internal/identity"
	"github.com/samims/pricewatch/internal/logger"
	"github.com/samims/pricewatch/internal/metrics"
	"github.com/samims/pricewatch/internal/monitor"
	"github.com/samims/pricewatch/internal/notifier"
	"github.com/samims/pricewatch/internal/router"
	"github.com/samims/pricewatch/internal/service"
	"github.com/samims/pricewatch/internal/storage"
	"github.com/samims/pricewatch/pkg/tracing"
)

const httpShutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file loaded", slog.Any("error", err))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	l := logger.NewLogger(cfg.App.LogLevel)
	slog.SetDefault(l)

	if err := run(cfg, l); err != nil {
		l.Error("pricewatch exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, l *slog.Logger) error {
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:       cfg.Tracing.ServiceName,
		ServiceVersion:    cfg.Tracing.ServiceVersion,
		CollectorEndpoint: cfg.Tracing.OTLPEndpoint,
		SamplingRatio:     1.0,
	}, l)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer tracerShutdown()

	store, pool, err := openStore(ctx, cfg.DB, l)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	normalizer := identity.NewNormalizer(identity.Config{
		Domains:          cfg.Identity.SourceDomains,
		ShortLinkDomains: cfg.Identity.ShortLinkDomains,
		ReferenceDomain:  cfg.Identity.ReferenceDomain,
		ResolveTimeout:   cfg.Identity.ResolveTimeout,
	}, l)

	n, err := newNotifier(cfg.Notifier, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			l.Warn("Failed to close notifier", slog.Any("error", err))
		}
	}()

	ext := extractor.NewCollyExtractor(extractor.Config{
		RequestTimeout:  cfg.Extractor.RequestTimeout,
		UserAgent:       cfg.Extractor.UserAgent,
		AcceptLanguage:  cfg.Extractor.AcceptLanguage,
		DefaultCurrency: cfg.Extractor.DefaultCurrency,
	}, l)
	defer func() {
		if err := ext.Close(); err != nil {
			l.Warn("Failed to close extractor", slog.Any("error", err))
		}
	}()

	loc, err := time.LoadLocation(cfg.Monitor.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	sweepHour, sweepMinute, err := config.ParseTimeOfDay(cfg.Monitor.SweepAt)
	if err != nil {
		return err
	}

	trackingSvc := service.NewTrackingService(store, normalizer, ext, l)
	healthSvc := service.NewHealthService(store, l)

	scheduler := monitor.NewScheduler(monitor.Config{
		Interval:         cfg.Monitor.PollInterval,
		ItemDelay:        cfg.Monitor.ItemDelay,
		RetentionHorizon: cfg.Monitor.RetentionHorizon,
		SweepHour:        sweepHour,
		SweepMinute:      sweepMinute,
		Location:         loc,
	}, store, ext, n, l)
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	r := router.NewRouter(
		handler.NewTrackingHandler(trackingSvc, l),
		handler.NewMonitorHandler(scheduler, trackingSvc, l),
		handler.NewHealthHandler(healthSvc, l),
	)
	server := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		l.Info("Server started", slog.String("addr", cfg.App.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		l.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			l.Error("HTTP server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("HTTP server shutdown failed", slog.Any("error", err))
	}

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), cfg.Monitor.ShutdownGrace)
	defer cancelGrace()
	if err := scheduler.Stop(graceCtx); err != nil {
		l.Warn("Scheduler did not stop within grace period", slog.Any("error", err))
	}

	l.Info("pricewatch stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DBConfig, l *slog.Logger) (storage.Storage, *pgxpool.Pool, error) {
	if cfg.Driver == config.StoreDriverMemory {
		l.Warn("Using in-memory store, data is lost on exit")
		return storage.NewMemoryStorage(), nil, nil
	}

	pool, err := storage.NewPostgresPool(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.Migrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		l.Info("Database schema applied")
	}
	return storage.NewPostgresStorage(pool), pool, nil
}

func newNotifier(cfg config.NotifierConfig, l *slog.Logger) (notifier.Notifier, error) {
	switch cfg.Driver {
	case config.NotifierDriverTelegram:
		tn, err := notifier.NewTelegramNotifier(notifier.TelegramConfig{
			Token:    cfg.TelegramToken,
			APIURL:   cfg.TelegramAPIURL,
			Interval: cfg.SendInterval,
		}, l)
		if err != nil {
			return nil, err
		}
		return tn, nil
	case config.NotifierDriverKafka:
		producer, err := sarama.NewAsyncProducer(cfg.KafkaBrokers, notifier.NewSaramaConfig("pricewatch-notifier"))
		if err != nil {
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		kn, err := notifier.NewKafkaNotifier(producer, cfg.KafkaTopic, l)
		if err != nil {
			producer.Close()
			return nil, err
		}
		return kn, nil
	default:
		return notifier.NewLogNotifier(l), nil
	}
}
