package main // Entry point of the booking coordinator

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/cinema-booking-coordinator/internal/allocation"
	"github.com/iliyamo/cinema-booking-coordinator/internal/config"
	"github.com/iliyamo/cinema-booking-coordinator/internal/database"
	"github.com/iliyamo/cinema-booking-coordinator/internal/gateway"
	"github.com/iliyamo/cinema-booking-coordinator/internal/handler"
	"github.com/iliyamo/cinema-booking-coordinator/internal/hold"
	"github.com/iliyamo/cinema-booking-coordinator/internal/logger"
	"github.com/iliyamo/cinema-booking-coordinator/internal/middleware"
	"github.com/iliyamo/cinema-booking-coordinator/internal/queue"
	"github.com/iliyamo/cinema-booking-coordinator/internal/repository"
	"github.com/iliyamo/cinema-booking-coordinator/internal/reservation"
	"github.com/iliyamo/cinema-booking-coordinator/internal/router"
	"github.com/iliyamo/cinema-booking-coordinator/internal/session"
)

func main() {
	envLoaded := godotenv.Load() == nil // .env is optional; the real environment wins

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logg := logger.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logg)
	logg.Info("configuration loaded", slog.String("env", cfg.Env), slog.Bool("dotenv", envLoaded))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := gateway.New(gateway.Options{
		BaseURL: cfg.BackendURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout,
	})

	catalogCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	catalog, err := backend.ListTicketTypes(catalogCtx)
	cancel()
	if err != nil {
		logg.Error("loading ticket types failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logg.Info("ticket types loaded", slog.Int("count", len(catalog.Types)))

	// Receipt store and booking events are both optional.
	var store *repository.ReceiptRepo
	if cfg.ReceiptsEnabled() {
		db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			logg.Error("receipt database unavailable", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()
		store = repository.NewReceiptRepo(db)
		if err := store.Migrate(ctx); err != nil {
			logg.Error("receipt schema migration failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	var publisher reservation.Publisher
	switch {
	case cfg.EventsEnabled():
		p := queue.NewPublisher(cfg.AMQPURL, logg)
		defer p.Close()
		publisher = p
		if store != nil {
			consumer := queue.NewConsumer(cfg.AMQPURL, store, logg)
			go func() { _ = consumer.Run(ctx) }()
		}
	case store != nil:
		publisher = queue.InlinePublisher{Store: store}
	}

	submitter := reservation.New(backend, catalog, reservation.Options{Publisher: publisher, Logger: logg})
	build := session.NewBuilder(backend, submitter, catalog, allocation.New(cfg.MaxTickets), hold.Options{
		TTL:             cfg.HoldTTL,
		ReleaseAttempts: cfg.ReleaseAttempts,
		ReleaseBackoff:  cfg.ReleaseBackoff,
		Logger:          logg,
	})
	registry := session.NewRegistry(build, session.Options{
		IdleTTL:       cfg.SessionIdleTTL,
		SweepInterval: cfg.SessionSweepInterval,
		Logger:        logg,
	})
	go registry.Run(ctx)

	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if err != nil {
		logg.Warn("redis unavailable; cache and rate limit disabled", slog.String("error", err.Error()))
	} else {
		defer rdb.Close()
	}
	rateCfg := config.LoadRateLimitConfig()
	cacheCfg := config.LoadCacheConfig()

	var receipts handler.ReceiptReader
	if store != nil {
		receipts = store
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewRequestValidator()
	e.Use(echomw.RequestID(), echomw.Recover(), logger.RequestLogger(logg))
	router.RegisterRoutes(e, registry.Len)
	router.RegisterCustomer(e, router.CustomerDeps{
		JWTSecret: cfg.JWTSecret,
		Sessions:  handler.NewSessionHandler(registry, logg),
		Catalog:   handler.NewCatalogHandler(backend, catalog, logg),
		Receipts:  handler.NewReceiptHandler(receipts, logg),
		RateLimit: middleware.NewTokenBucket(rateCfg, rdb, logg),
		Cache:     middleware.NewRedisCache(cacheCfg, rdb, logg),
	})

	addr := ":" + cfg.Port
	go func() {
		logg.Info("listening",
			slog.String("addr", addr),
			slog.Bool("receipts", store != nil),
			slog.Bool("events", cfg.EventsEnabled()),
			slog.Bool("redis", rdb != nil),
			slog.Duration("hold_ttl", cfg.HoldTTL))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	logg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logg.Error("forced shutdown", slog.String("error", err.Error()))
	}
	// Release every outstanding hold before the process exits.
	registry.Shutdown(shutdownCtx)
	logg.Info("server exited")
}
