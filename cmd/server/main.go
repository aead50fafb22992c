package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/xtrntr/auction/internal/api"
	"github.com/xtrntr/auction/internal/auction"
	"github.com/xtrntr/auction/internal/auth"
	"github.com/xtrntr/auction/internal/clock"
	"github.com/xtrntr/auction/internal/config"
	"github.com/xtrntr/auction/internal/db"
	"github.com/xtrntr/auction/internal/events"
	"github.com/xtrntr/auction/internal/logging"
	"github.com/xtrntr/auction/internal/realtime"
	"github.com/xtrntr/auction/internal/store"
)

// Main entry point: sets up storage, the engine, the sweeper and the HTTP server
func main() {
	envFile := flag.String("env", ".env", "optional env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	// Storage: Postgres when configured, otherwise in memory
	var st store.Store
	if cfg.DatabaseURL != "" {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		st = database
		log.Info("using postgres store")
	} else {
		st = store.NewMemory()
		log.Warn("AUCTION_DATABASE_URL not set, using in-memory store")
	}

	// Events: websocket broker, plus Redis when configured
	broker := events.NewBroker(64)
	publishers := events.Multi{broker}
	if cfg.RedisURL != "" {
		rp, err := events.NewRedisPublisher(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rp.Close()
		if err := rp.Ping(ctx); err != nil {
			return err
		}
		publishers = append(publishers, rp)
		log.Info("publishing events to redis")
	}
	publisher := events.NewAsync(publishers, 4096, log)
	defer publisher.Close()

	svc := auction.NewService(st, clock.System{}, publisher, log, cfg.Engine())

	sweeper := auction.NewSweeper(svc, cfg.Sweeper())
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	tokens, err := auth.NewTokenService(cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		return err
	}
	hub := realtime.NewHub(broker, log)
	defer hub.Close()

	handler := api.NewHandler(svc, tokens, api.NewBidLimiter(cfg.BidRate, cfg.BidBurst), log)
	r := api.NewRouter(handler, hub)

	// Enable CORS
	root := cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	})(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}
	return nil
}
