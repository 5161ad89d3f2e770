package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certitrack/config"
	"certitrack/internal/enrich"
	"certitrack/internal/handlers"
	"certitrack/internal/logger"
	"certitrack/internal/metrics"
	"certitrack/internal/notify"
	"certitrack/internal/scheduler"
	"certitrack/internal/store"
	"certitrack/internal/version"
	"certitrack/middleware"
)

const metricsCacheTTL = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init(logger.Options{Level: "info"})
		logger.Get().Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.Init(logger.Options{
		Level:    cfg.LogLevel,
		Format:   cfg.LogFormat,
		FilePath: cfg.LogFilePath,
	})

	log.Info().
		Str("version", version.Version).
		Str("env", string(cfg.Env)).
		Msg("CertiTrack starting")

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}
	log.Info().
		Str("driver", cfg.Database.Driver).
		Msg("database ready")

	var checker *notify.Checker
	if cfg.Notifications.Enabled {
		mailer := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Notifications.SMTP.Host,
			Port:     cfg.Notifications.SMTP.Port,
			Username: cfg.Notifications.SMTP.Username,
			Password: cfg.Notifications.SMTP.Password,
			From:     cfg.Notifications.SMTP.From,
			UseTLS:   cfg.Notifications.SMTP.UseTLS,
			Insecure: cfg.Notifications.SMTP.Insecure,
		})
		checker = notify.NewChecker(db, mailer, cfg.Notifications.DefaultRecipients, log)
	} else {
		log.Warn().Msg("notifications disabled by configuration")
	}

	enricher := enrich.New(db, cfg.Scan, cfg.Scan.EnrichBatchSize, log)

	sched := scheduler.New(log)
	if checker != nil {
		if err := sched.AddExpirationCheck(cfg.Notifications.CheckSchedule, checker); err != nil {
			log.Fatal().Err(err).Msg("invalid expiration check schedule")
		}
		if err := sched.AddDailySummary(cfg.Notifications.SummarySchedule, checker); err != nil {
			log.Fatal().Err(err).Msg("invalid daily summary schedule")
		}
	}
	if err := sched.AddStatusRecompute(cfg.Notifications.RecomputeSchedule, db); err != nil {
		log.Fatal().Err(err).Msg("invalid status recompute schedule")
	}
	if err := sched.AddEnrichmentScan(cfg.Scan.EnrichSchedule, enricher); err != nil {
		log.Fatal().Err(err).Msg("invalid enrichment scan schedule")
	}
	sched.Start()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(metrics.NewInventoryCollector(db, metricsCacheTTL))

	r := chi.NewRouter()

	// Middleware must be registered before any routes.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(20 << 20))

	handlers.RegisterHealthRoutes(r, db)
	handlers.RegisterScanRoutes(r, db, cfg.Scan, enricher)
	handlers.RegisterImportRoutes(r, db, cfg.Import)
	handlers.RegisterCertificateRoutes(r, db)
	handlers.RegisterNotificationRoutes(r, db, checker)
	r.Get("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	sched.Stop()
	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("closing database")
	}

	log.Info().Msg("server stopped")
}
