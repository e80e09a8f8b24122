package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ledgerlink/internal/domain/ledgersync"
	"ledgerlink/internal/infrastructure/ledger"
	"ledgerlink/internal/infrastructure/postgres"
	apihttp "ledgerlink/internal/interfaces/http"
	"ledgerlink/internal/interfaces/scheduler"
	"ledgerlink/internal/shared/auth"
	"ledgerlink/internal/shared/config"
	"ledgerlink/internal/shared/middleware"
	"ledgerlink/internal/shared/telemetry"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("Application error")
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	var telemetryShutdown func(context.Context) error
	if cfg.Telemetry.Enabled {
		telemetryShutdown, err = telemetry.Init(context.Background(), telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Environment:  cfg.Telemetry.Environment,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			MetricsPort:  cfg.Telemetry.MetricsPort,
		}, logger)
		if err != nil {
			return err
		}
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("Connected to database")

	connRepo := postgres.NewConnectionRepository(db)
	txRepo := postgres.NewTransactionRepository(db)

	ledgerClient := ledger.NewClient(cfg.Ledger.BaseURL)
	reconciler := ledgersync.NewReconciler(txRepo, logger)
	syncService := ledgersync.NewService(ledgerClient, connRepo, reconciler, cfg.Ledger.PageSize, logger)

	jwt := auth.NewJWT(cfg.JWT.Secret)
	syncHandler := apihttp.NewSyncHandler(syncService, logger)
	connHandler := apihttp.NewConnectionHandler(connRepo, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.NewScheduler(scheduler.Config{
			CronSpecs:    cfg.Scheduler.CronSpecs,
			WorkerCount:  cfg.Scheduler.WorkerCount,
			JobDelay:     cfg.Scheduler.JobDelay,
			QueueSize:    cfg.Scheduler.QueueSize,
			RunOnStartup: cfg.Scheduler.RunOnStartup,
			JobProvider:  scheduler.BatchProvider(connRepo, syncService),
		}, logger)
		if err != nil {
			return err
		}
		sched.Start()
	} else {
		logger.Info("Scheduler is disabled")
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(jwt))
	api.HandleFunc("/sync", syncHandler.HandleSync).Methods(http.MethodPost)
	api.HandleFunc("/sync/{connectionId}", syncHandler.HandleSync).Methods(http.MethodPost)
	api.HandleFunc("/connections", connHandler.HandleListConnections).Methods(http.MethodGet)

	handler := middleware.SecurityHeaders(middleware.Logging(logger)(r))
	if cfg.Telemetry.Enabled {
		handler = otelhttp.NewHandler(handler, "http.server")
	}

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // sync requests can span many pages
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Error shutting down HTTP server")
	}

	if sched != nil {
		sched.Shutdown(30 * time.Second)
	}

	if telemetryShutdown != nil {
		if err := telemetryShutdown(ctx); err != nil {
			logger.WithError(err).Error("Error shutting down telemetry")
		}
	}

	logger.Info("Server stopped")
	return nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
