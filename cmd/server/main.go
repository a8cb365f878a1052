package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pesio-ai/be-asset-requests/internal/client"
	"github.com/pesio-ai/be-asset-requests/internal/config"
	"github.com/pesio-ai/be-asset-requests/internal/database"
	"github.com/pesio-ai/be-asset-requests/internal/handler"
	"github.com/pesio-ai/be-asset-requests/internal/logger"
	"github.com/pesio-ai/be-asset-requests/internal/middleware"
	"github.com/pesio-ai/be-asset-requests/internal/natsclient"
	"github.com/pesio-ai/be-asset-requests/internal/repository"
	"github.com/pesio-ai/be-asset-requests/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Asset Requests Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize repositories
	requestRepo := repository.NewRequestRepository(db)
	stepRepo := repository.NewStepRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// NATS is optional; without it workflow events are simply not published.
	var publisher *client.NotificationPublisher
	if cfg.NATS.Enabled {
		nc, err := natsclient.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer nc.Close()
		publisher = client.NewNotificationPublisher(nc, log.Logger)
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
	} else {
		log.Info().Msg("NATS disabled, workflow events will not be published")
	}

	// Initialize services
	var notif service.Notifier
	if publisher != nil {
		notif = publisher
	}
	requestService := service.NewRequestService(
		db, requestRepo, stepRepo, templateRepo, commentRepo, auditRepo,
		notif, cfg.Scheduler.ReminderThresholdDay, log,
	)
	templateService := service.NewTemplateService(templateRepo, log)
	reminderService := service.NewReminderService(
		stepRepo, requestRepo, notif, cfg.Scheduler.ReminderThresholdDay, log,
	)

	// Reminder scheduler
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Scheduler.ReminderCronSpec, func() {
		if _, err := reminderService.ProcessReminders(ctx); err != nil {
			log.Error().Err(err).Msg("Reminder sweep failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Str("spec", cfg.Scheduler.ReminderCronSpec).Msg("Invalid reminder cron spec")
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Info().Str("spec", cfg.Scheduler.ReminderCronSpec).Msg("Reminder scheduler started")

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(requestService, templateService, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Request workflow routes
	mux.HandleFunc("/api/v1/requests", httpHandler.Requests)
	mux.HandleFunc("/api/v1/requests/get", httpHandler.GetRequest)
	mux.HandleFunc("/api/v1/requests/detail", httpHandler.GetRequestDetail)
	mux.HandleFunc("/api/v1/requests/update", httpHandler.UpdateRequest)
	mux.HandleFunc("/api/v1/requests/delete", httpHandler.DeleteRequest)
	mux.HandleFunc("/api/v1/requests/submit", httpHandler.SubmitRequest)
	mux.HandleFunc("/api/v1/requests/approve", httpHandler.ApproveRequest)
	mux.HandleFunc("/api/v1/requests/reject", httpHandler.RejectRequest)
	mux.HandleFunc("/api/v1/requests/request-info", httpHandler.RequestInfo)
	mux.HandleFunc("/api/v1/requests/provide-info", httpHandler.ProvideInfo)
	mux.HandleFunc("/api/v1/requests/cancel", httpHandler.CancelRequest)
	mux.HandleFunc("/api/v1/requests/start-fulfillment", httpHandler.StartFulfillment)
	mux.HandleFunc("/api/v1/requests/fulfill", httpHandler.FulfillRequest)
	mux.HandleFunc("/api/v1/requests/comments", httpHandler.Comments)
	mux.HandleFunc("/api/v1/requests/audit", httpHandler.AuditTrail)
	mux.HandleFunc("/api/v1/requests/my", httpHandler.MyRequests)
	mux.HandleFunc("/api/v1/requests/approval-queue", httpHandler.ApprovalQueue)
	mux.HandleFunc("/api/v1/requests/fulfillment-queue", httpHandler.FulfillmentQueue)
	mux.HandleFunc("/api/v1/requests/statistics", httpHandler.Statistics)
	mux.HandleFunc("/api/v1/steps/escalate", httpHandler.EscalateStep)

	// Template admin routes
	mux.HandleFunc("/api/v1/templates", httpHandler.Templates)
	mux.HandleFunc("/api/v1/templates/get", httpHandler.GetTemplate)
	mux.HandleFunc("/api/v1/templates/update", httpHandler.UpdateTemplate)
	mux.HandleFunc("/api/v1/templates/delete", httpHandler.DeleteTemplate)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
