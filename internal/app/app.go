package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/balaji119/local-mail-forwarder-graph/features/dispatch"
	"github.com/balaji119/local-mail-forwarder-graph/features/ingest"
	"github.com/balaji119/local-mail-forwarder-graph/features/queue"
	"github.com/balaji119/local-mail-forwarder-graph/features/quote"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/extractor"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/mailapi"
	"github.com/balaji119/local-mail-forwarder-graph/internal/adapter/pricing"
	"github.com/balaji119/local-mail-forwarder-graph/internal/config"
	"github.com/balaji119/local-mail-forwarder-graph/internal/mappings"
	"github.com/balaji119/local-mail-forwarder-graph/internal/middleware"
)

type App struct {
	Handler    http.Handler
	Dispatcher *dispatch.Dispatcher
	SMTPServer *gosmtp.Server

	cfg *config.Config
}

func New(cfg *config.Config, db *sql.DB, pub queue.EventPublisher, logger *slog.Logger) (*App, error) {
	// Feature: Queue
	queueRepo := queue.NewPostgresRepo(db)
	queueService := queue.NewService(queueRepo, pub, logger)
	queueHandler := queue.NewHandler(queueService)

	// Lookup files
	stockStore, err := mappings.NewStore(cfg.MappingsFilePath)
	if err != nil {
		return nil, fmt.Errorf("stock mappings: %w", err)
	}
	operationsStore, err := mappings.NewListStore(cfg.OperationsFilePath)
	if err != nil {
		return nil, fmt.Errorf("operations list: %w", err)
	}
	mappingsHandler := mappings.NewHandler(stockStore, operationsStore)

	// Adapters
	extractorClient := extractor.NewClient(cfg.ExtractorURL, cfg.AdapterTimeout())

	var mailClient *mailapi.Client
	if cfg.EnablePoller {
		mailClient = mailapi.NewClient(mailapi.Config{
			BaseURL:      cfg.MailAPIBaseURL,
			TokenURL:     cfg.MailAPITokenURL,
			ClientID:     cfg.MailClientID,
			ClientSecret: cfg.MailClientSec,
			User:         cfg.MailboxUser,
			Timeout:      cfg.AdapterTimeout(),
		})
	}

	// Feature: Ingest
	var ingester dispatch.Ingester
	if mailClient != nil {
		ingester = ingest.NewPoller(mailClient, extractorClient, queueRepo, pub,
			cfg.MailboxFolder, cfg.AttachmentDir, logger)
	}

	var smtpServer *gosmtp.Server
	if cfg.EnableSMTP {
		backend := ingest.NewSMTPBackend(extractorClient, queueRepo, pub, cfg.AttachmentDir, logger)
		smtpServer = ingest.NewSMTPServer(backend, cfg.SMTPListenAddr, cfg.SMTPDomain)
	}

	// Feature: Dispatch
	var acker dispatch.MailAcker
	if mailClient != nil {
		acker = mailClient
	}
	pipeline := dispatch.NewPipeline(&http.Client{Timeout: cfg.WebhookTimeout()},
		cfg.DeliveryWebhookURL, acker, logger)
	dispatcher := dispatch.NewDispatcher(queueRepo, pipeline, ingester, pub, dispatch.Options{
		Interval:    cfg.PollInterval(),
		BatchSize:   cfg.ClaimBatchSize,
		BackoffBase: cfg.BackoffBase(),
		BackoffMax:  cfg.BackoffMax(),
		MaxAttempts: cfg.MaxAttempts,
	}, logger)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("GET /jobs", middleware.CorrelationID(enableCORS(queueHandler.List)))
	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(queueHandler.ListFailed)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(queueHandler.Retry)))
	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(queueHandler.GetStats)))

	mux.Handle("GET /mappings/stock", middleware.CorrelationID(enableCORS(mappingsHandler.GetStockMappings)))
	mux.Handle("PUT /mappings/stock", middleware.CorrelationID(enableCORS(mappingsHandler.PutStockMappings)))
	mux.Handle("GET /mappings/operations", middleware.CorrelationID(enableCORS(mappingsHandler.GetOperations)))
	mux.Handle("PUT /mappings/operations", middleware.CorrelationID(enableCORS(mappingsHandler.PutOperations)))

	// Feature: Quote (built-in delivery target)
	if cfg.EnableQuoter {
		if mailClient == nil {
			return nil, fmt.Errorf("ENABLE_QUOTER requires the mail api (ENABLE_POLLER) to send replies")
		}
		pricingClient := pricing.NewClient(cfg.PricingBaseURL, cfg.PricingUser, cfg.PricingPass, cfg.AdapterTimeout())
		quoteService := quote.NewService(pricingClient, mailClient, stockStore, operationsStore,
			cfg.QuoteFromAddress, logger)
		quoteHandler := quote.NewHandler(quoteService)
		mux.Handle("POST /deliver", middleware.CorrelationID(http.HandlerFunc(quoteHandler.Respond)))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:    mux,
		Dispatcher: dispatcher,
		SMTPServer: smtpServer,
		cfg:        cfg,
	}, nil
}

// Run serves the HTTP API until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
