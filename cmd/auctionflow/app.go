package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sorcerlabs/auctionflow/internal/db"
	"github.com/sorcerlabs/auctionflow/internal/handlers"
	"github.com/sorcerlabs/auctionflow/internal/handlers/middleware"
	"github.com/sorcerlabs/auctionflow/internal/logger"
	"github.com/sorcerlabs/auctionflow/internal/repository/postgres"
	"github.com/sorcerlabs/auctionflow/internal/service/ledger"
	"github.com/sorcerlabs/auctionflow/internal/service/pipeline"
	"github.com/sorcerlabs/auctionflow/internal/service/provisioning"
	"github.com/sorcerlabs/auctionflow/internal/service/workflow"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	if c.TokenSecret == "" {
		return nil, fmt.Errorf("token secret must be set")
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	creditService := ledger.NewService(storage)
	pipelineClient := pipeline.NewClient(c.PipelineDispatchURL, c.ProgressionURL, logger)
	workflowService := workflow.NewService(storage, creditService, pipelineClient, c.AllowedURLs, logger)
	verifier := provisioning.NewSignatureVerifier(c.PaymentWebhookSecret)
	provisionService := provisioning.NewService(storage, verifier, logger)

	authenticator := middleware.NewAuthenticator(c.TokenSecret, storage.User())

	mux := handlers.NewRouter(
		authenticator,
		workflowService,
		creditService,
		storage.Setting(),
		provisionService,
		handlers.Secrets{
			Cron:      c.CronSecret,
			Pipeline:  c.PipelineSecret,
			Provision: c.ProvisionSecret,
		},
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
