package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/SebasPM15/CashFlow-Backend/internal/amqp"
	"github.com/SebasPM15/CashFlow-Backend/internal/config"
	gsheet "github.com/SebasPM15/CashFlow-Backend/internal/export/google"
	"github.com/SebasPM15/CashFlow-Backend/internal/ledger"
	applog "github.com/SebasPM15/CashFlow-Backend/internal/log"
	"github.com/SebasPM15/CashFlow-Backend/internal/storage"
	"github.com/SebasPM15/CashFlow-Backend/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting cashflow-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("Worker requires AMQP_URL to consume ledger events")
		os.Exit(1)
	}

	// The worker reads the same database the server writes.
	store, err := storage.NewSQLiteStore(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	svc := ledger.NewService(store, nil, ledger.Config{
		MaxRetries:   cfg.MutationMaxRetries,
		RetryBackoff: cfg.MutationRetryBackoff,
	})

	// Google Sheets export is optional.
	var exporter worker.StatementExporter
	if cfg.SheetsExportEnabled() {
		sheetsClient, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		exporter = sheetsClient
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	w := worker.NewNotifyWorker(svc, exporter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Event consumption loop. A broker drop triggers a reconnect with
	// backoff instead of taking the worker down.
	g.Go(func() error {
		err := amqpClient.ConsumeLedgerEventsWithReconnect(gctx, cfg.AMQPURL, w.HandleEvent)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// Periodic audit of recently touched tenants.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.AuditInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.AuditRecentTenants(gctx); err != nil {
					logger.Error("Periodic audit reported failures", "error", err)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	logger.Info("Worker running", "queue", cfg.AMQPQueue, "audit_interval", cfg.AuditInterval.String())

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
