package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/realestate-lead-ai/cmd/mainconfig"
	"github.com/wolfman30/realestate-lead-ai/internal/app/bootstrap"
	appconfig "github.com/wolfman30/realestate-lead-ai/internal/config"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/internal/validation"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("extraction worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg.ExtractionBackend == bootstrap.BackendMemory || cfg.ExtractionBackend == "" {
		return errors.New("EXTRACTION_BACKEND=memory is consumed by the API process; use sqs or asynq for a standalone worker")
	}

	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns, logger)
	if err != nil {
		return err
	}
	if pool == nil {
		return errors.New("DATABASE_URL is required")
	}
	defer pool.Close()

	stores, err := bootstrap.BuildStores(cfg, pool, nil, logger)
	if err != nil {
		return err
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	llm, err := bootstrap.BuildLLM(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = llm.Close() }()

	extraction, err := bootstrap.BuildExtraction(cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = extraction.Close() }()

	extractor := conversation.NewExtractor(llm.Client, stores.Session, stores.Leads, conversation.ExtractorConfig{
		Model:   llm.Model,
		Timeout: cfg.AgentTimeout,
		Merge:   leads.MergeOptions{PhoneRegion: leads.DefaultPhoneRegion, Validator: validation.New()},
	}, logger)

	wait := extraction.StartWorkers(ctx, cfg, extractor, nil, logger)
	logger.Info("extraction worker started", "backend", extraction.Backend, "workers", cfg.ExtractionWorkers)

	<-ctx.Done()
	logger.Info("shutting down extraction worker...")

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("extraction worker stopped")
	case <-time.After(shutdownTimeout):
		logger.Error("extraction worker shutdown timed out")
	}
	return nil
}
