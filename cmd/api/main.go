package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/realestate-lead-ai/cmd/mainconfig"
	"github.com/wolfman30/realestate-lead-ai/internal/api/router"
	"github.com/wolfman30/realestate-lead-ai/internal/app/bootstrap"
	"github.com/wolfman30/realestate-lead-ai/internal/channels/instagram"
	"github.com/wolfman30/realestate-lead-ai/internal/company"
	appconfig "github.com/wolfman30/realestate-lead-ai/internal/config"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	"github.com/wolfman30/realestate-lead-ai/internal/inbound"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/internal/listings"
	"github.com/wolfman30/realestate-lead-ai/internal/observability/metrics"
	"github.com/wolfman30/realestate-lead-ai/internal/validation"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting realestate-lead-ai API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	app.close(logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

type app struct {
	handler     http.Handler
	pool        *pgxpool.Pool
	redis       *redis.Client
	llm         *bootstrap.LLM
	extraction  *bootstrap.Extraction
	waitWorkers func()
}

func (a *app) close(logger *logging.Logger) {
	if a.waitWorkers != nil {
		a.waitWorkers()
	}
	if err := a.extraction.Close(); err != nil {
		logger.Warn("failed to close extraction backend", "error", err)
	}
	if err := a.llm.Close(); err != nil {
		logger.Warn("failed to close llm client", "error", err)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// buildApp wires stores, the model, the extraction backend and the HTTP
// surface. Workers started here stop when ctx is cancelled.
func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	a := &app{}

	pool := connectPostgresPool(ctx, cfg, logger)
	if pool == nil && !cfg.UseMemoryStores {
		return nil, errors.New("DATABASE_URL is unreachable and USE_MEMORY_STORES is off")
	}
	a.pool = pool
	a.redis = bootstrap.BuildRedisClient(ctx, cfg, logger, true)

	stores, err := bootstrap.BuildStores(cfg, pool, a.redis, logger)
	if err != nil {
		return nil, err
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	a.llm, err = bootstrap.BuildLLM(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	a.extraction, err = bootstrap.BuildExtraction(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	catalog, err := entitlement.LoadCatalog(cfg.PlanCatalogPath)
	if err != nil {
		return nil, err
	}
	gate := entitlement.NewGate(stores.Subscriptions, entitlement.WithCatalog(catalog))
	sweeper, err := entitlement.NewSweeper(stores.Subscriptions, cfg.UsageResetCron, logger)
	if err != nil {
		return nil, err
	}
	if err := sweeper.Start(ctx); err != nil {
		return nil, err
	}

	metricsHandler, leadMetrics := setupMetrics()
	v := validation.New()

	extractor := conversation.NewExtractor(a.llm.Client, stores.Session, stores.Leads, conversation.ExtractorConfig{
		Model:   a.llm.Model,
		Timeout: cfg.AgentTimeout,
		Merge:   leads.MergeOptions{PhoneRegion: leads.DefaultPhoneRegion, Validator: v},
	}, logger)
	if a.extraction.InProcess() {
		a.waitWorkers = a.extraction.StartWorkers(ctx, cfg, extractor, leadMetrics, logger)
	}

	agent := conversation.NewAgent(a.llm.Client, conversation.AgentConfig{
		Model:        a.llm.Model,
		MaxTokens:    int32(cfg.LLMMaxTokens),
		Timeout:      cfg.AgentTimeout,
		HistoryLimit: cfg.SessionHistoryLimit,
	}, v, logger)

	deps := inbound.Deps{
		Events:          stores.Events,
		Directory:       stores.Directory,
		Settings:        stores.Settings,
		Gate:            gate,
		Leads:           stores.Leads,
		Session:         stores.Session,
		Agent:           agent,
		Sender:          instagram.NewClient(&http.Client{Timeout: cfg.OutboundTimeout}, cfg.InstagramGraphBaseURL),
		Listings:        stores.Listings,
		Extraction:      a.extraction.Scheduler,
		Metrics:         leadMetrics,
		EventLog:        conversation.NewEventLogger(logger),
		Logger:          logger,
		TopK:            cfg.RetrieverTopK,
		AgentTimeout:    cfg.AgentTimeout,
		OutboundTimeout: cfg.OutboundTimeout,
	}
	var indexer listings.Indexer
	if index := bootstrap.BuildRetriever(a.llm, stores.Listings, logger); index != nil {
		deps.Retriever = index
		indexer = index
	}
	inboundRouter := inbound.New(deps)

	a.handler = router.New(&router.Config{
		Logger:              logger,
		InstagramWebhook:    instagram.NewWebhookHandler(cfg.InstagramVerifyToken, cfg.InstagramAppSecret, inboundRouter, logger),
		LeadsHandler:        leads.NewHandler(stores.Leads, listings.NewPricer(stores.Listings), gate, v, logger),
		ListingsHandler:     listings.NewHandler(stores.Listings, indexer, gate, v, logger),
		ConversationHandler: conversation.NewHandler(stores.Leads, stores.Session, a.extraction.Scheduler, logger),
		EntitlementHandler:  entitlement.NewHandler(gate, logger),
		CompanyHandler:      company.NewHandler(stores.Settings, v, logger),
		AdminAuthSecret:     cfg.AdminJWTSecret,
		AdminRateLimit:      cfg.AdminRateLimit,
		AdminRateBurst:      cfg.AdminRateBurst,
		MetricsHandler:      metricsHandler,
		HealthChecks:        healthChecks(a.pool, a.redis),
	})
	logger.Info("api wired", "stores", stores.Backend, "extraction", a.extraction.Backend, "retrieval", indexer != nil)
	return a, nil
}

// setupMetrics registers the lead metrics and Go runtime collectors on a
// private registry.
func setupMetrics() (http.Handler, *metrics.LeadMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewLeadMetrics(reg)
}

// connectPostgresPool returns nil when no database is configured or it
// cannot be reached.
func connectPostgresPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *pgxpool.Pool {
	if cfg.UseMemoryStores {
		return nil
	}
	pool, err := bootstrap.ConnectPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns, logger)
	if err != nil {
		logger.Error("postgres unavailable", "error", err)
		return nil
	}
	return pool
}

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
