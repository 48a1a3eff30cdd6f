package bootstrap

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/realestate-lead-ai/internal/company"
	appconfig "github.com/wolfman30/realestate-lead-ai/internal/config"
	"github.com/wolfman30/realestate-lead-ai/internal/conversation"
	"github.com/wolfman30/realestate-lead-ai/internal/entitlement"
	"github.com/wolfman30/realestate-lead-ai/internal/events"
	"github.com/wolfman30/realestate-lead-ai/internal/leads"
	"github.com/wolfman30/realestate-lead-ai/internal/listings"
	"github.com/wolfman30/realestate-lead-ai/pkg/logging"
)

// Stores are the persistence backends shared by the API and the workers.
type Stores struct {
	Events        events.Store
	Directory     company.Directory
	Settings      company.SettingsStore
	Subscriptions entitlement.Store
	Leads         leads.Repository
	Listings      listings.Repository
	Session       conversation.Session
	Backend       string
}

// BuildStores picks Postgres-backed stores when pool is set and in-memory
// ones otherwise. Settings live in Redis when a client is available. The
// memory directory is seeded from INSTAGRAM_ACCOUNTS_PATH.
func BuildStores(cfg *appconfig.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *logging.Logger) (*Stores, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &Stores{}
	if redisClient != nil {
		s.Settings = company.NewRedisSettingsStore(redisClient)
	} else {
		s.Settings = company.NewMemorySettingsStore()
	}

	if pool != nil && !cfg.UseMemoryStores {
		s.Backend = "postgres"
		s.Events = events.NewProcessedStore(pool)
		s.Directory = company.NewPostgresDirectory(pool)
		s.Subscriptions = entitlement.NewPostgresStore(pool)
		s.Leads = leads.NewPostgresRepository(pool)
		s.Listings = listings.NewPostgresRepository(pool)
		s.Session = conversation.NewPostgresSession(pool, nil)
		return s, nil
	}

	var accounts []company.ChannelAccount
	if cfg.InstagramAccountsPath != "" {
		loaded, err := company.LoadAccounts(cfg.InstagramAccountsPath)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		accounts = loaded
	}
	subs := entitlement.NewMemoryStore()
	s.Backend = "memory"
	s.Events = events.NewMemoryStore()
	s.Directory = company.NewMemoryDirectory(accounts...)
	s.Subscriptions = subs
	s.Leads = leads.NewInMemoryRepository(subs)
	s.Listings = listings.NewMemoryRepository()
	s.Session = conversation.NewMemorySession()
	logger.Warn("using in-memory stores; data is lost on restart", "accounts", len(accounts))
	return s, nil
}
