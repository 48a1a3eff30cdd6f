package company

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisSettingsStore keeps settings as JSON documents in Redis.
type RedisSettingsStore struct {
	redis *redis.Client
}

var _ SettingsStore = (*RedisSettingsStore)(nil)

func NewRedisSettingsStore(client *redis.Client) *RedisSettingsStore {
	if client == nil {
		panic("company: redis client required")
	}
	return &RedisSettingsStore{redis: client}
}

func (s *RedisSettingsStore) key(companyID string) string {
	return fmt.Sprintf("company:settings:%s", companyID)
}

// Get retrieves settings, returning defaults if none were saved.
func (s *RedisSettingsStore) Get(ctx context.Context, companyID string) (*Settings, error) {
	data, err := s.redis.Get(ctx, s.key(companyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultSettings(companyID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("company: get settings: %w", err)
	}

	settings := DefaultSettings(companyID)
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("company: unmarshal settings: %w", err)
	}
	settings.CompanyID = companyID
	settings.normalize()
	return settings, nil
}

// Set saves settings.
func (s *RedisSettingsStore) Set(ctx context.Context, settings *Settings) error {
	if settings == nil || settings.CompanyID == "" {
		return errors.New("company: settings need a company id")
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("company: marshal settings: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(settings.CompanyID), data, 0).Err(); err != nil {
		return fmt.Errorf("company: set settings: %w", err)
	}
	return nil
}

// MemorySettingsStore is a SettingsStore for tests and local runs.
type MemorySettingsStore struct {
	mu       sync.RWMutex
	settings map[string]Settings
}

var _ SettingsStore = (*MemorySettingsStore)(nil)

func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{settings: make(map[string]Settings)}
}

func (s *MemorySettingsStore) Get(_ context.Context, companyID string) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.settings[companyID]
	if !ok {
		return DefaultSettings(companyID), nil
	}
	out := stored
	return &out, nil
}

func (s *MemorySettingsStore) Set(_ context.Context, settings *Settings) error {
	if settings == nil || settings.CompanyID == "" {
		return errors.New("company: settings need a company id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *settings
	copied.normalize()
	s.settings[settings.CompanyID] = copied
	return nil
}
