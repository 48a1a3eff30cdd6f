package entitlement

import (
	"context"
	"time"
)

// Store persists subscriptions. Reads are always live.
type Store interface {
	GetByCompany(ctx context.Context, companyID string) (*Subscription, error)
	Save(ctx context.Context, sub *Subscription) error
	// Renew stores a fresh purchase atomically. An existing row keeps its id
	// and accumulates purchase.LeadQuota on top of its current quota.
	Renew(ctx context.Context, purchase *Subscription) (*Subscription, error)
	IncrementMessagesUsed(ctx context.Context, companyID string, n int) error
	ExpireLapsed(ctx context.Context, now time.Time) (int, error)
}
