package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gate authorizes capabilities against the live subscription of a company.
type Gate struct {
	store   Store
	catalog *Catalog
	now     func() time.Time
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithCatalog sets the plan catalog used by Activate.
func WithCatalog(c *Catalog) GateOption {
	return func(g *Gate) {
		if c != nil {
			g.catalog = c
		}
	}
}

func NewGate(store Store, opts ...GateOption) *Gate {
	if store == nil {
		panic("entitlement: store required")
	}
	g := &Gate{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.catalog == nil {
		g.catalog = DefaultCatalog()
	}
	return g
}

// Now exposes the gate's clock so callers evaluate quota at the same instant.
func (g *Gate) Now() time.Time {
	return g.now()
}

// Check loads the company's subscription and authorizes capability. A missing
// subscription is a denial, not an error.
func (g *Gate) Check(ctx context.Context, companyID string, capability Capability, usage int) (Decision, *Subscription, error) {
	sub, err := g.store.GetByCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return deny(ReasonNoSubscription), nil, nil
		}
		return Decision{}, nil, fmt.Errorf("entitlement: load subscription: %w", err)
	}
	return Authorize(sub, capability, usage, g.now()), sub, nil
}

// Subscription returns the live subscription for a company.
func (g *Gate) Subscription(ctx context.Context, companyID string) (*Subscription, error) {
	return g.store.GetByCompany(ctx, companyID)
}

// RecordMessage bumps the messages_used counter after an AI reply went out.
func (g *Gate) RecordMessage(ctx context.Context, companyID string) error {
	return g.store.IncrementMessagesUsed(ctx, companyID, 1)
}

// Activate buys or renews planID for a company. The store folds the purchase
// into any existing row atomically.
func (g *Gate) Activate(ctx context.Context, companyID, planID, paymentRef string) (*Subscription, error) {
	plan, err := g.catalog.Get(planID)
	if err != nil {
		return nil, err
	}
	return g.store.Renew(ctx, ApplyPlan(nil, companyID, plan, paymentRef, g.now()))
}
