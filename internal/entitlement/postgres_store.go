package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists subscriptions in the subscriptions table.
type PostgresStore struct {
	db pgQuerier
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("entitlement: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithDB(db pgQuerier) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectSubscription = `
	SELECT id, company_id, plan_id, status, start_date, end_date, lead_quota, leads_used,
	       messages_used, last_reset_at, next_reset_at, features, payment_reference, created_at, updated_at
	FROM subscriptions
	WHERE company_id = $1
`

func (s *PostgresStore) GetByCompany(ctx context.Context, companyID string) (*Subscription, error) {
	return scanSubscription(s.db.QueryRow(ctx, selectSubscription, companyID))
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		sub      Subscription
		status   string
		features []byte
	)
	err := row.Scan(
		&sub.ID, &sub.CompanyID, &sub.PlanID, &status, &sub.StartDate, &sub.EndDate,
		&sub.LeadQuota, &sub.LeadsUsed, &sub.MessagesUsed, &sub.LastResetAt, &sub.NextResetAt,
		&features, &sub.PaymentReference, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("entitlement: scan subscription: %w", err)
	}
	sub.Status = Status(status)
	if len(features) > 0 {
		if err := json.Unmarshal(features, &sub.Features); err != nil {
			// A corrupt feature list grants nothing.
			sub.Features = nil
		}
	}
	return &sub, nil
}

func (s *PostgresStore) Save(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return errors.New("entitlement: subscription required")
	}
	features, err := json.Marshal(sub.Features)
	if err != nil {
		return fmt.Errorf("entitlement: encode features: %w", err)
	}
	query := `
		INSERT INTO subscriptions (id, company_id, plan_id, status, start_date, end_date, lead_quota,
			leads_used, messages_used, last_reset_at, next_reset_at, features, payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (company_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			lead_quota = EXCLUDED.lead_quota,
			leads_used = EXCLUDED.leads_used,
			messages_used = EXCLUDED.messages_used,
			last_reset_at = EXCLUDED.last_reset_at,
			next_reset_at = EXCLUDED.next_reset_at,
			features = EXCLUDED.features,
			payment_reference = EXCLUDED.payment_reference,
			updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query,
		sub.ID, sub.CompanyID, sub.PlanID, string(sub.Status), sub.StartDate, sub.EndDate, sub.LeadQuota,
		sub.LeadsUsed, sub.MessagesUsed, sub.LastResetAt, sub.NextResetAt, features, sub.PaymentReference,
	); err != nil {
		return fmt.Errorf("entitlement: save subscription: %w", err)
	}
	return nil
}

// Renew upserts in one statement so concurrent purchases both land on the quota.
func (s *PostgresStore) Renew(ctx context.Context, purchase *Subscription) (*Subscription, error) {
	if purchase == nil {
		return nil, errors.New("entitlement: subscription required")
	}
	features, err := json.Marshal(purchase.Features)
	if err != nil {
		return nil, fmt.Errorf("entitlement: encode features: %w", err)
	}
	query := `
		INSERT INTO subscriptions (id, company_id, plan_id, status, start_date, end_date, lead_quota,
			leads_used, messages_used, last_reset_at, next_reset_at, features, payment_reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, $8, $9, $10, $11)
		ON CONFLICT (company_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			status = EXCLUDED.status,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			lead_quota = subscriptions.lead_quota + EXCLUDED.lead_quota,
			leads_used = 0,
			messages_used = 0,
			last_reset_at = EXCLUDED.last_reset_at,
			next_reset_at = EXCLUDED.next_reset_at,
			features = EXCLUDED.features,
			payment_reference = EXCLUDED.payment_reference,
			updated_at = now()
		RETURNING id, company_id, plan_id, status, start_date, end_date, lead_quota, leads_used,
		          messages_used, last_reset_at, next_reset_at, features, payment_reference, created_at, updated_at
	`
	return scanSubscription(s.db.QueryRow(ctx, query,
		purchase.ID, purchase.CompanyID, purchase.PlanID, string(purchase.Status), purchase.StartDate, purchase.EndDate,
		purchase.LeadQuota, purchase.LastResetAt, purchase.NextResetAt, features, purchase.PaymentReference,
	))
}

func (s *PostgresStore) IncrementMessagesUsed(ctx context.Context, companyID string, n int) error {
	query := `UPDATE subscriptions SET messages_used = messages_used + $2, updated_at = now() WHERE company_id = $1`
	ct, err := s.db.Exec(ctx, query, companyID, n)
	if err != nil {
		return fmt.Errorf("entitlement: increment messages: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *PostgresStore) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE subscriptions
		SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND end_date <= $1
	`
	ct, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("entitlement: expire lapsed: %w", err)
	}
	return int(ct.RowsAffected()), nil
}
