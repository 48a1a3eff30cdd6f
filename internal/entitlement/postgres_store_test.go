package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var subscriptionColumns = []string{
	"id", "company_id", "plan_id", "status", "start_date", "end_date", "lead_quota", "leads_used",
	"messages_used", "last_reset_at", "next_reset_at", "features", "payment_reference", "created_at", "updated_at",
}

func TestPostgresStoreGetByCompany(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithDB(mock)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	features, _ := json.Marshal([]Feature{{Name: CapabilityDM}, {Name: CapabilityListingIntegration, Limit: intPtr(5)}})
	lastReset := now
	nextReset := now.AddDate(0, 1, 0)
	mock.ExpectQuery("FROM subscriptions").WithArgs("co-1").WillReturnRows(
		pgxmock.NewRows(subscriptionColumns).AddRow(
			"sub-1", "co-1", "starter", "active", now, now.AddDate(0, 1, 0), 50, 3,
			7, &lastReset, &nextReset, features, "pay_1", now, now,
		),
	)

	sub, err := store.GetByCompany(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, 3, sub.LeadsUsed)
	require.Len(t, sub.Features, 2)
	require.NotNil(t, sub.Features[1].Limit)
	assert.Equal(t, 5, *sub.Features[1].Limit)

	mock.ExpectQuery("FROM subscriptions").WithArgs("co-x").WillReturnError(pgx.ErrNoRows)
	_, err = store.GetByCompany(context.Background(), "co-x")
	assert.True(t, errors.Is(err, ErrSubscriptionNotFound))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCounters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithDB(mock)

	mock.ExpectExec("UPDATE subscriptions SET messages_used").WithArgs("co-1", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.IncrementMessagesUsed(context.Background(), "co-1", 1))

	mock.ExpectExec("UPDATE subscriptions SET messages_used").WithArgs("co-2", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.True(t, errors.Is(store.IncrementMessagesUsed(context.Background(), "co-2", 1), ErrSubscriptionNotFound))

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE subscriptions").WithArgs(now).WillReturnResult(pgxmock.NewResult("UPDATE", 4))
	n, err := store.ExpireLapsed(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSave(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithDB(mock)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	plan, err := DefaultCatalog().Get("starter")
	require.NoError(t, err)
	sub := ApplyPlan(nil, "co-1", plan, "pay_1", now)

	mock.ExpectExec("INSERT INTO subscriptions").
		WithArgs(sub.ID, "co-1", "starter", "active", now, now.AddDate(0, 1, 0), 50,
			0, 0, sub.LastResetAt, sub.NextResetAt, pgxmock.AnyArg(), "pay_1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.Save(context.Background(), sub))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreRenewAccumulatesInOneStatement(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := newPostgresStoreWithDB(mock)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	plan, err := DefaultCatalog().Get("starter")
	require.NoError(t, err)
	purchase := ApplyPlan(nil, "co-1", plan, "pay_2", now)
	features, _ := json.Marshal(purchase.Features)
	created := now.AddDate(0, -1, 0)

	mock.ExpectQuery("lead_quota = subscriptions.lead_quota \\+ EXCLUDED.lead_quota").
		WithArgs(purchase.ID, "co-1", "starter", "active", now, now.AddDate(0, 1, 0), 50,
			purchase.LastResetAt, purchase.NextResetAt, pgxmock.AnyArg(), "pay_2").
		WillReturnRows(pgxmock.NewRows(subscriptionColumns).AddRow(
			"sub-1", "co-1", "starter", "active", now, now.AddDate(0, 1, 0), 80, 0,
			0, purchase.LastResetAt, purchase.NextResetAt, features, "pay_2", created, now,
		))

	sub, err := store.Renew(context.Background(), purchase)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
	assert.Equal(t, 80, sub.LeadQuota)
	assert.Zero(t, sub.LeadsUsed)
	assert.Equal(t, created, sub.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
