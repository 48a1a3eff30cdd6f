package company

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory reads instagram_accounts joined with companies.
type PostgresDirectory struct {
	db rowQuerier
}

var _ Directory = (*PostgresDirectory)(nil)

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	if pool == nil {
		panic("company: pgx pool required")
	}
	return &PostgresDirectory{db: pool}
}

func newPostgresDirectoryWithDB(db rowQuerier) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) ResolveAccount(ctx context.Context, accountID string) (*ChannelAccount, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, ErrUnknownAccount
	}
	query := `
		SELECT a.account_id, a.company_id, c.name, a.access_token
		FROM instagram_accounts a
		JOIN companies c ON c.id = a.company_id
		WHERE a.account_id = $1
	`
	var acct ChannelAccount
	err := d.db.QueryRow(ctx, query, accountID).Scan(&acct.AccountID, &acct.CompanyID, &acct.CompanyName, &acct.AccessToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownAccount
		}
		return nil, fmt.Errorf("company: resolve account: %w", err)
	}
	return &acct, nil
}

// MemoryDirectory is a Directory for tests and local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]ChannelAccount
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory(accounts ...ChannelAccount) *MemoryDirectory {
	d := &MemoryDirectory{accounts: make(map[string]ChannelAccount)}
	for _, a := range accounts {
		d.Register(a)
	}
	return d
}

// Register adds or replaces an account.
func (d *MemoryDirectory) Register(acct ChannelAccount) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[acct.AccountID] = acct
}

func (d *MemoryDirectory) ResolveAccount(_ context.Context, accountID string) (*ChannelAccount, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acct, ok := d.accounts[strings.TrimSpace(accountID)]
	if !ok {
		return nil, ErrUnknownAccount
	}
	return &acct, nil
}
