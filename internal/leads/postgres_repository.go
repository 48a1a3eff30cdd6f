package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	db pgDB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithDB(db pgDB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const leadColumns = `
	id::text, company_id, conversation_id, source_type, source_post_id, source_comment_id,
	listing_id::text, instagram_username, customer_name, phone_number, email,
	qualification_status, status, budget_min, budget_max, timeline, preferred_location,
	property_requirements, payment_method, is_first_time_buyer, has_property_to_sell,
	intent_level, ai_conversation_summary, total_messages, last_bot_message,
	last_customer_message, last_interaction_at, requires_human, human_agent_id,
	handoff_reason, handoff_at, tags, created_at, updated_at`

func scanLead(row pgx.Row) (*Lead, error) {
	var (
		lead         Lead
		requirements []byte
		tags         []byte
	)
	err := row.Scan(
		&lead.ID, &lead.CompanyID, &lead.ConversationID, &lead.SourceType, &lead.SourcePostID, &lead.SourceCommentID,
		&lead.ListingID, &lead.InstagramUsername, &lead.CustomerName, &lead.Phone, &lead.Email,
		&lead.QualificationStatus, &lead.Status, &lead.BudgetMin, &lead.BudgetMax, &lead.Timeline, &lead.PreferredLocation,
		&requirements, &lead.PaymentMethod, &lead.IsFirstTimeBuyer, &lead.HasPropertyToSell,
		&lead.IntentLevel, &lead.AISummary, &lead.TotalMessages, &lead.LastBotMessage,
		&lead.LastCustomerMessage, &lead.LastInteractionAt, &lead.RequiresHuman, &lead.HumanAgentID,
		&lead.HandoffReason, &lead.HandoffAt, &tags, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: scan lead: %w", err)
	}
	if len(requirements) > 0 {
		if err := json.Unmarshal(requirements, &lead.PropertyRequirements); err != nil {
			return nil, fmt.Errorf("leads: decode property requirements: %w", err)
		}
	}
	lead.Tags = map[string]string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &lead.Tags); err != nil {
			return nil, fmt.Errorf("leads: decode tags: %w", err)
		}
	}
	return &lead, nil
}

// GetOrCreate inserts the lead if the conversation has none and, in the same
// transaction, bumps the subscription's leads_used.
func (r *PostgresRepository) GetOrCreate(ctx context.Context, req UpsertRequest) (UpsertResult, error) {
	if err := req.validate(); err != nil {
		return UpsertResult{}, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("leads: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	lead := newLead(req, time.Time{})
	insert := `
		INSERT INTO leads (id, company_id, conversation_id, source_type, source_post_id,
			source_comment_id, listing_id, instagram_username)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (company_id, conversation_id) DO NOTHING
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, insert,
		lead.ID, lead.CompanyID, lead.ConversationID, string(lead.SourceType), lead.SourcePostID,
		lead.SourceCommentID, lead.ListingID, lead.InstagramUsername,
	).Scan(&lead.CreatedAt, &lead.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := scanLead(tx.QueryRow(ctx,
			`SELECT `+leadColumns+` FROM leads WHERE company_id = $1 AND conversation_id = $2`,
			req.CompanyID, req.ConversationID))
		if err != nil {
			return UpsertResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return UpsertResult{}, fmt.Errorf("leads: commit: %w", err)
		}
		return UpsertResult{Lead: existing}, nil
	}
	if err != nil {
		return UpsertResult{}, fmt.Errorf("leads: insert lead: %w", err)
	}

	var ordinal int
	err = tx.QueryRow(ctx,
		`UPDATE subscriptions SET leads_used = leads_used + 1, updated_at = now() WHERE company_id = $1 RETURNING leads_used`,
		req.CompanyID,
	).Scan(&ordinal)
	if errors.Is(err, pgx.ErrNoRows) {
		return UpsertResult{}, ErrNoUsageAccount
	}
	if err != nil {
		return UpsertResult{}, fmt.Errorf("leads: count lead: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return UpsertResult{}, fmt.Errorf("leads: commit: %w", err)
	}
	return UpsertResult{Lead: lead, Created: true, Ordinal: ordinal}, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrLeadNotFound
	}
	return scanLead(r.db.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
}

func (r *PostgresRepository) GetByConversation(ctx context.Context, companyID, conversationID string) (*Lead, error) {
	return scanLead(r.db.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE company_id = $1 AND conversation_id = $2`,
		companyID, conversationID))
}

func (r *PostgresRepository) SaveQualification(ctx context.Context, lead *Lead) error {
	if lead == nil {
		return ErrLeadNotFound
	}
	requirements, err := json.Marshal(lead.PropertyRequirements)
	if err != nil {
		return fmt.Errorf("leads: encode property requirements: %w", err)
	}
	query := `
		UPDATE leads SET
			customer_name = $2, phone_number = $3, email = $4, qualification_status = $5, status = $6,
			budget_min = $7, budget_max = $8, timeline = $9, preferred_location = $10,
			property_requirements = $11, payment_method = $12, is_first_time_buyer = $13,
			has_property_to_sell = $14, intent_level = $15, ai_conversation_summary = $16,
			last_interaction_at = COALESCE($17, last_interaction_at), updated_at = now()
		WHERE id = $1
	`
	ct, err := r.db.Exec(ctx, query,
		lead.ID, lead.CustomerName, lead.Phone, lead.Email, string(lead.QualificationStatus), string(lead.Status),
		lead.BudgetMin, lead.BudgetMax, string(lead.Timeline), lead.PreferredLocation,
		requirements, string(lead.PaymentMethod), lead.IsFirstTimeBuyer,
		lead.HasPropertyToSell, string(lead.IntentLevel), lead.AISummary, lead.LastInteractionAt,
	)
	if err != nil {
		return fmt.Errorf("leads: save qualification: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func (r *PostgresRepository) RecordActivity(ctx context.Context, leadID string, a Activity) error {
	at := a.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	query := `
		UPDATE leads SET
			total_messages = total_messages + $2,
			last_customer_message = CASE WHEN $3 = '' THEN last_customer_message ELSE $3 END,
			last_bot_message = CASE WHEN $4 = '' THEN last_bot_message ELSE $4 END,
			last_interaction_at = $5,
			updated_at = now()
		WHERE id = $1
	`
	ct, err := r.db.Exec(ctx, query, leadID, a.Messages, a.CustomerMessage, a.BotMessage, at)
	if err != nil {
		return fmt.Errorf("leads: record activity: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// ClaimTag is a single conditional update so concurrent callers see exactly
// one winner.
func (r *PostgresRepository) ClaimTag(ctx context.Context, leadID, tag string) (bool, error) {
	query := `
		UPDATE leads
		SET tags = tags || jsonb_build_object($2::text, 'done'), updated_at = now()
		WHERE id = $1 AND NOT (tags ? $2::text)
	`
	ct, err := r.db.Exec(ctx, query, leadID, tag)
	if err != nil {
		return false, fmt.Errorf("leads: claim tag: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish "already tagged" from "no such lead".
	if _, err := r.GetByID(ctx, leadID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresRepository) SetHandoff(ctx context.Context, leadID string, u HandoffUpdate) (*Lead, error) {
	var query string
	var args []any
	if u.RequiresHuman {
		var agent *string
		if a := strings.TrimSpace(u.AgentID); a != "" {
			agent = &a
		}
		query = `
			UPDATE leads SET requires_human = true, human_agent_id = $2, handoff_reason = $3,
				handoff_at = COALESCE(handoff_at, now()), updated_at = now()
			WHERE id = $1
			RETURNING ` + leadColumns
		args = []any{leadID, agent, strings.TrimSpace(u.Reason)}
	} else {
		query = `
			UPDATE leads SET requires_human = false, human_agent_id = NULL, handoff_reason = '',
				handoff_at = NULL, updated_at = now()
			WHERE id = $1
			RETURNING ` + leadColumns
		args = []any{leadID}
	}
	return scanLead(r.db.QueryRow(ctx, query, args...))
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, leadID string, status Status) (*Lead, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	return scanLead(r.db.QueryRow(ctx,
		`UPDATE leads SET status = $2, updated_at = now() WHERE id = $1 RETURNING `+leadColumns,
		leadID, string(status)))
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]*Lead, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.CompanyID != "" {
		add("company_id = $%d", f.CompanyID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.QualificationStatus != "" {
		add("qualification_status = $%d", string(f.QualificationStatus))
	}
	if f.RequiresHuman != nil {
		add("requires_human = $%d", *f.RequiresHuman)
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	args = append(args, f.limit(), f.offset())
	query += fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("leads: list: %w", err)
	}
	defer rows.Close()

	out := make([]*Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: list: %w", err)
	}
	return out, nil
}
