package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type sessionDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresSession stores transcripts in conversation_messages.
type PostgresSession struct {
	db     sessionDB
	tracer trace.Tracer
}

var _ Session = (*PostgresSession)(nil)

func NewPostgresSession(pool *pgxpool.Pool, tracer trace.Tracer) *PostgresSession {
	if pool == nil {
		panic("conversation: postgres pool cannot be nil")
	}
	return newPostgresSessionWithDB(pool, tracer)
}

func newPostgresSessionWithDB(db sessionDB, tracer trace.Tracer) *PostgresSession {
	if tracer == nil {
		tracer = otel.Tracer("realestate.internal.conversation.session")
	}
	return &PostgresSession{db: db, tracer: tracer}
}

const messageColumns = `id, conversation_id, COALESCE(lead_id::text, ''), sender, body, kind,
	COALESCE(external_id, ''), extracted_data, confidence, from_channel, created_at`

func scanMessage(row pgx.Row) (StoredMessage, error) {
	var (
		m         StoredMessage
		extracted []byte
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.LeadID, &m.Sender, &m.Body, &m.Kind,
		&m.ExternalID, &extracted, &m.Confidence, &m.FromChannel, &m.CreatedAt); err != nil {
		return StoredMessage{}, err
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &m.ExtractedData); err != nil {
			return StoredMessage{}, fmt.Errorf("decode extracted data: %w", err)
		}
	}
	return m, nil
}

func (s *PostgresSession) Read(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session_read",
		trace.WithAttributes(attribute.String("conversation_id", conversationID)))
	defer span.End()

	query := `
		SELECT sender, body FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at, id`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: read session: %w", err)
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.Sender, &m.Body); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: scan session row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: read session: %w", err)
	}
	return toChatMessages(msgs), nil
}

// Append serializes writers per conversation with a transaction-scoped
// advisory lock so timestamps and ids are assigned in one order.
func (s *PostgresSession) Append(ctx context.Context, conversationID string, items []SessionItem) (int, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session_append",
		trace.WithAttributes(attribute.String("conversation_id", conversationID)))
	defer span.End()

	pending := make([]SessionItem, 0, len(items))
	for _, raw := range items {
		if item, ok := normalizeItem(raw); ok {
			pending = append(pending, item)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("conversation: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, conversationID); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("conversation: lock conversation: %w", err)
	}

	stored := 0
	for _, item := range pending {
		ct, err := tx.Exec(ctx, `
			INSERT INTO conversation_messages
				(conversation_id, lead_id, sender, body, kind, external_id, from_channel, created_at)
			VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, NULLIF($6, ''), $7, clock_timestamp())
			ON CONFLICT (external_id) DO NOTHING`,
			conversationID, item.LeadID, string(item.Sender), item.Body, string(item.Kind), item.ExternalID, item.FromChannel,
		)
		if err != nil {
			span.RecordError(err)
			return 0, fmt.Errorf("conversation: append message: %w", err)
		}
		stored += int(ct.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("conversation: commit append: %w", err)
	}
	return stored, nil
}

func (s *PostgresSession) PopLast(ctx context.Context, conversationID string) (*StoredMessage, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session_pop_last",
		trace.WithAttributes(attribute.String("conversation_id", conversationID)))
	defer span.End()

	row := s.db.QueryRow(ctx, `
		DELETE FROM conversation_messages
		WHERE id = (
			SELECT id FROM conversation_messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		RETURNING `+messageColumns, conversationID)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: pop last message: %w", err)
	}
	return &m, nil
}

func (s *PostgresSession) Clear(ctx context.Context, conversationID string) error {
	ctx, span := s.tracer.Start(ctx, "conversation.session_clear",
		trace.WithAttributes(attribute.String("conversation_id", conversationID)))
	defer span.End()

	if _, err := s.db.Exec(ctx, `DELETE FROM conversation_messages WHERE conversation_id = $1`, conversationID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: clear session: %w", err)
	}
	return nil
}

func (s *PostgresSession) Messages(ctx context.Context, conversationID string) ([]StoredMessage, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session_messages",
		trace.WithAttributes(attribute.String("conversation_id", conversationID)))
	defer span.End()

	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at, id`, conversationID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("conversation: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list messages: %w", err)
	}
	return out, nil
}

func (s *PostgresSession) HasExternalMessage(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversation_messages WHERE external_id = $1)`, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("conversation: lookup external message: %w", err)
	}
	return exists, nil
}
