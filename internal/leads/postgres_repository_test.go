package leads

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLeadID = "5b7e3c1a-9f0d-4c55-8d7e-2f1a3b4c5d6e"

var leadColumnNames = []string{
	"id", "company_id", "conversation_id", "source_type", "source_post_id", "source_comment_id",
	"listing_id", "instagram_username", "customer_name", "phone_number", "email",
	"qualification_status", "status", "budget_min", "budget_max", "timeline", "preferred_location",
	"property_requirements", "payment_method", "is_first_time_buyer", "has_property_to_sell",
	"intent_level", "ai_conversation_summary", "total_messages", "last_bot_message",
	"last_customer_message", "last_interaction_at", "requires_human", "human_agent_id",
	"handoff_reason", "handoff_at", "tags", "created_at", "updated_at",
}

func leadRow(now time.Time, budgetMax *float64, tags string) []any {
	return []any{
		testLeadID, "c1", "acct_user", "instagram_dm", "", "",
		nil, "buyer", "Asha", "+919876543210", "",
		"in_progress", "active", nil, budgetMax, "short", "Whitefield",
		[]byte(`{"bedrooms":3}`), "loan", nil, nil,
		"high", "wants 3BHK", 4, "hello",
		"hi", &now, false, nil,
		"", nil, []byte(tags), now, now,
	}
}

func TestPostgresRepository_GetOrCreateInsertsAndCounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newPostgresRepositoryWithDB(mock)
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO leads").
		WithArgs(pgxmock.AnyArg(), "c1", "acct_user", "instagram_comment", "post-1", "comment-1", (*string)(nil), "buyer").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery("UPDATE subscriptions SET leads_used").WithArgs("c1").
		WillReturnRows(pgxmock.NewRows([]string{"leads_used"}).AddRow(7))
	mock.ExpectCommit()

	res, err := repo.GetOrCreate(context.Background(), UpsertRequest{
		CompanyID: "c1", ConversationID: "acct_user", SourceType: SourceInstagramComment,
		SourcePostID: "post-1", SourceCommentID: "comment-1", InstagramUsername: "buyer",
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 7, res.Ordinal)
	assert.Equal(t, now, res.Lead.CreatedAt)
	assert.Equal(t, QualificationInitiated, res.Lead.QualificationStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetOrCreateReturnsExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newPostgresRepositoryWithDB(mock)
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	budget := 5_000_000.0

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO leads").
		WithArgs(pgxmock.AnyArg(), "c1", "acct_user", "instagram_dm", "", "", (*string)(nil), "").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM leads WHERE company_id").WithArgs("c1", "acct_user").
		WillReturnRows(pgxmock.NewRows(leadColumnNames).AddRow(leadRow(now, &budget, `{"static_first_dm":"done"}`)...))
	mock.ExpectCommit()

	res, err := repo.GetOrCreate(context.Background(), UpsertRequest{CompanyID: "c1", ConversationID: "acct_user"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Zero(t, res.Ordinal)
	assert.Equal(t, testLeadID, res.Lead.ID)
	assert.Equal(t, TimelineShort, res.Lead.Timeline)
	require.NotNil(t, res.Lead.BudgetMax)
	assert.Equal(t, budget, *res.Lead.BudgetMax)
	assert.Nil(t, res.Lead.BudgetMin)
	require.NotNil(t, res.Lead.PropertyRequirements.Bedrooms)
	assert.Equal(t, 3, *res.Lead.PropertyRequirements.Bedrooms)
	assert.Equal(t, "done", res.Lead.Tags[TagStaticFirstDM])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetOrCreateWithoutSubscription(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newPostgresRepositoryWithDB(mock)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO leads").
		WithArgs(pgxmock.AnyArg(), "c1", "acct_user", "instagram_dm", "", "", (*string)(nil), "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery("UPDATE subscriptions SET leads_used").WithArgs("c1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err = repo.GetOrCreate(context.Background(), UpsertRequest{CompanyID: "c1", ConversationID: "acct_user"})
	assert.ErrorIs(t, err, ErrNoUsageAccount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ClaimTag(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newPostgresRepositoryWithDB(mock)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE leads").WithArgs(testLeadID, TagStaticFirstDM).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := repo.ClaimTag(context.Background(), testLeadID, TagStaticFirstDM)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectExec("UPDATE leads").WithArgs(testLeadID, TagStaticFirstDM).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("FROM leads WHERE id").WithArgs(testLeadID).
		WillReturnRows(pgxmock.NewRows(leadColumnNames).AddRow(leadRow(now, nil, `{"static_first_dm":"done"}`)...))
	ok, err = repo.ClaimTag(context.Background(), testLeadID, TagStaticFirstDM)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_SaveQualificationNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newPostgresRepositoryWithDB(mock)

	args := []any{testLeadID}
	for i := 0; i < 16; i++ {
		args = append(args, pgxmock.AnyArg())
	}
	mock.ExpectExec("UPDATE leads SET").WithArgs(args...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = repo.SaveQualification(context.Background(), &Lead{ID: testLeadID})
	assert.True(t, errors.Is(err, ErrLeadNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_RecordActivity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newPostgresRepositoryWithDB(mock)
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("total_messages = total_messages").
		WithArgs(testLeadID, 2, "hi", "hello", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.RecordActivity(context.Background(), testLeadID, Activity{
		Messages: 2, CustomerMessage: "hi", BotMessage: "hello", At: at,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListBuildsFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newPostgresRepositoryWithDB(mock)
	now := time.Now().UTC()
	human := false

	mock.ExpectQuery("WHERE company_id = \\$1 AND status = \\$2 AND requires_human = \\$3 ORDER BY created_at DESC, id LIMIT \\$4 OFFSET \\$5").
		WithArgs("c1", "active", false, 50, 0).
		WillReturnRows(pgxmock.NewRows(leadColumnNames).
			AddRow(leadRow(now, nil, `{}`)...))

	got, err := repo.List(context.Background(), ListFilter{CompanyID: "c1", Status: StatusActive, RequiresHuman: &human})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Asha", got[0].CustomerName)
	assert.NotNil(t, got[0].Tags)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetByIDRejectsMalformedID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	repo := newPostgresRepositoryWithDB(mock)

	_, err = repo.GetByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrLeadNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
