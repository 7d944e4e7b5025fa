package step

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	"studentverify/pkg/platform/sentinel"
)

var stepColumnNames = []string{
	"id", "user_id", "pillar_id", "pillar_kind", "name", "step_order", "step_type", "status",
	"status_message", "failure_reason", "failure_suggestion", "checklist", "metadata",
	"retry_count", "max_retries", "admin_reviewer_id", "admin_review_notes", "version",
	"last_attempted_at", "verified_at", "created_at", "updated_at",
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func stepRow(stepID id.StepID, status string, retries int, lastAttempted any) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(stepColumnNames).AddRow(
		stepID.String(), uuid.NewString(), uuid.NewString(), "documents", "Content Match", 2, "automatic", status,
		"checking", nil, nil, []byte(`[{"requirement":"Student name matches profile","met":true}]`), []byte(`{}`),
		retries, 3, nil, nil, int64(4),
		lastAttempted, nil, now, now,
	)
}

func TestPostgresFindByIDDecodesRow(t *testing.T) {
	db, mock := newMock(t)
	stepID := id.StepID(uuid.New())
	attempted := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT .+ FROM verification_steps WHERE id = \$1$`).
		WithArgs(stepID.String()).
		WillReturnRows(stepRow(stepID, "pending", 1, attempted))

	st, err := NewPostgres(db).FindByID(context.Background(), stepID)
	require.NoError(t, err)
	assert.Equal(t, stepID, st.ID)
	assert.Equal(t, models.PillarDocuments, st.PillarKind)
	assert.Equal(t, models.StepStatusPending, st.Status)
	assert.Equal(t, "checking", *st.StatusMessage)
	assert.Nil(t, st.FailureReason)
	assert.Nil(t, st.AdminReviewerID)
	assert.Nil(t, st.Metadata)
	assert.Equal(t, []models.ChecklistItem{{Requirement: "Student name matches profile", Met: true}}, st.Checklist)
	assert.Equal(t, attempted, *st.LastAttemptedAt)
	assert.Equal(t, int64(4), st.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFindByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM verification_steps`).WillReturnRows(sqlmock.NewRows(stepColumnNames))

	_, err := NewPostgres(db).FindByID(context.Background(), id.StepID(uuid.New()))
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresRecordRetry(t *testing.T) {
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	t.Run("spends budget", func(t *testing.T) {
		db, mock := newMock(t)
		stepID := id.StepID(uuid.New())
		mock.ExpectQuery(`UPDATE verification_steps\s+SET retry_count = retry_count \+ 1`).
			WithArgs(stepID.String(), now).
			WillReturnRows(stepRow(stepID, "pending", 2, now))

		st, err := NewPostgres(db).RecordRetry(context.Background(), stepID, now)
		require.NoError(t, err)
		assert.Equal(t, 2, st.RetryCount)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted budget", func(t *testing.T) {
		db, mock := newMock(t)
		stepID := id.StepID(uuid.New())
		mock.ExpectQuery(`UPDATE verification_steps`).WillReturnRows(sqlmock.NewRows(stepColumnNames))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs(stepID.String()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := NewPostgres(db).RecordRetry(context.Background(), stepID, now)
		require.ErrorIs(t, err, ErrRetryNotAllowed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown step", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(`UPDATE verification_steps`).WillReturnRows(sqlmock.NewRows(stepColumnNames))
		mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := NewPostgres(db).RecordRetry(context.Background(), id.StepID(uuid.New()), now)
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestPostgresUpdateStatusPassesOnlySuppliedFields(t *testing.T) {
	db, mock := newMock(t)
	stepID := id.StepID(uuid.New())
	reviewer := id.UserID(uuid.New())
	notes := "registrar letter verified"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE verification_steps\s+SET status = \$2`).
		WithArgs(stepID.String(), "verified", nil, nil, nil, now, now, nil, reviewer.String(), notes, now).
		WillReturnRows(stepRow(stepID, "verified", 0, now))

	_, err := NewPostgres(db).UpdateStatus(context.Background(), stepID, models.StepStatusVerified, models.StepUpdate{
		LastAttemptedAt:  &now,
		VerifiedAt:       &now,
		AdminReviewerID:  &reviewer,
		AdminReviewNotes: &notes,
	}, now)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListPendingBuildsFilters(t *testing.T) {
	db, mock := newMock(t)
	kind := models.PillarDocuments
	filter := models.PendingFilter{PillarKind: &kind, StepName: "Content Match", Page: 2, Limit: 5}

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM verification_steps WHERE status = 'pending' AND pillar_kind = \$1 AND name = \$2`).
		WithArgs("documents", "Content Match").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))
	mock.ExpectQuery(`ORDER BY last_attempted_at DESC NULLS LAST, created_at DESC, id\s+LIMIT \$3 OFFSET \$4`).
		WithArgs("documents", "Content Match", 5, 5).
		WillReturnRows(stepRow(id.StepID(uuid.New()), "pending", 0, nil))

	steps, total, err := NewPostgres(db).ListPending(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, steps, 1)
	assert.Nil(t, steps[0].LastAttemptedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}
