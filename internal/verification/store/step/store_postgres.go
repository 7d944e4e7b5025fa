package step

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	"studentverify/pkg/platform/sentinel"
	txcontext "studentverify/pkg/platform/tx"
)

const pgUniqueViolation = "23505"

const stepColumns = `id, user_id, pillar_id, pillar_kind, name, step_order, step_type, status,
	status_message, failure_reason, failure_suggestion, checklist, metadata,
	retry_count, max_retries, admin_reviewer_id, admin_review_notes, version,
	last_attempted_at, verified_at, created_at, updated_at`

// PostgresStore persists steps in verification_steps. Reads issued inside a
// transaction lock the selected rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, st *models.Step) error {
	checklist, err := json.Marshal(nonNilChecklist(st.Checklist))
	if err != nil {
		return fmt.Errorf("marshal checklist: %w", err)
	}
	metadata, err := json.Marshal(nonNilMetadata(st.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO verification_steps (
			id, user_id, pillar_id, pillar_kind, name, step_order, step_type, status,
			checklist, metadata, retry_count, max_retries, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'not_verified', $8, $9, 0, $10, 1, $11, $12)
	`,
		uuid.UUID(st.ID),
		uuid.UUID(st.UserID),
		uuid.UUID(st.PillarID),
		string(st.PillarKind),
		st.Name,
		st.Order,
		string(st.Type),
		checklist,
		metadata,
		st.MaxRetries,
		st.CreatedAt,
		st.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, stepID id.StepID) (*models.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM verification_steps WHERE id = $1` + lockClause(ctx)
	st, err := scanStep(txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(stepID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return st, err
}

func (s *PostgresStore) ListByPillar(ctx context.Context, pillarID id.PillarID) ([]*models.Step, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM verification_steps
		WHERE pillar_id = $1
		ORDER BY step_order ASC
	`
	return s.list(ctx, query, uuid.UUID(pillarID))
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Step, error) {
	kinds := make([]string, 0, len(models.PillarKinds))
	for _, k := range models.PillarKinds {
		kinds = append(kinds, string(k))
	}
	query := `
		SELECT ` + stepColumns + `
		FROM verification_steps
		WHERE user_id = $1
		ORDER BY array_position($2::text[], pillar_kind), step_order ASC
	`
	return s.list(ctx, query, uuid.UUID(userID), pq.Array(kinds))
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, stepID id.StepID, status models.StepStatus, f models.StepUpdate, now time.Time) (*models.Step, error) {
	var reviewer any
	if f.AdminReviewerID != nil {
		reviewer = uuid.UUID(*f.AdminReviewerID)
	}
	query := `
		UPDATE verification_steps
		SET status = $2,
		    status_message = COALESCE($3::text, status_message),
		    failure_reason = COALESCE($4::text, failure_reason),
		    failure_suggestion = COALESCE($5::text, failure_suggestion),
		    last_attempted_at = COALESCE($6::timestamptz, last_attempted_at),
		    verified_at = COALESCE($7::timestamptz, verified_at),
		    retry_count = COALESCE($8::integer, retry_count),
		    admin_reviewer_id = COALESCE($9::uuid, admin_reviewer_id),
		    admin_review_notes = COALESCE($10::text, admin_review_notes),
		    updated_at = $11,
		    version = version + 1
		WHERE id = $1
		RETURNING ` + stepColumns

	st, err := scanStep(txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(stepID),
		string(status),
		optional(f.StatusMessage),
		optional(f.FailureReason),
		optional(f.FailureSuggestion),
		optional(f.LastAttemptedAt),
		optional(f.VerifiedAt),
		optional(f.RetryCount),
		reviewer,
		optional(f.AdminReviewNotes),
		now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return st, err
}

// RecordRetry spends one unit of retry budget atomically; the budget check and
// the increment happen in the same statement.
func (s *PostgresStore) RecordRetry(ctx context.Context, stepID id.StepID, now time.Time) (*models.Step, error) {
	exec := txcontext.Executor(ctx, s.db)
	query := `
		UPDATE verification_steps
		SET retry_count = retry_count + 1,
		    status = 'pending',
		    last_attempted_at = $2,
		    updated_at = $2,
		    version = version + 1
		WHERE id = $1 AND retry_count < max_retries
		RETURNING ` + stepColumns

	st, err := scanStep(exec.QueryRowContext(ctx, query, uuid.UUID(stepID), now))
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM verification_steps WHERE id = $1)`, uuid.UUID(stepID),
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check step: %w", err)
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return nil, ErrRetryNotAllowed
}

func (s *PostgresStore) CanRetry(ctx context.Context, stepID id.StepID) (bool, error) {
	var can bool
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT retry_count < max_retries FROM verification_steps WHERE id = $1`, uuid.UUID(stepID),
	).Scan(&can)
	if errors.Is(err, sql.ErrNoRows) {
		return false, sentinel.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check retry budget: %w", err)
	}
	return can, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, filter models.PendingFilter) ([]*models.Step, int, error) {
	where := []string{"status = 'pending'"}
	var args []any
	if filter.PillarKind != nil {
		args = append(args, string(*filter.PillarKind))
		where = append(where, fmt.Sprintf("pillar_kind = $%d", len(args)))
	}
	if filter.StepName != "" {
		args = append(args, filter.StepName)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	exec := txcontext.Executor(ctx, s.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_steps WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pending steps: %w", err)
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset())
	query := fmt.Sprintf(`
		SELECT %s
		FROM verification_steps
		WHERE %s
		ORDER BY last_attempted_at DESC NULLS LAST, created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, stepColumns, cond, len(args)+1, len(args)+2)

	steps, err := s.list(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return steps, total, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.Step, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []*models.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (*models.Step, error) {
	var (
		st                             models.Step
		stepID, userID, pillarID       uuid.UUID
		kind, stepType, status         string
		msg, reason, suggestion, notes sql.NullString
		checklist, metadata            []byte
		reviewer                       uuid.NullUUID
		lastAttempted, verifiedAt      sql.NullTime
	)
	err := row.Scan(
		&stepID, &userID, &pillarID, &kind, &st.Name, &st.Order, &stepType, &status,
		&msg, &reason, &suggestion, &checklist, &metadata,
		&st.RetryCount, &st.MaxRetries, &reviewer, &notes, &st.Version,
		&lastAttempted, &verifiedAt, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan step: %w", err)
	}

	st.ID = id.StepID(stepID)
	st.UserID = id.UserID(userID)
	st.PillarID = id.PillarID(pillarID)
	st.PillarKind = models.PillarKind(kind)
	st.Type = models.StepType(stepType)
	st.Status = models.StepStatus(status)
	st.StatusMessage = nullString(msg)
	st.FailureReason = nullString(reason)
	st.FailureSuggestion = nullString(suggestion)
	st.AdminReviewNotes = nullString(notes)
	if reviewer.Valid {
		r := id.UserID(reviewer.UUID)
		st.AdminReviewerID = &r
	}
	if lastAttempted.Valid {
		t := lastAttempted.Time
		st.LastAttemptedAt = &t
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		st.VerifiedAt = &t
	}
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &st.Checklist); err != nil {
			return nil, fmt.Errorf("decode checklist: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &st.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		if len(st.Metadata) == 0 {
			st.Metadata = nil
		}
	}
	return &st, nil
}

func optional[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nonNilChecklist(c []models.ChecklistItem) []models.ChecklistItem {
	if c == nil {
		return []models.ChecklistItem{}
	}
	return c
}

func nonNilMetadata(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func lockClause(ctx context.Context) string {
	if txcontext.InTx(ctx) {
		return " FOR UPDATE"
	}
	return ""
}
