package pillar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

const pillarColumns = `id, user_id, kind, weight_percentage, completion_percentage, status, created_at, updated_at`

// PostgresStore persists pillars in verification_pillars. Reads issued inside
// a transaction lock the selected rows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) InitializePillars(ctx context.Context, userID id.UserID, pillars []*models.Pillar) error {
	exec := txcontext.Executor(ctx, s.db)

	var exists bool
	err := exec.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM verification_pillars WHERE user_id = $1)`,
		uuid.UUID(userID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check pillars: %w", err)
	}
	if exists {
		return sentinel.ErrAlreadyUsed
	}

	const query = `
		INSERT INTO verification_pillars (` + pillarColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, p := range pillars {
		_, err := exec.ExecContext(ctx, query,
			uuid.UUID(p.ID),
			uuid.UUID(p.UserID),
			string(p.Kind),
			p.WeightPercentage,
			p.CompletionPercentage,
			string(p.Status),
			p.CreatedAt,
			p.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return sentinel.ErrAlreadyUsed
			}
			return fmt.Errorf("insert pillar %s: %w", p.Kind, err)
		}
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Pillar, error) {
	kinds := make([]string, 0, len(models.PillarKinds))
	for _, k := range models.PillarKinds {
		kinds = append(kinds, string(k))
	}
	query := `
		SELECT ` + pillarColumns + `
		FROM verification_pillars
		WHERE user_id = $1
		ORDER BY array_position($2::text[], kind)
	` + lockClause(ctx)

	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, query, uuid.UUID(userID), pq.Array(kinds))
	if err != nil {
		return nil, fmt.Errorf("list pillars: %w", err)
	}
	defer rows.Close()

	var out []*models.Pillar
	for rows.Next() {
		p, err := scanPillar(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pillars: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindByUserAndKind(ctx context.Context, userID id.UserID, kind models.PillarKind) (*models.Pillar, error) {
	query := `
		SELECT ` + pillarColumns + `
		FROM verification_pillars
		WHERE user_id = $1 AND kind = $2
	` + lockClause(ctx)
	return s.findOne(ctx, query, uuid.UUID(userID), string(kind))
}

func (s *PostgresStore) FindByID(ctx context.Context, pillarID id.PillarID) (*models.Pillar, error) {
	query := `
		SELECT ` + pillarColumns + `
		FROM verification_pillars
		WHERE id = $1
	` + lockClause(ctx)
	return s.findOne(ctx, query, uuid.UUID(pillarID))
}

func (s *PostgresStore) SetStatus(ctx context.Context, pillarID id.PillarID, status models.PillarStatus, completion *int, now time.Time) error {
	var completionArg any
	if completion != nil {
		completionArg = *completion
	}
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		UPDATE verification_pillars
		SET status = $2,
		    completion_percentage = COALESCE($3::integer, completion_percentage),
		    updated_at = $4
		WHERE id = $1
	`, uuid.UUID(pillarID), string(status), completionArg, now)
	if err != nil {
		return fmt.Errorf("update pillar status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update pillar status: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Pillar, error) {
	p, err := scanPillar(txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPillar(row rowScanner) (*models.Pillar, error) {
	var (
		p            models.Pillar
		pid, userID  uuid.UUID
		kind, status string
	)
	if err := row.Scan(&pid, &userID, &kind, &p.WeightPercentage, &p.CompletionPercentage, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan pillar: %w", err)
	}
	p.ID = id.PillarID(pid)
	p.UserID = id.UserID(userID)
	p.Kind = models.PillarKind(kind)
	p.Status = models.PillarStatus(status)
	return &p, nil
}

func lockClause(ctx context.Context) string {
	if txcontext.InTx(ctx) {
		return " FOR UPDATE"
	}
	return ""
}
