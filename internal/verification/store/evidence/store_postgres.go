package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	"studentverify/pkg/platform/sentinel"
	txcontext "studentverify/pkg/platform/tx"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists evidence in verification_evidence. Rows are never
// updated or deleted.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Add(ctx context.Context, ev *models.Evidence) error {
	var metadata []byte
	if ev.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(ev.Metadata); err != nil {
			return fmt.Errorf("marshal evidence metadata: %w", err)
		}
	}

	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO verification_evidence (id, step_id, evidence_type, url, metadata, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.UUID(ev.ID), uuid.UUID(ev.StepID), ev.Type, ev.URL, metadata, ev.UploadedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return sentinel.ErrAlreadyUsed
			case pgForeignKeyViolation:
				return sentinel.ErrNotFound
			}
		}
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByStep(ctx context.Context, stepID id.StepID) ([]*models.Evidence, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT id, step_id, evidence_type, url, metadata, uploaded_at
		FROM verification_evidence
		WHERE step_id = $1
		ORDER BY uploaded_at DESC, id DESC
	`, uuid.UUID(stepID))
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	out := []*models.Evidence{}
	for rows.Next() {
		var (
			ev         models.Evidence
			evID, step uuid.UUID
			metadata   []byte
		)
		if err := rows.Scan(&evID, &step, &ev.Type, &ev.URL, &metadata, &ev.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		ev.ID = id.EvidenceID(evID)
		ev.StepID = id.StepID(step)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode evidence metadata: %w", err)
			}
		}
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return out, nil
}

// CountByStepIDs counts evidence for many steps in one round trip.
func (s *PostgresStore) CountByStepIDs(ctx context.Context, stepIDs []id.StepID) (map[id.StepID]int, error) {
	out := make(map[id.StepID]int)
	if len(stepIDs) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(stepIDs))
	for _, sid := range stepIDs {
		ids = append(ids, sid.String())
	}

	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT step_id, COUNT(*)
		FROM verification_evidence
		WHERE step_id = ANY($1::uuid[])
		GROUP BY step_id
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("count evidence: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			sid uuid.UUID
			n   int
		)
		if err := rows.Scan(&sid, &n); err != nil {
			return nil, fmt.Errorf("scan evidence count: %w", err)
		}
		out[id.StepID(sid)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence counts: %w", err)
	}
	return out, nil
}
