// Package adapters connects the verification engine to the accounts data it
// reads but does not own.
package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	"studentverify/pkg/platform/sentinel"
)

// PostgresDirectory reads the accounts users table.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) IsEmailVerified(ctx context.Context, userID id.UserID) (bool, error) {
	var verified bool
	err := d.db.QueryRowContext(ctx,
		`SELECT email_verified FROM users WHERE id = $1`, uuid.UUID(userID),
	).Scan(&verified)
	if errors.Is(err, sql.ErrNoRows) {
		return false, sentinel.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("find user email status: %w", err)
	}
	return verified, nil
}

func (d *PostgresDirectory) ResolveUserIdentity(ctx context.Context, userID id.UserID) (models.UserIdentity, error) {
	var first, last, email string
	err := d.db.QueryRowContext(ctx,
		`SELECT first_name, last_name, email FROM users WHERE id = $1`, uuid.UUID(userID),
	).Scan(&first, &last, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserIdentity{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.UserIdentity{}, fmt.Errorf("find user identity: %w", err)
	}
	return models.UserIdentity{Name: fullName(first, last), Email: email}, nil
}

func fullName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
