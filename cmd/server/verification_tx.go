package main

import (
	"context"
	"database/sql"
	"encoding/binary"
	"time"

	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
	txcontext "studentverify/pkg/platform/tx"
)

const defaultVerificationTxTimeout = 5 * time.Second

// verificationPostgresTx runs engine work in one SQL transaction holding a
// transaction-scoped advisory lock on the user, so concurrent mutations for
// the same user are applied one after another.
type verificationPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newVerificationPostgresTx(db *sql.DB) *verificationPostgresTx {
	return &verificationPostgresTx{db: db}
}

func (t *verificationPostgresTx) RunInTx(ctx context.Context, scope id.UserID, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	// Nested calls join the outer transaction.
	if txcontext.InTx(ctx) {
		return fn(ctx)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultVerificationTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(scope)); err != nil {
		return err
	}

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

func advisoryKey(userID id.UserID) int64 {
	return int64(binary.BigEndian.Uint64(userID[:8])) //nolint:gosec // wraparound is fine for a lock key
}
