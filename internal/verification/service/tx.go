package service

import (
	"context"
	"sync"
	"time"

	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
)

// StoreTx runs fn as one atomic unit of store work scoped to a user.
// Postgres implementations carry a *sql.Tx in txCtx; the in-memory
// implementation serializes all work for the same user.
type StoreTx interface {
	RunInTx(ctx context.Context, scope id.UserID, fn func(txCtx context.Context) error) error
}

const (
	numShards        = 128
	defaultTxTimeout = 5 * time.Second
	txAbortedMessage = "transaction aborted: context cancelled"
)

// ShardedTx serializes mutations per user with a fixed pool of mutexes
// selected by an FNV-1a hash of the user id. It does not roll back writes
// made before fn returns an error.
type ShardedTx struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func NewShardedTx() *ShardedTx {
	return &ShardedTx{timeout: defaultTxTimeout}
}

func (t *ShardedTx) RunInTx(ctx context.Context, scope id.UserID, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, txAbortedMessage)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := &t.shards[shardFor(scope)]
	shard.Lock()
	defer shard.Unlock()

	// The wait for the shard may have outlived the deadline.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, txAbortedMessage)
	}

	return fn(ctx)
}

func shardFor(userID id.UserID) int {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for _, b := range userID {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return int(h % numShards)
}
