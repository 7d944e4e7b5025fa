package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "studentverify/pkg/domain"
)

func TestNowUsesInjectedTime(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ctx := WithTime(context.Background(), fixed)
	assert.Equal(t, fixed, Now(ctx))
}

func TestNowFallsBackToWallClock(t *testing.T) {
	before := time.Now().UTC()
	got := Now(context.Background())
	assert.False(t, got.Before(before))
}

func TestUserIDRoundTrip(t *testing.T) {
	assert.True(t, UserID(context.Background()).IsNil())

	userID := id.UserID(uuid.New())
	ctx := WithUserID(context.Background(), userID)
	assert.Equal(t, userID, UserID(ctx))
}

func TestRequestID(t *testing.T) {
	assert.Empty(t, RequestID(context.Background()))
	assert.Equal(t, "req-1", RequestID(WithRequestID(context.Background(), "req-1")))
}
