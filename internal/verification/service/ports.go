package service

import (
	"context"

	"studentverify/internal/verification/events"
	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
)

// EmailVerifier reports whether the accounts service has confirmed a user's
// email. Consulted once, at initialization.
type EmailVerifier interface {
	IsEmailVerified(ctx context.Context, userID id.UserID) (bool, error)
}

// IdentityResolver supplies reviewer-facing identity for the pending queue.
// An unknown user is reported with sentinel.ErrNotFound.
type IdentityResolver interface {
	ResolveUserIdentity(ctx context.Context, userID id.UserID) (models.UserIdentity, error)
}

// EventPublisher receives domain events after the owning transaction commits.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}
