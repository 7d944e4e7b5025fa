// Package events publishes verification domain events after a mutation commits.
//
// Delivery is best effort: the engine logs and counts publish failures but
// never rolls back a committed transition because a broker is unavailable.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
)

type Type string

const (
	TypeCenterInitialized Type = "center_initialized"
	TypeStepTransitioned  Type = "step_transitioned"
	TypeEvidenceUploaded  Type = "evidence_uploaded"
	TypeCenterVerified    Type = "center_verified"
)

// Event is the wire payload written to the verification topic.
type Event struct {
	ID         string              `json:"id"`
	Type       Type                `json:"type"`
	UserID     id.UserID           `json:"user_id"`
	StepID     *id.StepID          `json:"step_id,omitempty"`
	StepName   string              `json:"step_name,omitempty"`
	PillarKind models.PillarKind   `json:"pillar_kind,omitempty"`
	FromStatus models.StepStatus   `json:"from_status,omitempty"`
	ToStatus   models.StepStatus   `json:"to_status,omitempty"`
	Via        models.Transition   `json:"via,omitempty"`
	ActorID    *id.UserID          `json:"actor_id,omitempty"`
	Pillar     models.PillarStatus `json:"pillar_status,omitempty"`
	Overall    *int                `json:"overall_percentage,omitempty"`
	RequestID  string              `json:"request_id,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// New stamps a fresh event id.
func New(kind Type, userID id.UserID, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       kind,
		UserID:     userID,
		OccurredAt: at,
	}
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
