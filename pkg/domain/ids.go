// Package domain holds the typed identifiers shared across the verification core.
//
// Every ID is a uuid under a distinct named type so a StepID can never be passed
// where a PillarID is expected. Construct them from external input only through
// the Parse* functions, which reject empty, malformed and nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "studentverify/pkg/domain-errors"
)

type (
	UserID     uuid.UUID
	PillarID   uuid.UUID
	StepID     uuid.UUID
	EvidenceID uuid.UUID
)

func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return parsed, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

func ParsePillarID(s string) (PillarID, error) {
	u, err := parseUUID(s, "pillar id")
	return PillarID(u), err
}

func ParseStepID(s string) (StepID, error) {
	u, err := parseUUID(s, "step id")
	return StepID(u), err
}

func ParseEvidenceID(s string) (EvidenceID, error) {
	u, err := parseUUID(s, "evidence id")
	return EvidenceID(u), err
}

func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id PillarID) String() string   { return uuid.UUID(id).String() }
func (id StepID) String() string     { return uuid.UUID(id).String() }
func (id EvidenceID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id PillarID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id StepID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EvidenceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText lets typed IDs serialize as canonical UUID strings in JSON.
func (id UserID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id PillarID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id StepID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id EvidenceID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PillarID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *StepID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EvidenceID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
