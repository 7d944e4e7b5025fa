package models

import (
	"fmt"

	dErrors "studentverify/pkg/domain-errors"
)

// PillarKind names one of the four fixed verification pillars.
type PillarKind string

const (
	PillarPersonalInfo PillarKind = "personal_info"
	PillarAcademicInfo PillarKind = "academic_info"
	PillarDocuments    PillarKind = "documents"
	PillarSchool       PillarKind = "school"
)

// PillarKinds lists every pillar in display order.
var PillarKinds = []PillarKind{PillarPersonalInfo, PillarAcademicInfo, PillarDocuments, PillarSchool}

func (k PillarKind) IsValid() bool {
	switch k {
	case PillarPersonalInfo, PillarAcademicInfo, PillarDocuments, PillarSchool:
		return true
	}
	return false
}

// Rank is the display position of the pillar, or len(PillarKinds) when unknown.
func (k PillarKind) Rank() int {
	for i, kind := range PillarKinds {
		if kind == k {
			return i
		}
	}
	return len(PillarKinds)
}

func ParsePillarKind(s string) (PillarKind, error) {
	k := PillarKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown pillar kind %q", s))
	}
	return k, nil
}

// PillarStatus is derived from the pillar's step set; it is never set directly.
type PillarStatus string

const (
	PillarStatusNotVerified PillarStatus = "not_verified"
	PillarStatusInProgress  PillarStatus = "in_progress"
	PillarStatusVerified    PillarStatus = "verified"
)

func (s PillarStatus) IsValid() bool {
	switch s {
	case PillarStatusNotVerified, PillarStatusInProgress, PillarStatusVerified:
		return true
	}
	return false
}

// StepType records who performs a check. It does not alter the lifecycle.
type StepType string

const (
	StepTypeAutomatic StepType = "automatic"
	StepTypeManual    StepType = "manual"
	StepTypeExternal  StepType = "external"
)

func (t StepType) IsValid() bool {
	switch t {
	case StepTypeAutomatic, StepTypeManual, StepTypeExternal:
		return true
	}
	return false
}

type StepStatus string

const (
	StepStatusNotVerified StepStatus = "not_verified"
	StepStatusPending     StepStatus = "pending"
	StepStatusFailed      StepStatus = "failed"
	StepStatusVerified    StepStatus = "verified"
)

func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusNotVerified, StepStatusPending, StepStatusFailed, StepStatusVerified:
		return true
	}
	return false
}

func (s StepStatus) IsTerminal() bool {
	return s == StepStatusVerified
}

// Attempted reports whether the step has left its initial state.
func (s StepStatus) Attempted() bool {
	return s != StepStatusNotVerified
}

func ParseStepStatus(s string) (StepStatus, error) {
	st := StepStatus(s)
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("invalid step status %q", s))
	}
	return st, nil
}

// Transition identifies the operation requesting a status change. The same
// target status can be legal through one path and illegal through another.
type Transition string

const (
	TransitionUpdate      Transition = "update"
	TransitionRetry       Transition = "retry"
	TransitionAdminReview Transition = "admin_review"
)

// CanTransitionTo enforces the step lifecycle:
//
//	not_verified -> pending | failed | verified
//	pending      -> pending | failed | verified
//	failed       -> failed                     (update)
//	failed       -> pending                    (retry)
//	failed       -> verified | failed          (admin review)
//	verified     -> nothing
//
// not_verified is never a target.
func (s StepStatus) CanTransitionTo(target StepStatus, via Transition) bool {
	if s.IsTerminal() || !s.IsValid() {
		return false
	}
	switch via {
	case TransitionRetry:
		return target == StepStatusPending
	case TransitionAdminReview:
		return target == StepStatusVerified || target == StepStatusFailed
	case TransitionUpdate:
		switch s {
		case StepStatusNotVerified, StepStatusPending:
			return target == StepStatusPending || target == StepStatusFailed || target == StepStatusVerified
		case StepStatusFailed:
			return target == StepStatusFailed
		}
	}
	return false
}
