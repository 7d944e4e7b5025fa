package models

import (
	"time"

	id "studentverify/pkg/domain"
)

// DefaultMaxRetries applies when the catalog does not set a step budget.
const DefaultMaxRetries = 3

// Pillar is one weighted verification category for a user.
//
// Invariants:
//   - exactly one pillar per (UserID, Kind); all four are created together
//   - the four weights of a user sum to 100
//   - CompletionPercentage and Status are only written by recomputation
type Pillar struct {
	ID                   id.PillarID  `json:"id"`
	UserID               id.UserID    `json:"user_id"`
	Kind                 PillarKind   `json:"kind"`
	WeightPercentage     int          `json:"weight_percentage"`
	CompletionPercentage int          `json:"completion_percentage"`
	Status               PillarStatus `json:"status"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// ChecklistItem is a descriptive requirement; the engine does not enforce it.
type ChecklistItem struct {
	Requirement string `json:"requirement"`
	Met         bool   `json:"met"`
}

// Step is a unit of verification work inside a pillar.
// PillarID, PillarKind, Name, Order and Type are fixed at creation.
type Step struct {
	ID                id.StepID       `json:"id"`
	UserID            id.UserID       `json:"user_id"`
	PillarID          id.PillarID     `json:"pillar_id"`
	PillarKind        PillarKind      `json:"pillar_kind"`
	Name              string          `json:"name"`
	Order             int             `json:"order"`
	Type              StepType        `json:"type"`
	Status            StepStatus      `json:"status"`
	StatusMessage     *string         `json:"status_message,omitempty"`
	FailureReason     *string         `json:"failure_reason,omitempty"`
	FailureSuggestion *string         `json:"failure_suggestion,omitempty"`
	Checklist         []ChecklistItem `json:"checklist"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	RetryCount        int             `json:"retry_count"`
	MaxRetries        int             `json:"max_retries"`
	AdminReviewerID   *id.UserID      `json:"admin_reviewer_id,omitempty"`
	AdminReviewNotes  *string         `json:"admin_review_notes,omitempty"`
	Version           int64           `json:"version"`
	LastAttemptedAt   *time.Time      `json:"last_attempted_at,omitempty"`
	VerifiedAt        *time.Time      `json:"verified_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CanRetry reports whether the retry budget still has room.
func (s *Step) CanRetry() bool {
	return s.RetryCount < s.MaxRetries
}

// Attempted is true once the step has been acted on in any way.
func (s *Step) Attempted() bool {
	return s.Status.Attempted() || s.LastAttemptedAt != nil
}

// Clone returns a deep copy so in-memory stores never share mutable state with callers.
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	c := *s
	c.StatusMessage = cloneString(s.StatusMessage)
	c.FailureReason = cloneString(s.FailureReason)
	c.FailureSuggestion = cloneString(s.FailureSuggestion)
	c.AdminReviewNotes = cloneString(s.AdminReviewNotes)
	if s.AdminReviewerID != nil {
		v := *s.AdminReviewerID
		c.AdminReviewerID = &v
	}
	c.LastAttemptedAt = cloneTime(s.LastAttemptedAt)
	c.VerifiedAt = cloneTime(s.VerifiedAt)
	if s.Checklist != nil {
		c.Checklist = append([]ChecklistItem(nil), s.Checklist...)
	}
	c.Metadata = CloneMetadata(s.Metadata)
	return &c
}

// StepUpdate carries the optional fields written alongside a status change.
// Nil fields are left untouched.
type StepUpdate struct {
	StatusMessage     *string
	FailureReason     *string
	FailureSuggestion *string
	LastAttemptedAt   *time.Time
	VerifiedAt        *time.Time
	RetryCount        *int
	AdminReviewerID   *id.UserID
	AdminReviewNotes  *string
}

// Apply writes status and the supplied fields, stamps UpdatedAt and bumps Version.
func (s *Step) Apply(status StepStatus, u StepUpdate, now time.Time) {
	s.Status = status
	if u.StatusMessage != nil {
		s.StatusMessage = cloneString(u.StatusMessage)
	}
	if u.FailureReason != nil {
		s.FailureReason = cloneString(u.FailureReason)
	}
	if u.FailureSuggestion != nil {
		s.FailureSuggestion = cloneString(u.FailureSuggestion)
	}
	if u.LastAttemptedAt != nil {
		s.LastAttemptedAt = cloneTime(u.LastAttemptedAt)
	}
	if u.VerifiedAt != nil {
		s.VerifiedAt = cloneTime(u.VerifiedAt)
	}
	if u.RetryCount != nil {
		s.RetryCount = *u.RetryCount
	}
	if u.AdminReviewerID != nil {
		v := *u.AdminReviewerID
		s.AdminReviewerID = &v
	}
	if u.AdminReviewNotes != nil {
		s.AdminReviewNotes = cloneString(u.AdminReviewNotes)
	}
	s.UpdatedAt = now
	s.Version++
}

// Evidence is an append-only proof reference bound to one step.
type Evidence struct {
	ID         id.EvidenceID  `json:"id"`
	StepID     id.StepID      `json:"step_id"`
	Type       string         `json:"type"`
	URL        string         `json:"url"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	UploadedAt time.Time      `json:"uploaded_at"`
}

// UserIdentity is the minimal identity shown to reviewers.
type UserIdentity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func CloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
