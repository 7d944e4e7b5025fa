package models

import (
	"net/url"
	"strings"

	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
)

const (
	DefaultPendingPage  = 1
	DefaultPendingLimit = 20
	MaxPendingLimit     = 100

	maxNotesLength        = 4000
	maxMessageLength      = 1000
	maxEvidenceTypeLength = 64
	maxEvidenceURLLength  = 2048
)

// UpdateStepStatusRequest is issued by automated and external checkers.
type UpdateStepStatusRequest struct {
	StepID            id.StepID
	Status            StepStatus
	StatusMessage     *string
	FailureReason     *string
	FailureSuggestion *string
}

func (r *UpdateStepStatusRequest) Normalize() {
	r.StatusMessage = trimOptional(r.StatusMessage)
	r.FailureReason = trimOptional(r.FailureReason)
	r.FailureSuggestion = trimOptional(r.FailureSuggestion)
}

func (r *UpdateStepStatusRequest) Validate() error {
	if r.StepID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "step_id is required")
	}
	if !r.Status.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid step status")
	}
	if r.Status == StepStatusNotVerified {
		return dErrors.New(dErrors.CodeValidation, "a step cannot be reset to not_verified")
	}
	for _, field := range []*string{r.StatusMessage, r.FailureReason, r.FailureSuggestion} {
		if field != nil && len(*field) > maxMessageLength {
			return dErrors.New(dErrors.CodeValidation, "message fields must be at most 1000 characters")
		}
	}
	return nil
}

// ReviewRequest is an administrator's terminal decision on a step.
type ReviewRequest struct {
	StepID   id.StepID
	AdminID  id.UserID
	Decision StepStatus
	Notes    string
	// ExpectedVersion, when set, rejects the review if the step changed since the reviewer loaded it.
	ExpectedVersion *int64
}

func (r *ReviewRequest) Normalize() {
	r.Notes = strings.TrimSpace(r.Notes)
}

func (r *ReviewRequest) Validate() error {
	if r.StepID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "step_id is required")
	}
	if r.AdminID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "admin_id is required")
	}
	if r.Decision != StepStatusVerified && r.Decision != StepStatusFailed {
		return dErrors.New(dErrors.CodeValidation, "decision must be verified or failed")
	}
	if r.Notes == "" {
		return dErrors.New(dErrors.CodeValidation, "review notes are required")
	}
	if len(r.Notes) > maxNotesLength {
		return dErrors.New(dErrors.CodeValidation, "review notes must be at most 4000 characters")
	}
	if r.ExpectedVersion != nil && *r.ExpectedVersion < 1 {
		return dErrors.New(dErrors.CodeValidation, "expected_version must be positive")
	}
	return nil
}

// UploadEvidenceRequest attaches a proof reference to a step.
type UploadEvidenceRequest struct {
	StepID   id.StepID
	Type     string
	URL      string
	Metadata map[string]any
}

func (r *UploadEvidenceRequest) Normalize() {
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	r.URL = strings.TrimSpace(r.URL)
}

func (r *UploadEvidenceRequest) Validate() error {
	if r.StepID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "step_id is required")
	}
	if r.Type == "" {
		return dErrors.New(dErrors.CodeValidation, "evidence type is required")
	}
	if len(r.Type) > maxEvidenceTypeLength {
		return dErrors.New(dErrors.CodeValidation, "evidence type must be at most 64 characters")
	}
	if r.URL == "" {
		return dErrors.New(dErrors.CodeValidation, "evidence url is required")
	}
	if len(r.URL) > maxEvidenceURLLength {
		return dErrors.New(dErrors.CodeValidation, "evidence url is too long")
	}
	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return dErrors.New(dErrors.CodeValidation, "evidence url must be absolute")
	}
	switch u.Scheme {
	case "http", "https", "s3":
	default:
		return dErrors.New(dErrors.CodeValidation, "evidence url scheme must be http, https or s3")
	}
	return nil
}

// PendingFilter selects rows of the reviewer queue.
type PendingFilter struct {
	PillarKind *PillarKind
	StepName   string
	Page       int
	Limit      int
}

// Normalize applies paging defaults; explicit out-of-range values are left for Validate.
func (f *PendingFilter) Normalize() {
	f.StepName = strings.TrimSpace(f.StepName)
	if f.Page == 0 {
		f.Page = DefaultPendingPage
	}
	if f.Limit == 0 {
		f.Limit = DefaultPendingLimit
	}
}

func (f *PendingFilter) Validate() error {
	if f.Page < 1 {
		return dErrors.New(dErrors.CodeValidation, "page must be at least 1")
	}
	if f.Limit < 1 || f.Limit > MaxPendingLimit {
		return dErrors.New(dErrors.CodeValidation, "limit must be between 1 and 100")
	}
	if f.PillarKind != nil && !f.PillarKind.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown pillar kind")
	}
	return nil
}

// Offset is the row offset of the current page.
func (f PendingFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

func trimOptional(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
