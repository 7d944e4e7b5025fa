package handler

import (
	"strings"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
)

// Body DTOs carry only what arrives in JSON; path parameters are merged in
// by toModel. The service re-validates the merged request.

type updateStatusBody struct {
	Status            string  `json:"status"`
	StatusMessage     *string `json:"status_message,omitempty"`
	FailureReason     *string `json:"failure_reason,omitempty"`
	FailureSuggestion *string `json:"failure_suggestion,omitempty"`
}

func (b *updateStatusBody) Normalize() {
	b.Status = strings.ToLower(strings.TrimSpace(b.Status))
}

func (b *updateStatusBody) Validate() error {
	if b.Status == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	_, err := models.ParseStepStatus(b.Status)
	return err
}

func (b *updateStatusBody) toModel(stepID id.StepID) *models.UpdateStepStatusRequest {
	return &models.UpdateStepStatusRequest{
		StepID:            stepID,
		Status:            models.StepStatus(b.Status),
		StatusMessage:     b.StatusMessage,
		FailureReason:     b.FailureReason,
		FailureSuggestion: b.FailureSuggestion,
	}
}

type reviewBody struct {
	AdminID         string `json:"admin_id"`
	Decision        string `json:"decision"`
	Notes           string `json:"notes"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`

	adminID id.UserID
}

func (b *reviewBody) Normalize() {
	b.AdminID = strings.TrimSpace(b.AdminID)
	b.Decision = strings.ToLower(strings.TrimSpace(b.Decision))
}

func (b *reviewBody) Validate() error {
	adminID, err := id.ParseUserID(b.AdminID)
	if err != nil {
		return dErrors.New(dErrors.CodeValidation, "admin_id must be a valid user id")
	}
	b.adminID = adminID
	return nil
}

func (b *reviewBody) toModel(stepID id.StepID) *models.ReviewRequest {
	return &models.ReviewRequest{
		StepID:          stepID,
		AdminID:         b.adminID,
		Decision:        models.StepStatus(b.Decision),
		Notes:           b.Notes,
		ExpectedVersion: b.ExpectedVersion,
	}
}

type evidenceBody struct {
	Type     string         `json:"type"`
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (b *evidenceBody) Normalize() {
	b.Type = strings.TrimSpace(b.Type)
	b.URL = strings.TrimSpace(b.URL)
}

func (b *evidenceBody) Validate() error {
	if b.Type == "" || b.URL == "" {
		return dErrors.New(dErrors.CodeValidation, "type and url are required")
	}
	return nil
}

func (b *evidenceBody) toModel(stepID id.StepID) *models.UploadEvidenceRequest {
	return &models.UploadEvidenceRequest{
		StepID:   stepID,
		Type:     b.Type,
		URL:      b.URL,
		Metadata: b.Metadata,
	}
}
