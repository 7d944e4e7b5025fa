package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
)

func TestReviewRequestValidation(t *testing.T) {
	valid := func() ReviewRequest {
		return ReviewRequest{
			StepID:   id.StepID(uuid.New()),
			AdminID:  id.UserID(uuid.New()),
			Decision: StepStatusVerified,
			Notes:    "  documents match  ",
		}
	}

	t.Run("valid", func(t *testing.T) {
		r := valid()
		r.Normalize()
		require.NoError(t, r.Validate())
		assert.Equal(t, "documents match", r.Notes)
	})

	cases := map[string]func(r *ReviewRequest){
		"blank notes":      func(r *ReviewRequest) { r.Notes = "   " },
		"pending decision": func(r *ReviewRequest) { r.Decision = StepStatusPending },
		"unknown decision": func(r *ReviewRequest) { r.Decision = "approved" },
		"missing admin":    func(r *ReviewRequest) { r.AdminID = id.UserID{} },
		"zero version":     func(r *ReviewRequest) { v := int64(0); r.ExpectedVersion = &v },
		"missing step":     func(r *ReviewRequest) { r.StepID = id.StepID{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := valid()
			mutate(&r)
			r.Normalize()
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestUpdateStepStatusRequestValidation(t *testing.T) {
	stepID := id.StepID(uuid.New())
	blank := "  "

	r := UpdateStepStatusRequest{StepID: stepID, Status: StepStatusFailed, FailureReason: &blank}
	r.Normalize()
	require.NoError(t, r.Validate())
	assert.Nil(t, r.FailureReason)

	r = UpdateStepStatusRequest{StepID: stepID, Status: StepStatusNotVerified}
	assert.True(t, dErrors.HasCode(r.Validate(), dErrors.CodeValidation))

	r = UpdateStepStatusRequest{StepID: stepID, Status: "done"}
	assert.True(t, dErrors.HasCode(r.Validate(), dErrors.CodeValidation))
}

func TestUploadEvidenceRequestValidation(t *testing.T) {
	stepID := id.StepID(uuid.New())
	tests := []struct {
		url   string
		valid bool
	}{
		{"https://files.example.edu/id/front.png", true},
		{"s3://evidence-bucket/u1/transcript.pdf", true},
		{"http://localhost:9000/x", true},
		{"ftp://files.example.edu/a", false},
		{"/relative/path.png", false},
		{"https://", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			r := UploadEvidenceRequest{StepID: stepID, Type: " Student_ID ", URL: tt.url}
			r.Normalize()
			err := r.Validate()
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, "student_id", r.Type)
			} else {
				assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			}
		})
	}
}

func TestPendingFilterDefaults(t *testing.T) {
	f := PendingFilter{}
	f.Normalize()
	require.NoError(t, f.Validate())
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 20, f.Limit)
	assert.Equal(t, 0, f.Offset())

	f = PendingFilter{Page: 3, Limit: 10}
	assert.Equal(t, 20, f.Offset())

	for _, bad := range []PendingFilter{{Page: -1, Limit: 10}, {Page: 1, Limit: 101}, {Page: 1, Limit: -5}} {
		bad.Normalize()
		assert.True(t, dErrors.HasCode(bad.Validate(), dErrors.CodeValidation))
	}

	kind := PillarKind("finances")
	f = PendingFilter{PillarKind: &kind}
	f.Normalize()
	assert.True(t, dErrors.HasCode(f.Validate(), dErrors.CodeValidation))
}
