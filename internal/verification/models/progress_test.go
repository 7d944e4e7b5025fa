package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func steps(statuses ...StepStatus) []*Step {
	out := make([]*Step, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, &Step{Status: s})
	}
	return out
}

func TestPillarProgress(t *testing.T) {
	tests := []struct {
		name       string
		steps      []*Step
		completion int
		status     PillarStatus
	}{
		{"no steps", nil, 0, PillarStatusNotVerified},
		{"untouched", steps(StepStatusNotVerified, StepStatusNotVerified, StepStatusNotVerified), 0, PillarStatusNotVerified},
		{"one of three verified", steps(StepStatusNotVerified, StepStatusVerified, StepStatusNotVerified), 33, PillarStatusInProgress},
		{"two of three verified", steps(StepStatusVerified, StepStatusVerified, StepStatusPending), 67, PillarStatusInProgress},
		{"attempted only", steps(StepStatusFailed, StepStatusNotVerified), 0, PillarStatusInProgress},
		{"half", steps(StepStatusVerified, StepStatusPending), 50, PillarStatusInProgress},
		{"all verified", steps(StepStatusVerified, StepStatusVerified, StepStatusVerified), 100, PillarStatusVerified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completion, status := PillarProgress(tt.steps)
			assert.Equal(t, tt.completion, completion)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestPillarProgressCountsLastAttemptedAt(t *testing.T) {
	now := time.Now()
	_, status := PillarProgress([]*Step{{Status: StepStatusNotVerified, LastAttemptedAt: &now}})
	assert.Equal(t, PillarStatusInProgress, status)
}

func pillars(completions ...int) []*Pillar {
	out := make([]*Pillar, 0, len(completions))
	for _, c := range completions {
		status := PillarStatusNotVerified
		if c == 100 {
			status = PillarStatusVerified
		} else if c > 0 {
			status = PillarStatusInProgress
		}
		out = append(out, &Pillar{WeightPercentage: 25, CompletionPercentage: c, Status: status})
	}
	return out
}

func TestOverallPercentage(t *testing.T) {
	assert.Equal(t, 0, OverallPercentage(pillars(0, 0, 0, 0)))
	assert.Equal(t, 8, OverallPercentage(pillars(33, 0, 0, 0)))
	assert.Equal(t, 25, OverallPercentage(pillars(100, 0, 0, 0)))
	assert.Equal(t, 100, OverallPercentage(pillars(100, 100, 100, 100)))
	assert.Equal(t, 0, OverallPercentage(nil))
}

func TestFullyVerifiedUsesStatuses(t *testing.T) {
	assert.True(t, FullyVerified(pillars(100, 100, 100, 100)))
	assert.False(t, FullyVerified(pillars(100, 100, 100)))
	assert.False(t, FullyVerified(nil))

	// A 99% pillar rounds the overall to 100 but is not verified.
	almost := pillars(100, 100, 100, 99)
	assert.Equal(t, 100, OverallPercentage(almost))
	assert.False(t, FullyVerified(almost))
}

func TestStepApplyBumpsVersionAndLeavesNilFields(t *testing.T) {
	msg := "checking"
	reason := "blurry"
	st := &Step{Status: StepStatusPending, FailureReason: &reason, Version: 1}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	st.Apply(StepStatusFailed, StepUpdate{StatusMessage: &msg, LastAttemptedAt: &now}, now)

	assert.Equal(t, StepStatusFailed, st.Status)
	assert.Equal(t, "checking", *st.StatusMessage)
	assert.Equal(t, "blurry", *st.FailureReason)
	assert.Equal(t, now, *st.LastAttemptedAt)
	assert.Equal(t, now, st.UpdatedAt)
	assert.Equal(t, int64(2), st.Version)

	msg = "mutated"
	assert.Equal(t, "checking", *st.StatusMessage)
}

func TestStepCloneIsDeep(t *testing.T) {
	orig := &Step{
		Checklist: []ChecklistItem{{Requirement: "photo", Met: false}},
		Metadata:  map[string]any{"provider": "idv"},
	}
	c := orig.Clone()
	c.Checklist[0].Met = true
	c.Metadata["provider"] = "other"

	assert.False(t, orig.Checklist[0].Met)
	assert.Equal(t, "idv", orig.Metadata["provider"])
}
