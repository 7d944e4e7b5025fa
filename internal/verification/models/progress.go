package models

import "math"

// PillarProgress computes a pillar's completion and status from its steps.
// Completion is round(100*verified/total), 0 for an empty set. Status is
// verified at 100, in_progress once anything is verified or attempted.
func PillarProgress(steps []*Step) (int, PillarStatus) {
	if len(steps) == 0 {
		return 0, PillarStatusNotVerified
	}

	verified, attempted := 0, false
	for _, st := range steps {
		if st.Status == StepStatusVerified {
			verified++
		}
		if st.Attempted() {
			attempted = true
		}
	}

	completion := int(math.Round(100 * float64(verified) / float64(len(steps))))
	switch {
	case completion == 100:
		return completion, PillarStatusVerified
	case completion > 0 || attempted:
		return completion, PillarStatusInProgress
	default:
		return completion, PillarStatusNotVerified
	}
}

// OverallPercentage is the weight-averaged completion, round(Σ c*w/100).
func OverallPercentage(pillars []*Pillar) int {
	sum := 0
	for _, p := range pillars {
		sum += p.CompletionPercentage * p.WeightPercentage
	}
	return int(math.Round(float64(sum) / 100))
}

// FullyVerified is decided from pillar statuses, never from the rounded overall.
func FullyVerified(pillars []*Pillar) bool {
	if len(pillars) != len(PillarKinds) {
		return false
	}
	for _, p := range pillars {
		if p.Status != PillarStatusVerified {
			return false
		}
	}
	return true
}
