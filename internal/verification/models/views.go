package models

import id "studentverify/pkg/domain"

// Center is the aggregate view of a user's verification progress.
type Center struct {
	UserID            id.UserID
	Initialized       bool
	OverallPercentage int
	FullyVerified     bool
	Pillars           []PillarView

	// EvidenceCounts holds the number of evidence records per step; steps without evidence are absent.
	EvidenceCounts map[id.StepID]int
}

type PillarView struct {
	Pillar *Pillar
	Steps  []*Step
}

type StepDetails struct {
	Step     *Step
	Evidence []*Evidence
}

// PendingItem is one reviewer-queue row.
type PendingItem struct {
	Step *Step
	User UserIdentity
}

type PendingPage struct {
	Items []PendingItem
	Page  int
	Limit int
	Total int
}
