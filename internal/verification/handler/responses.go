package handler

import (
	"time"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
)

type centerResponse struct {
	UserID            id.UserID        `json:"user_id"`
	Initialized       bool             `json:"initialized"`
	OverallPercentage int              `json:"overall_percentage"`
	FullyVerified     bool             `json:"fully_verified"`
	Pillars           []pillarResponse `json:"pillars"`
}

type pillarResponse struct {
	ID                   id.PillarID         `json:"id"`
	Kind                 models.PillarKind   `json:"kind"`
	WeightPercentage     int                 `json:"weight_percentage"`
	CompletionPercentage int                 `json:"completion_percentage"`
	Status               models.PillarStatus `json:"status"`
	UpdatedAt            time.Time           `json:"updated_at"`
	Steps                []stepResponse      `json:"steps"`
}

type stepResponse struct {
	*models.Step
	CanRetry      bool `json:"can_retry"`
	EvidenceCount *int `json:"evidence_count,omitempty"`
}

type stepDetailsResponse struct {
	Step     stepResponse       `json:"step"`
	Evidence []*models.Evidence `json:"evidence"`
}

type pendingItemResponse struct {
	Step stepResponse        `json:"step"`
	User models.UserIdentity `json:"user"`
}

type pendingResponse struct {
	Items []pendingItemResponse `json:"items"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
	Total int                   `json:"total"`
}

func toStepResponse(st *models.Step) stepResponse {
	return stepResponse{Step: st, CanRetry: !st.Status.IsTerminal() && st.CanRetry()}
}

func toPillarResponse(pv models.PillarView, counts map[id.StepID]int) pillarResponse {
	steps := make([]stepResponse, 0, len(pv.Steps))
	for _, st := range pv.Steps {
		resp := toStepResponse(st)
		if counts != nil {
			n := counts[st.ID]
			resp.EvidenceCount = &n
		}
		steps = append(steps, resp)
	}
	return pillarResponse{
		ID:                   pv.Pillar.ID,
		Kind:                 pv.Pillar.Kind,
		WeightPercentage:     pv.Pillar.WeightPercentage,
		CompletionPercentage: pv.Pillar.CompletionPercentage,
		Status:               pv.Pillar.Status,
		UpdatedAt:            pv.Pillar.UpdatedAt,
		Steps:                steps,
	}
}

func toCenterResponse(c *models.Center) centerResponse {
	pillars := make([]pillarResponse, 0, len(c.Pillars))
	for _, pv := range c.Pillars {
		pillars = append(pillars, toPillarResponse(pv, c.EvidenceCounts))
	}
	return centerResponse{
		UserID:            c.UserID,
		Initialized:       c.Initialized,
		OverallPercentage: c.OverallPercentage,
		FullyVerified:     c.FullyVerified,
		Pillars:           pillars,
	}
}

func toStepDetailsResponse(d *models.StepDetails) stepDetailsResponse {
	evidence := d.Evidence
	if evidence == nil {
		evidence = []*models.Evidence{}
	}
	return stepDetailsResponse{Step: toStepResponse(d.Step), Evidence: evidence}
}

func toPendingResponse(p *models.PendingPage) pendingResponse {
	items := make([]pendingItemResponse, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, pendingItemResponse{Step: toStepResponse(it.Step), User: it.User})
	}
	return pendingResponse{Items: items, Page: p.Page, Limit: p.Limit, Total: p.Total}
}
