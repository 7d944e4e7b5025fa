package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"studentverify/internal/verification/events"
	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
	"studentverify/pkg/platform/sentinel"
	"studentverify/pkg/requestcontext"
)

// GetCenter returns the user's overall progress with every pillar and step.
// A user who was never initialized gets an empty, uninitialized center.
func (s *Service) GetCenter(ctx context.Context, userID id.UserID) (center *models.Center, err error) {
	const op = "get_center"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op, attribute.String("user_id", userID.String()))
	defer func() { s.finish(span, op, start, err) }()

	pillars, err := s.pillars.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.storeError(ctx, err, "verification center not found", "load pillars")
	}
	if len(pillars) == 0 {
		return &models.Center{UserID: userID, Pillars: []models.PillarView{}, EvidenceCounts: map[id.StepID]int{}}, nil
	}

	steps, err := s.steps.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.storeError(ctx, err, "verification center not found", "load steps")
	}
	byPillar := make(map[id.PillarID][]*models.Step, len(pillars))
	stepIDs := make([]id.StepID, 0, len(steps))
	for _, st := range steps {
		byPillar[st.PillarID] = append(byPillar[st.PillarID], st)
		stepIDs = append(stepIDs, st.ID)
	}
	counts, err := s.evidence.CountByStepIDs(ctx, stepIDs)
	if err != nil {
		return nil, s.storeError(ctx, err, "verification center not found", "count evidence")
	}

	views := make([]models.PillarView, 0, len(pillars))
	for _, p := range pillars {
		pillarSteps := byPillar[p.ID]
		if pillarSteps == nil {
			pillarSteps = []*models.Step{}
		}
		views = append(views, models.PillarView{Pillar: p, Steps: pillarSteps})
	}

	return &models.Center{
		UserID:            userID,
		Initialized:       true,
		OverallPercentage: models.OverallPercentage(pillars),
		FullyVerified:     models.FullyVerified(pillars),
		Pillars:           views,
		EvidenceCounts:    counts,
	}, nil
}

// GetPillar returns one pillar of the user with its steps in order.
func (s *Service) GetPillar(ctx context.Context, userID id.UserID, kind models.PillarKind) (view *models.PillarView, err error) {
	const op = "get_pillar"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op,
		attribute.String("user_id", userID.String()),
		attribute.String("pillar", string(kind)),
	)
	defer func() { s.finish(span, op, start, err) }()

	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown pillar kind")
	}
	pillar, err := s.pillars.FindByUserAndKind(ctx, userID, kind)
	if err != nil {
		return nil, s.storeError(ctx, err, "pillar not found", "load pillar")
	}
	steps, err := s.steps.ListByPillar(ctx, pillar.ID)
	if err != nil {
		return nil, s.storeError(ctx, err, "pillar not found", "load steps")
	}
	return &models.PillarView{Pillar: pillar, Steps: steps}, nil
}

// GetStepDetails returns a step with its evidence, newest first.
func (s *Service) GetStepDetails(ctx context.Context, stepID id.StepID) (details *models.StepDetails, err error) {
	const op = "get_step_details"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op, attribute.String("step_id", stepID.String()))
	defer func() { s.finish(span, op, start, err) }()

	step, err := s.steps.FindByID(ctx, stepID)
	if err != nil {
		return nil, s.storeError(ctx, err, "step not found", "load step")
	}
	evidence, err := s.evidence.ListByStep(ctx, stepID)
	if err != nil {
		return nil, s.storeError(ctx, err, "step not found", "load evidence")
	}
	return &models.StepDetails{Step: step, Evidence: evidence}, nil
}

// EnsureStepOwner reports CodeNotFound unless stepID belongs to userID, so a
// user cannot probe for other users' steps.
func (s *Service) EnsureStepOwner(ctx context.Context, stepID id.StepID, userID id.UserID) error {
	step, err := s.steps.FindByID(ctx, stepID)
	if err != nil {
		return s.storeError(ctx, err, "step not found", "load step")
	}
	if step.UserID != userID {
		return dErrors.New(dErrors.CodeNotFound, "step not found")
	}
	return nil
}

// UploadStepEvidence appends a proof reference to a step. It does not change
// the step's status.
func (s *Service) UploadStepEvidence(ctx context.Context, req *models.UploadEvidenceRequest) (evidence *models.Evidence, err error) {
	const op = "upload_step_evidence"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op, attribute.String("step_id", req.StepID.String()))
	defer func() { s.finish(span, op, start, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	step, err := s.steps.FindByID(ctx, req.StepID)
	if err != nil {
		return nil, s.storeError(ctx, err, "step not found", "load step")
	}

	now := requestcontext.Now(ctx)
	evidence = &models.Evidence{
		ID:         id.EvidenceID(uuid.New()),
		StepID:     step.ID,
		Type:       req.Type,
		URL:        req.URL,
		Metadata:   models.CloneMetadata(req.Metadata),
		UploadedAt: now,
	}
	if err := s.evidence.Add(ctx, evidence); err != nil {
		if dErrors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, "evidence already recorded")
		}
		return nil, s.storeError(ctx, err, "step not found", "store evidence")
	}

	s.metrics.IncEvidenceUploaded()
	s.logger.InfoContext(ctx, "verification evidence uploaded",
		"user_id", step.UserID,
		"step_id", step.ID,
		"evidence_type", evidence.Type,
		"request_id", requestcontext.RequestID(ctx),
	)
	ev := events.New(events.TypeEvidenceUploaded, step.UserID, now)
	stepID := step.ID
	ev.StepID = &stepID
	ev.StepName = step.Name
	ev.PillarKind = step.PillarKind
	s.publish(ctx, ev)
	return evidence, nil
}
