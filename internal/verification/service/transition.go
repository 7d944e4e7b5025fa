package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"studentverify/internal/verification/events"
	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
	"studentverify/pkg/platform/sentinel"
	"studentverify/pkg/requestcontext"
)

const (
	reviewApprovedMessage = "Approved by administrator review"
	reviewRejectedMessage = "Rejected by administrator review"
)

// stepWrite persists one change to the locked step and returns its new state.
type stepWrite func(txCtx context.Context, current *models.Step, now time.Time) (*models.Step, error)

type mutation struct {
	before         *models.Step
	after          *models.Step
	pillar         *models.Pillar
	centerVerified bool
}

// mutateStep is the single write path for step status. Inside one transaction
// scoped to the step owner it locks the step, applies write, then locks the
// pillar and recomputes it from the committed step set.
func (s *Service) mutateStep(ctx context.Context, stepID id.StepID, write stepWrite) (*mutation, error) {
	owner, err := s.steps.FindByID(ctx, stepID)
	if err != nil {
		return nil, s.storeError(ctx, err, "step not found", "load step")
	}

	now := requestcontext.Now(ctx)
	var m mutation
	err = s.tx.RunInTx(ctx, owner.UserID, func(txCtx context.Context) error {
		current, err := s.steps.FindByID(txCtx, stepID)
		if err != nil {
			return err
		}
		updated, err := write(txCtx, current, now)
		if err != nil {
			return err
		}
		before, after, err := s.recomputePillar(txCtx, current.PillarID, now)
		if err != nil {
			return err
		}
		m = mutation{before: current, after: updated, pillar: after}
		if before.Status != models.PillarStatusVerified && after.Status == models.PillarStatusVerified {
			pillars, err := s.pillars.ListByUser(txCtx, current.UserID)
			if err != nil {
				return err
			}
			m.centerVerified = models.FullyVerified(pillars)
		}
		return nil
	})
	if err != nil {
		return nil, s.storeError(ctx, err, "step not found", "update step")
	}
	return &m, nil
}

// recomputePillar derives completion and status from the pillar's steps and
// persists them. It returns the pillar before and after.
func (s *Service) recomputePillar(txCtx context.Context, pillarID id.PillarID, now time.Time) (*models.Pillar, *models.Pillar, error) {
	before, err := s.pillars.FindByID(txCtx, pillarID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.steps.ListByPillar(txCtx, pillarID)
	if err != nil {
		return nil, nil, err
	}
	completion, status := models.PillarProgress(steps)
	if err := s.pillars.SetStatus(txCtx, pillarID, status, &completion, now); err != nil {
		return nil, nil, err
	}
	after := *before
	after.CompletionPercentage = completion
	after.Status = status
	after.UpdatedAt = now
	return before, &after, nil
}

// afterCommit records, logs and publishes a committed transition.
func (s *Service) afterCommit(ctx context.Context, m *mutation, via models.Transition, actor *id.UserID) {
	st := m.after
	s.metrics.IncTransition(string(st.PillarKind), string(st.Status), string(via))
	s.logger.InfoContext(ctx, "verification step transitioned",
		"user_id", st.UserID,
		"step_id", st.ID,
		"pillar", st.PillarKind,
		"from_status", m.before.Status,
		"to_status", st.Status,
		"via", via,
		"pillar_completion", m.pillar.CompletionPercentage,
		"request_id", requestcontext.RequestID(ctx),
	)

	ev := events.New(events.TypeStepTransitioned, st.UserID, st.UpdatedAt)
	stepID := st.ID
	ev.StepID = &stepID
	ev.StepName = st.Name
	ev.PillarKind = st.PillarKind
	ev.FromStatus = m.before.Status
	ev.ToStatus = st.Status
	ev.Via = via
	ev.ActorID = actor
	ev.Pillar = m.pillar.Status
	s.publish(ctx, ev)

	if m.centerVerified {
		s.metrics.IncCenterVerified()
		s.logger.InfoContext(ctx, "verification center fully verified",
			"user_id", st.UserID,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.publish(ctx, events.New(events.TypeCenterVerified, st.UserID, st.UpdatedAt))
	}
}

func invalidTransition(from, to models.StepStatus) error {
	if from.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidState, "step is already verified")
	}
	return dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("step cannot move from %s to %s", from, to))
}

// UpdateStepStatus applies a checker's result to a step.
func (s *Service) UpdateStepStatus(ctx context.Context, req *models.UpdateStepStatusRequest) (step *models.Step, err error) {
	const op = "update_step_status"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op,
		attribute.String("step_id", req.StepID.String()),
		attribute.String("status", string(req.Status)),
	)
	defer func() { s.finish(span, op, start, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m, err := s.mutateStep(ctx, req.StepID, func(txCtx context.Context, current *models.Step, now time.Time) (*models.Step, error) {
		if !current.Status.CanTransitionTo(req.Status, models.TransitionUpdate) {
			return nil, invalidTransition(current.Status, req.Status)
		}
		fields := models.StepUpdate{
			StatusMessage:     req.StatusMessage,
			FailureReason:     req.FailureReason,
			FailureSuggestion: req.FailureSuggestion,
			LastAttemptedAt:   &now,
		}
		if req.Status == models.StepStatusVerified {
			fields.VerifiedAt = &now
		}
		return s.steps.UpdateStatus(txCtx, current.ID, req.Status, fields, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, m, models.TransitionUpdate, nil)
	return m.after, nil
}

// RetryStep spends one unit of the step's retry budget and returns it to
// pending. Verified steps and exhausted budgets are rejected without changes.
func (s *Service) RetryStep(ctx context.Context, stepID id.StepID) (step *models.Step, err error) {
	const op = "retry_step"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op, attribute.String("step_id", stepID.String()))
	defer func() { s.finish(span, op, start, err) }()

	var rejected *models.Step
	m, err := s.mutateStep(ctx, stepID, func(txCtx context.Context, current *models.Step, now time.Time) (*models.Step, error) {
		if current.Status.IsTerminal() {
			return nil, dErrors.New(dErrors.CodeInvalidState, "verified steps cannot be retried")
		}
		ok, err := s.steps.CanRetry(txCtx, current.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			rejected = current
			return nil, errRetryLimit()
		}
		if !current.Status.CanTransitionTo(models.StepStatusPending, models.TransitionRetry) {
			return nil, invalidTransition(current.Status, models.StepStatusPending)
		}
		updated, err := s.steps.RecordRetry(txCtx, current.ID, now)
		if errors.Is(err, sentinel.ErrInvalidState) {
			rejected = current
			return nil, errRetryLimit()
		}
		return updated, err
	})
	if err != nil {
		if rejected != nil {
			s.metrics.IncRetryRejected(string(rejected.PillarKind))
			s.logger.WarnContext(ctx, "verification retry rejected",
				"user_id", rejected.UserID,
				"step_id", rejected.ID,
				"retry_count", rejected.RetryCount,
				"max_retries", rejected.MaxRetries,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}
	s.afterCommit(ctx, m, models.TransitionRetry, nil)
	return m.after, nil
}

func errRetryLimit() error {
	return dErrors.New(dErrors.CodeRetryLimitExceeded, "too many attempts")
}

// ReviewStepAsAdmin records an administrator's decision. It bypasses the
// retry budget but never reopens a verified step.
func (s *Service) ReviewStepAsAdmin(ctx context.Context, req *models.ReviewRequest) (step *models.Step, err error) {
	const op = "review_step"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op,
		attribute.String("step_id", req.StepID.String()),
		attribute.String("admin_id", req.AdminID.String()),
		attribute.String("decision", string(req.Decision)),
	)
	defer func() { s.finish(span, op, start, err) }()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m, err := s.mutateStep(ctx, req.StepID, func(txCtx context.Context, current *models.Step, now time.Time) (*models.Step, error) {
		if !current.Status.CanTransitionTo(req.Decision, models.TransitionAdminReview) {
			return nil, invalidTransition(current.Status, req.Decision)
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != current.Version {
			return nil, dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("step changed since it was loaded (version %d, current %d)", *req.ExpectedVersion, current.Version))
		}

		notes := req.Notes
		reviewer := req.AdminID
		message := reviewApprovedMessage
		fields := models.StepUpdate{
			AdminReviewerID:  &reviewer,
			AdminReviewNotes: &notes,
			LastAttemptedAt:  &now,
		}
		if req.Decision == models.StepStatusVerified {
			fields.VerifiedAt = &now
		} else {
			message = reviewRejectedMessage
			fields.FailureReason = &notes
		}
		fields.StatusMessage = &message
		return s.steps.UpdateStatus(txCtx, current.ID, req.Decision, fields, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncAdminReview(string(req.Decision))
	reviewer := req.AdminID
	s.afterCommit(ctx, m, models.TransitionAdminReview, &reviewer)
	return m.after, nil
}
