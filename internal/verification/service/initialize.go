package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"studentverify/internal/verification/catalog"
	"studentverify/internal/verification/events"
	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
	"studentverify/pkg/platform/sentinel"
	"studentverify/pkg/requestcontext"
)

const emailFastPathMessage = "Email address already verified"

// InitializeForUser creates the four pillars and every catalog step for a
// user. The email-verified fast path completes the contact step in the same
// transaction. A second call fails with CodeAlreadyInitialized.
func (s *Service) InitializeForUser(ctx context.Context, userID id.UserID) (center *models.Center, err error) {
	const op = "initialize_for_user"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op, attribute.String("user_id", userID.String()))
	defer func() { s.finish(span, op, start, err) }()

	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "user_id is required")
	}

	// The accounts lookup stays outside the transaction so no row locks are
	// held across a remote call.
	emailVerified, err := s.emails.IsEmailVerified(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
		}
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to check email verification")
	}

	now := requestcontext.Now(ctx)
	fastPathApplied := false
	err = s.tx.RunInTx(ctx, userID, func(txCtx context.Context) error {
		pillars := s.newPillars(userID, now)
		if err := s.pillars.InitializePillars(txCtx, userID, pillars); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeAlreadyInitialized, "verification center already initialized")
			}
			return err
		}

		for _, p := range pillars {
			def, _ := s.catalog.Pillar(p.Kind)
			recompute := false
			for _, stepDef := range def.Steps {
				step := newStep(p, stepDef, now)
				if err := s.steps.Create(txCtx, step); err != nil {
					return err
				}
				if stepDef.FastPath != catalog.FastPathEmailVerified || !emailVerified {
					continue
				}
				if err := s.applyEmailFastPath(txCtx, step, now); err != nil {
					return err
				}
				fastPathApplied, recompute = true, true
			}
			// Completion is only meaningful once every step of the pillar exists.
			if recompute {
				if _, _, err := s.recomputePillar(txCtx, p.ID, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.storeError(ctx, err, "user not found", "initialize verification center")
	}

	s.metrics.IncInitialized(fastPathApplied)
	s.logger.InfoContext(ctx, "verification center initialized",
		"user_id", userID,
		"email_fast_path", fastPathApplied,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.publish(ctx, events.New(events.TypeCenterInitialized, userID, now))

	return s.GetCenter(ctx, userID)
}

func (s *Service) newPillars(userID id.UserID, now time.Time) []*models.Pillar {
	pillars := make([]*models.Pillar, 0, len(s.catalog.Pillars))
	for _, def := range s.catalog.Pillars {
		pillars = append(pillars, &models.Pillar{
			ID:               id.PillarID(uuid.New()),
			UserID:           userID,
			Kind:             def.Kind,
			WeightPercentage: def.Weight,
			Status:           models.PillarStatusNotVerified,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	return pillars
}

func newStep(p *models.Pillar, def catalog.Step, now time.Time) *models.Step {
	return &models.Step{
		ID:         id.StepID(uuid.New()),
		UserID:     p.UserID,
		PillarID:   p.ID,
		PillarKind: p.Kind,
		Name:       def.Name,
		Order:      def.Order,
		Type:       def.Type,
		Status:     models.StepStatusNotVerified,
		Checklist:  def.ChecklistItems(),
		Metadata:   models.CloneMetadata(def.Metadata),
		MaxRetries: def.Retries(),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *Service) applyEmailFastPath(txCtx context.Context, step *models.Step, now time.Time) error {
	msg := emailFastPathMessage
	_, err := s.steps.UpdateStatus(txCtx, step.ID, models.StepStatusVerified, models.StepUpdate{
		StatusMessage:   &msg,
		LastAttemptedAt: &now,
		VerifiedAt:      &now,
	}, now)
	return err
}
