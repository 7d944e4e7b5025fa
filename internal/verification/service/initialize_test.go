package service

import (
	"errors"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"studentverify/internal/verification/catalog"
	"studentverify/internal/verification/events"
	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
	"studentverify/pkg/platform/sentinel"
)

func (s *ServiceSuite) TestInitializeCreatesCatalog() {
	userID := id.UserID(uuid.New())
	s.emails.EXPECT().IsEmailVerified(gomock.Any(), userID).Return(false, nil)

	center, err := s.service.InitializeForUser(s.ctx, userID)
	s.Require().NoError(err)

	s.True(center.Initialized)
	s.Equal(0, center.OverallPercentage)
	s.False(center.FullyVerified)
	s.Require().Len(center.Pillars, 4)

	weights, stepCount := 0, 0
	for i, pv := range center.Pillars {
		s.Equal(models.PillarKinds[i], pv.Pillar.Kind, "pillars are in display order")
		s.Equal(25, pv.Pillar.WeightPercentage)
		s.Equal(models.PillarStatusNotVerified, pv.Pillar.Status)
		weights += pv.Pillar.WeightPercentage
		for j, st := range pv.Steps {
			stepCount++
			s.Equal(models.StepStatusNotVerified, st.Status)
			s.Equal(0, st.RetryCount)
			s.Equal(models.DefaultMaxRetries, st.MaxRetries)
			s.Equal(int64(1), st.Version)
			s.Equal(pv.Pillar.ID, st.PillarID)
			s.Equal(pv.Pillar.Kind, st.PillarKind)
			s.NotEmpty(st.Checklist)
			if j > 0 {
				s.Less(pv.Steps[j-1].Order, st.Order)
			}
		}
	}
	s.Equal(100, weights)
	s.Equal(11, stepCount)
	s.Len(s.publisher.ofType(events.TypeCenterInitialized), 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Initializations.WithLabelValues("false")))
}

func (s *ServiceSuite) TestInitializeEmailFastPath() {
	userID := s.initUser(true)

	contact := s.stepNamed(userID, "Contact Verification")
	s.Equal(models.StepStatusVerified, contact.Status)
	s.Require().NotNil(contact.StatusMessage)
	s.Equal("Email address already verified", *contact.StatusMessage)
	s.Require().NotNil(contact.VerifiedAt)
	s.Equal(s.now, *contact.VerifiedAt)

	personal := s.pillarOf(userID, models.PillarPersonalInfo)
	s.Equal(33, personal.CompletionPercentage)
	s.Equal(models.PillarStatusInProgress, personal.Status)

	center := s.center(userID)
	s.Equal(8, center.OverallPercentage)
	s.False(center.FullyVerified)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Initializations.WithLabelValues("true")))
}

func (s *ServiceSuite) TestInitializeFastPathStoresCompletionOverWholePillar() {
	userID := s.initUser(true)

	stored, err := s.pillars.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	steps, err := s.steps.ListByUser(s.ctx, userID)
	s.Require().NoError(err)

	byPillar := map[id.PillarID][]*models.Step{}
	for _, st := range steps {
		byPillar[st.PillarID] = append(byPillar[st.PillarID], st)
	}
	for _, p := range stored {
		completion, status := models.PillarProgress(byPillar[p.ID])
		s.Equal(completion, p.CompletionPercentage, "pillar %s", p.Kind)
		s.Equal(status, p.Status, "pillar %s", p.Kind)
	}

	personal, err := s.pillars.FindByUserAndKind(s.ctx, userID, models.PillarPersonalInfo)
	s.Require().NoError(err)
	s.Equal(33, personal.CompletionPercentage)
}

func (s *ServiceSuite) TestInitializeFastPathStepCreatedFirst() {
	c := catalog.Default()
	personal := &c.Pillars[0]
	s.Require().Equal(models.PillarPersonalInfo, personal.Kind)
	for i, st := range personal.Steps {
		if st.FastPath == catalog.FastPathEmailVerified {
			personal.Steps[0], personal.Steps[i] = personal.Steps[i], personal.Steps[0]
		}
	}
	for i := range personal.Steps {
		personal.Steps[i].Order = i + 1
	}
	s.Require().NoError(c.Validate())

	svc := New(s.pillars, s.steps, s.evidence, s.emails, s.identities, WithCatalog(c))
	userID := id.UserID(uuid.New())
	s.emails.EXPECT().IsEmailVerified(gomock.Any(), userID).Return(true, nil)

	center, err := svc.InitializeForUser(s.ctx, userID)
	s.Require().NoError(err)

	stored, err := s.pillars.FindByUserAndKind(s.ctx, userID, models.PillarPersonalInfo)
	s.Require().NoError(err)
	s.Equal(33, stored.CompletionPercentage, "one of three steps verified")
	s.Equal(models.PillarStatusInProgress, stored.Status)
	s.Equal(8, center.OverallPercentage)
}

func (s *ServiceSuite) TestInitializeTwiceIsRejected() {
	userID := id.UserID(uuid.New())
	s.emails.EXPECT().IsEmailVerified(gomock.Any(), userID).Return(true, nil).Times(2)

	_, err := s.service.InitializeForUser(s.ctx, userID)
	s.Require().NoError(err)

	_, err = s.service.InitializeForUser(s.ctx, userID)
	s.requireCode(err, dErrors.CodeAlreadyInitialized)

	steps, err := s.steps.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	s.Len(steps, 11)
}

func (s *ServiceSuite) TestInitializeEmailLookupFailure() {
	userID := id.UserID(uuid.New())
	s.emails.EXPECT().IsEmailVerified(gomock.Any(), userID).Return(false, errors.New("accounts unreachable"))

	_, err := s.service.InitializeForUser(s.ctx, userID)
	s.requireCode(err, dErrors.CodeUnavailable)
	s.False(s.center(userID).Initialized, "nothing is written when the lookup fails")
}

func (s *ServiceSuite) TestInitializeUnknownUser() {
	userID := id.UserID(uuid.New())
	s.emails.EXPECT().IsEmailVerified(gomock.Any(), userID).Return(false, sentinel.ErrNotFound)

	_, err := s.service.InitializeForUser(s.ctx, userID)
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestInitializeRequiresUserID() {
	_, err := s.service.InitializeForUser(s.ctx, id.UserID{})
	s.requireCode(err, dErrors.CodeValidation)
}

func (s *ServiceSuite) TestGetCenterBeforeInitialization() {
	center := s.center(id.UserID(uuid.New()))
	s.False(center.Initialized)
	s.Empty(center.Pillars)
	s.Equal(0, center.OverallPercentage)
	s.False(center.FullyVerified)
}
