package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"studentverify/internal/verification/events"
	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
)

func (s *ServiceSuite) TestUpdateStepStatusRecomputesPillar() {
	userID := s.initUser(false)
	ctx := s.at(time.Minute)

	for _, name := range []string{"Face Match", "Contact Verification", "Government ID"} {
		_, err := s.setStatus(ctx, s.stepNamed(userID, name).ID, models.StepStatusVerified)
		s.Require().NoError(err)
	}

	personal := s.pillarOf(userID, models.PillarPersonalInfo)
	s.Equal(100, personal.CompletionPercentage)
	s.Equal(models.PillarStatusVerified, personal.Status)
	s.Equal(25, s.center(userID).OverallPercentage)
	s.Equal(3.0, testutil.ToFloat64(s.metrics.Transitions.WithLabelValues("personal_info", "verified", "update")))
}

func (s *ServiceSuite) TestUpdateStepStatusStampsTimes() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Upload & Readability").ID
	message := "  queued for OCR  "

	pending, err := s.service.UpdateStepStatus(s.at(time.Minute), &models.UpdateStepStatusRequest{
		StepID:        stepID,
		Status:        models.StepStatusPending,
		StatusMessage: &message,
	})
	s.Require().NoError(err)
	s.Require().NotNil(pending.LastAttemptedAt)
	s.Equal(s.now.Add(time.Minute), *pending.LastAttemptedAt)
	s.Nil(pending.VerifiedAt)
	s.Require().NotNil(pending.StatusMessage)
	s.Equal("queued for OCR", *pending.StatusMessage)
	s.Equal(int64(2), pending.Version)

	documents := s.pillarOf(userID, models.PillarDocuments)
	s.Equal(0, documents.CompletionPercentage)
	s.Equal(models.PillarStatusInProgress, documents.Status, "an attempted step moves the pillar to in_progress")

	verified, err := s.setStatus(s.at(2*time.Minute), stepID, models.StepStatusVerified)
	s.Require().NoError(err)
	s.Require().NotNil(verified.VerifiedAt)
	s.Equal(s.now.Add(2*time.Minute), *verified.VerifiedAt)
}

func (s *ServiceSuite) TestUpdateStepStatusValidation() {
	_, err := s.setStatus(s.ctx, id.StepID(uuid.New()), models.StepStatus("approved"))
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.setStatus(s.ctx, id.StepID(uuid.New()), models.StepStatusNotVerified)
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.setStatus(s.ctx, id.StepID(uuid.New()), models.StepStatusPending)
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestFailedStepCannotBeVerifiedByChecker() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Content Match").ID

	_, err := s.setStatus(s.ctx, stepID, models.StepStatusFailed)
	s.Require().NoError(err)

	_, err = s.setStatus(s.ctx, stepID, models.StepStatusVerified)
	s.requireCode(err, dErrors.CodeInvalidState)

	_, err = s.setStatus(s.ctx, stepID, models.StepStatusFailed)
	s.NoError(err, "failed may be re-reported")
}

func (s *ServiceSuite) TestVerifiedIsTerminal() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "School Email Verification").ID

	_, err := s.setStatus(s.ctx, stepID, models.StepStatusVerified)
	s.Require().NoError(err)

	for _, status := range []models.StepStatus{models.StepStatusPending, models.StepStatusFailed, models.StepStatusVerified} {
		_, err = s.setStatus(s.ctx, stepID, status)
		s.requireCode(err, dErrors.CodeInvalidState)
	}

	_, err = s.service.RetryStep(s.ctx, stepID)
	s.requireCode(err, dErrors.CodeInvalidState)

	_, err = s.service.ReviewStepAsAdmin(s.ctx, &models.ReviewRequest{
		StepID:   stepID,
		AdminID:  id.UserID(uuid.New()),
		Decision: models.StepStatusFailed,
		Notes:    "reopen",
	})
	s.requireCode(err, dErrors.CodeInvalidState)

	st := s.stepNamed(userID, "School Email Verification")
	s.Equal(models.StepStatusVerified, st.Status)
	s.Equal(int64(2), st.Version)
}

func (s *ServiceSuite) TestRetryCeiling() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Freshness Validation").ID

	for i := 1; i <= 3; i++ {
		_, err := s.setStatus(s.ctx, stepID, models.StepStatusFailed)
		s.Require().NoError(err)

		st, err := s.service.RetryStep(s.ctx, stepID)
		s.Require().NoError(err)
		s.Equal(models.StepStatusPending, st.Status)
		s.Equal(i, st.RetryCount)
	}

	_, err := s.setStatus(s.ctx, stepID, models.StepStatusFailed)
	s.Require().NoError(err)

	_, err = s.service.RetryStep(s.ctx, stepID)
	s.requireCode(err, dErrors.CodeRetryLimitExceeded)
	s.Contains(err.Error(), "too many attempts")

	st := s.stepNamed(userID, "Freshness Validation")
	s.Equal(3, st.RetryCount)
	s.Equal(models.StepStatusFailed, st.Status, "a rejected retry leaves the step untouched")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RetryRejections.WithLabelValues("documents")))
}

func (s *ServiceSuite) TestRetryUnknownStep() {
	_, err := s.service.RetryStep(s.ctx, id.StepID(uuid.New()))
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestAdminApprovalPastRetryCeiling() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Government ID").ID
	for range 3 {
		_, err := s.service.RetryStep(s.ctx, stepID)
		s.Require().NoError(err)
	}
	_, err := s.setStatus(s.ctx, stepID, models.StepStatusFailed)
	s.Require().NoError(err)
	_, err = s.service.RetryStep(s.ctx, stepID)
	s.requireCode(err, dErrors.CodeRetryLimitExceeded)

	adminID := id.UserID(uuid.New())
	st, err := s.service.ReviewStepAsAdmin(s.ctx, &models.ReviewRequest{
		StepID:   stepID,
		AdminID:  adminID,
		Decision: models.StepStatusVerified,
		Notes:    "  passport checked in person  ",
	})
	s.Require().NoError(err)
	s.Equal(models.StepStatusVerified, st.Status)
	s.Require().NotNil(st.AdminReviewerID)
	s.Equal(adminID, *st.AdminReviewerID)
	s.Require().NotNil(st.AdminReviewNotes)
	s.Equal("passport checked in person", *st.AdminReviewNotes)
	s.Require().NotNil(st.StatusMessage)
	s.Equal("Approved by administrator review", *st.StatusMessage)
	s.NotNil(st.VerifiedAt)
	s.Equal(3, st.RetryCount)

	transitions := s.publisher.ofType(events.TypeStepTransitioned)
	last := transitions[len(transitions)-1]
	s.Equal(models.TransitionAdminReview, last.Via)
	s.Require().NotNil(last.ActorID)
	s.Equal(adminID, *last.ActorID)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AdminReviews.WithLabelValues("verified")))
}

func (s *ServiceSuite) TestAdminRejectionRecordsReason() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Admin Attestation").ID

	st, err := s.service.ReviewStepAsAdmin(s.ctx, &models.ReviewRequest{
		StepID:   stepID,
		AdminID:  id.UserID(uuid.New()),
		Decision: models.StepStatusFailed,
		Notes:    "signature does not match registrar",
	})
	s.Require().NoError(err)
	s.Equal(models.StepStatusFailed, st.Status)
	s.Require().NotNil(st.FailureReason)
	s.Equal("signature does not match registrar", *st.FailureReason)
	s.Require().NotNil(st.StatusMessage)
	s.Equal("Rejected by administrator review", *st.StatusMessage)
	s.Nil(st.VerifiedAt)
}

func (s *ServiceSuite) TestReviewValidatedBeforeStoreAccess() {
	unknown := id.StepID(uuid.New())
	cases := map[string]models.ReviewRequest{
		"missing notes":     {StepID: unknown, AdminID: id.UserID(uuid.New()), Decision: models.StepStatusVerified, Notes: "   "},
		"pending decision":  {StepID: unknown, AdminID: id.UserID(uuid.New()), Decision: models.StepStatusPending, Notes: "x"},
		"missing admin":     {StepID: unknown, Decision: models.StepStatusVerified, Notes: "x"},
		"non-positive vers": {StepID: unknown, AdminID: id.UserID(uuid.New()), Decision: models.StepStatusFailed, Notes: "x", ExpectedVersion: new(int64)},
	}
	for name, req := range cases {
		_, err := s.service.ReviewStepAsAdmin(s.ctx, &req)
		s.Require().Error(err, name)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation), "%s: got %v", name, err)
	}
}

func (s *ServiceSuite) TestReviewExpectedVersion() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Direct School Verification").ID

	_, err := s.setStatus(s.ctx, stepID, models.StepStatusPending)
	s.Require().NoError(err)

	stale := int64(1)
	_, err = s.service.ReviewStepAsAdmin(s.ctx, &models.ReviewRequest{
		StepID:          stepID,
		AdminID:         id.UserID(uuid.New()),
		Decision:        models.StepStatusVerified,
		Notes:           "registrar confirmed",
		ExpectedVersion: &stale,
	})
	s.requireCode(err, dErrors.CodeConflict)

	current := int64(2)
	st, err := s.service.ReviewStepAsAdmin(s.ctx, &models.ReviewRequest{
		StepID:          stepID,
		AdminID:         id.UserID(uuid.New()),
		Decision:        models.StepStatusVerified,
		Notes:           "registrar confirmed",
		ExpectedVersion: &current,
	})
	s.Require().NoError(err)
	s.Equal(int64(3), st.Version)
}

func (s *ServiceSuite) TestConcurrentReviewsHaveOneWinner() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Program & Level Validation").ID

	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		rejected atomic.Int32
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.ReviewStepAsAdmin(s.ctx, &models.ReviewRequest{
				StepID:   stepID,
				AdminID:  id.UserID(uuid.New()),
				Decision: models.StepStatusVerified,
				Notes:    "approved",
			})
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInvalidState):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(7), rejected.Load())
}

func (s *ServiceSuite) TestConcurrentRetriesRespectBudget() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Session/Enrollment Logic Check").ID

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		limited   atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.RetryStep(s.ctx, stepID)
			switch {
			case err == nil:
				succeeded.Add(1)
			case dErrors.HasCode(err, dErrors.CodeRetryLimitExceeded):
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(3), succeeded.Load())
	s.Equal(int32(7), limited.Load())
	s.Equal(3, s.stepNamed(userID, "Session/Enrollment Logic Check").RetryCount)
}

func (s *ServiceSuite) TestFullVerificationIsMonotonicAndAnnounced() {
	userID := s.initUser(true)

	var ids []id.StepID
	for _, pv := range s.center(userID).Pillars {
		for _, st := range pv.Steps {
			if st.Status != models.StepStatusVerified {
				ids = append(ids, st.ID)
			}
		}
	}
	s.Require().Len(ids, 10)

	previous := s.center(userID).OverallPercentage
	for i, stepID := range ids {
		_, err := s.setStatus(s.at(time.Duration(i+1)*time.Second), stepID, models.StepStatusVerified)
		s.Require().NoError(err)

		c := s.center(userID)
		s.GreaterOrEqual(c.OverallPercentage, previous)
		previous = c.OverallPercentage
		if i < len(ids)-1 {
			s.False(c.FullyVerified)
		}
	}

	c := s.center(userID)
	s.Equal(100, c.OverallPercentage)
	s.True(c.FullyVerified)
	s.Len(s.publisher.ofType(events.TypeCenterVerified), 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.CentersVerified))
}

func (s *ServiceSuite) TestConcurrentUpdatesWithinPillarKeepCompletionConsistent() {
	userID := s.initUser(false)
	var ids []id.StepID
	for _, name := range []string{"Upload & Readability", "Content Match", "Freshness Validation"} {
		ids = append(ids, s.stepNamed(userID, name).ID)
	}

	var wg sync.WaitGroup
	for _, stepID := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.setStatus(context.Background(), stepID, models.StepStatusVerified)
			s.NoError(err)
		}()
	}
	wg.Wait()

	documents := s.pillarOf(userID, models.PillarDocuments)
	s.Equal(100, documents.CompletionPercentage)
	s.Equal(models.PillarStatusVerified, documents.Status)
}
