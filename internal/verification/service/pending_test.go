package service

import (
	"errors"
	"time"

	"go.uber.org/mock/gomock"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
	"studentverify/pkg/platform/sentinel"
)

// markPending puts the named step of userID into pending at base+offset.
func (s *ServiceSuite) markPending(userID id.UserID, name string, offset time.Duration) id.StepID {
	stepID := s.stepNamed(userID, name).ID
	_, err := s.setStatus(s.at(offset), stepID, models.StepStatusPending)
	s.Require().NoError(err)
	return stepID
}

func (s *ServiceSuite) TestListPendingEnrichesAndOrders() {
	alice := s.initUser(false)
	bob := s.initUser(false)

	older := s.markPending(alice, "Face Match", time.Minute)
	newer := s.markPending(bob, "Direct School Verification", 2*time.Minute)
	newest := s.markPending(alice, "Content Match", 3*time.Minute)

	s.identities.EXPECT().ResolveUserIdentity(gomock.Any(), alice).
		Return(models.UserIdentity{Name: "Alice Moreau", Email: "alice@example.edu"}, nil)
	s.identities.EXPECT().ResolveUserIdentity(gomock.Any(), bob).
		Return(models.UserIdentity{}, sentinel.ErrNotFound)

	page, err := s.service.ListPendingVerifications(s.ctx, models.PendingFilter{})
	s.Require().NoError(err)
	s.Equal(1, page.Page)
	s.Equal(20, page.Limit)
	s.Equal(3, page.Total)
	s.Require().Len(page.Items, 3)

	s.Equal(newest, page.Items[0].Step.ID)
	s.Equal(newer, page.Items[1].Step.ID)
	s.Equal(older, page.Items[2].Step.ID)
	s.Equal("Alice Moreau", page.Items[0].User.Name)
	s.Equal(models.UserIdentity{}, page.Items[1].User, "unknown users resolve to an empty identity")
}

func (s *ServiceSuite) TestListPendingFilters() {
	userID := s.initUser(false)
	s.markPending(userID, "Face Match", time.Minute)
	schoolStep := s.markPending(userID, "Admin Attestation", 2*time.Minute)

	s.identities.EXPECT().ResolveUserIdentity(gomock.Any(), userID).
		Return(models.UserIdentity{Name: "Ana"}, nil).AnyTimes()

	kind := models.PillarSchool
	page, err := s.service.ListPendingVerifications(s.ctx, models.PendingFilter{PillarKind: &kind})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
	s.Equal(schoolStep, page.Items[0].Step.ID)

	page, err = s.service.ListPendingVerifications(s.ctx, models.PendingFilter{StepName: "Face Match"})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
	s.Equal("Face Match", page.Items[0].Step.Name)

	page, err = s.service.ListPendingVerifications(s.ctx, models.PendingFilter{Page: 2, Limit: 1})
	s.Require().NoError(err)
	s.Equal(2, page.Total)
	s.Require().Len(page.Items, 1)
	s.Equal("Face Match", page.Items[0].Step.Name)
}

func (s *ServiceSuite) TestListPendingValidation() {
	_, err := s.service.ListPendingVerifications(s.ctx, models.PendingFilter{Limit: 101})
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.ListPendingVerifications(s.ctx, models.PendingFilter{Page: -1})
	s.requireCode(err, dErrors.CodeValidation)
}

func (s *ServiceSuite) TestListPendingResolverFailurePropagates() {
	userID := s.initUser(false)
	s.markPending(userID, "Government ID", time.Minute)

	s.identities.EXPECT().ResolveUserIdentity(gomock.Any(), userID).
		Return(models.UserIdentity{}, errors.New("directory timeout"))

	_, err := s.service.ListPendingVerifications(s.ctx, models.PendingFilter{})
	s.requireCode(err, dErrors.CodeUnavailable)
}
