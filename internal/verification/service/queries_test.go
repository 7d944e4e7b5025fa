package service

import (
	"time"

	"github.com/google/uuid"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
)

func (s *ServiceSuite) TestGetPillar() {
	userID := s.initUser(true)

	view, err := s.service.GetPillar(s.ctx, userID, models.PillarPersonalInfo)
	s.Require().NoError(err)
	s.Equal(models.PillarPersonalInfo, view.Pillar.Kind)
	s.Require().Len(view.Steps, 3)
	s.Equal("Face Match", view.Steps[0].Name)

	_, err = s.service.GetPillar(s.ctx, userID, models.PillarKind("finances"))
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.GetPillar(s.ctx, id.UserID(uuid.New()), models.PillarSchool)
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestUploadEvidence() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Upload & Readability").ID

	first, err := s.service.UploadStepEvidence(s.at(time.Minute), &models.UploadEvidenceRequest{
		StepID:   stepID,
		Type:     " Transcript ",
		URL:      "s3://evidence/transcript.pdf",
		Metadata: map[string]any{"pages": 2},
	})
	s.Require().NoError(err)
	s.Equal("transcript", first.Type)

	second, err := s.service.UploadStepEvidence(s.at(2*time.Minute), &models.UploadEvidenceRequest{
		StepID: stepID,
		Type:   "id_card",
		URL:    "https://files.example.edu/id.png",
	})
	s.Require().NoError(err)

	details, err := s.service.GetStepDetails(s.ctx, stepID)
	s.Require().NoError(err)
	s.Require().Len(details.Evidence, 2)
	s.Equal(second.ID, details.Evidence[0].ID, "newest first")
	s.Equal(first.ID, details.Evidence[1].ID)
	s.Equal(models.StepStatusNotVerified, details.Step.Status, "evidence has no lifecycle effect")

	s.Equal(2, s.center(userID).EvidenceCounts[stepID])
}

func (s *ServiceSuite) TestUploadEvidenceValidation() {
	userID := s.initUser(false)
	stepID := s.stepNamed(userID, "Content Match").ID

	_, err := s.service.UploadStepEvidence(s.ctx, &models.UploadEvidenceRequest{StepID: stepID, Type: "scan", URL: "/relative/path"})
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.UploadStepEvidence(s.ctx, &models.UploadEvidenceRequest{StepID: stepID, Type: "", URL: "https://x.example/a"})
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.UploadStepEvidence(s.ctx, &models.UploadEvidenceRequest{StepID: id.StepID(uuid.New()), Type: "scan", URL: "https://x.example/a"})
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestGetStepDetailsUnknownStep() {
	_, err := s.service.GetStepDetails(s.ctx, id.StepID(uuid.New()))
	s.requireCode(err, dErrors.CodeNotFound)
}

func (s *ServiceSuite) TestEnsureStepOwner() {
	owner := s.initUser(false)
	other := s.initUser(false)
	stepID := s.stepNamed(owner, "Face Match").ID

	s.NoError(s.service.EnsureStepOwner(s.ctx, stepID, owner))
	s.requireCode(s.service.EnsureStepOwner(s.ctx, stepID, other), dErrors.CodeNotFound)
	s.requireCode(s.service.EnsureStepOwner(s.ctx, id.StepID(uuid.New()), owner), dErrors.CodeNotFound)
}
