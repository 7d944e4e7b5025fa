package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"studentverify/internal/verification/events"
	"studentverify/internal/verification/metrics"
	"studentverify/internal/verification/models"
	"studentverify/internal/verification/service/mocks"
	evidencestore "studentverify/internal/verification/store/evidence"
	pillarstore "studentverify/internal/verification/store/pillar"
	stepstore "studentverify/internal/verification/store/step"
	id "studentverify/pkg/domain"
	"studentverify/pkg/requestcontext"
)

func TestPublishFailureDoesNotFailCommittedWork(t *testing.T) {
	ctrl := gomock.NewController(t)
	emails := mocks.NewMockEmailVerifier(ctrl)
	publisher := mocks.NewMockEventPublisher(ctrl)
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())

	svc := New(pillarstore.NewInMemory(), stepstore.NewInMemory(), evidencestore.NewInMemory(),
		emails, mocks.NewMockIdentityResolver(ctrl),
		WithMetrics(m),
		WithEventPublisher(publisher),
	)

	userID := id.UserID(uuid.New())
	ctx := requestcontext.WithRequestID(context.Background(), "req-42")
	emails.EXPECT().IsEmailVerified(gomock.Any(), userID).Return(false, nil)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ev events.Event) error {
			assert.Equal(t, events.TypeCenterInitialized, ev.Type)
			assert.Equal(t, userID, ev.UserID)
			assert.Equal(t, "req-42", ev.RequestID)
			return errors.New("broker down")
		})

	center, err := svc.InitializeForUser(ctx, userID)
	require.NoError(t, err)
	assert.True(t, center.Initialized)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventPublishFailures.WithLabelValues("center_initialized")))

	var stepID id.StepID
	for _, st := range center.Pillars[0].Steps {
		stepID = st.ID
	}
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ev events.Event) error {
			assert.Equal(t, events.TypeStepTransitioned, ev.Type)
			require.NotNil(t, ev.StepID)
			assert.Equal(t, stepID, *ev.StepID)
			assert.Equal(t, models.StepStatusNotVerified, ev.FromStatus)
			assert.Equal(t, models.StepStatusFailed, ev.ToStatus)
			return errors.New("broker down")
		})

	st, err := svc.UpdateStepStatus(ctx, &models.UpdateStepStatusRequest{StepID: stepID, Status: models.StepStatusFailed})
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, st.Status)
}
