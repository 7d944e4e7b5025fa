// Package service is the verification engine: it seeds a user's center from
// the catalog, enforces the step lifecycle and keeps pillar completion in
// step with every committed transition.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"studentverify/internal/verification/catalog"
	"studentverify/internal/verification/events"
	"studentverify/internal/verification/metrics"
	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
	"studentverify/pkg/platform/sentinel"
	"studentverify/pkg/requestcontext"
)

const (
	tracerName                 = "studentverify/internal/verification/service"
	defaultIdentityConcurrency = 8
)

type PillarStore interface {
	InitializePillars(ctx context.Context, userID id.UserID, pillars []*models.Pillar) error
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Pillar, error)
	FindByUserAndKind(ctx context.Context, userID id.UserID, kind models.PillarKind) (*models.Pillar, error)
	FindByID(ctx context.Context, pillarID id.PillarID) (*models.Pillar, error)
	SetStatus(ctx context.Context, pillarID id.PillarID, status models.PillarStatus, completion *int, now time.Time) error
}

type StepStore interface {
	Create(ctx context.Context, step *models.Step) error
	FindByID(ctx context.Context, stepID id.StepID) (*models.Step, error)
	ListByPillar(ctx context.Context, pillarID id.PillarID) ([]*models.Step, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Step, error)
	UpdateStatus(ctx context.Context, stepID id.StepID, status models.StepStatus, fields models.StepUpdate, now time.Time) (*models.Step, error)
	RecordRetry(ctx context.Context, stepID id.StepID, now time.Time) (*models.Step, error)
	CanRetry(ctx context.Context, stepID id.StepID) (bool, error)
	ListPending(ctx context.Context, filter models.PendingFilter) ([]*models.Step, int, error)
}

type EvidenceStore interface {
	Add(ctx context.Context, evidence *models.Evidence) error
	ListByStep(ctx context.Context, stepID id.StepID) ([]*models.Evidence, error)
	CountByStepIDs(ctx context.Context, stepIDs []id.StepID) (map[id.StepID]int, error)
}

// Service orchestrates the verification center.
type Service struct {
	pillars    PillarStore
	steps      StepStore
	evidence   EvidenceStore
	emails     EmailVerifier
	identities IdentityResolver

	tx                  StoreTx
	catalog             *catalog.Catalog
	publisher           EventPublisher
	logger              *slog.Logger
	metrics             *metrics.Metrics
	tracer              trace.Tracer
	identityConcurrency int
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTx replaces the default in-memory sharded transaction, e.g. with a
// Postgres transaction runner.
func WithTx(tx StoreTx) Option {
	return func(s *Service) {
		s.tx = tx
	}
}

func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Service) {
		s.catalog = c
	}
}

func WithEventPublisher(publisher EventPublisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithIdentityConcurrency bounds parallel identity lookups per pending page.
func WithIdentityConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.identityConcurrency = n
		}
	}
}

// New constructs a Service.
func New(pillars PillarStore, steps StepStore, evidence EvidenceStore, emails EmailVerifier, identities IdentityResolver, opts ...Option) *Service {
	s := &Service{
		pillars:             pillars,
		steps:               steps,
		evidence:            evidence,
		emails:              emails,
		identities:          identities,
		identityConcurrency: defaultIdentityConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = NewShardedTx()
	}
	if s.catalog == nil {
		s.catalog = catalog.Default()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// storeError translates a store failure into a domain error. Domain errors
// raised inside a transaction pass through unchanged.
func (s *Service) storeError(ctx context.Context, err error, notFoundMsg, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, op+" timed out")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "storage unavailable")
	}
	s.logger.ErrorContext(ctx, "verification storage failure",
		"operation", op,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+op)
}

func (s *Service) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "verification."+op, trace.WithAttributes(attrs...))
}

// finish ends span and records latency for op. Pass the operation's named error.
func (s *Service) finish(span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
	s.metrics.ObserveOperation(op, start)
}

// publish delivers event after commit. Failures are logged and counted only.
func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.metrics.IncEventPublishFailure(string(event.Type))
		s.logger.WarnContext(ctx, "failed to publish verification event",
			"event_type", event.Type,
			"user_id", event.UserID,
			"request_id", event.RequestID,
			"error", err,
		)
	}
}
