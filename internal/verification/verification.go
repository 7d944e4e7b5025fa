package verification

import (
	"log/slog"

	"studentverify/internal/verification/handler"
	"studentverify/internal/verification/service"
	authmw "studentverify/pkg/platform/middleware/auth"
)

// Service exposes the verification center engine.
type Service = service.Service

// Handler wires HTTP endpoints to the verification service.
type Handler = handler.Handler

// NewService constructs the verification service with required dependencies.
func NewService(
	pillars service.PillarStore,
	steps service.StepStore,
	evidence service.EvidenceStore,
	emails service.EmailVerifier,
	identities service.IdentityResolver,
	opts ...service.Option,
) *Service {
	return service.New(pillars, steps, evidence, emails, identities, opts...)
}

// NewHandler constructs the HTTP handler for student and admin routes.
func NewHandler(s *Service, logger *slog.Logger, validator authmw.JWTValidator, adminToken string) *Handler {
	return handler.New(s, logger, validator, adminToken)
}
