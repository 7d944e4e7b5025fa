package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	dErrors "studentverify/pkg/domain-errors"
	"studentverify/pkg/platform/sentinel"
)

// ListPendingVerifications pages through steps awaiting review, most recently
// attempted first, each enriched with the owner's identity.
func (s *Service) ListPendingVerifications(ctx context.Context, filter models.PendingFilter) (page *models.PendingPage, err error) {
	const op = "list_pending"
	start := time.Now()
	ctx, span := s.startSpan(ctx, op,
		attribute.Int("page", filter.Page),
		attribute.Int("limit", filter.Limit),
	)
	defer func() { s.finish(span, op, start, err) }()

	filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	steps, total, err := s.steps.ListPending(ctx, filter)
	if err != nil {
		return nil, s.storeError(ctx, err, "pending verifications not found", "list pending verifications")
	}

	identities, err := s.resolveIdentities(ctx, steps)
	if err != nil {
		return nil, err
	}

	items := make([]models.PendingItem, 0, len(steps))
	for _, st := range steps {
		items = append(items, models.PendingItem{Step: st, User: identities[st.UserID]})
	}
	return &models.PendingPage{Items: items, Page: filter.Page, Limit: filter.Limit, Total: total}, nil
}

// resolveIdentities looks up each distinct owner once, with bounded
// concurrency. Unknown users resolve to an empty identity.
func (s *Service) resolveIdentities(ctx context.Context, steps []*models.Step) (map[id.UserID]models.UserIdentity, error) {
	users := make([]id.UserID, 0, len(steps))
	seen := make(map[id.UserID]struct{}, len(steps))
	for _, st := range steps {
		if _, ok := seen[st.UserID]; ok {
			continue
		}
		seen[st.UserID] = struct{}{}
		users = append(users, st.UserID)
	}

	resolved := make([]models.UserIdentity, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.identityConcurrency)
	for i, userID := range users {
		g.Go(func() error {
			identity, err := s.identities.ResolveUserIdentity(gctx, userID)
			if err != nil {
				if errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound) {
					return nil
				}
				return err
			}
			resolved[i] = identity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if _, ok := dErrors.As(err); ok {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to resolve user identities")
	}

	out := make(map[id.UserID]models.UserIdentity, len(users))
	for i, userID := range users {
		out[userID] = resolved[i]
	}
	return out, nil
}
