package step

import (
	"context"
	"sort"
	"sync"
	"time"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	"studentverify/pkg/platform/sentinel"
)

// InMemory is a concurrency-safe step store for development and tests.
type InMemory struct {
	mu    sync.RWMutex
	steps map[id.StepID]*models.Step
}

func NewInMemory() *InMemory {
	return &InMemory{steps: make(map[id.StepID]*models.Step)}
}

// Create stores a new step in not_verified with version 1.
func (s *InMemory) Create(_ context.Context, st *models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.steps[st.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	for _, other := range s.steps {
		if other.PillarID == st.PillarID && other.Order == st.Order {
			return sentinel.ErrAlreadyUsed
		}
	}
	c := st.Clone()
	c.Status = models.StepStatusNotVerified
	c.Version = 1
	s.steps[c.ID] = c
	return nil
}

func (s *InMemory) FindByID(_ context.Context, stepID id.StepID) (*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.steps[stepID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return st.Clone(), nil
}

func (s *InMemory) ListByPillar(_ context.Context, pillarID id.PillarID) ([]*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Step
	for _, st := range s.steps {
		if st.PillarID == pillarID {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

// ListByUser returns the user's steps grouped by pillar display order, then step order.
func (s *InMemory) ListByUser(_ context.Context, userID id.UserID) ([]*models.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Step
	for _, st := range s.steps {
		if st.UserID == userID {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].PillarKind.Rank(), out[j].PillarKind.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

func (s *InMemory) UpdateStatus(_ context.Context, stepID id.StepID, status models.StepStatus, fields models.StepUpdate, now time.Time) (*models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.steps[stepID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	st.Apply(status, fields, now)
	return st.Clone(), nil
}

// RecordRetry spends one unit of retry budget and puts the step back to pending.
func (s *InMemory) RecordRetry(_ context.Context, stepID id.StepID, now time.Time) (*models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.steps[stepID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !st.CanRetry() {
		return nil, ErrRetryNotAllowed
	}
	count := st.RetryCount + 1
	st.Apply(models.StepStatusPending, models.StepUpdate{RetryCount: &count, LastAttemptedAt: &now}, now)
	return st.Clone(), nil
}

func (s *InMemory) CanRetry(_ context.Context, stepID id.StepID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.steps[stepID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	return st.CanRetry(), nil
}

// ListPending pages through pending steps, most recently attempted first
// (never-attempted last), then newest first.
func (s *InMemory) ListPending(_ context.Context, filter models.PendingFilter) ([]*models.Step, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.Step
	for _, st := range s.steps {
		if st.Status != models.StepStatusPending {
			continue
		}
		if filter.PillarKind != nil && st.PillarKind != *filter.PillarKind {
			continue
		}
		if filter.StepName != "" && st.Name != filter.StepName {
			continue
		}
		matched = append(matched, st)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch {
		case a.LastAttemptedAt != nil && b.LastAttemptedAt == nil:
			return true
		case a.LastAttemptedAt == nil && b.LastAttemptedAt != nil:
			return false
		case a.LastAttemptedAt != nil && !a.LastAttemptedAt.Equal(*b.LastAttemptedAt):
			return a.LastAttemptedAt.After(*b.LastAttemptedAt)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		default:
			return a.ID.String() < b.ID.String()
		}
	})

	total := len(matched)
	start := min(filter.Offset(), total)
	end := min(start+filter.Limit, total)

	out := make([]*models.Step, 0, end-start)
	for _, st := range matched[start:end] {
		out = append(out, st.Clone())
	}
	return out, total, nil
}
