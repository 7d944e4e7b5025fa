package pillar

import (
	"context"
	"sort"
	"sync"
	"time"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	"studentverify/pkg/platform/sentinel"
)

// InMemory is a concurrency-safe pillar store for development and tests.
// Returned pillars are copies; callers cannot mutate stored state.
type InMemory struct {
	mu      sync.RWMutex
	pillars map[id.PillarID]*models.Pillar
	byUser  map[id.UserID][]id.PillarID
}

func NewInMemory() *InMemory {
	return &InMemory{
		pillars: make(map[id.PillarID]*models.Pillar),
		byUser:  make(map[id.UserID][]id.PillarID),
	}
}

// InitializePillars stores the full pillar set for a user, or nothing.
func (s *InMemory) InitializePillars(_ context.Context, userID id.UserID, pillars []*models.Pillar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.byUser[userID]) > 0 {
		return sentinel.ErrAlreadyUsed
	}
	ids := make([]id.PillarID, 0, len(pillars))
	for _, p := range pillars {
		c := *p
		s.pillars[p.ID] = &c
		ids = append(ids, p.ID)
	}
	s.byUser[userID] = ids
	return nil
}

func (s *InMemory) ListByUser(_ context.Context, userID id.UserID) ([]*models.Pillar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Pillar, 0, len(s.byUser[userID]))
	for _, pid := range s.byUser[userID] {
		c := *s.pillars[pid]
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Kind.Rank() < out[j].Kind.Rank() })
	return out, nil
}

func (s *InMemory) FindByUserAndKind(_ context.Context, userID id.UserID, kind models.PillarKind) (*models.Pillar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pid := range s.byUser[userID] {
		if p := s.pillars[pid]; p.Kind == kind {
			c := *p
			return &c, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByID(_ context.Context, pillarID id.PillarID) (*models.Pillar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pillars[pillarID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *p
	return &c, nil
}

// SetStatus writes status and, when non-nil, completion.
func (s *InMemory) SetStatus(_ context.Context, pillarID id.PillarID, status models.PillarStatus, completion *int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pillars[pillarID]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.Status = status
	if completion != nil {
		p.CompletionPercentage = *completion
	}
	p.UpdatedAt = now
	return nil
}
