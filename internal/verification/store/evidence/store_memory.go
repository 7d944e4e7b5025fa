package evidence

import (
	"context"
	"sort"
	"sync"

	"studentverify/internal/verification/models"
	id "studentverify/pkg/domain"
	"studentverify/pkg/platform/sentinel"
)

// InMemory is an append-only evidence store for development and tests.
type InMemory struct {
	mu     sync.RWMutex
	byStep map[id.StepID][]*models.Evidence
	ids    map[id.EvidenceID]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		byStep: make(map[id.StepID][]*models.Evidence),
		ids:    make(map[id.EvidenceID]struct{}),
	}
}

func (s *InMemory) Add(_ context.Context, ev *models.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[ev.ID]; dup {
		return sentinel.ErrAlreadyUsed
	}
	c := *ev
	c.Metadata = models.CloneMetadata(ev.Metadata)
	s.byStep[ev.StepID] = append(s.byStep[ev.StepID], &c)
	s.ids[ev.ID] = struct{}{}
	return nil
}

// ListByStep returns the step's evidence, newest first.
func (s *InMemory) ListByStep(_ context.Context, stepID id.StepID) ([]*models.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.byStep[stepID]
	out := make([]*models.Evidence, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		c := *items[i]
		c.Metadata = models.CloneMetadata(items[i].Metadata)
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

// CountByStepIDs returns evidence counts for the given steps; steps without
// evidence are absent from the map.
func (s *InMemory) CountByStepIDs(_ context.Context, stepIDs []id.StepID) (map[id.StepID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[id.StepID]int)
	for _, sid := range stepIDs {
		if n := len(s.byStep[sid]); n > 0 {
			out[sid] = n
		}
	}
	return out, nil
}
