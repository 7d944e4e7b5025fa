// Package catalog loads the versioned step catalog used to seed a user's
// verification center.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"studentverify/internal/verification/models"
)

// FastPathEmailVerified marks the step that initialization completes when the
// user's email is already confirmed.
const FastPathEmailVerified = "email_verified"

const supportedVersion = 1

//go:embed catalog.yaml
var embedded []byte

// Catalog is an immutable, validated step catalog.
type Catalog struct {
	Version int      `yaml:"version"`
	Pillars []Pillar `yaml:"pillars"`
}

type Pillar struct {
	Kind   models.PillarKind `yaml:"kind"`
	Weight int               `yaml:"weight"`
	Steps  []Step            `yaml:"steps"`
}

type Step struct {
	Name       string          `yaml:"name"`
	Order      int             `yaml:"order"`
	Type       models.StepType `yaml:"type"`
	FastPath   string          `yaml:"fast_path,omitempty"`
	MaxRetries *int            `yaml:"max_retries,omitempty"`
	Checklist  []string        `yaml:"checklist"`
	Metadata   map[string]any  `yaml:"metadata,omitempty"`
}

// Retries is the step's retry budget, defaulting to models.DefaultMaxRetries.
func (s Step) Retries() int {
	if s.MaxRetries == nil {
		return models.DefaultMaxRetries
	}
	return *s.MaxRetries
}

// ChecklistItems returns a fresh unmet checklist for a new step.
func (s Step) ChecklistItems() []models.ChecklistItem {
	items := make([]models.ChecklistItem, 0, len(s.Checklist))
	for _, req := range s.Checklist {
		items = append(items, models.ChecklistItem{Requirement: req})
	}
	return items
}

// Default returns the embedded catalog. It panics if the embedded file is
// invalid, which only a broken build can cause.
func Default() *Catalog {
	c, err := Parse(embedded)
	if err != nil {
		panic(fmt.Sprintf("embedded verification catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file, or returns the embedded catalog when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Parse(embedded)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a catalog document. Pillars are returned in
// display order and steps in ascending Order.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(c.Pillars, func(i, j int) bool {
		return c.Pillars[i].Kind.Rank() < c.Pillars[j].Kind.Rank()
	})
	for i := range c.Pillars {
		steps := c.Pillars[i].Steps
		sort.SliceStable(steps, func(a, b int) bool { return steps[a].Order < steps[b].Order })
	}
	return &c, nil
}

// Validate checks the structural rules every catalog must satisfy.
func (c *Catalog) Validate() error {
	if c.Version != supportedVersion {
		return fmt.Errorf("unsupported catalog version %d", c.Version)
	}
	if len(c.Pillars) != len(models.PillarKinds) {
		return fmt.Errorf("catalog must define %d pillars, got %d", len(models.PillarKinds), len(c.Pillars))
	}

	seenKinds := make(map[models.PillarKind]bool)
	fastPaths := 0
	weights := 0
	for _, p := range c.Pillars {
		if !p.Kind.IsValid() {
			return fmt.Errorf("unknown pillar kind %q", p.Kind)
		}
		if seenKinds[p.Kind] {
			return fmt.Errorf("pillar %s defined twice", p.Kind)
		}
		seenKinds[p.Kind] = true
		if p.Weight <= 0 {
			return fmt.Errorf("pillar %s: weight must be positive", p.Kind)
		}
		weights += p.Weight
		if len(p.Steps) == 0 {
			return fmt.Errorf("pillar %s: at least one step is required", p.Kind)
		}

		names := make(map[string]bool)
		orders := make(map[int]bool)
		for _, s := range p.Steps {
			if s.Name == "" {
				return fmt.Errorf("pillar %s: step name is required", p.Kind)
			}
			if names[s.Name] {
				return fmt.Errorf("pillar %s: duplicate step %q", p.Kind, s.Name)
			}
			names[s.Name] = true
			if s.Order < 1 || orders[s.Order] {
				return fmt.Errorf("pillar %s: step %q has invalid or duplicate order %d", p.Kind, s.Name, s.Order)
			}
			orders[s.Order] = true
			if !s.Type.IsValid() {
				return fmt.Errorf("pillar %s: step %q has unknown type %q", p.Kind, s.Name, s.Type)
			}
			if s.MaxRetries != nil && *s.MaxRetries < 0 {
				return fmt.Errorf("pillar %s: step %q has negative max_retries", p.Kind, s.Name)
			}
			switch s.FastPath {
			case "":
			case FastPathEmailVerified:
				fastPaths++
			default:
				return fmt.Errorf("pillar %s: step %q has unknown fast_path %q", p.Kind, s.Name, s.FastPath)
			}
		}
	}
	if weights != 100 {
		return fmt.Errorf("pillar weights must sum to 100, got %d", weights)
	}
	if fastPaths > 1 {
		return fmt.Errorf("at most one step may use the %s fast path", FastPathEmailVerified)
	}
	return nil
}

// Pillar returns the definition for kind.
func (c *Catalog) Pillar(kind models.PillarKind) (Pillar, bool) {
	for _, p := range c.Pillars {
		if p.Kind == kind {
			return p, true
		}
	}
	return Pillar{}, false
}

// StepCount is the number of steps a fully initialized user has.
func (c *Catalog) StepCount() int {
	n := 0
	for _, p := range c.Pillars {
		n += len(p.Steps)
	}
	return n
}
