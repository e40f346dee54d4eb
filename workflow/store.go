// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists workflow state. ApplyAction must be atomic: the
// instance update, the step updates and the action row succeed or fail
// together.
type Store interface {
	// CreateDefinition persists a new definition version.
	CreateDefinition(ctx context.Context, def *Definition) error

	// GetDefinition returns a definition by id.
	GetDefinition(ctx context.Context, id string) (*Definition, error)

	// LatestDefinitionVersion returns the highest version stored under
	// the key, or 0 when the key is unused.
	LatestDefinitionVersion(ctx context.Context, key string) (int, error)

	// ListDefinitions returns all definitions ordered by key then
	// version.
	ListDefinitions(ctx context.Context) ([]*Definition, error)

	// CreateInstance persists an instance with its materialized steps
	// atomically.
	CreateInstance(ctx context.Context, inst *Instance, steps []Step) error

	// GetInstance returns an instance by id.
	GetInstance(ctx context.Context, id string) (*Instance, error)

	// GetSteps returns the instance's steps ordered by Order.
	GetSteps(ctx context.Context, instanceID string) ([]Step, error)

	// GetActions returns the instance's audit trail ordered by
	// PerformedAt.
	GetActions(ctx context.Context, instanceID string) ([]Action, error)

	// ApplyAction atomically writes the updated instance, the changed
	// steps and the action row.
	ApplyAction(ctx context.Context, inst *Instance, changed []Step, action *Action) error

	// OverdueSteps returns non-terminal steps whose due date has
	// passed, for the timeout sweeper.
	OverdueSteps(ctx context.Context, now time.Time) ([]Step, error)
}

// MemoryStore is an in-memory Store used by tests and embedded
// deployments. Safe for concurrent use.
type MemoryStore struct {
	definitions map[string]*Definition
	instances   map[string]*Instance
	steps       map[string][]Step   // instance id -> steps
	actions     map[string][]Action // instance id -> actions
	mu          sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]*Definition),
		instances:   make(map[string]*Instance),
		steps:       make(map[string][]Step),
		actions:     make(map[string][]Action),
	}
}

// CreateDefinition persists a new definition version.
func (s *MemoryStore) CreateDefinition(_ context.Context, def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *def
	copied.Steps = append([]StepTemplate(nil), def.Steps...)
	s.definitions[def.ID] = &copied
	return nil
}

// GetDefinition returns a definition by id.
func (s *MemoryStore) GetDefinition(_ context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[id]
	if !ok {
		return nil, &DefinitionNotFoundError{ID: id}
	}
	copied := *def
	copied.Steps = append([]StepTemplate(nil), def.Steps...)
	return &copied, nil
}

// LatestDefinitionVersion returns the highest stored version for a key.
func (s *MemoryStore) LatestDefinitionVersion(_ context.Context, key string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := 0
	for _, def := range s.definitions {
		if def.Key == key && def.Version > latest {
			latest = def.Version
		}
	}
	return latest, nil
}

// ListDefinitions returns all definitions ordered by key then version.
func (s *MemoryStore) ListDefinitions(_ context.Context) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		copied := *def
		copied.Steps = append([]StepTemplate(nil), def.Steps...)
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// CreateInstance persists an instance and its steps.
func (s *MemoryStore) CreateInstance(_ context.Context, inst *Instance, steps []Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *inst
	s.instances[inst.ID] = &copied
	s.steps[inst.ID] = append([]Step(nil), steps...)
	return nil
}

// GetInstance returns an instance by id.
func (s *MemoryStore) GetInstance(_ context.Context, id string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, &InstanceNotFoundError{ID: id}
	}
	copied := *inst
	return &copied, nil
}

// GetSteps returns the instance's steps ordered by Order.
func (s *MemoryStore) GetSteps(_ context.Context, instanceID string) ([]Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.instances[instanceID]; !ok {
		return nil, &InstanceNotFoundError{ID: instanceID}
	}
	steps := append([]Step(nil), s.steps[instanceID]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps, nil
}

// GetActions returns the instance's audit trail in append order.
func (s *MemoryStore) GetActions(_ context.Context, instanceID string) ([]Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.instances[instanceID]; !ok {
		return nil, &InstanceNotFoundError{ID: instanceID}
	}
	return append([]Action(nil), s.actions[instanceID]...), nil
}

// ApplyAction atomically writes the instance, changed steps and action.
func (s *MemoryStore) ApplyAction(_ context.Context, inst *Instance, changed []Step, action *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		return &InstanceNotFoundError{ID: inst.ID}
	}

	copied := *inst
	s.instances[inst.ID] = &copied

	stored := s.steps[inst.ID]
	for _, step := range changed {
		for i := range stored {
			if stored[i].ID == step.ID {
				stored[i] = step
				break
			}
		}
	}
	s.steps[inst.ID] = stored

	if action != nil {
		s.actions[inst.ID] = append(s.actions[inst.ID], *action)
	}
	return nil
}

// OverdueSteps returns non-terminal steps past their due date.
func (s *MemoryStore) OverdueSteps(_ context.Context, now time.Time) ([]Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Step
	for _, steps := range s.steps {
		for _, step := range steps {
			if step.Overdue(now) {
				out = append(out, step)
			}
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
