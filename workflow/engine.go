// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"peopleflow/platform/shared/logger"
	"peopleflow/platform/shared/types"
)

// lockStripes bounds the number of per-instance mutexes. Actions on
// the same instance always hit the same stripe, so the current-step
// check and the transition are serialized.
const lockStripes = 64

// Engine drives workflow instances through their state machine. All
// state lives in the Store; the engine adds validation, the transition
// rules and per-instance mutual exclusion.
type Engine struct {
	store           Store
	logger          *log.Logger
	defaultTimeouts map[string]int
	locks           [lockStripes]sync.Mutex
}

// EngineOption configures the engine during creation.
type EngineOption func(*Engine)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithDefaultTimeouts sets per-definition-type step timeouts in hours,
// applied when a step template leaves TimeoutHours unset.
func WithDefaultTimeouts(hours map[string]int) EngineOption {
	return func(e *Engine) {
		e.defaultTimeouts = hours
	}
}

// NewEngine creates a workflow engine over the given store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		logger: logger.Prefixed("WORKFLOW"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) lockFor(instanceID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(instanceID))
	return &e.locks[h.Sum32()%lockStripes]
}

// DefinitionSpec is the caller-supplied portion of a new definition.
type DefinitionSpec struct {
	Key       string         `json:"key"`
	Name      string         `json:"name"`
	Type      DefinitionType `json:"type"`
	Steps     []StepTemplate `json:"steps"`
	Active    bool           `json:"is_active"`
	CreatedBy string         `json:"created_by,omitempty"`
}

// CreateDefinition validates and persists a definition. Reusing an
// existing key creates the next version; prior versions and their
// running instances are untouched.
func (e *Engine) CreateDefinition(ctx context.Context, spec DefinitionSpec) (*Definition, error) {
	if err := validateDefinitionSpec(spec); err != nil {
		return nil, err
	}

	latest, err := e.store.LatestDefinitionVersion(ctx, spec.Key)
	if err != nil {
		return nil, err
	}

	steps := append([]StepTemplate(nil), spec.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	def := &Definition{
		ID:        uuid.NewString(),
		Key:       spec.Key,
		Name:      spec.Name,
		Type:      spec.Type,
		Steps:     steps,
		Active:    spec.Active,
		Version:   latest + 1,
		CreatedBy: spec.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}

	e.logger.Printf("Created workflow definition %s (key %s, version %d, %d steps)",
		def.ID, def.Key, def.Version, len(def.Steps))
	return def, nil
}

func validateDefinitionSpec(spec DefinitionSpec) error {
	if spec.Key == "" {
		return &ValidationError{Field: "key", Message: "must not be empty"}
	}
	if spec.Name == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !IsValidDefinitionType(string(spec.Type)) {
		return &ValidationError{Field: "type", Message: "unknown workflow type"}
	}
	if len(spec.Steps) == 0 {
		return &ValidationError{Field: "steps", Message: "must not be empty"}
	}

	seen := make(map[int]bool, len(spec.Steps))
	for _, step := range spec.Steps {
		if step.Name == "" {
			return &ValidationError{Field: "steps", Message: "step name must not be empty"}
		}
		if !IsValidAssigneeType(string(step.AssigneeType)) {
			return &ValidationError{Field: "steps", Message: "unknown assignee type"}
		}
		if step.AssigneeType != AssigneeTypeSystem && step.AssigneeRef == "" {
			return &ValidationError{
				Field:   "steps",
				Message: "assignee reference required for non-system steps",
			}
		}
		if step.TimeoutHours < 0 {
			return &ValidationError{Field: "steps", Message: "timeout hours must not be negative"}
		}
		if seen[step.Order] {
			return &ValidationError{Field: "steps", Message: "step orders must be unique"}
		}
		seen[step.Order] = true
	}

	// Orders are contiguous from 0 so advancement is unambiguous.
	for i := 0; i < len(spec.Steps); i++ {
		if !seen[i] {
			return &ValidationError{
				Field:   "steps",
				Message: "step orders must be contiguous from 0",
			}
		}
	}
	return nil
}

// GetDefinition returns a definition by id.
func (e *Engine) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	return e.store.GetDefinition(ctx, id)
}

// ListDefinitions returns all stored definition versions.
func (e *Engine) ListDefinitions(ctx context.Context) ([]*Definition, error) {
	return e.store.ListDefinitions(ctx)
}

// StartWorkflow materializes a new instance of the definition against
// the given subject. The first step becomes current immediately.
func (e *Engine) StartWorkflow(ctx context.Context, definitionID string, subject types.SubjectRef, wfContext, variables map[string]any, startedBy string) (*Instance, error) {
	if !subject.Valid() {
		return nil, &ValidationError{Field: "subject", Message: "kind and id must be set"}
	}

	def, err := e.store.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, &DefinitionInactiveError{ID: def.ID, Key: def.Key}
	}

	now := time.Now().UTC()
	inst := &Instance{
		ID:                uuid.NewString(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Subject:           subject,
		Status:            InstanceStatusPending,
		Context:           wfContext,
		Variables:         variables,
		StartedBy:         startedBy,
		StartedAt:         now,
	}

	steps := make([]Step, 0, len(def.Steps))
	for _, tpl := range def.Steps {
		step := Step{
			ID:           uuid.NewString(),
			InstanceID:   inst.ID,
			Name:         tpl.Name,
			Type:         tpl.StepType,
			Status:       StepStatusPending,
			Order:        tpl.Order,
			Required:     tpl.Required,
			AssigneeType: tpl.AssigneeType,
			Assignee:     tpl.AssigneeRef,
		}
		timeout := tpl.TimeoutHours
		if timeout == 0 {
			timeout = e.defaultTimeouts[string(def.Type)]
		}
		if timeout > 0 {
			due := now.Add(time.Duration(timeout) * time.Hour)
			step.DueDate = &due
		}
		steps = append(steps, step)
	}

	// Activate the first step. The instance goes straight to
	// in_progress when the step's assignee is already resolved; a
	// step awaiting assignment leaves it pending.
	first := &steps[0]
	first.Status = StepStatusInProgress
	first.StartedAt = &now
	if first.Assignee != "" || first.AssigneeType == AssigneeTypeSystem {
		first.AssignedBy = startedBy
		first.AssignedAt = &now
		inst.Status = InstanceStatusInProgress
	}
	inst.CurrentStepID = first.ID
	inst.CurrentAssignee = first.Assignee

	if err := e.store.CreateInstance(ctx, inst, steps); err != nil {
		return nil, err
	}

	e.logger.Printf("Started workflow %s (definition %s v%d) for subject %s",
		inst.ID, def.Key, def.Version, subject.String())
	return inst, nil
}

// GetInstance returns an instance by id.
func (e *Engine) GetInstance(ctx context.Context, id string) (*Instance, error) {
	return e.store.GetInstance(ctx, id)
}

// GetSteps returns the instance's steps ordered by Order.
func (e *Engine) GetSteps(ctx context.Context, instanceID string) ([]Step, error) {
	return e.store.GetSteps(ctx, instanceID)
}

// GetActions returns the instance's audit trail.
func (e *Engine) GetActions(ctx context.Context, instanceID string) ([]Action, error) {
	return e.store.GetActions(ctx, instanceID)
}

// TakeAction applies one actor decision to a step. The current-step
// check and the resulting transition are serialized per instance, so
// of two racing calls on the same step exactly one succeeds; the other
// observes StepNotCurrentError or InvalidTransitionError.
func (e *Engine) TakeAction(ctx context.Context, instanceID, stepID string, spec ActionSpec, actorID string) (*Instance, error) {
	if !IsValidActionType(string(spec.Type)) {
		return nil, &ValidationError{Field: "action", Message: "unknown action type"}
	}
	if (spec.Type == ActionDelegate || spec.Type == ActionReassign) && spec.DelegatedTo == "" {
		return nil, &ValidationError{Field: "delegated_to", Message: "required for delegate and reassign"}
	}

	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status.IsTerminal() {
		return nil, &InvalidTransitionError{
			InstanceID: inst.ID,
			Status:     inst.Status,
			Action:     spec.Type,
		}
	}

	steps, err := e.store.GetSteps(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	step := findStep(steps, stepID)
	if step == nil {
		return nil, &StepNotFoundError{InstanceID: instanceID, StepID: stepID}
	}

	now := time.Now().UTC()
	action := &Action{
		ID:          uuid.NewString(),
		InstanceID:  instanceID,
		StepID:      stepID,
		ActorID:     actorID,
		Type:        spec.Type,
		Comment:     spec.Comment,
		Data:        spec.Data,
		DelegatedTo: spec.DelegatedTo,
		PerformedAt: now,
	}

	var changed []Step

	switch spec.Type {
	case ActionComment:
		// Comments attach to any step and change no state.

	case ActionCancel:
		inst.Status = InstanceStatusCancelled
		inst.CancelledAt = &now
		inst.CurrentStepID = ""
		inst.CurrentAssignee = ""
		changed = cancelOpenSteps(steps, now)

	case ActionDelegate, ActionReassign:
		if step.ID != inst.CurrentStepID {
			return nil, &StepNotCurrentError{InstanceID: instanceID, StepID: stepID}
		}
		step.Assignee = spec.DelegatedTo
		step.AssignedBy = actorID
		step.AssignedAt = &now
		inst.CurrentAssignee = spec.DelegatedTo
		changed = []Step{*step}

	case ActionReject, ActionRequestChanges:
		if step.ID != inst.CurrentStepID {
			return nil, &StepNotCurrentError{InstanceID: instanceID, StepID: stepID}
		}
		step.Status = StepStatusCompleted
		step.CompletedAt = &now
		step.Notes = spec.Comment
		inst.Status = InstanceStatusRejected
		inst.CompletedAt = &now
		inst.CurrentStepID = ""
		inst.CurrentAssignee = ""
		changed = append([]Step{*step}, cancelOpenSteps(steps, now)...)

	case ActionApprove, ActionComplete:
		if step.ID != inst.CurrentStepID {
			return nil, &StepNotCurrentError{InstanceID: instanceID, StepID: stepID}
		}
		step.Status = StepStatusCompleted
		step.CompletedAt = &now
		step.Notes = spec.Comment
		changed = []Step{*step}
		advanceErr := e.advance(ctx, inst, steps, step.Order, now, &changed)
		if advanceErr != nil {
			return nil, advanceErr
		}
	}

	if err := e.store.ApplyAction(ctx, inst, changed, action); err != nil {
		return nil, err
	}

	e.logger.Printf("Applied %s by %s on step %s of workflow %s (status now %s)",
		spec.Type, actorID, stepID, instanceID, inst.Status)
	return inst, nil
}

// advance moves the current-step pointer past completedOrder. With no
// open step left the instance terminates: approval workflows become
// approved, everything else completed.
func (e *Engine) advance(ctx context.Context, inst *Instance, steps []Step, completedOrder int, now time.Time, changed *[]Step) error {
	next := nextOpenStep(steps, completedOrder)
	if next != nil {
		next.Status = StepStatusInProgress
		next.StartedAt = &now
		if next.AssignedAt == nil && (next.Assignee != "" || next.AssigneeType == AssigneeTypeSystem) {
			next.AssignedAt = &now
		}
		inst.Status = InstanceStatusInProgress
		inst.CurrentStepID = next.ID
		inst.CurrentAssignee = next.Assignee
		*changed = append(*changed, *next)
		return nil
	}

	def, err := e.store.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return err
	}
	if def.Type == DefinitionTypeApproval {
		inst.Status = InstanceStatusApproved
	} else {
		inst.Status = InstanceStatusCompleted
	}
	inst.CompletedAt = &now
	inst.CurrentStepID = ""
	inst.CurrentAssignee = ""
	return nil
}

// SkipStep marks an overdue non-required step skipped and advances the
// instance when the step was current. Skipped steps count as passed.
// Required steps are never skipped; they stay pending and surface as
// overdue.
func (e *Engine) SkipStep(ctx context.Context, instanceID, stepID string) error {
	lock := e.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if inst.Status.IsTerminal() {
		return nil
	}

	steps, err := e.store.GetSteps(ctx, instanceID)
	if err != nil {
		return err
	}
	step := findStep(steps, stepID)
	if step == nil {
		return &StepNotFoundError{InstanceID: instanceID, StepID: stepID}
	}
	if step.Required {
		return &ValidationError{Field: "step", Message: "required steps cannot be skipped"}
	}
	if step.Status.IsTerminal() {
		return nil
	}

	now := time.Now().UTC()
	step.Status = StepStatusSkipped
	step.CompletedAt = &now
	changed := []Step{*step}

	if inst.CurrentStepID == step.ID {
		if err := e.advance(ctx, inst, steps, step.Order, now, &changed); err != nil {
			return err
		}
	}

	action := &Action{
		ID:          uuid.NewString(),
		InstanceID:  instanceID,
		StepID:      stepID,
		ActorID:     "system",
		Type:        ActionComment,
		Comment:     "step skipped automatically after timeout",
		Data:        map[string]any{"auto_skipped": true},
		PerformedAt: now,
	}

	if err := e.store.ApplyAction(ctx, inst, changed, action); err != nil {
		return err
	}

	e.logger.Printf("Skipped overdue step %s of workflow %s", stepID, instanceID)
	return nil
}

func findStep(steps []Step, id string) *Step {
	for i := range steps {
		if steps[i].ID == id {
			return &steps[i]
		}
	}
	return nil
}

// nextOpenStep returns the lowest-order pending step after the given
// order. Skipped steps are passed over.
func nextOpenStep(steps []Step, afterOrder int) *Step {
	var next *Step
	for i := range steps {
		s := &steps[i]
		if s.Order <= afterOrder || s.Status.IsTerminal() {
			continue
		}
		if next == nil || s.Order < next.Order {
			next = s
		}
	}
	return next
}

// cancelOpenSteps cancels every step still pending or in progress.
func cancelOpenSteps(steps []Step, now time.Time) []Step {
	var changed []Step
	for i := range steps {
		if steps[i].Status.IsTerminal() {
			continue
		}
		steps[i].Status = StepStatusCancelled
		steps[i].CompletedAt = &now
		changed = append(changed, steps[i])
	}
	return changed
}
