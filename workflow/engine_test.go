// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peopleflow/platform/shared/types"
)

func approvalSpec() DefinitionSpec {
	return DefinitionSpec{
		Key:    "leave-approval",
		Name:   "Leave Approval",
		Type:   DefinitionTypeApproval,
		Active: true,
		Steps: []StepTemplate{
			{
				Name:         "Manager Approval",
				StepType:     "approval",
				AssigneeType: AssigneeTypeUser,
				AssigneeRef:  "manager-1",
				Order:        0,
				Required:     true,
			},
			{
				Name:         "HR Review",
				StepType:     "approval",
				AssigneeType: AssigneeTypeRole,
				AssigneeRef:  "hr",
				Order:        1,
				Required:     false,
				TimeoutHours: 24,
			},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewEngine(store), store
}

func startApproval(t *testing.T, e *Engine) (*Instance, []Step) {
	t.Helper()
	ctx := context.Background()

	def, err := e.CreateDefinition(ctx, approvalSpec())
	require.NoError(t, err)

	inst, err := e.StartWorkflow(ctx, def.ID,
		types.NewSubjectRef("leave_request", "lr-42"),
		map[string]any{"days": 3}, nil, "employee-7")
	require.NoError(t, err)

	steps, err := e.GetSteps(ctx, inst.ID)
	require.NoError(t, err)
	return inst, steps
}

func TestCreateDefinitionValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		mutate    func(*DefinitionSpec)
		wantField string
	}{
		{"empty key", func(s *DefinitionSpec) { s.Key = "" }, "key"},
		{"empty name", func(s *DefinitionSpec) { s.Name = "" }, "name"},
		{"unknown type", func(s *DefinitionSpec) { s.Type = "lottery" }, "type"},
		{"no steps", func(s *DefinitionSpec) { s.Steps = nil }, "steps"},
		{"unnamed step", func(s *DefinitionSpec) { s.Steps[0].Name = "" }, "steps"},
		{"bad assignee type", func(s *DefinitionSpec) { s.Steps[0].AssigneeType = "robot" }, "steps"},
		{"missing assignee ref", func(s *DefinitionSpec) { s.Steps[0].AssigneeRef = "" }, "steps"},
		{"negative timeout", func(s *DefinitionSpec) { s.Steps[1].TimeoutHours = -1 }, "steps"},
		{"duplicate order", func(s *DefinitionSpec) { s.Steps[1].Order = 0 }, "steps"},
		{"non-contiguous orders", func(s *DefinitionSpec) { s.Steps[1].Order = 5 }, "steps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := approvalSpec()
			tt.mutate(&spec)

			_, err := e.CreateDefinition(ctx, spec)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestCreateDefinitionVersioning(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.CreateDefinition(ctx, approvalSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := e.CreateDefinition(ctx, approvalSpec())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStartWorkflow(t *testing.T) {
	t.Run("activates first step", func(t *testing.T) {
		e, _ := newTestEngine(t)
		inst, steps := startApproval(t, e)

		assert.Equal(t, InstanceStatusInProgress, inst.Status)
		assert.Equal(t, steps[0].ID, inst.CurrentStepID)
		assert.Equal(t, "manager-1", inst.CurrentAssignee)

		assert.Equal(t, StepStatusInProgress, steps[0].Status)
		require.NotNil(t, steps[0].StartedAt)
		assert.Equal(t, StepStatusPending, steps[1].Status)
		require.NotNil(t, steps[1].DueDate, "timeout hours should set a due date")
		assert.Nil(t, steps[0].DueDate)
	})

	t.Run("invalid subject", func(t *testing.T) {
		e, _ := newTestEngine(t)
		ctx := context.Background()
		def, err := e.CreateDefinition(ctx, approvalSpec())
		require.NoError(t, err)

		_, err = e.StartWorkflow(ctx, def.ID, types.SubjectRef{Kind: "leave_request"}, nil, nil, "employee-7")
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("inactive definition", func(t *testing.T) {
		e, _ := newTestEngine(t)
		ctx := context.Background()

		spec := approvalSpec()
		spec.Active = false
		def, err := e.CreateDefinition(ctx, spec)
		require.NoError(t, err)

		_, err = e.StartWorkflow(ctx, def.ID, types.NewSubjectRef("leave_request", "lr-1"), nil, nil, "employee-7")
		var inactive *DefinitionInactiveError
		assert.ErrorAs(t, err, &inactive)
	})

	t.Run("unknown definition", func(t *testing.T) {
		e, _ := newTestEngine(t)
		_, err := e.StartWorkflow(context.Background(), "ghost", types.NewSubjectRef("leave_request", "lr-1"), nil, nil, "employee-7")
		var notFound *DefinitionNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})
}

func TestStartWorkflowDefaultTimeouts(t *testing.T) {
	ctx := context.Background()

	spec := approvalSpec()
	spec.Steps[0].TimeoutHours = 0
	spec.Steps[1].TimeoutHours = 24

	t.Run("configured default fills unset timeouts", func(t *testing.T) {
		store := NewMemoryStore()
		e := NewEngine(store, WithDefaultTimeouts(map[string]int{"approval": 48}))

		def, err := e.CreateDefinition(ctx, spec)
		require.NoError(t, err)
		inst, err := e.StartWorkflow(ctx, def.ID,
			types.NewSubjectRef("leave_request", "lr-1"), nil, nil, "employee-7")
		require.NoError(t, err)

		steps, err := e.GetSteps(ctx, inst.ID)
		require.NoError(t, err)

		require.NotNil(t, steps[0].DueDate)
		assert.WithinDuration(t, inst.StartedAt.Add(48*time.Hour), *steps[0].DueDate, time.Second)

		// An explicit template timeout wins over the default.
		require.NotNil(t, steps[1].DueDate)
		assert.WithinDuration(t, inst.StartedAt.Add(24*time.Hour), *steps[1].DueDate, time.Second)
	})

	t.Run("no default leaves the step without a due date", func(t *testing.T) {
		e, _ := newTestEngine(t)

		def, err := e.CreateDefinition(ctx, spec)
		require.NoError(t, err)
		inst, err := e.StartWorkflow(ctx, def.ID,
			types.NewSubjectRef("leave_request", "lr-1"), nil, nil, "employee-7")
		require.NoError(t, err)

		steps, err := e.GetSteps(ctx, inst.ID)
		require.NoError(t, err)
		assert.Nil(t, steps[0].DueDate)
	})

	t.Run("default for another type does not apply", func(t *testing.T) {
		store := NewMemoryStore()
		e := NewEngine(store, WithDefaultTimeouts(map[string]int{"review": 48}))

		def, err := e.CreateDefinition(ctx, spec)
		require.NoError(t, err)
		inst, err := e.StartWorkflow(ctx, def.ID,
			types.NewSubjectRef("leave_request", "lr-1"), nil, nil, "employee-7")
		require.NoError(t, err)

		steps, err := e.GetSteps(ctx, inst.ID)
		require.NoError(t, err)
		assert.Nil(t, steps[0].DueDate)
	})
}

func TestApprovalHappyPath(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	inst, steps := startApproval(t, e)

	inst, err := e.TakeAction(ctx, inst.ID, steps[0].ID, ActionSpec{Type: ActionApprove, Comment: "ok"}, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, InstanceStatusInProgress, inst.Status)
	assert.Equal(t, steps[1].ID, inst.CurrentStepID)
	assert.Equal(t, "hr", inst.CurrentAssignee)

	inst, err = e.TakeAction(ctx, inst.ID, steps[1].ID, ActionSpec{Type: ActionApprove}, "hr-lead")
	require.NoError(t, err)
	assert.Equal(t, InstanceStatusApproved, inst.Status)
	assert.Empty(t, inst.CurrentStepID)
	require.NotNil(t, inst.CompletedAt)

	final, err := e.GetSteps(ctx, inst.ID)
	require.NoError(t, err)
	for _, s := range final {
		assert.Equal(t, StepStatusCompleted, s.Status)
		assert.NotNil(t, s.CompletedAt)
	}

	actions, err := e.GetActions(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionApprove, actions[0].Type)
	assert.Equal(t, "manager-1", actions[0].ActorID)
	assert.Equal(t, "ok", actions[0].Comment)
}

func TestReject(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	inst, steps := startApproval(t, e)

	inst, err := e.TakeAction(ctx, inst.ID, steps[0].ID, ActionSpec{Type: ActionReject, Comment: "no budget"}, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, InstanceStatusRejected, inst.Status)
	assert.Empty(t, inst.CurrentStepID)
	require.NotNil(t, inst.CompletedAt)

	final, err := e.GetSteps(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StepStatusCompleted, final[0].Status)
	assert.Equal(t, "no budget", final[0].Notes)
	assert.Equal(t, StepStatusCancelled, final[1].Status, "later steps are cancelled on rejection")
}

func TestCancel(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	inst, steps := startApproval(t, e)

	inst, err := e.TakeAction(ctx, inst.ID, steps[0].ID, ActionSpec{Type: ActionCancel}, "employee-7")
	require.NoError(t, err)
	assert.Equal(t, InstanceStatusCancelled, inst.Status)
	require.NotNil(t, inst.CancelledAt)

	final, err := e.GetSteps(ctx, inst.ID)
	require.NoError(t, err)
	for _, s := range final {
		assert.Equal(t, StepStatusCancelled, s.Status)
	}
}

func TestTerminalInstanceRejectsActions(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	inst, steps := startApproval(t, e)

	_, err := e.TakeAction(ctx, inst.ID, steps[0].ID, ActionSpec{Type: ActionCancel}, "employee-7")
	require.NoError(t, err)

	_, err = e.TakeAction(ctx, inst.ID, steps[0].ID, ActionSpec{Type: ActionApprove}, "manager-1")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	// The rejected call leaves no audit row behind.
	actions, err := e.GetActions(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestDelegateAndReassign(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	inst, steps := startApproval(t, e)

	t.Run("delegate requires target", func(t *testing.T) {
		_, err := e.TakeAction(ctx, inst.ID, steps[0].ID, ActionSpec{Type: ActionDelegate}, "manager-1")
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "delegated_to", vErr.Field)
	})

	t.Run("delegate moves assignment", func(t *testing.T) {
		got, err := e.TakeAction(ctx, inst.ID, steps[0].ID,
			ActionSpec{Type: ActionDelegate, DelegatedTo: "manager-2"}, "manager-1")
		require.NoError(t, err)
		assert.Equal(t, "manager-2", got.CurrentAssignee)
		assert.Equal(t, steps[0].ID, got.CurrentStepID, "delegation does not advance")

		updated, err := e.GetSteps(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "manager-2", updated[0].Assignee)
		assert.Equal(t, "manager-1", updated[0].AssignedBy)
	})

	t.Run("non-current step rejected", func(t *testing.T) {
		_, err := e.TakeAction(ctx, inst.ID, steps[1].ID,
			ActionSpec{Type: ActionReassign, DelegatedTo: "hr-2"}, "admin")
		var notCurrent *StepNotCurrentError
		assert.ErrorAs(t, err, &notCurrent)
	})
}

func TestCommentOnAnyStep(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	inst, steps := startApproval(t, e)

	// Comments attach to steps that are not current.
	got, err := e.TakeAction(ctx, inst.ID, steps[1].ID,
		ActionSpec{Type: ActionComment, Comment: "heads up"}, "hr-lead")
	require.NoError(t, err)
	assert.Equal(t, steps[0].ID, got.CurrentStepID, "comments change no state")

	actions, err := e.GetActions(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "heads up", actions[0].Comment)
}

func TestSkipStep(t *testing.T) {
	ctx := context.Background()

	t.Run("required step cannot be skipped", func(t *testing.T) {
		e, _ := newTestEngine(t)
		inst, steps := startApproval(t, e)

		err := e.SkipStep(ctx, inst.ID, steps[0].ID)
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("skipping the current step advances", func(t *testing.T) {
		e, _ := newTestEngine(t)
		inst, steps := startApproval(t, e)

		// Approve step 0 so the optional HR step becomes current.
		_, err := e.TakeAction(ctx, inst.ID, steps[0].ID, ActionSpec{Type: ActionApprove}, "manager-1")
		require.NoError(t, err)

		require.NoError(t, e.SkipStep(ctx, inst.ID, steps[1].ID))

		got, err := e.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, InstanceStatusApproved, got.Status, "skipped steps count as passed")

		final, err := e.GetSteps(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, StepStatusSkipped, final[1].Status)

		actions, err := e.GetActions(ctx, inst.ID)
		require.NoError(t, err)
		last := actions[len(actions)-1]
		assert.Equal(t, "system", last.ActorID)
		assert.Equal(t, true, last.Data["auto_skipped"])
	})

	t.Run("terminal step is a no-op", func(t *testing.T) {
		e, _ := newTestEngine(t)
		inst, steps := startApproval(t, e)

		_, err := e.TakeAction(ctx, inst.ID, steps[0].ID, ActionSpec{Type: ActionCancel}, "employee-7")
		require.NoError(t, err)

		assert.NoError(t, e.SkipStep(ctx, inst.ID, steps[1].ID))
	})
}

func TestConcurrentApprovals(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	inst, steps := startApproval(t, e)

	const racers = 2
	results := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = e.TakeAction(ctx, inst.ID, steps[0].ID, ActionSpec{Type: ActionApprove}, "manager-1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var notCurrent *StepNotCurrentError
		var invalid *InvalidTransitionError
		if !errors.As(err, &notCurrent) && !errors.As(err, &invalid) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one racing approval wins")

	actions, err := e.GetActions(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestUnknownActionType(t *testing.T) {
	e, _ := newTestEngine(t)
	inst, steps := startApproval(t, e)

	_, err := e.TakeAction(context.Background(), inst.ID, steps[0].ID, ActionSpec{Type: "shred"}, "manager-1")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "action", vErr.Field)
}
