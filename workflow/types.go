// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

// Package workflow implements a generic multi-step approval and review
// state machine. A Definition describes an ordered list of step
// templates; starting a workflow materializes an Instance with one Step
// per template; actors take Actions that advance or terminate the
// instance. The engine stores subject references opaquely and never
// dereferences them.
package workflow

import (
	"time"

	"peopleflow/platform/shared/types"
)

// DefinitionType classifies a workflow definition.
type DefinitionType string

const (
	DefinitionTypeApproval     DefinitionType = "approval"
	DefinitionTypeReview       DefinitionType = "review"
	DefinitionTypeNotification DefinitionType = "notification"
	DefinitionTypeSequential   DefinitionType = "sequential"
	DefinitionTypeParallel     DefinitionType = "parallel"
)

// ValidDefinitionTypes contains all valid definition types.
var ValidDefinitionTypes = []DefinitionType{
	DefinitionTypeApproval,
	DefinitionTypeReview,
	DefinitionTypeNotification,
	DefinitionTypeSequential,
	DefinitionTypeParallel,
}

// IsValidDefinitionType checks if a string is a valid definition type.
func IsValidDefinitionType(s string) bool {
	for _, valid := range ValidDefinitionTypes {
		if DefinitionType(s) == valid {
			return true
		}
	}
	return false
}

// AssigneeType identifies how a step's assignee reference resolves.
type AssigneeType string

const (
	AssigneeTypeUser       AssigneeType = "user"
	AssigneeTypeRole       AssigneeType = "role"
	AssigneeTypeDepartment AssigneeType = "department"
	AssigneeTypeSystem     AssigneeType = "system"
)

// IsValidAssigneeType checks if a string is a valid assignee type.
func IsValidAssigneeType(s string) bool {
	switch AssigneeType(s) {
	case AssigneeTypeUser, AssigneeTypeRole, AssigneeTypeDepartment, AssigneeTypeSystem:
		return true
	default:
		return false
	}
}

// StepTemplate describes one step of a workflow definition.
type StepTemplate struct {
	// Name is a human-readable label ("Manager approval").
	Name string `json:"name"`

	// StepType classifies the step ("approval", "review",
	// "notification", "automatic").
	StepType string `json:"step_type"`

	// AssigneeType says how AssigneeRef is resolved.
	AssigneeType AssigneeType `json:"assignee_type"`

	// AssigneeRef identifies the user, role or department. Empty for
	// system steps.
	AssigneeRef string `json:"assignee_ref,omitempty"`

	// Config carries step-type-specific settings.
	Config map[string]any `json:"config,omitempty"`

	// Order positions the step. Orders are unique and contiguous
	// from 0 within a definition.
	Order int `json:"order"`

	// Required steps block advancement until acted on; non-required
	// steps are auto-skipped when overdue.
	Required bool `json:"is_required"`

	// TimeoutHours sets the step due date relative to workflow start.
	// 0 means no due date.
	TimeoutHours int `json:"timeout_hours,omitempty"`
}

// Definition is a versioned workflow template. A definition is
// immutable once referenced by a running instance; changes create a new
// version under the same key.
type Definition struct {
	ID        string         `json:"id"`
	Key       string         `json:"key"`
	Name      string         `json:"name"`
	Type      DefinitionType `json:"type"`
	Steps     []StepTemplate `json:"steps"`
	Active    bool           `json:"is_active"`
	Version   int            `json:"version"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// InstanceStatus is the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending    InstanceStatus = "pending"
	InstanceStatusInProgress InstanceStatus = "in_progress"
	InstanceStatusApproved   InstanceStatus = "approved"
	InstanceStatusRejected   InstanceStatus = "rejected"
	InstanceStatusCancelled  InstanceStatus = "cancelled"
	InstanceStatusCompleted  InstanceStatus = "completed"
)

// IsTerminal reports whether the status permits no further actions.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusApproved, InstanceStatusRejected,
		InstanceStatusCancelled, InstanceStatusCompleted:
		return true
	default:
		return false
	}
}

// Instance is one running (or finished) workflow case.
type Instance struct {
	ID                string          `json:"id"`
	DefinitionID      string          `json:"definition_id"`
	DefinitionVersion int             `json:"definition_version"`
	Subject           types.SubjectRef `json:"subject"`
	Status            InstanceStatus  `json:"status"`

	// CurrentStepID points at the lowest-order pending or in_progress
	// step, or is empty when the instance is terminal.
	CurrentStepID   string `json:"current_step_id,omitempty"`
	CurrentAssignee string `json:"current_assignee,omitempty"`

	Context   map[string]any `json:"context,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`

	StartedBy   string     `json:"started_by,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// StepStatus is the lifecycle state of a materialized step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusCancelled  StepStatus = "cancelled"
)

// IsTerminal reports whether the step permits no further actions.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusSkipped, StepStatusCancelled:
		return true
	default:
		return false
	}
}

// Step is one materialized step of an instance, created from its
// definition's template at start time.
type Step struct {
	ID         string       `json:"id"`
	InstanceID string       `json:"instance_id"`
	Name       string       `json:"name"`
	Type       string       `json:"type"`
	Status     StepStatus   `json:"status"`
	Order      int          `json:"order"`
	Required   bool         `json:"is_required"`

	AssigneeType AssigneeType `json:"assignee_type"`
	Assignee     string       `json:"assignee,omitempty"`
	AssignedBy   string       `json:"assigned_by,omitempty"`
	AssignedAt   *time.Time   `json:"assigned_at,omitempty"`

	DueDate     *time.Time `json:"due_date,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Overdue reports whether the step's due date has passed without the
// step reaching a terminal status.
func (s Step) Overdue(now time.Time) bool {
	return s.DueDate != nil && now.After(*s.DueDate) && !s.Status.IsTerminal()
}

// ActionType is the kind of decision an actor takes on a step.
type ActionType string

const (
	ActionApprove        ActionType = "approve"
	ActionReject         ActionType = "reject"
	ActionDelegate       ActionType = "delegate"
	ActionComment        ActionType = "comment"
	ActionRequestChanges ActionType = "request_changes"
	ActionComplete       ActionType = "complete"
	ActionCancel         ActionType = "cancel"
	ActionReassign       ActionType = "reassign"
)

// IsValidActionType checks if a string is a valid action type.
func IsValidActionType(s string) bool {
	switch ActionType(s) {
	case ActionApprove, ActionReject, ActionDelegate, ActionComment,
		ActionRequestChanges, ActionComplete, ActionCancel, ActionReassign:
		return true
	default:
		return false
	}
}

// Action is one append-only audit row. Actions are never deleted or
// mutated.
type Action struct {
	ID          string         `json:"id"`
	InstanceID  string         `json:"instance_id"`
	StepID      string         `json:"step_id"`
	ActorID     string         `json:"actor_id"`
	Type        ActionType     `json:"action"`
	Comment     string         `json:"comment,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	DelegatedTo string         `json:"delegated_to,omitempty"`
	PerformedAt time.Time      `json:"performed_at"`
}

// ActionSpec is the caller-supplied portion of an action.
type ActionSpec struct {
	Type        ActionType     `json:"action"`
	Comment     string         `json:"comment,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	DelegatedTo string         `json:"delegated_to,omitempty"`
}
