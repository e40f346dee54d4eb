// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package workflow

import "fmt"

// ValidationError indicates a malformed definition or action spec,
// rejected before any state change.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid workflow input: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid workflow input: %s", e.Message)
}

// DefinitionNotFoundError indicates an unknown workflow definition.
type DefinitionNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *DefinitionNotFoundError) Error() string {
	return fmt.Sprintf("workflow definition %q not found", e.ID)
}

// DefinitionInactiveError indicates an attempt to start a workflow from
// a deactivated definition.
type DefinitionInactiveError struct {
	ID  string
	Key string
}

// Error implements the error interface.
func (e *DefinitionInactiveError) Error() string {
	return fmt.Sprintf("workflow definition %q (key %q) is inactive", e.ID, e.Key)
}

// InstanceNotFoundError indicates an unknown workflow instance.
type InstanceNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *InstanceNotFoundError) Error() string {
	return fmt.Sprintf("workflow instance %q not found", e.ID)
}

// StepNotFoundError indicates a step id that does not belong to the
// instance.
type StepNotFoundError struct {
	InstanceID string
	StepID     string
}

// Error implements the error interface.
func (e *StepNotFoundError) Error() string {
	return fmt.Sprintf("step %q not found in workflow instance %q", e.StepID, e.InstanceID)
}

// InvalidTransitionError indicates an action that the instance's
// current state does not permit, such as acting on a terminal instance.
// The instance and step state are left unchanged.
type InvalidTransitionError struct {
	InstanceID string
	Status     InstanceStatus
	Action     ActionType
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %q not permitted on workflow instance %q in status %q",
		e.Action, e.InstanceID, e.Status)
}

// StepNotCurrentError indicates a state-changing action aimed at a step
// that is not the instance's current step. This is how the loser of a
// double-approval race is told the step was already decided.
type StepNotCurrentError struct {
	InstanceID string
	StepID     string
}

// Error implements the error interface.
func (e *StepNotCurrentError) Error() string {
	return fmt.Sprintf("step %q is not the current step of workflow instance %q",
		e.StepID, e.InstanceID)
}
