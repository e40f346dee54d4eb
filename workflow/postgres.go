// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists workflow state through database/sql. Step
// templates, contexts, variables and action data are stored as JSONB.
// CreateInstance and ApplyAction run in a single transaction so the
// state change and its audit row commit together.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateDefinition persists a new definition version.
func (s *PostgresStore) CreateDefinition(ctx context.Context, def *Definition) error {
	stepsJSON, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("failed to encode definition steps: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (
			id, key, name, type, steps, is_active, version, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		def.ID, def.Key, def.Name, string(def.Type), stepsJSON,
		def.Active, def.Version, nullIfEmpty(def.CreatedBy), def.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow definition: %w", err)
	}
	return nil
}

// GetDefinition returns a definition by id.
func (s *PostgresStore) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	query := `
		SELECT id, key, name, type, steps, is_active, version,
		       COALESCE(created_by, ''), created_at
		FROM workflow_definitions
		WHERE id = $1
	`

	var def Definition
	var defType string
	var stepsJSON []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&def.ID, &def.Key, &def.Name, &defType, &stepsJSON,
		&def.Active, &def.Version, &def.CreatedBy, &def.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &DefinitionNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow definition: %w", err)
	}

	def.Type = DefinitionType(defType)
	if err := json.Unmarshal(stepsJSON, &def.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode definition steps: %w", err)
	}
	return &def, nil
}

// LatestDefinitionVersion returns the highest stored version for a key.
func (s *PostgresStore) LatestDefinitionVersion(ctx context.Context, key string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE key = $1`,
		key,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve definition version: %w", err)
	}
	return version, nil
}

// ListDefinitions returns all definitions ordered by key then version.
func (s *PostgresStore) ListDefinitions(ctx context.Context) ([]*Definition, error) {
	query := `
		SELECT id, key, name, type, steps, is_active, version,
		       COALESCE(created_by, ''), created_at
		FROM workflow_definitions
		ORDER BY key, version
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow definitions: %w", err)
	}
	defer rows.Close()

	var out []*Definition
	for rows.Next() {
		var def Definition
		var defType string
		var stepsJSON []byte
		if err := rows.Scan(
			&def.ID, &def.Key, &def.Name, &defType, &stepsJSON,
			&def.Active, &def.Version, &def.CreatedBy, &def.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan workflow definition: %w", err)
		}
		def.Type = DefinitionType(defType)
		if err := json.Unmarshal(stepsJSON, &def.Steps); err != nil {
			return nil, fmt.Errorf("failed to decode definition steps: %w", err)
		}
		out = append(out, &def)
	}
	return out, rows.Err()
}

// CreateInstance persists an instance with its steps in one
// transaction.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *Instance, steps []Step) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertInstance(ctx, tx, inst); err != nil {
		return err
	}
	for i := range steps {
		if err := insertStep(ctx, tx, &steps[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow instance: %w", err)
	}
	return nil
}

func insertInstance(ctx context.Context, tx *sql.Tx, inst *Instance) error {
	contextJSON, err := json.Marshal(inst.Context)
	if err != nil {
		return fmt.Errorf("failed to encode instance context: %w", err)
	}
	variablesJSON, err := json.Marshal(inst.Variables)
	if err != nil {
		return fmt.Errorf("failed to encode instance variables: %w", err)
	}

	query := `
		INSERT INTO workflow_instances (
			id, definition_id, definition_version, subject_kind, subject_id,
			status, current_step_id, current_assignee, context, variables,
			started_by, started_at, completed_at, cancelled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = tx.ExecContext(ctx, query,
		inst.ID, inst.DefinitionID, inst.DefinitionVersion,
		inst.Subject.Kind, inst.Subject.ID,
		string(inst.Status), nullIfEmpty(inst.CurrentStepID), nullIfEmpty(inst.CurrentAssignee),
		contextJSON, variablesJSON,
		nullIfEmpty(inst.StartedBy), inst.StartedAt, inst.CompletedAt, inst.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow instance: %w", err)
	}
	return nil
}

func insertStep(ctx context.Context, tx *sql.Tx, step *Step) error {
	query := `
		INSERT INTO workflow_steps (
			id, instance_id, name, type, status, step_order, is_required,
			assignee_type, assignee, assigned_by, assigned_at,
			due_date, started_at, completed_at, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := tx.ExecContext(ctx, query,
		step.ID, step.InstanceID, step.Name, step.Type, string(step.Status),
		step.Order, step.Required,
		string(step.AssigneeType), nullIfEmpty(step.Assignee),
		nullIfEmpty(step.AssignedBy), step.AssignedAt,
		step.DueDate, step.StartedAt, step.CompletedAt, nullIfEmpty(step.Notes),
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow step: %w", err)
	}
	return nil
}

// GetInstance returns an instance by id.
func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*Instance, error) {
	query := `
		SELECT id, definition_id, definition_version, subject_kind, subject_id,
		       status, COALESCE(current_step_id, ''), COALESCE(current_assignee, ''),
		       context, variables, COALESCE(started_by, ''),
		       started_at, completed_at, cancelled_at
		FROM workflow_instances
		WHERE id = $1
	`

	var inst Instance
	var status string
	var contextJSON, variablesJSON []byte

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&inst.ID, &inst.DefinitionID, &inst.DefinitionVersion,
		&inst.Subject.Kind, &inst.Subject.ID,
		&status, &inst.CurrentStepID, &inst.CurrentAssignee,
		&contextJSON, &variablesJSON, &inst.StartedBy,
		&inst.StartedAt, &inst.CompletedAt, &inst.CancelledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &InstanceNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow instance: %w", err)
	}

	inst.Status = InstanceStatus(status)
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &inst.Context); err != nil {
			return nil, fmt.Errorf("failed to decode instance context: %w", err)
		}
	}
	if len(variablesJSON) > 0 {
		if err := json.Unmarshal(variablesJSON, &inst.Variables); err != nil {
			return nil, fmt.Errorf("failed to decode instance variables: %w", err)
		}
	}
	return &inst, nil
}

const stepColumns = `
	id, instance_id, name, type, status, step_order, is_required,
	assignee_type, COALESCE(assignee, ''), COALESCE(assigned_by, ''),
	assigned_at, due_date, started_at, completed_at, COALESCE(notes, '')
`

func scanStep(scanner interface{ Scan(...any) error }) (Step, error) {
	var step Step
	var status, assigneeType string
	err := scanner.Scan(
		&step.ID, &step.InstanceID, &step.Name, &step.Type, &status,
		&step.Order, &step.Required,
		&assigneeType, &step.Assignee, &step.AssignedBy,
		&step.AssignedAt, &step.DueDate, &step.StartedAt, &step.CompletedAt,
		&step.Notes,
	)
	if err != nil {
		return Step{}, err
	}
	step.Status = StepStatus(status)
	step.AssigneeType = AssigneeType(assigneeType)
	return step, nil
}

// GetSteps returns the instance's steps ordered by Order.
func (s *PostgresStore) GetSteps(ctx context.Context, instanceID string) ([]Step, error) {
	query := `SELECT ` + stepColumns + `
		FROM workflow_steps WHERE instance_id = $1 ORDER BY step_order`

	rows, err := s.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		// Distinguish a missing instance from one without steps.
		if _, err := s.GetInstance(ctx, instanceID); err != nil {
			return nil, err
		}
	}
	return steps, nil
}

// GetActions returns the instance's audit trail ordered by time.
func (s *PostgresStore) GetActions(ctx context.Context, instanceID string) ([]Action, error) {
	query := `
		SELECT id, instance_id, step_id, actor_id, action,
		       COALESCE(comment, ''), data, COALESCE(delegated_to, ''), performed_at
		FROM workflow_actions
		WHERE instance_id = $1
		ORDER BY performed_at
	`
	rows, err := s.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		var actionType string
		var dataJSON []byte
		if err := rows.Scan(
			&a.ID, &a.InstanceID, &a.StepID, &a.ActorID, &actionType,
			&a.Comment, &dataJSON, &a.DelegatedTo, &a.PerformedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan workflow action: %w", err)
		}
		a.Type = ActionType(actionType)
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &a.Data); err != nil {
				return nil, fmt.Errorf("failed to decode action data: %w", err)
			}
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// ApplyAction atomically writes the instance, changed steps and action.
func (s *PostgresStore) ApplyAction(ctx context.Context, inst *Instance, changed []Step, action *Action) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateInstance(ctx, tx, inst); err != nil {
		return err
	}
	for i := range changed {
		if err := updateStep(ctx, tx, &changed[i]); err != nil {
			return err
		}
	}
	if action != nil {
		if err := insertAction(ctx, tx, action); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow action: %w", err)
	}
	return nil
}

func updateInstance(ctx context.Context, tx *sql.Tx, inst *Instance) error {
	query := `
		UPDATE workflow_instances
		SET status = $2, current_step_id = $3, current_assignee = $4,
		    completed_at = $5, cancelled_at = $6
		WHERE id = $1
	`
	result, err := tx.ExecContext(ctx, query,
		inst.ID, string(inst.Status),
		nullIfEmpty(inst.CurrentStepID), nullIfEmpty(inst.CurrentAssignee),
		inst.CompletedAt, inst.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow instance: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return &InstanceNotFoundError{ID: inst.ID}
	}
	return nil
}

func updateStep(ctx context.Context, tx *sql.Tx, step *Step) error {
	query := `
		UPDATE workflow_steps
		SET status = $2, assignee = $3, assigned_by = $4, assigned_at = $5,
		    started_at = $6, completed_at = $7, notes = $8
		WHERE id = $1
	`
	_, err := tx.ExecContext(ctx, query,
		step.ID, string(step.Status),
		nullIfEmpty(step.Assignee), nullIfEmpty(step.AssignedBy), step.AssignedAt,
		step.StartedAt, step.CompletedAt, nullIfEmpty(step.Notes),
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow step: %w", err)
	}
	return nil
}

func insertAction(ctx context.Context, tx *sql.Tx, action *Action) error {
	dataJSON, err := json.Marshal(action.Data)
	if err != nil {
		return fmt.Errorf("failed to encode action data: %w", err)
	}

	query := `
		INSERT INTO workflow_actions (
			id, instance_id, step_id, actor_id, action,
			comment, data, delegated_to, performed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.ExecContext(ctx, query,
		action.ID, action.InstanceID, action.StepID, action.ActorID,
		string(action.Type), nullIfEmpty(action.Comment), dataJSON,
		nullIfEmpty(action.DelegatedTo), action.PerformedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert workflow action: %w", err)
	}
	return nil
}

// OverdueSteps returns non-terminal steps past their due date.
func (s *PostgresStore) OverdueSteps(ctx context.Context, now time.Time) ([]Step, error) {
	query := `SELECT ` + stepColumns + `
		FROM workflow_steps
		WHERE due_date IS NOT NULL
		  AND due_date < $1
		  AND status IN ('pending', 'in_progress')
		ORDER BY due_date`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for overdue steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PostgresStore)(nil)
