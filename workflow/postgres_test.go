// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peopleflow/platform/shared/types"
)

func TestPostgresStoreGetDefinitionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM workflow_definitions").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	store := NewPostgresStore(db)
	_, err = store.GetDefinition(context.Background(), "ghost")

	var notFound *DefinitionNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCreateInstanceTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	inst := &Instance{
		ID:                "inst-1",
		DefinitionID:      "def-1",
		DefinitionVersion: 1,
		Subject:           types.NewSubjectRef("leave_request", "lr-1"),
		Status:            InstanceStatusInProgress,
		CurrentStepID:     "step-1",
		StartedBy:         "employee-7",
		StartedAt:         now,
	}
	steps := []Step{
		{ID: "step-1", InstanceID: "inst-1", Name: "Manager Approval", Order: 0},
		{ID: "step-2", InstanceID: "inst-1", Name: "HR Review", Order: 1},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO workflow_instances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workflow_steps").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workflow_steps").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	require.NoError(t, store.CreateInstance(context.Background(), inst, steps))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreApplyActionTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	inst := &Instance{ID: "inst-1", Status: InstanceStatusInProgress, CurrentStepID: "step-2"}
	changed := []Step{{ID: "step-1", Status: StepStatusCompleted, CompletedAt: &now}}
	action := &Action{
		ID:          "action-1",
		InstanceID:  "inst-1",
		StepID:      "step-1",
		ActorID:     "manager-1",
		Type:        ActionApprove,
		PerformedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE workflow_instances").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE workflow_steps").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO workflow_actions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	require.NoError(t, store.ApplyAction(context.Background(), inst, changed, action))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreApplyActionUnknownInstance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE workflow_instances").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewPostgresStore(db)
	err = store.ApplyAction(context.Background(),
		&Instance{ID: "ghost", Status: InstanceStatusInProgress}, nil, nil)

	var notFound *InstanceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreOverdueSteps(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	due := now.Add(-2 * time.Hour)
	started := now.Add(-26 * time.Hour)

	rows := sqlmock.NewRows([]string{
		"id", "instance_id", "name", "type", "status", "step_order", "is_required",
		"assignee_type", "assignee", "assigned_by",
		"assigned_at", "due_date", "started_at", "completed_at", "notes",
	}).AddRow(
		"step-2", "inst-1", "HR Review", "approval", "in_progress", 1, false,
		"role", "hr", "",
		nil, due, started, nil, "",
	)

	mock.ExpectQuery("FROM workflow_steps").
		WithArgs(now).
		WillReturnRows(rows)

	store := NewPostgresStore(db)
	overdue, err := store.OverdueSteps(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, overdue, 1)
	assert.Equal(t, "step-2", overdue[0].ID)
	assert.Equal(t, StepStatusInProgress, overdue[0].Status)
	assert.False(t, overdue[0].Required)
	assert.NoError(t, mock.ExpectationsWereMet())
}
