// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"peopleflow/platform/shared/types"
	"peopleflow/platform/workflow"
)

func (s *Server) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var spec workflow.DefinitionSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_json", err.Error()))
		return
	}
	if spec.CreatedBy == "" {
		spec.CreatedBy = actorIDFrom(r.Context())
	}

	def, err := s.workflowEngine.CreateDefinition(r.Context(), spec)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.workflowEngine.ListDefinitions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": defs})
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.workflowEngine.GetDefinition(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type startWorkflowRequest struct {
	DefinitionID string           `json:"definition_id"`
	Subject      types.SubjectRef `json:"subject"`
	Context      map[string]any   `json:"context,omitempty"`
	Variables    map[string]any   `json:"variables,omitempty"`
}

func (s *Server) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	var body startWorkflowRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_json", err.Error()))
		return
	}

	inst, err := s.workflowEngine.StartWorkflow(r.Context(),
		body.DefinitionID, body.Subject, body.Context, body.Variables,
		actorIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inst, err := s.workflowEngine.GetInstance(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	steps, err := s.workflowEngine.GetSteps(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	actions, err := s.workflowEngine.GetActions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instance": inst,
		"steps":    steps,
		"actions":  actions,
	})
}

func (s *Server) handleTakeAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var spec workflow.ActionSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid_json", err.Error()))
		return
	}

	inst, err := s.workflowEngine.TakeAction(r.Context(),
		vars["id"], vars["stepID"], spec, actorIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}
