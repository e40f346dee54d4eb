// Copyright 2025 PeopleFlow
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"

	"peopleflow/platform/orchestrator/llm"
	"peopleflow/platform/workflow"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func errorBody(code, message string) errorResponse {
	return errorResponse{Error: code, Message: message}
}

// writeError maps engine errors onto the HTTP status split: validation
// problems are 400, unknown references 404, state conflicts 409, and
// exhausted provider calls 502.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		llmValidation *llm.ValidationError
		wfValidation  *workflow.ValidationError

		providerNotFound   *llm.ProviderNotFoundError
		modelNotFound      *llm.ModelNotFoundError
		definitionNotFound *workflow.DefinitionNotFoundError
		instanceNotFound   *workflow.InstanceNotFoundError
		stepNotFound       *workflow.StepNotFoundError

		definitionInactive *workflow.DefinitionInactiveError
		invalidTransition  *workflow.InvalidTransitionError
		stepNotCurrent     *workflow.StepNotCurrentError

		llmFailure *llm.LLMError
	)

	switch {
	case errors.As(err, &llmValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "validation_error", Message: llmValidation.Message, Field: llmValidation.Field,
		})
	case errors.As(err, &wfValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "validation_error", Message: wfValidation.Message, Field: wfValidation.Field,
		})

	case errors.As(err, &providerNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("provider_not_found", err.Error()))
	case errors.As(err, &modelNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("model_not_found", err.Error()))
	case errors.As(err, &definitionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("definition_not_found", err.Error()))
	case errors.As(err, &instanceNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("workflow_not_found", err.Error()))
	case errors.As(err, &stepNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("step_not_found", err.Error()))

	case errors.As(err, &definitionInactive):
		writeJSON(w, http.StatusConflict, errorBody("definition_inactive", err.Error()))
	case errors.As(err, &invalidTransition):
		writeJSON(w, http.StatusConflict, errorBody("invalid_transition", err.Error()))
	case errors.As(err, &stepNotCurrent):
		writeJSON(w, http.StatusConflict, errorBody("step_not_current", err.Error()))

	case errors.As(err, &llmFailure):
		writeJSON(w, http.StatusBadGateway, errorBody("llm_error", err.Error()))

	default:
		s.logger.ErrorWithErr(requestIDFrom(r.Context()), "unhandled error", err, nil)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "internal server error"))
	}
}
