package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/sagaflow/saga-system/orchestrator-service/application"
)

// SagaHandlers contains saga HTTP handlers
type SagaHandlers struct {
	submitSaga *application.SubmitSaga
	getSaga    *application.GetSaga
}

// NewSagaHandlers creates new saga handlers
func NewSagaHandlers(submitSaga *application.SubmitSaga, getSaga *application.GetSaga) *SagaHandlers {
	return &SagaHandlers{
		submitSaga: submitSaga,
		getSaga:    getSaga,
	}
}

// SubmitSaga accepts a saga definition for asynchronous execution
func (h *SagaHandlers) SubmitSaga(w http.ResponseWriter, r *http.Request) {
	var cmd application.SubmitSagaCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.submitSaga.Execute(r.Context(), cmd)
	if err != nil {
		if strings.Contains(err.Error(), "invalid saga definition") {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(response)
}

// GetSaga returns the current snapshot of a saga instance
func (h *SagaHandlers) GetSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		http.Error(w, "Saga ID is required", http.StatusBadRequest)
		return
	}

	response, err := h.getSaga.Execute(r.Context(), application.GetSagaQuery{SagaID: sagaID})
	if err != nil {
		if errors.Is(err, application.ErrSagaNotFound) {
			http.Error(w, "saga not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers saga routes
func (h *SagaHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/sagas", func(r chi.Router) {
		r.Post("/", h.SubmitSaga)
		r.Get("/{id}", h.GetSaga)
	})
}
