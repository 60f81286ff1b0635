package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
	"github.com/sagaflow/saga-system/shared/models"
)

var ErrSagaNotFound = errors.New("saga not found")

type GetSagaQuery struct {
	SagaID string
}

// StepSnapshot is the externally visible record of one step
type StepSnapshot struct {
	StepID            string                 `json:"step_id"`
	Status            string                 `json:"status"`
	Result            map[string]interface{} `json:"result,omitempty"`
	Error             string                 `json:"error,omitempty"`
	ErrorKind         string                 `json:"error_kind,omitempty"`
	AttemptCount      int                    `json:"attempt_count,omitempty"`
	CompensationError string                 `json:"compensation_error,omitempty"`
}

type GetSagaResponse struct {
	SagaID           string         `json:"saga_id"`
	Name             string         `json:"name"`
	Status           string         `json:"status"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	CurrentStepIndex int            `json:"current_step_index"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Steps            []StepSnapshot `json:"steps"`
}

// GetSaga returns a point-in-time snapshot of a saga instance
type GetSaga struct {
	sagaRepository domain.SagaRepository
}

func NewGetSaga(sagaRepository domain.SagaRepository) *GetSaga {
	return &GetSaga{sagaRepository: sagaRepository}
}

func (uc *GetSaga) Execute(ctx context.Context, query GetSagaQuery) (*GetSagaResponse, error) {
	id, err := models.NewID(query.SagaID)
	if err != nil {
		return nil, errors.Wrap(ErrSagaNotFound, query.SagaID)
	}

	saga, err := uc.sagaRepository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if saga == nil {
		return nil, ErrSagaNotFound
	}

	response := &GetSagaResponse{
		SagaID:           saga.ID.String(),
		Name:             saga.Definition.Name,
		Status:           string(saga.Status),
		FailureReason:    string(saga.FailureReason),
		CurrentStepIndex: saga.CurrentStepIndex,
		CompletedAt:      saga.CompletedAt,
		Steps:            make([]StepSnapshot, 0, len(saga.Definition.Steps)),
	}
	if !saga.StartedAt.IsZero() {
		startedAt := saga.StartedAt
		response.StartedAt = &startedAt
	}

	// Steps come back in definition order; steps never reached report as
	// pending.
	for _, step := range saga.Definition.Steps {
		snapshot := StepSnapshot{
			StepID: step.StepID,
			Status: string(domain.StepStatusPending),
		}
		if outcome, ok := saga.StepResults[step.StepID]; ok {
			snapshot.Status = string(outcome.Status)
			snapshot.Result = outcome.Result
			snapshot.Error = outcome.Error
			snapshot.ErrorKind = string(outcome.ErrorKind)
			snapshot.AttemptCount = outcome.AttemptCount
			snapshot.CompensationError = outcome.CompensationError
		}
		response.Steps = append(response.Steps, snapshot)
	}

	return response, nil
}
