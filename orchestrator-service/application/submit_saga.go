package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
	"github.com/sagaflow/saga-system/shared/events"
)

// SagaRunner hands accepted sagas to the execution engine.
type SagaRunner interface {
	Launch(saga *domain.SagaInstance)
	Recover(saga *domain.SagaInstance)
}

// SubmitSagaCommand carries a saga definition to execute
type SubmitSagaCommand struct {
	Name           string                 `json:"name"`
	Pattern        string                 `json:"pattern,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty"`
	Metadata       map[string]string      `json:"metadata,omitempty"`
	Steps          []SubmitStepDefinition `json:"steps"`
}

type SubmitStepDefinition struct {
	StepID              string                 `json:"step_id"`
	ServiceURL          string                 `json:"service_url"`
	Action              string                 `json:"action"`
	Payload             map[string]interface{} `json:"payload,omitempty"`
	CompensationAction  string                 `json:"compensation_action,omitempty"`
	CompensationPayload map[string]interface{} `json:"compensation_payload,omitempty"`
	TimeoutSeconds      int                    `json:"timeout_seconds,omitempty"`
	MaxAttempts         int                    `json:"max_attempts,omitempty"`
	IdempotentSafe      bool                   `json:"idempotent_safe,omitempty"`
}

type SubmitSagaResponse struct {
	SagaID string `json:"saga_id"`
	Status string `json:"status"`
}

// SubmitSaga accepts a saga definition, persists the new instance and
// hands it to the runner. The response returns as soon as the saga is
// durably accepted; execution is asynchronous.
type SubmitSaga struct {
	sagaRepository domain.SagaRepository
	eventPublisher events.Publisher
	runner         SagaRunner
}

func NewSubmitSaga(sagaRepository domain.SagaRepository, eventPublisher events.Publisher, runner SagaRunner) *SubmitSaga {
	return &SubmitSaga{
		sagaRepository: sagaRepository,
		eventPublisher: eventPublisher,
		runner:         runner,
	}
}

func (uc *SubmitSaga) Execute(ctx context.Context, cmd SubmitSagaCommand) (*SubmitSagaResponse, error) {
	saga, err := domain.CreateSaga(uc.toDefinition(cmd))
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga definition")
	}

	if err := uc.sagaRepository.Save(ctx, saga); err != nil {
		return nil, errors.Wrap(err, "failed to save saga")
	}

	if err := uc.eventPublisher.Publish(ctx, saga.Events()...); err != nil {
		return nil, errors.Wrap(err, "failed to publish events")
	}
	saga.ClearEvents()

	// The runner owns the instance once launched; read nothing from it
	// after this point.
	response := &SubmitSagaResponse{
		SagaID: saga.ID.String(),
		Status: string(saga.Status),
	}
	uc.runner.Launch(saga)

	return response, nil
}

func (uc *SubmitSaga) toDefinition(cmd SubmitSagaCommand) domain.SagaDefinition {
	pattern := domain.Pattern(cmd.Pattern)
	if cmd.Pattern == "" {
		pattern = domain.PatternOrchestration
	}

	definition := domain.SagaDefinition{
		Name:     cmd.Name,
		Pattern:  pattern,
		Timeout:  time.Duration(cmd.TimeoutSeconds) * time.Second,
		Metadata: cmd.Metadata,
		Steps:    make([]domain.StepDefinition, 0, len(cmd.Steps)),
	}

	for _, step := range cmd.Steps {
		definition.Steps = append(definition.Steps, domain.StepDefinition{
			StepID:              step.StepID,
			ServiceURL:          step.ServiceURL,
			Action:              step.Action,
			Payload:             step.Payload,
			CompensationAction:  step.CompensationAction,
			CompensationPayload: step.CompensationPayload,
			Timeout:             time.Duration(step.TimeoutSeconds) * time.Second,
			MaxAttempts:         step.MaxAttempts,
			IdempotentSafe:      step.IdempotentSafe,
		})
	}

	return definition
}
