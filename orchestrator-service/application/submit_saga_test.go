package application

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
	"github.com/sagaflow/saga-system/orchestrator-service/mocks"
	"github.com/sagaflow/saga-system/shared/events"
	"github.com/sagaflow/saga-system/shared/models"
)

func TestSubmitSaga_Execute(t *testing.T) {
	validCommand := func() SubmitSagaCommand {
		return SubmitSagaCommand{
			Name:           "order-fulfillment",
			TimeoutSeconds: 300,
			Steps: []SubmitStepDefinition{
				{
					StepID:             "reserve-inventory",
					ServiceURL:         "http://inventory:8080",
					Action:             "reserve",
					Payload:            map[string]interface{}{"sku": "ABC-1", "quantity": 2},
					CompensationAction: "release",
				},
				{
					StepID:     "charge-payment",
					ServiceURL: "http://payments:8080",
					Action:     "charge",
					Payload:    map[string]interface{}{"amount": 5000},
				},
			},
		}
	}

	tests := []struct {
		name          string
		command       SubmitSagaCommand
		setupMocks    func(*mocks.MockSagaRepository, *mocks.MockPublisher, *mocks.MockSagaRunner)
		expectedError string
	}{
		{
			name:    "successful submission",
			command: validCommand(),
			setupMocks: func(repo *mocks.MockSagaRepository, publisher *mocks.MockPublisher, runner *mocks.MockSagaRunner) {
				repo.EXPECT().Save(mock.Anything, mock.AnythingOfType("*domain.SagaInstance")).Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, mock.MatchedBy(func(evt *events.Event) bool {
					return evt.EventType == events.SagaSubmittedEvent
				})).Return(nil).Once()
				runner.EXPECT().Launch(mock.AnythingOfType("*domain.SagaInstance")).Once()
			},
		},
		{
			name: "choreography pattern rejected",
			command: SubmitSagaCommand{
				Name:    "order-fulfillment",
				Pattern: string(domain.PatternChoreography),
				Steps: []SubmitStepDefinition{
					{StepID: "s1", ServiceURL: "http://svc:8080", Action: "run"},
				},
			},
			setupMocks: func(repo *mocks.MockSagaRepository, publisher *mocks.MockPublisher, runner *mocks.MockSagaRunner) {
				// No expectations - should fail validation
			},
			expectedError: "invalid saga definition",
		},
		{
			name: "empty step list rejected",
			command: SubmitSagaCommand{
				Name: "order-fulfillment",
			},
			setupMocks: func(repo *mocks.MockSagaRepository, publisher *mocks.MockPublisher, runner *mocks.MockSagaRunner) {
				// No expectations - should fail validation
			},
			expectedError: "invalid saga definition",
		},
		{
			name: "duplicate step IDs rejected",
			command: SubmitSagaCommand{
				Name: "order-fulfillment",
				Steps: []SubmitStepDefinition{
					{StepID: "s1", ServiceURL: "http://svc:8080", Action: "run"},
					{StepID: "s1", ServiceURL: "http://svc:8080", Action: "run"},
				},
			},
			setupMocks: func(repo *mocks.MockSagaRepository, publisher *mocks.MockPublisher, runner *mocks.MockSagaRunner) {
				// No expectations - should fail validation
			},
			expectedError: "invalid saga definition",
		},
		{
			name:    "repository save error",
			command: validCommand(),
			setupMocks: func(repo *mocks.MockSagaRepository, publisher *mocks.MockPublisher, runner *mocks.MockSagaRunner) {
				repo.EXPECT().Save(mock.Anything, mock.AnythingOfType("*domain.SagaInstance")).
					Return(errors.New("database error")).Once()
			},
			expectedError: "failed to save saga",
		},
		{
			name:    "event publisher error",
			command: validCommand(),
			setupMocks: func(repo *mocks.MockSagaRepository, publisher *mocks.MockPublisher, runner *mocks.MockSagaRunner) {
				repo.EXPECT().Save(mock.Anything, mock.AnythingOfType("*domain.SagaInstance")).Return(nil).Once()
				publisher.EXPECT().Publish(mock.Anything, mock.Anything).
					Return(errors.New("publisher error")).Once()
			},
			expectedError: "failed to publish events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := mocks.NewMockSagaRepository(t)
			mockPublisher := mocks.NewMockPublisher(t)
			mockRunner := mocks.NewMockSagaRunner(t)

			tt.setupMocks(mockRepo, mockPublisher, mockRunner)

			useCase := NewSubmitSaga(mockRepo, mockPublisher, mockRunner)

			result, err := useCase.Execute(context.Background(), tt.command)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, result)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, result)
				assert.Equal(t, string(domain.SagaStatusPending), result.Status)

				// Verify the saga ID is a valid UUID
				_, err := models.NewID(result.SagaID)
				assert.NoError(t, err)
			}
		})
	}
}

func TestSubmitSaga_ResponseNotAffectedByRunnerProgress(t *testing.T) {
	mockRepo := mocks.NewMockSagaRepository(t)
	mockPublisher := mocks.NewMockPublisher(t)
	mockRunner := mocks.NewMockSagaRunner(t)

	mockRepo.EXPECT().Save(mock.Anything, mock.AnythingOfType("*domain.SagaInstance")).Return(nil).Once()
	mockPublisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(nil).Once()
	// The runner owns the instance from Launch onward and may transition it
	// immediately. The response must reflect the accepted state, not
	// whatever the runner has done since.
	mockRunner.EXPECT().Launch(mock.AnythingOfType("*domain.SagaInstance")).
		Run(func(saga *domain.SagaInstance) {
			assert.NoError(t, saga.Start())
		}).Once()

	useCase := NewSubmitSaga(mockRepo, mockPublisher, mockRunner)

	result, err := useCase.Execute(context.Background(), SubmitSagaCommand{
		Name: "handoff",
		Steps: []SubmitStepDefinition{
			{StepID: "s1", ServiceURL: "http://svc:8080", Action: "run"},
		},
	})

	assert.NoError(t, err)
	assert.Equal(t, string(domain.SagaStatusPending), result.Status)
}

func TestSubmitSaga_DefaultsToOrchestration(t *testing.T) {
	mockRepo := mocks.NewMockSagaRepository(t)
	mockPublisher := mocks.NewMockPublisher(t)
	mockRunner := mocks.NewMockSagaRunner(t)

	var captured *domain.SagaInstance
	mockRepo.EXPECT().Save(mock.Anything, mock.AnythingOfType("*domain.SagaInstance")).
		Run(func(ctx context.Context, saga *domain.SagaInstance) {
			captured = saga
		}).Return(nil).Once()
	mockPublisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(nil).Once()
	mockRunner.EXPECT().Launch(mock.AnythingOfType("*domain.SagaInstance")).Once()

	useCase := NewSubmitSaga(mockRepo, mockPublisher, mockRunner)

	_, err := useCase.Execute(context.Background(), SubmitSagaCommand{
		Name: "defaulted",
		Steps: []SubmitStepDefinition{
			{StepID: "s1", ServiceURL: "http://svc:8080", Action: "run"},
		},
	})

	assert.NoError(t, err)
	assert.NotNil(t, captured)
	assert.Equal(t, domain.PatternOrchestration, captured.Definition.Pattern)
	// Events already published at submission time must not be replayed by
	// the runner
	assert.Empty(t, captured.Events())
}
