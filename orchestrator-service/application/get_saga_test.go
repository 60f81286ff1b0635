package application

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
	"github.com/sagaflow/saga-system/orchestrator-service/mocks"
	"github.com/sagaflow/saga-system/shared/models"
)

func TestGetSaga_Execute(t *testing.T) {
	validSagaID := "550e8400-e29b-41d4-a716-446655440020"
	startedAt := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	testSaga := &domain.SagaInstance{
		ID: models.ID(validSagaID),
		Definition: domain.SagaDefinition{
			Name:    "order-fulfillment",
			Pattern: domain.PatternOrchestration,
			Steps: []domain.StepDefinition{
				{StepID: "reserve-inventory", ServiceURL: "http://inventory:8080", Action: "reserve"},
				{StepID: "charge-payment", ServiceURL: "http://payments:8080", Action: "charge"},
			},
		},
		Status:           domain.SagaStatusRunning,
		CurrentStepIndex: 1,
		StepResults: map[string]*domain.StepOutcome{
			"reserve-inventory": {
				Status:       domain.StepStatusSucceeded,
				Result:       map[string]interface{}{"reservation_id": "r-1"},
				AttemptCount: 1,
			},
		},
		StartedAt: startedAt,
	}

	tests := []struct {
		name          string
		query         GetSagaQuery
		setupMocks    func(*mocks.MockSagaRepository)
		expectedError string
		check         func(*testing.T, *GetSagaResponse)
	}{
		{
			name:  "successful saga retrieval",
			query: GetSagaQuery{SagaID: validSagaID},
			setupMocks: func(repo *mocks.MockSagaRepository) {
				repo.EXPECT().FindByID(mock.Anything, models.ID(validSagaID)).
					Return(testSaga, nil).Once()
			},
			check: func(t *testing.T, response *GetSagaResponse) {
				assert.Equal(t, validSagaID, response.SagaID)
				assert.Equal(t, "order-fulfillment", response.Name)
				assert.Equal(t, "running", response.Status)
				assert.Equal(t, 1, response.CurrentStepIndex)
				assert.Len(t, response.Steps, 2)
				assert.Equal(t, "reserve-inventory", response.Steps[0].StepID)
				assert.Equal(t, "succeeded", response.Steps[0].Status)
				assert.Equal(t, "r-1", response.Steps[0].Result["reservation_id"])
				// Second step has not started yet
				assert.Equal(t, "charge-payment", response.Steps[1].StepID)
				assert.Equal(t, "pending", response.Steps[1].Status)
			},
		},
		{
			name:  "invalid saga ID format",
			query: GetSagaQuery{SagaID: "not-a-uuid"},
			setupMocks: func(repo *mocks.MockSagaRepository) {
				// No expectations - should fail before calling the repository
			},
			expectedError: "saga not found",
		},
		{
			name:  "saga not found",
			query: GetSagaQuery{SagaID: validSagaID},
			setupMocks: func(repo *mocks.MockSagaRepository) {
				repo.EXPECT().FindByID(mock.Anything, models.ID(validSagaID)).
					Return(nil, nil).Once()
			},
			expectedError: "saga not found",
		},
		{
			name:  "repository error",
			query: GetSagaQuery{SagaID: validSagaID},
			setupMocks: func(repo *mocks.MockSagaRepository) {
				repo.EXPECT().FindByID(mock.Anything, models.ID(validSagaID)).
					Return(nil, errors.New("database error")).Once()
			},
			expectedError: "database error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := mocks.NewMockSagaRepository(t)
			tt.setupMocks(mockRepo)

			useCase := NewGetSaga(mockRepo)

			result, err := useCase.Execute(context.Background(), tt.query)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, result)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, result)
				tt.check(t, result)
			}
		})
	}
}
