package application

import (
	"context"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
	"github.com/sagaflow/saga-system/orchestrator-service/mocks"
	"github.com/sagaflow/saga-system/shared/models"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestResumeSagas_Execute(t *testing.T) {
	pendingSaga := &domain.SagaInstance{
		ID:     models.GenerateUUID(),
		Status: domain.SagaStatusPending,
	}
	runningSaga := &domain.SagaInstance{
		ID:     models.GenerateUUID(),
		Status: domain.SagaStatusRunning,
	}

	t.Run("hands every non-terminal saga to the runner", func(t *testing.T) {
		mockRepo := mocks.NewMockSagaRepository(t)
		mockRunner := mocks.NewMockSagaRunner(t)

		mockRepo.EXPECT().FindNonTerminal(mock.Anything).
			Return([]*domain.SagaInstance{pendingSaga, runningSaga}, nil).Once()
		mockRunner.EXPECT().Recover(pendingSaga).Once()
		mockRunner.EXPECT().Recover(runningSaga).Once()

		useCase := NewResumeSagas(mockRepo, mockRunner, testLogger())

		result, err := useCase.Execute(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 2, result.Resumed)
	})

	t.Run("nothing to resume", func(t *testing.T) {
		mockRepo := mocks.NewMockSagaRepository(t)
		mockRunner := mocks.NewMockSagaRunner(t)

		mockRepo.EXPECT().FindNonTerminal(mock.Anything).
			Return(nil, nil).Once()

		useCase := NewResumeSagas(mockRepo, mockRunner, testLogger())

		result, err := useCase.Execute(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 0, result.Resumed)
	})

	t.Run("repository error", func(t *testing.T) {
		mockRepo := mocks.NewMockSagaRepository(t)
		mockRunner := mocks.NewMockSagaRunner(t)

		mockRepo.EXPECT().FindNonTerminal(mock.Anything).
			Return(nil, errors.New("database error")).Once()

		useCase := NewResumeSagas(mockRepo, mockRunner, testLogger())

		result, err := useCase.Execute(context.Background())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load non-terminal sagas")
		assert.Nil(t, result)
	})
}
