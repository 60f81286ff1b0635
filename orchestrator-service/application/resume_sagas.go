package application

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
)

type ResumeSagasResponse struct {
	Resumed int `json:"resumed"`
}

// ResumeSagas reloads every non-terminal saga from the store after a
// restart and hands each back to the runner. The runner decides whether
// the saga continues forward or rolls back.
type ResumeSagas struct {
	sagaRepository domain.SagaRepository
	runner         SagaRunner
	logger         *logrus.Entry
}

func NewResumeSagas(sagaRepository domain.SagaRepository, runner SagaRunner, logger *logrus.Entry) *ResumeSagas {
	return &ResumeSagas{
		sagaRepository: sagaRepository,
		runner:         runner,
		logger:         logger,
	}
}

func (uc *ResumeSagas) Execute(ctx context.Context) (*ResumeSagasResponse, error) {
	sagas, err := uc.sagaRepository.FindNonTerminal(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load non-terminal sagas")
	}

	for _, saga := range sagas {
		uc.logger.WithFields(logrus.Fields{
			"saga_id": saga.ID.String(),
			"status":  string(saga.Status),
		}).Info("recovering saga")
		uc.runner.Recover(saga)
	}

	return &ResumeSagasResponse{Resumed: len(sagas)}, nil
}
