package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
	"github.com/sagaflow/saga-system/shared/models"
)

// PostgresSagaRepository persists saga instances in the sagas table. The
// definition and per-step outcomes are stored as JSONB documents; writes
// use optimistic locking on the version column so a stale in-memory copy
// can never silently overwrite newer state.
type PostgresSagaRepository struct {
	db *sqlx.DB
}

func NewPostgresSagaRepository(db *sqlx.DB) *PostgresSagaRepository {
	return &PostgresSagaRepository{db: db}
}

type postgresSaga struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Status           string         `db:"status"`
	FailureReason    string         `db:"failure_reason"`
	CurrentStepIndex int            `db:"current_step_index"`
	Definition       []byte         `db:"definition"`
	StepResults      []byte         `db:"step_results"`
	StartedAt        sql.NullTime   `db:"started_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	Version          int            `db:"version"`
}

func (r *PostgresSagaRepository) Save(ctx context.Context, saga *domain.SagaInstance) error {
	record, err := r.toPostgres(saga)
	if err != nil {
		return err
	}

	// Version 1 is a freshly created aggregate, anything above is an
	// update of a stored one.
	if saga.Version.Value == 1 {
		return r.insert(ctx, record)
	}
	return r.update(ctx, record)
}

func (r *PostgresSagaRepository) insert(ctx context.Context, record *postgresSaga) error {
	query := `
		INSERT INTO sagas (
			id, name, status, failure_reason, current_step_index,
			definition, step_results, started_at, completed_at,
			created_at, updated_at, version
		) VALUES (
			:id, :name, :status, :failure_reason, :current_step_index,
			:definition, :step_results, :started_at, :completed_at,
			:created_at, :updated_at, :version
		)`

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return errors.Wrap(err, "failed to insert saga")
	}

	return nil
}

func (r *PostgresSagaRepository) update(ctx context.Context, record *postgresSaga) error {
	query := `
		UPDATE sagas SET
			status = :status,
			failure_reason = :failure_reason,
			current_step_index = :current_step_index,
			step_results = :step_results,
			started_at = :started_at,
			completed_at = :completed_at,
			updated_at = :updated_at,
			version = :version
		WHERE id = :id AND version = :version - 1`

	result, err := r.db.NamedExecContext(ctx, query, record)
	if err != nil {
		return errors.Wrap(err, "failed to update saga")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if affected == 0 {
		return errors.Errorf("concurrent modification of saga %s", record.ID)
	}

	return nil
}

func (r *PostgresSagaRepository) FindByID(ctx context.Context, id models.ID) (*domain.SagaInstance, error) {
	query := `SELECT * FROM sagas WHERE id = $1`

	record := postgresSaga{}
	if err := r.db.GetContext(ctx, &record, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find saga")
	}

	return r.toDomain(&record)
}

func (r *PostgresSagaRepository) FindNonTerminal(ctx context.Context) ([]*domain.SagaInstance, error) {
	query := `
		SELECT * FROM sagas
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY created_at ASC`

	records := []postgresSaga{}
	err := r.db.SelectContext(ctx, &records, query,
		string(domain.SagaStatusCompleted),
		string(domain.SagaStatusCompensated),
		string(domain.SagaStatusCompensationFailed),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find non-terminal sagas")
	}

	sagas := make([]*domain.SagaInstance, 0, len(records))
	for i := range records {
		saga, err := r.toDomain(&records[i])
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, saga)
	}

	return sagas, nil
}

func (r *PostgresSagaRepository) toPostgres(saga *domain.SagaInstance) (*postgresSaga, error) {
	definition, err := json.Marshal(saga.Definition)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal saga definition")
	}

	stepResults, err := json.Marshal(saga.StepResults)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal step results")
	}

	record := &postgresSaga{
		ID:               saga.ID.String(),
		Name:             saga.Definition.Name,
		Status:           string(saga.Status),
		FailureReason:    string(saga.FailureReason),
		CurrentStepIndex: saga.CurrentStepIndex,
		Definition:       definition,
		StepResults:      stepResults,
		CreatedAt:        saga.Timestamps.CreatedAt,
		UpdatedAt:        saga.Timestamps.UpdatedAt,
		Version:          saga.Version.Value,
	}
	if !saga.StartedAt.IsZero() {
		record.StartedAt = sql.NullTime{Time: saga.StartedAt, Valid: true}
	}
	if saga.CompletedAt != nil {
		record.CompletedAt = sql.NullTime{Time: *saga.CompletedAt, Valid: true}
	}

	return record, nil
}

func (r *PostgresSagaRepository) toDomain(record *postgresSaga) (*domain.SagaInstance, error) {
	id, err := models.NewID(record.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga id")
	}

	definition := domain.SagaDefinition{}
	if err := json.Unmarshal(record.Definition, &definition); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal saga definition")
	}

	stepResults := map[string]*domain.StepOutcome{}
	if len(record.StepResults) > 0 {
		if err := json.Unmarshal(record.StepResults, &stepResults); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal step results")
		}
	}

	saga := &domain.SagaInstance{
		ID:               id,
		Definition:       definition,
		Status:           domain.SagaStatus(record.Status),
		FailureReason:    domain.FailureReason(record.FailureReason),
		CurrentStepIndex: record.CurrentStepIndex,
		StepResults:      stepResults,
		Timestamps: models.Timestamps{
			CreatedAt: record.CreatedAt,
			UpdatedAt: record.UpdatedAt,
		},
		Version: models.Version{Value: record.Version},
	}
	if record.StartedAt.Valid {
		saga.StartedAt = record.StartedAt.Time
	}
	if record.CompletedAt.Valid {
		completedAt := record.CompletedAt.Time
		saga.CompletedAt = &completedAt
	}

	return saga, nil
}
