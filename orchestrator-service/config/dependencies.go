package config

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/sagaflow/saga-system/orchestrator-service/application"
	"github.com/sagaflow/saga-system/orchestrator-service/handlers"
	"github.com/sagaflow/saga-system/orchestrator-service/infrastructure"
	"github.com/sagaflow/saga-system/orchestrator-service/orchestration"
	sharedinfra "github.com/sagaflow/saga-system/shared/infrastructure"
	"github.com/sagaflow/saga-system/shared/telemetry"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Repositories
	SagaRepository *infrastructure.PostgresSagaRepository
	EventStore     *sharedinfra.PostgresEventStore

	// Execution engine
	Coordinator *orchestration.Coordinator

	// Use Cases
	SubmitSaga  *application.SubmitSaga
	GetSaga     *application.GetSaga
	ResumeSagas *application.ResumeSagas

	// HTTP Handlers
	SagaHandlers *handlers.SagaHandlers

	// Event Handlers
	SagaEventHandlers *handlers.SagaEventHandlers

	// Infrastructure
	EventPublisher  *infrastructure.RecordingPublisher
	EventSubscriber *sharedinfra.SQSSubscriberAdapter

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()

	snsPublisher *sharedinfra.SNSPublisherAdapter
}

func BuildDependencies(ctx context.Context, config *Config, logger *logrus.Logger) (*Dependencies, error) {
	deps := &Dependencies{}
	log := logger.WithField("service", config.ServiceName)

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.OrchestratorServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			// Continue without telemetry rather than failing
			log.WithError(err).Warn("failed to initialize telemetry")
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// Initialize database
	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	deps.DB = db

	// Initialize AWS infrastructure
	snsPublisher, err := sharedinfra.NewSNSPublisherAdapter(config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.snsPublisher = snsPublisher

	eventSubscriber, err := sharedinfra.NewSQSSubscriberAdapter(config.AWS.SQSQueueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	// Initialize repositories
	deps.SagaRepository = infrastructure.NewPostgresSagaRepository(db)
	deps.EventStore = sharedinfra.NewPostgresEventStore(db)

	// Every published event first lands in the durable event stream
	deps.EventPublisher = infrastructure.NewRecordingPublisher(deps.EventStore, snsPublisher, log)

	// Initialize execution engine
	deps.Coordinator = orchestration.NewCoordinator(
		deps.SagaRepository,
		deps.EventPublisher,
		orchestration.NewHTTPStepExecutor(&http.Client{}, time.Duration(config.Saga.DefaultStepTimeoutSeconds)*time.Second),
		orchestration.Options{
			DefaultStepTimeout: time.Duration(config.Saga.DefaultStepTimeoutSeconds) * time.Second,
			DefaultMaxAttempts: config.Saga.DefaultMaxAttempts,
			RetryDelay:         time.Duration(config.Saga.RetryDelayMillis) * time.Millisecond,
			CompensationRetry: orchestration.RetryPolicy{
				MaxAttempts: config.Saga.CompensationMaxAttempts,
				Delay:       time.Duration(config.Saga.CompensationDelayMillis) * time.Millisecond,
			},
			MaxConcurrentSagas: int64(config.Saga.MaxConcurrentSagas),
		},
		log,
	)

	// Initialize use cases
	deps.SubmitSaga = application.NewSubmitSaga(deps.SagaRepository, deps.EventPublisher, deps.Coordinator)
	deps.GetSaga = application.NewGetSaga(deps.SagaRepository)
	deps.ResumeSagas = application.NewResumeSagas(deps.SagaRepository, deps.Coordinator, log)

	// Initialize handlers
	deps.SagaHandlers = handlers.NewSagaHandlers(deps.SubmitSaga, deps.GetSaga)
	deps.SagaEventHandlers = handlers.NewSagaEventHandlers(deps.SubmitSaga, log)

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.snsPublisher != nil {
		if err := d.snsPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
