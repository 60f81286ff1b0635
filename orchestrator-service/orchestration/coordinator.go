package orchestration

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
	"github.com/sagaflow/saga-system/shared/events"
	"github.com/sagaflow/saga-system/shared/telemetry"
)

// Options tunes the coordinator's timeouts and retry budgets. Zero values
// fall back to the defaults below.
type Options struct {
	DefaultStepTimeout time.Duration
	DefaultMaxAttempts int
	RetryDelay         time.Duration
	CompensationRetry  RetryPolicy
	MaxConcurrentSagas int64
}

func (o Options) withDefaults() Options {
	if o.DefaultStepTimeout <= 0 {
		o.DefaultStepTimeout = 30 * time.Second
	}
	if o.DefaultMaxAttempts < 1 {
		o.DefaultMaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.CompensationRetry.MaxAttempts < 1 {
		o.CompensationRetry = RetryPolicy{MaxAttempts: 2, Delay: 500 * time.Millisecond}
	}
	if o.MaxConcurrentSagas < 1 {
		o.MaxConcurrentSagas = 64
	}
	return o
}

// Coordinator drives sagas through their state machine: it executes steps
// in order, persists every transition before acting on it, and rolls back
// through the CompensationRunner when a step fails or the saga deadline
// elapses. One coordinator goroutine owns a saga at a time; the durable
// record is the source of truth across restarts.
type Coordinator struct {
	repository  domain.SagaRepository
	publisher   events.Publisher
	caller      StepCaller
	resolver    *Resolver
	compensator *CompensationRunner
	options     Options
	slots       *semaphore.Weighted
	logger      *logrus.Entry
}

func NewCoordinator(repository domain.SagaRepository, publisher events.Publisher, caller StepCaller, options Options, logger *logrus.Entry) *Coordinator {
	options = options.withDefaults()
	resolver := NewResolver()

	return &Coordinator{
		repository:  repository,
		publisher:   publisher,
		caller:      caller,
		resolver:    resolver,
		compensator: NewCompensationRunner(caller, resolver, options.CompensationRetry, options.DefaultStepTimeout, logger),
		options:     options,
		slots:       semaphore.NewWeighted(options.MaxConcurrentSagas),
		logger:      logger,
	}
}

// Launch runs the saga to a terminal status on its own goroutine, waiting
// for a concurrency slot first.
func (c *Coordinator) Launch(saga *domain.SagaInstance) {
	go func() {
		ctx := context.Background()
		if err := c.slots.Acquire(ctx, 1); err != nil {
			return
		}
		defer c.slots.Release(1)

		if err := c.Execute(ctx, saga); err != nil {
			c.logger.WithError(err).WithField("saga_id", saga.ID.String()).Error("saga execution aborted")
		}
	}()
}

// Recover resumes a reloaded non-terminal saga on its own goroutine.
func (c *Coordinator) Recover(saga *domain.SagaInstance) {
	go func() {
		ctx := context.Background()
		if err := c.slots.Acquire(ctx, 1); err != nil {
			return
		}
		defer c.slots.Release(1)

		if err := c.Resume(ctx, saga); err != nil {
			c.logger.WithError(err).WithField("saga_id", saga.ID.String()).Error("saga resumption aborted")
		}
	}()
}

// Execute drives a freshly submitted saga to a terminal status. It returns
// an error only when the durable store becomes unavailable; step failures
// are handled through compensation, not surfaced.
func (c *Coordinator) Execute(ctx context.Context, saga *domain.SagaInstance) error {
	if err := saga.Start(); err != nil {
		return err
	}
	if err := c.checkpoint(ctx, saga); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"saga_id": saga.ID.String(),
		"name":    saga.Definition.Name,
		"steps":   len(saga.Definition.Steps),
	}).Info("saga started")

	return c.runForward(ctx, saga)
}

// Resume continues a saga reloaded from the store after a restart. A step
// that was in flight when the process died has an unknown outcome and is
// treated as failed, which triggers compensation; a saga persisted at a
// step boundary simply continues forward.
func (c *Coordinator) Resume(ctx context.Context, saga *domain.SagaInstance) error {
	logger := c.logger.WithFields(logrus.Fields{
		"saga_id": saga.ID.String(),
		"status":  string(saga.Status),
	})
	logger.Info("resuming saga")

	switch saga.Status {
	case domain.SagaStatusPending:
		return c.Execute(ctx, saga)

	case domain.SagaStatusRunning:
		step, err := saga.CurrentStep()
		if err == nil {
			if outcome, ok := saga.StepResults[step.StepID]; ok && outcome.Status == domain.StepStatusRunning {
				logger.WithField("step_id", step.StepID).Warn("step was in flight at shutdown, outcome unknown, treating as failed")
				if err := saga.RecordStepFailure(step.StepID, domain.ErrorKindTransport, "outcome unknown: process restarted during call", outcome.AttemptCount); err != nil {
					return err
				}
				if err := c.checkpoint(ctx, saga); err != nil {
					return err
				}
				return c.compensate(ctx, saga, domain.FailureReasonRecovered)
			}
		}
		return c.runForward(ctx, saga)

	case domain.SagaStatusCompensating:
		return c.finishCompensation(ctx, saga)

	default:
		return nil
	}
}

// runForward executes steps from the current index until the saga
// completes, fails or times out. Every transition hits the store before
// the next remote call.
func (c *Coordinator) runForward(ctx context.Context, saga *domain.SagaInstance) error {
	for saga.Status == domain.SagaStatusRunning {
		if saga.DeadlineExceeded(time.Now()) {
			c.logger.WithField("saga_id", saga.ID.String()).Warn("saga deadline exceeded")
			return c.compensate(ctx, saga, domain.FailureReasonTimedOut)
		}

		if saga.CurrentStepIndex >= len(saga.Definition.Steps) {
			if err := saga.Complete(); err != nil {
				return err
			}
			if err := c.checkpoint(ctx, saga); err != nil {
				return err
			}

			telemetry.RecordCounter(ctx, "sagas_finished_total", "Sagas that reached a terminal status", 1,
				attribute.String("status", string(saga.Status)))
			c.logger.WithField("saga_id", saga.ID.String()).Info("saga completed")
			return nil
		}

		step, err := saga.CurrentStep()
		if err != nil {
			return err
		}

		if err := saga.BeginStep(step.StepID); err != nil {
			return err
		}
		if err := c.checkpoint(ctx, saga); err != nil {
			return err
		}

		result, attempts, stepErr := c.executeStep(ctx, saga, step)
		if stepErr != nil {
			kind := ClassifyError(stepErr)
			c.logger.WithError(stepErr).WithFields(logrus.Fields{
				"saga_id":    saga.ID.String(),
				"step_id":    step.StepID,
				"error_kind": string(kind),
				"attempts":   attempts,
			}).Error("step failed")
			if kind == domain.ErrorKindTimeout {
				c.logger.WithFields(logrus.Fields{
					"saga_id": saga.ID.String(),
					"step_id": step.StepID,
				}).Warn("remote side effect may have applied, relying on idempotent compensation")
			}

			if err := saga.RecordStepFailure(step.StepID, kind, stepErr.Error(), attempts); err != nil {
				return err
			}
			if err := c.checkpoint(ctx, saga); err != nil {
				return err
			}

			// The saga deadline expiring mid-call reports as a timeout,
			// not an ordinary step failure.
			reason := domain.FailureReasonStepFailed
			if saga.DeadlineExceeded(time.Now()) {
				reason = domain.FailureReasonTimedOut
			}
			return c.compensate(ctx, saga, reason)
		}

		if err := saga.RecordStepSuccess(step.StepID, result, attempts); err != nil {
			return err
		}
		if err := c.checkpoint(ctx, saga); err != nil {
			return err
		}

		c.logger.WithFields(logrus.Fields{
			"saga_id": saga.ID.String(),
			"step_id": step.StepID,
		}).Info("step succeeded")
	}

	return nil
}

// executeStep resolves the payload and issues the remote call under the
// step's retry policy. The returned attempt count includes the final try.
func (c *Coordinator) executeStep(ctx context.Context, saga *domain.SagaInstance, step domain.StepDefinition) (map[string]interface{}, int, error) {
	payload, err := c.resolver.Resolve(step.Payload, c.forwardBindings(saga))
	if err != nil {
		return nil, 0, err
	}

	policy := RetryPolicy{MaxAttempts: step.MaxAttempts, Delay: c.options.RetryDelay}
	if step.MaxAttempts < 1 {
		policy.MaxAttempts = c.options.DefaultMaxAttempts
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = c.options.DefaultStepTimeout
	}
	// A step call never outlives the saga deadline.
	if saga.Definition.Timeout > 0 {
		remaining := saga.Definition.Timeout - time.Since(saga.StartedAt)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if remaining < timeout {
			timeout = remaining
		}
	}

	started := time.Now()
	defer func() {
		telemetry.RecordHistogram(ctx, "saga_step_duration_seconds", "Wall time spent executing a saga step", time.Since(started).Seconds(),
			attribute.String("step_id", step.StepID))
	}()

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts(); attempt++ {
		var result map[string]interface{}
		result, lastErr = c.caller.Call(ctx, step.ServiceURL, step.Action, payload, timeout)
		if lastErr == nil {
			return result, attempt, nil
		}

		if !IsRetryable(lastErr, step.IdempotentSafe) || attempt == policy.Attempts() {
			return nil, attempt, lastErr
		}

		c.logger.WithError(lastErr).WithFields(logrus.Fields{
			"saga_id": saga.ID.String(),
			"step_id": step.StepID,
			"attempt": attempt,
		}).Warn("step attempt failed, retrying")

		select {
		case <-time.After(policy.Backoff(attempt)):
		case <-ctx.Done():
			return nil, attempt, lastErr
		}
	}

	return nil, policy.Attempts(), lastErr
}

func (c *Coordinator) forwardBindings(saga *domain.SagaInstance) Bindings {
	bindings := Bindings{Steps: map[string]map[string]interface{}{}}

	for stepID, outcome := range saga.StepResults {
		if outcome.Status == domain.StepStatusSucceeded && outcome.Result != nil {
			bindings.Steps[stepID] = outcome.Result
		}
	}

	if saga.CurrentStepIndex > 0 {
		previous := saga.Definition.Steps[saga.CurrentStepIndex-1]
		if outcome, ok := saga.StepResults[previous.StepID]; ok {
			bindings.Previous = outcome.Result
		}
	}

	return bindings
}

// compensate rolls back the saga and settles its terminal status.
func (c *Coordinator) compensate(ctx context.Context, saga *domain.SagaInstance, reason domain.FailureReason) error {
	if err := saga.BeginCompensation(reason); err != nil {
		return err
	}
	if err := c.checkpoint(ctx, saga); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"saga_id": saga.ID.String(),
		"reason":  string(reason),
	}).Warn("compensating saga")

	return c.finishCompensation(ctx, saga)
}

func (c *Coordinator) finishCompensation(ctx context.Context, saga *domain.SagaInstance) error {
	runErr := c.compensator.Run(ctx, saga, func(ctx context.Context) error {
		return c.checkpoint(ctx, saga)
	})

	// A store outage interrupts the rollback rather than failing it: the
	// saga stays compensating and is picked up again on resume.
	var storeFailure *StoreFailure
	if errors.As(runErr, &storeFailure) {
		return runErr
	}

	if err := saga.FinishCompensation(runErr == nil); err != nil {
		return err
	}
	if err := c.checkpoint(ctx, saga); err != nil {
		return err
	}

	telemetry.RecordCounter(ctx, "sagas_finished_total", "Sagas that reached a terminal status", 1,
		attribute.String("status", string(saga.Status)))

	logger := c.logger.WithFields(logrus.Fields{
		"saga_id": saga.ID.String(),
		"status":  string(saga.Status),
	})
	if runErr != nil {
		logger.WithError(runErr).Error("saga rollback incomplete, manual intervention required")
	} else {
		logger.Info("saga compensated")
	}

	return nil
}

// checkpoint persists the saga and publishes its pending events. A store
// failure halts the saga; publish failures are logged and dropped because
// the durable record, not the event stream, is the source of truth.
func (c *Coordinator) checkpoint(ctx context.Context, saga *domain.SagaInstance) error {
	if err := c.repository.Save(ctx, saga); err != nil {
		return err
	}

	pending := saga.Events()
	if len(pending) > 0 {
		if err := c.publisher.Publish(ctx, pending...); err != nil {
			c.logger.WithError(err).WithField("saga_id", saga.ID.String()).Error("failed to publish saga events")
		}
		saga.ClearEvents()
	}

	return nil
}
