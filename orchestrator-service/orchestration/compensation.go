package orchestration

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/sagaflow/saga-system/orchestrator-service/domain"
)

// CompensationRunner rolls back the succeeded steps of a saga in strict
// reverse order. Every compensation outcome is persisted through the
// supplied checkpoint before the next call is issued, and a failing
// compensation never stops the sweep: remaining steps are still attempted
// so as much work as possible is undone.
type CompensationRunner struct {
	caller         StepCaller
	resolver       *Resolver
	retry          RetryPolicy
	defaultTimeout time.Duration
	logger         *logrus.Entry
}

func NewCompensationRunner(caller StepCaller, resolver *Resolver, retry RetryPolicy, defaultTimeout time.Duration, logger *logrus.Entry) *CompensationRunner {
	return &CompensationRunner{
		caller:         caller,
		resolver:       resolver,
		retry:          retry,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Run compensates every compensable step of the saga, newest first. It
// returns nil when all compensable steps compensated, the aggregate of
// every compensation failure otherwise, or a StoreFailure when a
// checkpoint write fails mid-sweep. Steps without a compensation action
// are skipped.
func (r *CompensationRunner) Run(ctx context.Context, saga *domain.SagaInstance, checkpoint func(context.Context) error) error {
	steps := saga.CompensableSteps()

	var failures *multierror.Error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		logger := r.logger.WithFields(logrus.Fields{
			"saga_id": saga.ID.String(),
			"step_id": step.StepID,
		})

		if !step.HasCompensation() {
			logger.Debug("step has no compensation action, skipping")
			continue
		}

		// Persist the step as compensating before the call so a crash
		// between here and the outcome is visible on restart.
		if err := saga.BeginStepCompensation(step.StepID); err != nil {
			return multierror.Append(failures, err)
		}
		if err := checkpoint(ctx); err != nil {
			return &StoreFailure{Err: err}
		}

		if err := r.compensateStep(ctx, saga, step, i); err != nil {
			logger.WithError(err).Error("compensation failed")
			if recordErr := saga.RecordStepCompensationFailure(step.StepID, err.Error()); recordErr != nil {
				return multierror.Append(failures, recordErr)
			}
			failures = multierror.Append(failures, err)
		} else {
			logger.Info("step compensated")
			if recordErr := saga.RecordStepCompensated(step.StepID); recordErr != nil {
				return multierror.Append(failures, recordErr)
			}
		}

		if err := checkpoint(ctx); err != nil {
			return &StoreFailure{Err: err}
		}
	}

	return failures.ErrorOrNil()
}

func (r *CompensationRunner) compensateStep(ctx context.Context, saga *domain.SagaInstance, step domain.StepDefinition, position int) error {
	payload, err := r.resolver.Resolve(step.CompensationPayload, r.bindings(saga, step, position))
	if err != nil {
		return err
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= r.retry.Attempts(); attempt++ {
		_, lastErr = r.caller.Call(ctx, step.ServiceURL, step.CompensationAction, payload, timeout)
		if lastErr == nil {
			return nil
		}
		if attempt < r.retry.Attempts() {
			select {
			case <-time.After(r.retry.Backoff(attempt)):
			case <-ctx.Done():
				return lastErr
			}
		}
	}

	return lastErr
}

func (r *CompensationRunner) bindings(saga *domain.SagaInstance, step domain.StepDefinition, position int) Bindings {
	bindings := Bindings{Steps: map[string]map[string]interface{}{}}

	for stepID, outcome := range saga.StepResults {
		if outcome.Result != nil {
			bindings.Steps[stepID] = outcome.Result
		}
	}

	if outcome, ok := saga.StepResults[step.StepID]; ok {
		bindings.Current = outcome.Result
	}

	steps := saga.CompensableSteps()
	if position > 0 && position <= len(steps) {
		if outcome, ok := saga.StepResults[steps[position-1].StepID]; ok {
			bindings.Previous = outcome.Result
		}
	}

	return bindings
}
