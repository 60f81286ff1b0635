package domain

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/sagaflow/saga-system/shared/events"
	"github.com/sagaflow/saga-system/shared/models"
)

// SagaStatus represents the status of a saga instance
type SagaStatus string

const (
	SagaStatusPending            SagaStatus = "pending"
	SagaStatusRunning            SagaStatus = "running"
	SagaStatusCompensating       SagaStatus = "compensating"
	SagaStatusCompleted          SagaStatus = "completed"
	SagaStatusCompensated        SagaStatus = "compensated"
	SagaStatusCompensationFailed SagaStatus = "compensation_failed"
)

// IsTerminal reports whether the status is final. Terminal instances are
// immutable.
func (s SagaStatus) IsTerminal() bool {
	switch s {
	case SagaStatusCompleted, SagaStatusCompensated, SagaStatusCompensationFailed:
		return true
	}
	return false
}

// FailureReason explains why a saga entered compensation
type FailureReason string

const (
	FailureReasonNone       FailureReason = ""
	FailureReasonStepFailed FailureReason = "step_failed"
	FailureReasonTimedOut   FailureReason = "timed_out"
	FailureReasonRecovered  FailureReason = "recovered_in_flight"
)

// StepStatus represents the status of a single step execution
type StepStatus string

const (
	StepStatusPending            StepStatus = "pending"
	StepStatusRunning            StepStatus = "running"
	StepStatusSucceeded          StepStatus = "succeeded"
	StepStatusFailed             StepStatus = "failed"
	StepStatusCompensating       StepStatus = "compensating"
	StepStatusCompensated        StepStatus = "compensated"
	StepStatusCompensationFailed StepStatus = "compensation_failed"
)

// ErrorKind classifies a step failure
type ErrorKind string

const (
	ErrorKindNone        ErrorKind = ""
	ErrorKindTransport   ErrorKind = "transport"
	ErrorKindApplication ErrorKind = "application"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindResolution  ErrorKind = "resolution"
)

// StepOutcome is the recorded result of one step's execution attempt
type StepOutcome struct {
	Status            StepStatus             `json:"status"`
	Result            map[string]interface{} `json:"result,omitempty"`
	Error             string                 `json:"error,omitempty"`
	ErrorKind         ErrorKind              `json:"error_kind,omitempty"`
	AttemptCount      int                    `json:"attempt_count"`
	StartedAt         time.Time              `json:"started_at"`
	FinishedAt        *time.Time             `json:"finished_at,omitempty"`
	CompensationError string                 `json:"compensation_error,omitempty"`
	CompensatedAt     *time.Time             `json:"compensated_at,omitempty"`
}

// SagaInstance aggregate root. Mutated exclusively by the coordinator that
// owns it; every transition is persisted before the next remote call.
type SagaInstance struct {
	ID               models.ID
	Definition       SagaDefinition
	Status           SagaStatus
	FailureReason    FailureReason
	CurrentStepIndex int
	StepResults      map[string]*StepOutcome
	StartedAt        time.Time
	CompletedAt      *time.Time
	Timestamps       models.Timestamps
	Version          models.Version

	events []*events.Event
}

// CreateSaga factory method, validates the definition and records the
// submission event.
func CreateSaga(definition SagaDefinition) (*SagaInstance, error) {
	if err := definition.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid saga definition")
	}

	saga := &SagaInstance{
		ID:          models.GenerateUUID(),
		Definition:  definition,
		Status:      SagaStatusPending,
		StepResults: make(map[string]*StepOutcome),
		Timestamps:  models.NewTimestamps(),
		Version:     models.NewVersion(),
	}

	saga.recordEvent(events.NewEvent(saga.ID, events.SagaSubmittedEvent, SagaSubmittedData{
		SagaID:    saga.ID,
		Name:      definition.Name,
		StepCount: len(definition.Steps),
		Metadata:  definition.Metadata,
	}))

	return saga, nil
}

// Start transitions the saga from pending to running
func (s *SagaInstance) Start() error {
	if s.Status != SagaStatusPending {
		return errors.Errorf("saga can only start from pending status, got %s", s.Status)
	}

	s.Status = SagaStatusRunning
	s.StartedAt = time.Now()
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaStartedEvent, SagaStartedData{
		SagaID:    s.ID,
		Name:      s.Definition.Name,
		StartedAt: s.StartedAt,
	}))

	return nil
}

// CurrentStep returns the definition of the step at the current index
func (s *SagaInstance) CurrentStep() (StepDefinition, error) {
	if s.CurrentStepIndex >= len(s.Definition.Steps) {
		return StepDefinition{}, errors.Errorf("step index %d out of range", s.CurrentStepIndex)
	}
	return s.Definition.Steps[s.CurrentStepIndex], nil
}

// BeginStep records that the current step started executing. Outcomes are
// append-only: a step that already reached a final status cannot restart.
func (s *SagaInstance) BeginStep(stepID string) error {
	if s.Status != SagaStatusRunning {
		return errors.Errorf("cannot begin step in status %s", s.Status)
	}

	step, err := s.CurrentStep()
	if err != nil {
		return err
	}
	if step.StepID != stepID {
		return errors.Errorf("step %q is not the current step (%q)", stepID, step.StepID)
	}

	if outcome, ok := s.StepResults[stepID]; ok && outcome.Status != StepStatusRunning {
		return errors.Errorf("step %q already has outcome %s", stepID, outcome.Status)
	}

	s.StepResults[stepID] = &StepOutcome{
		Status:    StepStatusRunning,
		StartedAt: time.Now(),
	}
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaStepStartedEvent, StepEventData{
		SagaID:    s.ID,
		StepID:    stepID,
		StepIndex: s.CurrentStepIndex,
	}))

	return nil
}

// RecordStepSuccess marks the current step succeeded and advances the index
func (s *SagaInstance) RecordStepSuccess(stepID string, result map[string]interface{}, attempts int) error {
	outcome, err := s.runningOutcome(stepID)
	if err != nil {
		return err
	}

	now := time.Now()
	outcome.Status = StepStatusSucceeded
	outcome.Result = result
	outcome.AttemptCount = attempts
	outcome.FinishedAt = &now

	s.CurrentStepIndex++
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaStepCompletedEvent, StepEventData{
		SagaID:    s.ID,
		StepID:    stepID,
		StepIndex: s.CurrentStepIndex - 1,
	}))

	return nil
}

// RecordStepFailure marks the current step failed
func (s *SagaInstance) RecordStepFailure(stepID string, kind ErrorKind, message string, attempts int) error {
	outcome, err := s.runningOutcome(stepID)
	if err != nil {
		return err
	}

	now := time.Now()
	outcome.Status = StepStatusFailed
	outcome.Error = message
	outcome.ErrorKind = kind
	outcome.AttemptCount = attempts
	outcome.FinishedAt = &now
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaStepFailedEvent, StepFailedData{
		SagaID:    s.ID,
		StepID:    stepID,
		StepIndex: s.CurrentStepIndex,
		Error:     message,
		ErrorKind: kind,
	}))

	return nil
}

// Complete marks the saga completed once every step has succeeded
func (s *SagaInstance) Complete() error {
	if s.Status != SagaStatusRunning {
		return errors.Errorf("saga can only complete from running status, got %s", s.Status)
	}
	if s.CurrentStepIndex < len(s.Definition.Steps) {
		return errors.Errorf("saga has %d remaining steps", len(s.Definition.Steps)-s.CurrentStepIndex)
	}

	now := time.Now()
	s.Status = SagaStatusCompleted
	s.CompletedAt = &now
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaCompletedEvent, SagaFinishedData{
		SagaID:     s.ID,
		Name:       s.Definition.Name,
		Status:     s.Status,
		FinishedAt: now,
	}))

	return nil
}

// BeginCompensation transitions the saga into rollback. Timeout is a
// failure reason here, not a separate terminal state, so a timed-out saga
// is never left half-applied without a compensation attempt.
func (s *SagaInstance) BeginCompensation(reason FailureReason) error {
	if s.Status != SagaStatusRunning && s.Status != SagaStatusPending {
		return errors.Errorf("cannot begin compensation from status %s", s.Status)
	}

	s.Status = SagaStatusCompensating
	s.FailureReason = reason
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaCompensatingEvent, SagaCompensatingData{
		SagaID: s.ID,
		Name:   s.Definition.Name,
		Reason: reason,
	}))

	return nil
}

// BeginStepCompensation marks a step as being rolled back before the
// compensation call goes out, so a crash mid-compensation is visible on
// restart. Re-entering an already compensating step is allowed: a resumed
// rollback re-issues the call it cannot prove happened.
func (s *SagaInstance) BeginStepCompensation(stepID string) error {
	outcome, err := s.succeededOutcome(stepID)
	if err != nil {
		return err
	}

	outcome.Status = StepStatusCompensating
	s.touch()

	return nil
}

// RecordStepCompensated marks a succeeded step as rolled back
func (s *SagaInstance) RecordStepCompensated(stepID string) error {
	outcome, err := s.succeededOutcome(stepID)
	if err != nil {
		return err
	}

	now := time.Now()
	outcome.Status = StepStatusCompensated
	outcome.CompensatedAt = &now
	s.touch()

	s.recordEvent(events.NewEvent(s.ID, events.SagaStepCompensatedEvent, StepEventData{
		SagaID: s.ID,
		StepID: stepID,
	}))

	return nil
}

// RecordStepCompensationFailure marks a step whose compensation exhausted
// its retries
func (s *SagaInstance) RecordStepCompensationFailure(stepID string, message string) error {
	outcome, err := s.succeededOutcome(stepID)
	if err != nil {
		return err
	}

	outcome.Status = StepStatusCompensationFailed
	outcome.CompensationError = message
	s.touch()

	return nil
}

// FinishCompensation settles the terminal status after rollback. The saga
// ends compensated only if every compensable step rolled back.
func (s *SagaInstance) FinishCompensation(allCompensated bool) error {
	if s.Status != SagaStatusCompensating {
		return errors.Errorf("cannot finish compensation from status %s", s.Status)
	}

	now := time.Now()
	s.CompletedAt = &now

	if allCompensated {
		s.Status = SagaStatusCompensated
		s.recordEvent(events.NewEvent(s.ID, events.SagaCompensatedEvent, SagaFinishedData{
			SagaID:     s.ID,
			Name:       s.Definition.Name,
			Status:     s.Status,
			Reason:     s.FailureReason,
			FinishedAt: now,
		}))
	} else {
		s.Status = SagaStatusCompensationFailed
		s.recordEvent(events.NewEvent(s.ID, events.SagaCompensationFailedEvent, SagaFinishedData{
			SagaID:     s.ID,
			Name:       s.Definition.Name,
			Status:     s.Status,
			Reason:     s.FailureReason,
			FinishedAt: now,
		}))
	}
	s.touch()

	return nil
}

// DeadlineExceeded reports whether the whole-saga timeout elapsed
func (s *SagaInstance) DeadlineExceeded(now time.Time) bool {
	if s.Definition.Timeout <= 0 || s.StartedAt.IsZero() {
		return false
	}
	return now.Sub(s.StartedAt) > s.Definition.Timeout
}

// CompensableSteps returns the steps still awaiting rollback in original
// execution order: succeeded steps plus any step a restart left mid
// compensation.
func (s *SagaInstance) CompensableSteps() []StepDefinition {
	var steps []StepDefinition
	for _, step := range s.Definition.Steps {
		outcome, ok := s.StepResults[step.StepID]
		if ok && (outcome.Status == StepStatusSucceeded || outcome.Status == StepStatusCompensating) {
			steps = append(steps, step)
		}
	}
	return steps
}

// Events returns recorded domain events
func (s *SagaInstance) Events() []*events.Event {
	return s.events
}

// ClearEvents clears recorded domain events
func (s *SagaInstance) ClearEvents() {
	s.events = make([]*events.Event, 0)
}

func (s *SagaInstance) recordEvent(event *events.Event) {
	s.events = append(s.events, event)
}

func (s *SagaInstance) touch() {
	s.Timestamps = s.Timestamps.Update()
	s.Version = s.Version.Update()
}

func (s *SagaInstance) runningOutcome(stepID string) (*StepOutcome, error) {
	if s.Status != SagaStatusRunning {
		return nil, errors.Errorf("saga is not running, got %s", s.Status)
	}
	outcome, ok := s.StepResults[stepID]
	if !ok {
		return nil, errors.Errorf("step %q has not started", stepID)
	}
	if outcome.Status != StepStatusRunning {
		return nil, errors.Errorf("step %q is not running, got %s", stepID, outcome.Status)
	}
	return outcome, nil
}

func (s *SagaInstance) succeededOutcome(stepID string) (*StepOutcome, error) {
	if s.Status != SagaStatusCompensating {
		return nil, errors.Errorf("saga is not compensating, got %s", s.Status)
	}
	outcome, ok := s.StepResults[stepID]
	if !ok {
		return nil, errors.Errorf("step %q has no outcome", stepID)
	}
	if outcome.Status != StepStatusSucceeded && outcome.Status != StepStatusCompensating {
		return nil, errors.Errorf("step %q cannot be compensated from status %s", stepID, outcome.Status)
	}
	return outcome, nil
}

// Event Data Structures
type SagaSubmittedData struct {
	SagaID    models.ID         `json:"saga_id"`
	Name      string            `json:"name"`
	StepCount int               `json:"step_count"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type SagaStartedData struct {
	SagaID    models.ID `json:"saga_id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

type StepEventData struct {
	SagaID    models.ID `json:"saga_id"`
	StepID    string    `json:"step_id"`
	StepIndex int       `json:"step_index"`
}

type StepFailedData struct {
	SagaID    models.ID `json:"saga_id"`
	StepID    string    `json:"step_id"`
	StepIndex int       `json:"step_index"`
	Error     string    `json:"error"`
	ErrorKind ErrorKind `json:"error_kind"`
}

type SagaCompensatingData struct {
	SagaID models.ID     `json:"saga_id"`
	Name   string        `json:"name"`
	Reason FailureReason `json:"reason"`
}

type SagaFinishedData struct {
	SagaID     models.ID     `json:"saga_id"`
	Name       string        `json:"name"`
	Status     SagaStatus    `json:"status"`
	Reason     FailureReason `json:"reason,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

// SagaRepository is the durable saga store. Implementations must provide
// atomic read-modify-write per saga ID.
type SagaRepository interface {
	Save(ctx context.Context, saga *SagaInstance) error
	FindByID(ctx context.Context, id models.ID) (*SagaInstance, error)
	FindNonTerminal(ctx context.Context) ([]*SagaInstance, error)
}
