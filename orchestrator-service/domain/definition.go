package domain

import (
	"time"

	"github.com/pkg/errors"
)

// Pattern represents the coordination pattern of a saga
type Pattern string

const (
	PatternOrchestration Pattern = "orchestration"
	PatternChoreography  Pattern = "choreography"
)

// SagaDefinition is the immutable input describing a saga: an ordered list
// of steps plus saga-wide timeout and tracing metadata.
type SagaDefinition struct {
	Name     string            `json:"name"`
	Pattern  Pattern           `json:"pattern"`
	Timeout  time.Duration     `json:"timeout"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Steps    []StepDefinition  `json:"steps"`
}

// StepDefinition describes one step of a saga. A step without a
// compensation action is non-reversible and is skipped during rollback.
type StepDefinition struct {
	StepID              string                 `json:"step_id"`
	ServiceURL          string                 `json:"service_url"`
	Action              string                 `json:"action"`
	Payload             map[string]interface{} `json:"payload,omitempty"`
	CompensationAction  string                 `json:"compensation_action,omitempty"`
	CompensationPayload map[string]interface{} `json:"compensation_payload,omitempty"`
	Timeout             time.Duration          `json:"timeout,omitempty"`
	MaxAttempts         int                    `json:"max_attempts,omitempty"`
	IdempotentSafe      bool                   `json:"idempotent_safe,omitempty"`
}

// HasCompensation reports whether the step defines a compensation action
func (s StepDefinition) HasCompensation() bool {
	return s.CompensationAction != ""
}

// Validate checks the definition before a saga instance is created
func (d SagaDefinition) Validate() error {
	if d.Name == "" {
		return errors.New("saga name is required")
	}

	switch d.Pattern {
	case PatternOrchestration:
	case PatternChoreography:
		return errors.New("choreography pattern is not supported by the orchestrator")
	default:
		return errors.Errorf("unknown saga pattern %q", d.Pattern)
	}

	if d.Timeout < 0 {
		return errors.New("saga timeout must not be negative")
	}

	if len(d.Steps) == 0 {
		return errors.New("saga must define at least one step")
	}

	seen := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		if step.StepID == "" {
			return errors.New("step ID is required")
		}
		if seen[step.StepID] {
			return errors.Errorf("duplicate step ID %q", step.StepID)
		}
		seen[step.StepID] = true

		if step.ServiceURL == "" {
			return errors.Errorf("step %q: service URL is required", step.StepID)
		}
		if step.Action == "" {
			return errors.Errorf("step %q: action is required", step.StepID)
		}
		if step.Timeout < 0 {
			return errors.Errorf("step %q: timeout must not be negative", step.StepID)
		}
		if step.MaxAttempts < 0 {
			return errors.Errorf("step %q: max attempts must not be negative", step.StepID)
		}
	}

	return nil
}
