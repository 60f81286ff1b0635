package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaflow/saga-system/shared/models"
)

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		topic   string
		pattern string
		matches bool
	}{
		{"saga.step.completed", "saga.step.completed", true},
		{"saga.step.completed", "saga.step.*", true},
		{"saga.step.completed", "saga.*.completed", true},
		{"saga.step.completed", "saga.#", true},
		{"saga.completed", "saga.step.completed", false},
		{"saga.step.completed", "saga.step", false},
		{"saga.step.completed", "payment.#", false},
		{"saga.compensation.failed", "saga.#", true},
	}

	for _, tt := range tests {
		t.Run(tt.topic+" vs "+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.matches, Topic(tt.topic).Matches(Topic(tt.pattern)))
		})
	}
}

func TestEventPayloadRoundTrip(t *testing.T) {
	type stepData struct {
		StepID string `json:"step_id"`
	}

	event := NewEvent(models.GenerateUUID(), SagaStepCompletedEvent, stepData{StepID: "reserve-inventory"})
	event.WithCorrelationID(models.GenerateUUID()).WithMetadata("origin", "test")

	payload, err := event.MarshalPayload()
	require.NoError(t, err)
	assert.NotEmpty(t, payload)

	var decoded stepData
	require.NoError(t, event.UnmarshalPayload(&decoded))
	assert.Equal(t, "reserve-inventory", decoded.StepID)

	origin, ok := event.Metadata.Get("origin")
	assert.True(t, ok)
	assert.Equal(t, "test", origin)
}
