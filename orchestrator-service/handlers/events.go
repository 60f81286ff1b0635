package handlers

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sagaflow/saga-system/orchestrator-service/application"
	"github.com/sagaflow/saga-system/shared/events"
)

// SagaEventHandlers accepts saga submissions arriving through the event
// bus, so other services can start sagas without calling the HTTP API
type SagaEventHandlers struct {
	submitSaga *application.SubmitSaga
	logger     *logrus.Entry
}

// NewSagaEventHandlers creates new saga event handlers
func NewSagaEventHandlers(submitSaga *application.SubmitSaga, logger *logrus.Entry) *SagaEventHandlers {
	return &SagaEventHandlers{
		submitSaga: submitSaga,
		logger:     logger,
	}
}

// Handle implements the events.EventHandler interface
func (h *SagaEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.SagaExecutionRequestedEvent:
		return h.HandleExecutionRequested(ctx, event)
	default:
		// Unknown event type, ignore
		return nil
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *SagaEventHandlers) HandlerID() string {
	return "orchestrator-service-event-handler"
}

// HandleExecutionRequested starts a saga from an execution request event
func (h *SagaEventHandlers) HandleExecutionRequested(ctx context.Context, event *events.Event) error {
	var cmd application.SubmitSagaCommand
	if err := h.parseEventData(event, &cmd); err != nil {
		return errors.Wrap(err, "failed to parse saga execution request")
	}

	response, err := h.submitSaga.Execute(ctx, cmd)
	if err != nil {
		// A malformed definition cannot succeed on redelivery, so the
		// message is consumed and the rejection logged.
		h.logger.WithError(err).WithField("saga_name", cmd.Name).Error("rejected saga execution request")
		return nil
	}

	h.logger.WithFields(logrus.Fields{
		"saga_id":   response.SagaID,
		"saga_name": cmd.Name,
	}).Info("saga accepted from event bus")

	return nil
}

// parseEventData parses event data into the specified struct
func (h *SagaEventHandlers) parseEventData(event *events.Event, target interface{}) error {
	jsonData, err := json.Marshal(event.Data)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event data")
	}

	if err := json.Unmarshal(jsonData, target); err != nil {
		return errors.Wrap(err, "failed to unmarshal event data")
	}

	return nil
}
