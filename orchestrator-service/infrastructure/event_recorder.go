package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sagaflow/saga-system/shared/events"
)

// RecordingPublisher decorates a publisher with a durable audit trail:
// every event batch is appended to the event store before being handed to
// the wrapped publisher. The store write is the one that matters; it fails
// the publish so no event can reach subscribers without a durable record.
type RecordingPublisher struct {
	store  events.EventStore
	next   events.Publisher
	logger *logrus.Entry
}

func NewRecordingPublisher(store events.EventStore, next events.Publisher, logger *logrus.Entry) *RecordingPublisher {
	return &RecordingPublisher{
		store:  store,
		next:   next,
		logger: logger,
	}
}

func (p *RecordingPublisher) Publish(ctx context.Context, evts ...*events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	byAggregate := map[string][]*events.Event{}
	for _, event := range evts {
		byAggregate[event.AggregateID.String()] = append(byAggregate[event.AggregateID.String()], event)
	}

	for _, group := range byAggregate {
		if err := p.store.SaveEvents(ctx, group[0].AggregateID, group, -1); err != nil {
			return errors.Wrap(err, "failed to record events")
		}
	}

	if err := p.next.Publish(ctx, evts...); err != nil {
		return errors.Wrap(err, "failed to publish recorded events")
	}

	return nil
}
