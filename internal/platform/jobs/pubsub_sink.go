package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/commerce/internal/services"
)

// PubSubNotifier publishes notifications to a Pub/Sub topic. Messages for the same order share an
// ordering key when the topic has message ordering enabled.
type PubSubNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.NotificationSink = (*PubSubNotifier)(nil)

// NewPubSubNotifier constructs a Pub/Sub backed notification sink.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	return &PubSubNotifier{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Notify publishes msg and waits for the server acknowledgement.
func (p *PubSubNotifier) Notify(ctx context.Context, msg services.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notifier: not initialised")
	}

	data, err := p.marshal(newPayload(msg))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", msg.Kind)
	setAttr(attrs, "orderId", msg.OrderID)
	setAttr(attrs, "identity", msg.Identity)

	pm := &pubsub.Message{Data: data, Attributes: attrs}
	if p.topic.EnableMessageOrdering {
		pm.OrderingKey = routingKey(msg)
	}
	if _, err := p.topic.Publish(ctx, pm).Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Ping verifies the topic exists.
func (p *PubSubNotifier) Ping(ctx context.Context) error {
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pubsub notifier: topic %s does not exist", p.topic.ID())
	}
	return nil
}

// Close flushes pending publishes.
func (p *PubSubNotifier) Close() error {
	p.topic.Stop()
	return nil
}
