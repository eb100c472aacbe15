package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hanko-field/commerce/internal/services"
)

const defaultKafkaWriteTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes notifications to a Kafka topic keyed by order id, so one order's events
// stay ordered on a single partition.
type KafkaNotifier struct {
	writer  messageWriter
	brokers []string
	marshal func(any) ([]byte, error)
	timeout time.Duration
}

var _ services.NotificationSink = (*KafkaNotifier)(nil)

// NewKafkaNotifier constructs a Kafka backed notification sink.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka notifier: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka notifier: topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaNotifier(writer, brokers), nil
}

func newKafkaNotifier(writer messageWriter, brokers []string) *KafkaNotifier {
	return &KafkaNotifier{
		writer:  writer,
		brokers: append([]string(nil), brokers...),
		marshal: json.Marshal,
		timeout: defaultKafkaWriteTimeout,
	}
}

// Notify writes msg and waits for the broker acknowledgement.
func (k *KafkaNotifier) Notify(ctx context.Context, msg services.Notification) error {
	if k == nil || k.writer == nil {
		return errors.New("kafka notifier: not initialised")
	}
	value, err := k.marshal(newPayload(msg))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	headers := []kafka.Header{{Key: "kind", Value: []byte(msg.Kind)}}
	if id := strings.TrimSpace(msg.OrderID); id != "" {
		headers = append(headers, kafka.Header{Key: "orderId", Value: []byte(id)})
	}

	writeCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(routingKey(msg)),
		Value:   value,
		Headers: headers,
		Time:    msg.OccurredAt.UTC(),
	}); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (k *KafkaNotifier) Ping(ctx context.Context) error {
	var errs []error
	for _, broker := range k.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("kafka notifier: no broker reachable: %w", errors.Join(errs...))
}

// Close flushes buffered messages.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
