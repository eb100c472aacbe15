package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hanko-field/commerce/internal/services"
)

type captureWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected write deadline")
	}
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestKafkaNotifierWritesKeyedMessage(t *testing.T) {
	writer := &captureWriter{}
	notifier := newKafkaNotifier(writer, []string{"localhost:9092"})

	occurredAt := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	err := notifier.Notify(context.Background(), services.Notification{
		Kind:       services.NotificationOrderCancelled,
		Identity:   "user:user-1",
		OrderID:    "ord_01",
		Message:    "Order ORD-2025-000001 was cancelled.",
		OccurredAt: occurredAt,
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "ord_01" {
		t.Fatalf("expected order id key, got %q", msg.Key)
	}
	if !msg.Time.Equal(occurredAt) {
		t.Fatalf("expected message time %s, got %s", occurredAt, msg.Time)
	}
	var payload NotificationPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Kind != services.NotificationOrderCancelled || payload.Identity != "user:user-1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if len(msg.Headers) != 2 || msg.Headers[1].Key != "orderId" {
		t.Fatalf("unexpected headers %#v", msg.Headers)
	}

	if err := notifier.Close(); err != nil || !writer.closed {
		t.Fatalf("expected writer to be closed")
	}
}

func TestKafkaNotifierKeysCartNoticesByIdentity(t *testing.T) {
	writer := &captureWriter{}
	notifier := newKafkaNotifier(writer, []string{"localhost:9092"})
	if err := notifier.Notify(context.Background(), services.Notification{
		Kind:     services.NotificationCartPromoFailed,
		Identity: "session:abc",
	}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if string(writer.messages[0].Key) != "session:abc" {
		t.Fatalf("expected identity key, got %q", writer.messages[0].Key)
	}
}

func TestKafkaNotifierWrapsWriteErrors(t *testing.T) {
	boom := errors.New("leader not available")
	notifier := newKafkaNotifier(&captureWriter{err: boom}, []string{"localhost:9092"})
	if err := notifier.Notify(context.Background(), services.Notification{Kind: "order.placed"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}
}

func TestNewKafkaNotifierValidatesArguments(t *testing.T) {
	if _, err := NewKafkaNotifier(nil, "topic"); err == nil {
		t.Fatalf("expected error for missing brokers")
	}
	if _, err := NewKafkaNotifier([]string{"localhost:9092"}, " "); err == nil {
		t.Fatalf("expected error for missing topic")
	}
}
