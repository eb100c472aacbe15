package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/commerce/internal/services"
)

func newTestTopic(t *testing.T, ctx context.Context, id string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, id)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func TestPubSubNotifierPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx, "order-notifications")

	notifier, err := NewPubSubNotifier(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotifier: %v", err)
	}

	occurredAt := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	msg := services.Notification{
		Kind:       services.NotificationOrderPlaced,
		Identity:   "user:user-1",
		OrderID:    "ord_01",
		Message:    "Order ORD-2025-000001 placed.",
		Attributes: map[string]string{"orderNumber": "ORD-2025-000001"},
		OccurredAt: occurredAt,
	}
	if err := notifier.Notify(ctx, msg); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload NotificationPayload
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Kind != msg.Kind || payload.OrderID != "ord_01" || !payload.OccurredAt.Equal(occurredAt) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Attributes["orderNumber"] != "ORD-2025-000001" {
		t.Fatalf("expected order number attribute, got %#v", payload.Attributes)
	}
	if attr := messages[0].Attributes["kind"]; attr != services.NotificationOrderPlaced {
		t.Fatalf("expected kind attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["orderId"]; !ok {
		t.Fatalf("expected orderId attribute")
	}
}

func TestPubSubNotifierOmitsBlankAttributes(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx, "cart-notifications")

	notifier, err := NewPubSubNotifier(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotifier: %v", err)
	}
	if err := notifier.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := notifier.Notify(ctx, services.Notification{
		Kind:     services.NotificationCartPromoFailed,
		Identity: "session:abc",
		Message:  "Promo code BOGUS is not valid.",
	}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if _, ok := messages[0].Attributes["orderId"]; ok {
		t.Fatalf("orderId attribute should not be present")
	}
	if messages[0].Attributes["identity"] != "session:abc" {
		t.Fatalf("expected identity attribute, got %#v", messages[0].Attributes)
	}
}

func TestNewPubSubNotifierRequiresTopic(t *testing.T) {
	if _, err := NewPubSubNotifier(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
