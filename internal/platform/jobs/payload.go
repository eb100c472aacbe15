// Package jobs delivers order and cart notifications to out-of-process consumers.
package jobs

import (
	"strings"
	"time"

	"github.com/hanko-field/commerce/internal/services"
)

// NotificationPayload is the JSON body written by every sink driver.
type NotificationPayload struct {
	Kind       string            `json:"kind"`
	Identity   string            `json:"identity,omitempty"`
	OrderID    string            `json:"orderId,omitempty"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

func newPayload(msg services.Notification) NotificationPayload {
	return NotificationPayload{
		Kind:       msg.Kind,
		Identity:   msg.Identity,
		OrderID:    msg.OrderID,
		Message:    msg.Message,
		Attributes: msg.Attributes,
		OccurredAt: msg.OccurredAt.UTC(),
	}
}

// routingKey keeps every message about one order (or one cart owner) on the same partition.
func routingKey(msg services.Notification) string {
	if id := strings.TrimSpace(msg.OrderID); id != "" {
		return id
	}
	return strings.TrimSpace(msg.Identity)
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
