package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/services"
)

// LogNotifier writes notifications to the structured log. It is the local development driver.
type LogNotifier struct {
	logger *zap.Logger
}

var _ services.NotificationSink = (*LogNotifier)(nil)

// NewLogNotifier constructs a log backed sink. A nil logger discards messages.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (l *LogNotifier) Notify(_ context.Context, msg services.Notification) error {
	fields := []zap.Field{
		zap.String("kind", msg.Kind),
		zap.String("identity", msg.Identity),
		zap.Time("occurredAt", msg.OccurredAt),
	}
	if msg.OrderID != "" {
		fields = append(fields, zap.String("orderId", msg.OrderID))
	}
	if len(msg.Attributes) > 0 {
		fields = append(fields, zap.Any("attributes", msg.Attributes))
	}
	l.logger.Info(msg.Message, fields...)
	return nil
}
