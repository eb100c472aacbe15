package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	defaultOrderListLimit = 20
	maxOrderListLimit     = 100
	maxCancelReasonLength = 500
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located for the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the order cannot move to the requested state.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderRestockFailed means the order was cancelled but some units could not be returned
	// to stock. Someone has to reconcile the ledger by hand.
	ErrOrderRestockFailed = errors.New("order: cancelled but restock failed")
)

// fulfilmentSteps maps each status to the next fulfilment status.
var fulfilmentSteps = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusPending:    domain.OrderStatusProcessing,
	domain.OrderStatusProcessing: domain.OrderStatusShipped,
	domain.OrderStatusShipped:    domain.OrderStatusDelivered,
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusProcessing,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Inventory     InventoryService
	Notifications NotificationSink
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)

	// Restock retries use the same backoff as placement.
	RetryAttempts int
	RetryInitial  time.Duration
	RetryMax      time.Duration
	Sleep         func(ctx context.Context, d time.Duration) error
}

type orderService struct {
	orders    repositories.OrderRepository
	inventory InventoryService
	notify    NotificationSink
	retry     transientRetry
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	sanitizer *bluemonday.Policy
}

// NewOrderService constructs the order service validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:    deps.Orders,
		inventory: deps.Inventory,
		notify:    deps.Notifications,
		retry:     newTransientRetry(deps.RetryAttempts, deps.RetryInitial, deps.RetryMax, deps.Sleep),
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

// GetOrder returns the order when it belongs to userID. Other users' and voided orders are not found.
func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return Order{}, ErrOrderNotFound
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(orderID, err)
	}
	if order.UserID != userID || order.Status == domain.OrderStatusVoided {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, userID string, limit int) ([]Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultOrderListLimit
	case limit > maxOrderListLimit:
		limit = maxOrderListLimit
	}
	orders, err := s.orders.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("order: list for %s: %w", userID, err)
	}
	return orders, nil
}

// CancelOrder cancels a pending or processing order and returns its items to stock.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	userID := strings.TrimSpace(cmd.UserID)
	reason := s.cleanReason(cmd.Reason)

	updated, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		if userID != "" && order.UserID != userID {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if order.Status == domain.OrderStatusVoided {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if !slices.Contains(cancellableStatuses, order.Status) {
			return fmt.Errorf("%w: cannot cancel %s order", ErrOrderInvalidTransition, order.Status)
		}
		s.transition(order, domain.OrderStatusCancelled, reason)
		if reason != "" {
			order.CancelReason = &reason
		}
		return nil
	})
	if err != nil {
		return Order{}, s.translateRepoError(orderID, err)
	}

	restockErr := s.restock(ctx, updated)

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderID": updated.ID,
		"userID":  updated.UserID,
	})
	notifyQuietly(ctx, s.notify, s.logger, Notification{
		Kind:       NotificationOrderCancelled,
		Identity:   Identity{UserID: updated.UserID}.Key(),
		OrderID:    updated.ID,
		Message:    fmt.Sprintf("Order %s was cancelled.", updated.OrderNumber),
		Attributes: map[string]string{"orderNumber": updated.OrderNumber},
		OccurredAt: s.clock(),
	})
	if restockErr != nil {
		return updated, restockErr
	}
	return updated, nil
}

// restock returns every cancelled unit to the ledger, retrying transient failures. Keys that
// still fail are reported together.
func (s *orderService) restock(ctx context.Context, order Order) error {
	var failed []error
	for key, qty := range order.Quantities() {
		err := s.retry.do(ctx, func(int) error {
			_, err := s.inventory.Increment(ctx, key, qty)
			return err
		}, func(attempt int, pause time.Duration, err error) {
			s.logger(ctx, "order.restock_retry", map[string]any{
				"orderID": order.ID,
				"key":     key.String(),
				"attempt": attempt,
				"pause":   pause.String(),
				"error":   err.Error(),
			})
		})
		if err != nil {
			s.logger(ctx, "order.restock_failed", map[string]any{
				"level":    "error",
				"orderID":  order.ID,
				"key":      key.String(),
				"quantity": qty,
				"error":    err.Error(),
			})
			failed = append(failed, fmt.Errorf("restock %s x%d: %w", key, qty, err))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: order %s: %w", ErrOrderRestockFailed, order.ID, errors.Join(failed...))
}

// MarkOrderPaid records payment confirmation. Paying an already paid order is a no-op.
func (s *orderService) MarkOrderPaid(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	changed := false
	updated, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		changed = false
		switch {
		case order.Status == domain.OrderStatusCancelled, order.Status == domain.OrderStatusVoided:
			return fmt.Errorf("%w: cannot pay %s order", ErrOrderInvalidTransition, order.Status)
		case order.IsPaid:
			return nil
		}
		now := s.clock()
		order.IsPaid = true
		order.PaidAt = &now
		order.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return Order{}, s.translateRepoError(orderID, err)
	}
	if changed {
		s.logger(ctx, "order.paid", map[string]any{"orderID": updated.ID})
		notifyQuietly(ctx, s.notify, s.logger, Notification{
			Kind:       NotificationOrderPaid,
			Identity:   Identity{UserID: updated.UserID}.Key(),
			OrderID:    updated.ID,
			Message:    fmt.Sprintf("Payment of %s received for order %s.", FormatMoney(updated.Currency, updated.Total), updated.OrderNumber),
			Attributes: map[string]string{"orderNumber": updated.OrderNumber},
			OccurredAt: s.clock(),
		})
	}
	return updated, nil
}

// AdvanceOrder moves the order one fulfilment step forward. Gateway orders must be paid before
// leaving pending.
func (s *orderService) AdvanceOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	var from domain.OrderStatus
	updated, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		next, ok := fulfilmentSteps[order.Status]
		if !ok {
			return fmt.Errorf("%w: %s is final", ErrOrderInvalidTransition, order.Status)
		}
		if order.Status == domain.OrderStatusPending && awaitingGatewayPayment(*order) {
			return fmt.Errorf("%w: order awaits payment", ErrOrderInvalidTransition)
		}
		from = order.Status
		s.transition(order, next, "")
		return nil
	})
	if err != nil {
		return Order{}, s.translateRepoError(orderID, err)
	}
	s.logger(ctx, "order.advanced", map[string]any{
		"orderID": updated.ID,
		"from":    string(from),
		"to":      string(updated.Status),
	})
	return updated, nil
}

func (s *orderService) transition(order *domain.Order, to domain.OrderStatus, reason string) {
	now := s.clock()
	order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
		From:   order.Status,
		To:     to,
		Reason: reason,
		At:     now,
	})
	order.Status = to
	order.UpdatedAt = now
}

func (s *orderService) cleanReason(reason string) string {
	cleaned := html.UnescapeString(s.sanitizer.Sanitize(reason))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if runes := []rune(cleaned); len(runes) > maxCancelReasonLength {
		cleaned = string(runes[:maxCancelReasonLength])
	}
	return cleaned
}

func (s *orderService) translateRepoError(orderID string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrOrderInvalidTransition):
		return err
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	default:
		return fmt.Errorf("order: %s: %w", orderID, err)
	}
}

func awaitingGatewayPayment(order domain.Order) bool {
	switch order.PaymentMethod {
	case domain.PaymentMethodCard, domain.PaymentMethodUPI:
		return !order.IsPaid
	default:
		return false
	}
}
