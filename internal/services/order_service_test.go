package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories/memory"
)

type orderFixture struct {
	svc    OrderService
	orders *memory.OrderStore
	inv    *memory.Inventory
	stock  InventoryService
	notes  *captureNotifications
	now    time.Time
}

func newOrderFixture(t *testing.T) orderFixture {
	t.Helper()
	now := time.Date(2025, 5, 2, 9, 0, 0, 0, time.UTC)
	inv := seedInventory(t, map[string]int{"M": 5})
	stock := newTestInventoryService(t, inv, func() time.Time { return now })
	orders := memory.NewOrderStore()
	notes := &captureNotifications{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        orders,
		Inventory:     stock,
		Notifications: notes,
		Clock:         func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return orderFixture{svc: svc, orders: orders, inv: inv, stock: stock, notes: notes, now: now}
}

func (f orderFixture) insert(t *testing.T, id, userID string, method domain.PaymentMethod, status domain.OrderStatus, createdAt time.Time) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:          id,
		OrderNumber: "ORD-2025-" + strings.TrimPrefix(id, "ord_"),
		UserID:      userID,
		Items: []domain.OrderItem{{
			ProductID:  "prod-1",
			VariantKey: "M",
			Quantity:   2,
			UnitPrice:  decimal.NewFromInt(500),
			LineTotal:  decimal.NewFromInt(1000),
		}},
		PaymentMethod: method,
		Currency:      "INR",
		Total:         decimal.RequireFromString("1230.00"),
		Status:        status,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	if err := f.orders.Insert(context.Background(), order); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return order
}

func TestNewOrderServiceRequiresDependencies(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error for missing repository")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: memory.NewOrderStore()}); err == nil {
		t.Fatalf("expected error for missing inventory")
	}
}

func TestOrderServiceGetOrderHidesForeignAndVoidedOrders(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodCOD, domain.OrderStatusPending, f.now)
	f.insert(t, "ord_000002", "user-1", domain.PaymentMethodCOD, domain.OrderStatusVoided, f.now)

	got, err := f.svc.GetOrder(ctx, "user-1", "ord_000001")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.ID != "ord_000001" {
		t.Fatalf("unexpected order %s", got.ID)
	}

	cases := []struct{ user, order string }{
		{"user-2", "ord_000001"},
		{"user-1", "ord_000002"},
		{"user-1", "ord_missing"},
		{"", "ord_000001"},
	}
	for _, tc := range cases {
		if _, err := f.svc.GetOrder(ctx, tc.user, tc.order); !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("%s/%s: expected not found, got %v", tc.user, tc.order, err)
		}
	}
}

func TestOrderServiceListOrdersNewestFirst(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodCOD, domain.OrderStatusPending, f.now.Add(-2*time.Hour))
	f.insert(t, "ord_000002", "user-1", domain.PaymentMethodCOD, domain.OrderStatusDelivered, f.now.Add(-time.Hour))
	f.insert(t, "ord_000003", "user-1", domain.PaymentMethodCOD, domain.OrderStatusVoided, f.now)
	f.insert(t, "ord_000004", "user-2", domain.PaymentMethodCOD, domain.OrderStatusPending, f.now)

	orders, err := f.svc.ListOrders(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "ord_000002" || orders[1].ID != "ord_000001" {
		t.Fatalf("unexpected listing %+v", orders)
	}

	limited, err := f.svc.ListOrders(ctx, "user-1", 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected one order, got %d", len(limited))
	}

	if _, err := f.svc.ListOrders(ctx, " ", 10); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestOrderServiceCancelRestocksAndRecordsHistory(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodCOD, domain.OrderStatusPending, f.now)
	key := StockKey{ProductID: "prod-1", VariantKey: "M"}

	cancelled, err := f.svc.CancelOrder(ctx, CancelOrderCommand{
		OrderID: "ord_000001",
		UserID:  "user-1",
		Reason:  "  <b>changed</b>   my mind ",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelReason == nil || *cancelled.CancelReason != "changed my mind" {
		t.Fatalf("unexpected reason %v", cancelled.CancelReason)
	}
	if len(cancelled.StatusHistory) != 1 {
		t.Fatalf("expected one history entry, got %d", len(cancelled.StatusHistory))
	}
	entry := cancelled.StatusHistory[0]
	if entry.From != domain.OrderStatusPending || entry.To != domain.OrderStatusCancelled || !entry.At.Equal(f.now) {
		t.Fatalf("unexpected history entry %+v", entry)
	}

	available, err := f.stock.GetAvailable(ctx, key)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 7 {
		t.Fatalf("expected stock 7 after restock, got %d", available)
	}

	if len(f.notes.messages) != 1 || f.notes.messages[0].Kind != NotificationOrderCancelled {
		t.Fatalf("expected cancellation notice, got %+v", f.notes.messages)
	}
	if f.notes.messages[0].Identity != "user:user-1" {
		t.Fatalf("unexpected notice identity %q", f.notes.messages[0].Identity)
	}

	if _, err := f.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_000001", UserID: "user-1"}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition on second cancel, got %v", err)
	}
	available, _ = f.stock.GetAvailable(ctx, key)
	if available != 7 {
		t.Fatalf("second cancel must not restock, got %d", available)
	}
}

func TestOrderServiceCancelRetriesTransientRestock(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodCOD, domain.OrderStatusPending, f.now)
	key := StockKey{ProductID: "prod-1", VariantKey: "M"}

	var calls, pauses int
	stub := &stubInventoryService{InventoryService: f.stock}
	stub.incrementFn = func(ctx context.Context, key StockKey, qty int) (domain.StockRecord, error) {
		calls++
		if calls == 1 {
			return domain.StockRecord{}, memory.Unavailable("stock.increment")
		}
		return f.stock.Increment(ctx, key, qty)
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    f.orders,
		Inventory: stub,
		Clock:     func() time.Time { return f.now },
		Sleep: func(context.Context, time.Duration) error {
			pauses++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_000001", UserID: "user-1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if calls != 2 || pauses != 1 {
		t.Fatalf("expected one retry, got %d calls and %d pauses", calls, pauses)
	}
	if available, _ := f.stock.GetAvailable(ctx, key); available != 7 {
		t.Fatalf("expected stock 7 after retried restock, got %d", available)
	}
}

func TestOrderServiceCancelSurfacesFailedRestock(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodCOD, domain.OrderStatusPending, f.now)

	stub := &stubInventoryService{InventoryService: f.stock}
	stub.incrementFn = func(context.Context, StockKey, int) (domain.StockRecord, error) {
		return domain.StockRecord{}, memory.Unavailable("stock.increment")
	}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:        f.orders,
		Inventory:     stub,
		Notifications: f.notes,
		Clock:         func() time.Time { return f.now },
		RetryAttempts: 2,
		Sleep:         func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	cancelled, err := svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_000001", UserID: "user-1"})
	if !errors.Is(err, ErrOrderRestockFailed) {
		t.Fatalf("expected restock failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "prod-1/M") {
		t.Fatalf("expected the stock key in the error, got %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected the order to stay cancelled, got %s", cancelled.Status)
	}
	stored, err := f.orders.FindByID(ctx, "ord_000001")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected stored order cancelled, got %s", stored.Status)
	}
	if available, _ := f.stock.GetAvailable(ctx, StockKey{ProductID: "prod-1", VariantKey: "M"}); available != 5 {
		t.Fatalf("expected stock untouched, got %d", available)
	}
}

func TestOrderServiceCancelRejectsOtherUsersAndShippedOrders(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodCOD, domain.OrderStatusPending, f.now)
	f.insert(t, "ord_000002", "user-1", domain.PaymentMethodCOD, domain.OrderStatusShipped, f.now)

	if _, err := f.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_000001", UserID: "user-2"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}
	if _, err := f.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_000002", UserID: "user-1"}); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition for shipped order, got %v", err)
	}
	if _, err := f.svc.CancelOrder(ctx, CancelOrderCommand{OrderID: "ord_missing"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	stored, err := f.orders.FindByID(ctx, "ord_000001")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("rejected cancel must not change status, got %s", stored.Status)
	}
}

func TestOrderServiceCancelTruncatesLongReasons(t *testing.T) {
	f := newOrderFixture(t)
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodCOD, domain.OrderStatusProcessing, f.now)

	cancelled, err := f.svc.CancelOrder(context.Background(), CancelOrderCommand{
		OrderID: "ord_000001",
		Reason:  strings.Repeat("x", 700),
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.CancelReason == nil || len(*cancelled.CancelReason) != 500 {
		t.Fatalf("expected 500 character reason")
	}
}

func TestOrderServiceMarkPaidIsIdempotent(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodCard, domain.OrderStatusPending, f.now)
	f.insert(t, "ord_000002", "user-1", domain.PaymentMethodCard, domain.OrderStatusCancelled, f.now)

	paid, err := f.svc.MarkOrderPaid(ctx, "ord_000001")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !paid.IsPaid || paid.PaidAt == nil || !paid.PaidAt.Equal(f.now) {
		t.Fatalf("expected paid order, got %+v", paid)
	}
	if _, err := f.svc.MarkOrderPaid(ctx, "ord_000001"); err != nil {
		t.Fatalf("second mark paid: %v", err)
	}
	if len(f.notes.messages) != 1 || f.notes.messages[0].Kind != NotificationOrderPaid {
		t.Fatalf("expected exactly one paid notice, got %+v", f.notes.messages)
	}

	if _, err := f.svc.MarkOrderPaid(ctx, "ord_000002"); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition for cancelled order, got %v", err)
	}
	if _, err := f.svc.MarkOrderPaid(ctx, "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceAdvanceWalksFulfilment(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodCOD, domain.OrderStatusPending, f.now)

	want := []domain.OrderStatus{
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	}
	for _, status := range want {
		order, err := f.svc.AdvanceOrder(ctx, "ord_000001")
		if err != nil {
			t.Fatalf("advance to %s: %v", status, err)
		}
		if order.Status != status {
			t.Fatalf("expected %s, got %s", status, order.Status)
		}
	}
	if _, err := f.svc.AdvanceOrder(ctx, "ord_000001"); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected delivered to be final, got %v", err)
	}
	stored, _ := f.orders.FindByID(ctx, "ord_000001")
	if len(stored.StatusHistory) != 3 {
		t.Fatalf("expected three history entries, got %d", len(stored.StatusHistory))
	}
}

func TestOrderServiceAdvanceRequiresGatewayPayment(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	f.insert(t, "ord_000001", "user-1", domain.PaymentMethodUPI, domain.OrderStatusPending, f.now)

	if _, err := f.svc.AdvanceOrder(ctx, "ord_000001"); !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected unpaid upi order to stay pending, got %v", err)
	}
	if _, err := f.svc.MarkOrderPaid(ctx, "ord_000001"); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	order, err := f.svc.AdvanceOrder(ctx, "ord_000001")
	if err != nil {
		t.Fatalf("advance after payment: %v", err)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Fatalf("expected processing, got %s", order.Status)
	}
}
