//go:build integration

package firestore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

func TestOrderAndCartRepositoriesIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")
	orders, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		t.Fatalf("new cart repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	now := time.Now().UTC().Truncate(time.Second)

	for i, status := range []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusVoided, domain.OrderStatusPending} {
		order := domain.Order{
			ID:            []string{"ord_a", "ord_b", "ord_c"}[i],
			OrderNumber:   "ORD-2025-00000" + string(rune('1'+i)),
			UserID:        "u1",
			PaymentMethod: domain.PaymentMethodCOD,
			Currency:      "INR",
			Items: []domain.OrderItem{{
				ProductID: "tee", VariantKey: "M", Quantity: 2,
				UnitPrice: decimal.NewFromInt(500), LineTotal: decimal.NewFromInt(1000),
			}},
			Subtotal:    decimal.NewFromInt(1000),
			Discount:    decimal.NewFromInt(100),
			Tax:         decimal.NewFromInt(162),
			ShippingFee: decimal.NewFromInt(50),
			Total:       decimal.RequireFromString("1112.00"),
			Status:      status,
			CreatedAt:   now.Add(time.Duration(i) * time.Minute),
			UpdatedAt:   now,
		}
		if err := orders.Insert(ctx, order); err != nil {
			t.Fatalf("insert %s: %v", order.ID, err)
		}
	}

	listed, err := orders.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "ord_c" {
		t.Fatalf("unexpected listing %+v", listed)
	}
	if !listed[0].Total.Equal(decimal.RequireFromString("1112")) {
		t.Fatalf("unexpected total %s", listed[0].Total)
	}

	updated, err := orders.Mutate(ctx, "ord_a", func(o *domain.Order) error {
		o.StatusHistory = append(o.StatusHistory, domain.StatusChange{From: o.Status, To: domain.OrderStatusCancelled, At: now})
		o.Status = domain.OrderStatusCancelled
		return nil
	})
	if err != nil || updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("mutate: %+v err=%v", updated, err)
	}
	if _, err := orders.Mutate(ctx, "missing", func(*domain.Order) error { return nil }); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	code := "WELCOME10"
	cart := domain.Cart{
		ID:              "user:u1",
		Owner:           domain.Identity{UserID: "u1"},
		DiscountPercent: 10,
		PromoCode:       &code,
		Currency:        "INR",
		Items: []domain.LineItem{{
			ProductID: "tee", VariantKey: "M", Quantity: 2,
			UnitPrice: decimal.NewFromInt(500), UnitPriceOriginal: decimal.NewFromInt(600),
			DisplayName: "Logo Tee", AddedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := carts.SaveCart(ctx, cart); err != nil {
		t.Fatalf("save cart: %v", err)
	}
	loaded, err := carts.GetCart(ctx, "user:u1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(loaded.Items) != 1 || !loaded.Items[0].UnitPriceOriginal.Equal(decimal.NewFromInt(600)) || *loaded.PromoCode != code {
		t.Fatalf("unexpected cart %+v", loaded)
	}
	if _, err := carts.GetCart(ctx, "session:none"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found cart, got %v", err)
	}
}
