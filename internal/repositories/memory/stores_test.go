package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

func TestCartCacheExpiresEntries(t *testing.T) {
	now := testNow
	cache := NewCartCache(time.Minute, 10, WithCartCacheClock(func() time.Time { return now }))
	cache.Put(context.Background(), domain.Cart{ID: "user:u1", Items: []domain.LineItem{{ProductID: "tee", VariantKey: "M", Quantity: 1}}})

	if cart, ok := cache.Get(context.Background(), "user:u1"); !ok || len(cart.Items) != 1 {
		t.Fatalf("expected cached cart, got %+v ok=%v", cart, ok)
	}
	now = now.Add(time.Minute)
	if _, ok := cache.Get(context.Background(), "user:u1"); ok {
		t.Fatalf("expected entry to expire")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected expired entry to be evicted, len=%d", cache.Len())
	}
}

func TestCartCacheEvictsOldestAtCapacity(t *testing.T) {
	cache := NewCartCache(time.Hour, 2)
	ctx := context.Background()
	cache.Put(ctx, domain.Cart{ID: "a"})
	cache.Put(ctx, domain.Cart{ID: "b"})
	cache.Put(ctx, domain.Cart{ID: "a", DiscountPercent: 10})
	cache.Put(ctx, domain.Cart{ID: "c"})

	if _, ok := cache.Get(ctx, "b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if cart, ok := cache.Get(ctx, "a"); !ok || cart.DiscountPercent != 10 {
		t.Fatalf("expected refreshed a to survive, got %+v ok=%v", cart, ok)
	}
}

func TestCartStoreReturnsCopies(t *testing.T) {
	store := NewCartStore()
	ctx := context.Background()
	if _, err := store.GetCart(ctx, "user:u1"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	saved, err := store.SaveCart(ctx, domain.Cart{ID: "user:u1", Items: []domain.LineItem{{ProductID: "tee", VariantKey: "M", Quantity: 1}}})
	if err != nil {
		t.Fatalf("SaveCart: %v", err)
	}
	saved.Items[0].Quantity = 99

	loaded, err := store.GetCart(ctx, "user:u1")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if loaded.Items[0].Quantity != 1 {
		t.Fatalf("stored cart was aliased: %+v", loaded.Items)
	}
}

func TestOrderStoreListAndMutate(t *testing.T) {
	store := NewOrderStore()
	ctx := context.Background()
	for i, id := range []string{"ord_1", "ord_2", "ord_3"} {
		order := domain.Order{ID: id, UserID: "u1", Status: domain.OrderStatusPending, CreatedAt: testNow.Add(time.Duration(i) * time.Minute)}
		if id == "ord_2" {
			order.Status = domain.OrderStatusVoided
		}
		if err := store.Insert(ctx, order); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	orders, err := store.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "ord_3" || orders[1].ID != "ord_1" {
		t.Fatalf("unexpected listing %+v", orders)
	}

	boom := errors.New("boom")
	if _, err := store.Mutate(ctx, "ord_1", func(o *domain.Order) error {
		o.Status = domain.OrderStatusCancelled
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	order, _ := store.FindByID(ctx, "ord_1")
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("failed mutation must not persist, got %s", order.Status)
	}
}

func TestCounterSequences(t *testing.T) {
	counter := NewCounter()
	for want := int64(1); want <= 3; want++ {
		got, err := counter.Next(context.Background(), "orders:2025", testNow)
		if err != nil || got != want {
			t.Fatalf("expected %d, got %d err=%v", want, got, err)
		}
	}
	if got, _ := counter.Next(context.Background(), "orders:2026", testNow); got != 1 {
		t.Fatalf("counters must be independent, got %d", got)
	}
}
