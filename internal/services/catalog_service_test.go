package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/commerce/internal/repositories/memory"
)

func TestCatalogServiceUpsertSanitizesName(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	inv := memory.NewInventory()
	svc, err := NewCatalogService(CatalogServiceDeps{Products: inv, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	ctx := context.Background()

	saved, err := svc.UpsertProduct(ctx, Product{
		ID:       " prod-1 ",
		Name:     "<b>Canvas</b>   Tote <script>alert(1)</script>",
		Price:    decimal.NewFromInt(500),
		Variants: map[string]int{"M": 10},
		Active:   true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if saved.Name != "Canvas Tote" {
		t.Fatalf("unexpected sanitized name %q", saved.Name)
	}
	if !saved.UpdatedAt.Equal(now) {
		t.Fatalf("expected updatedAt to be stamped")
	}

	got, err := svc.GetProduct(ctx, "prod-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Variants["M"] != 10 {
		t.Fatalf("unexpected stock %d", got.Variants["M"])
	}
}

func TestCatalogServiceHidesInactiveAndUnknownProducts(t *testing.T) {
	inv := memory.NewInventory()
	svc, err := NewCatalogService(CatalogServiceDeps{Products: inv})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.UpsertProduct(ctx, Product{
		ID:       "retired",
		Name:     "Old Mug",
		Price:    decimal.NewFromInt(100),
		Variants: map[string]int{"STD": 1},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if _, err := svc.GetProduct(ctx, "retired"); !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected inactive product to be hidden, got %v", err)
	}
	if _, err := svc.GetProduct(ctx, "missing"); !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceUpsertValidates(t *testing.T) {
	svc, err := NewCatalogService(CatalogServiceDeps{Products: memory.NewInventory()})
	if err != nil {
		t.Fatalf("new catalog service: %v", err)
	}
	ctx := context.Background()

	cases := []Product{
		{ID: "", Name: "x", Variants: map[string]int{"M": 1}},
		{ID: "p", Name: "<i></i>", Variants: map[string]int{"M": 1}},
		{ID: "p", Name: "x", Price: decimal.NewFromInt(-1), Variants: map[string]int{"M": 1}},
		{ID: "p", Name: "x"},
		{ID: "p", Name: "x", Variants: map[string]int{"M": -2}},
	}
	for i, product := range cases {
		if _, err := svc.UpsertProduct(ctx, product); !errors.Is(err, ErrCatalogInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}
