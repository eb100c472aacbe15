package services

import (
	"context"
	"errors"
	"testing"
)

func TestPromotionServiceLookupIsExactMatch(t *testing.T) {
	svc, err := NewPromotionService(PromotionServiceDeps{Codes: map[string]int{"WELCOME10": 10}})
	if err != nil {
		t.Fatalf("new promotion service: %v", err)
	}
	ctx := context.Background()

	pct, err := svc.Lookup(ctx, " WELCOME10 ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if pct != 10 {
		t.Fatalf("expected 10%%, got %d", pct)
	}

	if _, err := svc.Lookup(ctx, "welcome10"); !errors.Is(err, ErrPromotionNotFound) {
		t.Fatalf("expected case sensitive miss, got %v", err)
	}
	if _, err := svc.Lookup(ctx, ""); !errors.Is(err, ErrPromotionInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
}

func TestNewPromotionServiceRejectsBadRules(t *testing.T) {
	if _, err := NewPromotionService(PromotionServiceDeps{Codes: map[string]int{"HALF": 0}}); err == nil {
		t.Fatalf("expected error for zero discount")
	}
	if _, err := NewPromotionService(PromotionServiceDeps{Codes: map[string]int{"  ": 5}}); err == nil {
		t.Fatalf("expected error for blank code")
	}
	if _, err := NewPromotionService(PromotionServiceDeps{Codes: map[string]int{"ALL": 101}}); err == nil {
		t.Fatalf("expected error for discount above 100")
	}
}
