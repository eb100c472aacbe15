package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// PromotionServiceDeps bundles dependencies required to construct a PromotionService implementation.
type PromotionServiceDeps struct {
	// Codes maps a promo code to its discount percent. Lookups are exact, case included.
	Codes map[string]int
}

type promotionService struct {
	codes map[string]int
}

// NewPromotionService wires a PromotionService backed by a fixed code table.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	codes := make(map[string]int, len(deps.Codes))
	for code, pct := range deps.Codes {
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			return nil, errors.New("promotion service: blank promo code in rule set")
		}
		if pct <= 0 || pct > 100 {
			return nil, fmt.Errorf("promotion service: discount for %s must be within 1..100", trimmed)
		}
		codes[trimmed] = pct
	}
	return &promotionService{codes: codes}, nil
}

func (s *promotionService) Lookup(_ context.Context, code string) (int, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return 0, ErrPromotionInvalidCode
	}
	pct, ok := s.codes[trimmed]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPromotionNotFound, trimmed)
	}
	return pct, nil
}
