package services

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// ErrCartPricingInvalidInput signals a pricing policy that cannot produce sane totals.
var ErrCartPricingInvalidInput = errors.New("cart pricing: invalid input")

// CartPricingEngine applies a fixed PricingPolicy to line items.
type CartPricingEngine struct {
	policy domain.PricingPolicy
}

// CartPricingEngineDeps configures the pricing policy. Zero values fall back to the storefront
// defaults.
type CartPricingEngineDeps struct {
	Currency              string
	TaxRate               *decimal.Decimal
	FreeShippingThreshold *decimal.Decimal
	FlatShippingFee       *decimal.Decimal
}

var _ PricingEngine = (*CartPricingEngine)(nil)

func NewCartPricingEngine(deps CartPricingEngineDeps) (*CartPricingEngine, error) {
	policy := domain.DefaultPricingPolicy()
	if currency := strings.ToUpper(strings.TrimSpace(deps.Currency)); currency != "" {
		policy.Currency = currency
	}
	if deps.TaxRate != nil {
		if deps.TaxRate.IsNegative() || deps.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, errors.Join(ErrCartPricingInvalidInput, errors.New("cart pricing engine: tax rate must be within [0, 1]"))
		}
		policy.TaxRate = *deps.TaxRate
	}
	if deps.FreeShippingThreshold != nil {
		if deps.FreeShippingThreshold.IsNegative() {
			return nil, errors.Join(ErrCartPricingInvalidInput, errors.New("cart pricing engine: free shipping threshold must not be negative"))
		}
		policy.FreeShippingThreshold = *deps.FreeShippingThreshold
	}
	if deps.FlatShippingFee != nil {
		if deps.FlatShippingFee.IsNegative() {
			return nil, errors.Join(ErrCartPricingInvalidInput, errors.New("cart pricing engine: flat shipping fee must not be negative"))
		}
		policy.FlatShippingFee = *deps.FlatShippingFee
	}
	return &CartPricingEngine{policy: policy}, nil
}

// Calculate prices the items with the given discount percent.
func (e *CartPricingEngine) Calculate(items []LineItem, discountPercent int) PricingBreakdown {
	return domain.CalculateTotals(items, discountPercent, e.policy)
}

// Currency returns the ISO currency code the engine prices in.
func (e *CartPricingEngine) Currency() string {
	return e.policy.Currency
}

// Policy exposes the active pricing constants.
func (e *CartPricingEngine) Policy() domain.PricingPolicy {
	return e.policy
}
