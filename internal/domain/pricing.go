package domain

import (
	"github.com/shopspring/decimal"
)

// PricingPolicy holds the constants that parameterise cart totals.
type PricingPolicy struct {
	Currency              string
	TaxRate               decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// DefaultPricingPolicy returns the storefront defaults: 18% tax, free shipping above 1000, flat fee 50.
func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		Currency:              "INR",
		TaxRate:               decimal.RequireFromString("0.18"),
		FreeShippingThreshold: decimal.NewFromInt(1000),
		FlatShippingFee:       decimal.NewFromInt(50),
	}
}

// PricingBreakdown captures the aggregated monetary results of pricing a cart.
type PricingBreakdown struct {
	Currency        string
	Subtotal        decimal.Decimal
	DiscountPercent int
	Discount        decimal.Decimal
	Taxable         decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Total           decimal.Decimal
}

// CalculateTotals prices line items under the policy. Every intermediate amount is rounded to
// two decimal places, half up. An empty item list always totals zero.
func CalculateTotals(items []LineItem, discountPercent int, policy PricingPolicy) PricingBreakdown {
	if discountPercent < 0 {
		discountPercent = 0
	}
	if discountPercent > 100 {
		discountPercent = 100
	}

	subtotal := decimal.Zero
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		line := round2(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		subtotal = subtotal.Add(line)
	}
	subtotal = round2(subtotal)

	discount := round2(subtotal.Mul(decimal.NewFromInt(int64(discountPercent))).Div(decimal.NewFromInt(100)))
	taxable := round2(subtotal.Sub(discount))
	tax := round2(taxable.Mul(policy.TaxRate))

	shipping := decimal.Zero
	if subtotal.IsPositive() && !subtotal.GreaterThan(policy.FreeShippingThreshold) {
		shipping = round2(policy.FlatShippingFee)
	}

	total := round2(subtotal.Sub(discount).Add(tax).Add(shipping))

	return PricingBreakdown{
		Currency:        policy.Currency,
		Subtotal:        subtotal,
		DiscountPercent: discountPercent,
		Discount:        discount,
		Taxable:         taxable,
		Tax:             tax,
		Shipping:        shipping,
		Total:           total,
	}
}

// Round2 rounds a monetary amount to two decimal places, half up.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return round2(amount)
}

// decimal.Round rounds half away from zero, which is half up for the non-negative amounts
// priced here.
func round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}
