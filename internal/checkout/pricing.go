package checkout

import "github.com/shopspring/decimal"

// Pricing holds the flat shipping charge and the tax rate applied to the
// cart subtotal.
type Pricing struct {
	Shipping decimal.Decimal
	TaxRate  decimal.Decimal
}

// DefaultPricing is 10 flat shipping and 10% tax.
func DefaultPricing() Pricing {
	return Pricing{
		Shipping: decimal.NewFromInt(10),
		TaxRate:  decimal.New(10, -2),
	}
}

// Totals is the client-side price breakdown shown before submission.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Quote computes tax rounded to cents and total = subtotal + shipping + tax.
func (p Pricing) Quote(subtotal decimal.Decimal) Totals {
	tax := subtotal.Mul(p.TaxRate).Round(2)
	return Totals{
		Subtotal: subtotal,
		Shipping: p.Shipping,
		Tax:      tax,
		Total:    subtotal.Add(p.Shipping).Add(tax).Round(2),
	}
}
