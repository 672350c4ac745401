package order

import "github.com/shopspring/decimal"

// Pricing computes order totals. Delivery is free only when the subtotal is
// strictly above FreeThreshold.
type Pricing struct {
	DeliveryFee   decimal.Decimal
	FreeThreshold decimal.Decimal
}

func DefaultPricing() Pricing {
	return Pricing{
		DeliveryFee:   decimal.NewFromInt(150),
		FreeThreshold: decimal.NewFromInt(2000),
	}
}

type Quote struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

func (p Pricing) Quote(lines []Line) Quote {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}
	fee := p.DeliveryFee
	if subtotal.GreaterThan(p.FreeThreshold) {
		fee = decimal.Zero
	}
	return Quote{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Total:       subtotal.Add(fee),
	}
}
