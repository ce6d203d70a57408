// Package pricing holds the VAT-inclusive price arithmetic. Every function is
// pure; amounts are computed in decimal and rounded to 2 places when stored.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"dinein/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// SellingPrice strips VAT from a tax-inclusive price.
func SellingPrice(price float64, taxPercentage float64) float64 {
	return sellingPrice(decimal.NewFromFloat(price), taxPercentage).InexactFloat64()
}

// VATAmount is the VAT part of a tax-inclusive price.
func VATAmount(price float64, taxPercentage float64) float64 {
	p := decimal.NewFromFloat(price)
	return p.Sub(sellingPrice(p, taxPercentage)).Round(2).InexactFloat64()
}

func sellingPrice(price decimal.Decimal, taxPercentage float64) decimal.Decimal {
	divisor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(taxPercentage).Div(hundred))
	if divisor.LessThanOrEqual(decimal.Zero) {
		return price.Round(2)
	}
	return price.Div(divisor).Round(2)
}

// UnitPrice selects the price field for a variant: box and crate sell at
// their first tier price.
func UnitPrice(v domain.Variant) (float64, error) {
	switch v.Kind {
	case domain.VariantItem, domain.VariantOpenPrice:
		return v.Price, nil
	case domain.VariantBox, domain.VariantCrate:
		if len(v.TierPrices) > 0 {
			return v.TierPrices[0], nil
		}
		return v.Price, nil
	default:
		return 0, fmt.Errorf("unknown variant kind %q", v.Kind)
	}
}

// PriceLine recomputes unit selling price, unit VAT and the line total.
// A void or comp line keeps its would-be total in AmountBeforeVoidComp.
func PriceLine(item domain.CartItem) domain.CartItem {
	unitGross := decimal.NewFromFloat(item.Price)
	for _, m := range item.Modifiers {
		unitGross = unitGross.Add(decimal.NewFromFloat(m.Price))
	}
	sp := sellingPrice(unitGross, item.TaxPercentage)
	vat := unitGross.Sub(sp).Round(2)
	item.SellingPrice = sp.InexactFloat64()
	item.VatAmount = vat.InexactFloat64()

	net, lineVat := lineAmounts(item)
	gross := net.Add(lineVat)
	if item.Void || item.Comp {
		item.AmountBeforeVoidComp = gross.InexactFloat64()
		item.Total = 0
		return item
	}
	item.Total = gross.InexactFloat64()
	return item
}

func lineAmounts(item domain.CartItem) (decimal.Decimal, decimal.Decimal) {
	qty := decimal.NewFromInt(int64(item.Qty))
	if item.Measure > 0 {
		qty = qty.Mul(decimal.NewFromFloat(item.Measure))
	}
	factor := decimal.NewFromInt(1)
	if item.DiscountPercent > 0 {
		factor = factor.Sub(decimal.NewFromFloat(item.DiscountPercent).Div(hundred))
	}
	net := decimal.NewFromFloat(item.SellingPrice).Mul(qty).Mul(factor).Round(2)
	vat := decimal.NewFromFloat(item.VatAmount).Mul(qty).Mul(factor).Round(2)
	return net, vat
}

// Totals folds billable lines, the order discount and custom charges into
// the payment amounts. The existing breakup is left untouched.
func Totals(items []domain.CartItem, discount *domain.Discount, charges []domain.Charge) domain.Payment {
	sub := decimal.Zero
	vat := decimal.Zero
	for _, item := range items {
		if !item.Billable() {
			continue
		}
		net, lineVat := lineAmounts(item)
		sub = sub.Add(net)
		vat = vat.Add(lineVat)
	}

	disc := decimal.Zero
	if discount != nil && discount.Value > 0 {
		switch discount.Kind {
		case domain.AmountKindPercentage:
			pct := decimal.Min(decimal.NewFromFloat(discount.Value), hundred)
			disc = sub.Mul(pct).Div(hundred).Round(2)
		default:
			disc = decimal.NewFromFloat(discount.Value).Round(2)
		}
		disc = decimal.Min(disc, sub)
	}

	base := sub.Sub(disc)
	if !disc.IsZero() && sub.GreaterThan(decimal.Zero) {
		vat = vat.Mul(base).Div(sub).Round(2)
	}

	total := base.Add(vat)
	chargeVat := decimal.Zero
	computed := make([]domain.Charge, 0, len(charges))
	for _, c := range charges {
		amount := decimal.NewFromFloat(c.Value)
		if c.Kind == domain.AmountKindPercentage {
			amount = base.Mul(amount).Div(hundred)
		}
		amount = amount.Round(2)
		cVat := amount.Mul(decimal.NewFromFloat(c.TaxPercentage)).Div(hundred).Round(2)
		c.Amount = amount.InexactFloat64()
		c.Vat = cVat.InexactFloat64()
		c.Total = amount.Add(cVat).InexactFloat64()
		computed = append(computed, c)
		chargeVat = chargeVat.Add(cVat)
		total = total.Add(amount).Add(cVat)
	}

	return domain.Payment{
		Total:    total.Round(2).InexactFloat64(),
		Vat:      vat.Add(chargeVat).Round(2).InexactFloat64(),
		SubTotal: sub.Round(2).InexactFloat64(),
		Discount: disc.InexactFloat64(),
		Charges:  computed,
	}
}

// Round2 rounds half away from zero.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Sum adds amounts without binary float drift.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}

// Diff returns a - b rounded to 2 places.
func Diff(a float64, b float64) float64 {
	return decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Round(2).InexactFloat64()
}
