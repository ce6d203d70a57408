package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinein/backend/internal/domain"
)

func TestSellingPriceAndVAT(t *testing.T) {
	assert.Equal(t, 100.00, SellingPrice(115, 15))
	assert.Equal(t, 15.00, VATAmount(115, 15))
}

func TestSellingPricePlusVATEqualsPrice(t *testing.T) {
	cases := []struct {
		price float64
		tax   float64
	}{
		{115, 15},
		{100, 15},
		{9.99, 5},
		{0.01, 15},
		{1234.56, 11},
		{50, 0},
	}
	for _, tc := range cases {
		sp := SellingPrice(tc.price, tc.tax)
		vat := VATAmount(tc.price, tc.tax)

		assert.Equal(t, tc.price, Sum(sp, vat), "price=%v tax=%v", tc.price, tc.tax)
		assert.Equal(t, sp, SellingPrice(tc.price, tc.tax), "not deterministic")
	}
}

func TestSellingPriceRoundsToTwoDecimals(t *testing.T) {
	assert.Equal(t, 86.96, SellingPrice(100, 15))
	assert.Equal(t, 13.04, VATAmount(100, 15))
}

func TestUnitPriceByKind(t *testing.T) {
	tests := []struct {
		name    string
		variant domain.Variant
		want    float64
		wantErr bool
	}{
		{"item", domain.Variant{Kind: domain.VariantItem, Price: 4}, 4, false},
		{"open price", domain.Variant{Kind: domain.VariantOpenPrice, Price: 7.5}, 7.5, false},
		{"box first tier", domain.Variant{Kind: domain.VariantBox, Price: 40, TierPrices: []float64{36, 34}}, 36, false},
		{"crate without tiers", domain.Variant{Kind: domain.VariantCrate, Price: 400}, 400, false},
		{"unknown", domain.Variant{Kind: "pallet", Price: 1}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnitPrice(tt.variant)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriceLineIncludesModifiersAndQty(t *testing.T) {
	item := PriceLine(domain.CartItem{
		Qty:           2,
		Price:         10,
		TaxPercentage: 15,
		Modifiers:     []domain.Modifier{{ID: "m1", Name: "Cheese", Price: 1.5}},
	})

	assert.Equal(t, 10.0, item.SellingPrice)
	assert.Equal(t, 1.5, item.VatAmount)
	assert.Equal(t, 23.0, item.Total)
}

func TestPriceLineVoidKeepsAmountBeforeVoidComp(t *testing.T) {
	item := PriceLine(domain.CartItem{Qty: 3, Price: 11.5, TaxPercentage: 15, Void: true})

	assert.Equal(t, 0.0, item.Total)
	assert.Equal(t, 34.5, item.AmountBeforeVoidComp)
}

func TestPriceLineWeighedMeasure(t *testing.T) {
	item := PriceLine(domain.CartItem{Qty: 1, Measure: 0.5, Price: 23, TaxPercentage: 15, Unit: "kg"})

	assert.Equal(t, 11.5, item.Total)
}

func TestTotalsWithDiscountAndCharge(t *testing.T) {
	items := []domain.CartItem{
		PriceLine(domain.CartItem{SKU: "A1", Qty: 2, Price: 11.5, TaxPercentage: 15}),
		PriceLine(domain.CartItem{SKU: "V1", Qty: 1, Price: 50, TaxPercentage: 15, Void: true}),
	}
	payment := Totals(items,
		&domain.Discount{Kind: domain.AmountKindPercentage, Value: 10},
		[]domain.Charge{{ID: "svc", Name: "Service", Kind: domain.AmountKindPercentage, Value: 5, TaxPercentage: 15}},
	)

	assert.Equal(t, 20.0, payment.SubTotal)
	assert.Equal(t, 2.0, payment.Discount)
	require.Len(t, payment.Charges, 1)
	assert.Equal(t, 0.9, payment.Charges[0].Amount)
	assert.Equal(t, 0.14, payment.Charges[0].Vat)
	assert.Equal(t, 2.84, payment.Vat)
	assert.Equal(t, 21.74, payment.Total)
}

func TestTotalsFlatDiscountIsCapped(t *testing.T) {
	items := []domain.CartItem{PriceLine(domain.CartItem{Qty: 1, Price: 11.5, TaxPercentage: 15})}

	payment := Totals(items, &domain.Discount{Kind: domain.AmountKindFlat, Value: 50}, nil)

	assert.Equal(t, 10.0, payment.Discount)
	assert.Equal(t, 0.0, payment.Vat)
	assert.Equal(t, 0.0, payment.Total)
}

func TestSumAvoidsFloatDrift(t *testing.T) {
	assert.Equal(t, 0.3, Sum(0.1, 0.2))
	assert.Equal(t, 60.0, Diff(100, 40))
}
