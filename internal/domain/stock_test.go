package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cola() Product {
	return Product{
		ID: "prd-cola",
		Variants: []Variant{
			{SKU: "COLA", Kind: VariantItem, Stock: StockConfig{Tracking: true, Count: 240}},
			{SKU: "COLA-6", Kind: VariantBox, ParentSKU: "COLA", NoOfUnits: 6},
			{SKU: "COLA-24", Kind: VariantCrate, ParentSKU: "COLA-6", NoOfUnits: 4},
			{SKU: "COLA-BAD", Kind: VariantCrate, ParentSKU: "COLA"},
		},
	}
}

func TestBaseUnits(t *testing.T) {
	p := cola()
	tests := []struct {
		sku     string
		base    string
		units   int
		wantErr bool
	}{
		{"COLA", "COLA", 1, false},
		{"COLA-6", "COLA", 6, false},
		{"COLA-24", "COLA", 24, false},
		{"COLA-BAD", "", 0, true},
		{"MISSING", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.sku, func(t *testing.T) {
			base, units, err := p.BaseUnits(tt.sku)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.units, units)
		})
	}
}

func TestSetBaseStockRederivesPacks(t *testing.T) {
	p := cola()

	require.True(t, p.SetBaseStock("COLA", 50))

	assert.Equal(t, 50, p.Variants[0].Stock.Count)
	assert.Equal(t, 8, p.Variants[1].Stock.Count)
	assert.Equal(t, 2, p.Variants[2].Stock.Count)
	assert.False(t, p.SetBaseStock("NOPE", 1))
}

func TestSetBaseStockNegativeRoundsDown(t *testing.T) {
	p := cola()
	p.SetBaseStock("COLA", -1)
	assert.Equal(t, -1, p.Variants[1].Stock.Count)
}

func TestSortFEFO(t *testing.T) {
	day := func(d int) *time.Time {
		v := time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	batches := []Batch{
		{ID: "undated"},
		{ID: "late", Expiry: day(20)},
		{ID: "early", Expiry: day(3)},
	}

	SortFEFO(batches)

	assert.Equal(t, "early", batches[0].ID)
	assert.Equal(t, "late", batches[1].ID)
	assert.Equal(t, "undated", batches[2].ID)
}
