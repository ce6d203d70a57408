package domain

import (
	"fmt"
	"sort"
)

// BaseUnits resolves sku to the base item variant it is built from and the
// number of base units one unit of sku holds.
func (p Product) BaseUnits(sku string) (string, int, error) {
	v, ok := p.Variant(sku)
	if !ok {
		return "", 0, fmt.Errorf("variant %s not found on product %s", sku, p.ID)
	}

	switch v.Kind {
	case VariantItem, VariantOpenPrice:
		return v.SKU, 1, nil
	case VariantBox:
		item, ok := p.Variant(v.ParentSKU)
		if !ok || !item.Kind.isBase() {
			return "", 0, fmt.Errorf("box %s has no item parent", sku)
		}
		return item.SKU, unitsOf(v), nil
	case VariantCrate:
		box, ok := p.Variant(v.ParentSKU)
		if !ok || box.Kind != VariantBox {
			return "", 0, fmt.Errorf("crate %s has no box parent", sku)
		}
		item, ok := p.Variant(box.ParentSKU)
		if !ok || !item.Kind.isBase() {
			return "", 0, fmt.Errorf("box %s has no item parent", box.SKU)
		}
		return item.SKU, unitsOf(v) * unitsOf(box), nil
	default:
		return "", 0, fmt.Errorf("unknown variant kind %q", v.Kind)
	}
}

// SetBaseStock sets the count of the base variant and re-derives the count of
// every box and crate packed from it. It reports whether baseSKU exists.
func (p *Product) SetBaseStock(baseSKU string, count int) bool {
	idx := p.VariantIndex(baseSKU)
	if idx < 0 {
		return false
	}
	p.Variants[idx].Stock.Count = count

	for i, v := range p.Variants {
		if v.Kind != VariantBox && v.Kind != VariantCrate {
			continue
		}
		base, units, err := p.BaseUnits(v.SKU)
		if err != nil || base != baseSKU {
			continue
		}
		p.Variants[i].Stock.Count = floorDiv(count, units)
	}
	return true
}

func (k VariantKind) isBase() bool {
	return k == VariantItem || k == VariantOpenPrice
}

func unitsOf(v Variant) int {
	if v.NoOfUnits < 1 {
		return 1
	}
	return v.NoOfUnits
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && (a < 0) {
		q--
	}
	return q
}

// SortFEFO orders batches first-expiry-first-out: earliest expiry first,
// undated batches last, ties broken by receipt time then id.
func SortFEFO(batches []Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		switch {
		case a.Expiry != nil && b.Expiry == nil:
			return true
		case a.Expiry == nil && b.Expiry != nil:
			return false
		case a.Expiry != nil && b.Expiry != nil && !a.Expiry.Equal(*b.Expiry):
			return a.Expiry.Before(*b.Expiry)
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}
