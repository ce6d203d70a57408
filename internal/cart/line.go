package cart

import (
	"slices"
	"strings"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/pricing"
)

// Mergeable reports whether an incoming line folds into an existing one
// instead of being appended.
func Mergeable(existing domain.CartItem, incoming domain.CartItem) bool {
	if existing.SKU != incoming.SKU {
		return false
	}
	if !discrete(existing) || !discrete(incoming) {
		return false
	}
	if existing.SentToKot != incoming.SentToKot || existing.Void != incoming.Void || existing.Comp != incoming.Comp {
		return false
	}
	return sameModifierSet(existing.Modifiers, incoming.Modifiers)
}

func discrete(item domain.CartItem) bool {
	if item.Kind == domain.VariantOpenPrice || item.Measure > 0 {
		return false
	}
	return item.Unit == "" || item.Unit == domain.UnitPerItem
}

func sameModifierSet(a []domain.Modifier, b []domain.Modifier) bool {
	ids := func(mods []domain.Modifier) []string {
		out := make([]string, 0, len(mods))
		for _, m := range mods {
			out = append(out, m.ID)
		}
		slices.Sort(out)
		return slices.Compact(out)
	}
	return slices.Equal(ids(a), ids(b))
}

// ApplyVoid zeroes the line and keeps its prior total for reversal. A comp on
// the same line is cleared.
func ApplyVoid(item domain.CartItem, reason string) (domain.CartItem, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return item, apperror.Validation("void_reason_required", "void reason is required",
			apperror.FieldError{Field: "reason", Message: "required"})
	}
	if item.Void {
		item.VoidReason = reason
		return item, nil
	}
	if !item.Comp {
		item.AmountBeforeVoidComp = item.Total
	}
	item.Comp = false
	item.CompReason = ""
	item.Void = true
	item.VoidReason = reason
	item.Total = 0
	return item, nil
}

func RemoveVoid(item domain.CartItem) (domain.CartItem, error) {
	if !item.Void {
		return item, apperror.Validation("line_not_void", "line is not void")
	}
	item.Void = false
	item.VoidReason = ""
	item.Total = item.AmountBeforeVoidComp
	return item, nil
}

// ApplyComp mirrors ApplyVoid for complimentary lines.
func ApplyComp(item domain.CartItem, reason string) (domain.CartItem, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return item, apperror.Validation("comp_reason_required", "comp reason is required",
			apperror.FieldError{Field: "reason", Message: "required"})
	}
	if item.Comp {
		item.CompReason = reason
		return item, nil
	}
	if !item.Void {
		item.AmountBeforeVoidComp = item.Total
	}
	item.Void = false
	item.VoidReason = ""
	item.Comp = true
	item.CompReason = reason
	item.Total = 0
	return item, nil
}

func RemoveComp(item domain.CartItem) (domain.CartItem, error) {
	if !item.Comp {
		return item, apperror.Validation("line_not_comp", "line is not comp")
	}
	item.Comp = false
	item.CompReason = ""
	item.Total = item.AmountBeforeVoidComp
	return item, nil
}

// CopyForward returns a fresh unsent copy of item with every void, comp,
// discount and kitchen flag reset.
func CopyForward(item domain.CartItem) domain.CartItem {
	item.LineID = ""
	item.Void = false
	item.VoidReason = ""
	item.Comp = false
	item.CompReason = ""
	item.DiscountPercent = 0
	item.Selected = false
	item.SentToKot = false
	item.SentToKotAt = nil
	item.KotID = ""
	item.AmountBeforeVoidComp = 0
	item.Modifiers = slices.Clone(item.Modifiers)
	return pricing.PriceLine(item)
}

func validateLine(item domain.CartItem) error {
	var fields []apperror.FieldError
	if strings.TrimSpace(item.SKU) == "" {
		fields = append(fields, apperror.FieldError{Field: "sku", Message: "required"})
	}
	if item.Qty < 1 {
		fields = append(fields, apperror.FieldError{Field: "qty", Message: "must be at least 1"})
	}
	if item.Measure < 0 {
		fields = append(fields, apperror.FieldError{Field: "measure", Message: "must not be negative"})
	}
	if item.Kind != "" && !item.Kind.Valid() {
		fields = append(fields, apperror.FieldError{Field: "kind", Message: "unknown variant kind"})
	}
	if item.Price < 0 {
		fields = append(fields, apperror.FieldError{Field: "price", Message: "must not be negative"})
	}
	if item.DiscountPercent < 0 || item.DiscountPercent > 100 {
		fields = append(fields, apperror.FieldError{Field: "discount_percent", Message: "must be between 0 and 100"})
	}
	if len(fields) > 0 {
		return apperror.Validation("invalid_cart_item", "invalid cart item", fields...)
	}
	return nil
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	for i, item := range items {
		item.Modifiers = slices.Clone(item.Modifiers)
		if item.SentToKotAt != nil {
			at := *item.SentToKotAt
			item.SentToKotAt = &at
		}
		out[i] = item
	}
	return out
}
