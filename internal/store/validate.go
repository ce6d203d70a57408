package store

import (
	"fmt"
	"strings"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/pricing"
)

// ValidateProduct is shared by every backend so they reject the same shapes.
func ValidateProduct(p domain.Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrInvalid)
	}
	if p.TaxPercentage < 0 {
		return fmt.Errorf("%w: tax percentage must not be negative", ErrInvalid)
	}
	if len(p.Variants) == 0 {
		return fmt.Errorf("%w: product needs at least one variant", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(p.Variants))
	for _, v := range p.Variants {
		if strings.TrimSpace(v.SKU) == "" {
			return fmt.Errorf("%w: variant sku is required", ErrInvalid)
		}
		if _, dup := seen[v.SKU]; dup {
			return fmt.Errorf("%w: duplicate variant sku %s", ErrInvalid, v.SKU)
		}
		seen[v.SKU] = struct{}{}
		if !v.Kind.Valid() {
			return fmt.Errorf("%w: variant %s has unknown kind %q", ErrInvalid, v.SKU, v.Kind)
		}
		if v.Price < 0 {
			return fmt.Errorf("%w: variant %s has a negative price", ErrInvalid, v.SKU)
		}
	}
	for _, v := range p.Variants {
		if v.Kind == domain.VariantBox || v.Kind == domain.VariantCrate {
			if _, _, err := p.BaseUnits(v.SKU); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalid, err)
			}
		}
	}
	return nil
}

// Limit clamps a caller supplied page size.
func Limit(limit int, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

// CheckRefund reports whether refund may be appended to order.
func CheckRefund(order domain.Order, refund domain.Refund) error {
	if order.OrderStatus != domain.OrderStatusCompleted {
		return fmt.Errorf("%w: order %s is not completed", ErrInvalid, order.ID)
	}
	if refund.Amount <= 0 {
		return fmt.Errorf("%w: refund amount must be positive", ErrInvalid)
	}
	refundable := pricing.Diff(order.Payment.Total, order.RefundedTotal())
	if pricing.Round2(refund.Amount) > refundable {
		return fmt.Errorf("%w: at most %.2f can be refunded on order %s", ErrConflict, refundable, order.ID)
	}
	return nil
}
