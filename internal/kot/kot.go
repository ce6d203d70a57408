// Package kot turns sent cart lines into kitchen order tickets.
package kot

import (
	"sort"
	"strings"
	"time"

	"dinein/backend/internal/domain"
)

// DefaultWindow is how far apart two sends can be and still share a ticket.
const DefaultWindow = time.Minute

const (
	CombinedKitchenName   = "Kitchen"
	UnassignedKitchenName = "Unassigned"
)

// Route partitions items into one ticket per kitchen. Lines that match no
// kitchen are gathered into a single unassigned ticket, which is always
// last and is also returned on its own so the caller can warn about it.
// With routing disabled every line goes on one combined ticket.
func Route(items []domain.CartItem, kitchens []domain.Kitchen, routing bool) ([]domain.KOT, []domain.CartItem) {
	if len(items) == 0 {
		return nil, nil
	}
	if !routing {
		return []domain.KOT{{KitchenName: CombinedKitchenName, Items: items}}, nil
	}

	byKitchen := make(map[string][]domain.CartItem, len(kitchens))
	var unassigned []domain.CartItem
	for _, item := range items {
		k, ok := match(item, kitchens)
		if !ok {
			unassigned = append(unassigned, item)
			continue
		}
		byKitchen[k.ID] = append(byKitchen[k.ID], item)
	}

	tickets := make([]domain.KOT, 0, len(byKitchen)+1)
	for _, k := range kitchens {
		lines, ok := byKitchen[k.ID]
		if !ok {
			continue
		}
		tickets = append(tickets, domain.KOT{KitchenRef: k.ID, KitchenName: k.Name, Items: lines})
		delete(byKitchen, k.ID)
	}
	if len(unassigned) > 0 {
		tickets = append(tickets, domain.KOT{KitchenName: UnassignedKitchenName, Unassigned: true, Items: unassigned})
	}
	return tickets, unassigned
}

// match prefers the explicit kitchen reference and falls back to category.
func match(item domain.CartItem, kitchens []domain.Kitchen) (domain.Kitchen, bool) {
	if item.KitchenRef != "" {
		for _, k := range kitchens {
			if k.ID == item.KitchenRef {
				return k, true
			}
		}
	}
	if item.Category == "" {
		return domain.Kitchen{}, false
	}
	for _, k := range kitchens {
		for _, c := range k.Categories {
			if strings.EqualFold(c, item.Category) {
				return k, true
			}
		}
	}
	return domain.Kitchen{}, false
}

// GroupByWindow groups sent lines by send time. Each group is anchored at
// its earliest timestamp; a line joins while it is within window of the
// anchor and otherwise starts the next group. Unsent lines are ignored.
func GroupByWindow(items []domain.CartItem, window time.Duration) [][]domain.CartItem {
	if window <= 0 {
		window = DefaultWindow
	}
	sent := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if item.SentToKotAt != nil {
			sent = append(sent, item)
		}
	}
	sort.SliceStable(sent, func(i, j int) bool {
		return sent[i].SentToKotAt.Before(*sent[j].SentToKotAt)
	})

	var groups [][]domain.CartItem
	var anchor time.Time
	for _, item := range sent {
		at := *item.SentToKotAt
		if len(groups) == 0 || at.Sub(anchor) > window {
			groups = append(groups, []domain.CartItem{item})
			anchor = at
			continue
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], item)
	}
	return groups
}
