// Package cart keeps the line items of one dine-in table. Every mutation is
// derived from the latest in-memory lines under the cart lock, persisted to
// the snapshot store, reported to the caller and announced on the event bus.
package cart

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/pricing"
	"dinein/backend/internal/store"
	"dinein/backend/internal/xid"
)

// Store persists one snapshot per table. store.Repository and
// cache.RedisCartStore both satisfy it.
type Store interface {
	GetCartSnapshot(ctx context.Context, tableID string) (*domain.CartSnapshot, error)
	SaveCartSnapshot(ctx context.Context, snapshot domain.CartSnapshot) error
	DeleteCartSnapshot(ctx context.Context, tableID string) error
}

// OnDone receives the lines as they are after a mutation.
type OnDone func(items []domain.CartItem)

// Event is the cart:updated payload.
type Event struct {
	TableID string            `json:"table_id"`
	Items   []domain.CartItem `json:"items"`
}

// Patch replaces the non-nil fields of one line.
type Patch struct {
	Qty             *int               `json:"qty,omitempty"`
	Measure         *float64           `json:"measure,omitempty"`
	Note            *string            `json:"note,omitempty"`
	Modifiers       *[]domain.Modifier `json:"modifiers,omitempty"`
	DiscountPercent *float64           `json:"discount_percent,omitempty"`
	Selected        *bool              `json:"selected,omitempty"`
}

type Cart struct {
	mu      sync.Mutex
	tableID string
	items   []domain.CartItem
	store   Store
	bus     *eventbus.Bus
	log     logrus.FieldLogger
	now     func() time.Time
}

// Load restores the persisted snapshot of tableID, or starts empty.
func Load(ctx context.Context, tableID string, st Store, bus *eventbus.Bus, log logrus.FieldLogger) (*Cart, error) {
	if tableID == "" {
		return nil, apperror.Validation("table_required", "table id is required")
	}
	c := &Cart{
		tableID: tableID,
		store:   st,
		bus:     bus,
		log:     log.WithField("table_id", tableID),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if st == nil {
		return c, nil
	}

	snapshot, err := st.GetCartSnapshot(ctx, tableID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		c.log.WithError(err).Warn("cart snapshot unavailable, starting empty")
	case snapshot != nil:
		c.items = cloneItems(snapshot.Items)
	}
	return c, nil
}

func (c *Cart) TableID() string {
	return c.tableID
}

func (c *Cart) Items() []domain.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items)
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Item returns the line with lineID.
func (c *Cart) Item(lineID string) (domain.CartItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := indexOf(c.items, lineID)
	if idx < 0 {
		return domain.CartItem{}, false
	}
	return cloneItems(c.items[idx : idx+1])[0], true
}

// Add merges item into an equal line or appends it with a new line id, and
// returns the resulting line.
func (c *Cart) Add(ctx context.Context, item domain.CartItem, onDone OnDone) (domain.CartItem, error) {
	if err := validateLine(item); err != nil {
		return domain.CartItem{}, err
	}
	if item.Kind == "" {
		item.Kind = domain.VariantItem
	}
	if item.Unit == "" {
		item.Unit = domain.UnitPerItem
	}

	var result domain.CartItem
	err := c.mutate(ctx, func(items []domain.CartItem) ([]domain.CartItem, error) {
		items, result = addLine(items, item)
		return items, nil
	}, onDone)
	return result, err
}

func addLine(items []domain.CartItem, item domain.CartItem) ([]domain.CartItem, domain.CartItem) {
	for i := range items {
		if Mergeable(items[i], item) {
			items[i].Qty += item.Qty
			items[i] = pricing.PriceLine(items[i])
			return items, items[i]
		}
	}
	item.LineID = xid.New("line")
	item.Modifiers = slices.Clone(item.Modifiers)
	item = pricing.PriceLine(item)
	return append(items, item), item
}

// Update replaces one line in place and re-prices it.
func (c *Cart) Update(ctx context.Context, lineID string, patch Patch, onDone OnDone) (domain.CartItem, error) {
	var result domain.CartItem
	err := c.Apply(ctx, lineID, func(item domain.CartItem) (domain.CartItem, error) {
		if patch.Qty != nil {
			item.Qty = *patch.Qty
		}
		if patch.Measure != nil {
			item.Measure = *patch.Measure
		}
		if patch.Note != nil {
			item.Note = *patch.Note
		}
		if patch.Modifiers != nil {
			item.Modifiers = slices.Clone(*patch.Modifiers)
		}
		if patch.DiscountPercent != nil {
			item.DiscountPercent = *patch.DiscountPercent
		}
		if patch.Selected != nil {
			item.Selected = *patch.Selected
		}
		if err := validateLine(item); err != nil {
			return item, err
		}
		result = pricing.PriceLine(item)
		return result, nil
	}, onDone)
	return result, err
}

// Apply runs fn on the current version of one line.
func (c *Cart) Apply(ctx context.Context, lineID string, fn func(domain.CartItem) (domain.CartItem, error), onDone OnDone) error {
	return c.mutate(ctx, func(items []domain.CartItem) ([]domain.CartItem, error) {
		idx := indexOf(items, lineID)
		if idx < 0 {
			return nil, unknownLine(lineID)
		}
		next, err := fn(items[idx])
		if err != nil {
			return nil, err
		}
		next.LineID = lineID
		items[idx] = next
		return items, nil
	}, onDone)
}

// BulkRemove drops every listed line. Unknown ids abort the whole call.
func (c *Cart) BulkRemove(ctx context.Context, lineIDs []string, onDone OnDone) error {
	return c.mutate(ctx, func(items []domain.CartItem) ([]domain.CartItem, error) {
		indices := make([]int, 0, len(lineIDs))
		for _, id := range lineIDs {
			idx := indexOf(items, id)
			if idx < 0 {
				return nil, unknownLine(id)
			}
			indices = append(indices, idx)
		}
		slices.Sort(indices)
		indices = slices.Compact(indices)
		for i := len(indices) - 1; i >= 0; i-- {
			items = slices.Delete(items, indices[i], indices[i]+1)
		}
		return items, nil
	}, onDone)
}

// Repeat adds a fresh unsent copy of lineID.
func (c *Cart) Repeat(ctx context.Context, lineID string, onDone OnDone) (domain.CartItem, error) {
	var result domain.CartItem
	err := c.mutate(ctx, func(items []domain.CartItem) ([]domain.CartItem, error) {
		idx := indexOf(items, lineID)
		if idx < 0 {
			return nil, unknownLine(lineID)
		}
		items, result = addLine(items, CopyForward(cloneItems(items[idx:idx+1])[0]))
		return items, nil
	}, onDone)
	return result, err
}

// Mutate hands the latest lines to fn under the cart lock and commits what
// it returns.
func (c *Cart) Mutate(ctx context.Context, fn func([]domain.CartItem) ([]domain.CartItem, error), onDone OnDone) error {
	return c.mutate(ctx, fn, onDone)
}

// Clear empties the cart and removes its snapshot.
func (c *Cart) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.items = nil
	if c.store != nil {
		if err := c.store.DeleteCartSnapshot(ctx, c.tableID); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.log.WithError(err).Warn("failed to delete cart snapshot")
		}
	}
	c.mu.Unlock()

	c.bus.Emit(eventbus.EventCartUpdated, Event{TableID: c.tableID, Items: []domain.CartItem{}})
	return nil
}

func (c *Cart) mutate(ctx context.Context, fn func([]domain.CartItem) ([]domain.CartItem, error), onDone OnDone) error {
	c.mu.Lock()
	next, err := fn(cloneItems(c.items))
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.items = next
	c.persist(ctx)
	snapshot := cloneItems(c.items)
	c.mu.Unlock()

	if onDone != nil {
		onDone(snapshot)
	}
	c.bus.Emit(eventbus.EventCartUpdated, Event{TableID: c.tableID, Items: cloneItems(snapshot)})
	return nil
}

// persist keeps the in-memory lines authoritative when the store is down.
func (c *Cart) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	err := c.store.SaveCartSnapshot(ctx, domain.CartSnapshot{
		TableID:   c.tableID,
		Items:     cloneItems(c.items),
		UpdatedAt: c.now(),
	})
	if err != nil {
		c.log.WithError(err).Warn("failed to persist cart snapshot")
	}
}

func indexOf(items []domain.CartItem, lineID string) int {
	for i := range items {
		if items[i].LineID == lineID {
			return i
		}
	}
	return -1
}

func unknownLine(lineID string) error {
	return apperror.Validation("unknown_line", "cart line not found",
		apperror.FieldError{Field: "line_id", Message: lineID})
}
