package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/logger"
	"dinein/backend/internal/store"
)

type snapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]domain.CartSnapshot
	failSave  bool
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{snapshots: map[string]domain.CartSnapshot{}}
}

func (s *snapshotStore) GetCartSnapshot(_ context.Context, tableID string) (*domain.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[tableID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &snap, nil
}

func (s *snapshotStore) SaveCartSnapshot(_ context.Context, snapshot domain.CartSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	s.snapshots[snapshot.TableID] = snapshot
	return nil
}

func (s *snapshotStore) DeleteCartSnapshot(_ context.Context, tableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, tableID)
	return nil
}

func newCart(t *testing.T) (*Cart, *snapshotStore, *eventbus.Bus) {
	t.Helper()
	st := newSnapshotStore()
	bus := eventbus.New(logger.Discard())
	c, err := Load(context.Background(), "T1", st, bus, logger.Discard())
	require.NoError(t, err)
	return c, st, bus
}

func burger() domain.CartItem {
	return domain.CartItem{
		ProductID:     "prd-burger",
		SKU:           "A1",
		Name:          "Burger",
		Qty:           1,
		Price:         10,
		TaxPercentage: 15,
		Modifiers: []domain.Modifier{
			{ID: "cheese", Name: "Cheese", Price: 1},
			{ID: "bacon", Name: "Bacon", Price: 0.5},
		},
	}
}

func TestAddSameLineTwiceMerges(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()

	first, err := c.Add(ctx, burger(), nil)
	require.NoError(t, err)

	again := burger()
	again.Modifiers = []domain.Modifier{again.Modifiers[1], again.Modifiers[0]}
	second, err := c.Add(ctx, again, nil)
	require.NoError(t, err)

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, first.LineID, second.LineID)
	assert.Equal(t, 2, items[0].Qty)
	assert.Equal(t, 2*(items[0].SellingPrice+items[0].VatAmount), items[0].Total)
	assert.Equal(t, 23.0, items[0].Total)
}

func TestAddDoesNotMergeDifferentLines(t *testing.T) {
	tests := []struct {
		name   string
		change func(*domain.CartItem)
	}{
		{"different modifiers", func(i *domain.CartItem) { i.Modifiers = i.Modifiers[:1] }},
		{"already sent", func(i *domain.CartItem) { i.SentToKot = true }},
		{"weighed unit", func(i *domain.CartItem) { i.Unit = "kg"; i.Measure = 0.4 }},
		{"open price", func(i *domain.CartItem) { i.Kind = domain.VariantOpenPrice }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newCart(t)
			ctx := context.Background()
			_, err := c.Add(ctx, burger(), nil)
			require.NoError(t, err)

			other := burger()
			tt.change(&other)
			_, err = c.Add(ctx, other, nil)
			require.NoError(t, err)

			items := c.Items()
			require.Len(t, items, 2)
			assert.NotEqual(t, items[0].LineID, items[1].LineID)
		})
	}
}

func TestWeighedLinesNeverMergeWithEachOther(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	cheese := domain.CartItem{SKU: "CHEESE", Unit: "kg", Measure: 0.25, Qty: 1, Price: 40, TaxPercentage: 0}

	_, err := c.Add(ctx, cheese, nil)
	require.NoError(t, err)
	_, err = c.Add(ctx, cheese, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
}

func TestAddRejectsInvalidLines(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()

	noSKU := burger()
	noSKU.SKU = ""
	_, err := c.Add(ctx, noSKU, nil)
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	zero := burger()
	zero.Qty = 0
	_, err = c.Add(ctx, zero, nil)
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	assert.Equal(t, 0, c.Len())
}

func TestMutationCallsOnDoneAndEmits(t *testing.T) {
	c, _, bus := newCart(t)
	var emitted []Event
	bus.AddListener(eventbus.EventCartUpdated, func(_ string, payload any) {
		emitted = append(emitted, payload.(Event))
	})

	var seen []domain.CartItem
	_, err := c.Add(context.Background(), burger(), func(items []domain.CartItem) { seen = items })
	require.NoError(t, err)

	require.Len(t, seen, 1)
	require.Len(t, emitted, 1)
	assert.Equal(t, "T1", emitted[0].TableID)
	assert.Equal(t, seen[0].LineID, emitted[0].Items[0].LineID)
}

func TestVoidRoundTripRestoresTotal(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	line, err := c.Add(ctx, burger(), nil)
	require.NoError(t, err)
	before := line.Total

	require.NoError(t, c.Apply(ctx, line.LineID, func(i domain.CartItem) (domain.CartItem, error) {
		return ApplyVoid(i, "wrong table")
	}, nil))
	voided, _ := c.Item(line.LineID)
	assert.True(t, voided.Void)
	assert.Equal(t, 0.0, voided.Total)
	assert.Equal(t, before, voided.AmountBeforeVoidComp)
	assert.Equal(t, "wrong table", voided.VoidReason)

	require.NoError(t, c.Apply(ctx, line.LineID, RemoveVoid, nil))
	restored, _ := c.Item(line.LineID)
	assert.False(t, restored.Void)
	assert.Empty(t, restored.VoidReason)
	assert.Equal(t, before, restored.Total)
}

func TestVoidAndCompAreMutuallyExclusive(t *testing.T) {
	item := domain.CartItem{SKU: "A1", Qty: 3, Total: 34.5}

	comped, err := ApplyComp(item, "birthday")
	require.NoError(t, err)
	voided, err := ApplyVoid(comped, "kitchen error")
	require.NoError(t, err)

	assert.True(t, voided.Void)
	assert.False(t, voided.Comp)
	assert.Empty(t, voided.CompReason)
	assert.Equal(t, 34.5, voided.AmountBeforeVoidComp)

	restored, err := RemoveVoid(voided)
	require.NoError(t, err)
	assert.Equal(t, 34.5, restored.Total)
}

func TestApplyVoidRequiresReason(t *testing.T) {
	_, err := ApplyVoid(domain.CartItem{SKU: "A1", Total: 5}, "  ")
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	_, err = RemoveComp(domain.CartItem{SKU: "A1"})
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestUpdatePatchesInPlace(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	line, err := c.Add(ctx, burger(), nil)
	require.NoError(t, err)

	qty := 3
	note := "no onions"
	updated, err := c.Update(ctx, line.LineID, Patch{Qty: &qty, Note: &note}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, updated.Qty)
	assert.Equal(t, 34.5, updated.Total)
	assert.Equal(t, "no onions", updated.Note)

	bad := 0
	_, err = c.Update(ctx, line.LineID, Patch{Qty: &bad}, nil)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
	current, _ := c.Item(line.LineID)
	assert.Equal(t, 3, current.Qty)

	_, err = c.Update(ctx, "line-missing", Patch{Qty: &qty}, nil)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestBulkRemoveUsesFreshIndices(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	var ids []string
	for _, sku := range []string{"A", "B", "C", "D"} {
		item := burger()
		item.SKU = sku
		line, err := c.Add(ctx, item, nil)
		require.NoError(t, err)
		ids = append(ids, line.LineID)
	}

	require.NoError(t, c.BulkRemove(ctx, []string{ids[0], ids[2], ids[0]}, nil))

	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[0].SKU)
	assert.Equal(t, "D", items[1].SKU)

	err := c.BulkRemove(ctx, []string{ids[1], "line-missing"}, nil)
	assert.Error(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestRepeatCopiesForwardAsUnsent(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()
	line, err := c.Add(ctx, burger(), nil)
	require.NoError(t, err)

	sentAt := time.Now().UTC()
	require.NoError(t, c.Apply(ctx, line.LineID, func(i domain.CartItem) (domain.CartItem, error) {
		i.SentToKot = true
		i.SentToKotAt = &sentAt
		i.KotID = "kot-1"
		i.DiscountPercent = 50
		return ApplyComp(i, "regular")
	}, nil))

	repeated, err := c.Repeat(ctx, line.LineID, nil)
	require.NoError(t, err)

	assert.NotEqual(t, line.LineID, repeated.LineID)
	assert.False(t, repeated.SentToKot)
	assert.Nil(t, repeated.SentToKotAt)
	assert.False(t, repeated.Comp)
	assert.Zero(t, repeated.DiscountPercent)
	assert.Empty(t, repeated.KotID)
	assert.Equal(t, 11.5, repeated.Total)
	assert.Equal(t, 2, c.Len())

	original, _ := c.Item(line.LineID)
	assert.True(t, original.Comp)
}

func TestCartSurvivesReload(t *testing.T) {
	c, st, bus := newCart(t)
	ctx := context.Background()
	_, err := c.Add(ctx, burger(), nil)
	require.NoError(t, err)

	reloaded, err := Load(ctx, "T1", st, bus, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, c.Items(), reloaded.Items())

	require.NoError(t, reloaded.Clear(ctx))
	_, err = st.GetCartSnapshot(ctx, "T1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPersistFailureKeepsInMemoryLines(t *testing.T) {
	c, st, _ := newCart(t)
	st.failSave = true

	_, err := c.Add(context.Background(), burger(), nil)

	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestConcurrentAddsKeepQtyAccounting(t *testing.T) {
	c, _, _ := newCart(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Add(ctx, burger(), nil)
		}()
	}
	wg.Wait()

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 20, items[0].Qty)
}
