package stock

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/store/memory"
)

func day(d int) *time.Time {
	v := time.Date(2026, 5, d, 0, 0, 0, 0, time.UTC)
	return &v
}

func TestConsumeFEFONeverGoesNegative(t *testing.T) {
	batches := []domain.Batch{
		{ID: "late", Expiry: day(9), Available: 5, Status: domain.BatchStatusActive},
		{ID: "early", Expiry: day(2), Available: 3, Status: domain.BatchStatusActive},
	}

	changed, remainder := ConsumeFEFO(batches, 10)

	require.Len(t, changed, 2)
	assert.Equal(t, "early", changed[0].ID)
	assert.Equal(t, 0, changed[0].Available)
	assert.Equal(t, domain.BatchStatusDepleted, changed[0].Status)
	assert.Equal(t, "late", changed[1].ID)
	assert.Equal(t, 0, changed[1].Available)
	assert.Equal(t, 2, remainder)
	assert.Equal(t, 5, batches[0].Available, "input must not be mutated")
}

func TestConsumeFEFOPartialBatch(t *testing.T) {
	batches := []domain.Batch{
		{ID: "undated", Available: 9},
		{ID: "dated", Expiry: day(4), Available: 4},
	}

	changed, remainder := ConsumeFEFO(batches, 6)

	require.Len(t, changed, 2)
	assert.Equal(t, "dated", changed[0].ID)
	assert.Equal(t, 7, changed[1].Available)
	assert.Zero(t, remainder)
}

func newReconciler(t *testing.T) (*Reconciler, *memory.Store, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	st := memory.NewSeeded()
	return NewReconciler(st, eventbus.New(log), log), st, hook
}

func TestReconcileAggregatesByBaseSKU(t *testing.T) {
	r, st, _ := newReconciler(t)
	ctx := context.Background()

	report := r.Reconcile(ctx, "ord-1", []domain.CartItem{
		{LineID: "l1", SKU: "COLA", Qty: 2},
		{LineID: "l2", SKU: "COLA-6", Qty: 1},
		{LineID: "l3", SKU: "COLA-24", Qty: 1},
	})

	records := report.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "COLA", records[0].SKU)
	assert.Equal(t, 32, records[0].Delta)
	assert.Equal(t, 240, records[0].PreviousStockCount)
	assert.Equal(t, 208, records[0].StockCount)
	assert.Equal(t, domain.StockActionBilling, records[0].StockAction)

	history, err := st.ListStockRecords(ctx, "COLA", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReconcileSkipsVoidAndConsumesComp(t *testing.T) {
	r, _, _ := newReconciler(t)

	report := r.Reconcile(context.Background(), "ord-2", []domain.CartItem{
		{SKU: "A1", Qty: 5, Void: true},
		{SKU: "A1", Qty: 1, Comp: true},
	})

	records := report.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Delta)
}

func TestReconcileLookupMissSkipsOnlyThatLine(t *testing.T) {
	r, _, hook := newReconciler(t)

	report := r.Reconcile(context.Background(), "ord-3", []domain.CartItem{
		{LineID: "ghost", SKU: "NOPE", Qty: 1},
		{LineID: "real", SKU: "A1", Qty: 2},
		{LineID: "untracked", SKU: "A2", Qty: 1},
	})

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "NOPE", report.Skipped[0].SKU)
	require.Len(t, report.Records(), 1)
	assert.Equal(t, "A1", report.Records()[0].SKU)

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["sku"] == "NOPE" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestReconcileSkipsWeighedLines(t *testing.T) {
	r, _, _ := newReconciler(t)

	report := r.Reconcile(context.Background(), "ord-5", []domain.CartItem{
		{LineID: "scale", SKU: "A1", Qty: 1, Measure: 0.35},
		{LineID: "count", SKU: "A1", Qty: 2},
	})

	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "scale", report.Skipped[0].LineID)
	assert.Equal(t, "weighed line not stock-tracked", report.Skipped[0].Reason)
	require.Len(t, report.Records(), 1)
	assert.Equal(t, 2, report.Records()[0].Delta)
}

func TestReconcileConsumesBatchesWithRemainder(t *testing.T) {
	r, st, _ := newReconciler(t)
	ctx := context.Background()

	report := r.Reconcile(ctx, "ord-4", []domain.CartItem{{SKU: "MILK", Qty: 10}})

	require.Len(t, report.Results, 1)
	assert.Equal(t, 8, report.Results[0].Consumed)
	assert.Equal(t, 2, report.Results[0].Remainder)

	batches, err := st.ListBatches(ctx, "prd-milk", "MILK")
	require.NoError(t, err)
	for _, b := range batches {
		assert.Equal(t, 0, b.Available)
		assert.Equal(t, domain.BatchStatusDepleted, b.Status)
	}
}

func TestReconcileEmitsReport(t *testing.T) {
	log, _ := test.NewNullLogger()
	bus := eventbus.New(log)
	r := NewReconciler(memory.NewSeeded(), bus, log)
	var got *Report
	bus.AddListener(eventbus.EventStockReconciled, func(_ string, payload any) {
		rep := payload.(Report)
		got = &rep
	})

	r.Reconcile(context.Background(), "ord-5", []domain.CartItem{{SKU: "A1", Qty: 1}})

	require.NotNil(t, got)
	assert.Equal(t, "ord-5", got.OrderRef)
}
