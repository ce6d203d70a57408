// Package stock decrements product stock for a finalized order.
package stock

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/store"
	"dinein/backend/internal/xid"
)

type Store interface {
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	AdjustStock(ctx context.Context, productID string, baseSKU string, delta int) (int, int, error)
	AppendStockRecord(ctx context.Context, record domain.StockRecord) error
	ListBatches(ctx context.Context, productID string, sku string) ([]domain.Batch, error)
	UpdateBatch(ctx context.Context, batch domain.Batch) error
}

// Skip explains why a line was left out of reconciliation.
type Skip struct {
	LineID string `json:"line_id"`
	SKU    string `json:"sku"`
	Reason string `json:"reason"`
}

// Result is the outcome for one (product, base sku) aggregate.
type Result struct {
	ProductID string              `json:"product_id"`
	SKU       string              `json:"sku"`
	Qty       int                 `json:"qty"`
	Record    *domain.StockRecord `json:"record,omitempty"`
	Consumed  int                 `json:"consumed"`
	Remainder int                 `json:"remainder"`
	Error     string              `json:"error,omitempty"`
}

type Report struct {
	OrderRef string   `json:"order_ref"`
	Results  []Result `json:"results"`
	Skipped  []Skip   `json:"skipped,omitempty"`
}

// Records returns every stock record appended for the order.
func (r Report) Records() []domain.StockRecord {
	out := make([]domain.StockRecord, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Record != nil {
			out = append(out, *res.Record)
		}
	}
	return out
}

type Reconciler struct {
	store Store
	bus   *eventbus.Bus
	log   logrus.FieldLogger
	limit int
	now   func() time.Time
}

func NewReconciler(st Store, bus *eventbus.Bus, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		store: st,
		bus:   bus,
		log:   log,
		limit: 4,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type aggregate struct {
	product domain.Product
	baseSKU string
	qty     int
}

// Reconcile never fails as a whole: lookup misses are skipped and per
// aggregate failures are logged and reported.
func (r *Reconciler) Reconcile(ctx context.Context, orderRef string, items []domain.CartItem) Report {
	report := Report{OrderRef: orderRef}
	log := r.log.WithField("order_id", orderRef)

	aggregates := make([]*aggregate, 0, len(items))
	byKey := map[string]*aggregate{}
	for _, item := range items {
		if item.Void {
			continue
		}
		agg, key, skip := r.resolve(ctx, item)
		if skip != nil {
			log.WithField("sku", item.SKU).Warn("stock skipped: " + skip.Reason)
			report.Skipped = append(report.Skipped, *skip)
			continue
		}
		if agg == nil {
			continue
		}
		if existing, ok := byKey[key]; ok {
			existing.qty += agg.qty
			continue
		}
		byKey[key] = agg
		aggregates = append(aggregates, agg)
	}

	results := make([]Result, len(aggregates))
	var g errgroup.Group
	g.SetLimit(r.limit)
	for i, agg := range aggregates {
		g.Go(func() error {
			results[i] = r.apply(ctx, orderRef, *agg, log)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	r.bus.Emit(eventbus.EventStockReconciled, report)
	return report
}

// resolve returns a nil aggregate without a skip for lines that are simply
// not tracked.
func (r *Reconciler) resolve(ctx context.Context, item domain.CartItem) (*aggregate, string, *Skip) {
	product, err := r.store.GetProductBySKU(ctx, item.SKU)
	if err != nil {
		reason := "product lookup failed"
		if errors.Is(err, store.ErrNotFound) {
			reason = "product not found"
		}
		return nil, "", &Skip{LineID: item.LineID, SKU: item.SKU, Reason: reason}
	}
	variant, ok := product.Variant(item.SKU)
	if !ok {
		return nil, "", &Skip{LineID: item.LineID, SKU: item.SKU, Reason: "variant not found"}
	}
	if !variant.Stock.Tracking {
		return nil, "", nil
	}
	// Counts are whole units; a weighed quantity has no unit count to take.
	if item.Measure > 0 {
		return nil, "", &Skip{LineID: item.LineID, SKU: item.SKU, Reason: "weighed line not stock-tracked"}
	}
	baseSKU, units, err := product.BaseUnits(item.SKU)
	if err != nil {
		return nil, "", &Skip{LineID: item.LineID, SKU: item.SKU, Reason: err.Error()}
	}
	return &aggregate{product: *product, baseSKU: baseSKU, qty: item.Qty * units}, product.ID + "|" + baseSKU, nil
}

func (r *Reconciler) apply(ctx context.Context, orderRef string, agg aggregate, log logrus.FieldLogger) Result {
	res := Result{ProductID: agg.product.ID, SKU: agg.baseSKU, Qty: agg.qty}
	log = log.WithFields(logrus.Fields{"product_id": agg.product.ID, "sku": agg.baseSKU})

	prev, next, err := r.store.AdjustStock(ctx, agg.product.ID, agg.baseSKU, -agg.qty)
	if err != nil {
		log.WithError(err).Warn("stock adjust failed")
		res.Error = err.Error()
		return res
	}
	if next < 0 {
		log.WithField("stock_count", next).Warn("stock oversold")
	}

	record := domain.StockRecord{
		ID:                 xid.New("stk"),
		ProductID:          agg.product.ID,
		SKU:                agg.baseSKU,
		PreviousStockCount: prev,
		Delta:              agg.qty,
		StockCount:         next,
		StockAction:        domain.StockActionBilling,
		OrderRef:           orderRef,
		CreatedAt:          r.now(),
	}
	if err := r.store.AppendStockRecord(ctx, record); err != nil {
		log.WithError(err).Warn("stock record append failed")
		res.Error = err.Error()
	} else {
		res.Record = &record
	}

	if !agg.product.BatchingEnabled {
		return res
	}
	batches, err := r.store.ListBatches(ctx, agg.product.ID, agg.baseSKU)
	if err != nil {
		log.WithError(err).Warn("batch lookup failed")
		res.Error = err.Error()
		res.Remainder = agg.qty
		return res
	}
	changed, remainder := ConsumeFEFO(batches, agg.qty)
	for _, b := range changed {
		if err := r.store.UpdateBatch(ctx, b); err != nil {
			log.WithError(err).WithField("batch_id", b.ID).Warn("batch update failed")
			res.Error = err.Error()
		}
	}
	res.Consumed = agg.qty - remainder
	res.Remainder = remainder
	if remainder > 0 {
		log.WithField("remainder", remainder).Warn("batches exhausted before billing quantity")
	}
	return res
}

// ConsumeFEFO deducts qty from batches in first-expiry order and returns the
// batches it touched plus the quantity it could not place. No batch goes
// below zero.
func ConsumeFEFO(batches []domain.Batch, qty int) ([]domain.Batch, int) {
	ordered := make([]domain.Batch, len(batches))
	copy(ordered, batches)
	domain.SortFEFO(ordered)

	var changed []domain.Batch
	remaining := qty
	for _, b := range ordered {
		if remaining <= 0 {
			break
		}
		if b.Available <= 0 || b.Status == domain.BatchStatusDepleted {
			continue
		}
		take := min(b.Available, remaining)
		b.Available -= take
		remaining -= take
		if b.Available == 0 {
			b.Status = domain.BatchStatusDepleted
		}
		changed = append(changed, b)
	}
	return changed, max(remaining, 0)
}
