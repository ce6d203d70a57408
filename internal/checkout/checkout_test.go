package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/outbox"
	"dinein/backend/internal/printing"
	"dinein/backend/internal/stock"
	"dinein/backend/internal/store"
	"dinein/backend/internal/store/memory"
)

type recordingPrinter struct {
	mu   sync.Mutex
	jobs []printing.Job
}

func (p *recordingPrinter) Dispatch(_ context.Context, jobs []printing.Job) printing.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, jobs...)
	return printing.Result{Printed: len(jobs)}
}

func (p *recordingPrinter) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.jobs))
	for _, j := range p.jobs {
		out = append(out, j.Kind)
	}
	return out
}

type fixture struct {
	repo    store.Repository
	mem     *memory.Store
	bus     *eventbus.Bus
	printer *recordingPrinter
	manager *Manager
	events  map[string][]any
	mu      sync.Mutex
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	mem := memory.NewSeeded()
	return newFixtureWithRepo(t, mem, mem, opts)
}

func newFixtureWithRepo(t *testing.T, repo store.Repository, mem *memory.Store, opts Options) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	bus := eventbus.New(log)
	f := &fixture{repo: repo, mem: mem, bus: bus, printer: &recordingPrinter{}, events: map[string][]any{}}
	for _, name := range []string{
		eventbus.EventKOTSent, eventbus.EventKitchenUnassigned, eventbus.EventPaymentPartial,
		eventbus.EventOrderCompleted, eventbus.EventStockReconciled, eventbus.EventTableUpdated,
	} {
		bus.AddListener(name, func(name string, payload any) {
			f.mu.Lock()
			f.events[name] = append(f.events[name], payload)
			f.mu.Unlock()
		})
	}
	f.manager = NewManager(Deps{
		Repo:    repo,
		Bus:     bus,
		Stock:   stock.NewReconciler(repo, bus, log),
		Outbox:  outbox.New(repo),
		Printer: f.printer,
		Log:     log,
	}, opts)
	return f
}

func (f *fixture) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events[name])
}

func (f *fixture) session(t *testing.T, table string) *Session {
	t.Helper()
	s, err := f.manager.Session(context.Background(), table)
	require.NoError(t, err)
	return s
}

func burger(qty int) domain.CartItem {
	return domain.CartItem{
		ProductID: "prd-burger", SKU: "A1", Name: "Beef Burger", Category: "mains", KitchenRef: "kit-grill",
		Qty: qty, Price: 11.5, TaxPercentage: 15,
	}
}

func TestEndToEndCashCheckout(t *testing.T) {
	f := newFixture(t, Options{KitchenRouting: true, PrintReceipt: true, PrintKOT: true})
	ctx := context.Background()
	s := f.session(t, "T1")

	line, err := s.Add(ctx, burger(2))
	require.NoError(t, err)
	assert.Equal(t, 10.0, line.SellingPrice)
	assert.Equal(t, 1.5, line.VatAmount)
	assert.Equal(t, StateItemsPending, s.State())

	sent, err := s.Send(ctx)
	require.NoError(t, err)
	require.Len(t, sent.Tickets, 1)
	assert.Equal(t, "kit-grill", sent.Tickets[0].KitchenRef)
	assert.Equal(t, StateSent, s.State())

	res, err := s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 23})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, res.State)
	require.NotNil(t, res.Order)

	order := res.Order
	assert.Equal(t, 23.0, order.Payment.Total)
	require.Len(t, order.Payment.Breakup, 1)
	assert.Equal(t, domain.ProviderCash, order.Payment.Breakup[0].Provider)
	assert.Equal(t, 23.0, order.Payment.Breakup[0].Total)
	assert.Zero(t, order.Payment.Breakup[0].Change)
	assert.Equal(t, []string{domain.ProviderCash}, order.Payment.Methods)
	assert.Equal(t, domain.OrderStatusCompleted, order.OrderStatus)
	assert.Len(t, order.OrderNum, 6)

	records, err := f.repo.ListStockRecords(ctx, "A1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].Delta)
	assert.Equal(t, 98, records[0].StockCount)
	assert.Equal(t, order.ID, records[0].OrderRef)

	assert.Zero(t, s.Cart().Len())
	assert.Equal(t, StateClosed, s.State())
	assert.Nil(t, s.Draft())

	stored, err := f.repo.GetOrderByNum(ctx, order.OrderNum)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)

	table, err := f.repo.GetTable(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TableStatusFree, table.Status)

	queued, err := f.repo.ListOutbox(ctx, domain.OutboxStatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, queued, 2, "one upsert on send, one on completion")

	assert.Equal(t, []string{domain.PrintKindKOT, domain.PrintKindReceipt}, f.printer.kinds())
	assert.Equal(t, 1, f.count(eventbus.EventOrderCompleted))
	assert.Equal(t, 1, f.count(eventbus.EventStockReconciled))
	assert.Equal(t, 1, f.count(eventbus.EventKOTSent))
}

func TestPartialPaymentsReachCompleteOnlyWhenCovered(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T2")

	_, err := s.Add(ctx, domain.CartItem{SKU: "SET-MENU", Name: "Set Menu", Qty: 1, Price: 100})
	require.NoError(t, err)
	assert.Equal(t, 100.0, s.Totals().Total)

	res, err := s.Pay(ctx, Tender{Provider: domain.ProviderCard, Amount: 40})
	require.NoError(t, err)
	assert.Equal(t, StatePaymentPartial, res.State)
	assert.Equal(t, 40.0, s.TotalPaid())
	assert.Equal(t, 60.0, res.Outstanding)
	assert.Equal(t, StatePaymentPartial, s.State())
	assert.Equal(t, 1, f.count(eventbus.EventPaymentPartial))

	draft := s.Draft()
	require.NotNil(t, draft)
	assert.Equal(t, domain.OrderStatusInProgress, draft.OrderStatus)

	res, err = s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 60})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, res.State)
	require.NotNil(t, res.Order)
	assert.Equal(t, draft.ID, res.Order.ID)
	assert.Len(t, res.Order.Payment.Breakup, 2)
	assert.Equal(t, []string{domain.ProviderCard, domain.ProviderCash}, res.Order.Payment.Methods)
	assert.Equal(t, 0.0, s.TotalPaid())
}

func TestPayValidation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T3")

	_, err := s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 10})
	assert.True(t, apperror.Is(err, apperror.KindValidation), "empty cart")

	_, err = s.Add(ctx, burger(2))
	require.NoError(t, err)

	tests := []struct {
		name   string
		tender Tender
		code   string
	}{
		{"zero amount", Tender{Provider: domain.ProviderCash, Amount: 0}, "invalid_amount"},
		{"negative amount", Tender{Provider: domain.ProviderCash, Amount: -5}, "invalid_amount"},
		{"unknown provider", Tender{Provider: "bitcoin", Amount: 5}, "invalid_provider"},
		{"card over balance", Tender{Provider: domain.ProviderCard, Amount: 30}, "overpayment"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Pay(ctx, tt.tender)
			var appErr *apperror.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
	assert.Nil(t, s.Draft(), "validation failures leave no draft")
	assert.Equal(t, StateItemsPending, s.State())
}

func TestCashChange(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T4")
	_, err := s.Add(ctx, burger(2))
	require.NoError(t, err)

	res, err := s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 50})
	require.NoError(t, err)
	assert.Equal(t, 27.0, res.Change)
	require.NotNil(t, res.Order)
	assert.Equal(t, 50.0, res.Order.Payment.Breakup[0].Total)
	assert.Equal(t, 27.0, res.Order.Payment.Breakup[0].Change)
}

func TestConcurrentPayIsRejected(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T5")
	_, err := s.Add(ctx, burger(1))
	require.NoError(t, err)

	s.busy.Store(true)
	_, err = s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 5})
	assert.True(t, apperror.Is(err, apperror.KindConflict))
	_, err = s.Send(ctx)
	assert.True(t, apperror.Is(err, apperror.KindConflict))
	s.busy.Store(false)

	_, err = s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 5})
	require.NoError(t, err)
	assert.False(t, s.Busy())
}

func TestSendRoutesUnassignedAndStampsOnce(t *testing.T) {
	f := newFixture(t, Options{KitchenRouting: true, PrintKOT: true})
	ctx := context.Background()
	s := f.session(t, "T1")

	_, err := s.Add(ctx, burger(1))
	require.NoError(t, err)
	_, err = s.Add(ctx, domain.CartItem{SKU: "COLA", Name: "Cola", Category: "drinks", Qty: 2, Price: 2.3, TaxPercentage: 15})
	require.NoError(t, err)
	_, err = s.Add(ctx, domain.CartItem{SKU: "CAKE", Name: "Cake", Category: "desserts", Qty: 1, Price: 6})
	require.NoError(t, err)

	res, err := s.Send(ctx)
	require.NoError(t, err)
	require.Len(t, res.Tickets, 3)
	last := res.Tickets[len(res.Tickets)-1]
	assert.True(t, last.Unassigned)
	require.Len(t, res.Unassigned, 1)
	assert.Equal(t, "CAKE", res.Unassigned[0].SKU)
	assert.Equal(t, 1, f.count(eventbus.EventKitchenUnassigned))
	assert.Equal(t, 3, f.count(eventbus.EventKOTSent))

	draft := s.Draft()
	require.NotNil(t, draft)
	for _, ticket := range res.Tickets {
		assert.Equal(t, draft.ID, ticket.OrderRef)
		assert.Equal(t, "T1", ticket.TableID)
	}
	for _, item := range s.Cart().Items() {
		assert.True(t, item.SentToKot)
		assert.Equal(t, res.KOTID, item.KotID)
		require.NotNil(t, item.SentToKotAt)
	}

	table, err := f.repo.GetTable(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.TableStatusOccupied, table.Status)
	assert.Equal(t, draft.ID, table.OrderRef)

	_, err = s.Send(ctx)
	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "nothing_to_send", appErr.Code)
}

func TestSendWithoutRoutingMakesOneTicket(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T2")
	_, err := s.Add(ctx, burger(1))
	require.NoError(t, err)
	_, err = s.Add(ctx, domain.CartItem{SKU: "CAKE", Name: "Cake", Qty: 1, Price: 6})
	require.NoError(t, err)

	res, err := s.Send(ctx)
	require.NoError(t, err)
	require.Len(t, res.Tickets, 1)
	assert.Len(t, res.Tickets[0].Items, 2)
	assert.Empty(t, res.Unassigned)
}

func TestVoidedLinesAreNotSentOrBilled(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T3")

	keep, err := s.Add(ctx, burger(1))
	require.NoError(t, err)
	drop, err := s.Add(ctx, domain.CartItem{SKU: "CAKE", Name: "Cake", Qty: 1, Price: 6})
	require.NoError(t, err)

	_, err = s.Void(ctx, drop.LineID, "")
	assert.True(t, apperror.Is(err, apperror.KindValidation), "reason required")

	voided, err := s.Void(ctx, drop.LineID, "guest changed mind")
	require.NoError(t, err)
	assert.Zero(t, voided.Total)
	assert.Equal(t, 6.0, voided.AmountBeforeVoidComp)

	comped, err := s.Comp(ctx, keep.LineID, "birthday")
	require.NoError(t, err)
	assert.True(t, comped.Comp)
	restored, err := s.RemoveComp(ctx, keep.LineID)
	require.NoError(t, err)
	assert.Equal(t, 11.5, restored.Total)

	res, err := s.Send(ctx)
	require.NoError(t, err)
	require.Len(t, res.Tickets, 1)
	require.Len(t, res.Tickets[0].Items, 1)
	assert.Equal(t, "A1", res.Tickets[0].Items[0].SKU)
	assert.Equal(t, 11.5, s.Totals().Total)
}

func TestTokenNumbersAdvanceAfterPersist(t *testing.T) {
	f := newFixture(t, Options{TokenNumbers: true})
	ctx := context.Background()

	for i, table := range []string{"T1", "T2"} {
		s := f.session(t, table)
		_, err := s.Add(ctx, burger(1))
		require.NoError(t, err)
		res, err := s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 11.5})
		require.NoError(t, err)
		require.NotNil(t, res.Order)
		assert.Equal(t, i+1, res.Order.TokenNum)
	}

	v, err := f.repo.GetCounter(ctx, store.CounterTicketToken)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

type failingOrders struct {
	*memory.Store
	failUpdate bool
}

func (f *failingOrders) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if f.failUpdate && order.OrderStatus == domain.OrderStatusCompleted {
		return nil, errors.New("disk full")
	}
	return f.Store.UpdateOrder(ctx, order)
}

func TestFinalizePersistFailureHasNoSideEffects(t *testing.T) {
	mem := memory.NewSeeded()
	repo := &failingOrders{Store: mem, failUpdate: true}
	f := newFixtureWithRepo(t, repo, mem, Options{TokenNumbers: true, PrintReceipt: true})
	ctx := context.Background()
	s := f.session(t, "T1")

	_, err := s.Add(ctx, burger(2))
	require.NoError(t, err)
	_, err = s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 10})
	require.NoError(t, err)

	res, err := s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 13})
	require.Error(t, err)
	assert.Equal(t, StatePaymentComplete, res.State)
	assert.Equal(t, StatePaymentComplete, s.State())
	assert.Equal(t, 1, s.Cart().Len())

	records, err := mem.ListStockRecords(ctx, "A1", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	v, err := mem.GetCounter(ctx, store.CounterTicketToken)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Empty(t, f.printer.kinds())
	assert.Zero(t, f.count(eventbus.EventOrderCompleted))

	_, err = s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 1})
	assert.True(t, apperror.Is(err, apperror.KindValidation), "already paid")

	repo.failUpdate = false
	order, err := s.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 23.0, order.Payment.Total)
	assert.Equal(t, 1, order.TokenNum)
	assert.Zero(t, s.Cart().Len())
}

// cancelOnCommit cancels the caller's context as soon as the completed order
// is written, and refuses later writes made under a cancelled context.
type cancelOnCommit struct {
	*memory.Store
	cancel context.CancelFunc
}

func (c *cancelOnCommit) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	saved, err := c.Store.UpdateOrder(ctx, order)
	if err == nil && order.OrderStatus == domain.OrderStatusCompleted {
		c.cancel()
	}
	return saved, err
}

func (c *cancelOnCommit) AdjustStock(ctx context.Context, productID string, baseSKU string, delta int) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return c.Store.AdjustStock(ctx, productID, baseSKU, delta)
}

func (c *cancelOnCommit) AppendStockRecord(ctx context.Context, record domain.StockRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.AppendStockRecord(ctx, record)
}

func (c *cancelOnCommit) EnqueueOutbox(ctx context.Context, entry domain.OutboxEntry) (*domain.OutboxEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Store.EnqueueOutbox(ctx, entry)
}

func (c *cancelOnCommit) DeleteCartSnapshot(ctx context.Context, tableID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.DeleteCartSnapshot(ctx, tableID)
}

func (c *cancelOnCommit) SaveTable(ctx context.Context, table domain.SectionTable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.SaveTable(ctx, table)
}

func (c *cancelOnCommit) SetCounter(ctx context.Context, name string, value int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.SetCounter(ctx, name, value)
}

func TestFinalizeFinishesAfterCallerCancels(t *testing.T) {
	mem := memory.NewSeeded()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo := &cancelOnCommit{Store: mem, cancel: cancel}
	f := newFixtureWithRepo(t, repo, mem, Options{TokenNumbers: true, PrintReceipt: true})
	s := f.session(t, "T2")

	_, err := s.Add(ctx, burger(2))
	require.NoError(t, err)
	res, err := s.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 23})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, res.State)
	require.NotNil(t, res.Order)
	require.Error(t, ctx.Err(), "context is cancelled once the order is stored")

	bg := context.Background()
	records, err := mem.ListStockRecords(bg, "A1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, res.Order.ID, records[0].OrderRef)

	queued, err := mem.ListOutbox(bg, domain.OutboxStatusPending, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, queued)

	v, err := mem.GetCounter(bg, store.CounterTicketToken)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = mem.GetCartSnapshot(bg, "T2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, s.Cart().Len())

	table, err := mem.GetTable(bg, "T2")
	require.NoError(t, err)
	assert.Equal(t, domain.TableStatusFree, table.Status)
	assert.Equal(t, []string{domain.PrintKindReceipt}, f.printer.kinds())
	assert.Equal(t, 1, f.count(eventbus.EventOrderCompleted))
}

func TestFinalizeRequiresFullPayment(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T6")
	_, err := s.Add(ctx, burger(1))
	require.NoError(t, err)

	_, err = s.Finalize(ctx)
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestManagerResumesDraftAndCart(t *testing.T) {
	mem := memory.NewSeeded()
	ctx := context.Background()

	first := newFixtureWithRepo(t, mem, mem, Options{})
	s := first.session(t, "T4")
	_, err := s.Add(ctx, burger(2))
	require.NoError(t, err)
	s.SetInstructions("no onions")
	_, err = s.Pay(ctx, Tender{Provider: domain.ProviderWallet, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, 10.0, s.Balance(domain.ProviderWallet))

	restarted := newFixtureWithRepo(t, mem, mem, Options{})
	resumed := restarted.session(t, "T4")
	assert.Equal(t, 1, resumed.Cart().Len())
	assert.Equal(t, 10.0, resumed.TotalPaid())
	assert.Equal(t, StatePaymentPartial, resumed.State())
	require.NotNil(t, resumed.Draft())
	assert.Equal(t, "no onions", resumed.Draft().SpecialInstructions)

	res, err := resumed.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: 13})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, s.Draft().ID, res.Order.ID)
}

func TestManagerResumesDraftWithDiscount(t *testing.T) {
	mem := memory.NewSeeded()
	ctx := context.Background()

	first := newFixtureWithRepo(t, mem, mem, Options{})
	s := first.session(t, "T6")
	_, err := s.Add(ctx, burger(2))
	require.NoError(t, err)
	require.NoError(t, s.SetDiscount(&domain.Discount{Kind: domain.AmountKindPercentage, Value: 50}))
	before := s.Totals().Total
	require.Less(t, before, 23.0)
	_, err = s.Pay(ctx, Tender{Provider: domain.ProviderCard, Amount: 5})
	require.NoError(t, err)

	restarted := newFixtureWithRepo(t, mem, mem, Options{})
	resumed := restarted.session(t, "T6")
	assert.Equal(t, before, resumed.Totals().Total)
	assert.Equal(t, 5.0, resumed.TotalPaid())
	assert.Equal(t, StatePaymentPartial, resumed.State())
	require.NotNil(t, resumed.Draft().DiscountSpec)
	assert.Equal(t, 50.0, resumed.Draft().DiscountSpec.Value)

	res, err := resumed.Pay(ctx, Tender{Provider: domain.ProviderCash, Amount: before - 5})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, res.State)
	assert.Equal(t, before, res.Order.Payment.Total)
}

func TestDiscountAndCharges(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T5")
	_, err := s.Add(ctx, burger(2))
	require.NoError(t, err)

	assert.Error(t, s.SetDiscount(&domain.Discount{Kind: domain.AmountKindPercentage, Value: 120}))
	assert.Error(t, s.SetDiscount(&domain.Discount{Kind: "bogus", Value: 1}))
	require.NoError(t, s.SetDiscount(&domain.Discount{Kind: domain.AmountKindPercentage, Value: 10}))
	require.NoError(t, s.SetCharges([]domain.Charge{{Name: "Service", Kind: domain.AmountKindPercentage, Value: 10}}))
	assert.Error(t, s.SetCharges([]domain.Charge{{Kind: domain.AmountKindFlat, Value: 1}}))

	p := s.Totals()
	assert.Equal(t, 20.0, p.SubTotal)
	assert.Equal(t, 2.0, p.Discount)
	assert.Equal(t, 2.7, p.Vat)
	require.Len(t, p.Charges, 1)
	assert.Equal(t, 1.8, p.Charges[0].Total)
	assert.Equal(t, 22.5, p.Total)
}

func TestTicketsGroupBySendTime(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T6")

	clock := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	f.manager.deps.Now = func() time.Time { return clock }

	_, err := s.Add(ctx, burger(1))
	require.NoError(t, err)
	_, err = s.Send(ctx)
	require.NoError(t, err)

	clock = clock.Add(30 * time.Second)
	_, err = s.Add(ctx, domain.CartItem{SKU: "CAKE", Name: "Cake", Qty: 1, Price: 6})
	require.NoError(t, err)
	_, err = s.Send(ctx)
	require.NoError(t, err)

	clock = clock.Add(31 * time.Second)
	_, err = s.Add(ctx, domain.CartItem{SKU: "TEA", Name: "Tea", Qty: 1, Price: 2})
	require.NoError(t, err)
	_, err = s.Send(ctx)
	require.NoError(t, err)

	groups := s.Tickets()
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)
	assert.Equal(t, "TEA", groups[1][0].SKU)
}

func TestRepeatAddsUnsentCopy(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.session(t, "T1")

	line, err := s.Add(ctx, burger(1))
	require.NoError(t, err)
	_, err = s.Send(ctx)
	require.NoError(t, err)

	again, err := s.Repeat(ctx, line.LineID)
	require.NoError(t, err)
	assert.NotEqual(t, line.LineID, again.LineID)
	assert.False(t, again.SentToKot)
	assert.Equal(t, StateItemsPending, s.State())
}
