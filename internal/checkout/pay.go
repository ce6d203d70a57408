package checkout

import (
	"context"
	"errors"
	"slices"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/pricing"
	"dinein/backend/internal/printing"
	"dinein/backend/internal/store"
	"dinein/backend/internal/xid"
)

const orderNumAttempts = 5

type Tender struct {
	Provider  string  `json:"provider"`
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference,omitempty"`
}

type PayResult struct {
	State       State         `json:"state"`
	Paid        float64       `json:"paid"`
	Total       float64       `json:"total"`
	Outstanding float64       `json:"outstanding"`
	Change      float64       `json:"change"`
	Order       *domain.Order `json:"order,omitempty"`
}

// PaymentEvent is the payment:partial payload.
type PaymentEvent struct {
	TableID     string  `json:"table_id"`
	OrderID     string  `json:"order_id"`
	Paid        float64 `json:"paid"`
	Total       float64 `json:"total"`
	Outstanding float64 `json:"outstanding"`
}

func totalsLocked(s *Session, items []domain.CartItem) domain.Payment {
	return pricing.Totals(items, s.discount, s.charges)
}

// Pay records one tender. Once the tenders cover the total the order is
// finalized in the same call.
func (s *Session) Pay(ctx context.Context, tender Tender) (PayResult, error) {
	if tender.Amount <= 0 {
		return PayResult{}, apperror.Validation("invalid_amount", "payment amount must be greater than zero",
			apperror.FieldError{Field: "amount", Message: "must be > 0"})
	}
	if !domain.ValidProvider(tender.Provider) {
		return PayResult{}, apperror.Validation("invalid_provider", "unknown payment provider",
			apperror.FieldError{Field: "provider", Message: tender.Provider})
	}
	if err := s.begin(); err != nil {
		return PayResult{}, err
	}
	defer s.end()

	items := s.cart.Items()
	if !hasBillable(items) {
		return PayResult{}, apperror.Validation("empty_cart", "cart has nothing to pay for")
	}

	s.mu.Lock()
	total := totalsLocked(s, items).Total
	paid := 0.0
	if s.draft != nil {
		paid = paidSum(s.draft.Payment.Breakup)
	}
	s.mu.Unlock()

	outstanding := pricing.Diff(total, paid)
	if outstanding <= 0 {
		return PayResult{}, apperror.Validation("already_paid", "order is already fully paid, finalize it instead")
	}

	amount := pricing.Round2(tender.Amount)
	change := 0.0
	if amount > outstanding {
		if tender.Provider != domain.ProviderCash {
			return PayResult{}, apperror.Validation("overpayment", "only cash may exceed the outstanding amount",
				apperror.FieldError{Field: "amount", Message: "exceeds outstanding balance"})
		}
		change = pricing.Diff(amount, outstanding)
	}

	breakup := domain.PaymentBreakup{
		ID:        xid.New("pay"),
		Provider:  tender.Provider,
		Total:     amount,
		Change:    change,
		Reference: tender.Reference,
		PaidAt:    s.m.deps.Now(),
	}
	draft, err := s.writeDraft(ctx, &breakup)
	if err != nil {
		return PayResult{}, err
	}

	s.mu.Lock()
	if tender.Provider == domain.ProviderWallet || tender.Provider == domain.ProviderCredit {
		s.balances[tender.Provider] = pricing.Sum(s.balances[tender.Provider], amount)
	}
	s.mu.Unlock()

	paid = paidSum(draft.Payment.Breakup)
	res := PayResult{Paid: paid, Total: draft.Payment.Total, Change: change}
	if paid < draft.Payment.Total {
		res.State = StatePaymentPartial
		res.Outstanding = pricing.Diff(draft.Payment.Total, paid)
		s.log.WithField("order_id", draft.ID).WithField("paid", paid).Info("partial payment recorded")
		s.m.deps.Bus.Emit(eventbus.EventPaymentPartial, PaymentEvent{
			TableID: s.tableID, OrderID: draft.ID, Paid: paid, Total: draft.Payment.Total, Outstanding: res.Outstanding,
		})
		return res, nil
	}

	order, err := s.finalize(ctx)
	if err != nil {
		res.State = StatePaymentComplete
		return res, err
	}
	res.State = StateClosed
	res.Order = order
	return res, nil
}

// Finalize completes a fully paid draft. Pay calls it on the closing tender;
// it is exported to retry a finalize whose local write failed.
func (s *Session) Finalize(ctx context.Context) (*domain.Order, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	items := s.cart.Items()
	s.mu.Lock()
	ready := s.draft != nil && len(s.draft.Payment.Breakup) > 0 &&
		paidSum(s.draft.Payment.Breakup) >= totalsLocked(s, items).Total
	s.mu.Unlock()
	if !ready {
		return nil, apperror.Validation("payment_incomplete", "tenders do not cover the order total")
	}
	return s.finalize(ctx)
}

func (s *Session) finalize(ctx context.Context) (*domain.Order, error) {
	repo := s.m.deps.Repo
	now := s.m.deps.Now()

	// Unsent lines are stamped on the order copy only; the cart is cleared
	// once the order is stored.
	items := s.cart.Items()
	kotID := xid.New("kot")
	stamped := stampUnsent(items, kotID, now)

	tokenNum := 0
	if s.m.opts.TokenNumbers {
		current, err := repo.GetCounter(ctx, store.CounterTicketToken)
		if err != nil {
			s.log.WithError(err).Warn("token counter unavailable")
		} else {
			tokenNum = current + 1
		}
	}

	s.mu.Lock()
	order := cloneOrder(*s.draft)
	payment := totalsLocked(s, items)
	payment.Breakup = order.Payment.Breakup
	payment.Methods = methodSet(order.Payment.Breakup)
	order.Items = items
	order.Payment = payment
	order.CustomerRef = s.customerRef
	order.SpecialInstructions = s.instructions
	order.DiscountSpec = nil
	if s.discount != nil {
		d := *s.discount
		order.DiscountSpec = &d
	}
	s.mu.Unlock()

	order.TokenNum = tokenNum
	order.OrderStatus = domain.OrderStatusCompleted
	order.UpdatedAt = now
	order.CompletedAt = &now

	saved, err := s.persistCompleted(ctx, order)
	if err != nil {
		s.log.WithError(err).WithField("order_id", order.ID).Error("order not persisted, finalize aborted")
		return nil, err
	}
	// The order is stored; a caller that goes away now must not skip the
	// kitchen, stock and sync steps that follow.
	ctx = context.WithoutCancel(ctx)
	log := s.log.WithField("order_id", saved.ID)
	leftover := s.route(ctx, kotID, stamped, now)

	if tokenNum > 0 {
		if err := repo.SetCounter(ctx, store.CounterTicketToken, tokenNum); err != nil {
			log.WithError(err).Warn("token counter not advanced")
		}
	}

	s.enqueue(ctx, domain.OutboxKindOrderUpsert, *saved)
	s.printCompleted(ctx, *saved, leftover.Tickets)
	s.announce(leftover)
	if s.m.deps.Stock != nil {
		s.m.deps.Stock.Reconcile(ctx, saved.ID, saved.Items)
	}

	if err := s.cart.Clear(ctx); err != nil {
		log.WithError(err).Warn("cart not cleared")
	}
	s.mu.Lock()
	s.draft = nil
	s.discount = nil
	s.charges = nil
	s.instructions = ""
	s.customerRef = ""
	clear(s.balances)
	s.closed = true
	s.mu.Unlock()

	s.setTable(ctx, domain.TableStatusFree, "")
	log.WithField("order_num", saved.OrderNum).Info("order completed")
	s.m.deps.Bus.Emit(eventbus.EventOrderCompleted, cloneOrder(*saved))
	return saved, nil
}

// persistCompleted assigns a fresh order number and writes the completed
// order, retrying when the number is already taken.
func (s *Session) persistCompleted(ctx context.Context, order domain.Order) (*domain.Order, error) {
	repo := s.m.deps.Repo
	var lastErr error
	for range orderNumAttempts {
		num := xid.Code(6)
		if _, err := repo.GetOrderByNum(ctx, num); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		order.OrderNum = num
		saved, err := repo.UpdateOrder(ctx, order)
		if errors.Is(err, store.ErrConflict) {
			lastErr = err
			continue
		}
		return saved, err
	}
	if lastErr == nil {
		lastErr = store.ErrConflict
	}
	return nil, lastErr
}

func (s *Session) printCompleted(ctx context.Context, order domain.Order, leftover []domain.KOT) {
	if s.m.deps.Printer == nil {
		return
	}
	jobs := make([]printing.Job, 0, len(leftover)+1)
	if s.m.opts.PrintReceipt {
		jobs = append(jobs, printing.ReceiptJob(order, s.template(ctx, domain.PrintKindReceipt), s.m.opts.OpenDrawer && slices.Contains(order.Payment.Methods, domain.ProviderCash)))
	}
	if s.m.opts.PrintKOT {
		tpl := s.template(ctx, domain.PrintKindKOT)
		for _, t := range leftover {
			t.OrderRef = order.ID
			jobs = append(jobs, printing.KOTJob(t, order.TokenNum, tpl))
		}
	}
	if len(jobs) > 0 {
		s.m.deps.Printer.Dispatch(ctx, jobs)
	}
}

func methodSet(breakup []domain.PaymentBreakup) []string {
	methods := make([]string, 0, len(breakup))
	for _, b := range breakup {
		methods = append(methods, b.Provider)
	}
	slices.Sort(methods)
	return slices.Compact(methods)
}

func hasBillable(items []domain.CartItem) bool {
	for _, item := range items {
		if item.Billable() {
			return true
		}
	}
	return false
}
