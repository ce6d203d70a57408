package checkout

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/cart"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/kot"
	"dinein/backend/internal/pricing"
)

type State string

const (
	StateIdle            State = "idle"
	StateItemsPending    State = "items_pending"
	StateSent            State = "sent"
	StatePaymentPartial  State = "payment_partial"
	StatePaymentComplete State = "payment_complete"
	StateClosed          State = "closed"
)

// Session is the checkout of one table. Send, Pay and Finalize are
// serialized by a busy flag; a second caller gets a conflict instead of
// waiting.
type Session struct {
	m       *Manager
	tableID string
	cart    *cart.Cart
	log     logrus.FieldLogger
	busy    atomic.Bool

	mu           sync.Mutex
	draft        *domain.Order
	discount     *domain.Discount
	charges      []domain.Charge
	instructions string
	customerRef  string
	balances     map[string]float64
	closed       bool
}

func (s *Session) TableID() string {
	return s.tableID
}

func (s *Session) Cart() *cart.Cart {
	return s.cart
}

func (s *Session) begin() error {
	if !s.busy.CompareAndSwap(false, true) {
		return apperror.Conflict("table_busy", "another payment is in progress for this table")
	}
	return nil
}

func (s *Session) end() {
	s.busy.Store(false)
}

// Busy reports whether a send or payment is in flight.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

func (s *Session) State() State {
	items := s.cart.Items()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft != nil && len(s.draft.Payment.Breakup) > 0 {
		total := pricing.Totals(items, s.discount, s.charges).Total
		if paidSum(s.draft.Payment.Breakup) >= total {
			return StatePaymentComplete
		}
		return StatePaymentPartial
	}
	if len(items) == 0 {
		if s.closed {
			return StateClosed
		}
		return StateIdle
	}
	for _, item := range items {
		if !item.SentToKot && !item.Void {
			return StateItemsPending
		}
	}
	return StateSent
}

func (s *Session) touch() {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
}

func (s *Session) Add(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	line, err := s.cart.Add(ctx, item, nil)
	if err == nil {
		s.touch()
	}
	return line, err
}

func (s *Session) Update(ctx context.Context, lineID string, patch cart.Patch) (domain.CartItem, error) {
	return s.cart.Update(ctx, lineID, patch, nil)
}

func (s *Session) BulkRemove(ctx context.Context, lineIDs []string) error {
	return s.cart.BulkRemove(ctx, lineIDs, nil)
}

func (s *Session) Repeat(ctx context.Context, lineID string) (domain.CartItem, error) {
	return s.cart.Repeat(ctx, lineID, nil)
}

func (s *Session) Void(ctx context.Context, lineID string, reason string) (domain.CartItem, error) {
	return s.applyLine(ctx, lineID, func(item domain.CartItem) (domain.CartItem, error) {
		return cart.ApplyVoid(item, reason)
	})
}

func (s *Session) RemoveVoid(ctx context.Context, lineID string) (domain.CartItem, error) {
	return s.applyLine(ctx, lineID, cart.RemoveVoid)
}

func (s *Session) Comp(ctx context.Context, lineID string, reason string) (domain.CartItem, error) {
	return s.applyLine(ctx, lineID, func(item domain.CartItem) (domain.CartItem, error) {
		return cart.ApplyComp(item, reason)
	})
}

func (s *Session) RemoveComp(ctx context.Context, lineID string) (domain.CartItem, error) {
	return s.applyLine(ctx, lineID, cart.RemoveComp)
}

func (s *Session) applyLine(ctx context.Context, lineID string, fn func(domain.CartItem) (domain.CartItem, error)) (domain.CartItem, error) {
	var out domain.CartItem
	err := s.cart.Apply(ctx, lineID, func(item domain.CartItem) (domain.CartItem, error) {
		next, err := fn(item)
		out = next
		return next, err
	}, nil)
	return out, err
}

func (s *Session) SetDiscount(d *domain.Discount) error {
	if d != nil {
		switch d.Kind {
		case domain.AmountKindFlat, domain.AmountKindPercentage:
		default:
			return apperror.Validation("invalid_discount", "discount kind must be flat or percentage",
				apperror.FieldError{Field: "kind", Message: d.Kind})
		}
		if d.Value < 0 || (d.Kind == domain.AmountKindPercentage && d.Value > 100) {
			return apperror.Validation("invalid_discount", "discount value is out of range",
				apperror.FieldError{Field: "value", Message: "must be between 0 and 100 for percentage, non-negative for flat"})
		}
		dup := *d
		d = &dup
	}
	s.mu.Lock()
	s.discount = d
	s.mu.Unlock()
	return nil
}

func (s *Session) SetCharges(charges []domain.Charge) error {
	for _, c := range charges {
		if c.Name == "" || c.Value < 0 || c.TaxPercentage < 0 {
			return apperror.Validation("invalid_charge", "charge needs a name and non-negative amounts",
				apperror.FieldError{Field: "charges", Message: c.Name})
		}
		if c.Kind != domain.AmountKindFlat && c.Kind != domain.AmountKindPercentage {
			return apperror.Validation("invalid_charge", "charge kind must be flat or percentage",
				apperror.FieldError{Field: "kind", Message: c.Kind})
		}
	}
	s.mu.Lock()
	s.charges = append([]domain.Charge(nil), charges...)
	s.mu.Unlock()
	return nil
}

func (s *Session) SetInstructions(text string) {
	s.mu.Lock()
	s.instructions = text
	s.mu.Unlock()
}

func (s *Session) SetCustomer(ref string) {
	s.mu.Lock()
	s.customerRef = ref
	s.mu.Unlock()
}

// Totals prices the current cart with the session discount and charges. The
// breakup is the draft's tenders so far.
func (s *Session) Totals() domain.Payment {
	items := s.cart.Items()
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pricing.Totals(items, s.discount, s.charges)
	if s.draft != nil {
		p.Breakup = append([]domain.PaymentBreakup(nil), s.draft.Payment.Breakup...)
	}
	return p
}

func (s *Session) TotalPaid() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return 0
	}
	return paidSum(s.draft.Payment.Breakup)
}

// Balance is the running amount tendered through provider (wallet, credit)
// since the last finalize.
func (s *Session) Balance(provider string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[provider]
}

func (s *Session) Draft() *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == nil {
		return nil
	}
	dup := cloneOrder(*s.draft)
	return &dup
}

// Tickets regroups every sent line into kitchen tickets by send time.
func (s *Session) Tickets() [][]domain.CartItem {
	return kot.GroupByWindow(s.cart.Items(), s.m.opts.KOTWindow)
}

func paidSum(breakup []domain.PaymentBreakup) float64 {
	values := make([]float64, 0, len(breakup))
	for _, b := range breakup {
		values = append(values, b.Total)
	}
	return pricing.Sum(values...)
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.CartItem(nil), o.Items...)
	for i := range o.Items {
		o.Items[i].Modifiers = append([]domain.Modifier(nil), o.Items[i].Modifiers...)
	}
	o.Payment.Charges = append([]domain.Charge(nil), o.Payment.Charges...)
	o.Payment.Breakup = append([]domain.PaymentBreakup(nil), o.Payment.Breakup...)
	o.Payment.Methods = append([]string(nil), o.Payment.Methods...)
	o.Refunds = append([]domain.Refund(nil), o.Refunds...)
	if o.DiscountSpec != nil {
		d := *o.DiscountSpec
		o.DiscountSpec = &d
	}
	return o
}
