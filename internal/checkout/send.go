package checkout

import (
	"context"
	"fmt"
	"time"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/kot"
	"dinein/backend/internal/printing"
	"dinein/backend/internal/xid"
)

type SendResult struct {
	KOTID      string            `json:"kot_id"`
	Tickets    []domain.KOT      `json:"tickets"`
	Unassigned []domain.CartItem `json:"unassigned,omitempty"`
}

// UnassignedEvent is the kitchen:unassigned payload.
type UnassignedEvent struct {
	TableID string            `json:"table_id"`
	Items   []domain.CartItem `json:"items"`
}

// TableEvent is the table:updated payload.
type TableEvent struct {
	TableID  string `json:"table_id"`
	Status   string `json:"status"`
	OrderRef string `json:"order_ref,omitempty"`
}

// Send stamps every unsent line and routes it to the kitchens.
func (s *Session) Send(ctx context.Context) (SendResult, error) {
	if err := s.begin(); err != nil {
		return SendResult{}, err
	}
	defer s.end()

	res, err := s.sendPending(ctx, s.m.deps.Now())
	if err != nil {
		return res, err
	}
	if len(res.Tickets) == 0 {
		return res, apperror.Validation("nothing_to_send", "every line is already sent to the kitchen")
	}

	draft, err := s.saveDraft(ctx)
	if err != nil {
		s.log.WithError(err).Warn("draft order not persisted after send")
	} else {
		for i := range res.Tickets {
			res.Tickets[i].OrderRef = draft.ID
		}
		s.setTable(ctx, domain.TableStatusOccupied, draft.ID)
		s.enqueue(ctx, domain.OutboxKindOrderUpsert, *draft)
	}

	s.printTickets(ctx, res.Tickets, 0)
	s.announce(res)
	return res, nil
}

// sendPending marks unsent, non-void cart lines as sent under one kot id and
// builds their tickets. It does not print or announce.
func (s *Session) sendPending(ctx context.Context, now time.Time) (SendResult, error) {
	kotID := xid.New("kot")
	var stamped []domain.CartItem
	err := s.cart.Mutate(ctx, func(items []domain.CartItem) ([]domain.CartItem, error) {
		stamped = stampUnsent(items, kotID, now)
		return items, nil
	}, nil)
	if err != nil {
		return SendResult{}, err
	}
	return s.route(ctx, kotID, stamped, now), nil
}

// stampUnsent marks the unsent, non-void lines of items in place and returns
// copies of the lines it marked.
func stampUnsent(items []domain.CartItem, kotID string, now time.Time) []domain.CartItem {
	var stamped []domain.CartItem
	for i := range items {
		if items[i].SentToKot || items[i].Void {
			continue
		}
		at := now
		items[i].SentToKot = true
		items[i].SentToKotAt = &at
		items[i].KotID = kotID
		stamped = append(stamped, items[i])
	}
	return stamped
}

func (s *Session) route(ctx context.Context, kotID string, stamped []domain.CartItem, now time.Time) SendResult {
	if len(stamped) == 0 {
		return SendResult{}
	}

	var kitchens []domain.Kitchen
	if s.m.opts.KitchenRouting {
		var err error
		kitchens, err = s.m.deps.Repo.ListKitchens(ctx)
		if err != nil {
			s.log.WithError(err).Warn("kitchens unavailable, routing every line as unassigned")
		}
	}

	tickets, unassigned := kot.Route(stamped, kitchens, s.m.opts.KitchenRouting)
	orderRef := ""
	s.mu.Lock()
	if s.draft != nil {
		orderRef = s.draft.ID
	}
	s.mu.Unlock()
	for i := range tickets {
		tickets[i].ID = fmt.Sprintf("%s-%d", kotID, i+1)
		tickets[i].OrderRef = orderRef
		tickets[i].TableID = s.tableID
		tickets[i].SentAt = now
	}
	return SendResult{KOTID: kotID, Tickets: tickets, Unassigned: unassigned}
}

func (s *Session) announce(res SendResult) {
	for _, t := range res.Tickets {
		s.m.deps.Bus.Emit(eventbus.EventKOTSent, t)
	}
	if len(res.Unassigned) > 0 {
		skus := make([]string, 0, len(res.Unassigned))
		for _, item := range res.Unassigned {
			skus = append(skus, item.SKU)
		}
		s.log.WithField("skus", skus).Warn("items matched no kitchen")
		s.m.deps.Bus.Emit(eventbus.EventKitchenUnassigned, UnassignedEvent{TableID: s.tableID, Items: res.Unassigned})
	}
}

func (s *Session) printTickets(ctx context.Context, tickets []domain.KOT, tokenNum int) {
	if !s.m.opts.PrintKOT || s.m.deps.Printer == nil || len(tickets) == 0 {
		return
	}
	tpl := s.template(ctx, domain.PrintKindKOT)
	jobs := make([]printing.Job, 0, len(tickets))
	for _, t := range tickets {
		jobs = append(jobs, printing.KOTJob(t, tokenNum, tpl))
	}
	s.m.deps.Printer.Dispatch(ctx, jobs)
}

func (s *Session) template(ctx context.Context, kind string) domain.PrintTemplate {
	tpl, err := s.m.deps.Repo.GetPrintTemplate(ctx, kind)
	if err != nil {
		return domain.PrintTemplate{Kind: kind}
	}
	return *tpl
}

// saveDraft writes the cart and totals into the in-progress order, creating
// it on first use. The in-memory draft changes only when the write succeeds.
func (s *Session) saveDraft(ctx context.Context) (*domain.Order, error) {
	return s.writeDraft(ctx, nil)
}

func (s *Session) writeDraft(ctx context.Context, tender *domain.PaymentBreakup) (*domain.Order, error) {
	items := s.cart.Items()
	now := s.m.deps.Now()

	s.mu.Lock()
	var next domain.Order
	create := s.draft == nil
	if create {
		next = domain.Order{
			OrderType:   s.m.opts.OrderType,
			TableID:     s.tableID,
			OrderStatus: domain.OrderStatusInProgress,
			Source:      domain.OrderSourceLocal,
			Refunds:     []domain.Refund{},
			CreatedAt:   now,
		}
	} else {
		next = cloneOrder(*s.draft)
	}
	breakup := next.Payment.Breakup
	if tender != nil {
		breakup = append(breakup, *tender)
	}
	next.Items = items
	next.Payment = totalsLocked(s, items)
	next.Payment.Breakup = breakup
	next.DiscountSpec = nil
	if s.discount != nil {
		d := *s.discount
		next.DiscountSpec = &d
	}
	next.CustomerRef = s.customerRef
	next.SpecialInstructions = s.instructions
	next.UpdatedAt = now
	s.mu.Unlock()

	var saved *domain.Order
	var err error
	if create {
		saved, err = s.m.deps.Repo.CreateOrder(ctx, next)
	} else {
		saved, err = s.m.deps.Repo.UpdateOrder(ctx, next)
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	dup := cloneOrder(*saved)
	s.draft = &dup
	s.mu.Unlock()
	return saved, nil
}

func (s *Session) setTable(ctx context.Context, status string, orderRef string) {
	repo := s.m.deps.Repo
	table, err := repo.GetTable(ctx, s.tableID)
	if err != nil {
		return
	}
	table.Status = status
	table.OrderRef = orderRef
	table.UpdatedAt = s.m.deps.Now()
	if err := repo.SaveTable(ctx, *table); err != nil {
		s.log.WithError(err).Warn("table status not saved")
		return
	}
	s.m.deps.Bus.Emit(eventbus.EventTableUpdated, TableEvent{TableID: s.tableID, Status: status, OrderRef: orderRef})
}

func (s *Session) enqueue(ctx context.Context, kind string, order domain.Order) {
	if s.m.deps.Outbox == nil {
		return
	}
	if _, err := s.m.deps.Outbox.Enqueue(ctx, kind, order.ID, order); err != nil {
		s.log.WithError(err).WithField("order_id", order.ID).Warn("order not queued for sync")
	}
}
