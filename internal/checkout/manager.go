// Package checkout drives a dine-in table from its first cart line to a
// closed, paid order.
package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dinein/backend/internal/cart"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/kot"
	"dinein/backend/internal/printing"
	"dinein/backend/internal/stock"
	"dinein/backend/internal/store"
)

const OrderTypeDineIn = "dine-in"

type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, aggregateID string, payload any) (*domain.OutboxEntry, error)
}

type Printer interface {
	Dispatch(ctx context.Context, jobs []printing.Job) printing.Result
}

type StockReconciler interface {
	Reconcile(ctx context.Context, orderRef string, items []domain.CartItem) stock.Report
}

type Options struct {
	KitchenRouting bool
	TokenNumbers   bool
	PrintReceipt   bool
	PrintKOT       bool
	OpenDrawer     bool
	KOTWindow      time.Duration
	OrderType      string
}

type Deps struct {
	Repo    store.Repository
	Carts   cart.Store
	Bus     *eventbus.Bus
	Stock   StockReconciler
	Outbox  Enqueuer
	Printer Printer
	Log     logrus.FieldLogger
	Now     func() time.Time
}

// Manager owns one Session per table.
type Manager struct {
	deps Deps
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, opts Options) *Manager {
	if deps.Carts == nil {
		deps.Carts = deps.Repo
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.KOTWindow <= 0 {
		opts.KOTWindow = kot.DefaultWindow
	}
	if opts.OrderType == "" {
		opts.OrderType = OrderTypeDineIn
	}
	return &Manager{deps: deps, opts: opts, sessions: make(map[string]*Session)}
}

// Session returns the table's session, restoring its cart snapshot and any
// in-progress draft order on first use.
func (m *Manager) Session(ctx context.Context, tableID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[tableID]; ok {
		return s, nil
	}

	log := m.deps.Log.WithField("table_id", tableID)
	c, err := cart.Load(ctx, tableID, m.deps.Carts, m.deps.Bus, m.deps.Log)
	if err != nil {
		return nil, err
	}

	s := &Session{
		m:        m,
		tableID:  tableID,
		cart:     c,
		log:      log,
		balances: make(map[string]float64),
	}

	draft, err := m.deps.Repo.FindDraftOrder(ctx, tableID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		log.WithError(err).Warn("draft order lookup failed")
	default:
		s.draft = draft
		s.charges = draft.Payment.Charges
		if draft.DiscountSpec != nil {
			d := *draft.DiscountSpec
			s.discount = &d
		}
		s.instructions = draft.SpecialInstructions
		s.customerRef = draft.CustomerRef
		log.WithField("order_id", draft.ID).Info("resumed draft order")
	}

	m.sessions[tableID] = s
	return s, nil
}

// Tables lists the tables with a live session.
func (m *Manager) Tables() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}
