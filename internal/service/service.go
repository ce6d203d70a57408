package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dinein/backend/internal/apperror"
	"dinein/backend/internal/cart"
	"dinein/backend/internal/checkout"
	"dinein/backend/internal/domain"
	"dinein/backend/internal/eventbus"
	"dinein/backend/internal/pricing"
	"dinein/backend/internal/store"
	"dinein/backend/internal/xid"
)

var ErrForbidden = errors.New("insufficient role")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// TableState is what a terminal needs to redraw one table.
type TableState struct {
	TableID      string            `json:"table_id"`
	State        checkout.State    `json:"state"`
	Busy         bool              `json:"busy"`
	Items        []domain.CartItem `json:"items"`
	Payment      domain.Payment    `json:"payment"`
	Paid         float64           `json:"paid"`
	Outstanding  float64           `json:"outstanding"`
	DraftOrderID string            `json:"draft_order_id,omitempty"`
}

// RefundEvent is the order:refunded payload.
type RefundEvent struct {
	OrderID string        `json:"order_id"`
	Refund  domain.Refund `json:"refund"`
}

type Service struct {
	repo     store.Repository
	checkout *checkout.Manager
	outbox   checkout.Enqueuer
	bus      *eventbus.Bus
	log      logrus.FieldLogger
	now      func() time.Time
}

func New(repo store.Repository, manager *checkout.Manager, outbox checkout.Enqueuer, bus *eventbus.Bus, log logrus.FieldLogger) *Service {
	return &Service{
		repo:     repo,
		checkout: manager,
		outbox:   outbox,
		bus:      bus,
		log:      log.WithField("component", "service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

func (s *Service) SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}

	product.Name = strings.TrimSpace(product.Name)
	product.Category = strings.TrimSpace(product.Category)
	if product.Unit == "" {
		product.Unit = domain.UnitPerItem
	}
	if err := validateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.UpdatedAt = s.now()

	saved, err := s.repo.SaveProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "save_product", "product", saved.ID, fmt.Sprintf("variants=%d", len(saved.Variants)))
	return saved, nil
}

func validateProduct(p domain.Product) error {
	var fields []apperror.FieldError
	if p.Name == "" {
		fields = append(fields, apperror.FieldError{Field: "name", Message: "required"})
	}
	if len(p.Variants) == 0 {
		fields = append(fields, apperror.FieldError{Field: "variants", Message: "at least one variant required"})
	}
	if p.TaxPercentage < 0 {
		fields = append(fields, apperror.FieldError{Field: "tax_percentage", Message: "must not be negative"})
	}
	seen := make(map[string]bool, len(p.Variants))
	for i, v := range p.Variants {
		field := fmt.Sprintf("variants[%d]", i)
		switch {
		case strings.TrimSpace(v.SKU) == "":
			fields = append(fields, apperror.FieldError{Field: field + ".sku", Message: "required"})
		case seen[v.SKU]:
			fields = append(fields, apperror.FieldError{Field: field + ".sku", Message: "duplicate sku"})
		}
		seen[v.SKU] = true
		if !v.Kind.Valid() {
			fields = append(fields, apperror.FieldError{Field: field + ".kind", Message: "unknown variant kind"})
		}
		if v.Price < 0 {
			fields = append(fields, apperror.FieldError{Field: field + ".price", Message: "must not be negative"})
		}
	}
	if len(fields) == 0 {
		for _, v := range p.Variants {
			if _, _, err := p.BaseUnits(v.SKU); err != nil {
				fields = append(fields, apperror.FieldError{Field: "variants", Message: err.Error()})
			}
		}
	}
	if len(fields) > 0 {
		return apperror.Validation("invalid_product", "invalid product", fields...)
	}
	return nil
}

// ReceiveBatch books qty units of sku into stock as a new batch. Box and
// crate quantities are converted to base units first.
func (s *Service) ReceiveBatch(ctx context.Context, req domain.ReceiveBatchRequest) (*domain.Batch, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	req.SKU = strings.TrimSpace(req.SKU)
	if req.SKU == "" || req.Qty < 1 {
		return nil, apperror.Validation("invalid_batch", "sku and a positive qty are required")
	}

	var expiry *time.Time
	if strings.TrimSpace(req.Expiry) != "" {
		parsed, err := time.Parse("2006-01-02", req.Expiry)
		if err != nil {
			return nil, apperror.Validation("invalid_batch", "expiry must be YYYY-MM-DD",
				apperror.FieldError{Field: "expiry", Message: err.Error()})
		}
		exp := parsed.UTC()
		expiry = &exp
	}

	product, err := s.repo.GetProductBySKU(ctx, req.SKU)
	if err != nil {
		return nil, err
	}
	baseSKU, units, err := product.BaseUnits(req.SKU)
	if err != nil {
		return nil, apperror.Validation("invalid_batch", err.Error())
	}
	qty := req.Qty * units
	now := s.now()

	var batch *domain.Batch
	if product.BatchingEnabled {
		batch, err = s.repo.CreateBatch(ctx, domain.Batch{
			ID:         xid.New("bat"),
			ProductID:  product.ID,
			SKU:        baseSKU,
			Expiry:     expiry,
			ReceivedAt: now,
			Available:  qty,
			Status:     domain.BatchStatusActive,
		})
		if err != nil {
			return nil, err
		}
	}

	prev, next, err := s.repo.AdjustStock(ctx, product.ID, baseSKU, qty)
	if err != nil {
		return nil, err
	}
	if err := s.repo.AppendStockRecord(ctx, domain.StockRecord{
		ID:                 xid.New("stk"),
		ProductID:          product.ID,
		SKU:                baseSKU,
		PreviousStockCount: prev,
		Delta:              qty,
		StockCount:         next,
		StockAction:        domain.StockActionReceive,
		CreatedAt:          now,
	}); err != nil {
		s.log.WithError(err).WithField("sku", baseSKU).Warn("stock record append failed")
	}

	s.logAudit(ctx, "receive_stock", "product", product.ID, fmt.Sprintf("sku=%s,qty=%d,expiry=%s", baseSKU, qty, req.Expiry))
	if batch == nil {
		batch = &domain.Batch{ProductID: product.ID, SKU: baseSKU, Expiry: expiry, ReceivedAt: now, Available: qty, Status: domain.BatchStatusActive}
	}
	return batch, nil
}

func (s *Service) ListBatches(ctx context.Context, productID string, sku string) ([]domain.Batch, error) {
	return s.repo.ListBatches(ctx, productID, strings.TrimSpace(sku))
}

func (s *Service) ListStockRecords(ctx context.Context, sku string, limit int) ([]domain.StockRecord, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListStockRecords(ctx, strings.TrimSpace(sku), limit)
}

func (s *Service) ListTables(ctx context.Context) ([]domain.SectionTable, error) {
	return s.repo.ListTables(ctx)
}

func (s *Service) ListKitchens(ctx context.Context) ([]domain.Kitchen, error) {
	return s.repo.ListKitchens(ctx)
}

func (s *Service) ListPrinters(ctx context.Context) ([]domain.Printer, error) {
	return s.repo.ListPrinters(ctx)
}

func (s *Service) SavePrinter(ctx context.Context, printer domain.Printer) (*domain.Printer, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	switch printer.Kind {
	case "network", "usb", "none":
	default:
		return nil, apperror.Validation("invalid_printer", "printer kind must be network, usb or none")
	}
	if printer.ID == "" {
		printer.ID = xid.New("prn")
	}
	saved, err := s.repo.SavePrinter(ctx, printer)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "save_printer", "printer", saved.ID, saved.Kind)
	return saved, nil
}

// TableState reports the live checkout state of tableID.
func (s *Service) TableState(ctx context.Context, tableID string) (TableState, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return TableState{}, err
	}
	totals := sess.Totals()
	paid := sess.TotalPaid()
	out := TableState{
		TableID:     tableID,
		State:       sess.State(),
		Busy:        sess.Busy(),
		Items:       sess.Cart().Items(),
		Payment:     totals,
		Paid:        paid,
		Outstanding: max(pricing.Diff(totals.Total, paid), 0),
	}
	if d := sess.Draft(); d != nil {
		out.DraftOrderID = d.ID
	}
	return out, nil
}

// AddItem resolves sku against the catalogue and adds a priced line. Price
// on the request is only honoured for open-price variants.
func (s *Service) AddItem(ctx context.Context, tableID string, req domain.AddItemRequest) (domain.CartItem, error) {
	req.SKU = strings.TrimSpace(req.SKU)
	if req.SKU == "" {
		return domain.CartItem{}, apperror.Validation("invalid_cart_item", "sku is required",
			apperror.FieldError{Field: "sku", Message: "required"})
	}
	if req.Qty == 0 {
		req.Qty = 1
	}

	product, err := s.repo.GetProductBySKU(ctx, req.SKU)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CartItem{}, apperror.LookupMiss(err, fmt.Sprintf("no product for sku %s", req.SKU))
	}
	if err != nil {
		return domain.CartItem{}, err
	}
	if !product.Active {
		return domain.CartItem{}, apperror.Validation("product_inactive", fmt.Sprintf("%s is not on sale", product.Name))
	}
	variant, _ := product.Variant(req.SKU)

	price, err := pricing.UnitPrice(variant)
	if err != nil {
		return domain.CartItem{}, apperror.Validation("invalid_cart_item", err.Error())
	}
	if variant.Kind == domain.VariantOpenPrice && req.Price != nil {
		price = *req.Price
	}
	if product.Unit != domain.UnitPerItem && req.Measure <= 0 {
		return domain.CartItem{}, apperror.Validation("invalid_cart_item", fmt.Sprintf("%s is sold by %s, measure is required", product.Name, product.Unit),
			apperror.FieldError{Field: "measure", Message: "required"})
	}

	name := variant.Name
	if name == "" {
		name = product.Name
	}
	item := domain.CartItem{
		ProductID:       product.ID,
		SKU:             variant.SKU,
		ParentSKU:       variant.ParentSKU,
		Name:            name,
		Kind:            variant.Kind,
		Unit:            product.Unit,
		Category:        product.Category,
		KitchenRef:      product.KitchenRef,
		Qty:             req.Qty,
		Measure:         req.Measure,
		Price:           price,
		TaxPercentage:   product.TaxPercentage,
		DiscountPercent: req.DiscountPercent,
		Modifiers:       slices.Clone(req.Modifiers),
		Note:            strings.TrimSpace(req.Note),
	}

	sess, err := s.session(ctx, tableID)
	if err != nil {
		return domain.CartItem{}, err
	}
	return sess.Add(ctx, item)
}

func (s *Service) UpdateItem(ctx context.Context, tableID string, lineID string, patch cart.Patch) (domain.CartItem, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return domain.CartItem{}, err
	}
	return sess.Update(ctx, lineID, patch)
}

func (s *Service) RemoveItems(ctx context.Context, tableID string, lineIDs []string) error {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return err
	}
	return sess.BulkRemove(ctx, lineIDs)
}

func (s *Service) RepeatItem(ctx context.Context, tableID string, lineID string) (domain.CartItem, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return domain.CartItem{}, err
	}
	return sess.Repeat(ctx, lineID)
}

func (s *Service) VoidItem(ctx context.Context, tableID string, lineID string, reason string) (domain.CartItem, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return domain.CartItem{}, err
	}
	line, err := sess.Void(ctx, lineID, strings.TrimSpace(reason))
	if err != nil {
		return domain.CartItem{}, err
	}
	s.logAudit(ctx, "void_item", "cart_line", line.LineID, fmt.Sprintf("table=%s,sku=%s,amount=%.2f,reason=%s", tableID, line.SKU, line.AmountBeforeVoidComp, line.VoidReason))
	return line, nil
}

func (s *Service) RemoveVoid(ctx context.Context, tableID string, lineID string) (domain.CartItem, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return domain.CartItem{}, err
	}
	line, err := sess.RemoveVoid(ctx, lineID)
	if err != nil {
		return domain.CartItem{}, err
	}
	s.logAudit(ctx, "remove_void", "cart_line", line.LineID, "table="+tableID)
	return line, nil
}

func (s *Service) CompItem(ctx context.Context, tableID string, lineID string, reason string) (domain.CartItem, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return domain.CartItem{}, err
	}
	line, err := sess.Comp(ctx, lineID, strings.TrimSpace(reason))
	if err != nil {
		return domain.CartItem{}, err
	}
	s.logAudit(ctx, "comp_item", "cart_line", line.LineID, fmt.Sprintf("table=%s,sku=%s,amount=%.2f,reason=%s", tableID, line.SKU, line.AmountBeforeVoidComp, line.CompReason))
	return line, nil
}

func (s *Service) RemoveComp(ctx context.Context, tableID string, lineID string) (domain.CartItem, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return domain.CartItem{}, err
	}
	line, err := sess.RemoveComp(ctx, lineID)
	if err != nil {
		return domain.CartItem{}, err
	}
	s.logAudit(ctx, "remove_comp", "cart_line", line.LineID, "table="+tableID)
	return line, nil
}

func (s *Service) SetDiscount(ctx context.Context, tableID string, discount *domain.Discount) error {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return err
	}
	if err := sess.SetDiscount(discount); err != nil {
		return err
	}
	if discount != nil {
		s.logAudit(ctx, "order_discount", "table", tableID, fmt.Sprintf("kind=%s,value=%.2f,reason=%s", discount.Kind, discount.Value, discount.Reason))
	}
	return nil
}

func (s *Service) SetCharges(ctx context.Context, tableID string, charges []domain.Charge) error {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return err
	}
	return sess.SetCharges(charges)
}

func (s *Service) SetInstructions(ctx context.Context, tableID string, text string) error {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return err
	}
	sess.SetInstructions(strings.TrimSpace(text))
	return nil
}

func (s *Service) SetCustomer(ctx context.Context, tableID string, ref string) error {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return err
	}
	sess.SetCustomer(strings.TrimSpace(ref))
	return nil
}

func (s *Service) Send(ctx context.Context, tableID string) (checkout.SendResult, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return checkout.SendResult{}, err
	}
	return sess.Send(ctx)
}

func (s *Service) Pay(ctx context.Context, tableID string, tender checkout.Tender) (checkout.PayResult, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return checkout.PayResult{}, err
	}
	res, err := sess.Pay(ctx, tender)
	if err != nil {
		return res, err
	}
	if res.State == checkout.StateClosed && res.Order != nil {
		s.logAudit(ctx, "order_completed", "order", res.Order.ID, fmt.Sprintf("order_num=%s,total=%.2f", res.Order.OrderNum, res.Order.Payment.Total))
	}
	return res, nil
}

// Finalize retries closing a table whose payment is complete but whose
// order could not be persisted earlier.
func (s *Service) Finalize(ctx context.Context, tableID string) (*domain.Order, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return sess.Finalize(ctx)
}

func (s *Service) Tickets(ctx context.Context, tableID string) ([][]domain.CartItem, error) {
	sess, err := s.session(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return sess.Tickets(), nil
}

// GetOrder looks ref up as an order ID first and then as an order number.
func (s *Service) GetOrder(ctx context.Context, ref string) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return s.repo.GetOrderByNum(ctx, strings.ToUpper(ref))
	}
	return order, err
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	return s.repo.ListOrders(ctx, filter)
}

// Refund appends a refund to a completed order. Refunds never touch the
// original payment breakup.
func (s *Service) Refund(ctx context.Context, orderID string, req domain.RefundRequest) (*domain.Order, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return nil, apperror.Validation("refund_reason_required", "a refund reason is required",
			apperror.FieldError{Field: "reason", Message: "required"})
	}
	if req.Amount <= 0 {
		return nil, apperror.Validation("invalid_refund", "refund amount must be positive",
			apperror.FieldError{Field: "amount", Message: "must be positive"})
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.OrderStatus != domain.OrderStatusCompleted {
		return nil, apperror.Validation("order_not_completed", "only completed orders can be refunded")
	}
	refundable := pricing.Diff(order.Payment.Total, order.RefundedTotal())
	amount := pricing.Round2(req.Amount)
	if amount > refundable {
		return nil, apperror.Validation("refund_exceeds_total", fmt.Sprintf("at most %.2f can be refunded", refundable),
			apperror.FieldError{Field: "amount", Message: "exceeds refundable amount"})
	}
	if req.Provider == "" {
		req.Provider = domain.ProviderCash
	}
	if !domain.ValidProvider(req.Provider) {
		return nil, apperror.Validation("invalid_provider", fmt.Sprintf("unknown payment provider %q", req.Provider),
			apperror.FieldError{Field: "provider", Message: "must be cash, card, wallet or credit"})
	}

	actor, _ := ActorFromContext(ctx)
	refund := domain.Refund{
		ID:        xid.New("rfd"),
		Reason:    req.Reason,
		Amount:    amount,
		Provider:  req.Provider,
		Actor:     actor.Username,
		CreatedAt: s.now(),
	}
	updated, err := s.repo.AppendRefund(ctx, order.ID, refund)
	if errors.Is(err, store.ErrConflict) {
		return nil, apperror.Validation("refund_exceeds_total", "the refund exceeds the amount still refundable",
			apperror.FieldError{Field: "amount", Message: "exceeds refundable amount"})
	}
	if err != nil {
		return nil, err
	}

	if s.outbox != nil {
		if _, err := s.outbox.Enqueue(ctx, domain.OutboxKindOrderRefund, updated.ID, refund); err != nil {
			s.log.WithError(err).WithField("order_id", updated.ID).Warn("refund enqueue failed")
		}
	}
	if s.bus != nil {
		s.bus.Emit(eventbus.EventOrderRefunded, RefundEvent{OrderID: updated.ID, Refund: refund})
	}
	s.logAudit(ctx, "refund_order", "order", updated.ID, fmt.Sprintf("amount=%.2f,provider=%s,reason=%s", amount, refund.Provider, refund.Reason))
	return updated, nil
}

func (s *Service) ListOutbox(ctx context.Context, status string, limit int) ([]domain.OutboxEntry, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListOutbox(ctx, status, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, apperror.Validation("invalid_date", "date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

func (s *Service) session(ctx context.Context, tableID string) (*checkout.Session, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return nil, apperror.Validation("table_required", "table id is required")
	}
	if _, err := s.repo.GetTable(ctx, tableID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperror.LookupMiss(err, fmt.Sprintf("unknown table %s", tableID))
		}
		return nil, err
	}
	return s.checkout.Session(ctx, tableID)
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: %s required", ErrForbidden, strings.Join(roles, " or "))
	}
	if slices.Contains(roles, actor.Role) || (actor.Approved && slices.Contains(roles, domain.RoleManager)) {
		return nil
	}
	return fmt.Errorf("%w: %s required", ErrForbidden, strings.Join(roles, " or "))
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if actor.Approved {
		detail += ",manager_pin=approved"
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("audit log write failed")
	}
}
