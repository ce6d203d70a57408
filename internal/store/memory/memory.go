package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/store"
	"dinein/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productBySKU    map[string]string
	batches         map[string]domain.Batch
	stockRecords    []domain.StockRecord
	ordersByID      map[string]domain.Order
	orderByNum      map[string]string
	printers        map[string]domain.Printer
	kitchens        map[string]domain.Kitchen
	templates       map[string]domain.PrintTemplate
	tables          map[string]domain.SectionTable
	counters        map[string]int
	carts           map[string]domain.CartSnapshot
	outbox          map[string]domain.OutboxEntry
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	outboxClock     store.OutboxClock
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		productBySKU:    make(map[string]string),
		batches:         make(map[string]domain.Batch),
		stockRecords:    make([]domain.StockRecord, 0, 64),
		ordersByID:      make(map[string]domain.Order),
		orderByNum:      make(map[string]string),
		printers:        make(map[string]domain.Printer),
		kitchens:        make(map[string]domain.Kitchen),
		templates:       make(map[string]domain.PrintTemplate),
		tables:          make(map[string]domain.SectionTable),
		counters:        make(map[string]int),
		carts:           make(map[string]domain.CartSnapshot),
		outbox:          make(map[string]domain.OutboxEntry),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers reads SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and
// SEED_CASHIER_PASSWORD, falling back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logrus.WithField("component", "memory-store").Warn("using default dev credentials, set SEED_*_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"manager", managerPwd, domain.RoleManager},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.Fatalf("memory-store: hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small demo menu, two kitchens, six tables
// and seed users.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	products := []domain.Product{
		{
			ID: "prd-burger", Name: "Beef Burger", Category: "mains", KitchenRef: "kit-grill",
			TaxPercentage: 15, Unit: domain.UnitPerItem, Active: true,
			Variants: []domain.Variant{
				{SKU: "A1", Name: "Beef Burger", Kind: domain.VariantItem, Price: 11.5, Stock: domain.StockConfig{Tracking: true, Count: 100, Availability: true}},
			},
		},
		{
			ID: "prd-fries", Name: "Fries", Category: "sides", KitchenRef: "kit-grill",
			TaxPercentage: 15, Unit: domain.UnitPerItem, Active: true,
			Variants: []domain.Variant{
				{SKU: "A2", Name: "Fries", Kind: domain.VariantItem, Price: 4.6, Stock: domain.StockConfig{Availability: true}},
			},
		},
		{
			ID: "prd-cola", Name: "Cola", Category: "drinks",
			TaxPercentage: 15, Unit: domain.UnitPerItem, Active: true,
			Variants: []domain.Variant{
				{SKU: "COLA", Name: "Cola Can", Kind: domain.VariantItem, Price: 2.3, Stock: domain.StockConfig{Tracking: true, Count: 240, Availability: true}},
				{SKU: "COLA-6", Name: "Cola 6-pack", Kind: domain.VariantBox, ParentSKU: "COLA", NoOfUnits: 6, Price: 12.65, TierPrices: []float64{12.65}, Stock: domain.StockConfig{Tracking: true, Count: 40, Availability: true}},
				{SKU: "COLA-24", Name: "Cola Crate", Kind: domain.VariantCrate, ParentSKU: "COLA-6", NoOfUnits: 4, Price: 46, TierPrices: []float64{46}, Stock: domain.StockConfig{Tracking: true, Count: 10, Availability: true}},
			},
		},
		{
			ID: "prd-milk", Name: "Fresh Milk", Category: "drinks", BatchingEnabled: true,
			TaxPercentage: 5, Unit: domain.UnitPerItem, Active: true,
			Variants: []domain.Variant{
				{SKU: "MILK", Name: "Fresh Milk 250ml", Kind: domain.VariantItem, Price: 3.15, Stock: domain.StockConfig{Tracking: true, Count: 8, Availability: true}},
			},
		},
		{
			ID: "prd-fish", Name: "Market Fish", Category: "mains", KitchenRef: "kit-grill",
			TaxPercentage: 15, Unit: "kg", Active: true,
			Variants: []domain.Variant{
				{SKU: "FISH", Name: "Market Fish", Kind: domain.VariantOpenPrice, Price: 46, Stock: domain.StockConfig{Availability: true}},
			},
		},
	}
	for _, p := range products {
		p.UpdatedAt = now
		s.putProduct(p)
	}

	for i, expiry := range []time.Time{now.AddDate(0, 0, 3), now.AddDate(0, 0, 10)} {
		exp := expiry
		b := domain.Batch{
			ID: fmt.Sprintf("bat-milk-%d", i+1), ProductID: "prd-milk", SKU: "MILK",
			Expiry: &exp, ReceivedAt: now, Available: 4, Status: domain.BatchStatusActive,
		}
		s.batches[b.ID] = b
	}

	s.kitchens["kit-grill"] = domain.Kitchen{ID: "kit-grill", Name: "Grill", Categories: []string{"mains", "sides"}}
	s.kitchens["kit-bar"] = domain.Kitchen{ID: "kit-bar", Name: "Bar", Categories: []string{"drinks"}}

	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("T%d", i)
		section := "Main Hall"
		if i > 4 {
			section = "Terrace"
		}
		s.tables[id] = domain.SectionTable{
			ID: id, SectionID: strings.ToLower(strings.ReplaceAll(section, " ", "-")), SectionName: section,
			Label: "Table " + fmt.Sprint(i), Capacity: 4, Status: domain.TableStatusFree, UpdatedAt: now,
		}
	}

	s.templates[domain.PrintKindReceipt] = domain.PrintTemplate{ID: "tpl-receipt", Kind: domain.PrintKindReceipt, Header: "DINE-IN", Footer: "Thank you", ShowToken: true}
	s.templates[domain.PrintKindKOT] = domain.PrintTemplate{ID: "tpl-kot", Kind: domain.PrintKindKOT, Header: "KITCHEN ORDER"}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) putProduct(p domain.Product) {
	if old, ok := s.products[p.ID]; ok {
		for _, v := range old.Variants {
			delete(s.productBySKU, v.SKU)
		}
	}
	s.products[p.ID] = cloneProduct(p)
	for _, v := range p.Variants {
		s.productBySKU[v.SKU] = p.ID
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, cloneProduct(p))
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(p)
	return &dup, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productBySKU[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(s.products[id])
	return &dup, nil
}

func (s *Store) SaveProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	for _, v := range product.Variants {
		if owner, ok := s.productBySKU[v.SKU]; ok && owner != product.ID {
			return nil, fmt.Errorf("%w: sku %s belongs to product %s", store.ErrConflict, v.SKU, owner)
		}
	}
	product.UpdatedAt = time.Now().UTC()
	s.putProduct(product)
	saved := cloneProduct(product)
	return &saved, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, baseSKU string, delta int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return 0, 0, store.ErrNotFound
	}
	idx := p.VariantIndex(baseSKU)
	if idx < 0 {
		return 0, 0, store.ErrNotFound
	}
	prev := p.Variants[idx].Stock.Count
	p = cloneProduct(p)
	p.SetBaseStock(baseSKU, prev+delta)
	p.UpdatedAt = time.Now().UTC()
	s.products[productID] = p
	return prev, prev + delta, nil
}

func (s *Store) CreateBatch(_ context.Context, batch domain.Batch) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch.ProductID == "" || batch.SKU == "" || batch.Available < 0 {
		return nil, store.ErrInvalid
	}
	if _, ok := s.products[batch.ProductID]; !ok {
		return nil, store.ErrNotFound
	}
	if batch.ID == "" {
		batch.ID = xid.New("bat")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	if batch.Status == "" {
		batch.Status = domain.BatchStatusActive
	}
	s.batches[batch.ID] = cloneBatch(batch)
	created := cloneBatch(batch)
	return &created, nil
}

func (s *Store) ListBatches(_ context.Context, productID string, sku string) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Batch, 0)
	for _, b := range s.batches {
		if b.ProductID != productID || (sku != "" && b.SKU != sku) {
			continue
		}
		out = append(out, cloneBatch(b))
	}
	domain.SortFEFO(out)
	return out, nil
}

func (s *Store) UpdateBatch(_ context.Context, batch domain.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batch.ID]; !ok {
		return store.ErrNotFound
	}
	if batch.Available < 0 {
		return fmt.Errorf("%w: batch available must not be negative", store.ErrInvalid)
	}
	s.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (s *Store) AppendStockRecord(_ context.Context, record domain.StockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = xid.New("stk")
	}
	s.stockRecords = append(s.stockRecords, record)
	return nil
}

func (s *Store) ListStockRecords(_ context.Context, sku string, limit int) ([]domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = store.Limit(limit, 100)
	out := make([]domain.StockRecord, 0, limit)
	for i := len(s.stockRecords) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.stockRecords[i]
		if sku != "" && r.SKU != sku {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if _, exists := s.ordersByID[order.ID]; exists {
		return nil, fmt.Errorf("%w: order %s exists", store.ErrConflict, order.ID)
	}
	if order.OrderNum != "" {
		if _, taken := s.orderByNum[order.OrderNum]; taken {
			return nil, fmt.Errorf("%w: order number %s taken", store.ErrConflict, order.OrderNum)
		}
		s.orderByNum[order.OrderNum] = order.ID
	}
	s.ordersByID[order.ID] = cloneOrder(order)
	created := cloneOrder(order)
	return &created, nil
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.ordersByID[order.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if order.OrderNum != existing.OrderNum && order.OrderNum != "" {
		if owner, taken := s.orderByNum[order.OrderNum]; taken && owner != order.ID {
			return nil, fmt.Errorf("%w: order number %s taken", store.ErrConflict, order.OrderNum)
		}
		delete(s.orderByNum, existing.OrderNum)
		s.orderByNum[order.OrderNum] = order.ID
	}
	s.ordersByID[order.ID] = cloneOrder(order)
	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) AppendRefund(_ context.Context, orderID string, refund domain.Refund) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.CheckRefund(order, refund); err != nil {
		return nil, err
	}
	order = cloneOrder(order)
	order.Refunds = append(order.Refunds, refund)
	order.UpdatedAt = refund.CreatedAt
	s.ordersByID[orderID] = order
	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) MarkOrderSynced(_ context.Context, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return store.ErrNotFound
	}
	at = at.UTC()
	order.SyncedAt = &at
	s.ordersByID[orderID] = order
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneOrder(order)
	return &dup, nil
}

func (s *Store) GetOrderByNum(_ context.Context, orderNum string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.orderByNum[orderNum]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneOrder(s.ordersByID[id])
	return &dup, nil
}

func (s *Store) FindDraftOrder(_ context.Context, tableID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Order
	for _, o := range s.ordersByID {
		if o.TableID != tableID || o.OrderStatus != domain.OrderStatusInProgress {
			continue
		}
		if found == nil || o.CreatedAt.After(found.CreatedAt) {
			dup := cloneOrder(o)
			found = &dup
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Order, 0)
	for _, o := range s.ordersByID {
		if filter.Status != "" && o.OrderStatus != filter.Status {
			continue
		}
		if filter.TableID != "" && o.TableID != filter.TableID {
			continue
		}
		if !filter.From.IsZero() && o.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !o.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	slices.SortFunc(out, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	limit := store.Limit(filter.Limit, 50)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListPrinters(_ context.Context) ([]domain.Printer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Printer, 0, len(s.printers))
	for _, p := range s.printers {
		p.KitchenRefs = slices.Clone(p.KitchenRefs)
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.Printer) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) SavePrinter(_ context.Context, printer domain.Printer) (*domain.Printer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(printer.Name) == "" {
		return nil, fmt.Errorf("%w: printer name is required", store.ErrInvalid)
	}
	if printer.ID == "" {
		printer.ID = xid.New("prn")
	}
	printer.KitchenRefs = slices.Clone(printer.KitchenRefs)
	s.printers[printer.ID] = printer
	saved := printer
	return &saved, nil
}

func (s *Store) ListKitchens(_ context.Context) ([]domain.Kitchen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Kitchen, 0, len(s.kitchens))
	for _, k := range s.kitchens {
		k.Categories = slices.Clone(k.Categories)
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b domain.Kitchen) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) SaveKitchen(_ context.Context, kitchen domain.Kitchen) (*domain.Kitchen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(kitchen.Name) == "" {
		return nil, fmt.Errorf("%w: kitchen name is required", store.ErrInvalid)
	}
	if kitchen.ID == "" {
		kitchen.ID = xid.New("kit")
	}
	kitchen.Categories = slices.Clone(kitchen.Categories)
	s.kitchens[kitchen.ID] = kitchen
	saved := kitchen
	return &saved, nil
}

func (s *Store) GetPrintTemplate(_ context.Context, kind string) (*domain.PrintTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tpl, ok := s.templates[kind]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tpl, nil
}

func (s *Store) SavePrintTemplate(_ context.Context, template domain.PrintTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if template.Kind != domain.PrintKindReceipt && template.Kind != domain.PrintKindKOT {
		return fmt.Errorf("%w: unknown template kind %q", store.ErrInvalid, template.Kind)
	}
	if template.ID == "" {
		template.ID = xid.New("tpl")
	}
	s.templates[template.Kind] = template
	return nil
}

func (s *Store) GetTable(_ context.Context, id string) (*domain.SectionTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ListTables(_ context.Context) ([]domain.SectionTable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SectionTable, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b domain.SectionTable) int {
		if a.SectionName == b.SectionName {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.SectionName, b.SectionName)
	})
	return out, nil
}

func (s *Store) SaveTable(_ context.Context, table domain.SectionTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if table.ID == "" {
		return fmt.Errorf("%w: table id is required", store.ErrInvalid)
	}
	s.tables[table.ID] = table
	return nil
}

func (s *Store) GetCounter(_ context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name], nil
}

func (s *Store) SetCounter(_ context.Context, name string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] = value
	return nil
}

func (s *Store) GetCartSnapshot(_ context.Context, tableID string) (*domain.CartSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.carts[tableID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneSnapshot(snap)
	return &dup, nil
}

func (s *Store) SaveCartSnapshot(_ context.Context, snapshot domain.CartSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot.TableID == "" {
		return fmt.Errorf("%w: table id is required", store.ErrInvalid)
	}
	s.carts[snapshot.TableID] = cloneSnapshot(snapshot)
	return nil
}

func (s *Store) DeleteCartSnapshot(_ context.Context, tableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, tableID)
	return nil
}

func (s *Store) EnqueueOutbox(_ context.Context, entry domain.OutboxEntry) (*domain.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Kind == "" || entry.AggregateID == "" {
		return nil, fmt.Errorf("%w: outbox kind and aggregate are required", store.ErrInvalid)
	}
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = xid.New("obx")
	}
	if entry.Status == "" {
		entry.Status = domain.OutboxStatusPending
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.outboxClock.Next(now)
	}
	if entry.NextAttemptAt.IsZero() {
		entry.NextAttemptAt = entry.CreatedAt
	}
	entry.UpdatedAt = now
	entry.Payload = slices.Clone(entry.Payload)
	s.outbox[entry.ID] = entry
	created := entry
	created.Payload = slices.Clone(entry.Payload)
	return &created, nil
}

func (s *Store) ListDueOutbox(_ context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.OutboxEntry, 0)
	for _, e := range s.outbox {
		if e.Status == domain.OutboxStatusPending {
			pending = append(pending, e)
		}
	}
	sortOutbox(pending)

	blocked := make(map[string]bool)
	out := make([]domain.OutboxEntry, 0)
	for _, e := range pending {
		if blocked[e.AggregateID] {
			continue
		}
		if e.NextAttemptAt.After(now) {
			blocked[e.AggregateID] = true
			continue
		}
		e.Payload = slices.Clone(e.Payload)
		out = append(out, e)
	}
	limit = store.Limit(limit, 50)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListOutbox(_ context.Context, status string, limit int) ([]domain.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.OutboxEntry, 0)
	for _, e := range s.outbox {
		if status != "" && e.Status != status {
			continue
		}
		e.Payload = slices.Clone(e.Payload)
		out = append(out, e)
	}
	sortOutbox(out)
	limit = store.Limit(limit, 100)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateOutbox(_ context.Context, entry domain.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.outbox[entry.ID]; !ok {
		return store.ErrNotFound
	}
	entry.UpdatedAt = time.Now().UTC()
	entry.Payload = slices.Clone(entry.Payload)
	s.outbox[entry.ID] = entry
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = store.Limit(limit, 100)
	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.auditLogs[i]
		if !from.IsZero() && entry.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortOutbox(entries []domain.OutboxEntry) {
	slices.SortFunc(entries, func(a, b domain.OutboxEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	dup.Variants = make([]domain.Variant, len(src.Variants))
	for i, v := range src.Variants {
		v.TierPrices = slices.Clone(v.TierPrices)
		dup.Variants[i] = v
	}
	return dup
}

func cloneBatch(src domain.Batch) domain.Batch {
	dup := src
	if src.Expiry != nil {
		expiry := src.Expiry.UTC()
		dup.Expiry = &expiry
	}
	return dup
}

func cloneItems(src []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(src))
	for i, item := range src {
		item.Modifiers = slices.Clone(item.Modifiers)
		if item.SentToKotAt != nil {
			at := *item.SentToKotAt
			item.SentToKotAt = &at
		}
		out[i] = item
	}
	return out
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	dup.Items = cloneItems(src.Items)
	dup.Payment.Charges = slices.Clone(src.Payment.Charges)
	dup.Payment.Breakup = slices.Clone(src.Payment.Breakup)
	dup.Payment.Methods = slices.Clone(src.Payment.Methods)
	dup.Refunds = slices.Clone(src.Refunds)
	if src.DiscountSpec != nil {
		d := *src.DiscountSpec
		dup.DiscountSpec = &d
	}
	return dup
}

func cloneSnapshot(src domain.CartSnapshot) domain.CartSnapshot {
	dup := src
	dup.Items = cloneItems(src.Items)
	return dup
}
