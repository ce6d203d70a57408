// Package sqlite is the embedded terminal database, built on gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/store"
	"dinein/backend/internal/xid"
)

type Store struct {
	db    *gorm.DB
	clock store.OutboxClock
}

// Open connects to path (a file name or a sqlite DSN such as
// "file::memory:?cache=shared") and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer; a single connection avoids lock errors.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	default:
		return err
	}
}

func upsert(tx *gorm.DB, row any) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("category, name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var row productRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &row.Doc, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var idx productSKURow
	if err := s.db.WithContext(ctx).First(&idx, "sku = ?", sku).Error; err != nil {
		return nil, mapErr(err)
	}
	return s.GetProduct(ctx, idx.ProductID)
}

func (s *Store) SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.UpdatedAt = time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skus := make([]string, 0, len(product.Variants))
		for _, v := range product.Variants {
			skus = append(skus, v.SKU)
		}
		var owned []productSKURow
		if err := tx.Where("sku IN ? AND product_id <> ?", skus, product.ID).Find(&owned).Error; err != nil {
			return err
		}
		if len(owned) > 0 {
			return fmt.Errorf("%w: sku %s belongs to product %s", store.ErrConflict, owned[0].SKU, owned[0].ProductID)
		}
		if err := tx.Where("product_id = ?", product.ID).Delete(&productSKURow{}).Error; err != nil {
			return err
		}
		for _, sku := range skus {
			if err := tx.Create(&productSKURow{SKU: sku, ProductID: product.ID}).Error; err != nil {
				return mapErr(err)
			}
		}
		return upsert(tx, toProductRow(product))
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func toProductRow(p domain.Product) *productRow {
	return &productRow{ID: p.ID, Category: p.Category, Name: p.Name, Active: p.Active, UpdatedAt: p.UpdatedAt, Doc: p}
}

func (s *Store) AdjustStock(ctx context.Context, productID string, baseSKU string, delta int) (int, int, error) {
	var prev, next int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row productRow
		if err := tx.First(&row, "id = ?", productID).Error; err != nil {
			return mapErr(err)
		}
		idx := row.Doc.VariantIndex(baseSKU)
		if idx < 0 {
			return store.ErrNotFound
		}
		prev = row.Doc.Variants[idx].Stock.Count
		next = prev + delta
		row.Doc.SetBaseStock(baseSKU, next)
		row.Doc.UpdatedAt = time.Now().UTC()
		return tx.Save(toProductRow(row.Doc)).Error
	})
	if err != nil {
		return 0, 0, err
	}
	return prev, next, nil
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error) {
	if batch.ProductID == "" || batch.SKU == "" || batch.Available < 0 {
		return nil, store.ErrInvalid
	}
	if _, err := s.GetProduct(ctx, batch.ProductID); err != nil {
		return nil, err
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
	row := batchRow{ID: batch.ID, ProductID: batch.ProductID, SKU: batch.SKU, Doc: batch}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, mapErr(err)
	}
	return &batch, nil
}

func (s *Store) ListBatches(ctx context.Context, productID string, sku string) ([]domain.Batch, error) {
	q := s.db.WithContext(ctx).Where("product_id = ?", productID)
	if sku != "" {
		q = q.Where("sku = ?", sku)
	}
	var rows []batchRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Batch, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	domain.SortFEFO(out)
	return out, nil
}

func (s *Store) UpdateBatch(ctx context.Context, batch domain.Batch) error {
	if batch.Available < 0 {
		return fmt.Errorf("%w: batch available must not be negative", store.ErrInvalid)
	}
	res := s.db.WithContext(ctx).Model(&batchRow{}).Where("id = ?", batch.ID).
		Updates(&batchRow{ProductID: batch.ProductID, SKU: batch.SKU, Doc: batch})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendStockRecord(ctx context.Context, record domain.StockRecord) error {
	if record.ID == "" {
		record.ID = xid.New("stk")
	}
	row := stockRecordRow{ID: record.ID, SKU: record.SKU, CreatedAt: record.CreatedAt, Doc: record}
	return mapErr(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) ListStockRecords(ctx context.Context, sku string, limit int) ([]domain.StockRecord, error) {
	q := s.db.WithContext(ctx).Order("seq DESC").Limit(store.Limit(limit, 100))
	if sku != "" {
		q = q.Where("sku = ?", sku)
	}
	var rows []stockRecordRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.StockRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

func toOrderRow(o domain.Order) *orderRow {
	row := &orderRow{ID: o.ID, TableID: o.TableID, Status: o.OrderStatus, CreatedAt: o.CreatedAt, Doc: o}
	if o.OrderNum != "" {
		num := o.OrderNum
		row.OrderNum = &num
	}
	return row
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if err := s.db.WithContext(ctx).Create(toOrderRow(order)).Error; err != nil {
		return nil, mapErr(err)
	}
	return &order, nil
}

func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing orderRow
		if err := tx.Select("id").First(&existing, "id = ?", order.ID).Error; err != nil {
			return mapErr(err)
		}
		return mapErr(tx.Save(toOrderRow(order)).Error)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) AppendRefund(ctx context.Context, orderID string, refund domain.Refund) (*domain.Order, error) {
	var order domain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row orderRow
		if err := tx.First(&row, "id = ?", orderID).Error; err != nil {
			return mapErr(err)
		}
		if err := store.CheckRefund(row.Doc, refund); err != nil {
			return err
		}
		order = row.Doc
		order.Refunds = append(order.Refunds, refund)
		order.UpdatedAt = refund.CreatedAt
		return mapErr(tx.Save(toOrderRow(order)).Error)
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) MarkOrderSynced(ctx context.Context, orderID string, at time.Time) error {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE orders SET doc = json_set(doc, '$.synced_at', ?) WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), orderID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var row orderRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &row.Doc, nil
}

func (s *Store) GetOrderByNum(ctx context.Context, orderNum string) (*domain.Order, error) {
	var row orderRow
	if err := s.db.WithContext(ctx).First(&row, "order_num = ?", orderNum).Error; err != nil {
		return nil, mapErr(err)
	}
	return &row.Doc, nil
}

func (s *Store) FindDraftOrder(ctx context.Context, tableID string) (*domain.Order, error) {
	var row orderRow
	err := s.db.WithContext(ctx).
		Where("table_id = ? AND status = ?", tableID, domain.OrderStatusInProgress).
		Order("created_at DESC").First(&row).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &row.Doc, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(store.Limit(filter.Limit, 50))
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.TableID != "" {
		q = q.Where("table_id = ?", filter.TableID)
	}
	if !filter.From.IsZero() {
		q = q.Where("created_at >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("created_at < ?", filter.To.UTC())
	}
	var rows []orderRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

func (s *Store) ListPrinters(ctx context.Context) ([]domain.Printer, error) {
	var rows []printerRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Printer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

func (s *Store) SavePrinter(ctx context.Context, printer domain.Printer) (*domain.Printer, error) {
	if strings.TrimSpace(printer.Name) == "" {
		return nil, fmt.Errorf("%w: printer name is required", store.ErrInvalid)
	}
	if printer.ID == "" {
		printer.ID = xid.New("prn")
	}
	if err := upsert(s.db.WithContext(ctx), &printerRow{ID: printer.ID, Doc: printer}); err != nil {
		return nil, err
	}
	return &printer, nil
}

func (s *Store) ListKitchens(ctx context.Context) ([]domain.Kitchen, error) {
	var rows []kitchenRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Kitchen, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

func (s *Store) SaveKitchen(ctx context.Context, kitchen domain.Kitchen) (*domain.Kitchen, error) {
	if strings.TrimSpace(kitchen.Name) == "" {
		return nil, fmt.Errorf("%w: kitchen name is required", store.ErrInvalid)
	}
	if kitchen.ID == "" {
		kitchen.ID = xid.New("kit")
	}
	if err := upsert(s.db.WithContext(ctx), &kitchenRow{ID: kitchen.ID, Doc: kitchen}); err != nil {
		return nil, err
	}
	return &kitchen, nil
}

func (s *Store) GetPrintTemplate(ctx context.Context, kind string) (*domain.PrintTemplate, error) {
	var row templateRow
	if err := s.db.WithContext(ctx).First(&row, "kind = ?", kind).Error; err != nil {
		return nil, mapErr(err)
	}
	return &row.Doc, nil
}

func (s *Store) SavePrintTemplate(ctx context.Context, template domain.PrintTemplate) error {
	if template.Kind != domain.PrintKindReceipt && template.Kind != domain.PrintKindKOT {
		return fmt.Errorf("%w: unknown template kind %q", store.ErrInvalid, template.Kind)
	}
	if template.ID == "" {
		template.ID = xid.New("tpl")
	}
	return upsert(s.db.WithContext(ctx), &templateRow{Kind: template.Kind, Doc: template})
}

func (s *Store) GetTable(ctx context.Context, id string) (*domain.SectionTable, error) {
	var row tableRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &row.Doc, nil
}

func (s *Store) ListTables(ctx context.Context) ([]domain.SectionTable, error) {
	var rows []tableRow
	if err := s.db.WithContext(ctx).Order("section_name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.SectionTable, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

func (s *Store) SaveTable(ctx context.Context, table domain.SectionTable) error {
	if table.ID == "" {
		return fmt.Errorf("%w: table id is required", store.ErrInvalid)
	}
	return upsert(s.db.WithContext(ctx), &tableRow{ID: table.ID, SectionName: table.SectionName, Doc: table})
}

func (s *Store) GetCounter(ctx context.Context, name string) (int, error) {
	var row counterRow
	err := s.db.WithContext(ctx).First(&row, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Value, nil
}

func (s *Store) SetCounter(ctx context.Context, name string, value int) error {
	return upsert(s.db.WithContext(ctx), &counterRow{Name: name, Value: value})
}

func (s *Store) GetCartSnapshot(ctx context.Context, tableID string) (*domain.CartSnapshot, error) {
	var row cartRow
	if err := s.db.WithContext(ctx).First(&row, "table_id = ?", tableID).Error; err != nil {
		return nil, mapErr(err)
	}
	return &row.Doc, nil
}

func (s *Store) SaveCartSnapshot(ctx context.Context, snapshot domain.CartSnapshot) error {
	if snapshot.TableID == "" {
		return fmt.Errorf("%w: table id is required", store.ErrInvalid)
	}
	return upsert(s.db.WithContext(ctx), &cartRow{TableID: snapshot.TableID, UpdatedAt: snapshot.UpdatedAt, Doc: snapshot})
}

func (s *Store) DeleteCartSnapshot(ctx context.Context, tableID string) error {
	return s.db.WithContext(ctx).Delete(&cartRow{}, "table_id = ?", tableID).Error
}

func toOutboxRow(e domain.OutboxEntry) *outboxRow {
	return &outboxRow{ID: e.ID, AggregateID: e.AggregateID, Status: e.Status, NextAttemptAt: e.NextAttemptAt.UTC(), CreatedAt: e.CreatedAt.UTC(), Doc: e}
}

func (s *Store) EnqueueOutbox(ctx context.Context, entry domain.OutboxEntry) (*domain.OutboxEntry, error) {
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
		entry.CreatedAt = s.clock.Next(now)
	}
	if entry.NextAttemptAt.IsZero() {
		entry.NextAttemptAt = entry.CreatedAt
	}
	entry.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(toOutboxRow(entry)).Error; err != nil {
		return nil, mapErr(err)
	}
	return &entry, nil
}

func (s *Store) ListDueOutbox(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	var rows []outboxRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", domain.OutboxStatusPending, now.UTC()).
		Where(`NOT EXISTS (
			SELECT 1 FROM outbox AS prior
			WHERE prior.aggregate_id = outbox.aggregate_id
			  AND prior.status = ?
			  AND prior.next_attempt_at > ?
			  AND (prior.created_at < outbox.created_at OR (prior.created_at = outbox.created_at AND prior.id < outbox.id))
		)`, domain.OutboxStatusPending, now.UTC()).
		Order("created_at, id").Limit(store.Limit(limit, 50)).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.OutboxEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

func (s *Store) ListOutbox(ctx context.Context, status string, limit int) ([]domain.OutboxEntry, error) {
	q := s.db.WithContext(ctx).Order("created_at, id").Limit(store.Limit(limit, 100))
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []outboxRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.OutboxEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

func (s *Store) UpdateOutbox(ctx context.Context, entry domain.OutboxEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&outboxRow{}).Where("id = ?", entry.ID).
		Select("status", "next_attempt_at", "doc").
		Updates(toOutboxRow(entry))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(&auditRow{ID: entry.ID, CreatedAt: entry.CreatedAt.UTC(), Doc: entry}).Error
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	q := s.db.WithContext(ctx).Order("seq DESC").Limit(store.Limit(limit, 100))
	if !from.IsZero() {
		q = q.Where("created_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("created_at < ?", to.UTC())
	}
	var rows []auditRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalid
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	row := userRow{Username: username, Password: user.Password, Role: user.Role, Active: true, CreatedAt: user.CreatedAt}
	return mapErr(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("username").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.UserAccount, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.UserAccount{Username: r.Username, Password: r.Password, Role: r.Role, Active: r.Active, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("username = ?", username).Update("password", password)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
