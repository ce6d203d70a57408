package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dinein/backend/internal/domain"
	"dinein/backend/internal/store"
	"dinein/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT true,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS product_skus (
		sku TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		sku TEXT NOT NULL,
		doc JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_product_sku ON batches (product_id, sku)`,
	`CREATE TABLE IF NOT EXISTS stock_records (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		sku TEXT NOT NULL,
		doc JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stock_records_sku ON stock_records (sku, seq DESC)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_num TEXT UNIQUE,
		table_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		doc JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_table_status ON orders (table_id, status)`,
	`CREATE TABLE IF NOT EXISTS printers (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS kitchens (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS print_templates (kind TEXT PRIMARY KEY, doc JSONB NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS section_tables (
		id TEXT PRIMARY KEY,
		section_name TEXT NOT NULL DEFAULT '',
		doc JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS counters (name TEXT PRIMARY KEY, value INTEGER NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS cart_snapshots (
		table_id TEXT PRIMARY KEY,
		doc JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		next_attempt_at TIMESTAMPTZ NOT NULL,
		doc JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`ALTER TABLE outbox ADD COLUMN IF NOT EXISTS aggregate_id TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE outbox ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox (status, next_attempt_at)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox (aggregate_id, status)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		doc JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanDocs[T any](rows *sql.Rows) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0, 16)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func queryDocs[T any](ctx context.Context, q queryer, query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanDocs[T](rows)
}

func queryDoc[T any](ctx context.Context, q queryer, query string, args ...any) (*T, error) {
	var raw []byte
	if err := q.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return queryDocs[domain.Product](ctx, s.db, `
		SELECT doc FROM products WHERE active = true ORDER BY category, name
	`)
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return queryDoc[domain.Product](ctx, s.db, `SELECT doc FROM products WHERE id = $1`, id)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return queryDoc[domain.Product](ctx, s.db, `
		SELECT p.doc FROM products p
		JOIN product_skus ps ON ps.product_id = p.id
		WHERE ps.sku = $1
	`, sku)
}

func (s *Store) SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	product.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertProduct(ctx, tx, product); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM product_skus WHERE product_id = $1`, product.ID); err != nil {
		return nil, err
	}
	for _, v := range product.Variants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO product_skus (sku, product_id) VALUES ($1, $2)`, v.SKU, product.ID); err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: sku %s belongs to another product", store.ErrConflict, v.SKU)
			}
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &product, nil
}

func upsertProduct(ctx context.Context, tx *sql.Tx, product domain.Product) error {
	doc, err := json.Marshal(product)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, name, category, active, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category, active = EXCLUDED.active,
		    doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.Category, product.Active, doc, product.UpdatedAt)
	return err
}

func (s *Store) AdjustStock(ctx context.Context, productID string, baseSKU string, delta int) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := queryDoc[domain.Product](ctx, tx, `SELECT doc FROM products WHERE id = $1 FOR UPDATE`, productID)
	if err != nil {
		return 0, 0, err
	}
	idx := product.VariantIndex(baseSKU)
	if idx < 0 {
		return 0, 0, store.ErrNotFound
	}
	prev := product.Variants[idx].Stock.Count
	product.SetBaseStock(baseSKU, prev+delta)
	product.UpdatedAt = time.Now().UTC()
	if err := upsertProduct(ctx, tx, *product); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return prev, prev + delta, nil
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
	doc, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (id, product_id, sku, doc) VALUES ($1, $2, $3, $4)
	`, batch.ID, batch.ProductID, batch.SKU, doc); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &batch, nil
}

func (s *Store) ListBatches(ctx context.Context, productID string, sku string) ([]domain.Batch, error) {
	batches, err := queryDocs[domain.Batch](ctx, s.db, `
		SELECT doc FROM batches
		WHERE product_id = $1 AND ($2 = '' OR sku = $2)
	`, productID, sku)
	if err != nil {
		return nil, err
	}
	domain.SortFEFO(batches)
	return batches, nil
}

func (s *Store) UpdateBatch(ctx context.Context, batch domain.Batch) error {
	if batch.Available < 0 {
		return fmt.Errorf("%w: batch available must not be negative", store.ErrInvalid)
	}
	doc, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	return execAffecting(ctx, s.db, `UPDATE batches SET doc = $2 WHERE id = $1`, batch.ID, doc)
}

func (s *Store) AppendStockRecord(ctx context.Context, record domain.StockRecord) error {
	if record.ID == "" {
		record.ID = xid.New("stk")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stock_records (id, sku, doc, created_at) VALUES ($1, $2, $3, $4)
	`, record.ID, record.SKU, doc, record.CreatedAt)
	return err
}

func (s *Store) ListStockRecords(ctx context.Context, sku string, limit int) ([]domain.StockRecord, error) {
	return queryDocs[domain.StockRecord](ctx, s.db, `
		SELECT doc FROM stock_records
		WHERE ($1 = '' OR sku = $1)
		ORDER BY seq DESC
		LIMIT $2
	`, sku, store.Limit(limit, 100))
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, order_num, table_id, status, doc, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, order.ID, nullIfEmpty(order.OrderNum), order.TableID, order.OrderStatus, doc, order.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order %s or number %s exists", store.ErrConflict, order.ID, order.OrderNum)
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	doc, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	err = execAffecting(ctx, s.db, `
		UPDATE orders SET order_num = $2, table_id = $3, status = $4, doc = $5
		WHERE id = $1
	`, order.ID, nullIfEmpty(order.OrderNum), order.TableID, order.OrderStatus, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order number %s taken", store.ErrConflict, order.OrderNum)
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) AppendRefund(ctx context.Context, orderID string, refund domain.Refund) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := queryDoc[domain.Order](ctx, tx, `SELECT doc FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	if err != nil {
		return nil, err
	}
	if err := store.CheckRefund(*order, refund); err != nil {
		return nil, err
	}
	order.Refunds = append(order.Refunds, refund)
	order.UpdatedAt = refund.CreatedAt
	doc, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET doc = $2 WHERE id = $1`, orderID, doc); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) MarkOrderSynced(ctx context.Context, orderID string, at time.Time) error {
	return execAffecting(ctx, s.db, `
		UPDATE orders SET doc = jsonb_set(doc, '{synced_at}', to_jsonb($2::text)) WHERE id = $1
	`, orderID, at.UTC().Format(time.RFC3339Nano))
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return queryDoc[domain.Order](ctx, s.db, `SELECT doc FROM orders WHERE id = $1`, id)
}

func (s *Store) GetOrderByNum(ctx context.Context, orderNum string) (*domain.Order, error) {
	return queryDoc[domain.Order](ctx, s.db, `SELECT doc FROM orders WHERE order_num = $1`, orderNum)
}

func (s *Store) FindDraftOrder(ctx context.Context, tableID string) (*domain.Order, error) {
	return queryDoc[domain.Order](ctx, s.db, `
		SELECT doc FROM orders
		WHERE table_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, tableID, domain.OrderStatusInProgress)
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	clauses := []string{"1 = 1"}
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.TableID != "" {
		add("table_id = $%d", filter.TableID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	args = append(args, store.Limit(filter.Limit, 50))
	query := fmt.Sprintf(`SELECT doc FROM orders WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		strings.Join(clauses, " AND "), len(args))
	return queryDocs[domain.Order](ctx, s.db, query, args...)
}

func (s *Store) ListPrinters(ctx context.Context) ([]domain.Printer, error) {
	return queryDocs[domain.Printer](ctx, s.db, `SELECT doc FROM printers ORDER BY id`)
}

func (s *Store) SavePrinter(ctx context.Context, printer domain.Printer) (*domain.Printer, error) {
	if strings.TrimSpace(printer.Name) == "" {
		return nil, fmt.Errorf("%w: printer name is required", store.ErrInvalid)
	}
	if printer.ID == "" {
		printer.ID = xid.New("prn")
	}
	if err := s.upsertDoc(ctx, "printers", "id", printer.ID, printer); err != nil {
		return nil, err
	}
	return &printer, nil
}

func (s *Store) ListKitchens(ctx context.Context) ([]domain.Kitchen, error) {
	return queryDocs[domain.Kitchen](ctx, s.db, `SELECT doc FROM kitchens ORDER BY id`)
}

func (s *Store) SaveKitchen(ctx context.Context, kitchen domain.Kitchen) (*domain.Kitchen, error) {
	if strings.TrimSpace(kitchen.Name) == "" {
		return nil, fmt.Errorf("%w: kitchen name is required", store.ErrInvalid)
	}
	if kitchen.ID == "" {
		kitchen.ID = xid.New("kit")
	}
	if err := s.upsertDoc(ctx, "kitchens", "id", kitchen.ID, kitchen); err != nil {
		return nil, err
	}
	return &kitchen, nil
}

func (s *Store) GetPrintTemplate(ctx context.Context, kind string) (*domain.PrintTemplate, error) {
	return queryDoc[domain.PrintTemplate](ctx, s.db, `SELECT doc FROM print_templates WHERE kind = $1`, kind)
}

func (s *Store) SavePrintTemplate(ctx context.Context, template domain.PrintTemplate) error {
	if template.Kind != domain.PrintKindReceipt && template.Kind != domain.PrintKindKOT {
		return fmt.Errorf("%w: unknown template kind %q", store.ErrInvalid, template.Kind)
	}
	if template.ID == "" {
		template.ID = xid.New("tpl")
	}
	return s.upsertDoc(ctx, "print_templates", "kind", template.Kind, template)
}

func (s *Store) GetTable(ctx context.Context, id string) (*domain.SectionTable, error) {
	return queryDoc[domain.SectionTable](ctx, s.db, `SELECT doc FROM section_tables WHERE id = $1`, id)
}

func (s *Store) ListTables(ctx context.Context) ([]domain.SectionTable, error) {
	return queryDocs[domain.SectionTable](ctx, s.db, `SELECT doc FROM section_tables ORDER BY section_name, id`)
}

func (s *Store) SaveTable(ctx context.Context, table domain.SectionTable) error {
	if table.ID == "" {
		return fmt.Errorf("%w: table id is required", store.ErrInvalid)
	}
	doc, err := json.Marshal(table)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO section_tables (id, section_name, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET section_name = EXCLUDED.section_name, doc = EXCLUDED.doc
	`, table.ID, table.SectionName, doc)
	return err
}

func (s *Store) GetCounter(ctx context.Context, name string) (int, error) {
	var value int
	err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return value, err
}

func (s *Store) SetCounter(ctx context.Context, name string, value int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value
	`, name, value)
	return err
}

func (s *Store) GetCartSnapshot(ctx context.Context, tableID string) (*domain.CartSnapshot, error) {
	return queryDoc[domain.CartSnapshot](ctx, s.db, `SELECT doc FROM cart_snapshots WHERE table_id = $1`, tableID)
}

func (s *Store) SaveCartSnapshot(ctx context.Context, snapshot domain.CartSnapshot) error {
	if snapshot.TableID == "" {
		return fmt.Errorf("%w: table id is required", store.ErrInvalid)
	}
	if snapshot.UpdatedAt.IsZero() {
		snapshot.UpdatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cart_snapshots (table_id, doc, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (table_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at
	`, snapshot.TableID, doc, snapshot.UpdatedAt)
	return err
}

func (s *Store) DeleteCartSnapshot(ctx context.Context, tableID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cart_snapshots WHERE table_id = $1`, tableID)
	return err
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
		entry.CreatedAt = now
	}
	if entry.NextAttemptAt.IsZero() {
		entry.NextAttemptAt = entry.CreatedAt
	}
	entry.UpdatedAt = now
	doc, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_id, status, next_attempt_at, doc, created_at) VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.AggregateID, entry.Status, entry.NextAttemptAt, doc, entry.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) ListDueOutbox(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error) {
	return queryDocs[domain.OutboxEntry](ctx, s.db, `
		SELECT o.doc FROM outbox o
		WHERE o.status = $1 AND o.next_attempt_at <= $2
		  AND NOT EXISTS (
			SELECT 1 FROM outbox prior
			WHERE prior.aggregate_id = o.aggregate_id
			  AND prior.status = $1
			  AND prior.next_attempt_at > $2
			  AND prior.seq < o.seq
		  )
		ORDER BY o.seq
		LIMIT $3
	`, domain.OutboxStatusPending, now, store.Limit(limit, 50))
}

func (s *Store) ListOutbox(ctx context.Context, status string, limit int) ([]domain.OutboxEntry, error) {
	return queryDocs[domain.OutboxEntry](ctx, s.db, `
		SELECT doc FROM outbox
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at, id
		LIMIT $2
	`, status, store.Limit(limit, 100))
}

func (s *Store) UpdateOutbox(ctx context.Context, entry domain.OutboxEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return execAffecting(ctx, s.db, `
		UPDATE outbox SET status = $2, next_attempt_at = $3, doc = $4 WHERE id = $1
	`, entry.ID, entry.Status, entry.NextAttemptAt, doc)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, doc, created_at) VALUES ($1, $2, $3)
	`, entry.ID, doc, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Hour)
	}
	return queryDocs[domain.AuditLog](ctx, s.db, `
		SELECT doc FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY seq DESC
		LIMIT $3
	`, from, to, store.Limit(limit, 100))
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, role, active, created_at)
		VALUES ($1, $2, $3, true, $4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password_hash, role, active, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalid
	}
	return execAffecting(ctx, s.db, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
}

// upsertDoc writes a document into a (key, doc) table. table and keyCol are
// package constants, never caller input.
func (s *Store) upsertDoc(ctx context.Context, table string, keyCol string, key string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, doc) VALUES ($1, $2)
		ON CONFLICT (%s) DO UPDATE SET doc = EXCLUDED.doc
	`, table, keyCol, keyCol), key, doc)
	return err
}

func execAffecting(ctx context.Context, db *sql.DB, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
