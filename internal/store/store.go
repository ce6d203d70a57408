package store

import (
	"context"
	"errors"
	"time"

	"dinein/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid")
	ErrConflict = errors.New("conflict")
)

// CounterTicketToken names the persisted ticket token counter.
const CounterTicketToken = "ticket-token"

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	SaveProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// AdjustStock adds delta to the base variant count and returns the count
	// before and after the change. Box and crate counts are re-derived.
	AdjustStock(ctx context.Context, productID string, baseSKU string, delta int) (int, int, error)

	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	ListBatches(ctx context.Context, productID string, sku string) ([]domain.Batch, error)
	UpdateBatch(ctx context.Context, batch domain.Batch) error

	AppendStockRecord(ctx context.Context, record domain.StockRecord) error
	ListStockRecords(ctx context.Context, sku string, limit int) ([]domain.StockRecord, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByNum(ctx context.Context, orderNum string) (*domain.Order, error)
	FindDraftOrder(ctx context.Context, tableID string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	// AppendRefund adds refund to a completed order only while the refunded
	// total stays within the order total. The check and the write are atomic.
	AppendRefund(ctx context.Context, orderID string, refund domain.Refund) (*domain.Order, error)
	// MarkOrderSynced sets synced_at without rewriting the rest of the order.
	MarkOrderSynced(ctx context.Context, orderID string, at time.Time) error

	ListPrinters(ctx context.Context) ([]domain.Printer, error)
	SavePrinter(ctx context.Context, printer domain.Printer) (*domain.Printer, error)
	ListKitchens(ctx context.Context) ([]domain.Kitchen, error)
	SaveKitchen(ctx context.Context, kitchen domain.Kitchen) (*domain.Kitchen, error)
	GetPrintTemplate(ctx context.Context, kind string) (*domain.PrintTemplate, error)
	SavePrintTemplate(ctx context.Context, template domain.PrintTemplate) error

	GetTable(ctx context.Context, id string) (*domain.SectionTable, error)
	ListTables(ctx context.Context) ([]domain.SectionTable, error)
	SaveTable(ctx context.Context, table domain.SectionTable) error

	// GetCounter returns 0 for a counter that was never set.
	GetCounter(ctx context.Context, name string) (int, error)
	SetCounter(ctx context.Context, name string, value int) error

	GetCartSnapshot(ctx context.Context, tableID string) (*domain.CartSnapshot, error)
	SaveCartSnapshot(ctx context.Context, snapshot domain.CartSnapshot) error
	DeleteCartSnapshot(ctx context.Context, tableID string) error

	EnqueueOutbox(ctx context.Context, entry domain.OutboxEntry) (*domain.OutboxEntry, error)
	// ListDueOutbox returns pending entries due at now, oldest first. An entry
	// queued behind an older pending entry for the same aggregate that is not
	// due yet is held back, so an aggregate is always delivered in order.
	ListDueOutbox(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error)
	ListOutbox(ctx context.Context, status string, limit int) ([]domain.OutboxEntry, error)
	UpdateOutbox(ctx context.Context, entry domain.OutboxEntry) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
