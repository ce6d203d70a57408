package sqlite

import (
	"time"

	"dinein/backend/internal/domain"
)

// Each row keeps the columns it is queried by and the full entity as a JSON
// document.

type productRow struct {
	ID        string         `gorm:"primaryKey"`
	Category  string         `gorm:"index"`
	Name      string
	Active    bool           `gorm:"index"`
	UpdatedAt time.Time
	Doc       domain.Product `gorm:"serializer:json"`
}

func (productRow) TableName() string { return "products" }

type productSKURow struct {
	SKU       string `gorm:"primaryKey"`
	ProductID string `gorm:"index"`
}

func (productSKURow) TableName() string { return "product_skus" }

type batchRow struct {
	ID        string       `gorm:"primaryKey"`
	ProductID string       `gorm:"index:idx_batches_product_sku"`
	SKU       string       `gorm:"index:idx_batches_product_sku"`
	Doc       domain.Batch `gorm:"serializer:json"`
}

func (batchRow) TableName() string { return "batches" }

type stockRecordRow struct {
	Seq       uint64             `gorm:"primaryKey;autoIncrement"`
	ID        string             `gorm:"uniqueIndex"`
	SKU       string             `gorm:"index"`
	CreatedAt time.Time
	Doc       domain.StockRecord `gorm:"serializer:json"`
}

func (stockRecordRow) TableName() string { return "stock_records" }

type orderRow struct {
	ID        string       `gorm:"primaryKey"`
	OrderNum  *string      `gorm:"uniqueIndex"`
	TableID   string       `gorm:"index"`
	Status    string       `gorm:"index"`
	CreatedAt time.Time    `gorm:"index"`
	Doc       domain.Order `gorm:"serializer:json"`
}

func (orderRow) TableName() string { return "orders" }

type printerRow struct {
	ID  string         `gorm:"primaryKey"`
	Doc domain.Printer `gorm:"serializer:json"`
}

func (printerRow) TableName() string { return "printers" }

type kitchenRow struct {
	ID  string         `gorm:"primaryKey"`
	Doc domain.Kitchen `gorm:"serializer:json"`
}

func (kitchenRow) TableName() string { return "kitchens" }

type templateRow struct {
	Kind string               `gorm:"primaryKey"`
	Doc  domain.PrintTemplate `gorm:"serializer:json"`
}

func (templateRow) TableName() string { return "print_templates" }

type tableRow struct {
	ID          string              `gorm:"primaryKey"`
	SectionName string              `gorm:"index"`
	Doc         domain.SectionTable `gorm:"serializer:json"`
}

func (tableRow) TableName() string { return "section_tables" }

type counterRow struct {
	Name  string `gorm:"primaryKey"`
	Value int
}

func (counterRow) TableName() string { return "counters" }

type cartRow struct {
	TableID   string              `gorm:"primaryKey"`
	UpdatedAt time.Time
	Doc       domain.CartSnapshot `gorm:"serializer:json"`
}

func (cartRow) TableName() string { return "cart_snapshots" }

type outboxRow struct {
	ID            string             `gorm:"primaryKey"`
	AggregateID   string             `gorm:"index"`
	Status        string             `gorm:"index:idx_outbox_due"`
	NextAttemptAt time.Time          `gorm:"index:idx_outbox_due"`
	CreatedAt     time.Time
	Doc           domain.OutboxEntry `gorm:"serializer:json"`
}

func (outboxRow) TableName() string { return "outbox" }

type auditRow struct {
	Seq       uint64          `gorm:"primaryKey;autoIncrement"`
	ID        string          `gorm:"uniqueIndex"`
	CreatedAt time.Time       `gorm:"index"`
	Doc       domain.AuditLog `gorm:"serializer:json"`
}

func (auditRow) TableName() string { return "audit_logs" }

type userRow struct {
	Username  string `gorm:"primaryKey"`
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

func allModels() []any {
	return []any{
		&productRow{}, &productSKURow{}, &batchRow{}, &stockRecordRow{}, &orderRow{},
		&printerRow{}, &kitchenRow{}, &templateRow{}, &tableRow{}, &counterRow{},
		&cartRow{}, &outboxRow{}, &auditRow{}, &userRow{},
	}
}
