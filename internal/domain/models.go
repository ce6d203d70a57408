package domain

import "time"

// VariantKind is the closed set of sellable shapes. Code that branches on it
// must handle every value and reject unknown ones.
type VariantKind string

const (
	VariantItem      VariantKind = "item"
	VariantBox       VariantKind = "box"
	VariantCrate     VariantKind = "crate"
	VariantOpenPrice VariantKind = "open_price"
)

func (k VariantKind) Valid() bool {
	switch k {
	case VariantItem, VariantBox, VariantCrate, VariantOpenPrice:
		return true
	default:
		return false
	}
}

// UnitPerItem marks discrete products. Any other unit (kg, l, ...) is continuous.
const UnitPerItem = "perItem"

type Product struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Category        string    `json:"category"`
	KitchenRef      string    `json:"kitchen_ref,omitempty"`
	TaxPercentage   float64   `json:"tax_percentage"`
	BatchingEnabled bool      `json:"batching_enabled"`
	Unit            string    `json:"unit"`
	Variants        []Variant `json:"variants"`
	Active          bool      `json:"active"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Variant returns the variant with the given sku.
func (p Product) Variant(sku string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.SKU == sku {
			return v, true
		}
	}
	return Variant{}, false
}

func (p Product) VariantIndex(sku string) int {
	for i, v := range p.Variants {
		if v.SKU == sku {
			return i
		}
	}
	return -1
}

type Variant struct {
	SKU        string      `json:"sku"`
	Name       string      `json:"name"`
	Kind       VariantKind `json:"kind"`
	ParentSKU  string      `json:"parent_sku,omitempty"`
	NoOfUnits  int         `json:"no_of_units,omitempty"`
	Price      float64     `json:"price"`
	TierPrices []float64   `json:"tier_prices,omitempty"`
	Stock      StockConfig `json:"stock"`
}

type StockConfig struct {
	Tracking     bool `json:"tracking"`
	Count        int  `json:"count"`
	Availability bool `json:"availability"`
}

type Modifier struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type CartItem struct {
	LineID               string      `json:"line_id"`
	ProductID            string      `json:"product_id"`
	SKU                  string      `json:"sku"`
	ParentSKU            string      `json:"parent_sku,omitempty"`
	Name                 string      `json:"name"`
	Kind                 VariantKind `json:"kind"`
	Unit                 string      `json:"unit"`
	Category             string      `json:"category,omitempty"`
	KitchenRef           string      `json:"kitchen_ref,omitempty"`
	Qty                  int         `json:"qty"`
	Measure              float64     `json:"measure,omitempty"`
	Price                float64     `json:"price"`
	TaxPercentage        float64     `json:"tax_percentage"`
	SellingPrice         float64     `json:"selling_price"`
	VatAmount            float64     `json:"vat_amount"`
	DiscountPercent      float64     `json:"discount_percent,omitempty"`
	Total                float64     `json:"total"`
	Modifiers            []Modifier  `json:"modifiers,omitempty"`
	Void                 bool        `json:"void"`
	VoidReason           string      `json:"void_reason,omitempty"`
	Comp                 bool        `json:"comp"`
	CompReason           string      `json:"comp_reason,omitempty"`
	Selected             bool        `json:"selected"`
	SentToKot            bool        `json:"sent_to_kot"`
	SentToKotAt          *time.Time  `json:"sent_to_kot_at,omitempty"`
	KotID                string      `json:"kot_id,omitempty"`
	AmountBeforeVoidComp float64     `json:"amount_before_void_comp"`
	Note                 string      `json:"note,omitempty"`
}

// Billable reports whether the line contributes to the order total.
func (c CartItem) Billable() bool {
	return !c.Void && !c.Comp
}

type CartSnapshot struct {
	TableID   string     `json:"table_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Discount struct {
	Kind   string  `json:"kind"`
	Value  float64 `json:"value"`
	Reason string  `json:"reason,omitempty"`
}

type Charge struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Kind          string  `json:"kind"`
	Value         float64 `json:"value"`
	TaxPercentage float64 `json:"tax_percentage"`
	Amount        float64 `json:"amount"`
	Vat           float64 `json:"vat"`
	Total         float64 `json:"total"`
}

type PaymentBreakup struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Total     float64   `json:"total"`
	Change    float64   `json:"change"`
	Reference string    `json:"reference,omitempty"`
	PaidAt    time.Time `json:"paid_at"`
}

type Payment struct {
	Total    float64          `json:"total"`
	Vat      float64          `json:"vat"`
	SubTotal float64          `json:"sub_total"`
	Discount float64          `json:"discount"`
	Charges  []Charge         `json:"charges"`
	Breakup  []PaymentBreakup `json:"breakup"`
	Methods  []string         `json:"methods,omitempty"`
}

type Refund struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason"`
	Amount    float64   `json:"amount"`
	Provider  string    `json:"provider"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID                  string     `json:"id"`
	OrderNum            string     `json:"order_num,omitempty"`
	TokenNum            int        `json:"token_num,omitempty"`
	OrderType           string     `json:"order_type"`
	TableID             string     `json:"table_id"`
	CustomerRef         string     `json:"customer_ref,omitempty"`
	OrderStatus         string     `json:"order_status"`
	Items               []CartItem `json:"items"`
	Payment             Payment    `json:"payment"`
	DiscountSpec        *Discount  `json:"discount_spec,omitempty"`
	Refunds             []Refund   `json:"refunds"`
	SpecialInstructions string     `json:"special_instructions,omitempty"`
	Source              string     `json:"source"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	SyncedAt            *time.Time `json:"synced_at,omitempty"`
}

// RefundedTotal is the sum of every refund appended to the order.
func (o Order) RefundedTotal() float64 {
	total := 0.0
	for _, r := range o.Refunds {
		total += r.Amount
	}
	return total
}

type OrderFilter struct {
	Status  string
	TableID string
	From    time.Time
	To      time.Time
	Limit   int
}

type StockRecord struct {
	ID                 string    `json:"id"`
	ProductID          string    `json:"product_id"`
	SKU                string    `json:"sku"`
	PreviousStockCount int       `json:"previous_stock_count"`
	Delta              int       `json:"delta"`
	StockCount         int       `json:"stock_count"`
	StockAction        string    `json:"stock_action"`
	OrderRef           string    `json:"order_ref,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type Batch struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"product_id"`
	SKU        string     `json:"sku"`
	Expiry     *time.Time `json:"expiry,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
	Available  int        `json:"available"`
	Status     string     `json:"status"`
}

type Kitchen struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Categories []string `json:"categories,omitempty"`
}

type KOT struct {
	ID          string     `json:"id"`
	OrderRef    string     `json:"order_ref"`
	TableID     string     `json:"table_id"`
	KitchenRef  string     `json:"kitchen_ref,omitempty"`
	KitchenName string     `json:"kitchen_name"`
	Unassigned  bool       `json:"unassigned"`
	Items       []CartItem `json:"items"`
	SentAt      time.Time  `json:"sent_at"`
}

type Printer struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	DeviceID     string   `json:"device_id"`
	WidthMM      int      `json:"width_mm"`
	DPI          int      `json:"dpi"`
	CharsPerLine int      `json:"chars_per_line"`
	Receipt      bool     `json:"receipt"`
	KOT          bool     `json:"kot"`
	KitchenRefs  []string `json:"kitchen_refs,omitempty"`
	OpenDrawer   bool     `json:"open_drawer"`
	Enabled      bool     `json:"enabled"`
}

type PrintTemplate struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Header    string `json:"header"`
	Footer    string `json:"footer"`
	ShowToken bool   `json:"show_token"`
}

type SectionTable struct {
	ID          string    `json:"id"`
	SectionID   string    `json:"section_id"`
	SectionName string    `json:"section_name"`
	Label       string    `json:"label"`
	Capacity    int       `json:"capacity"`
	Status      string    `json:"status"`
	OrderRef    string    `json:"order_ref,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type OutboxEntry struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	AggregateID   string    `json:"aggregate_id"`
	Payload       []byte    `json:"payload"`
	Status        string    `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type AddItemRequest struct {
	SKU             string     `json:"sku"`
	Qty             int        `json:"qty"`
	Measure         float64    `json:"measure,omitempty"`
	Price           *float64   `json:"price,omitempty"`
	Modifiers       []Modifier `json:"modifiers,omitempty"`
	Note            string     `json:"note,omitempty"`
	DiscountPercent float64    `json:"discount_percent,omitempty"`
}

type RefundRequest struct {
	Amount   float64 `json:"amount"`
	Reason   string  `json:"reason"`
	Provider string  `json:"provider"`
}

type ReceiveBatchRequest struct {
	SKU    string `json:"sku"`
	Qty    int    `json:"qty"`
	Expiry string `json:"expiry,omitempty"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserSummary struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	// Approved is set when a manager PIN authorized this request.
	Approved bool
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	OrderStatusInProgress = "in-progress"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

const (
	OrderSourceLocal  = "local"
	OrderSourceServer = "server"
)

const (
	ProviderCash   = "cash"
	ProviderCard   = "card"
	ProviderWallet = "wallet"
	ProviderCredit = "credit"
)

// ValidProvider reports whether p is a tender type the till accepts.
func ValidProvider(p string) bool {
	switch p {
	case ProviderCash, ProviderCard, ProviderWallet, ProviderCredit:
		return true
	default:
		return false
	}
}

const (
	BatchStatusActive   = "active"
	BatchStatusDepleted = "depleted"
)

const (
	TableStatusFree     = "free"
	TableStatusOccupied = "occupied"
)

const (
	OutboxStatusPending = "pending"
	OutboxStatusDone    = "done"
	OutboxStatusDead    = "dead"
)

const (
	OutboxKindOrderUpsert = "order.upsert"
	OutboxKindOrderRefund = "order.refund"
)

const (
	AmountKindFlat       = "flat"
	AmountKindPercentage = "percentage"
)

const (
	PrintKindReceipt = "receipt"
	PrintKindKOT     = "kot"
)

const (
	StockActionBilling = "billing"
	StockActionReceive = "receive"
)

const (
	RoleCashier = "cashier"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)
