package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Actor identifies who is calling and from which store. It is passed into
// every operation explicitly.
type Actor struct {
	UserID  string `json:"user_id"`
	StoreID string `json:"store_id"`
}

type Shift struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	StoreID           string          `json:"store_id"`
	Status            string          `json:"status"`
	OpeningCash       decimal.Decimal `json:"opening_cash"`
	ClosingCash       decimal.Decimal `json:"closing_cash"`
	ExpectedCash      decimal.Decimal `json:"expected_cash"`
	CashDifference    decimal.Decimal `json:"cash_difference"`
	TotalSales        decimal.Decimal `json:"total_sales"`
	TotalDiscount     decimal.Decimal `json:"total_discount"`
	TotalRefund       decimal.Decimal `json:"total_refund"`
	TotalProfit       decimal.Decimal `json:"total_profit"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	TotalItems        decimal.Decimal `json:"total_items"`
	TotalTransactions int64           `json:"total_transactions"`
	OpenedAt          time.Time       `json:"opened_at"`
	ClosedAt          *time.Time      `json:"closed_at,omitempty"`
}

// ShiftDelta is added onto a shift's running totals in one atomic step.
type ShiftDelta struct {
	Sales        decimal.Decimal
	Discount     decimal.Decimal
	Refund       decimal.Decimal
	Profit       decimal.Decimal
	Cost         decimal.Decimal
	Items        decimal.Decimal
	Transactions int64
}

type ShiftOpenRequest struct {
	OpeningCash decimal.Decimal `json:"opening_cash"`
}

type ShiftCloseRequest struct {
	ShiftID     string          `json:"shift_id"`
	ClosingCash decimal.Decimal `json:"closing_cash"`
	Notes       string          `json:"notes"`
}

type ShiftCloseResult struct {
	Shift Shift `json:"shift"`
	// ClearActiveStore tells the caller to drop the user's active-store pointer.
	ClearActiveStore bool `json:"clear_active_store"`
}

type Order struct {
	ID            string          `json:"id"`
	Number        string          `json:"number"`
	StoreID       string          `json:"store_id"`
	CustomerID    string          `json:"customer_id,omitempty"`
	ShiftID       string          `json:"shift_id"`
	CreatedBy     string          `json:"created_by"`
	Status        string          `json:"status"`
	OrderedAt     time.Time       `json:"ordered_at"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalDiscount decimal.Decimal `json:"total_discount"`
	TotalRefund   decimal.Decimal `json:"total_refund"`
	TotalItems    decimal.Decimal `json:"total_items"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	Items         []OrderItem     `json:"items"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	Position       int             `json:"position"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Discount       decimal.Decimal `json:"discount"`
	Total          decimal.Decimal `json:"total"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Cost           decimal.Decimal `json:"cost"`
	Profit         decimal.Decimal `json:"profit"`
	RefundedQty    decimal.Decimal `json:"refunded_qty"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Status         string          `json:"status"`
}

type OrderItemInput struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
}

type DraftOrderRequest struct {
	CustomerID string           `json:"customer_id,omitempty"`
	OrderedAt  *time.Time       `json:"ordered_at,omitempty"`
	Items      []OrderItemInput `json:"items"`
}

type RefundLine struct {
	ItemID   string          `json:"item_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type Payment struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	TotalAmountDue  decimal.Decimal `json:"total_amount_due"`
	TotalPaidAmount decimal.Decimal `json:"total_paid_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	ChangeAmount    decimal.Decimal `json:"change_amount"`
	IsFullyPaid     bool            `json:"is_fully_paid"`
	Methods         []PaymentMethod `json:"methods"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type SettleRequest struct {
	OrderID string `json:"order_id"`
	// TotalAmountDue is what the terminal believes the order costs; it must
	// match the order's current total.
	TotalAmountDue decimal.Decimal `json:"total_amount_due"`
	Methods        []PaymentMethod `json:"methods"`
}

type PaymentMethodKind string

const (
	MethodCash        PaymentMethodKind = "CASH"
	MethodCard        PaymentMethodKind = "CARD"
	MethodCheck       PaymentMethodKind = "CHECK"
	MethodLoyaltyCard PaymentMethodKind = "LOYALTY_CARD"
	MethodVoucher     PaymentMethodKind = "VOUCHER"
)

// PaymentMethod is a tagged variant: Kind selects which one of the payload
// pointers is set. CASH carries no payload.
type PaymentMethod struct {
	ID        string            `json:"id"`
	PaymentID string            `json:"payment_id"`
	Position  int               `json:"position"`
	Kind      PaymentMethodKind `json:"kind"`
	Amount    decimal.Decimal   `json:"amount"`
	CreatedAt time.Time         `json:"created_at"`
	Card      *CardPayment      `json:"card,omitempty"`
	Check     *CheckPayment     `json:"check,omitempty"`
	Loyalty   *LoyaltyPayment   `json:"loyalty,omitempty"`
	Voucher   *VoucherPayment   `json:"voucher,omitempty"`
}

type CardPayment struct {
	// Number is accepted on input only and never persisted.
	Number     string `json:"number,omitempty"`
	Last4      string `json:"last4"`
	HolderName string `json:"holder_name"`
	Expiry     string `json:"expiry"`
}

type CheckPayment struct {
	Number string `json:"number"`
	Bank   string `json:"bank"`
}

type LoyaltyPayment struct {
	CardNumber     string `json:"card_number"`
	PointsRedeemed int64  `json:"points_redeemed"`
}

type VoucherPayment struct {
	Code string `json:"code"`
}

type StockRecord struct {
	StoreID      string          `json:"store_id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	PriceTiers   []PriceTier     `json:"price_tiers,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type PriceTier struct {
	MinQuantity decimal.Decimal `json:"min_quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type StockKey struct {
	StoreID   string
	ProductID string
}

func (r StockRecord) Key() StockKey {
	return StockKey{StoreID: r.StoreID, ProductID: r.ProductID}
}

type Inventory struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	CreatedBy     string          `json:"created_by"`
	Notes         string          `json:"notes,omitempty"`
	Status        string          `json:"status"`
	ExpectedValue decimal.Decimal `json:"expected_value"`
	FoundValue    decimal.Decimal `json:"found_value"`
	LossValue     decimal.Decimal `json:"loss_value"`
	GainValue     decimal.Decimal `json:"gain_value"`
	Lines         []InventoryLine `json:"lines"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"`
}

type InventoryLine struct {
	ID            string              `json:"id"`
	InventoryID   string              `json:"inventory_id"`
	Position      int                 `json:"position"`
	ProductID     string              `json:"product_id"`
	ProductName   string              `json:"product_name"`
	UnitCost      decimal.Decimal     `json:"unit_cost"`
	ExpectedQty   decimal.Decimal     `json:"expected_qty"`
	FoundQty      decimal.NullDecimal `json:"found_qty"`
	Difference    decimal.Decimal     `json:"difference"`
	ExpectedValue decimal.Decimal     `json:"expected_value"`
	FoundValue    decimal.Decimal     `json:"found_value"`
	LossValue     decimal.Decimal     `json:"loss_value"`
	GainValue     decimal.Decimal     `json:"gain_value"`
}

func (l InventoryLine) Recorded() bool {
	return l.FoundQty.Valid
}

type StartCountRequest struct {
	ProductIDs []string `json:"product_ids"`
	Notes      string   `json:"notes,omitempty"`
}

type StockMovement struct {
	ID          string              `json:"id"`
	FromStoreID string              `json:"from_store_id"`
	ToStoreID   string              `json:"to_store_id"`
	MovedAt     time.Time           `json:"moved_at"`
	CreatedBy   string              `json:"created_by"`
	Notes       string              `json:"notes,omitempty"`
	Items       []StockMovementItem `json:"items"`
	CreatedAt   time.Time           `json:"created_at"`
}

type StockMovementItem struct {
	ID           string          `json:"id"`
	MovementID   string          `json:"movement_id"`
	Position     int             `json:"position"`
	ProductID    string          `json:"product_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Notes        string          `json:"notes,omitempty"`
	SourceBefore decimal.Decimal `json:"source_before"`
	SourceAfter  decimal.Decimal `json:"source_after"`
	DestBefore   decimal.Decimal `json:"dest_before"`
	DestAfter    decimal.Decimal `json:"dest_after"`
}

type TransferLine struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Notes     string          `json:"notes,omitempty"`
}

type TransferRequest struct {
	FromStoreID string         `json:"from_store_id"`
	ToStoreID   string         `json:"to_store_id"`
	MovedAt     *time.Time     `json:"moved_at,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Items       []TransferLine `json:"items"`
}

type AuditLog struct {
	ID          string    `json:"id"`
	StoreID     string    `json:"store_id"`
	ActorUserID string    `json:"actor_user_id"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	Detail      string    `json:"detail"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	ShiftStatusOpen   = "OPEN"
	ShiftStatusClosed = "CLOSED"
)

const (
	OrderStatusDraft             = "DRAFT"
	OrderStatusConfirmed         = "CONFIRMED"
	OrderStatusPartiallyRefunded = "PARTIALLY_REFUNDED"
	OrderStatusRefunded          = "REFUNDED"
	OrderStatusCancelled         = "CANCELLED"
)

const (
	ItemStatusPending           = "PENDING"
	ItemStatusSold              = "SOLD"
	ItemStatusPartiallyRefunded = "PARTIALLY_REFUNDED"
	ItemStatusRefunded          = "REFUNDED"
	ItemStatusCancelled         = "CANCELLED"
)

const (
	InventoryStatusDraft      = "DRAFT"
	InventoryStatusInProgress = "IN_PROGRESS"
	InventoryStatusClosed     = "CLOSED"
)
