package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"kasirinaja/poscore/internal/domain"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// TxFunc runs inside one unit of work. Returning an error rolls back every
// write made through tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store hands out units of work. Implementations commit when fn returns nil
// and roll back on any error or panic; fn may run more than once when the
// backend asks for a retry, so it must not have side effects outside tx.
type Store interface {
	WithinTx(ctx context.Context, fn TxFunc) error
	Ping(ctx context.Context) error
	Close() error
}

type Tx interface {
	ShiftRepository
	OrderRepository
	PaymentRepository
	InventoryRepository
	MovementRepository
	StockLedger
	LoyaltyLedger
	AuditRepository
}

type ShiftRepository interface {
	GetShift(ctx context.Context, id string, forUpdate bool) (*domain.Shift, error)
	FindOpenShiftByUser(ctx context.Context, userID string, forUpdate bool) (*domain.Shift, error)
	ListOpenShiftsByStore(ctx context.Context, storeID string) ([]domain.Shift, error)
	// InsertShift fails with ErrConflict when the user already has an OPEN shift.
	InsertShift(ctx context.Context, shift domain.Shift) error
	// ApplyShiftDelta increments the rollups in place and returns the new
	// state. It fails with ErrInvalidState unless the shift is OPEN.
	ApplyShiftDelta(ctx context.Context, shiftID string, delta domain.ShiftDelta) (*domain.Shift, error)
	UpdateShift(ctx context.Context, shift domain.Shift) error
}

type OrderRepository interface {
	// GetOrder returns the order with items in insertion order.
	GetOrder(ctx context.Context, id string, forUpdate bool) (*domain.Order, error)
	InsertOrder(ctx context.Context, order domain.Order) error
	// UpdateOrder writes the header and replaces the item list.
	UpdateOrder(ctx context.Context, order domain.Order) error
	// DeleteOrder removes the order and its items.
	DeleteOrder(ctx context.Context, id string) error
}

type PaymentRepository interface {
	GetPayment(ctx context.Context, id string, forUpdate bool) (*domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID string, forUpdate bool) (*domain.Payment, error)
	// InsertPayment fails with ErrConflict when the order already has a payment.
	InsertPayment(ctx context.Context, payment domain.Payment) error
	// UpdatePayment writes the header and replaces the method list.
	UpdatePayment(ctx context.Context, payment domain.Payment) error
}

type InventoryRepository interface {
	GetInventory(ctx context.Context, id string, forUpdate bool) (*domain.Inventory, error)
	FindInventoryByLine(ctx context.Context, lineID string, forUpdate bool) (*domain.Inventory, error)
	InsertInventory(ctx context.Context, inventory domain.Inventory) error
	// UpdateInventory writes the header and replaces the line list.
	UpdateInventory(ctx context.Context, inventory domain.Inventory) error
}

type MovementRepository interface {
	InsertStockMovement(ctx context.Context, movement domain.StockMovement) error
	GetStockMovement(ctx context.Context, id string) (*domain.StockMovement, error)
}

// StockLedger is the store-scoped stock record collaborator.
type StockLedger interface {
	GetStockRecord(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error)
	// LockStockRecords locks the given records in (store, product) order and
	// returns the ones that exist.
	LockStockRecords(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.StockRecord, error)
	// AdjustStock adds delta to the current stock and returns the new level.
	// It fails with ErrInsufficientStock when the result would be negative
	// and allowNegative is false.
	AdjustStock(ctx context.Context, key domain.StockKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error)
	SetStock(ctx context.Context, key domain.StockKey, qty decimal.Decimal) error
	PutStockRecord(ctx context.Context, record domain.StockRecord) error
}

// LoyaltyLedger is the customer points collaborator.
type LoyaltyLedger interface {
	LoyaltyBalance(ctx context.Context, customerID string) (int64, error)
	// RedeemPoints fails with ErrValidation when the balance is too low.
	RedeemPoints(ctx context.Context, customerID string, points int64) error
	CreditPoints(ctx context.Context, customerID string, points int64) error
}

type AuditRepository interface {
	InsertAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error)
}
