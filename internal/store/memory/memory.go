package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/money"
	"kasirinaja/poscore/internal/store"
)

// Store keeps all state in process. Units of work are serialized by one
// mutex and run against a private copy of the maps; the copy replaces the
// live state only when the unit of work succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	shifts          map[string]domain.Shift
	orders          map[string]domain.Order
	payments        map[string]domain.Payment
	paymentByOrder  map[string]string
	inventories     map[string]domain.Inventory
	inventoryByLine map[string]string
	movements       map[string]domain.StockMovement
	stock           map[domain.StockKey]domain.StockRecord
	loyalty         map[string]int64
	auditLogs       []domain.AuditLog
}

func New() *Store {
	return &Store{state: &state{
		shifts:          make(map[string]domain.Shift),
		orders:          make(map[string]domain.Order),
		payments:        make(map[string]domain.Payment),
		paymentByOrder:  make(map[string]string),
		inventories:     make(map[string]domain.Inventory),
		inventoryByLine: make(map[string]string),
		movements:       make(map[string]domain.StockMovement),
		stock:           make(map[domain.StockKey]domain.StockRecord),
		loyalty:         make(map[string]int64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
	}}
}

// NewSeeded returns a store with demo stock for two stores, used when no
// database is configured.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	products := []struct {
		id    string
		name  string
		cost  string
		price string
	}{
		{"SKU-MIE-01", "Mie Goreng Instan", "2.800", "3.500"},
		{"SKU-TELUR-01", "Telur 10 Butir", "23.000", "26.500"},
		{"SKU-SUSU-01", "Susu UHT 1L", "13.600", "18.900"},
		{"SKU-ROTI-01", "Roti Tawar", "12.500", "17.800"},
		{"SKU-KOPI-01", "Kopi Sachet", "1.700", "2.600"},
		{"SKU-GULA-01", "Gula 1kg", "15.300", "17.400"},
	}
	for _, storeID := range []string{"main-store", "branch-store"} {
		for _, p := range products {
			rec := domain.StockRecord{
				StoreID:      storeID,
				ProductID:    p.id,
				ProductName:  p.name,
				CurrentStock: money.FromInt(120),
				UnitCost:     money.MustParse(p.cost),
				SellingPrice: money.MustParse(p.price),
				UpdatedAt:    now,
			}
			s.state.stock[rec.Key()] = rec
		}
	}
	// bulk tier on instant noodles
	key := domain.StockKey{StoreID: "main-store", ProductID: "SKU-MIE-01"}
	rec := s.state.stock[key]
	rec.PriceTiers = []domain.PriceTier{{MinQuantity: money.FromInt(10), UnitPrice: money.MustParse("3.200")}}
	s.state.stock[key] = rec
	s.state.loyalty["CUST-DEMO-01"] = 500
	return s
}

func (s *Store) WithinTx(ctx context.Context, fn store.TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) Close() error {
	return nil
}

// clone copies the indexes. Stored entities are never mutated in place, so
// a shallow copy of each map isolates the unit of work.
func (st *state) clone() *state {
	return &state{
		shifts:          maps.Clone(st.shifts),
		orders:          maps.Clone(st.orders),
		payments:        maps.Clone(st.payments),
		paymentByOrder:  maps.Clone(st.paymentByOrder),
		inventories:     maps.Clone(st.inventories),
		inventoryByLine: maps.Clone(st.inventoryByLine),
		movements:       maps.Clone(st.movements),
		stock:           maps.Clone(st.stock),
		loyalty:         maps.Clone(st.loyalty),
		auditLogs:       slices.Clone(st.auditLogs),
	}
}

type tx struct {
	st *state
}

func (t *tx) GetShift(_ context.Context, id string, _ bool) (*domain.Shift, error) {
	shift, ok := t.st.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shift, nil
}

func (t *tx) FindOpenShiftByUser(_ context.Context, userID string, _ bool) (*domain.Shift, error) {
	for _, shift := range t.st.shifts {
		if shift.UserID == userID && shift.Status == domain.ShiftStatusOpen {
			found := shift
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) ListOpenShiftsByStore(_ context.Context, storeID string) ([]domain.Shift, error) {
	out := make([]domain.Shift, 0, 4)
	for _, shift := range t.st.shifts {
		if shift.StoreID == storeID && shift.Status == domain.ShiftStatusOpen {
			out = append(out, shift)
		}
	}
	slices.SortFunc(out, func(a, b domain.Shift) int {
		return a.OpenedAt.Compare(b.OpenedAt)
	})
	return out, nil
}

func (t *tx) InsertShift(ctx context.Context, shift domain.Shift) error {
	if strings.TrimSpace(shift.ID) == "" {
		return fmt.Errorf("%w: shift id is required", store.ErrValidation)
	}
	if _, exists := t.st.shifts[shift.ID]; exists {
		return store.ErrConflict
	}
	if shift.Status == domain.ShiftStatusOpen {
		if _, err := t.FindOpenShiftByUser(ctx, shift.UserID, false); err == nil {
			return store.ErrConflict
		}
	}
	t.st.shifts[shift.ID] = shift
	return nil
}

func (t *tx) ApplyShiftDelta(_ context.Context, shiftID string, delta domain.ShiftDelta) (*domain.Shift, error) {
	shift, ok := t.st.shifts[shiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrInvalidState
	}
	shift.TotalSales = shift.TotalSales.Add(delta.Sales)
	shift.TotalDiscount = shift.TotalDiscount.Add(delta.Discount)
	shift.TotalRefund = shift.TotalRefund.Add(delta.Refund)
	shift.TotalProfit = shift.TotalProfit.Add(delta.Profit)
	shift.TotalCost = shift.TotalCost.Add(delta.Cost)
	shift.TotalItems = shift.TotalItems.Add(delta.Items)
	shift.TotalTransactions += delta.Transactions
	t.st.shifts[shiftID] = shift
	return &shift, nil
}

func (t *tx) UpdateShift(_ context.Context, shift domain.Shift) error {
	if _, ok := t.st.shifts[shift.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.shifts[shift.ID] = shift
	return nil
}

func (t *tx) GetOrder(_ context.Context, id string, _ bool) (*domain.Order, error) {
	order, ok := t.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneOrder(order)
	return &dup, nil
}

func (t *tx) InsertOrder(_ context.Context, order domain.Order) error {
	if _, exists := t.st.orders[order.ID]; exists {
		return store.ErrConflict
	}
	t.st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *tx) UpdateOrder(_ context.Context, order domain.Order) error {
	if _, ok := t.st.orders[order.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *tx) DeleteOrder(_ context.Context, id string) error {
	if _, ok := t.st.orders[id]; !ok {
		return store.ErrNotFound
	}
	delete(t.st.orders, id)
	return nil
}

func (t *tx) GetPayment(_ context.Context, id string, _ bool) (*domain.Payment, error) {
	payment, ok := t.st.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := clonePayment(payment)
	return &dup, nil
}

func (t *tx) GetPaymentByOrder(ctx context.Context, orderID string, forUpdate bool) (*domain.Payment, error) {
	id, ok := t.st.paymentByOrder[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetPayment(ctx, id, forUpdate)
}

func (t *tx) InsertPayment(_ context.Context, payment domain.Payment) error {
	if _, exists := t.st.paymentByOrder[payment.OrderID]; exists {
		return store.ErrConflict
	}
	if _, exists := t.st.payments[payment.ID]; exists {
		return store.ErrConflict
	}
	t.st.payments[payment.ID] = clonePayment(payment)
	t.st.paymentByOrder[payment.OrderID] = payment.ID
	return nil
}

func (t *tx) UpdatePayment(_ context.Context, payment domain.Payment) error {
	if _, ok := t.st.payments[payment.ID]; !ok {
		return store.ErrNotFound
	}
	t.st.payments[payment.ID] = clonePayment(payment)
	return nil
}

func (t *tx) GetInventory(_ context.Context, id string, _ bool) (*domain.Inventory, error) {
	inv, ok := t.st.inventories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneInventory(inv)
	return &dup, nil
}

func (t *tx) FindInventoryByLine(ctx context.Context, lineID string, forUpdate bool) (*domain.Inventory, error) {
	id, ok := t.st.inventoryByLine[lineID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.GetInventory(ctx, id, forUpdate)
}

func (t *tx) InsertInventory(_ context.Context, inventory domain.Inventory) error {
	if _, exists := t.st.inventories[inventory.ID]; exists {
		return store.ErrConflict
	}
	t.putInventory(inventory)
	return nil
}

func (t *tx) UpdateInventory(_ context.Context, inventory domain.Inventory) error {
	previous, ok := t.st.inventories[inventory.ID]
	if !ok {
		return store.ErrNotFound
	}
	for _, line := range previous.Lines {
		delete(t.st.inventoryByLine, line.ID)
	}
	t.putInventory(inventory)
	return nil
}

func (t *tx) putInventory(inventory domain.Inventory) {
	t.st.inventories[inventory.ID] = cloneInventory(inventory)
	for _, line := range inventory.Lines {
		t.st.inventoryByLine[line.ID] = inventory.ID
	}
}

func (t *tx) InsertStockMovement(_ context.Context, movement domain.StockMovement) error {
	if _, exists := t.st.movements[movement.ID]; exists {
		return store.ErrConflict
	}
	t.st.movements[movement.ID] = cloneMovement(movement)
	return nil
}

func (t *tx) GetStockMovement(_ context.Context, id string) (*domain.StockMovement, error) {
	movement, ok := t.st.movements[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneMovement(movement)
	return &dup, nil
}

func (t *tx) GetStockRecord(_ context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	rec, ok := t.st.stock[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneStockRecord(rec)
	return &dup, nil
}

func (t *tx) LockStockRecords(_ context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.StockRecord, error) {
	out := make(map[domain.StockKey]domain.StockRecord, len(keys))
	for _, key := range keys {
		if rec, ok := t.st.stock[key]; ok {
			out[key] = cloneStockRecord(rec)
		}
	}
	return out, nil
}

func (t *tx) AdjustStock(_ context.Context, key domain.StockKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error) {
	rec, ok := t.st.stock[key]
	if !ok {
		return money.Zero, store.ErrNotFound
	}
	next := money.Round(rec.CurrentStock.Add(delta))
	if next.IsNegative() && !allowNegative {
		return money.Zero, store.ErrInsufficientStock
	}
	rec.CurrentStock = next
	rec.UpdatedAt = time.Now().UTC()
	t.st.stock[key] = rec
	return next, nil
}

func (t *tx) SetStock(_ context.Context, key domain.StockKey, qty decimal.Decimal) error {
	rec, ok := t.st.stock[key]
	if !ok {
		return store.ErrNotFound
	}
	rec.CurrentStock = money.Round(qty)
	rec.UpdatedAt = time.Now().UTC()
	t.st.stock[key] = rec
	return nil
}

func (t *tx) PutStockRecord(_ context.Context, record domain.StockRecord) error {
	if strings.TrimSpace(record.StoreID) == "" || strings.TrimSpace(record.ProductID) == "" {
		return fmt.Errorf("%w: store and product are required", store.ErrValidation)
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	t.st.stock[record.Key()] = cloneStockRecord(record)
	return nil
}

func (t *tx) LoyaltyBalance(_ context.Context, customerID string) (int64, error) {
	points, ok := t.st.loyalty[customerID]
	if !ok {
		return 0, store.ErrNotFound
	}
	return points, nil
}

func (t *tx) RedeemPoints(_ context.Context, customerID string, points int64) error {
	balance, ok := t.st.loyalty[customerID]
	if !ok {
		return store.ErrNotFound
	}
	if points > balance {
		return fmt.Errorf("%w: insufficient loyalty points", store.ErrValidation)
	}
	t.st.loyalty[customerID] = balance - points
	return nil
}

func (t *tx) CreditPoints(_ context.Context, customerID string, points int64) error {
	t.st.loyalty[customerID] += points
	return nil
}

func (t *tx) InsertAuditLog(_ context.Context, entry domain.AuditLog) error {
	t.st.auditLogs = append(t.st.auditLogs, entry)
	return nil
}

func (t *tx) ListAuditLogs(_ context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	out := make([]domain.AuditLog, 0, limit)
	for i := len(t.st.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := t.st.auditLogs[i]
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func clonePayment(src domain.Payment) domain.Payment {
	dup := src
	dup.Methods = make([]domain.PaymentMethod, len(src.Methods))
	for i, m := range src.Methods {
		dup.Methods[i] = cloneMethod(m)
	}
	return dup
}

func cloneMethod(src domain.PaymentMethod) domain.PaymentMethod {
	dup := src
	if src.Card != nil {
		card := *src.Card
		dup.Card = &card
	}
	if src.Check != nil {
		check := *src.Check
		dup.Check = &check
	}
	if src.Loyalty != nil {
		loyalty := *src.Loyalty
		dup.Loyalty = &loyalty
	}
	if src.Voucher != nil {
		voucher := *src.Voucher
		dup.Voucher = &voucher
	}
	return dup
}

func cloneInventory(src domain.Inventory) domain.Inventory {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	if src.ClosedAt != nil {
		at := *src.ClosedAt
		dup.ClosedAt = &at
	}
	return dup
}

func cloneMovement(src domain.StockMovement) domain.StockMovement {
	dup := src
	dup.Items = slices.Clone(src.Items)
	return dup
}

func cloneStockRecord(src domain.StockRecord) domain.StockRecord {
	dup := src
	dup.PriceTiers = slices.Clone(src.PriceTiers)
	return dup
}
