package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kasirinaja/poscore/internal/cache"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/money"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/store/memory"
)

var testClock = time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

var cashier = domain.Actor{UserID: "cashier-1", StoreID: "store-a"}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) Close() error {
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

type mapSessions struct {
	mu       sync.Mutex
	sessions map[string]cache.Session
}

func (m *mapSessions) Get(_ context.Context, userID string) (*cache.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[userID]
	if !ok {
		return nil, false, nil
	}
	return &session, true, nil
}

func (m *mapSessions) Set(_ context.Context, session cache.Session, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.UserID] = session
	return nil
}

func (m *mapSessions) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	events   *recordingPublisher
	sessions *mapSessions
}

func newFixture(t *testing.T, opts Options, records ...domain.StockRecord) *fixture {
	t.Helper()
	st := memory.New()
	seedStock(t, st, records...)

	f := &fixture{
		store:    st,
		events:   &recordingPublisher{},
		sessions: &mapSessions{sessions: make(map[string]cache.Session)},
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return testClock }
	}
	f.svc = New(st, f.sessions, f.events, zap.NewNop(), nil, opts)
	return f
}

// newTestService seeds store-a with two products and opens a shift for cashier.
func newTestService(t *testing.T) (*fixture, domain.Shift) {
	t.Helper()
	f := newFixture(t, Options{},
		stockRecord("store-a", "P1", "100", "6", "10"),
		stockRecord("store-a", "P2", "100", "3", "5"),
	)
	shift, err := f.svc.OpenShift(context.Background(), cashier, domain.ShiftOpenRequest{OpeningCash: money.FromInt(100)})
	if err != nil {
		t.Fatalf("open shift failed: %v", err)
	}
	return f, shift
}

func stockRecord(storeID, productID, qty, cost, price string) domain.StockRecord {
	return domain.StockRecord{
		StoreID:      storeID,
		ProductID:    productID,
		ProductName:  "Product " + productID,
		CurrentStock: money.MustParse(qty),
		UnitCost:     money.MustParse(cost),
		SellingPrice: money.MustParse(price),
		UpdatedAt:    testClock,
	}
}

func seedStock(t *testing.T, st store.Store, records ...domain.StockRecord) {
	t.Helper()
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, rec := range records {
			if err := tx.PutStockRecord(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func seedLoyalty(t *testing.T, st store.Store, customerID string, points int64) {
	t.Helper()
	err := st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.CreditPoints(ctx, customerID, points)
	})
	require.NoError(t, err)
}

func (f *fixture) stock(t *testing.T, storeID, productID string) decimal.Decimal {
	t.Helper()
	rec, err := f.svc.GetStockRecord(context.Background(), storeID, productID)
	require.NoError(t, err)
	return rec.CurrentStock
}

func (f *fixture) loyalty(t *testing.T, customerID string) int64 {
	t.Helper()
	var points int64
	err := f.store.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		points, err = tx.LoyaltyBalance(ctx, customerID)
		return err
	})
	require.NoError(t, err)
	return points
}

func (f *fixture) draft(t *testing.T, actor domain.Actor, items ...domain.OrderItemInput) domain.Order {
	t.Helper()
	order, err := f.svc.CreateDraft(context.Background(), actor, domain.DraftOrderRequest{Items: items})
	if err != nil {
		t.Fatalf("create draft failed: %v", err)
	}
	return order
}

func line(productID string, qty string) domain.OrderItemInput {
	return domain.OrderItemInput{ProductID: productID, Quantity: money.MustParse(qty)}
}

func cash(amount string) domain.PaymentMethod {
	return domain.PaymentMethod{Kind: domain.MethodCash, Amount: money.MustParse(amount)}
}

func assertMoney(t *testing.T, label string, want string, got decimal.Decimal) {
	t.Helper()
	if !money.Equal(money.MustParse(want), got) {
		t.Fatalf("%s: expected %s, got %s", label, want, money.String(got))
	}
}

func TestSaleSettleAndCloseShift(t *testing.T) {
	f, shift := newTestService(t)
	ctx := context.Background()

	order := f.draft(t, cashier, line("P1", "2"), line("P2", "1"))
	assertMoney(t, "order total", "25", order.TotalAmount)
	assertMoney(t, "order items", "3", order.TotalItems)
	assert.Equal(t, domain.OrderStatusDraft, order.Status)
	assert.Equal(t, shift.ID, order.ShiftID)

	payment, err := f.svc.Settle(ctx, cashier, domain.SettleRequest{
		OrderID:        order.ID,
		TotalAmountDue: money.FromInt(25),
		Methods:        []domain.PaymentMethod{cash("25")},
	})
	require.NoError(t, err)
	assert.True(t, payment.IsFullyPaid)
	assertMoney(t, "paid", "25", payment.TotalPaidAmount)
	assertMoney(t, "remaining", "0", payment.RemainingAmount)
	assertMoney(t, "change", "0", payment.ChangeAmount)

	confirmed, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, confirmed.Status)
	for _, item := range confirmed.Items {
		assert.Equal(t, domain.ItemStatusSold, item.Status)
	}
	assertMoney(t, "P1 stock", "98", f.stock(t, "store-a", "P1"))
	assertMoney(t, "P2 stock", "99", f.stock(t, "store-a", "P2"))

	result, err := f.svc.CloseShift(ctx, cashier, domain.ShiftCloseRequest{ShiftID: shift.ID, ClosingCash: money.FromInt(125)})
	require.NoError(t, err)
	assert.True(t, result.ClearActiveStore)
	closed := result.Shift
	assert.Equal(t, domain.ShiftStatusClosed, closed.Status)
	assertMoney(t, "shift sales", "25", closed.TotalSales)
	assertMoney(t, "shift items", "3", closed.TotalItems)
	assertMoney(t, "shift cost", "15", closed.TotalCost)
	assertMoney(t, "shift profit", "10", closed.TotalProfit)
	assertMoney(t, "expected cash", "125", closed.ExpectedCash)
	assertMoney(t, "cash difference", "0", closed.CashDifference)
	assert.Equal(t, int64(1), closed.TotalTransactions)
	require.NotNil(t, closed.ClosedAt)

	assert.Equal(t, []string{
		domain.EventShiftOpened,
		domain.EventOrderConfirmed,
		domain.EventPaymentSettled,
		domain.EventShiftClosed,
	}, f.events.types())
}

func TestInventoryCountValuesLoss(t *testing.T) {
	f := newFixture(t, Options{}, stockRecord("store-a", "RICE", "50", "2", "3"))
	ctx := context.Background()

	inv, err := f.svc.StartCount(ctx, cashier, domain.StartCountRequest{ProductIDs: []string{"RICE"}})
	require.NoError(t, err)
	require.Len(t, inv.Lines, 1)
	assertMoney(t, "expected qty", "50", inv.Lines[0].ExpectedQty)
	assertMoney(t, "expected value", "100", inv.Lines[0].ExpectedValue)

	inv, err = f.svc.RecordFound(ctx, cashier, inv.Lines[0].ID, money.FromInt(45))
	require.NoError(t, err)
	got := inv.Lines[0]
	assertMoney(t, "difference", "-5", got.Difference)
	assertMoney(t, "found value", "90", got.FoundValue)
	assertMoney(t, "loss value", "10", got.LossValue)
	assertMoney(t, "gain value", "0", got.GainValue)
	assert.Equal(t, domain.InventoryStatusInProgress, inv.Status)

	inv, err = f.svc.CloseCount(ctx, cashier, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryStatusClosed, inv.Status)
	assertMoney(t, "header loss", "10", inv.LossValue)
	assertMoney(t, "header expected", "100", inv.ExpectedValue)
	assertMoney(t, "header found", "90", inv.FoundValue)
	assertMoney(t, "stock after close", "45", f.stock(t, "store-a", "RICE"))
}

func TestTransferMovesStockAllOrNothing(t *testing.T) {
	f := newFixture(t, Options{},
		stockRecord("store-a", "P", "30", "4", "6"),
		stockRecord("store-b", "P", "5", "4", "6"),
	)
	ctx := context.Background()

	movement, err := f.svc.Transfer(ctx, cashier, domain.TransferRequest{
		FromStoreID: "store-a",
		ToStoreID:   "store-b",
		Items:       []domain.TransferLine{{ProductID: "P", Quantity: money.FromInt(10)}},
	})
	require.NoError(t, err)
	assertMoney(t, "source", "20", f.stock(t, "store-a", "P"))
	assertMoney(t, "destination", "15", f.stock(t, "store-b", "P"))
	require.Len(t, movement.Items, 1)
	item := movement.Items[0]
	assertMoney(t, "source before", "30", item.SourceBefore)
	assertMoney(t, "source after", "20", item.SourceAfter)
	assertMoney(t, "dest before", "5", item.DestBefore)
	assertMoney(t, "dest after", "15", item.DestAfter)

	_, err = f.svc.Transfer(ctx, cashier, domain.TransferRequest{
		FromStoreID: "store-a",
		ToStoreID:   "store-b",
		Items:       []domain.TransferLine{{ProductID: "P", Quantity: money.FromInt(40)}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	assertMoney(t, "source unchanged", "20", f.stock(t, "store-a", "P"))
	assertMoney(t, "destination unchanged", "15", f.stock(t, "store-b", "P"))
}

func TestConcurrentConfirmationsRollUpExactly(t *testing.T) {
	f, shift := newTestService(t)
	ctx := context.Background()

	const workers = 16
	orders := make([]domain.Order, 0, workers)
	for i := 0; i < workers; i++ {
		orders = append(orders, f.draft(t, cashier, line("P2", "1")))
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for _, order := range orders {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			_, err := f.svc.Settle(ctx, cashier, domain.SettleRequest{
				OrderID:        orderID,
				TotalAmountDue: money.FromInt(5),
				Methods:        []domain.PaymentMethod{cash("5")},
			})
			errs <- err
		}(order.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.svc.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assertMoney(t, "sales", "80", got.TotalSales)
	assertMoney(t, "items", "16", got.TotalItems)
	assert.Equal(t, int64(workers), got.TotalTransactions)
	assertMoney(t, "stock", "84", f.stock(t, "store-a", "P2"))
}

type blockingStore struct {
	store.Store
}

func (b blockingStore) WithinTx(ctx context.Context, fn store.TxFunc) error {
	return b.Store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, blockingTx{Tx: tx})
	})
}

// blockingTx models a stock collaborator that never answers.
type blockingTx struct {
	store.Tx
}

func (blockingTx) GetStockRecord(ctx context.Context, _ domain.StockKey) (*domain.StockRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCollaboratorTimeoutAbortsUnitOfWork(t *testing.T) {
	st := memory.New()
	seedStock(t, st, stockRecord("store-a", "P1", "10", "1", "2"))
	svc := New(blockingStore{Store: st}, nil, nil, zap.NewNop(), nil, Options{
		CollaboratorTimeout: 20 * time.Millisecond,
		Now:                 func() time.Time { return testClock },
	})
	ctx := context.Background()

	_, err := svc.OpenShift(ctx, cashier, domain.ShiftOpenRequest{OpeningCash: money.Zero})
	require.NoError(t, err)

	_, err = svc.CreateDraft(ctx, cashier, domain.DraftOrderRequest{Items: []domain.OrderItemInput{line("P1", "1")}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "store-a", 10)
	require.NoError(t, err)
	for _, entry := range logs {
		assert.NotEqual(t, "order_draft", entry.Action)
	}
}

func TestPublishFailureDoesNotUndoCommit(t *testing.T) {
	f := newFixture(t, Options{})
	f.events.err = errors.New("broker down")

	shift, err := f.svc.OpenShift(context.Background(), cashier, domain.ShiftOpenRequest{OpeningCash: money.FromInt(10)})
	require.NoError(t, err)

	got, err := f.svc.GetShift(context.Background(), shift.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusOpen, got.Status)
}

func TestAuditLogWrittenWithinUnitOfWork(t *testing.T) {
	f, shift := newTestService(t)
	ctx := context.Background()

	_, err := f.svc.CloseShift(ctx, cashier, domain.ShiftCloseRequest{ShiftID: shift.ID, ClosingCash: money.FromInt(100)})
	require.NoError(t, err)
	_, err = f.svc.CloseShift(ctx, cashier, domain.ShiftCloseRequest{ShiftID: shift.ID, ClosingCash: money.FromInt(100)})
	require.ErrorIs(t, err, store.ErrInvalidState)

	logs, err := f.svc.ListAuditLogs(ctx, "store-a", 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []string{"shift_close", "shift_open"}, actions)
}
