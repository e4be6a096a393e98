package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/money"
	"kasirinaja/poscore/internal/store"
)

func TestCreateDraftRequiresOpenShift(t *testing.T) {
	f := newFixture(t, Options{}, stockRecord("store-a", "P1", "10", "1", "2"))

	_, err := f.svc.CreateDraft(context.Background(), cashier, domain.DraftOrderRequest{
		Items: []domain.OrderItemInput{line("P1", "1")},
	})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected draft to fail without an open shift, got %v", err)
	}
}

func TestCreateDraftRequiresShiftOnTargetStore(t *testing.T) {
	f, _ := newTestService(t)

	_, err := f.svc.CreateDraft(context.Background(), domain.Actor{UserID: cashier.UserID, StoreID: "store-b"},
		domain.DraftOrderRequest{Items: []domain.OrderItemInput{line("P1", "1")}})
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestCreateDraftRejectsUnknownProduct(t *testing.T) {
	f, _ := newTestService(t)

	_, err := f.svc.CreateDraft(context.Background(), cashier, domain.DraftOrderRequest{
		Items: []domain.OrderItemInput{line("MISSING", "1")},
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateDraftValidatesLines(t *testing.T) {
	f, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string][]domain.OrderItemInput{
		"empty":             nil,
		"zero quantity":     {line("P1", "0")},
		"blank product":     {line(" ", "1")},
		"negative discount": {{ProductID: "P1", Quantity: money.FromInt(1), Discount: money.MustParse("-1")}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateDraft(ctx, cashier, domain.DraftOrderRequest{Items: items})
			require.ErrorIs(t, err, store.ErrValidation)
		})
	}
}

func TestDraftPricingAppliesTiersAndCapsDiscount(t *testing.T) {
	tiered := stockRecord("store-a", "NOODLE", "100", "2.8", "3.5")
	tiered.PriceTiers = []domain.PriceTier{
		{MinQuantity: money.FromInt(10), UnitPrice: money.MustParse("3.2")},
		{MinQuantity: money.FromInt(24), UnitPrice: money.MustParse("3.0")},
	}
	f := newFixture(t, Options{}, tiered, stockRecord("store-a", "P2", "100", "3", "5"))
	ctx := context.Background()
	_, err := f.svc.OpenShift(ctx, cashier, domain.ShiftOpenRequest{OpeningCash: money.Zero})
	require.NoError(t, err)

	order := f.draft(t, cashier,
		domain.OrderItemInput{ProductID: "NOODLE", Quantity: money.FromInt(12), Discount: money.MustParse("0.4")},
		domain.OrderItemInput{ProductID: "P2", Quantity: money.FromInt(2), Discount: money.FromInt(50)},
		line("NOODLE", "3"),
	)
	require.Len(t, order.Items, 3)

	bulk := order.Items[0]
	assertMoney(t, "bulk unit price", "3.5", bulk.UnitPrice)
	assertMoney(t, "bulk discount", "4", bulk.Discount)
	assertMoney(t, "bulk total", "38", bulk.Total)
	assertMoney(t, "bulk cost", "33.6", bulk.Cost)
	assertMoney(t, "bulk profit", "4.4", bulk.Profit)

	capped := order.Items[1]
	assertMoney(t, "capped discount", "10", capped.Discount)
	assertMoney(t, "capped total", "0", capped.Total)

	small := order.Items[2]
	assertMoney(t, "small total", "10.5", small.Total)

	assertMoney(t, "order total", "48.5", order.TotalAmount)
	assertMoney(t, "order discount", "14", order.TotalDiscount)
	assertMoney(t, "order items", "17", order.TotalItems)
	assert.Equal(t, domain.ItemStatusPending, bulk.Status)
	assert.Equal(t, 1, bulk.Position)
	assert.Equal(t, 3, small.Position)
}

func TestConfirmDecrementsStockAndRollsUpShift(t *testing.T) {
	f, shift := newTestService(t)
	ctx := context.Background()

	order := f.draft(t, cashier, line("P1", "2"), line("P1", "1"), line("P2", "4"))
	confirmed, err := f.svc.Confirm(ctx, cashier, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, confirmed.Status)

	assertMoney(t, "P1 stock", "97", f.stock(t, "store-a", "P1"))
	assertMoney(t, "P2 stock", "96", f.stock(t, "store-a", "P2"))

	got, err := f.svc.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assertMoney(t, "sales", "50", got.TotalSales)
	assertMoney(t, "cost", "30", got.TotalCost)
	assertMoney(t, "profit", "20", got.TotalProfit)
	assert.Equal(t, int64(1), got.TotalTransactions)

	_, err = f.svc.Confirm(ctx, cashier, order.ID)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected second confirm to fail with invalid state, got %v", err)
	}
}

func TestConfirmInsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t, Options{},
		stockRecord("store-a", "P1", "5", "1", "2"),
		stockRecord("store-a", "SCARCE", "1", "1", "2"),
	)
	ctx := context.Background()
	shift, err := f.svc.OpenShift(ctx, cashier, domain.ShiftOpenRequest{OpeningCash: money.Zero})
	require.NoError(t, err)

	order := f.draft(t, cashier, line("P1", "2"), line("SCARCE", "2"))
	_, err = f.svc.Confirm(ctx, cashier, order.ID)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	assertMoney(t, "P1 untouched", "5", f.stock(t, "store-a", "P1"))
	assertMoney(t, "SCARCE untouched", "1", f.stock(t, "store-a", "SCARCE"))
	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDraft, got.Status)
	current, err := f.svc.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assert.Zero(t, current.TotalTransactions)
}

func TestConfirmAllowsNegativeStockByPolicy(t *testing.T) {
	f := newFixture(t, Options{AllowNegativeStock: true}, stockRecord("store-a", "SCARCE", "1", "1", "2"))
	ctx := context.Background()
	_, err := f.svc.OpenShift(ctx, cashier, domain.ShiftOpenRequest{OpeningCash: money.Zero})
	require.NoError(t, err)

	order := f.draft(t, cashier, line("SCARCE", "3"))
	_, err = f.svc.Confirm(ctx, cashier, order.ID)
	require.NoError(t, err)
	assertMoney(t, "stock", "-2", f.stock(t, "store-a", "SCARCE"))
}

func TestConfirmRequiresOpenShift(t *testing.T) {
	f, shift := newTestService(t)
	ctx := context.Background()

	order := f.draft(t, cashier, line("P1", "1"))
	_, err := f.svc.CloseShift(ctx, cashier, domain.ShiftCloseRequest{ShiftID: shift.ID, ClosingCash: money.FromInt(100)})
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, cashier, order.ID)
	require.ErrorIs(t, err, store.ErrInvalidState)
	assertMoney(t, "stock restored by rollback", "100", f.stock(t, "store-a", "P1"))
}

func TestEditDraftAndCancelItemRecomputeTotals(t *testing.T) {
	f, _ := newTestService(t)
	ctx := context.Background()

	order := f.draft(t, cashier, line("P1", "1"))
	edited, err := f.svc.EditDraft(ctx, cashier, order.ID, domain.DraftOrderRequest{
		CustomerID: "CUST-1",
		Items:      []domain.OrderItemInput{line("P1", "2"), line("P2", "2")},
	})
	require.NoError(t, err)
	assert.Equal(t, "CUST-1", edited.CustomerID)
	assertMoney(t, "edited total", "30", edited.TotalAmount)

	afterCancel, err := f.svc.CancelItem(ctx, cashier, order.ID, edited.Items[0].ID)
	require.NoError(t, err)
	assertMoney(t, "total after cancel", "10", afterCancel.TotalAmount)
	assertMoney(t, "items after cancel", "2", afterCancel.TotalItems)
	assert.Equal(t, domain.ItemStatusCancelled, afterCancel.Items[0].Status)

	_, err = f.svc.CancelItem(ctx, cashier, order.ID, edited.Items[0].ID)
	require.ErrorIs(t, err, store.ErrInvalidState)
	_, err = f.svc.CancelItem(ctx, cashier, order.ID, "item-missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	confirmed, err := f.svc.Confirm(ctx, cashier, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStatusCancelled, confirmed.Items[0].Status)
	assert.Equal(t, domain.ItemStatusSold, confirmed.Items[1].Status)
	assertMoney(t, "cancelled line not decremented", "100", f.stock(t, "store-a", "P1"))

	_, err = f.svc.EditDraft(ctx, cashier, order.ID, domain.DraftOrderRequest{Items: []domain.OrderItemInput{line("P1", "1")}})
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestCancelOnlyWhileDraft(t *testing.T) {
	f, _ := newTestService(t)
	ctx := context.Background()

	draft := f.draft(t, cashier, line("P1", "2"))
	cancelled, err := f.svc.Cancel(ctx, cashier, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assertMoney(t, "cancelled total", "0", cancelled.TotalAmount)
	for _, item := range cancelled.Items {
		assert.Equal(t, domain.ItemStatusCancelled, item.Status)
	}

	sold := f.draft(t, cashier, line("P1", "1"))
	_, err = f.svc.Confirm(ctx, cashier, sold.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, cashier, sold.ID)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected cancel of confirmed order to fail, got %v", err)
	}
	assert.Contains(t, f.events.types(), domain.EventOrderCancelled)
}

func TestDeleteOrderCascadesOnlyForDraftOrCancelled(t *testing.T) {
	f, _ := newTestService(t)
	ctx := context.Background()

	draft := f.draft(t, cashier, line("P1", "1"))
	require.NoError(t, f.svc.DeleteOrder(ctx, cashier, draft.ID))
	_, err := f.svc.GetOrder(ctx, draft.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	cancelled := f.draft(t, cashier, line("P1", "1"))
	_, err = f.svc.Cancel(ctx, cashier, cancelled.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteOrder(ctx, cashier, cancelled.ID))

	sold := f.draft(t, cashier, line("P1", "1"))
	_, err = f.svc.Confirm(ctx, cashier, sold.ID)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.DeleteOrder(ctx, cashier, sold.ID), store.ErrInvalidState)
}

func TestRefundItemsSplitsAmountsExactly(t *testing.T) {
	f, shift := newTestService(t)
	ctx := context.Background()

	order := f.draft(t, cashier, domain.OrderItemInput{ProductID: "P1", Quantity: money.FromInt(3), Discount: money.FromInt(1)})
	_, err := f.svc.Confirm(ctx, cashier, order.ID)
	require.NoError(t, err)
	itemID := order.Items[0].ID

	partial, err := f.svc.RefundItems(ctx, cashier, order.ID, []domain.RefundLine{{ItemID: itemID, Quantity: money.FromInt(1)}})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyRefunded, partial.Status)
	assert.Equal(t, domain.ItemStatusPartiallyRefunded, partial.Items[0].Status)
	assertMoney(t, "first refund", "9.667", partial.TotalRefund)
	assertMoney(t, "stock after partial", "98", f.stock(t, "store-a", "P1"))

	_, err = f.svc.RefundItems(ctx, cashier, order.ID, []domain.RefundLine{{ItemID: itemID, Quantity: money.FromInt(3)}})
	require.ErrorIs(t, err, store.ErrValidation)

	full, err := f.svc.RefundItems(ctx, cashier, order.ID, []domain.RefundLine{
		{ItemID: itemID, Quantity: money.FromInt(1)},
		{ItemID: itemID, Quantity: money.FromInt(1)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, full.Status)
	assert.Equal(t, domain.ItemStatusRefunded, full.Items[0].Status)
	assertMoney(t, "total refund", "29", full.TotalRefund)
	assertMoney(t, "stock restored", "100", f.stock(t, "store-a", "P1"))

	got, err := f.svc.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assertMoney(t, "shift sales", "29", got.TotalSales)
	assertMoney(t, "shift refund", "29", got.TotalRefund)
	assertMoney(t, "shift cost", "0", got.TotalCost)
	assertMoney(t, "shift profit", "0", got.TotalProfit)

	_, err = f.svc.RefundItems(ctx, cashier, order.ID, []domain.RefundLine{{ItemID: itemID, Quantity: money.FromInt(1)}})
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestRefundLandsOnRefundingUsersShift(t *testing.T) {
	f, first := newTestService(t)
	ctx := context.Background()

	order := f.draft(t, cashier, line("P2", "2"))
	_, err := f.svc.Confirm(ctx, cashier, order.ID)
	require.NoError(t, err)
	_, err = f.svc.CloseShift(ctx, cashier, domain.ShiftCloseRequest{ShiftID: first.ID, ClosingCash: money.FromInt(110)})
	require.NoError(t, err)

	_, err = f.svc.RefundItems(ctx, cashier, order.ID, []domain.RefundLine{{ItemID: order.Items[0].ID, Quantity: money.FromInt(1)}})
	require.ErrorIs(t, err, store.ErrInvalidState)

	supervisor := domain.Actor{UserID: "supervisor-1", StoreID: "store-a"}
	second, err := f.svc.OpenShift(ctx, supervisor, domain.ShiftOpenRequest{OpeningCash: money.Zero})
	require.NoError(t, err)
	_, err = f.svc.RefundItems(ctx, supervisor, order.ID, []domain.RefundLine{{ItemID: order.Items[0].ID, Quantity: money.FromInt(1)}})
	require.NoError(t, err)

	closed, err := f.svc.GetShift(ctx, first.ID)
	require.NoError(t, err)
	assertMoney(t, "closed shift untouched", "0", closed.TotalRefund)
	current, err := f.svc.GetShift(ctx, second.ID)
	require.NoError(t, err)
	assertMoney(t, "refund on new shift", "5", current.TotalRefund)
	assertMoney(t, "profit reversal", "-2", current.TotalProfit)
}

func TestRefundRejectsDraftOrders(t *testing.T) {
	f, _ := newTestService(t)

	order := f.draft(t, cashier, line("P1", "1"))
	_, err := f.svc.RefundItems(context.Background(), cashier, order.ID, []domain.RefundLine{{ItemID: order.Items[0].ID, Quantity: money.FromInt(1)}})
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, err = f.svc.RefundItems(context.Background(), cashier, order.ID, []domain.RefundLine{{ItemID: order.Items[0].ID, Quantity: money.Zero}})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestOrderNumberCarriesStoreAndDate(t *testing.T) {
	f, _ := newTestService(t)

	order := f.draft(t, cashier, line("P1", "1"))
	assert.Regexp(t, `^STORE-A-20260315-[0-9A-F]{8}$`, order.Number)
}
