package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/money"
	"kasirinaja/poscore/internal/service"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/store/memory"
)

// newTestAPI builds a full API over the seeded in-memory store so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T, checks map[string]Check) http.Handler {
	t.Helper()

	svc := service.New(memory.NewSeeded(), nil, nil, nil, nil, service.Options{})
	return New(svc, nil, checks).Handler()
}

func do(t *testing.T, handler http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, "kasir-1")
	req.Header.Set(headerStoreID, "main-store")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleReadyReportsFailingCheck(t *testing.T) {
	handler := newTestAPI(t, map[string]Check{
		"store": memory.New().Ping,
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		OK     bool              `json:"ok"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.OK)
	assert.Equal(t, "ok", body.Checks["store"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}

func TestHandleHealthRejectsWrongMethod(t *testing.T) {
	handler := newTestAPI(t, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMutationsRequireActorHeaders(t *testing.T) {
	handler := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/shifts/open", bytes.NewReader([]byte(`{"opening_cash":"100"}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without actor headers, got %d", rec.Code)
	}
}

func TestSaleFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t, nil)

	rec := do(t, handler, http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{OpeningCash: money.FromInt(100)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	shift := decode[domain.Shift](t, rec)
	assert.Equal(t, domain.ShiftStatusOpen, shift.Status)

	rec = do(t, handler, http.MethodGet, "/api/v1/shifts/active", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, shift.ID, decode[domain.Shift](t, rec).ID)

	rec = do(t, handler, http.MethodPost, "/api/v1/orders", domain.DraftOrderRequest{
		Items: []domain.OrderItemInput{{ProductID: "SKU-KOPI-01", Quantity: money.FromInt(2)}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[domain.Order](t, rec)
	require.Equal(t, domain.OrderStatusDraft, order.Status)
	require.True(t, money.Equal(money.MustParse("5.2"), order.TotalAmount), "total %s", order.TotalAmount)

	rec = do(t, handler, http.MethodPost, "/api/v1/payments", domain.SettleRequest{
		OrderID:        order.ID,
		TotalAmountDue: order.TotalAmount,
		Methods:        []domain.PaymentMethod{{Kind: domain.MethodCash, Amount: order.TotalAmount}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decode[domain.Payment](t, rec)

	rec = do(t, handler, http.MethodGet, "/api/v1/orders/"+order.ID+"/payment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payment.ID, decode[domain.Payment](t, rec).ID)

	rec = do(t, handler, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusConfirmed, decode[domain.Order](t, rec).Status)

	rec = do(t, handler, http.MethodGet, "/api/v1/stock/main-store/SKU-KOPI-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stock := decode[domain.StockRecord](t, rec)
	assert.True(t, money.Equal(money.FromInt(118), stock.CurrentStock), "stock %s", stock.CurrentStock)

	rec = do(t, handler, http.MethodPost, "/api/v1/shifts/close", domain.ShiftCloseRequest{ClosingCash: money.MustParse("105.2")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[domain.ShiftCloseResult](t, rec)
	assert.True(t, closed.ClearActiveStore)
	assert.True(t, closed.Shift.CashDifference.IsZero(), "difference %s", closed.Shift.CashDifference)

	rec = do(t, handler, http.MethodGet, "/api/v1/audit-logs?store_id=main-store&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.AuditLog](t, rec), 2)
}

func TestErrorStatusMapping(t *testing.T) {
	handler := newTestAPI(t, nil)

	// no open shift yet
	rec := do(t, handler, http.MethodPost, "/api/v1/orders", domain.DraftOrderRequest{
		Items: []domain.OrderItemInput{{ProductID: "SKU-KOPI-01", Quantity: money.FromInt(1)}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = do(t, handler, http.MethodGet, "/api/v1/orders/ord-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, handler, http.MethodPost, "/api/v1/transfers", domain.TransferRequest{
		FromStoreID: "main-store",
		ToStoreID:   "branch-store",
		Items:       []domain.TransferLine{{ProductID: "SKU-GULA-01", Quantity: money.FromInt(500)}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = do(t, handler, http.MethodPost, "/api/v1/transfers", domain.TransferRequest{
		FromStoreID: "main-store",
		ToStoreID:   "main-store",
		Items:       []domain.TransferLine{{ProductID: "SKU-GULA-01", Quantity: money.FromInt(1)}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	require.Equal(t, http.StatusCreated, do(t, handler, http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{OpeningCash: money.FromInt(10)}).Code)
	rec = do(t, handler, http.MethodPost, "/api/v1/shifts/open", domain.ShiftOpenRequest{OpeningCash: money.FromInt(10)})
	assert.Equal(t, http.StatusConflict, rec.Code, "second open shift for the same user")
}

func TestStatusForMapsErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", store.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: gone", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: closed", store.ErrInvalidState), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: dup", store.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: short", store.ErrInsufficientStock), http.StatusConflict},
		{fmt.Errorf("stock lookup: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestInventoryAndTransferOverHTTP(t *testing.T) {
	handler := newTestAPI(t, nil)

	rec := do(t, handler, http.MethodPost, "/api/v1/inventories", domain.StartCountRequest{ProductIDs: []string{"SKU-ROTI-01"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inv := decode[domain.Inventory](t, rec)
	require.Len(t, inv.Lines, 1)

	rec = do(t, handler, http.MethodPost, "/api/v1/inventories/"+inv.ID+"/lines", map[string]any{"product_ids": []string{"SKU-GULA-01"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	inv = decode[domain.Inventory](t, rec)
	require.Len(t, inv.Lines, 2)

	rec = do(t, handler, http.MethodPost, "/api/v1/inventories/"+inv.ID+"/begin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, line := range inv.Lines {
		rec = do(t, handler, http.MethodPut, "/api/v1/inventory-lines/"+line.ID+"/found", map[string]any{"found_qty": "117"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/inventories/"+inv.ID+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.InventoryStatusClosed, decode[domain.Inventory](t, rec).Status)

	rec = do(t, handler, http.MethodPost, "/api/v1/transfers", domain.TransferRequest{
		FromStoreID: "main-store",
		ToStoreID:   "branch-store",
		Items:       []domain.TransferLine{{ProductID: "SKU-ROTI-01", Quantity: money.FromInt(17)}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	movement := decode[domain.StockMovement](t, rec)

	rec = do(t, handler, http.MethodGet, "/api/v1/transfers/"+movement.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/v1/stock/main-store/SKU-ROTI-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, money.Equal(money.FromInt(100), decode[domain.StockRecord](t, rec).CurrentStock))
}
