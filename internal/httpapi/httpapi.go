package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/service"
	"kasirinaja/poscore/internal/store"
)

const (
	headerUserID  = "X-User-ID"
	headerStoreID = "X-Store-ID"
)

// Check is a named readiness probe.
type Check func(ctx context.Context) error

type API struct {
	service *service.Service
	logger  *zap.Logger
	checks  map[string]Check
}

func New(svc *service.Service, logger *zap.Logger, checks map[string]Check) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service: svc,
		logger:  logger.Named("http"),
		checks:  checks,
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /readyz", a.handleReady)

	mux.HandleFunc("POST /api/v1/shifts/open", a.withActor(a.handleShiftOpen))
	mux.HandleFunc("POST /api/v1/shifts/close", a.withActor(a.handleShiftClose))
	mux.HandleFunc("GET /api/v1/shifts/active", a.withActor(a.handleShiftActive))
	mux.HandleFunc("GET /api/v1/shifts/{id}", a.handleShiftGet)

	mux.HandleFunc("POST /api/v1/orders", a.withActor(a.handleOrderCreate))
	mux.HandleFunc("GET /api/v1/orders/{id}", a.handleOrderGet)
	mux.HandleFunc("PUT /api/v1/orders/{id}", a.withActor(a.handleOrderEdit))
	mux.HandleFunc("DELETE /api/v1/orders/{id}", a.withActor(a.handleOrderDelete))
	mux.HandleFunc("POST /api/v1/orders/{id}/confirm", a.withActor(a.handleOrderConfirm))
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", a.withActor(a.handleOrderCancel))
	mux.HandleFunc("POST /api/v1/orders/{id}/items/{itemID}/cancel", a.withActor(a.handleOrderItemCancel))
	mux.HandleFunc("POST /api/v1/orders/{id}/refunds", a.withActor(a.handleOrderRefund))
	mux.HandleFunc("GET /api/v1/orders/{id}/payment", a.handleOrderPayment)

	mux.HandleFunc("POST /api/v1/payments", a.withActor(a.handlePaymentSettle))
	mux.HandleFunc("GET /api/v1/payments/{id}", a.handlePaymentGet)
	mux.HandleFunc("PUT /api/v1/payments/{id}/methods", a.withActor(a.handlePaymentAmend))

	mux.HandleFunc("POST /api/v1/inventories", a.withActor(a.handleInventoryStart))
	mux.HandleFunc("GET /api/v1/inventories/{id}", a.handleInventoryGet)
	mux.HandleFunc("POST /api/v1/inventories/{id}/lines", a.withActor(a.handleInventoryAddLines))
	mux.HandleFunc("POST /api/v1/inventories/{id}/begin", a.withActor(a.handleInventoryBegin))
	mux.HandleFunc("POST /api/v1/inventories/{id}/close", a.withActor(a.handleInventoryClose))
	mux.HandleFunc("PUT /api/v1/inventory-lines/{id}/found", a.withActor(a.handleInventoryRecordFound))

	mux.HandleFunc("POST /api/v1/transfers", a.withActor(a.handleTransfer))
	mux.HandleFunc("GET /api/v1/transfers/{id}", a.handleTransferGet)
	mux.HandleFunc("GET /api/v1/stock/{storeID}/{productID}", a.handleStockGet)

	mux.HandleFunc("GET /api/v1/audit-logs", a.handleAuditLogs)

	return a.withMiddleware(mux)
}

type actorHandler func(w http.ResponseWriter, r *http.Request, actor domain.Actor)

// withActor reads the caller identity supplied by the upstream gateway. The
// core never authenticates; it only requires the identity to be explicit.
func (a *API) withActor(next actorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			UserID:  strings.TrimSpace(r.Header.Get(headerUserID)),
			StoreID: strings.TrimSpace(r.Header.Get(headerStoreID)),
		}
		if actor.UserID == "" || actor.StoreID == "" {
			writeError(w, http.StatusBadRequest, errors.New("X-User-ID and X-Store-ID headers are required"))
			return
		}
		next(w, r, actor)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(a.checks))
	for name := range a.checks {
		names = append(names, name)
	}
	slices.Sort(names)

	ok := true
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := a.checks[name](ctx); err != nil {
			ok = false
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": ok, "checks": results})
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req domain.ShiftOpenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.OpenShift(r.Context(), actor, req)
	a.respond(w, http.StatusCreated, resp, err)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req domain.ShiftCloseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CloseShift(r.Context(), actor, req)
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	resp, err := a.service.GetOpenShift(r.Context(), actor.UserID)
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleShiftGet(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetShift(r.Context(), r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleOrderCreate(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req domain.DraftOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.CreateDraft(r.Context(), actor, req)
	a.respond(w, http.StatusCreated, resp, err)
}

func (a *API) handleOrderGet(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetOrder(r.Context(), r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleOrderEdit(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req domain.DraftOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.EditDraft(r.Context(), actor, r.PathValue("id"), req)
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleOrderDelete(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if err := a.service.DeleteOrder(r.Context(), actor, r.PathValue("id")); err != nil {
		a.respond(w, http.StatusOK, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleOrderConfirm(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	resp, err := a.service.Confirm(r.Context(), actor, r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleOrderCancel(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	resp, err := a.service.Cancel(r.Context(), actor, r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleOrderItemCancel(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	resp, err := a.service.CancelItem(r.Context(), actor, r.PathValue("id"), r.PathValue("itemID"))
	a.respond(w, http.StatusOK, resp, err)
}

type refundRequest struct {
	Items []domain.RefundLine `json:"items"`
}

func (a *API) handleOrderRefund(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.RefundItems(r.Context(), actor, r.PathValue("id"), req.Items)
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleOrderPayment(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetPaymentByOrder(r.Context(), r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handlePaymentSettle(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req domain.SettleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Settle(r.Context(), actor, req)
	a.respond(w, http.StatusCreated, resp, err)
}

func (a *API) handlePaymentGet(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetPayment(r.Context(), r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

type amendRequest struct {
	Methods []domain.PaymentMethod `json:"methods"`
}

func (a *API) handlePaymentAmend(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req amendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Amend(r.Context(), actor, r.PathValue("id"), req.Methods)
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleInventoryStart(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req domain.StartCountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.StartCount(r.Context(), actor, req)
	a.respond(w, http.StatusCreated, resp, err)
}

func (a *API) handleInventoryGet(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetInventory(r.Context(), r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

type addLinesRequest struct {
	ProductIDs []string `json:"product_ids"`
}

func (a *API) handleInventoryAddLines(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req addLinesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.AddLines(r.Context(), actor, r.PathValue("id"), req.ProductIDs)
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleInventoryBegin(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	resp, err := a.service.BeginCount(r.Context(), actor, r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleInventoryClose(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	resp, err := a.service.CloseCount(r.Context(), actor, r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

type recordFoundRequest struct {
	FoundQty decimal.Decimal `json:"found_qty"`
}

func (a *API) handleInventoryRecordFound(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req recordFoundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.RecordFound(r.Context(), actor, r.PathValue("id"), req.FoundQty)
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	var req domain.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.Transfer(r.Context(), actor, req)
	a.respond(w, http.StatusCreated, resp, err)
}

func (a *API) handleTransferGet(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetStockMovement(r.Context(), r.PathValue("id"))
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleStockGet(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetStockRecord(r.Context(), r.PathValue("storeID"), r.PathValue("productID"))
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	resp, err := a.service.ListAuditLogs(r.Context(), r.URL.Query().Get("store_id"), limit)
	a.respond(w, http.StatusOK, resp, err)
}

func (a *API) respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			a.logger.Error("request failed", zap.Int("status", code), zap.Error(err))
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, status, payload)
}

// statusFor maps the core's error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
