package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/money"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/xid"
)

func (s *Service) CreateDraft(ctx context.Context, actor domain.Actor, req domain.DraftOrderRequest) (_ domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "order.create_draft",
		attribute.String("store.id", actor.StoreID),
		attribute.Int("order.lines", len(req.Items)),
	)
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Order{}, err
	}
	if err := validateItemInputs(req.Items); err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	orderedAt := now
	if req.OrderedAt != nil {
		orderedAt = req.OrderedAt.UTC()
	}

	var order domain.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		shift, err := s.activeShift(ctx, tx, actor, actor.StoreID)
		if err != nil {
			return err
		}

		order = domain.Order{
			ID:         xid.New("order"),
			Number:     xid.OrderNumber(actor.StoreID, now),
			StoreID:    actor.StoreID,
			CustomerID: strings.TrimSpace(req.CustomerID),
			ShiftID:    shift.ID,
			CreatedBy:  actor.UserID,
			Status:     domain.OrderStatusDraft,
			OrderedAt:  orderedAt,
			UpdatedAt:  now,
		}
		order.Items, err = s.priceItems(ctx, tx, order.ID, actor.StoreID, req.Items)
		if err != nil {
			return err
		}
		applyOrderTotals(&order)

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, order.StoreID, "order_draft", "order", order.ID,
			fmt.Sprintf("number=%s,total=%s", order.Number, money.String(order.TotalAmount)))
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info("order drafted",
		zap.String("order_id", order.ID),
		zap.String("number", order.Number),
		zap.String("total_amount", money.String(order.TotalAmount)),
	)
	return order, nil
}

// EditDraft replaces the lines and customer of a DRAFT order.
func (s *Service) EditDraft(ctx context.Context, actor domain.Actor, orderID string, req domain.DraftOrderRequest) (_ domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "order.edit_draft", attribute.String("order.id", orderID))
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Order{}, err
	}
	if err := requireID("order", orderID); err != nil {
		return domain.Order{}, err
	}
	if err := validateItemInputs(req.Items); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		if current.Status != domain.OrderStatusDraft {
			return fmt.Errorf("%w: order %s is %s, only DRAFT orders can be edited", store.ErrInvalidState, orderID, current.Status)
		}

		current.CustomerID = strings.TrimSpace(req.CustomerID)
		if req.OrderedAt != nil {
			current.OrderedAt = req.OrderedAt.UTC()
		}
		current.Items, err = s.priceItems(ctx, tx, current.ID, current.StoreID, req.Items)
		if err != nil {
			return err
		}
		applyOrderTotals(current)
		current.UpdatedAt = s.now()

		if err := tx.UpdateOrder(ctx, *current); err != nil {
			return err
		}
		order = *current
		return s.audit(ctx, tx, actor, order.StoreID, "order_edit", "order", order.ID,
			fmt.Sprintf("total=%s", money.String(order.TotalAmount)))
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info("order draft edited", zap.String("order_id", order.ID), zap.String("total_amount", money.String(order.TotalAmount)))
	return order, nil
}

// CancelItem drops a single line from a DRAFT order.
func (s *Service) CancelItem(ctx context.Context, actor domain.Actor, orderID string, itemID string) (_ domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "order.cancel_item",
		attribute.String("order.id", orderID),
		attribute.String("item.id", itemID),
	)
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Order{}, err
	}
	if err := requireID("order", orderID); err != nil {
		return domain.Order{}, err
	}
	if err := requireID("item", itemID); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		if current.Status != domain.OrderStatusDraft {
			return fmt.Errorf("%w: order %s is %s, items can only be cancelled on DRAFT orders", store.ErrInvalidState, orderID, current.Status)
		}
		idx := findItem(current.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
		}
		if current.Items[idx].Status == domain.ItemStatusCancelled {
			return fmt.Errorf("%w: item %s is already cancelled", store.ErrInvalidState, itemID)
		}

		current.Items[idx].Status = domain.ItemStatusCancelled
		applyOrderTotals(current)
		current.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, *current); err != nil {
			return err
		}
		order = *current
		return s.audit(ctx, tx, actor, order.StoreID, "order_item_cancel", "order", order.ID, "item="+itemID)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info("order item cancelled", zap.String("order_id", order.ID), zap.String("item_id", itemID))
	return order, nil
}

// Confirm moves a DRAFT order to CONFIRMED, decrementing stock and rolling
// the totals onto the order's shift.
func (s *Service) Confirm(ctx context.Context, actor domain.Actor, orderID string) (_ domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "order.confirm", attribute.String("order.id", orderID))
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Order{}, err
	}
	if err := requireID("order", orderID); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		if err := s.confirmOrder(ctx, tx, actor, current); err != nil {
			return err
		}
		order = *current
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info("order confirmed",
		zap.String("order_id", order.ID),
		zap.String("shift_id", order.ShiftID),
		zap.String("total_amount", money.String(order.TotalAmount)),
	)
	s.publish(ctx, domain.EventOrderConfirmed, actor, order.StoreID, order.ID, order)
	return order, nil
}

// confirmOrder runs inside the caller's unit of work and mutates order.
func (s *Service) confirmOrder(ctx context.Context, tx store.Tx, actor domain.Actor, order *domain.Order) error {
	if order.Status != domain.OrderStatusDraft {
		return fmt.Errorf("%w: order %s is %s, only DRAFT orders can be confirmed", store.ErrInvalidState, order.ID, order.Status)
	}

	active := activeItems(order.Items)
	if len(active) == 0 {
		return fmt.Errorf("%w: order %s has no active items", store.ErrValidation, order.ID)
	}

	check := *order
	applyOrderTotals(&check)
	if !totalsEqual(check, *order) {
		return fmt.Errorf("%w: order %s totals do not balance with its items", store.ErrValidation, order.ID)
	}

	wanted := make(map[domain.StockKey]decimal.Decimal, len(active))
	keys := make([]domain.StockKey, 0, len(active))
	for _, item := range active {
		key := domain.StockKey{StoreID: order.StoreID, ProductID: item.ProductID}
		if _, seen := wanted[key]; !seen {
			keys = append(keys, key)
		}
		wanted[key] = wanted[key].Add(item.Quantity)
	}
	if err := s.decrementStock(ctx, tx, keys, wanted); err != nil {
		return err
	}

	for i := range order.Items {
		if order.Items[i].Status != domain.ItemStatusCancelled {
			order.Items[i].Status = domain.ItemStatusSold
		}
	}
	order.Status = domain.OrderStatusConfirmed
	order.UpdatedAt = s.now()
	if err := tx.UpdateOrder(ctx, *order); err != nil {
		return err
	}

	if _, err := s.recordOrder(ctx, tx, order.ShiftID, domain.ShiftDelta{
		Sales:        order.TotalAmount,
		Discount:     order.TotalDiscount,
		Profit:       order.TotalProfit,
		Cost:         order.TotalCost,
		Items:        order.TotalItems,
		Transactions: 1,
	}); err != nil {
		return err
	}

	return s.audit(ctx, tx, actor, order.StoreID, "order_confirm", "order", order.ID,
		fmt.Sprintf("number=%s,total=%s,items=%s", order.Number, money.String(order.TotalAmount), money.String(order.TotalItems)))
}

func (s *Service) decrementStock(ctx context.Context, tx store.Tx, keys []domain.StockKey, wanted map[domain.StockKey]decimal.Decimal) error {
	sorted := store.SortedStockKeys(keys)
	var records map[domain.StockKey]domain.StockRecord
	if err := s.collaborate(ctx, "stock lock", func(ctx context.Context) error {
		var err error
		records, err = tx.LockStockRecords(ctx, sorted)
		return err
	}); err != nil {
		return err
	}

	for _, key := range sorted {
		if _, ok := records[key]; !ok {
			return fmt.Errorf("stock record %s/%s: %w", key.StoreID, key.ProductID, store.ErrNotFound)
		}
		if err := s.collaborate(ctx, "stock adjust", func(ctx context.Context) error {
			_, err := tx.AdjustStock(ctx, key, wanted[key].Neg(), s.opts.AllowNegativeStock)
			return err
		}); err != nil {
			if errors.Is(err, store.ErrInsufficientStock) {
				return fmt.Errorf("%w: product %s at store %s has %s, needs %s", store.ErrInsufficientStock,
					key.ProductID, key.StoreID, money.String(records[key].CurrentStock), money.String(wanted[key]))
			}
			return err
		}
	}
	return nil
}

// Cancel abandons a DRAFT order. Drafts never hold stock, so nothing is
// restored.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, orderID string) (_ domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "order.cancel", attribute.String("order.id", orderID))
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Order{}, err
	}
	if err := requireID("order", orderID); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		if current.Status != domain.OrderStatusDraft {
			return fmt.Errorf("%w: order %s is %s, only DRAFT orders can be cancelled", store.ErrInvalidState, orderID, current.Status)
		}

		for i := range current.Items {
			current.Items[i].Status = domain.ItemStatusCancelled
		}
		applyOrderTotals(current)
		current.Status = domain.OrderStatusCancelled
		current.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, *current); err != nil {
			return err
		}
		order = *current
		return s.audit(ctx, tx, actor, order.StoreID, "order_cancel", "order", order.ID, "number="+order.Number)
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info("order cancelled", zap.String("order_id", order.ID))
	s.publish(ctx, domain.EventOrderCancelled, actor, order.StoreID, order.ID, order)
	return order, nil
}

// DeleteOrder removes a DRAFT or CANCELLED order together with its items.
func (s *Service) DeleteOrder(ctx context.Context, actor domain.Actor, orderID string) (err error) {
	ctx, span := s.startSpan(ctx, "order.delete", attribute.String("order.id", orderID))
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return err
	}
	if err := requireID("order", orderID); err != nil {
		return err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		if current.Status != domain.OrderStatusDraft && current.Status != domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order %s is %s, only DRAFT or CANCELLED orders can be deleted", store.ErrInvalidState, orderID, current.Status)
		}
		if err := tx.DeleteOrder(ctx, orderID); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, current.StoreID, "order_delete", "order", orderID, "number="+current.Number)
	})
	if err != nil {
		return err
	}

	s.logger.Info("order deleted", zap.String("order_id", orderID))
	return nil
}

// RefundItems returns quantities of SOLD lines. Stock is restored and the
// refund lands on the refunding user's open shift at the order's store.
func (s *Service) RefundItems(ctx context.Context, actor domain.Actor, orderID string, lines []domain.RefundLine) (_ domain.Order, err error) {
	ctx, span := s.startSpan(ctx, "order.refund",
		attribute.String("order.id", orderID),
		attribute.Int("refund.lines", len(lines)),
	)
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Order{}, err
	}
	if err := requireID("order", orderID); err != nil {
		return domain.Order{}, err
	}
	if len(lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: refund requires at least one line", store.ErrValidation)
	}

	requested := make(map[string]decimal.Decimal, len(lines))
	itemOrder := make([]string, 0, len(lines))
	for _, line := range lines {
		qty := money.Round(line.Quantity)
		if strings.TrimSpace(line.ItemID) == "" {
			return domain.Order{}, fmt.Errorf("%w: refund line item id is required", store.ErrValidation)
		}
		if !qty.IsPositive() {
			return domain.Order{}, fmt.Errorf("%w: refund quantity for item %s must be positive", store.ErrValidation, line.ItemID)
		}
		if _, seen := requested[line.ItemID]; !seen {
			itemOrder = append(itemOrder, line.ItemID)
		}
		requested[line.ItemID] = requested[line.ItemID].Add(qty)
	}

	var order domain.Order
	var refunded decimal.Decimal
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrder(ctx, orderID, true)
		if err != nil {
			return fmt.Errorf("order %s: %w", orderID, err)
		}
		if current.Status != domain.OrderStatusConfirmed && current.Status != domain.OrderStatusPartiallyRefunded {
			return fmt.Errorf("%w: order %s is %s and cannot be refunded", store.ErrInvalidState, orderID, current.Status)
		}

		shift, err := s.activeShift(ctx, tx, actor, current.StoreID)
		if err != nil {
			return err
		}

		restock := make(map[domain.StockKey]decimal.Decimal, len(itemOrder))
		keys := make([]domain.StockKey, 0, len(itemOrder))
		delta := domain.ShiftDelta{}
		for _, itemID := range itemOrder {
			idx := findItem(current.Items, itemID)
			if idx < 0 {
				return fmt.Errorf("item %s: %w", itemID, store.ErrNotFound)
			}
			item := &current.Items[idx]
			if item.Status != domain.ItemStatusSold && item.Status != domain.ItemStatusPartiallyRefunded {
				return fmt.Errorf("%w: item %s is %s and cannot be refunded", store.ErrInvalidState, itemID, item.Status)
			}

			qty := requested[itemID]
			remaining := item.Quantity.Sub(item.RefundedQty)
			if qty.GreaterThan(remaining) {
				return fmt.Errorf("%w: item %s has %s refundable, requested %s", store.ErrValidation,
					itemID, money.String(remaining), money.String(qty))
			}

			amount, cost := refundShare(*item, qty)
			item.RefundedQty = item.RefundedQty.Add(qty)
			item.RefundedAmount = item.RefundedAmount.Add(amount)
			if item.RefundedQty.Equal(item.Quantity) {
				item.Status = domain.ItemStatusRefunded
			} else {
				item.Status = domain.ItemStatusPartiallyRefunded
			}

			delta.Refund = delta.Refund.Add(amount)
			delta.Cost = delta.Cost.Sub(cost)
			delta.Profit = delta.Profit.Sub(amount.Sub(cost))

			key := domain.StockKey{StoreID: current.StoreID, ProductID: item.ProductID}
			if _, seen := restock[key]; !seen {
				keys = append(keys, key)
			}
			restock[key] = restock[key].Add(qty)
		}

		for _, key := range store.SortedStockKeys(keys) {
			if err := s.collaborate(ctx, "stock adjust", func(ctx context.Context) error {
				_, err := tx.AdjustStock(ctx, key, restock[key], true)
				return err
			}); err != nil {
				return fmt.Errorf("restock %s/%s: %w", key.StoreID, key.ProductID, err)
			}
		}

		applyOrderTotals(current)
		current.Status = domain.OrderStatusRefunded
		for _, item := range current.Items {
			if item.Status != domain.ItemStatusCancelled && item.Status != domain.ItemStatusRefunded {
				current.Status = domain.OrderStatusPartiallyRefunded
				break
			}
		}
		current.UpdatedAt = s.now()
		if err := tx.UpdateOrder(ctx, *current); err != nil {
			return err
		}

		if _, err := s.recordOrder(ctx, tx, shift.ID, delta); err != nil {
			return err
		}

		order = *current
		refunded = delta.Refund
		return s.audit(ctx, tx, actor, order.StoreID, "order_refund", "order", order.ID,
			fmt.Sprintf("amount=%s,shift=%s,status=%s", money.String(delta.Refund), shift.ID, order.Status))
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info("order refunded",
		zap.String("order_id", order.ID),
		zap.String("refund_amount", money.String(refunded)),
		zap.String("status", order.Status),
	)
	s.publish(ctx, domain.EventOrderRefunded, actor, order.StoreID, order.ID, order)
	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if err := requireID("order", orderID); err != nil {
		return domain.Order{}, err
	}
	var order *domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID, false)
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// activeShift returns the actor's OPEN shift, which must belong to storeID.
func (s *Service) activeShift(ctx context.Context, tx store.Tx, actor domain.Actor, storeID string) (*domain.Shift, error) {
	shift, err := tx.FindOpenShiftByUser(ctx, actor.UserID, true)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %s has no open shift", store.ErrInvalidState, actor.UserID)
	}
	if err != nil {
		return nil, err
	}
	if shift.StoreID != storeID {
		return nil, fmt.Errorf("%w: open shift %s belongs to store %s, not %s", store.ErrInvalidState, shift.ID, shift.StoreID, storeID)
	}
	return shift, nil
}

func (s *Service) priceItems(ctx context.Context, tx store.Tx, orderID string, storeID string, inputs []domain.OrderItemInput) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(inputs))
	for i, in := range inputs {
		key := domain.StockKey{StoreID: storeID, ProductID: strings.TrimSpace(in.ProductID)}
		var rec *domain.StockRecord
		if err := s.collaborate(ctx, "stock lookup", func(ctx context.Context) error {
			var err error
			rec, err = tx.GetStockRecord(ctx, key)
			return err
		}); err != nil {
			return nil, fmt.Errorf("product %s at store %s: %w", key.ProductID, storeID, err)
		}

		item := priceLine(*rec, in)
		item.ID = xid.New("item")
		item.OrderID = orderID
		item.Position = i + 1
		items = append(items, item)
	}
	return items, nil
}

// priceLine prices one line against the store's stock record. The best
// tier the quantity reaches is applied as a discount on top of the
// explicit one, and the combined discount never exceeds the gross line.
func priceLine(rec domain.StockRecord, in domain.OrderItemInput) domain.OrderItem {
	qty := money.Round(in.Quantity)
	gross := money.Mul(qty, rec.SellingPrice)

	discount := money.Round(in.Discount)
	if tier, ok := bestTierPrice(rec.PriceTiers, qty); ok && tier.LessThan(rec.SellingPrice) {
		discount = discount.Add(gross.Sub(money.Mul(qty, tier)))
	}
	discount = money.Min(discount, gross)

	total := gross.Sub(discount)
	cost := money.Mul(qty, rec.UnitCost)
	return domain.OrderItem{
		ProductID:      rec.ProductID,
		ProductName:    rec.ProductName,
		Quantity:       qty,
		UnitPrice:      rec.SellingPrice,
		Discount:       discount,
		Total:          total,
		UnitCost:       rec.UnitCost,
		Cost:           cost,
		Profit:         total.Sub(cost),
		RefundedQty:    money.Zero,
		RefundedAmount: money.Zero,
		Status:         domain.ItemStatusPending,
	}
}

func bestTierPrice(tiers []domain.PriceTier, qty decimal.Decimal) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, tier := range tiers {
		if tier.MinQuantity.GreaterThan(qty) {
			continue
		}
		if !found || tier.UnitPrice.LessThan(best) {
			best = tier.UnitPrice
			found = true
		}
	}
	return best, found
}

// refundShare splits an item's total and cost proportionally. The refund
// that empties the item takes whatever is left so rounding never leaks.
func refundShare(item domain.OrderItem, qty decimal.Decimal) (amount decimal.Decimal, cost decimal.Decimal) {
	costBefore := money.Round(item.Cost.Mul(item.RefundedQty).Div(item.Quantity))
	if item.RefundedQty.Add(qty).Equal(item.Quantity) {
		return item.Total.Sub(item.RefundedAmount), item.Cost.Sub(costBefore)
	}
	amount = money.Round(item.Total.Mul(qty).Div(item.Quantity))
	cost = money.Round(item.Cost.Mul(item.RefundedQty.Add(qty)).Div(item.Quantity)).Sub(costBefore)
	return amount, cost
}

// applyOrderTotals recomputes the header from the non-cancelled lines.
func applyOrderTotals(order *domain.Order) {
	amount, discount, items, cost, profit, refund := money.Zero, money.Zero, money.Zero, money.Zero, money.Zero, money.Zero
	for _, item := range order.Items {
		if item.Status == domain.ItemStatusCancelled {
			continue
		}
		amount = amount.Add(item.Total)
		discount = discount.Add(item.Discount)
		items = items.Add(item.Quantity)
		cost = cost.Add(item.Cost)
		profit = profit.Add(item.Profit)
		refund = refund.Add(item.RefundedAmount)
	}
	order.TotalAmount = amount
	order.TotalDiscount = discount
	order.TotalItems = items
	order.TotalCost = cost
	order.TotalProfit = profit
	order.TotalRefund = refund
}

func totalsEqual(a, b domain.Order) bool {
	return money.Equal(a.TotalAmount, b.TotalAmount) &&
		money.Equal(a.TotalDiscount, b.TotalDiscount) &&
		money.Equal(a.TotalItems, b.TotalItems) &&
		money.Equal(a.TotalCost, b.TotalCost) &&
		money.Equal(a.TotalProfit, b.TotalProfit)
}

func activeItems(items []domain.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Status != domain.ItemStatusCancelled {
			out = append(out, item)
		}
	}
	return out
}

func findItem(items []domain.OrderItem, itemID string) int {
	for i := range items {
		if items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func validateItemInputs(items []domain.OrderItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order requires at least one item", store.ErrValidation)
	}
	for i, in := range items {
		if strings.TrimSpace(in.ProductID) == "" {
			return fmt.Errorf("%w: item %d product id is required", store.ErrValidation, i+1)
		}
		if !money.Round(in.Quantity).IsPositive() {
			return fmt.Errorf("%w: item %d quantity must be positive", store.ErrValidation, i+1)
		}
		if in.Discount.IsNegative() {
			return fmt.Errorf("%w: item %d discount must not be negative", store.ErrValidation, i+1)
		}
	}
	return nil
}
