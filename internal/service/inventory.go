package service

import (
	"context"
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

// StartCount opens a DRAFT inventory count for the actor's store, freezing
// the expected quantity and unit cost of every product at this moment.
func (s *Service) StartCount(ctx context.Context, actor domain.Actor, req domain.StartCountRequest) (_ domain.Inventory, err error) {
	ctx, span := s.startSpan(ctx, "inventory.start",
		attribute.String("store.id", actor.StoreID),
		attribute.Int("inventory.lines", len(req.ProductIDs)),
	)
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Inventory{}, err
	}
	productIDs, err := distinctProducts(req.ProductIDs, nil)
	if err != nil {
		return domain.Inventory{}, err
	}

	now := s.now()
	inv := domain.Inventory{
		ID:        xid.New("inv"),
		StoreID:   actor.StoreID,
		CreatedBy: actor.UserID,
		Notes:     strings.TrimSpace(req.Notes),
		Status:    domain.InventoryStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		lines, err := s.snapshotLines(ctx, tx, inv.ID, inv.StoreID, productIDs, 1)
		if err != nil {
			return err
		}
		inv.Lines = lines
		applyInventoryTotals(&inv)
		if err := tx.InsertInventory(ctx, inv); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, inv.StoreID, "inventory_start", "inventory", inv.ID,
			fmt.Sprintf("lines=%d,expected_value=%s", len(inv.Lines), money.String(inv.ExpectedValue)))
	})
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logger.Info("inventory count started", zap.String("inventory_id", inv.ID), zap.Int("lines", len(inv.Lines)))
	return inv, nil
}

// AddLines snapshots further products into a DRAFT count.
func (s *Service) AddLines(ctx context.Context, actor domain.Actor, inventoryID string, productIDs []string) (_ domain.Inventory, err error) {
	ctx, span := s.startSpan(ctx, "inventory.add_lines", attribute.String("inventory.id", inventoryID))
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Inventory{}, err
	}
	if err := requireID("inventory", inventoryID); err != nil {
		return domain.Inventory{}, err
	}

	var inv domain.Inventory
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetInventory(ctx, inventoryID, true)
		if err != nil {
			return fmt.Errorf("inventory %s: %w", inventoryID, err)
		}
		if current.Status != domain.InventoryStatusDraft {
			return fmt.Errorf("%w: inventory %s is %s, lines can only be added while DRAFT", store.ErrInvalidState, inventoryID, current.Status)
		}

		existing := make(map[string]struct{}, len(current.Lines))
		for _, line := range current.Lines {
			existing[line.ProductID] = struct{}{}
		}
		ids, err := distinctProducts(productIDs, existing)
		if err != nil {
			return err
		}
		lines, err := s.snapshotLines(ctx, tx, current.ID, current.StoreID, ids, len(current.Lines)+1)
		if err != nil {
			return err
		}

		current.Lines = append(current.Lines, lines...)
		applyInventoryTotals(current)
		current.UpdatedAt = s.now()
		if err := tx.UpdateInventory(ctx, *current); err != nil {
			return err
		}
		inv = *current
		return s.audit(ctx, tx, actor, inv.StoreID, "inventory_add_lines", "inventory", inv.ID,
			fmt.Sprintf("added=%d", len(lines)))
	})
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logger.Info("inventory lines added", zap.String("inventory_id", inv.ID), zap.Int("lines", len(inv.Lines)))
	return inv, nil
}

// BeginCount moves a DRAFT count to IN_PROGRESS.
func (s *Service) BeginCount(ctx context.Context, actor domain.Actor, inventoryID string) (_ domain.Inventory, err error) {
	ctx, span := s.startSpan(ctx, "inventory.begin", attribute.String("inventory.id", inventoryID))
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Inventory{}, err
	}
	if err := requireID("inventory", inventoryID); err != nil {
		return domain.Inventory{}, err
	}

	var inv domain.Inventory
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetInventory(ctx, inventoryID, true)
		if err != nil {
			return fmt.Errorf("inventory %s: %w", inventoryID, err)
		}
		if current.Status != domain.InventoryStatusDraft {
			return fmt.Errorf("%w: inventory %s is already %s", store.ErrInvalidState, inventoryID, current.Status)
		}
		if len(current.Lines) == 0 {
			return fmt.Errorf("%w: inventory %s has no lines", store.ErrValidation, inventoryID)
		}
		current.Status = domain.InventoryStatusInProgress
		current.UpdatedAt = s.now()
		if err := tx.UpdateInventory(ctx, *current); err != nil {
			return err
		}
		inv = *current
		return s.audit(ctx, tx, actor, inv.StoreID, "inventory_begin", "inventory", inv.ID, "")
	})
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logger.Info("inventory count begun", zap.String("inventory_id", inv.ID))
	return inv, nil
}

// RecordFound stores the counted quantity of one line and recomputes the
// line and header values. The first count of a DRAFT moves it IN_PROGRESS.
func (s *Service) RecordFound(ctx context.Context, actor domain.Actor, lineID string, foundQty decimal.Decimal) (_ domain.Inventory, err error) {
	ctx, span := s.startSpan(ctx, "inventory.record_found", attribute.String("inventory.line_id", lineID))
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Inventory{}, err
	}
	if err := requireID("inventory line", lineID); err != nil {
		return domain.Inventory{}, err
	}
	if foundQty.IsNegative() {
		return domain.Inventory{}, fmt.Errorf("%w: found quantity must not be negative", store.ErrValidation)
	}

	var inv domain.Inventory
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.FindInventoryByLine(ctx, lineID, true)
		if err != nil {
			return fmt.Errorf("inventory line %s: %w", lineID, err)
		}
		if current.Status == domain.InventoryStatusClosed {
			return fmt.Errorf("%w: inventory %s is closed", store.ErrInvalidState, current.ID)
		}

		for i := range current.Lines {
			if current.Lines[i].ID == lineID {
				applyFound(&current.Lines[i], foundQty)
				break
			}
		}
		if current.Status == domain.InventoryStatusDraft {
			current.Status = domain.InventoryStatusInProgress
		}
		applyInventoryTotals(current)
		current.UpdatedAt = s.now()
		if err := tx.UpdateInventory(ctx, *current); err != nil {
			return err
		}
		inv = *current
		return nil
	})
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logger.Debug("inventory line counted", zap.String("inventory_id", inv.ID), zap.String("line_id", lineID))
	return inv, nil
}

// CloseCount finalizes a fully counted inventory and sets every counted
// product's stock to the found quantity.
func (s *Service) CloseCount(ctx context.Context, actor domain.Actor, inventoryID string) (_ domain.Inventory, err error) {
	ctx, span := s.startSpan(ctx, "inventory.close", attribute.String("inventory.id", inventoryID))
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Inventory{}, err
	}
	if err := requireID("inventory", inventoryID); err != nil {
		return domain.Inventory{}, err
	}

	var inv domain.Inventory
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetInventory(ctx, inventoryID, true)
		if err != nil {
			return fmt.Errorf("inventory %s: %w", inventoryID, err)
		}
		if current.Status == domain.InventoryStatusClosed {
			return fmt.Errorf("%w: inventory %s is already closed", store.ErrInvalidState, inventoryID)
		}
		if len(current.Lines) == 0 {
			return fmt.Errorf("%w: inventory %s has no lines", store.ErrInvalidState, inventoryID)
		}
		pending := 0
		for _, line := range current.Lines {
			if !line.Recorded() {
				pending++
			}
		}
		if pending > 0 {
			return fmt.Errorf("%w: inventory %s has %d uncounted lines", store.ErrInvalidState, inventoryID, pending)
		}

		keys := make([]domain.StockKey, 0, len(current.Lines))
		found := make(map[domain.StockKey]decimal.Decimal, len(current.Lines))
		for _, line := range current.Lines {
			key := domain.StockKey{StoreID: current.StoreID, ProductID: line.ProductID}
			keys = append(keys, key)
			found[key] = line.FoundQty.Decimal
		}
		sorted := store.SortedStockKeys(keys)
		if err := s.collaborate(ctx, "stock lock", func(ctx context.Context) error {
			_, err := tx.LockStockRecords(ctx, sorted)
			return err
		}); err != nil {
			return err
		}
		for _, key := range sorted {
			if err := s.collaborate(ctx, "stock set", func(ctx context.Context) error {
				return tx.SetStock(ctx, key, found[key])
			}); err != nil {
				return fmt.Errorf("set stock %s/%s: %w", key.StoreID, key.ProductID, err)
			}
		}

		closedAt := s.now()
		applyInventoryTotals(current)
		current.Status = domain.InventoryStatusClosed
		current.ClosedAt = &closedAt
		current.UpdatedAt = closedAt
		if err := tx.UpdateInventory(ctx, *current); err != nil {
			return err
		}
		inv = *current
		return s.audit(ctx, tx, actor, inv.StoreID, "inventory_close", "inventory", inv.ID,
			fmt.Sprintf("loss=%s,gain=%s", money.String(inv.LossValue), money.String(inv.GainValue)))
	})
	if err != nil {
		return domain.Inventory{}, err
	}

	s.logger.Info("inventory closed",
		zap.String("inventory_id", inv.ID),
		zap.String("loss_value", money.String(inv.LossValue)),
		zap.String("gain_value", money.String(inv.GainValue)),
	)
	s.publish(ctx, domain.EventInventoryClosed, actor, inv.StoreID, inv.ID, inv)
	return inv, nil
}

func (s *Service) GetInventory(ctx context.Context, inventoryID string) (domain.Inventory, error) {
	if err := requireID("inventory", inventoryID); err != nil {
		return domain.Inventory{}, err
	}
	var inv *domain.Inventory
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		inv, err = tx.GetInventory(ctx, inventoryID, false)
		return err
	})
	if err != nil {
		return domain.Inventory{}, err
	}
	return *inv, nil
}

func (s *Service) snapshotLines(ctx context.Context, tx store.Tx, inventoryID string, storeID string, productIDs []string, firstPosition int) ([]domain.InventoryLine, error) {
	lines := make([]domain.InventoryLine, 0, len(productIDs))
	for i, productID := range productIDs {
		key := domain.StockKey{StoreID: storeID, ProductID: productID}
		var rec *domain.StockRecord
		if err := s.collaborate(ctx, "stock lookup", func(ctx context.Context) error {
			var err error
			rec, err = tx.GetStockRecord(ctx, key)
			return err
		}); err != nil {
			return nil, fmt.Errorf("product %s at store %s: %w", productID, storeID, err)
		}

		lines = append(lines, domain.InventoryLine{
			ID:            xid.New("invl"),
			InventoryID:   inventoryID,
			Position:      firstPosition + i,
			ProductID:     rec.ProductID,
			ProductName:   rec.ProductName,
			UnitCost:      rec.UnitCost,
			ExpectedQty:   rec.CurrentStock,
			ExpectedValue: money.Mul(rec.CurrentStock, rec.UnitCost),
			Difference:    money.Zero,
			FoundValue:    money.Zero,
			LossValue:     money.Zero,
			GainValue:     money.Zero,
		})
	}
	return lines, nil
}

func applyFound(line *domain.InventoryLine, foundQty decimal.Decimal) {
	found := money.Round(foundQty)
	line.FoundQty = decimal.NullDecimal{Decimal: found, Valid: true}
	line.Difference = found.Sub(line.ExpectedQty)
	line.FoundValue = money.Mul(found, line.UnitCost)
	line.LossValue = money.NonNegative(line.ExpectedValue.Sub(line.FoundValue))
	line.GainValue = money.NonNegative(line.FoundValue.Sub(line.ExpectedValue))
}

// applyInventoryTotals sums the header values over all lines.
func applyInventoryTotals(inv *domain.Inventory) {
	expected, found, loss, gain := money.Zero, money.Zero, money.Zero, money.Zero
	for _, line := range inv.Lines {
		expected = expected.Add(line.ExpectedValue)
		found = found.Add(line.FoundValue)
		loss = loss.Add(line.LossValue)
		gain = gain.Add(line.GainValue)
	}
	inv.ExpectedValue = expected
	inv.FoundValue = found
	inv.LossValue = loss
	inv.GainValue = gain
}

func distinctProducts(productIDs []string, existing map[string]struct{}) ([]string, error) {
	if len(productIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one product is required", store.ErrValidation)
	}
	seen := make(map[string]struct{}, len(productIDs))
	out := make([]string, 0, len(productIDs))
	for _, raw := range productIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("%w: product id is required", store.ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: product %s listed twice", store.ErrValidation, id)
		}
		if _, dup := existing[id]; dup {
			return nil, fmt.Errorf("%w: product %s is already in the count", store.ErrValidation, id)
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
