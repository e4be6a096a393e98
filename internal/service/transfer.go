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

// Transfer moves stock between two stores. Either every line is applied or
// none is.
func (s *Service) Transfer(ctx context.Context, actor domain.Actor, req domain.TransferRequest) (_ domain.StockMovement, err error) {
	ctx, span := s.startSpan(ctx, "transfer.create",
		attribute.String("transfer.from", req.FromStoreID),
		attribute.String("transfer.to", req.ToStoreID),
		attribute.Int("transfer.lines", len(req.Items)),
	)
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.StockMovement{}, err
	}
	from := strings.TrimSpace(req.FromStoreID)
	to := strings.TrimSpace(req.ToStoreID)
	if from == "" || to == "" {
		return domain.StockMovement{}, fmt.Errorf("%w: source and destination stores are required", store.ErrValidation)
	}
	if from == to {
		return domain.StockMovement{}, fmt.Errorf("%w: source and destination store must differ", store.ErrValidation)
	}
	if len(req.Items) == 0 {
		return domain.StockMovement{}, fmt.Errorf("%w: transfer requires at least one item", store.ErrValidation)
	}

	totals := make(map[string]decimal.Decimal, len(req.Items))
	products := make([]string, 0, len(req.Items))
	for i, line := range req.Items {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return domain.StockMovement{}, fmt.Errorf("%w: item %d product id is required", store.ErrValidation, i+1)
		}
		if !money.Round(line.Quantity).IsPositive() {
			return domain.StockMovement{}, fmt.Errorf("%w: item %d quantity must be positive", store.ErrValidation, i+1)
		}
		if _, seen := totals[productID]; !seen {
			products = append(products, productID)
		}
		totals[productID] = totals[productID].Add(money.Round(line.Quantity))
	}

	now := s.now()
	movement := domain.StockMovement{
		ID:          xid.New("mov"),
		FromStoreID: from,
		ToStoreID:   to,
		MovedAt:     now,
		CreatedBy:   actor.UserID,
		Notes:       strings.TrimSpace(req.Notes),
		CreatedAt:   now,
	}
	if req.MovedAt != nil {
		movement.MovedAt = req.MovedAt.UTC()
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		keys := make([]domain.StockKey, 0, 2*len(products))
		for _, productID := range products {
			keys = append(keys,
				domain.StockKey{StoreID: from, ProductID: productID},
				domain.StockKey{StoreID: to, ProductID: productID},
			)
		}
		sorted := store.SortedStockKeys(keys)

		var records map[domain.StockKey]domain.StockRecord
		if err := s.collaborate(ctx, "stock lock", func(ctx context.Context) error {
			var err error
			records, err = tx.LockStockRecords(ctx, sorted)
			return err
		}); err != nil {
			return err
		}

		// every line must fit before anything moves
		for _, productID := range products {
			src, ok := records[domain.StockKey{StoreID: from, ProductID: productID}]
			if !ok {
				return fmt.Errorf("%w: product %s has no stock at store %s", store.ErrInsufficientStock, productID, from)
			}
			if src.CurrentStock.LessThan(totals[productID]) {
				return fmt.Errorf("%w: product %s at store %s has %s, transfer needs %s", store.ErrInsufficientStock,
					productID, from, money.String(src.CurrentStock), money.String(totals[productID]))
			}
		}

		sourceLevel := make(map[string]decimal.Decimal, len(products))
		destLevel := make(map[string]decimal.Decimal, len(products))
		for _, productID := range products {
			src := records[domain.StockKey{StoreID: from, ProductID: productID}]
			sourceLevel[productID] = src.CurrentStock

			destKey := domain.StockKey{StoreID: to, ProductID: productID}
			if dst, ok := records[destKey]; ok {
				destLevel[productID] = dst.CurrentStock
				continue
			}
			if err := s.collaborate(ctx, "stock create", func(ctx context.Context) error {
				return tx.PutStockRecord(ctx, domain.StockRecord{
					StoreID:      to,
					ProductID:    productID,
					ProductName:  src.ProductName,
					CurrentStock: money.Zero,
					UnitCost:     src.UnitCost,
					SellingPrice: src.SellingPrice,
					UpdatedAt:    now,
				})
			}); err != nil {
				return fmt.Errorf("create stock record %s/%s: %w", to, productID, err)
			}
			destLevel[productID] = money.Zero
		}

		movement.Items = make([]domain.StockMovementItem, 0, len(req.Items))
		for i, line := range req.Items {
			productID := strings.TrimSpace(line.ProductID)
			qty := money.Round(line.Quantity)
			item := domain.StockMovementItem{
				ID:           xid.New("movi"),
				MovementID:   movement.ID,
				Position:     i + 1,
				ProductID:    productID,
				Quantity:     qty,
				Notes:        strings.TrimSpace(line.Notes),
				SourceBefore: sourceLevel[productID],
				SourceAfter:  sourceLevel[productID].Sub(qty),
				DestBefore:   destLevel[productID],
				DestAfter:    destLevel[productID].Add(qty),
			}
			sourceLevel[productID] = item.SourceAfter
			destLevel[productID] = item.DestAfter
			movement.Items = append(movement.Items, item)
		}

		for _, key := range sorted {
			delta := totals[key.ProductID]
			allowNegative := true
			if key.StoreID == from {
				delta = delta.Neg()
				allowNegative = false
			}
			if err := s.collaborate(ctx, "stock adjust", func(ctx context.Context) error {
				_, err := tx.AdjustStock(ctx, key, delta, allowNegative)
				return err
			}); err != nil {
				return fmt.Errorf("adjust stock %s/%s: %w", key.StoreID, key.ProductID, err)
			}
		}

		if err := tx.InsertStockMovement(ctx, movement); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, from, "stock_transfer", "stock_movement", movement.ID,
			fmt.Sprintf("from=%s,to=%s,lines=%d", from, to, len(movement.Items)))
	})
	if err != nil {
		return domain.StockMovement{}, err
	}

	s.logger.Info("stock transferred",
		zap.String("movement_id", movement.ID),
		zap.String("from_store", from),
		zap.String("to_store", to),
		zap.Int("lines", len(movement.Items)),
	)
	s.publish(ctx, domain.EventStockTransferred, actor, from, movement.ID, movement)
	return movement, nil
}

func (s *Service) GetStockMovement(ctx context.Context, movementID string) (domain.StockMovement, error) {
	if err := requireID("stock movement", movementID); err != nil {
		return domain.StockMovement{}, err
	}
	var movement *domain.StockMovement
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		movement, err = tx.GetStockMovement(ctx, movementID)
		return err
	})
	if err != nil {
		return domain.StockMovement{}, err
	}
	return *movement, nil
}

func (s *Service) GetStockRecord(ctx context.Context, storeID string, productID string) (domain.StockRecord, error) {
	if err := requireID("store", storeID); err != nil {
		return domain.StockRecord{}, err
	}
	if err := requireID("product", productID); err != nil {
		return domain.StockRecord{}, err
	}
	var rec *domain.StockRecord
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return s.collaborate(ctx, "stock lookup", func(ctx context.Context) error {
			var err error
			rec, err = tx.GetStockRecord(ctx, domain.StockKey{StoreID: storeID, ProductID: productID})
			return err
		})
	})
	if err != nil {
		return domain.StockRecord{}, err
	}
	return *rec, nil
}
