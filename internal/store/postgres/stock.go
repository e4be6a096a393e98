package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/money"
	"kasirinaja/poscore/internal/store"
)

const stockColumns = `store_id, product_id, product_name, current_stock, unit_cost, selling_price, price_tiers, updated_at`

func scanStockRecord(row rowScanner) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	var tiers []byte
	err := row.Scan(
		&rec.StoreID,
		&rec.ProductID,
		&rec.ProductName,
		&rec.CurrentStock,
		&rec.UnitCost,
		&rec.SellingPrice,
		&tiers,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(tiers) > 0 {
		if err := json.Unmarshal(tiers, &rec.PriceTiers); err != nil {
			return nil, fmt.Errorf("decode price tiers for %s/%s: %w", rec.StoreID, rec.ProductID, err)
		}
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (t *tx) GetStockRecord(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	return scanStockRecord(t.q.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_records
		WHERE store_id = $1 AND product_id = $2
	`, key.StoreID, key.ProductID))
}

func (t *tx) LockStockRecords(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]domain.StockRecord, error) {
	out := make(map[domain.StockKey]domain.StockRecord, len(keys))
	// one row at a time so the lock order is exactly the sorted key order
	for _, key := range store.SortedStockKeys(keys) {
		rec, err := scanStockRecord(t.q.QueryRowContext(ctx, `
			SELECT `+stockColumns+`
			FROM stock_records
			WHERE store_id = $1 AND product_id = $2
			FOR UPDATE
		`, key.StoreID, key.ProductID))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = *rec
	}
	return out, nil
}

func (t *tx) AdjustStock(ctx context.Context, key domain.StockKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error) {
	var next decimal.Decimal
	err := t.q.QueryRowContext(ctx, `
		UPDATE stock_records
		SET current_stock = current_stock + $3, updated_at = now()
		WHERE store_id = $1 AND product_id = $2 AND ($4 OR current_stock + $3 >= 0)
		RETURNING current_stock
	`, key.StoreID, key.ProductID, delta, allowNegative).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return money.Zero, err
	}
	if _, lookupErr := t.GetStockRecord(ctx, key); lookupErr != nil {
		return money.Zero, lookupErr
	}
	return money.Zero, store.ErrInsufficientStock
}

func (t *tx) SetStock(ctx context.Context, key domain.StockKey, qty decimal.Decimal) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE stock_records
		SET current_stock = $3, updated_at = now()
		WHERE store_id = $1 AND product_id = $2
	`, key.StoreID, key.ProductID, qty)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *tx) PutStockRecord(ctx context.Context, rec domain.StockRecord) error {
	tiers := rec.PriceTiers
	if tiers == nil {
		tiers = []domain.PriceTier{}
	}
	encoded, err := json.Marshal(tiers)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO stock_records (`+stockColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (store_id, product_id) DO UPDATE
		SET product_name = EXCLUDED.product_name,
			current_stock = EXCLUDED.current_stock,
			unit_cost = EXCLUDED.unit_cost,
			selling_price = EXCLUDED.selling_price,
			price_tiers = EXCLUDED.price_tiers,
			updated_at = EXCLUDED.updated_at
	`, rec.StoreID, rec.ProductID, rec.ProductName, rec.CurrentStock, rec.UnitCost, rec.SellingPrice,
		string(encoded), rec.UpdatedAt)
	return err
}

func (t *tx) LoyaltyBalance(ctx context.Context, customerID string) (int64, error) {
	var points int64
	err := t.q.QueryRowContext(ctx, `SELECT points FROM loyalty_accounts WHERE customer_id = $1`, customerID).Scan(&points)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return points, nil
}

func (t *tx) RedeemPoints(ctx context.Context, customerID string, points int64) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE loyalty_accounts
		SET points = points - $2, updated_at = now()
		WHERE customer_id = $1 AND points >= $2
	`, customerID, points)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		if _, lookupErr := t.LoyaltyBalance(ctx, customerID); lookupErr != nil {
			return lookupErr
		}
		return fmt.Errorf("%w: insufficient loyalty points", store.ErrValidation)
	}
	return nil
}

func (t *tx) CreditPoints(ctx context.Context, customerID string, points int64) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (customer_id, points, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (customer_id) DO UPDATE
		SET points = loyalty_accounts.points + EXCLUDED.points, updated_at = now()
	`, customerID, points)
	return err
}

func (t *tx) InsertStockMovement(ctx context.Context, movement domain.StockMovement) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_movements (id, from_store_id, to_store_id, moved_at, created_by, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, movement.ID, movement.FromStoreID, movement.ToStoreID, movement.MovedAt, movement.CreatedBy,
		nullIfEmpty(movement.Notes), movement.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	for _, item := range movement.Items {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO stock_movement_items (
				id, movement_id, position, product_id, quantity, notes,
				source_before, source_after, dest_before, dest_after
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, movement.ID, item.Position, item.ProductID, item.Quantity, nullIfEmpty(item.Notes),
			item.SourceBefore, item.SourceAfter, item.DestBefore, item.DestAfter)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) GetStockMovement(ctx context.Context, id string) (*domain.StockMovement, error) {
	var movement domain.StockMovement
	var notes sql.NullString
	err := t.q.QueryRowContext(ctx, `
		SELECT id, from_store_id, to_store_id, moved_at, created_by, notes, created_at
		FROM stock_movements
		WHERE id = $1
	`, id).Scan(&movement.ID, &movement.FromStoreID, &movement.ToStoreID, &movement.MovedAt,
		&movement.CreatedBy, &notes, &movement.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	movement.Notes = notes.String
	movement.MovedAt = movement.MovedAt.UTC()
	movement.CreatedAt = movement.CreatedAt.UTC()

	rows, err := t.q.QueryContext(ctx, `
		SELECT id, movement_id, position, product_id, quantity, notes,
			source_before, source_after, dest_before, dest_after
		FROM stock_movement_items
		WHERE movement_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movement.Items = make([]domain.StockMovementItem, 0, 4)
	for rows.Next() {
		var item domain.StockMovementItem
		var itemNotes sql.NullString
		if err := rows.Scan(&item.ID, &item.MovementID, &item.Position, &item.ProductID, &item.Quantity,
			&itemNotes, &item.SourceBefore, &item.SourceAfter, &item.DestBefore, &item.DestAfter); err != nil {
			return nil, err
		}
		item.Notes = itemNotes.String
		movement.Items = append(movement.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &movement, nil
}
