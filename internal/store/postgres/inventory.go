package postgres

import (
	"context"
	"database/sql"
	"errors"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
)

func (t *tx) GetInventory(ctx context.Context, id string, forUpdate bool) (*domain.Inventory, error) {
	var inv domain.Inventory
	var notes sql.NullString
	var closedAt sql.NullTime
	err := t.q.QueryRowContext(ctx, `
		SELECT id, store_id, created_by, notes, status, expected_value, found_value, loss_value, gain_value,
			created_at, updated_at, closed_at
		FROM inventories
		WHERE id = $1`+lockClause(forUpdate), id).Scan(
		&inv.ID,
		&inv.StoreID,
		&inv.CreatedBy,
		&notes,
		&inv.Status,
		&inv.ExpectedValue,
		&inv.FoundValue,
		&inv.LossValue,
		&inv.GainValue,
		&inv.CreatedAt,
		&inv.UpdatedAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	inv.Notes = notes.String
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		inv.ClosedAt = &at
	}

	rows, err := t.q.QueryContext(ctx, `
		SELECT id, inventory_id, position, product_id, product_name, unit_cost, expected_qty, found_qty,
			difference, expected_value, found_value, loss_value, gain_value
		FROM inventory_lines
		WHERE inventory_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inv.Lines = make([]domain.InventoryLine, 0, 16)
	for rows.Next() {
		var line domain.InventoryLine
		if err := rows.Scan(
			&line.ID,
			&line.InventoryID,
			&line.Position,
			&line.ProductID,
			&line.ProductName,
			&line.UnitCost,
			&line.ExpectedQty,
			&line.FoundQty,
			&line.Difference,
			&line.ExpectedValue,
			&line.FoundValue,
			&line.LossValue,
			&line.GainValue,
		); err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (t *tx) FindInventoryByLine(ctx context.Context, lineID string, forUpdate bool) (*domain.Inventory, error) {
	var inventoryID string
	err := t.q.QueryRowContext(ctx, `SELECT inventory_id FROM inventory_lines WHERE id = $1`, lineID).Scan(&inventoryID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return t.GetInventory(ctx, inventoryID, forUpdate)
}

func (t *tx) InsertInventory(ctx context.Context, inv domain.Inventory) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO inventories (
			id, store_id, created_by, notes, status, expected_value, found_value, loss_value, gain_value,
			created_at, updated_at, closed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, inv.ID, inv.StoreID, inv.CreatedBy, nullIfEmpty(inv.Notes), inv.Status, inv.ExpectedValue, inv.FoundValue,
		inv.LossValue, inv.GainValue, inv.CreatedAt, inv.UpdatedAt, nullTime(inv.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return t.insertInventoryLines(ctx, inv)
}

func (t *tx) UpdateInventory(ctx context.Context, inv domain.Inventory) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE inventories
		SET notes = $2, status = $3, expected_value = $4, found_value = $5, loss_value = $6, gain_value = $7,
			updated_at = $8, closed_at = $9
		WHERE id = $1
	`, inv.ID, nullIfEmpty(inv.Notes), inv.Status, inv.ExpectedValue, inv.FoundValue, inv.LossValue,
		inv.GainValue, inv.UpdatedAt, nullTime(inv.ClosedAt))
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM inventory_lines WHERE inventory_id = $1`, inv.ID); err != nil {
		return err
	}
	return t.insertInventoryLines(ctx, inv)
}

func (t *tx) insertInventoryLines(ctx context.Context, inv domain.Inventory) error {
	for _, line := range inv.Lines {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO inventory_lines (
				id, inventory_id, position, product_id, product_name, unit_cost, expected_qty, found_qty,
				difference, expected_value, found_value, loss_value, gain_value
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, line.ID, inv.ID, line.Position, line.ProductID, line.ProductName, line.UnitCost, line.ExpectedQty,
			line.FoundQty, line.Difference, line.ExpectedValue, line.FoundValue, line.LossValue, line.GainValue)
		if err != nil {
			return err
		}
	}
	return nil
}
