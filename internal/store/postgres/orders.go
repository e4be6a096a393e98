package postgres

import (
	"context"
	"database/sql"
	"errors"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
)

func (t *tx) GetOrder(ctx context.Context, id string, forUpdate bool) (*domain.Order, error) {
	var order domain.Order
	var customerID sql.NullString
	err := t.q.QueryRowContext(ctx, `
		SELECT id, number, store_id, customer_id, shift_id, created_by, status, ordered_at,
			total_amount, total_discount, total_refund, total_items, total_cost, total_profit, updated_at
		FROM orders
		WHERE id = $1`+lockClause(forUpdate), id).Scan(
		&order.ID,
		&order.Number,
		&order.StoreID,
		&customerID,
		&order.ShiftID,
		&order.CreatedBy,
		&order.Status,
		&order.OrderedAt,
		&order.TotalAmount,
		&order.TotalDiscount,
		&order.TotalRefund,
		&order.TotalItems,
		&order.TotalCost,
		&order.TotalProfit,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.CustomerID = customerID.String
	order.OrderedAt = order.OrderedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	rows, err := t.q.QueryContext(ctx, `
		SELECT id, order_id, position, product_id, product_name, quantity, unit_price, discount, total,
			unit_cost, cost, profit, refunded_qty, refunded_amount, status
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	order.Items = make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.Position,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.Discount,
			&item.Total,
			&item.UnitCost,
			&item.Cost,
			&item.Profit,
			&item.RefundedQty,
			&item.RefundedAmount,
			&item.Status,
		); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *tx) InsertOrder(ctx context.Context, order domain.Order) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO orders (
			id, number, store_id, customer_id, shift_id, created_by, status, ordered_at,
			total_amount, total_discount, total_refund, total_items, total_cost, total_profit, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, order.ID, order.Number, order.StoreID, nullIfEmpty(order.CustomerID), order.ShiftID, order.CreatedBy,
		order.Status, order.OrderedAt, order.TotalAmount, order.TotalDiscount, order.TotalRefund,
		order.TotalItems, order.TotalCost, order.TotalProfit, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return t.insertOrderItems(ctx, order)
}

func (t *tx) UpdateOrder(ctx context.Context, order domain.Order) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE orders
		SET customer_id = $2, status = $3, total_amount = $4, total_discount = $5, total_refund = $6,
			total_items = $7, total_cost = $8, total_profit = $9, updated_at = $10
		WHERE id = $1
	`, order.ID, nullIfEmpty(order.CustomerID), order.Status, order.TotalAmount, order.TotalDiscount,
		order.TotalRefund, order.TotalItems, order.TotalCost, order.TotalProfit, order.UpdatedAt)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return err
	}
	return t.insertOrderItems(ctx, order)
}

func (t *tx) DeleteOrder(ctx context.Context, id string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, id); err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *tx) insertOrderItems(ctx context.Context, order domain.Order) error {
	for _, item := range order.Items {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, product_name, quantity, unit_price, discount, total,
				unit_cost, cost, profit, refunded_qty, refunded_amount, status
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, item.ID, order.ID, item.Position, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice,
			item.Discount, item.Total, item.UnitCost, item.Cost, item.Profit, item.RefundedQty,
			item.RefundedAmount, item.Status)
		if err != nil {
			return err
		}
	}
	return nil
}
