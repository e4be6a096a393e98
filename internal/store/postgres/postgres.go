package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
)

type Store struct {
	db         *sql.DB
	maxRetries int
}

func New(ctx context.Context, databaseURL string, maxRetries int) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Store{db: db, maxRetries: maxRetries}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a SERIALIZABLE transaction. Serialization failures and
// deadlocks are retried up to maxRetries times with a short backoff.
func (s *Store) WithinTx(ctx context.Context, fn store.TxFunc) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 15 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("%w: transaction retries exhausted: %v", store.ErrConflict, err)
}

func (s *Store) runTx(ctx context.Context, fn store.TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type tx struct {
	q *sql.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

const shiftColumns = `id, user_id, store_id, status, opening_cash, closing_cash, expected_cash,
	cash_difference, total_sales, total_discount, total_refund, total_profit, total_cost,
	total_items, total_transactions, opened_at, closed_at`

func scanShift(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	err := row.Scan(
		&shift.ID,
		&shift.UserID,
		&shift.StoreID,
		&shift.Status,
		&shift.OpeningCash,
		&shift.ClosingCash,
		&shift.ExpectedCash,
		&shift.CashDifference,
		&shift.TotalSales,
		&shift.TotalDiscount,
		&shift.TotalRefund,
		&shift.TotalProfit,
		&shift.TotalCost,
		&shift.TotalItems,
		&shift.TotalTransactions,
		&shift.OpenedAt,
		&closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		shift.ClosedAt = &at
	}
	return &shift, nil
}

func (t *tx) GetShift(ctx context.Context, id string, forUpdate bool) (*domain.Shift, error) {
	return scanShift(t.q.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE id = $1`+lockClause(forUpdate), id))
}

func (t *tx) FindOpenShiftByUser(ctx context.Context, userID string, forUpdate bool) (*domain.Shift, error) {
	return scanShift(t.q.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE user_id = $1 AND status = 'OPEN'
		ORDER BY opened_at DESC
		LIMIT 1`+lockClause(forUpdate), userID))
}

func (t *tx) ListOpenShiftsByStore(ctx context.Context, storeID string) ([]domain.Shift, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE store_id = $1 AND status = 'OPEN'
		ORDER BY opened_at ASC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shifts := make([]domain.Shift, 0, 4)
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		shifts = append(shifts, *shift)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shifts, nil
}

func (t *tx) InsertShift(ctx context.Context, shift domain.Shift) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, shift.ID, shift.UserID, shift.StoreID, shift.Status, shift.OpeningCash, shift.ClosingCash,
		shift.ExpectedCash, shift.CashDifference, shift.TotalSales, shift.TotalDiscount, shift.TotalRefund,
		shift.TotalProfit, shift.TotalCost, shift.TotalItems, shift.TotalTransactions, shift.OpenedAt,
		nullTime(shift.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (t *tx) ApplyShiftDelta(ctx context.Context, shiftID string, delta domain.ShiftDelta) (*domain.Shift, error) {
	shift, err := scanShift(t.q.QueryRowContext(ctx, `
		UPDATE shifts
		SET total_sales = total_sales + $2,
			total_discount = total_discount + $3,
			total_refund = total_refund + $4,
			total_profit = total_profit + $5,
			total_cost = total_cost + $6,
			total_items = total_items + $7,
			total_transactions = total_transactions + $8
		WHERE id = $1 AND status = 'OPEN'
		RETURNING `+shiftColumns,
		shiftID, delta.Sales, delta.Discount, delta.Refund, delta.Profit, delta.Cost, delta.Items, delta.Transactions))
	if errors.Is(err, store.ErrNotFound) {
		if _, lookupErr := t.GetShift(ctx, shiftID, false); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, store.ErrInvalidState
	}
	return shift, err
}

func (t *tx) UpdateShift(ctx context.Context, shift domain.Shift) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE shifts
		SET status = $2, closing_cash = $3, expected_cash = $4, cash_difference = $5, closed_at = $6
		WHERE id = $1
	`, shift.ID, shift.Status, shift.ClosingCash, shift.ExpectedCash, shift.CashDifference, nullTime(shift.ClosedAt))
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (t *tx) InsertAuditLog(ctx context.Context, entry domain.AuditLog) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_user_id, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.StoreID, entry.ActorUserID, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (t *tx) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, store_id, actor_user_id, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUserID, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return "\n\t\tFOR UPDATE"
	}
	return ""
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isRetryable reports serialization failures and deadlocks.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
