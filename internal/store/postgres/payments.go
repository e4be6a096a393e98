package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/store"
)

const paymentColumns = `id, order_id, total_amount_due, total_paid_amount, remaining_amount,
	change_amount, is_fully_paid, created_at, updated_at`

func (t *tx) GetPayment(ctx context.Context, id string, forUpdate bool) (*domain.Payment, error) {
	return t.loadPayment(ctx, t.q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1`+lockClause(forUpdate), id))
}

func (t *tx) GetPaymentByOrder(ctx context.Context, orderID string, forUpdate bool) (*domain.Payment, error) {
	return t.loadPayment(ctx, t.q.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1`+lockClause(forUpdate), orderID))
}

func (t *tx) loadPayment(ctx context.Context, row *sql.Row) (*domain.Payment, error) {
	var payment domain.Payment
	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.TotalAmountDue,
		&payment.TotalPaidAmount,
		&payment.RemainingAmount,
		&payment.ChangeAmount,
		&payment.IsFullyPaid,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	payment.UpdatedAt = payment.UpdatedAt.UTC()

	rows, err := t.q.QueryContext(ctx, `
		SELECT id, payment_id, position, kind, amount, created_at,
			card_last4, card_holder, card_expiry, check_number, check_bank,
			loyalty_card_number, loyalty_points, voucher_code
		FROM payment_methods
		WHERE payment_id = $1
		ORDER BY position ASC
	`, payment.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payment.Methods = make([]domain.PaymentMethod, 0, 2)
	for rows.Next() {
		var m domain.PaymentMethod
		var kind string
		var cardLast4, cardHolder, cardExpiry, checkNumber, checkBank, loyaltyCard, voucherCode sql.NullString
		var loyaltyPoints sql.NullInt64
		if err := rows.Scan(
			&m.ID,
			&m.PaymentID,
			&m.Position,
			&kind,
			&m.Amount,
			&m.CreatedAt,
			&cardLast4,
			&cardHolder,
			&cardExpiry,
			&checkNumber,
			&checkBank,
			&loyaltyCard,
			&loyaltyPoints,
			&voucherCode,
		); err != nil {
			return nil, err
		}
		m.Kind = domain.PaymentMethodKind(kind)
		m.CreatedAt = m.CreatedAt.UTC()
		switch m.Kind {
		case domain.MethodCash:
		case domain.MethodCard:
			m.Card = &domain.CardPayment{Last4: cardLast4.String, HolderName: cardHolder.String, Expiry: cardExpiry.String}
		case domain.MethodCheck:
			m.Check = &domain.CheckPayment{Number: checkNumber.String, Bank: checkBank.String}
		case domain.MethodLoyaltyCard:
			m.Loyalty = &domain.LoyaltyPayment{CardNumber: loyaltyCard.String, PointsRedeemed: loyaltyPoints.Int64}
		case domain.MethodVoucher:
			m.Voucher = &domain.VoucherPayment{Code: voucherCode.String}
		default:
			return nil, fmt.Errorf("payment %s: unknown method kind %q", payment.ID, kind)
		}
		payment.Methods = append(payment.Methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (t *tx) InsertPayment(ctx context.Context, payment domain.Payment) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, payment.ID, payment.OrderID, payment.TotalAmountDue, payment.TotalPaidAmount, payment.RemainingAmount,
		payment.ChangeAmount, payment.IsFullyPaid, payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return t.insertPaymentMethods(ctx, payment)
}

func (t *tx) UpdatePayment(ctx context.Context, payment domain.Payment) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE payments
		SET total_amount_due = $2, total_paid_amount = $3, remaining_amount = $4, change_amount = $5,
			is_fully_paid = $6, updated_at = $7
		WHERE id = $1
	`, payment.ID, payment.TotalAmountDue, payment.TotalPaidAmount, payment.RemainingAmount,
		payment.ChangeAmount, payment.IsFullyPaid, payment.UpdatedAt)
	if err != nil {
		return err
	}
	if err := expectAffected(res); err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM payment_methods WHERE payment_id = $1`, payment.ID); err != nil {
		return err
	}
	return t.insertPaymentMethods(ctx, payment)
}

func (t *tx) insertPaymentMethods(ctx context.Context, payment domain.Payment) error {
	for _, m := range payment.Methods {
		var cardLast4, cardHolder, cardExpiry, checkNumber, checkBank, loyaltyCard, voucherCode any
		var loyaltyPoints any
		switch m.Kind {
		case domain.MethodCash:
		case domain.MethodCard:
			if m.Card != nil {
				cardLast4, cardHolder, cardExpiry = m.Card.Last4, m.Card.HolderName, m.Card.Expiry
			}
		case domain.MethodCheck:
			if m.Check != nil {
				checkNumber, checkBank = m.Check.Number, m.Check.Bank
			}
		case domain.MethodLoyaltyCard:
			if m.Loyalty != nil {
				loyaltyCard, loyaltyPoints = m.Loyalty.CardNumber, m.Loyalty.PointsRedeemed
			}
		case domain.MethodVoucher:
			if m.Voucher != nil {
				voucherCode = m.Voucher.Code
			}
		default:
			return fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, m.Kind)
		}
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO payment_methods (
				id, payment_id, position, kind, amount, created_at,
				card_last4, card_holder, card_expiry, check_number, check_bank,
				loyalty_card_number, loyalty_points, voucher_code
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, m.ID, payment.ID, m.Position, string(m.Kind), m.Amount, m.CreatedAt,
			cardLast4, cardHolder, cardExpiry, checkNumber, checkBank, loyaltyCard, loyaltyPoints, voucherCode)
		if err != nil {
			return err
		}
	}
	return nil
}
