package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/money"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/xid"
)

// Settle records the payment of an order. A DRAFT order is confirmed in the
// same unit of work; a CONFIRMED order is accepted only while unpaid.
func (s *Service) Settle(ctx context.Context, actor domain.Actor, req domain.SettleRequest) (_ domain.Payment, err error) {
	ctx, span := s.startSpan(ctx, "payment.settle",
		attribute.String("order.id", req.OrderID),
		attribute.Int("payment.methods", len(req.Methods)),
	)
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Payment{}, err
	}
	if err := requireID("order", req.OrderID); err != nil {
		return domain.Payment{}, err
	}

	now := s.now()
	paymentID := xid.New("pay")
	methods, err := normalizeMethods(paymentID, req.Methods, now)
	if err != nil {
		return domain.Payment{}, err
	}

	var payment domain.Payment
	var order domain.Order
	confirmed := false
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetOrder(ctx, req.OrderID, true)
		if err != nil {
			return fmt.Errorf("order %s: %w", req.OrderID, err)
		}

		switch current.Status {
		case domain.OrderStatusDraft:
			if err := s.confirmOrder(ctx, tx, actor, current); err != nil {
				return err
			}
			confirmed = true
		case domain.OrderStatusConfirmed:
		default:
			return fmt.Errorf("%w: order %s is %s and cannot be settled", store.ErrInvalidState, current.ID, current.Status)
		}

		if existing, err := tx.GetPaymentByOrder(ctx, current.ID, true); err == nil {
			return fmt.Errorf("%w: order %s already has payment %s", store.ErrConflict, current.ID, existing.ID)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if !money.Equal(req.TotalAmountDue, current.TotalAmount) {
			return fmt.Errorf("%w: amount due %s does not match order total %s", store.ErrValidation,
				money.String(req.TotalAmountDue), money.String(current.TotalAmount))
		}

		if err := s.redeemLoyalty(ctx, tx, current.CustomerID, loyaltyPoints(methods)); err != nil {
			return err
		}

		payment = domain.Payment{
			ID:        paymentID,
			OrderID:   current.ID,
			Methods:   methods,
			CreatedAt: now,
			UpdatedAt: now,
		}
		applyPaymentTotals(&payment, current.TotalAmount)
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		order = *current
		return s.audit(ctx, tx, actor, current.StoreID, "payment_settle", "payment", payment.ID,
			fmt.Sprintf("order=%s,paid=%s,change=%s", current.ID, money.String(payment.TotalPaidAmount), money.String(payment.ChangeAmount)))
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.logger.Info("payment settled",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", payment.OrderID),
		zap.String("total_paid", money.String(payment.TotalPaidAmount)),
		zap.Bool("fully_paid", payment.IsFullyPaid),
	)
	if confirmed {
		s.publish(ctx, domain.EventOrderConfirmed, actor, order.StoreID, order.ID, order)
	}
	s.publish(ctx, domain.EventPaymentSettled, actor, order.StoreID, payment.ID, payment)
	return payment, nil
}

// Amend replaces the methods of an existing payment. Loyalty points of the
// previous methods are credited back before the new ones are redeemed.
func (s *Service) Amend(ctx context.Context, actor domain.Actor, paymentID string, methods []domain.PaymentMethod) (_ domain.Payment, err error) {
	ctx, span := s.startSpan(ctx, "payment.amend",
		attribute.String("payment.id", paymentID),
		attribute.Int("payment.methods", len(methods)),
	)
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Payment{}, err
	}
	if err := requireID("payment", paymentID); err != nil {
		return domain.Payment{}, err
	}

	now := s.now()
	normalized, err := normalizeMethods(paymentID, methods, now)
	if err != nil {
		return domain.Payment{}, err
	}

	var payment domain.Payment
	var storeID string
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		// order before payment, the same lock order Settle uses
		peek, err := tx.GetPayment(ctx, paymentID, false)
		if err != nil {
			return fmt.Errorf("payment %s: %w", paymentID, err)
		}
		order, err := tx.GetOrder(ctx, peek.OrderID, true)
		if err != nil {
			return fmt.Errorf("order %s: %w", peek.OrderID, err)
		}
		current, err := tx.GetPayment(ctx, paymentID, true)
		if err != nil {
			return fmt.Errorf("payment %s: %w", paymentID, err)
		}

		if order.Status == domain.OrderStatusRefunded || order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order %s is %s, its payment can no longer be amended", store.ErrInvalidState, order.ID, order.Status)
		}

		if previous := loyaltyPoints(current.Methods); previous > 0 {
			if err := s.collaborate(ctx, "loyalty credit", func(ctx context.Context) error {
				return tx.CreditPoints(ctx, order.CustomerID, previous)
			}); err != nil {
				return err
			}
		}
		if err := s.redeemLoyalty(ctx, tx, order.CustomerID, loyaltyPoints(normalized)); err != nil {
			return err
		}

		current.Methods = normalized
		current.UpdatedAt = now
		applyPaymentTotals(current, order.TotalAmount)
		if err := tx.UpdatePayment(ctx, *current); err != nil {
			return err
		}

		payment = *current
		storeID = order.StoreID
		return s.audit(ctx, tx, actor, order.StoreID, "payment_amend", "payment", payment.ID,
			fmt.Sprintf("order=%s,paid=%s,methods=%d", order.ID, money.String(payment.TotalPaidAmount), len(payment.Methods)))
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.logger.Info("payment amended",
		zap.String("payment_id", payment.ID),
		zap.String("total_paid", money.String(payment.TotalPaidAmount)),
		zap.Bool("fully_paid", payment.IsFullyPaid),
	)
	s.publish(ctx, domain.EventPaymentAmended, actor, storeID, payment.ID, payment)
	return payment, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID string) (domain.Payment, error) {
	if err := requireID("payment", paymentID); err != nil {
		return domain.Payment{}, err
	}
	var payment *domain.Payment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		payment, err = tx.GetPayment(ctx, paymentID, false)
		return err
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return *payment, nil
}

func (s *Service) GetPaymentByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	if err := requireID("order", orderID); err != nil {
		return domain.Payment{}, err
	}
	var payment *domain.Payment
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		payment, err = tx.GetPaymentByOrder(ctx, orderID, false)
		return err
	})
	if err != nil {
		return domain.Payment{}, err
	}
	return *payment, nil
}

func (s *Service) redeemLoyalty(ctx context.Context, tx store.Tx, customerID string, points int64) error {
	if points == 0 {
		return nil
	}
	if customerID == "" {
		return fmt.Errorf("%w: loyalty payment requires a customer on the order", store.ErrValidation)
	}
	return s.collaborate(ctx, "loyalty redeem", func(ctx context.Context) error {
		balance, err := tx.LoyaltyBalance(ctx, customerID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: customer %s has no loyalty account", store.ErrValidation, customerID)
		}
		if err != nil {
			return err
		}
		if points > balance {
			return fmt.Errorf("%w: customer %s has %d points, %d requested", store.ErrValidation, customerID, balance, points)
		}
		return tx.RedeemPoints(ctx, customerID, points)
	})
}

// applyPaymentTotals derives paid, remaining, change and the fully-paid flag.
func applyPaymentTotals(payment *domain.Payment, due decimal.Decimal) {
	paid := money.Zero
	for _, method := range payment.Methods {
		paid = paid.Add(method.Amount)
	}
	payment.TotalAmountDue = money.Round(due)
	payment.TotalPaidAmount = money.Round(paid)
	payment.RemainingAmount = money.NonNegative(payment.TotalAmountDue.Sub(payment.TotalPaidAmount))
	payment.ChangeAmount = money.NonNegative(payment.TotalPaidAmount.Sub(payment.TotalAmountDue))
	payment.IsFullyPaid = payment.RemainingAmount.IsZero()
}

func loyaltyPoints(methods []domain.PaymentMethod) int64 {
	var points int64
	for _, method := range methods {
		if method.Kind == domain.MethodLoyaltyCard && method.Loyalty != nil {
			points += method.Loyalty.PointsRedeemed
		}
	}
	return points
}

// normalizeMethods validates every method and returns the copies that get
// persisted. Card numbers are reduced to their last four digits.
func normalizeMethods(paymentID string, methods []domain.PaymentMethod, now time.Time) ([]domain.PaymentMethod, error) {
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: at least one payment method is required", store.ErrValidation)
	}

	out := make([]domain.PaymentMethod, 0, len(methods))
	for i, in := range methods {
		amount := money.Round(in.Amount)
		if !amount.IsPositive() {
			return nil, fmt.Errorf("%w: method %d amount must be positive", store.ErrValidation, i+1)
		}
		method := domain.PaymentMethod{
			ID:        xid.New("pm"),
			PaymentID: paymentID,
			Position:  i + 1,
			Kind:      domain.PaymentMethodKind(strings.ToUpper(strings.TrimSpace(string(in.Kind)))),
			Amount:    amount,
			CreatedAt: now,
		}

		switch method.Kind {
		case domain.MethodCash:
		case domain.MethodCard:
			card, err := normalizeCard(in.Card, now)
			if err != nil {
				return nil, fmt.Errorf("method %d: %w", i+1, err)
			}
			method.Card = card
		case domain.MethodCheck:
			if in.Check == nil || strings.TrimSpace(in.Check.Number) == "" || strings.TrimSpace(in.Check.Bank) == "" {
				return nil, fmt.Errorf("%w: method %d check requires number and bank", store.ErrValidation, i+1)
			}
			method.Check = &domain.CheckPayment{
				Number: strings.TrimSpace(in.Check.Number),
				Bank:   strings.TrimSpace(in.Check.Bank),
			}
		case domain.MethodLoyaltyCard:
			if in.Loyalty == nil || strings.TrimSpace(in.Loyalty.CardNumber) == "" {
				return nil, fmt.Errorf("%w: method %d loyalty card number is required", store.ErrValidation, i+1)
			}
			if in.Loyalty.PointsRedeemed <= 0 {
				return nil, fmt.Errorf("%w: method %d loyalty points must be positive", store.ErrValidation, i+1)
			}
			method.Loyalty = &domain.LoyaltyPayment{
				CardNumber:     strings.TrimSpace(in.Loyalty.CardNumber),
				PointsRedeemed: in.Loyalty.PointsRedeemed,
			}
		case domain.MethodVoucher:
			if in.Voucher == nil || strings.TrimSpace(in.Voucher.Code) == "" {
				return nil, fmt.Errorf("%w: method %d voucher code is required", store.ErrValidation, i+1)
			}
			method.Voucher = &domain.VoucherPayment{Code: strings.TrimSpace(in.Voucher.Code)}
		default:
			return nil, fmt.Errorf("%w: method %d has unknown kind %q", store.ErrValidation, i+1, in.Kind)
		}
		out = append(out, method)
	}
	return out, nil
}

// normalizeCard accepts either a full number or an already-masked Last4,
// the latter so stored methods can be resubmitted on amendment.
func normalizeCard(in *domain.CardPayment, now time.Time) (*domain.CardPayment, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: card details are required", store.ErrValidation)
	}

	last4 := strings.TrimSpace(in.Last4)
	if number := digitsOnly(in.Number); number != "" {
		if len(number) < 12 || len(number) > 19 {
			return nil, fmt.Errorf("%w: card number must have 12 to 19 digits", store.ErrValidation)
		}
		last4 = number[len(number)-4:]
	} else if strings.TrimSpace(in.Number) != "" {
		return nil, fmt.Errorf("%w: card number must contain digits", store.ErrValidation)
	}
	if len(last4) != 4 || digitsOnly(last4) != last4 {
		return nil, fmt.Errorf("%w: card number is required", store.ErrValidation)
	}

	holder := strings.TrimSpace(in.HolderName)
	if holder == "" {
		return nil, fmt.Errorf("%w: card holder name is required", store.ErrValidation)
	}

	expiry := strings.TrimSpace(in.Expiry)
	month, err := time.Parse("01/06", expiry)
	if err != nil {
		return nil, fmt.Errorf("%w: card expiry must be MM/YY", store.ErrValidation)
	}
	// valid through the last day of the expiry month
	if !now.Before(month.AddDate(0, 1, 0)) {
		return nil, fmt.Errorf("%w: card expired %s", store.ErrValidation, expiry)
	}

	return &domain.CardPayment{Last4: last4, HolderName: holder, Expiry: expiry}, nil
}

func digitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return ""
		}
	}
	return b.String()
}
