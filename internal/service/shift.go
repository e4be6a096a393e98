package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"kasirinaja/poscore/internal/cache"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/money"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, actor domain.Actor, req domain.ShiftOpenRequest) (_ domain.Shift, err error) {
	ctx, span := s.startSpan(ctx, "shift.open",
		attribute.String("user.id", actor.UserID),
		attribute.String("store.id", actor.StoreID),
	)
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Shift{}, err
	}
	if req.OpeningCash.IsNegative() {
		return domain.Shift{}, fmt.Errorf("%w: opening cash must not be negative", store.ErrValidation)
	}

	shift := domain.Shift{
		ID:          xid.New("shift"),
		UserID:      actor.UserID,
		StoreID:     actor.StoreID,
		Status:      domain.ShiftStatusOpen,
		OpeningCash: money.Round(req.OpeningCash),
		OpenedAt:    s.now(),
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.FindOpenShiftByUser(ctx, actor.UserID, true)
		if err == nil {
			return fmt.Errorf("%w: user %s already has open shift %s", store.ErrConflict, actor.UserID, existing.ID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := tx.InsertShift(ctx, shift); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, shift.StoreID, "shift_open", "shift", shift.ID,
			fmt.Sprintf("opening_cash=%s", money.String(shift.OpeningCash)))
	})
	if err != nil {
		return domain.Shift{}, err
	}

	if cacheErr := s.sessions.Set(ctx, cache.Session{
		UserID:   shift.UserID,
		ShiftID:  shift.ID,
		StoreID:  shift.StoreID,
		OpenedAt: shift.OpenedAt,
	}, s.opts.SessionTTL); cacheErr != nil {
		s.logger.Warn("session cache update failed", zap.String("shift_id", shift.ID), zap.Error(cacheErr))
	}
	s.logger.Info("shift opened", zap.String("shift_id", shift.ID), zap.String("user_id", shift.UserID), zap.String("store_id", shift.StoreID))
	s.publish(ctx, domain.EventShiftOpened, actor, shift.StoreID, shift.ID, shift)

	return shift, nil
}

// RecordOrder adds order totals onto an OPEN shift in its own unit of work.
func (s *Service) RecordOrder(ctx context.Context, actor domain.Actor, shiftID string, delta domain.ShiftDelta) (_ domain.Shift, err error) {
	ctx, span := s.startSpan(ctx, "shift.record_order", attribute.String("shift.id", shiftID))
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.Shift{}, err
	}
	if err := requireID("shift", shiftID); err != nil {
		return domain.Shift{}, err
	}

	var updated *domain.Shift
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		updated, err = s.recordOrder(ctx, tx, shiftID, delta)
		if err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, updated.StoreID, "shift_record_order", "shift", shiftID,
			fmt.Sprintf("sales=%s,refund=%s,transactions=%d", money.String(delta.Sales), money.String(delta.Refund), delta.Transactions))
	})
	if err != nil {
		return domain.Shift{}, err
	}
	return *updated, nil
}

// recordOrder applies the delta as an atomic increment on the shift row.
func (s *Service) recordOrder(ctx context.Context, tx store.Tx, shiftID string, delta domain.ShiftDelta) (*domain.Shift, error) {
	updated, err := tx.ApplyShiftDelta(ctx, shiftID, roundDelta(delta))
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return nil, fmt.Errorf("%w: shift %s is not open", store.ErrInvalidState, shiftID)
		}
		return nil, fmt.Errorf("shift %s: %w", shiftID, err)
	}
	return updated, nil
}

func (s *Service) CloseShift(ctx context.Context, actor domain.Actor, req domain.ShiftCloseRequest) (_ domain.ShiftCloseResult, err error) {
	ctx, span := s.startSpan(ctx, "shift.close",
		attribute.String("user.id", actor.UserID),
		attribute.String("shift.id", req.ShiftID),
	)
	defer func() { finishSpan(span, err) }()

	if err := validateActor(actor); err != nil {
		return domain.ShiftCloseResult{}, err
	}
	if req.ClosingCash.IsNegative() {
		return domain.ShiftCloseResult{}, fmt.Errorf("%w: closing cash must not be negative", store.ErrValidation)
	}

	var closed domain.Shift
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var shift *domain.Shift
		var err error
		// row lock: same serialization point as the rollup increments
		if req.ShiftID == "" {
			shift, err = tx.FindOpenShiftByUser(ctx, actor.UserID, true)
		} else {
			shift, err = tx.GetShift(ctx, req.ShiftID, true)
		}
		if err != nil {
			return fmt.Errorf("shift: %w", err)
		}
		if shift.Status != domain.ShiftStatusOpen {
			return fmt.Errorf("%w: shift %s is already closed", store.ErrInvalidState, shift.ID)
		}

		closedAt := s.now()
		shift.Status = domain.ShiftStatusClosed
		shift.ClosedAt = &closedAt
		shift.ClosingCash = money.Round(req.ClosingCash)
		shift.ExpectedCash = money.Round(shift.OpeningCash.Add(shift.TotalSales).Sub(shift.TotalRefund))
		shift.CashDifference = shift.ClosingCash.Sub(shift.ExpectedCash)
		if err := tx.UpdateShift(ctx, *shift); err != nil {
			return err
		}
		closed = *shift
		return s.audit(ctx, tx, actor, shift.StoreID, "shift_close", "shift", shift.ID,
			fmt.Sprintf("closing_cash=%s,expected_cash=%s,notes=%s",
				money.String(shift.ClosingCash), money.String(shift.ExpectedCash), req.Notes))
	})
	if err != nil {
		return domain.ShiftCloseResult{}, err
	}

	if cacheErr := s.sessions.Delete(ctx, closed.UserID); cacheErr != nil {
		s.logger.Warn("session cache clear failed", zap.String("shift_id", closed.ID), zap.Error(cacheErr))
	}
	s.logger.Info("shift closed",
		zap.String("shift_id", closed.ID),
		zap.String("total_sales", money.String(closed.TotalSales)),
		zap.Int64("total_transactions", closed.TotalTransactions),
		zap.String("cash_difference", money.String(closed.CashDifference)),
	)
	s.publish(ctx, domain.EventShiftClosed, actor, closed.StoreID, closed.ID, closed)

	return domain.ShiftCloseResult{Shift: closed, ClearActiveStore: true}, nil
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	if err := requireID("shift", shiftID); err != nil {
		return domain.Shift{}, err
	}
	var shift *domain.Shift
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		shift, err = tx.GetShift(ctx, shiftID, false)
		return err
	})
	if err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}

// GetOpenShift returns the user's OPEN shift. The session cache is consulted
// first and the store stays authoritative.
func (s *Service) GetOpenShift(ctx context.Context, userID string) (domain.Shift, error) {
	if err := requireID("user", userID); err != nil {
		return domain.Shift{}, err
	}

	if session, ok, cacheErr := s.sessions.Get(ctx, userID); cacheErr != nil {
		s.logger.Warn("session cache read failed", zap.String("user_id", userID), zap.Error(cacheErr))
	} else if ok {
		shift, err := s.GetShift(ctx, session.ShiftID)
		if err == nil && shift.Status == domain.ShiftStatusOpen {
			return shift, nil
		}
	}

	var shift *domain.Shift
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		shift, err = tx.FindOpenShiftByUser(ctx, userID, false)
		return err
	})
	if err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}

func (s *Service) ListOpenShifts(ctx context.Context, storeID string) ([]domain.Shift, error) {
	if err := requireID("store", storeID); err != nil {
		return nil, err
	}
	var shifts []domain.Shift
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		shifts, err = tx.ListOpenShiftsByStore(ctx, storeID)
		return err
	})
	return shifts, err
}

func roundDelta(d domain.ShiftDelta) domain.ShiftDelta {
	return domain.ShiftDelta{
		Sales:        money.Round(d.Sales),
		Discount:     money.Round(d.Discount),
		Refund:       money.Round(d.Refund),
		Profit:       money.Round(d.Profit),
		Cost:         money.Round(d.Cost),
		Items:        money.Round(d.Items),
		Transactions: d.Transactions,
	}
}
