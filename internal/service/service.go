package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kasirinaja/poscore/internal/cache"
	"kasirinaja/poscore/internal/domain"
	"kasirinaja/poscore/internal/events"
	"kasirinaja/poscore/internal/store"
	"kasirinaja/poscore/internal/xid"
)

const (
	defaultCollaboratorTimeout = 2 * time.Second
	defaultSessionTTL          = 12 * time.Hour
)

type Options struct {
	// AllowNegativeStock lets order confirmation drive stock below zero.
	AllowNegativeStock bool
	// CollaboratorTimeout bounds each stock or loyalty call.
	CollaboratorTimeout time.Duration
	SessionTTL          time.Duration
	Now                 func() time.Time
}

// Service is the transactional core: shifts, orders, payments, inventory
// counts and stock transfers. Every mutating operation runs in exactly one
// unit of work of the underlying store.
type Service struct {
	store     store.Store
	sessions  cache.SessionCache
	publisher events.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	opts      Options
}

func New(st store.Store, sessions cache.SessionCache, publisher events.Publisher, logger *zap.Logger, tracer trace.Tracer, opts Options) *Service {
	if sessions == nil {
		sessions = cache.NoopSessionCache{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = otel.Tracer("kasirinaja/poscore/service")
	}
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = defaultCollaboratorTimeout
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		store:     st,
		sessions:  sessions,
		publisher: publisher,
		logger:    logger.Named("service"),
		tracer:    tracer,
		opts:      opts,
	}
}

// Ping reports whether the backing store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		logs, err = tx.ListAuditLogs(ctx, storeID, limit)
		return err
	})
	return logs, err
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// collaborate bounds a stock or loyalty call. A timeout surfaces as
// context.DeadlineExceeded and aborts the enclosing unit of work.
func (s *Service) collaborate(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CollaboratorTimeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s timed out after %s: %w", what, s.opts.CollaboratorTimeout, context.DeadlineExceeded)
	}
	return err
}

// audit writes the audit row inside the caller's unit of work.
func (s *Service) audit(ctx context.Context, tx store.Tx, actor domain.Actor, storeID string, action string, entityType string, entityID string, detail string) error {
	if storeID == "" {
		storeID = actor.StoreID
	}
	if err := tx.InsertAuditLog(ctx, domain.AuditLog{
		ID:          xid.New("audit"),
		StoreID:     storeID,
		ActorUserID: actor.UserID,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Detail:      detail,
		CreatedAt:   s.now(),
	}); err != nil {
		return fmt.Errorf("write audit log %s: %w", action, err)
	}
	return nil
}

// publish runs after commit. Failures are logged and never undo the commit.
func (s *Service) publish(ctx context.Context, eventType string, actor domain.Actor, storeID string, entityID string, payload any) {
	evt := domain.Event{
		ID:         xid.New("evt"),
		Type:       eventType,
		StoreID:    storeID,
		ActorID:    actor.UserID,
		EntityID:   entityID,
		OccurredAt: s.now(),
		Payload:    payload,
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.opts.CollaboratorTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, evt); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("event_type", eventType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func validateActor(actor domain.Actor) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	if strings.TrimSpace(actor.StoreID) == "" {
		return fmt.Errorf("%w: store id is required", store.ErrValidation)
	}
	return nil
}

func requireID(kind string, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", store.ErrValidation, kind)
	}
	return nil
}
