package events

import (
	"context"

	"kasirinaja/poscore/internal/domain"
)

// Publisher delivers committed domain events. Delivery is best effort: the
// caller logs failures and moves on.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ domain.Event) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}
