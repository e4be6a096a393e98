package cache

import (
	"context"
	"time"
)

// Session is the active-store pointer of a user with an open shift.
type Session struct {
	UserID   string    `json:"user_id"`
	ShiftID  string    `json:"shift_id"`
	StoreID  string    `json:"store_id"`
	OpenedAt time.Time `json:"opened_at"`
}

type SessionCache interface {
	Get(ctx context.Context, userID string) (*Session, bool, error)
	Set(ctx context.Context, session Session, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

type NoopSessionCache struct{}

func (NoopSessionCache) Get(_ context.Context, _ string) (*Session, bool, error) {
	return nil, false, nil
}

func (NoopSessionCache) Set(_ context.Context, _ Session, _ time.Duration) error {
	return nil
}

func (NoopSessionCache) Delete(_ context.Context, _ string) error {
	return nil
}
