package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// OrderNumber builds a human-readable order number: STORE-YYYYMMDD-XXXXXXXX.
func OrderNumber(storeID string, at time.Time) string {
	id := uuid.New()
	short := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	store := strings.ToUpper(strings.TrimSpace(storeID))
	if store == "" {
		store = "POS"
	}
	return fmt.Sprintf("%s-%s-%s", store, at.UTC().Format("20060102"), short)
}
