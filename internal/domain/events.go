package domain

import "time"

const (
	EventShiftOpened      = "shift.opened"
	EventShiftClosed      = "shift.closed"
	EventOrderConfirmed   = "order.confirmed"
	EventOrderRefunded    = "order.refunded"
	EventOrderCancelled   = "order.cancelled"
	EventPaymentSettled   = "payment.settled"
	EventPaymentAmended   = "payment.amended"
	EventInventoryClosed  = "inventory.closed"
	EventStockTransferred = "stock.transferred"
)

// Event is published after a unit of work commits.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	StoreID    string    `json:"store_id"`
	ActorID    string    `json:"actor_id"`
	EntityID   string    `json:"entity_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}
