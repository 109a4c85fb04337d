package approval

import (
	"context"
	"time"
)

// Store is the persistence boundary for order approval.
type Store interface {
	GetOrder(ctx context.Context, id string) (Order, error)
	// UpdateOrderApproval moves the order from from to to in one conditional
	// update. Moving to APPROVED also sets approved_at=at and locks the order.
	// When the order is not in from, applied is false and the current order is
	// returned unchanged.
	UpdateOrderApproval(ctx context.Context, id string, from, to Status, at time.Time) (order Order, applied bool, err error)
}
