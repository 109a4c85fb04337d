// Package approval applies client approve and reject transitions to orders.
//
// Holding a VALID magic link for an order is the only authorization. Every
// transition is a single conditional update from PENDING, so concurrent
// submissions cannot both apply.
package approval

import (
	"errors"
	"time"
)

// Status is the approval state of an order.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// Order is the approval-relevant view of an order.
type Order struct {
	ID             string
	CustomerName   string
	EventDate      *time.Time
	ApprovalStatus Status
	IsLocked       bool
	ApprovedAt     *time.Time
}

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("order not found")
)
