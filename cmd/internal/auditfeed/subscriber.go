package auditfeed

import "sync"

// subscriber is one connected websocket session.
//
// send is never closed by the feed so concurrent publishers cannot panic;
// done signals the session goroutines to stop.
type subscriber struct {
	sessionID string
	staffID   string
	orderID   string
	send      chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(sessionID, staffID, orderID string, queueSize int) *subscriber {
	if queueSize <= 0 {
		queueSize = defaultSendQueue
	}
	return &subscriber{
		sessionID: sessionID,
		staffID:   staffID,
		orderID:   orderID,
		send:      make(chan Envelope, queueSize),
		done:      make(chan struct{}),
	}
}

func (s *subscriber) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent.
func (s *subscriber) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *subscriber) wants(orderID string) bool {
	return s.orderID == "" || s.orderID == orderID
}
