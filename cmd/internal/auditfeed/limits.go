package auditfeed

import "time"

const (
	// Clients only send control frames; anything larger is a protocol error.
	maxReadBytes = 4 << 10

	defaultSendQueue = 64
	minSendQueue     = 8

	defaultWriteTimeout      = 5 * time.Second
	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second
	maxPingFailures          = 3
)
