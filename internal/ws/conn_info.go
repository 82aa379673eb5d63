package ws

import "time"

// ConnInfo identifies one websocket connection for logging, metrics and
// session lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Username    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
