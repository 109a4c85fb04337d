package auditfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"orderdesk/cmd/internal/ids"

	"github.com/coder/websocket"
)

// ServeHTTP upgrades an authenticated staff request to a feed session.
//
// The optional order_id query parameter narrows the feed to one order.
// The feed is server-to-client only; a data frame from the client closes it.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		staffID string
		ok      bool
	)
	if f.identity != nil {
		staffID, ok = f.identity(r)
	}
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if err := f.enforceOrigin(r); err != nil {
		f.log.Info("auditfeed.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		OriginPatterns:     f.originPatterns,
		InsecureSkipVerify: allowsAnyOrigin(f.cfg.AllowedOrigins),
	})
	if err != nil {
		f.log.Error("auditfeed.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != Subprotocol {
		f.log.Info("auditfeed.reject.subprotocol", "got", sp, "want", Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(maxReadBytes)

	now := f.now()
	sessionID, err := ids.NewULID(now)
	if err != nil {
		f.log.Error("auditfeed.session.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id")
		return
	}
	orderID := trimmed(r, "order_id")
	sub := newSubscriber(sessionID, staffID, orderID, f.cfg.SendQueue)

	// CloseRead keeps control frames flowing and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready, err := newEnvelope(TypeReady, ReadyPayload{SessionID: sessionID, OrderID: orderID}, now)
	if err != nil {
		f.log.Error("auditfeed.ready.fail", "session_id", sessionID, "err", err)
		_ = conn.Close(websocket.StatusInternalError, "ready")
		return
	}
	f.admit(sub, ready)
	defer f.leave(sub)

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		f.heartbeat(ctx, conn, sub, cancel)
	}()

	for {
		select {
		case <-ctx.Done():
			<-heartbeatDone
			return
		case <-sub.Done():
			cancel()
			<-heartbeatDone
			_ = conn.Close(websocket.StatusGoingAway, "feed closed")
			return
		case env := <-sub.send:
			if err := writeEnvelope(ctx, conn, env, f.cfg.WriteTimeout); err != nil {
				f.log.Info("auditfeed.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
				cancel()
				<-heartbeatDone
				return
			}
		}
	}
}

func (f *Feed) heartbeat(ctx context.Context, conn *websocket.Conn, sub *subscriber, stop context.CancelFunc) {
	t := time.NewTicker(f.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, f.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				f.log.Info("auditfeed.ping.fail", "session_id", sub.sessionID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					stop()
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
