// Command feedsmoke is a CI-friendly smoke test for the staff audit live feed.
//
// It validates:
//   - handshake with bearer auth and subprotocol selection
//   - feed.ready session establishment
//   - a regenerated link for -order arrives as audit.entry frames
//   - a subscriber filtered to another order receives nothing
//
// Regeneration revokes the live link of -order, so point it at a test order.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"orderdesk/cmd/internal/auditfeed"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan auditfeed.Envelope
	errCh chan error
}

type entry struct {
	ID      int64  `json:"id"`
	OrderID string `json:"order_id"`
	Action  string `json:"action"`
}

func main() {
	var (
		baseURL    = flag.String("base", "http://127.0.0.1:8080", "server base URL")
		origin     = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		orderID    = flag.String("order", "", "order whose link is regenerated")
		otherOrder = flag.String("other-order", "feedsmoke-unrelated", "order filter that must stay silent")
		bearer     = flag.String("token", os.Getenv("ORDERDESK_STAFF_TOKEN"), "staff bearer token (default $ORDERDESK_STAFF_TOKEN)")
		timeout    = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose    = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	if strings.TrimSpace(*orderID) == "" {
		fatalf("-order is required")
	}
	if strings.TrimSpace(*bearer) == "" {
		fatalf("-token or ORDERDESK_STAFF_TOKEN is required")
	}

	root := context.Background()

	a := mustConnect(root, "A", feedURL(base, *orderID), *origin, *bearer, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", feedURL(base, *otherOrder), *origin, *bearer, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	mustRegenerate(root, base, *orderID, *bearer, *timeout)

	seen := map[string]int64{}
	for len(seen) < 2 {
		env := a.mustReadUntilType(root, auditfeed.TypeEntry, *timeout)
		var e entry
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			fatalf("unmarshal audit.entry: %v", err)
		}
		if e.OrderID != *orderID {
			fatalf("filter leak: A got order_id=%q want %q", e.OrderID, *orderID)
		}
		if *verbose {
			fmt.Printf("A: entry id=%d action=%s\n", e.ID, e.Action)
		}
		seen[e.Action] = e.ID
	}
	for _, want := range []string{"LINK_REGENERATED", "LINK_CREATED"} {
		if _, ok := seen[want]; !ok {
			fatalf("missing %s entry, got %v", want, seen)
		}
	}

	b.mustAssertNoType(root, auditfeed.TypeEntry, 1200*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s order_id=%s regenerated_entry=%d\n", a.sessionID, b.sessionID, *orderID, seen["LINK_REGENERATED"])
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func feedURL(base *url.URL, orderID string) string {
	u := *base
	u.Scheme = "ws"
	if base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/staff/audit/feed"
	u.RawQuery = url.Values{"order_id": {orderID}}.Encode()
	return u.String()
}

func mustConnect(parent context.Context, name, wsURL, origin, bearer string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer "+bearer)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{auditfeed.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fatalf("connect %s: status=%d: %v", name, status, err)
	}
	if got := conn.Subprotocol(); got != auditfeed.Subprotocol {
		fatalf("connect %s: subprotocol=%q want %q", name, got, auditfeed.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan auditfeed.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ready := c.mustReadUntilType(parent, auditfeed.TypeReady, stepTimeout)
	var p auditfeed.ReadyPayload
	if err := json.Unmarshal(ready.Payload, &p); err != nil {
		fatalf("unmarshal feed.ready payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("feed.ready missing session_id (%s)", name)
	}
	c.sessionID = p.SessionID
	return c
}

func mustRegenerate(parent context.Context, base *url.URL, orderID, bearer string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	target := base.String() + "/staff/orders/" + url.PathEscape(orderID) + "/links/regenerate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		fatalf("build regenerate request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("regenerate: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusCreated {
		fatalf("regenerate: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			var env auditfeed.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("decode frame: %w", err):
				default:
				}
				return
			}
			c.inbox <- env
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, typ string, stepTimeout time.Duration) auditfeed.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("%s: timed out waiting for %s", c.name, typ)
		case err := <-c.errCh:
			fatalf("%s: read: %v", c.name, err)
		case env := <-c.inbox:
			if env.Type == auditfeed.TypeError {
				fatalf("%s: server error frame: %s", c.name, string(env.Payload))
			}
			if env.Type == typ {
				return env
			}
		}
	}
}

func (c *smokeClient) mustAssertNoType(parent context.Context, typ string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("%s: read: %v", c.name, err)
		case env := <-c.inbox:
			if env.Type == typ {
				fatalf("%s: unexpected %s frame: %s", c.name, typ, string(env.Payload))
			}
		}
	}
}

func closeWS(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
