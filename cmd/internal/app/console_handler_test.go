package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandler_GroupsAndQuoting(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := slog.New(newConsoleHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))
	l.WithGroup("feed").With("session", "01J").Info("feed.joined", "origin", "http://a b", "staff", "", slog.Group("peer", "ip", "10.0.0.1"))
	l.With("before", 1).WithGroup("g").Info("mixed", "after", 2)

	out := buf.String()
	for _, want := range []string{
		"feed.session=01J",
		`feed.origin="http://a b"`,
		`feed.staff=""`,
		"feed.peer.ip=10.0.0.1",
		"before=1",
		"g.after=2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "g.before") {
		t.Fatalf("attrs added before a group must stay unqualified: %q", out)
	}
}

func TestConsoleHandler_RequestLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := slog.New(newConsoleHandler(&buf, nil, false))
	l.Info(httpRequestMsg,
		"request_id", "3f2a9c1e-0000-4000-8000-000000000000",
		"method", "post",
		"path", "/magic/-5fgCD0iA2GAfZ-Bd51fTEWoZD758S82mN-IRZQP6_Q/approve",
		"status", 200,
		"status_class", "2xx",
		"result", "success",
		"duration_ms", 12,
	)

	out := buf.String()
	if !strings.Contains(out, "http.request POST /magic/{token}/approve 200 12ms req=3f2a9c1e result=success") {
		t.Fatalf("unexpected request line: %q", out)
	}
	if strings.Contains(out, "-5fgCD0iA2GAfZ") || strings.Contains(out, "class=") {
		t.Fatalf("request line leaked token or kept class: %q", out)
	}
}

func TestConsoleHandler_WorkflowFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := slog.New(newConsoleHandler(&buf, nil, false))
	l.Info("magiclink.issued",
		"order_id", "42",
		"link_id", "01J9ZQ4T7M3K8V2XW5N6P0R1AB",
		"hash_prefix", "abcd1234",
		"entry_id", int64(7),
		"token", "raw-secret",
		"err", errors.New("db down"),
	)

	out := buf.String()
	for _, want := range []string{
		"order=#42",
		"link=01J9ZQ4T7M3K8V2XW5N6P0R1AB",
		"hash=abcd1234",
		"entry=#7",
		"token=[redacted]",
		`err="db down"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "raw-secret") {
		t.Fatalf("token value leaked: %q", out)
	}
}

func TestConsoleHandler_Colorizes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := slog.New(newConsoleHandler(&buf, nil, true))
	l.Error(httpRequestMsg, "method", "post", "status", 503, "result", "server_error", "link_id", "01J9ZQ4T7M3K8V2XW5N6P0R1AB")

	out := buf.String()
	for _, want := range []string{
		ansiRed + "ERROR" + ansiReset,
		ansiBlue + "POST" + ansiReset,
		ansiRed + "503" + ansiReset,
		ansiRed + "server_error" + ansiReset,
		ansiDim + "01J9ZQ4T7M" + ansiReset + ansiMagenta + "3K8V2XW5N6P0R1AB" + ansiReset,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestConsoleHandler_Enabled(t *testing.T) {
	t.Parallel()

	h := newConsoleHandler(&bytes.Buffer{}, nil, false)
	if h.Enabled(t.Context(), slog.LevelDebug) {
		t.Fatalf("debug should be disabled by default")
	}
	if !h.Enabled(t.Context(), slog.LevelInfo) {
		t.Fatalf("info should be enabled by default")
	}
}
