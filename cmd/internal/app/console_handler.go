package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"orderdesk/cmd/internal/api"
	"orderdesk/cmd/internal/ids"

	"github.com/google/uuid"
)

const httpRequestMsg = "http.request"

// consoleHandler writes one readable line per record for local runs.
//
// http.request records lead with "METHOD path status duration". Workflow
// identifiers get short labels (order=#42, link=, hash=), and magic-link
// tokens are masked in paths and dropped from token-like keys.
type consoleHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []field
	prefix string
	color  bool
	mu     *sync.Mutex
}

// field is a flattened attribute; key carries its group prefix.
type field struct {
	key string
	val slog.Value
}

var shortLabels = map[string]string{
	"order_id":     "order",
	"link_id":      "link",
	"entry_id":     "entry",
	"session_id":   "session",
	"hash_prefix":  "hash",
	"request_id":   "req",
	"staff_id":     "staff",
	"actor_id":     "actor",
	"duration_ms":  "duration",
	"status_class": "class",
}

var secretKeys = map[string]bool{
	"token":         true,
	"raw_token":     true,
	"authorization": true,
	"secret":        true,
	"pepper":        true,
}

func newConsoleHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *consoleHandler {
	h := &consoleHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]field, 0, len(h.attrs)+r.NumAttrs())
	fields = append(fields, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		fields = flatten(fields, h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteByte(' ')
	b.WriteString(h.levelTag(r.Level))
	b.WriteByte(' ')
	b.WriteString(paint(r.Message, ansiBright, h.color))

	if r.Message == httpRequestMsg {
		fields = h.writeRequestSummary(&b, fields)
	}
	for _, f := range fields {
		b.WriteByte(' ')
		h.writeField(&b, f)
	}
	if h.opts.AddSource {
		if src := source(r.PC); src != "" {
			b.WriteByte(' ')
			b.WriteString(paint("@"+src, ansiDim, h.color))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append([]field(nil), h.attrs...)
	for _, a := range attrs {
		cp.attrs = flatten(cp.attrs, h.prefix, a)
	}
	return &cp
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

func flatten(dst []field, prefix string, a slog.Attr) []field {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return dst
	}
	key := strings.TrimSpace(a.Key)
	if a.Value.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = flatten(dst, prefix, ga)
		}
		return dst
	}
	if key == "" {
		return dst
	}
	return append(dst, field{key: prefix + key, val: a.Value})
}

// writeRequestSummary moves the request line attrs into the header and
// returns the remaining fields.
func (h *consoleHandler) writeRequestSummary(b *strings.Builder, fields []field) []field {
	var (
		method, path string
		status, ms   int64 = -1, -1
	)
	rest := fields[:0]
	for _, f := range fields {
		switch f.key {
		case "method":
			method = strings.ToUpper(strings.TrimSpace(f.val.String()))
			continue
		case "path":
			path = api.LogPath(strings.TrimSpace(f.val.String()))
			continue
		case "status_class":
			continue
		case "status":
			if n, ok := valueToInt64(f.val); ok {
				status = n
				continue
			}
		case "duration_ms":
			if n, ok := valueToInt64(f.val); ok {
				ms = n
				continue
			}
		}
		rest = append(rest, f)
	}

	if method != "" {
		b.WriteByte(' ')
		b.WriteString(colorizeHTTPMethod(method, h.color))
	}
	if path != "" {
		b.WriteByte(' ')
		b.WriteString(paint(path, ansiCyan, h.color))
	}
	if status >= 0 {
		b.WriteByte(' ')
		b.WriteString(colorizeStatusCode(int(status), h.color))
	}
	if ms >= 0 {
		b.WriteByte(' ')
		b.WriteString(colorizeDurationMS(ms, h.color))
	}
	return rest
}

func (h *consoleHandler) writeField(b *strings.Builder, f field) {
	base := f.key[strings.LastIndexByte(f.key, '.')+1:]
	label := f.key
	if short, ok := shortLabels[base]; ok {
		label = f.key[:len(f.key)-len(base)] + short
	}
	b.WriteString(paint(label, ansiDim, h.color))
	b.WriteByte('=')
	b.WriteString(h.renderValue(base, f.val))
}

func (h *consoleHandler) renderValue(base string, v slog.Value) string {
	if secretKeys[base] {
		return paint("[redacted]", ansiYellow, h.color)
	}
	s := strings.TrimSpace(valueToString(v))

	switch base {
	case "path":
		return paint(api.LogPath(s), ansiCyan, h.color)
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(s), h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return colorizeStatusClass(s, h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result":
		return colorizeResult(strings.ToLower(s), h.color)
	case "order_id", "entry_id":
		return paint("#"+s, ansiCyan, h.color)
	case "link_id", "session_id":
		return h.ulid(s)
	case "hash_prefix":
		return paint(s, ansiYellow, h.color)
	case "request_id":
		if len(s) == 36 && uuid.Validate(s) == nil {
			return s[:8]
		}
	case "err":
		return paint(quoteIfNeeded(s), ansiRed, h.color)
	}
	return quoteIfNeeded(s)
}

// ulid dims the timestamp half so the random half stands out.
func (h *consoleHandler) ulid(s string) string {
	if !h.color || !ids.Valid(s) {
		return quoteIfNeeded(s)
	}
	return ansiDim + s[:10] + ansiReset + ansiMagenta + s[10:] + ansiReset
}

func (h *consoleHandler) levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return paint("ERROR", ansiRed, h.color)
	case level >= slog.LevelWarn:
		return paint("WARN ", ansiYellow, h.color)
	case level < slog.LevelInfo:
		return paint("DEBUG", ansiMagenta, h.color)
	default:
		return paint("INFO ", ansiBlue, h.color)
	}
}

func source(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	if frame.File == "" {
		return ""
	}
	return filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	default:
		return 0, false
	}
}
