package app

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orderdesk/cmd/internal/api"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// WithRequestLogging wraps an http.Handler and logs one line per request.
// Magic-link tokens are masked in the logged path.
// The ResponseWriter must preserve optional interfaces (Hijacker, Flusher, Pusher, ReaderFrom),
// otherwise the audit feed WebSocket upgrade fails.
func WithRequestLogging(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := sanitizeRequestID(r.Header.Get(requestIDHeader))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		lrw := &loggingResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}

		next.ServeHTTP(lrw, r)

		level, result := requestLogMeta(lrw.status)
		log.LogAttrs(r.Context(), level, "http.request",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", api.LogPath(r.URL.Path)),
			slog.Int("status", lrw.status),
			slog.String("status_class", statusClass(lrw.status)),
			slog.String("result", result),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.Int64("bytes", lrw.bytes),
			slog.String("remote", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
		)
	})
}

// WithSecurityHeaders sets response headers every route shares.
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

func requestLogMeta(status int) (slog.Level, string) {
	switch {
	case status >= 500:
		return slog.LevelError, "server_error"
	case status >= 400:
		return slog.LevelWarn, "client_error"
	case status >= 300:
		return slog.LevelInfo, "redirect"
	default:
		return slog.LevelInfo, "success"
	}
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// sanitizeRequestID accepts caller-provided ids only when short and printable.
func sanitizeRequestID(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > 64 {
		return ""
	}
	for _, c := range v {
		if c < 0x21 || c > 0x7e {
			return ""
		}
	}
	return v
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (w *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *loggingResponseWriter) Push(target string, opts *http.PushOptions) error {
	if p, ok := w.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func (w *loggingResponseWriter) ReadFrom(r io.Reader) (int64, error) {
	if rf, ok := w.ResponseWriter.(io.ReaderFrom); ok {
		n, err := rf.ReadFrom(r)
		w.bytes += n
		return n, err
	}
	n, err := io.Copy(w.ResponseWriter, r)
	w.bytes += n
	return n, err
}

func (w *loggingResponseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
