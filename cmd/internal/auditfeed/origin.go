package auditfeed

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

func (f *Feed) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if f.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}
	if len(f.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range f.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return nil
		case origin == a:
			return nil
		case originHost != "" && originHost == originHostOnly(a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

func allowsAnyOrigin(allowed []string) bool {
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return true
		}
	}
	return false
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// originPatterns derives websocket.Accept host patterns from the allowlist so
// both origin checks agree.
func originPatterns(allowed []string) []string {
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
