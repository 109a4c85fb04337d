package api

import "strings"

const (
	magicPrefix      = "/magic/"
	tokenPlaceholder = "{token}"
)

// LogPath returns p safe to log: the bearer segment of a /magic/ path is
// replaced with a placeholder. A magic-link token in a log is a working
// credential for its order.
func LogPath(p string) string {
	rest, ok := strings.CutPrefix(p, magicPrefix)
	if !ok || rest == "" {
		return p
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return magicPrefix + tokenPlaceholder + rest[i:]
	}
	return magicPrefix + tokenPlaceholder
}
