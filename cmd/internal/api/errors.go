package api

import (
	"context"
	"errors"
	"net/http"

	"orderdesk/cmd/internal/apperr"
	"orderdesk/cmd/internal/magiclink"
)

// linkErrorCode maps a link status to its public error code.
func linkErrorCode(s magiclink.Status) string {
	switch s {
	case magiclink.StatusExpired:
		return "link_expired"
	case magiclink.StatusRevoked:
		return "link_revoked"
	default:
		return "link_invalid"
	}
}

// publicMessage returns the caller-safe part of an error.
func publicMessage(err error, fallback string) string {
	var oe *apperr.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return fallback
}

// writeAppError renders err by kind. Internal causes are logged, never returned.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, event string, err error) {
	if status, ok := magiclink.StatusOf(err); ok {
		var msg string
		switch status {
		case magiclink.StatusExpired:
			msg = "link expired"
		case magiclink.StatusRevoked:
			msg = "link revoked"
		default:
			msg = "link invalid"
		}
		writeError(w, http.StatusForbidden, linkErrorCode(status), msg)
		return
	}

	switch apperr.KindOf(err) {
	case apperr.ErrNotFound:
		writeError(w, http.StatusNotFound, "not_found", publicMessage(err, "not found"))
	case apperr.ErrForbidden:
		writeError(w, http.StatusForbidden, "forbidden", publicMessage(err, "forbidden"))
	case apperr.ErrBadRequest:
		writeError(w, http.StatusBadRequest, "invalid_request", publicMessage(err, "invalid request"))
	default:
		if errors.Is(err, context.Canceled) {
			h.log.Info(event+".canceled", "path", LogPath(r.URL.Path))
			return
		}
		h.log.Error(event+".fail", "err", err, "path", LogPath(r.URL.Path))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}
