// Package apperr defines the closed set of error kinds the order workflow
// surfaces to its callers.
package apperr

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to transport status codes).
var (
	ErrNotFound   = errors.New("not_found")
	ErrForbidden  = errors.New("forbidden")
	ErrBadRequest = errors.New("bad_request")
	ErrInternal   = errors.New("internal")
)
