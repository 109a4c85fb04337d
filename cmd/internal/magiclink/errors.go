package magiclink

import "errors"

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("magic link not found")
	ErrOrderNotFound = errors.New("order not found")
	ErrNotActive     = errors.New("magic link not active")
	ErrHashConflict  = errors.New("token hash conflict")
)
