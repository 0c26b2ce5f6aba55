package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the campaign core. Callers wrap these with
// fmt.Errorf("%w: ...") and handlers translate them to HTTP statuses.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// Named rejections carrying the reason codes exposed at the API boundary.
var (
	ErrAlreadySent  = fmt.Errorf("%w: campaign already sent", ErrConflict)
	ErrNotReady     = fmt.Errorf("%w: campaign content not set", ErrValidation)
	ErrNoRecipients = fmt.Errorf("%w: campaign has no recipients", ErrValidation)
)

// ErrTokenSpaceExhausted is the terminal error for the token insert-retry
// loop. Hitting it means broken entropy or a misconfigured uniqueness
// constraint, not a normal collision.
var ErrTokenSpaceExhausted = errors.New("token space exhausted")
