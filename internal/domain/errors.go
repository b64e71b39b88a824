package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrTransport        = errors.New("transport failure")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrEmptyFallback    = errors.New("local fallback is empty")
	ErrInvalidReview    = errors.New("invalid review")
	ErrStoreUnavailable = errors.New("local store unavailable")
)

// EmptyFallbackError is returned when the network read failed and the
// local store had nothing matching either.
type EmptyFallbackError struct {
	Resource string
	Network  error
}

func (e *EmptyFallbackError) Error() string {
	return fmt.Sprintf("%s: network failed (%v) and local store has no matching records", e.Resource, e.Network)
}

func (e *EmptyFallbackError) Unwrap() []error { return []error{ErrEmptyFallback, e.Network} }
