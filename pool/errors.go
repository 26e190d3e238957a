package pool

import "github.com/pkg/errors"

var (
	// ErrPoolClosed is reported to every submission still queued when the
	// pool shuts down.
	ErrPoolClosed = errors.New("connection pool is closed")

	// errExhausted marks a resource that reached its message budget. It is
	// internal: the send that crossed the budget still reports success.
	errExhausted = errors.New("resource exhausted, max messages reached")
)
