package sink

import "errors"

var (
	// ErrNoStore is returned by New when no connection descriptor is configured.
	ErrNoStore = errors.New("sink: a store connection descriptor is required")

	// ErrClosed is returned by operations issued after Close.
	ErrClosed = errors.New("sink: closed")

	errPendingClosed = errors.New("pending store resolution closed without a result")
	errStreamStopped = errors.New("stream stopped")
)
