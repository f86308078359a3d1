package natsbus

import "errors"

// Domain-specific errors for NATS operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when publishing on a closed or disconnected bus.
	ErrNotConnected = errors.New("natsbus: not connected")

	// ErrConnectionFailed is returned when the connection cannot be created.
	ErrConnectionFailed = errors.New("natsbus: connection failed")

	// ErrPublishFailed is returned when an event cannot be encoded or sent.
	ErrPublishFailed = errors.New("natsbus: publish failed")

	// ErrInvalidSubject is returned for empty subjects or tokens containing
	// whitespace or the '.', '*' and '>' separators.
	ErrInvalidSubject = errors.New("natsbus: invalid subject")
)
