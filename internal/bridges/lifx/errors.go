package lifx

import "errors"

// Domain errors for the LIFX bridge package.
var (
	// ErrSetupFailed is returned when a transport to a device cannot be
	// opened at all (name resolution or socket failure). It is not retried.
	ErrSetupFailed = errors.New("lifx: connection setup failed")

	// ErrRequestTimeout is returned when a single request got no response
	// before the overall deadline. The connection reconnects on next send.
	ErrRequestTimeout = errors.New("lifx: request timed out")

	// ErrSoftDisconnect is returned by an update cycle whose request got no
	// response while the device is still counted as reachable.
	ErrSoftDisconnect = errors.New("lifx: soft disconnect")

	// ErrUpdateFailed is returned when soft disconnects exceed the threshold.
	// The device should be treated as unavailable for the cycle.
	ErrUpdateFailed = errors.New("lifx: update failed")

	// ErrInvalidPacket is returned when a datagram cannot be decoded.
	ErrInvalidPacket = errors.New("lifx: invalid packet")

	// ErrNotConnected is returned when an operation needs a live component
	// (MQTT client, discovery) that is not available.
	ErrNotConnected = errors.New("lifx: not connected")

	// ErrUnsupported is returned when a command targets a feature the
	// device does not have.
	ErrUnsupported = errors.New("lifx: unsupported by device")

	// ErrInvalidParameter is returned when command parameters are invalid.
	ErrInvalidParameter = errors.New("lifx: invalid parameter")

	// ErrUnknownDevice is returned when no coordinator runs for a serial.
	ErrUnknownDevice = errors.New("lifx: unknown device")

	// ErrClosed is returned when using a connection or coordinator after Close.
	ErrClosed = errors.New("lifx: closed")
)
