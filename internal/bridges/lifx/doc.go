// Package lifx implements the LIFX LAN bridge for Gray Logic.
//
// The package talks to LIFX bulbs, strips and tiles over the LIFX LAN
// protocol (binary messages over UDP port 56700), keeps a polled model of
// every device and exposes that model over MQTT.
//
// # Architecture
//
//	┌─────────────┐   MQTT    ┌───────────────────────────────────┐   UDP
//	│ Gray Logic  │◄─────────►│ Bridge                            │◄────────► LIFX devices
//	│    Core     │           │  Discovery → Coordinator → Conn   │
//	└─────────────┘           └───────────────────────────────────┘
//
// Components, leaves first:
//
//   - Wire codec (protocol.go, payloads.go): header and message catalog
//   - Connection: one UDP transport per device, retransmission and
//     reconnect-on-next-send after a timeout
//   - Request bridge (request.go, demux.go): single-resolution result slots,
//     the coordinator-wide concurrency bound and response demultiplexing
//   - Coordinator: per-device poll state machine with debounced refresh,
//     soft disconnect counting and the command surface
//   - Discovery: periodic GetService broadcasts, a reachability actor and
//     one registration event per new device
//
// # Failure Handling
//
// A request that gets no response wraps ErrRequestTimeout and flags its
// connection for reconnection on the next send. The coordinator counts such
// failures while discovery still believes the device is reachable
// (ErrSoftDisconnect); more than three in a row escalate to ErrUpdateFailed
// and the next cycle starts from zero.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
//
// # References
//
//   - LIFX LAN protocol: https://lan.developer.lifx.com
package lifx
