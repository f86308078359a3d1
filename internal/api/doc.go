// Package api implements the HTTP REST API of the LIFX bridge.
//
// This package provides:
//   - Read endpoints for the served devices, their diagnostics and state history
//   - Identify and refresh actions on a single device
//   - Discovery's view of the network
//   - Prometheus metrics on /metrics
//   - Middleware stack (request ID, logging, recovery)
//
// # Architecture
//
// The API is a side door into the bridge for installers and monitoring.
// Gray Logic Core talks to the bridge over MQTT; nothing here is on that
// path. Errors are JSON objects of the form {status, code, message}.
//
// # Graceful Degradation
//
// The server runs without the SQLite stores: /history answers 503 and
// device responses omit the stored registry record.
package api
