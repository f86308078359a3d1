// Package natsbus publishes bridge events on a NATS subject tree.
//
// Events are JSON documents on subjects below a configurable prefix
// (default "lifx"):
//
//	lifx.device.registered          one per newly registered device
//	lifx.device.state.<serial>      one per changed or unavailable state
//	lifx.request.<name>             request/reply handlers (see HandleRequest)
//
// Serial tokens use the bare hex form (d073d5010203) so that subjects stay
// free of separators.
//
// The connection is created with RetryOnFailedConnect so the bridge starts
// even when the server is down; publishes made while disconnected are
// buffered by the nats.go client up to its reconnect buffer size.
//
// # Usage
//
//	bus, err := natsbus.Connect(cfg.NATS, log)
//	if err != nil {
//	    return err
//	}
//	defer bus.Close()
//
//	bus.PublishDeviceRegistered(natsbus.DeviceRegistered{Serial: s, Host: h})
package natsbus
