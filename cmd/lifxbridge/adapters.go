package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/bridges/lifx"
	"github.com/nerrad567/gray-logic-lifx/internal/device"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/natsbus"
)

// mqttSubscriber is the part of *mqtt.Client the bridge adapter needs.
type mqttSubscriber interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the LIFX
// bridge's MQTTClient interface. The difference is the handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - LIFX bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client mqttSubscriber
}

// Publish implements lifx.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements lifx.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements lifx.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// registryAdapter adapts *device.Registry to lifx.DeviceRegistry.
type registryAdapter struct {
	registry *device.Registry
}

// RegisterDevice implements lifx.DeviceRegistry.
func (a *registryAdapter) RegisterDevice(ctx context.Context, dev lifx.RegistryDevice) error {
	source := device.SourceDiscovery
	if dev.Static {
		source = device.SourceStatic
	}
	_, err := a.registry.RegisterDevice(ctx, device.Device{
		Serial:    dev.Serial,
		Host:      dev.Host,
		Port:      dev.Port,
		Label:     dev.Label,
		Group:     dev.Group,
		ProductID: dev.ProductID,
		Model:     dev.Model,
		Firmware:  dev.Firmware,
		Source:    source,
	})
	return err
}

// ListDevices implements lifx.DeviceRegistry.
func (a *registryAdapter) ListDevices(ctx context.Context) ([]lifx.RegistryDevice, error) {
	stored, err := a.registry.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]lifx.RegistryDevice, 0, len(stored))
	for _, d := range stored {
		out = append(out, lifx.RegistryDevice{
			Serial:    d.Serial,
			Host:      d.Host,
			Port:      d.Port,
			Label:     d.Label,
			Group:     d.Group,
			Model:     d.Model,
			Firmware:  d.Firmware,
			ProductID: d.ProductID,
			Static:    d.Source == device.SourceStatic,
		})
	}
	return out, nil
}

// MarkSeen implements lifx.DeviceRegistry.
func (a *registryAdapter) MarkSeen(ctx context.Context, serial string, at time.Time) error {
	return a.registry.MarkSeen(ctx, serial, at)
}

// historyAdapter adapts the state history repository to lifx.StateHistory.
type historyAdapter struct {
	repo device.StateHistoryRepository
}

// RecordStateChange implements lifx.StateHistory.
func (a *historyAdapter) RecordStateChange(ctx context.Context, serial string, state map[string]any, source string) error {
	return a.repo.RecordStateChange(ctx, serial, device.State(state), source)
}

// telemetrySink is the part of *influxdb.Client the adapter needs.
type telemetrySink interface {
	WriteLightTelemetry(t influxdb.LightTelemetry)
}

// telemetryAdapter forwards poll samples to InfluxDB.
type telemetryAdapter struct {
	client telemetrySink
}

// WriteTelemetry implements lifx.TelemetrySink.
func (a *telemetryAdapter) WriteTelemetry(t lifx.Telemetry) {
	a.client.WriteLightTelemetry(influxdb.LightTelemetry{
		Serial:     t.Serial,
		Label:      t.Label,
		On:         t.On,
		Hue:        t.Hue,
		Saturation: t.Saturation,
		Brightness: t.Brightness,
		Kelvin:     t.Kelvin,
		RSSI:       t.RSSI,
		Time:       t.Time,
	})
}

// eventBus is the part of *natsbus.Bus the adapter needs.
type eventBus interface {
	PublishDeviceRegistered(ev natsbus.DeviceRegistered) error
	PublishDeviceState(ev natsbus.DeviceState) error
}

// eventAdapter publishes bridge events on NATS.
type eventAdapter struct {
	bus eventBus
}

// PublishDeviceRegistered implements lifx.EventPublisher.
func (a *eventAdapter) PublishDeviceRegistered(reg lifx.Registration, static bool) error {
	source := string(device.SourceDiscovery)
	if static {
		source = string(device.SourceStatic)
	}
	port := reg.Port
	if port == 0 {
		port = lifx.DefaultPort
	}
	return a.bus.PublishDeviceRegistered(natsbus.DeviceRegistered{
		Serial:    reg.Serial.String(),
		Host:      reg.Host,
		Port:      port,
		Source:    source,
		Timestamp: time.Now().UTC(),
	})
}

// PublishDeviceState implements lifx.EventPublisher.
func (a *eventAdapter) PublishDeviceState(serial lifx.Serial, available bool, state map[string]any) error {
	return a.bus.PublishDeviceState(natsbus.DeviceState{
		Serial:    serial.String(),
		Available: available,
		State:     state,
		Timestamp: time.Now().UTC(),
	})
}

// deviceLister is the part of *lifx.Bridge served over NATS requests.
type deviceLister interface {
	Devices() []lifx.DeviceStatus
	Device(serial lifx.Serial) (lifx.DeviceStatus, error)
}

// requestServer is the part of *natsbus.Bus that serves requests.
type requestServer interface {
	HandleRequest(name string, fn natsbus.RequestHandler) error
}

// deviceRequest is the payload of a "device" request.
type deviceRequest struct {
	Serial string `json:"serial"`
}

// registerRequestHandlers answers device queries on
// <prefix>.request.devices and <prefix>.request.device.
func registerRequestHandlers(srv requestServer, bridge deviceLister) error {
	if err := srv.HandleRequest("devices", func([]byte) (any, error) {
		return bridge.Devices(), nil
	}); err != nil {
		return err
	}

	return srv.HandleRequest("device", func(data []byte) (any, error) {
		var req deviceRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		serial, err := lifx.ParseSerial(req.Serial)
		if err != nil {
			return nil, err
		}
		return bridge.Device(serial)
	})
}
