package lifx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Bridge operation constants.
const (
	// commandTopicParts is the number of parts in graylogic/command/lifx/{serial}.
	commandTopicParts = 4

	// DefaultCommandTimeout bounds one MQTT command. Identify on a device
	// that is off takes several seconds, so this is generous.
	DefaultCommandTimeout = 15 * time.Second

	// DefaultStaticProbeInterval is the wait between probes of a static
	// device whose serial is not configured.
	DefaultStaticProbeInterval = 10 * time.Second

	// staticProbeAttempts bounds the probes of one static device.
	staticProbeAttempts = 5

	// persistTimeout bounds registry and history writes.
	persistTimeout = 5 * time.Second
)

// State history sources passed to StateHistory.
const (
	historySourcePoll    = "poll"
	historySourceCommand = "command"
)

// Bridge connects LIFX devices on the LAN to Gray Logic Core over MQTT.
// It handles:
//   - Discovery registrations, static devices and devices remembered in
//     the registry, each served by a Connection and a Coordinator
//   - Publishing poll results as retained state messages
//   - Executing commands from Core and acknowledging them
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       BridgeConfig
	mqtt      MQTTClient
	health    *HealthReporter
	discovery *Discovery // nil when discovery is disabled
	registry  DeviceRegistry
	history   StateHistory
	telemetry TelemetrySink
	events    EventPublisher
	metrics   *Metrics

	devices   map[Serial]*managedDevice
	static    map[Serial]bool
	devicesMu sync.RWMutex

	removeConnectivity func()

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// DeviceRegistry persists the devices the bridge has seen.
// This interface is satisfied by *device.Registry (via adapter in main.go).
// It is optional - if nil, devices are only known until the bridge stops.
type DeviceRegistry interface {
	// RegisterDevice creates or updates a device. Empty identity fields
	// leave stored values unchanged.
	RegisterDevice(ctx context.Context, dev RegistryDevice) error

	// ListDevices returns every stored device.
	ListDevices(ctx context.Context) ([]RegistryDevice, error)

	// MarkSeen records a successful poll.
	MarkSeen(ctx context.Context, serial string, at time.Time) error
}

// RegistryDevice is the subset of a stored device the bridge uses.
type RegistryDevice struct {
	Serial    string
	Host      string
	Port      int
	Label     string
	Group     string
	Model     string
	Firmware  string
	ProductID uint32
	Static    bool
}

// StateHistory records state changes. Optional.
type StateHistory interface {
	RecordStateChange(ctx context.Context, serial string, state map[string]any, source string) error
}

// TelemetrySink receives one sample per successful poll. Optional.
// Implementations must not block.
type TelemetrySink interface {
	WriteTelemetry(t Telemetry)
}

// Telemetry is one polled sample of a light.
type Telemetry struct {
	Serial     string
	Label      string
	On         bool
	Hue        uint16
	Saturation uint16
	Brightness uint8
	Kelvin     uint16
	RSSI       int
	Time       time.Time
}

// EventPublisher publishes device events to the event stream. Optional.
type EventPublisher interface {
	PublishDeviceRegistered(reg Registration, static bool) error
	PublishDeviceState(serial Serial, available bool, state map[string]any) error
}

// StaticDevice is a configured light. Serial is optional; without it the
// device is probed for its serial at start.
type StaticDevice struct {
	Host   string
	Port   int
	Serial string
}

// BridgeConfig holds bridge settings.
type BridgeConfig struct {
	// BridgeID is the bridge identifier for health messages (required).
	BridgeID string

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// CommandTimeout bounds one MQTT command. Default: 15s.
	CommandTimeout time.Duration

	// StaticProbeInterval is the wait between probes of a static device
	// without a serial. Default: 10s.
	StaticProbeInterval time.Duration

	// Connection and Coordinator apply to every device.
	Connection  ConnectionConfig
	Coordinator CoordinatorConfig

	// Discovery enables broadcast discovery when non-nil.
	Discovery *DiscoveryConfig

	StaticDevices []StaticDevice
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	Config BridgeConfig

	// MQTTClient is the MQTT client implementation (required).
	MQTTClient MQTTClient

	// Registry persists devices across restarts (optional).
	Registry DeviceRegistry

	// History records state changes (optional).
	History StateHistory

	// Telemetry receives poll samples (optional).
	Telemetry TelemetrySink

	// Events receives registration and state events (optional).
	Events EventPublisher

	// Metrics is optional.
	Metrics *Metrics

	// Logger is optional structured logger.
	Logger Logger
}

// managedDevice is one device with a running coordinator.
type managedDevice struct {
	serial Serial
	host   string
	port   int
	conn   *Connection
	coord  *Coordinator
	remove func()

	mu              sync.Mutex
	available       bool
	lastState       string // JSON of the last published state
	identity        string
	commandPending  bool
	unavailableSent bool
}

func (m *managedDevice) stop() {
	m.remove()
	m.coord.Stop()
	m.conn.Close()
}

// DeviceStatus is the bridge's view of one device.
type DeviceStatus struct {
	Snapshot
	Available       bool       `json:"available"`
	Static          bool       `json:"static"`
	CycleState      string     `json:"cycle_state"`
	LastUpdate      *time.Time `json:"last_update,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	SoftDisconnects int        `json:"soft_disconnects"`
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config.BridgeID == "" {
		return nil, fmt.Errorf("bridge ID is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}

	cfg := opts.Config
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.StaticProbeInterval <= 0 {
		cfg.StaticProbeInterval = DefaultStaticProbeInterval
	}

	static := make(map[Serial]bool)
	for i, sd := range cfg.StaticDevices {
		if sd.Host == "" {
			return nil, fmt.Errorf("static device %d: host is required", i)
		}
		if sd.Serial == "" {
			continue
		}
		serial, err := ParseSerial(sd.Serial)
		if err != nil {
			return nil, fmt.Errorf("static device %d: %w", i, err)
		}
		static[serial] = true
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       cfg,
		mqtt:      opts.MQTTClient,
		registry:  opts.Registry,
		history:   opts.History,
		telemetry: opts.Telemetry,
		events:    opts.Events,
		metrics:   opts.Metrics,
		devices:   make(map[Serial]*managedDevice),
		static:    static,
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.BridgeID,
		Version:   cfg.Version,
		Interval:  cfg.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    b,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	if cfg.Discovery != nil {
		b.discovery = NewDiscovery(DiscoveryOptions{
			Config:    *cfg.Discovery,
			Registrar: b,
			Metrics:   opts.Metrics,
			Logger:    opts.Logger,
		})
	}

	return b, nil
}

// Start brings up remembered and static devices, subscribes to commands,
// starts discovery and health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	if b.discovery != nil {
		b.removeConnectivity = b.discovery.AddListener(b.handleConnectivity)
	}

	b.loadDevicesFromRegistry(ctx)
	b.startStaticDevices()

	if b.discovery != nil {
		if err := b.discovery.Start(b.ctx); err != nil {
			return fmt.Errorf("start discovery: %w", err)
		}
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.BridgeID,
		"devices", b.DeviceCount(),
		"discovery", b.discovery != nil)

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight commands and probes
		b.ctxCancel()

		if b.discovery != nil {
			if b.removeConnectivity != nil {
				b.removeConnectivity()
			}
			b.discovery.Stop()
		}

		b.devicesMu.Lock()
		devices := b.devices
		b.devices = make(map[Serial]*managedDevice)
		b.devicesMu.Unlock()

		for _, m := range devices {
			m.stop()
		}
		b.metrics.setDevices(0)

		b.health.Stop()

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// Register implements Registrar. Discovery calls it once per new device
// and again when a known device changes address.
func (b *Bridge) Register(ctx context.Context, reg Registration) {
	b.devicesMu.RLock()
	static := b.static[reg.Serial]
	b.devicesMu.RUnlock()

	b.registerDevice(ctx, reg, static)
}

// registerDevice persists reg and starts serving the device. A device
// already served at the same address is left alone; one served at another
// address gets a new connection and coordinator.
func (b *Bridge) registerDevice(ctx context.Context, reg Registration, static bool) {
	if reg.Serial.IsWildcard() || reg.Host == "" {
		b.logWarn("ignoring incomplete registration", "host", reg.Host, "serial", reg.Serial.String())
		return
	}
	if reg.Port == 0 {
		reg.Port = b.defaultPort()
	}

	b.persistDevice(ctx, RegistryDevice{
		Serial: reg.Serial.String(),
		Host:   reg.Host,
		Port:   reg.Port,
		Static: static,
	})

	if !b.addDevice(reg) {
		return
	}

	if b.discovery != nil {
		b.discovery.Track(reg.Host, reg.Port, reg.Serial)
	}

	if b.events != nil {
		if err := b.events.PublishDeviceRegistered(reg, static); err != nil {
			b.logError("failed to publish registration event", err)
		}
	}

	b.logInfo("device registered",
		"serial", reg.Serial.String(),
		"host", reg.Host,
		"port", reg.Port,
		"static", static)
}

// addDevice creates and starts a coordinator for reg. It reports false
// when the device is already served at that address or the bridge is
// stopping.
func (b *Bridge) addDevice(reg Registration) bool {
	if reg.Port == 0 {
		reg.Port = b.defaultPort()
	}
	if m := b.device(reg.Serial); m != nil && m.host == reg.Host && m.port == reg.Port {
		return false
	}

	conn := NewConnection(reg.Host, reg.Serial, b.connectionConfig(reg.Port))
	conn.SetLogger(b.getLogger())

	var connectivity Connectivity
	if b.discovery != nil {
		connectivity = b.discovery
	}
	coord, err := NewCoordinator(CoordinatorOptions{
		Device:       NewDevice(reg.Host, reg.Port, reg.Serial),
		Sender:       conn,
		Connectivity: connectivity,
		Config:       b.cfg.Coordinator,
		Metrics:      b.metrics,
		Logger:       b.getLogger(),
	})
	if err != nil {
		b.logError("failed to create coordinator", err)
		return false
	}

	m := &managedDevice{
		serial: reg.Serial,
		host:   reg.Host,
		port:   reg.Port,
		conn:   conn,
		coord:  coord,
	}
	m.remove = coord.AddListener(func(r UpdateResult) { b.handleUpdate(m, r) })

	b.devicesMu.Lock()
	select {
	case <-b.done:
		b.devicesMu.Unlock()
		m.stop()
		return false
	default:
	}
	prev, exists := b.devices[reg.Serial]
	if exists && prev.host == reg.Host && prev.port == reg.Port {
		b.devicesMu.Unlock()
		m.stop()
		return false
	}
	b.devices[reg.Serial] = m
	count := len(b.devices)
	b.devicesMu.Unlock()

	if exists {
		b.logInfo("device moved, replacing connection",
			"serial", reg.Serial.String(),
			"old_host", prev.host,
			"host", reg.Host)
		prev.stop()
	}

	b.metrics.setDevices(count)
	coord.Start(b.ctx)
	return true
}

// loadDevicesFromRegistry brings up every device remembered from a
// previous run.
func (b *Bridge) loadDevicesFromRegistry(ctx context.Context) {
	if b.registry == nil {
		return
	}

	devices, err := b.registry.ListDevices(ctx)
	if err != nil {
		b.logError("failed to load devices from registry", err)
		return
	}

	loaded := 0
	for _, dev := range devices {
		serial, err := ParseSerial(dev.Serial)
		if err != nil || dev.Host == "" {
			b.logWarn("skipping invalid registry device", "serial", dev.Serial, "host", dev.Host)
			continue
		}
		if dev.Static {
			b.devicesMu.Lock()
			b.static[serial] = true
			b.devicesMu.Unlock()
		}
		if b.addDevice(Registration{Host: dev.Host, Port: dev.Port, Serial: serial}) {
			if b.discovery != nil {
				b.discovery.Track(dev.Host, dev.Port, serial)
			}
			loaded++
		}
	}

	if loaded > 0 {
		b.logInfo("loaded devices from registry", "count", loaded)
	}
}

// startStaticDevices registers static devices with a configured serial and
// probes the others in the background.
func (b *Bridge) startStaticDevices() {
	for _, sd := range b.cfg.StaticDevices {
		port := sd.Port
		if port == 0 {
			port = b.defaultPort()
		}

		if sd.Serial != "" {
			serial, err := ParseSerial(sd.Serial)
			if err != nil {
				continue // rejected by NewBridge
			}
			b.registerDevice(b.ctx, Registration{Host: sd.Host, Port: port, Serial: serial}, true)
			continue
		}

		b.wg.Add(1)
		go b.probeStatic(sd.Host, port)
	}
}

// probeStatic learns the serial of a static device and registers it.
func (b *Bridge) probeStatic(host string, port int) {
	defer b.wg.Done()

	for attempt := 1; ; attempt++ {
		serial, err := b.probe(host, port)
		if err == nil {
			b.devicesMu.Lock()
			b.static[serial] = true
			b.devicesMu.Unlock()

			b.registerDevice(b.ctx, Registration{Host: host, Port: port, Serial: serial}, true)
			return
		}

		if attempt >= staticProbeAttempts {
			b.logError("static device did not answer",
				fmt.Errorf("%s:%d after %d attempts: %w", host, port, attempt, err))
			return
		}
		b.logDebug("static device probe failed", "host", host, "attempt", attempt, "error", err)

		if sleepContext(b.ctx, b.cfg.StaticProbeInterval) != nil {
			return
		}
	}
}

func (b *Bridge) probe(host string, port int) (Serial, error) {
	conn := NewConnection(host, WildcardSerial, b.connectionConfig(port))
	conn.SetLogger(b.getLogger())
	defer conn.Close()

	msg, err := conn.Send(b.ctx, GetColor())
	if err != nil {
		return WildcardSerial, err
	}
	if msg.Header.Target.IsWildcard() {
		return WildcardSerial, fmt.Errorf("%w: response from %s carries no serial", ErrInvalidPacket, host)
	}
	return msg.Header.Target, nil
}

func (b *Bridge) connectionConfig(port int) ConnectionConfig {
	cfg := b.cfg.Connection
	cfg.Port = port
	return cfg
}

func (b *Bridge) defaultPort() int {
	if b.cfg.Connection.Port != 0 {
		return b.cfg.Connection.Port
	}
	return DefaultPort
}

// handleConnectivity forwards discovery's reachability changes to the
// device's coordinator. A device coming back is refreshed.
func (b *Bridge) handleConnectivity(serial Serial, connected bool) {
	m := b.device(serial)
	if m == nil {
		return
	}
	m.coord.ConnectivityChanged(connected)
	if connected {
		m.coord.RequestRefresh()
	}
}

// handleUpdate processes one poll cycle result of a device.
func (b *Bridge) handleUpdate(m *managedDevice, r UpdateResult) {
	switch {
	case r.Err == nil:
		b.handlePollSuccess(m, r)
	case errors.Is(r.Err, ErrUpdateFailed):
		b.handleUnavailable(m)
	default:
		// Soft disconnects and cancelled cycles keep the last state.
		b.logDebug("poll cycle incomplete", "serial", m.serial.String(), "error", r.Err)
	}
}

func (b *Bridge) handlePollSuccess(m *managedDevice, r UpdateResult) {
	snap := r.Snapshot
	state := StateFromSnapshot(snap)

	if b.telemetry != nil {
		b.telemetry.WriteTelemetry(Telemetry{
			Serial:     m.serial.Compact(),
			Label:      snap.Label,
			On:         snap.On,
			Hue:        snap.Color.Hue,
			Saturation: snap.Color.Saturation,
			Brightness: snap.Brightness,
			Kelvin:     snap.Color.Kelvin,
			RSSI:       snap.RSSI,
			Time:       r.At,
		})
	}

	ctx, cancel := context.WithTimeout(b.ctx, persistTimeout)
	defer cancel()

	if b.registry != nil {
		if err := b.registry.MarkSeen(ctx, m.serial.String(), r.At); err != nil {
			b.logError("failed to mark device seen", err)
		}
	}

	identity := strings.Join([]string{snap.Label, snap.Group, snap.Model, snap.Firmware}, "\x00")
	encoded, err := json.Marshal(state)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	m.mu.Lock()
	changed := !m.available || m.lastState != string(encoded)
	identityChanged := m.identity != identity
	source := historySourcePoll
	if changed && m.commandPending {
		source = historySourceCommand
		m.commandPending = false
	}
	m.available = true
	m.unavailableSent = false
	m.lastState = string(encoded)
	m.identity = identity
	m.mu.Unlock()

	if identityChanged {
		b.persistDevice(ctx, RegistryDevice{
			Serial:    m.serial.String(),
			Host:      m.host,
			Port:      m.port,
			Label:     snap.Label,
			Group:     snap.Group,
			Model:     snap.Model,
			Firmware:  snap.Firmware,
			ProductID: snap.ProductID,
			Static:    b.isStatic(m.serial),
		})
	}

	if !changed {
		return
	}

	b.publishState(NewStateMessage(m.serial.String(), m.serial, state), m.serial)

	if b.history != nil {
		if err := b.history.RecordStateChange(ctx, m.serial.String(), state, source); err != nil {
			b.logError("failed to record state history", err)
		}
	}
	if b.events != nil {
		if err := b.events.PublishDeviceState(m.serial, true, state); err != nil {
			b.logError("failed to publish state event", err)
		}
	}
}

// handleUnavailable publishes available:false once per outage.
func (b *Bridge) handleUnavailable(m *managedDevice) {
	m.mu.Lock()
	already := m.unavailableSent
	m.available = false
	m.unavailableSent = true
	m.lastState = ""
	m.mu.Unlock()

	if already {
		return
	}

	b.logWarn("device unavailable", "serial", m.serial.String(), "host", m.host)
	b.publishState(NewUnavailableMessage(m.serial.String(), m.serial), m.serial)

	if b.events != nil {
		if err := b.events.PublishDeviceState(m.serial, false, nil); err != nil {
			b.logError("failed to publish state event", err)
		}
	}
}

// publishState publishes a state message (QoS 1, retained).
func (b *Bridge) publishState(msg StateMessage, serial Serial) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state message", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(serial), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

func (b *Bridge) persistDevice(ctx context.Context, dev RegistryDevice) {
	if b.registry == nil {
		return
	}
	if err := b.registry.RegisterDevice(ctx, dev); err != nil {
		b.logError("failed to persist device", err)
	}
}

func (b *Bridge) isStatic(serial Serial) bool {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	return b.static[serial]
}

func (b *Bridge) device(serial Serial) *managedDevice {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	return b.devices[serial]
}

// Devices returns the status of every served device, ordered by serial.
func (b *Bridge) Devices() []DeviceStatus {
	b.devicesMu.RLock()
	devices := make([]*managedDevice, 0, len(b.devices))
	for _, m := range b.devices {
		devices = append(devices, m)
	}
	b.devicesMu.RUnlock()

	slices.SortFunc(devices, func(x, y *managedDevice) int {
		return strings.Compare(x.serial.String(), y.serial.String())
	})

	out := make([]DeviceStatus, 0, len(devices))
	for _, m := range devices {
		out = append(out, b.status(m))
	}
	return out
}

// Device returns the status of one device.
func (b *Bridge) Device(serial Serial) (DeviceStatus, error) {
	m := b.device(serial)
	if m == nil {
		return DeviceStatus{}, fmt.Errorf("%w: %s", ErrUnknownDevice, serial)
	}
	return b.status(m), nil
}

func (b *Bridge) status(m *managedDevice) DeviceStatus {
	s := DeviceStatus{
		Snapshot:        m.coord.Snapshot(),
		Static:          b.isStatic(m.serial),
		CycleState:      m.coord.State().String(),
		SoftDisconnects: m.coord.SoftDisconnects(),
	}
	if at, err := m.coord.LastUpdate(); !at.IsZero() {
		s.LastUpdate = &at
		if err != nil {
			s.LastError = err.Error()
		}
	}

	m.mu.Lock()
	s.Available = m.available
	m.mu.Unlock()
	return s
}

// Coordinator returns the coordinator serving serial.
func (b *Bridge) Coordinator(serial Serial) (*Coordinator, error) {
	m := b.device(serial)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, serial)
	}
	return m.coord, nil
}

// Diagnostics returns troubleshooting details of one device.
func (b *Bridge) Diagnostics(serial Serial) (map[string]any, error) {
	c, err := b.Coordinator(serial)
	if err != nil {
		return nil, err
	}
	diag := c.Diagnostics()
	diag["mac"] = c.MACAddress()
	diag["rssi"] = c.RSSI()
	return diag, nil
}

// Identify pulses one device.
func (b *Bridge) Identify(ctx context.Context, serial Serial) error {
	c, err := b.Coordinator(serial)
	if err != nil {
		return err
	}
	return c.Identify(ctx)
}

// Refresh runs a poll cycle of one device now.
func (b *Bridge) Refresh(ctx context.Context, serial Serial) error {
	c, err := b.Coordinator(serial)
	if err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// DeviceCount returns the number of served devices.
func (b *Bridge) DeviceCount() int {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()
	return len(b.devices)
}

// DeviceCounts implements HealthSource.
func (b *Bridge) DeviceCounts() (managed, available int) {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()

	for _, m := range b.devices {
		m.mu.Lock()
		if m.available {
			available++
		}
		m.mu.Unlock()
	}
	return len(b.devices), available
}

// Statistics implements HealthSource by summing connection counters.
func (b *Bridge) Statistics() BridgeStatistics {
	b.devicesMu.RLock()
	defer b.devicesMu.RUnlock()

	var stats BridgeStatistics
	for _, m := range b.devices {
		stats.add(m.conn.Stats())
	}
	return stats
}

// KnownDevices returns discovery's view of the network, or nil when
// discovery is disabled.
func (b *Bridge) KnownDevices() []KnownDevice {
	if b.discovery == nil {
		return nil
	}
	return b.discovery.Devices()
}

// SetLogger sets the logger for the bridge. Devices registered afterwards
// log through it too.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return loggerOrNop(b.logger)
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.getLogger().Info(msg, keysAndValues...)
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.getLogger().Warn(msg, keysAndValues...)
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.getLogger().Error(msg, "error", err)
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.getLogger().Debug(msg, keysAndValues...)
}

// BridgeMetrics contains metrics data for the API health endpoint.
type BridgeMetrics struct {
	Connected        bool   `json:"mqtt_connected"`
	Status           string `json:"status"`
	DevicesManaged   int    `json:"devices_managed"`
	DevicesAvailable int    `json:"devices_available"`
	RequestsSent     uint64 `json:"requests_sent"`
	Timeouts         uint64 `json:"timeouts"`
	Discovery        bool   `json:"discovery"`
}

// GetMetrics returns current bridge metrics for the API health endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	managed, available := b.DeviceCounts()
	stats := b.Statistics()
	status, _ := b.health.determineStatus()

	return BridgeMetrics{
		Connected:        b.mqtt.IsConnected(),
		Status:           string(status),
		DevicesManaged:   managed,
		DevicesAvailable: available,
		RequestsSent:     stats.RequestsSent,
		Timeouts:         stats.Timeouts,
		Discovery:        b.discovery != nil,
	}
}

var (
	_ Registrar    = (*Bridge)(nil)
	_ HealthSource = (*Bridge)(nil)
)
