package lifx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Discovery timing defaults.
const (
	// DefaultDiscoveryInterval is the period between GetService broadcasts.
	DefaultDiscoveryInterval = 60 * time.Second

	// DefaultGracePeriod is how long a device may stay silent before it is
	// marked unreachable.
	DefaultGracePeriod = 180 * time.Second

	// DefaultInitialDiscoveryWait is how long DiscoverDevices waits for
	// the first answers.
	DefaultInitialDiscoveryWait = 8500 * time.Millisecond

	// defaultSweepInterval is the liveness check period.
	defaultSweepInterval = 10 * time.Second

	// serviceUDP is the StateService service id for the UDP transport.
	serviceUDP = 1

	// workQueueSize buffers actor work items.
	workQueueSize = 64

	// eventQueueSize buffers connectivity notifications.
	eventQueueSize = 64
)

// DiscoveryConfig holds discovery settings.
type DiscoveryConfig struct {
	// BroadcastAddresses to probe. Empty means the directed broadcast
	// address of every up, non-loopback IPv4 interface.
	BroadcastAddresses []string

	// Port devices listen on. Default: 56700.
	Port int

	// Interval between broadcasts. Default: 60s.
	Interval time.Duration

	// GracePeriod before a silent device is marked unreachable. Default: 180s.
	GracePeriod time.Duration

	// SweepInterval is the liveness check period. Default: 10s.
	SweepInterval time.Duration

	// InitialTimeout is the wait used by DiscoverDevices. Default: 8.5s.
	InitialTimeout time.Duration

	// Connection settings for capability probes.
	Connection ConnectionConfig
}

func (c DiscoveryConfig) withDefaults() DiscoveryConfig {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Interval <= 0 {
		c.Interval = DefaultDiscoveryInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.InitialTimeout <= 0 {
		c.InitialTimeout = DefaultInitialDiscoveryWait
	}
	if c.Connection.Port == 0 {
		c.Connection.Port = c.Port
	}
	return c
}

// KnownDevice is discovery's view of one device.
type KnownDevice struct {
	Serial    Serial    `json:"serial"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// ConnectivityListener is told when a device's reachability flips.
type ConnectivityListener func(serial Serial, connected bool)

type connectivityEvent struct {
	serial    Serial
	connected bool
}

// Discovery tracks device presence through periodic GetService broadcasts.
//
// All presence state (known devices, reachability, pending probes) is owned
// by a single actor goroutine; every query and mutation is a work item on
// its queue. Connectivity listeners are called on a separate goroutine in
// event order.
type Discovery struct {
	cfg       DiscoveryConfig
	registrar Registrar
	metrics   *Metrics
	logger    Logger
	source    uint32

	// Actor-owned state. Only touched from run().
	devices   map[Serial]*KnownDevice
	connected map[Serial]bool
	pending   map[string]struct{}

	listenersMu sync.Mutex
	listeners   map[int]ConnectivityListener
	nextID      int

	work   chan func()
	events chan connectivityEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startMu  sync.Mutex
	started  bool
	sockets  []*net.UDPConn
	stopOnce sync.Once
	stopped  atomic.Bool
}

// DiscoveryOptions configures a new Discovery.
type DiscoveryOptions struct {
	Config    DiscoveryConfig
	Registrar Registrar // optional; receives one event per new device
	Metrics   *Metrics  // optional
	Logger    Logger    // optional
}

// NewDiscovery creates a discovery manager. The presence actor runs
// immediately so connectivity can be queried and set before Start; Stop
// must be called to release it.
func NewDiscovery(opts DiscoveryOptions) *Discovery {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Discovery{
		cfg:       opts.Config.withDefaults(),
		registrar: opts.Registrar,
		metrics:   opts.Metrics,
		logger:    loggerOrNop(opts.Logger),
		source:    NewSource(),
		devices:   make(map[Serial]*KnownDevice),
		connected: make(map[Serial]bool),
		pending:   make(map[string]struct{}),
		listeners: make(map[int]ConnectivityListener),
		work:      make(chan func(), workQueueSize),
		events:    make(chan connectivityEvent, eventQueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	d.wg.Add(2)
	go d.run()
	go d.dispatch()
	return d
}

// run is the actor loop.
func (d *Discovery) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case fn := <-d.work:
			fn()
		}
	}
}

// dispatch delivers connectivity events to listeners.
func (d *Discovery) dispatch() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.events:
			d.listenersMu.Lock()
			listeners := make([]ConnectivityListener, 0, len(d.listeners))
			for _, fn := range d.listeners {
				listeners = append(listeners, fn)
			}
			d.listenersMu.Unlock()
			for _, fn := range listeners {
				d.safeNotify(fn, ev)
			}
		}
	}
}

func (d *Discovery) safeNotify(fn ConnectivityListener, ev connectivityEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("connectivity listener panic", "serial", ev.serial.String(), "panic", r)
		}
	}()
	fn(ev.serial, ev.connected)
}

// do runs fn on the actor and waits for it. It returns false without
// running fn once discovery is stopped.
func (d *Discovery) do(fn func()) bool {
	done := make(chan struct{})
	select {
	case d.work <- func() { fn(); close(done) }:
	case <-d.ctx.Done():
		return false
	}
	select {
	case <-done:
		return true
	case <-d.ctx.Done():
		return false
	}
}

// emit queues a connectivity event. Must be called on the actor.
func (d *Discovery) emit(serial Serial, connected bool) {
	select {
	case d.events <- connectivityEvent{serial: serial, connected: connected}:
	case <-d.ctx.Done():
	}
}

// Start opens one socket per broadcast address, broadcasts GetService
// immediately and then every Interval, and starts the liveness sweep.
// Calling Start again is a no-op.
func (d *Discovery) Start(ctx context.Context) error {
	d.startMu.Lock()
	defer d.startMu.Unlock()

	if d.stopped.Load() {
		return ErrClosed
	}
	if d.started {
		return nil
	}

	addrs, err := d.broadcastAddresses()
	if err != nil {
		return err
	}

	targets := make([]*net.UDPAddr, 0, len(addrs))
	for _, a := range addrs {
		ip := net.ParseIP(a).To4()
		if ip == nil {
			d.closeSockets()
			return fmt.Errorf("%w: broadcast address %q is not IPv4", ErrInvalidParameter, a)
		}
		sock, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
		if err != nil {
			d.closeSockets()
			return fmt.Errorf("%w: discovery socket: %w", ErrSetupFailed, err)
		}
		d.sockets = append(d.sockets, sock)
		targets = append(targets, &net.UDPAddr{IP: ip, Port: d.cfg.Port})
	}

	d.started = true
	for _, sock := range d.sockets {
		d.wg.Add(1)
		go d.listen(sock)
	}

	// Stop cancels d.ctx; ctx ends the loops too.
	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-d.ctx.Done():
		case <-runCtx.Done():
		}
		cancel()
	}()

	d.wg.Add(2)
	go d.broadcastLoop(runCtx, targets)
	go d.sweepLoop(runCtx)

	d.logger.Info("discovery started", "broadcast_addresses", addrs, "interval", d.cfg.Interval.String())
	return nil
}

func (d *Discovery) broadcastAddresses() ([]string, error) {
	if len(d.cfg.BroadcastAddresses) > 0 {
		return d.cfg.BroadcastAddresses, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: list interfaces: %w", ErrSetupFailed, err)
	}

	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if b := directedBroadcast(ipnet); b != nil {
				out = append(out, b.String())
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no IPv4 broadcast interface found", ErrSetupFailed)
	}
	return out, nil
}

// directedBroadcast returns the broadcast address of an IPv4 network.
func directedBroadcast(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil || len(n.Mask) != net.IPv4len {
		return nil
	}
	b := make(net.IP, net.IPv4len)
	for i := range b {
		b[i] = ip[i] | ^n.Mask[i]
	}
	return b
}

func (d *Discovery) broadcastLoop(ctx context.Context, targets []*net.UDPAddr) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		d.broadcast(ctx, targets)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// broadcast sends one tagged GetService on every socket.
func (d *Discovery) broadcast(ctx context.Context, targets []*net.UDPAddr) {
	packet := Packet{
		Header: Header{
			Source:      d.source,
			Target:      WildcardSerial,
			ResRequired: true,
			Type:        TypeGetService,
		},
	}.Encode()

	g, _ := errgroup.WithContext(ctx)
	for i, sock := range d.sockets {
		target := targets[i]
		g.Go(func() error {
			if _, err := sock.WriteToUDP(packet, target); err != nil {
				return fmt.Errorf("broadcast to %s: %w", target, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		d.logger.Warn("discovery broadcast failed", "error", err)
	}
}

// listen handles StateService answers on one socket until it is closed.
func (d *Discovery) listen(sock *net.UDPConn) {
	defer d.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Debug("discovery read failed", "error", err)
			continue
		}

		packet, err := DecodePacket(buf[:n])
		if err != nil || packet.Header.Type != TypeStateService || packet.Header.Source != d.source {
			continue
		}
		resp, err := DecodeResponse(packet.Header.Type, packet.Payload)
		if err != nil {
			continue
		}
		svc, ok := resp.(StateService)
		if !ok || svc.Service != serviceUDP {
			continue
		}

		port := int(svc.Port)
		if port == 0 {
			port = d.cfg.Port
		}
		host := from.IP.String()
		serial := packet.Header.Target
		d.do(func() { d.sighted(host, port, serial) })
	}
}

// sighted records a StateService answer. Runs on the actor.
func (d *Discovery) sighted(host string, port int, serial Serial) {
	if !serial.IsWildcard() {
		if dev, ok := d.devices[serial]; ok {
			moved := dev.Host != host || dev.Port != port
			dev.Host, dev.Port = host, port
			d.alive(dev)
			if moved {
				d.logger.Info("device address changed", "serial", serial.String(), "host", host, "port", port)
				d.register(Registration{Host: host, Port: port, Serial: serial})
			}
			return
		}
	}

	if _, busy := d.pending[host]; busy {
		return
	}
	d.pending[host] = struct{}{}

	d.wg.Add(1)
	go d.probe(host, port)
}

// alive refreshes a known device's last sighting and restores it when it
// had been swept. Runs on the actor.
func (d *Discovery) alive(dev *KnownDevice) {
	dev.LastSeen = time.Now()
	if d.connected[dev.Serial] {
		return
	}
	d.connected[dev.Serial] = true
	dev.Connected = true
	d.logger.Info("device reachable again", "serial", dev.Serial.String(), "host", dev.Host)
	d.emit(dev.Serial, true)
}

// probe asks an unknown device for its colour to learn its serial, then
// records it and emits one registration.
func (d *Discovery) probe(host string, port int) {
	defer d.wg.Done()

	cfg := d.cfg.Connection
	cfg.Port = port
	conn := NewConnection(host, WildcardSerial, cfg)
	msg, err := conn.Send(d.ctx, GetColor())
	conn.Close()

	var (
		reg    Registration
		isNew  bool
		serial = msg.Header.Target
	)
	ok := d.do(func() {
		delete(d.pending, host)
		if err != nil || serial.IsWildcard() {
			return
		}
		if dev, known := d.devices[serial]; known {
			dev.Host, dev.Port, dev.LastSeen, dev.Connected = host, port, time.Now(), true
			d.connected[serial] = true
			return
		}
		d.devices[serial] = &KnownDevice{Serial: serial, Host: host, Port: port, Connected: true, LastSeen: time.Now()}
		d.connected[serial] = true
		reg, isNew = Registration{Host: host, Port: port, Serial: serial}, true
	})
	if !ok {
		return
	}

	if err != nil {
		d.logger.Debug("capability probe failed", "host", host, "error", err)
		return
	}
	if !isNew {
		return
	}

	d.metrics.registration()
	d.logger.Info("device discovered", "serial", serial.String(), "host", host)
	if d.registrar != nil {
		d.registrar.Register(d.ctx, reg)
	}
}

// register hands reg to the registrar on its own goroutine so the actor
// never waits on it. Runs on the actor.
func (d *Discovery) register(reg Registration) {
	if d.registrar == nil || d.stopped.Load() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.metrics.registration()
		d.registrar.Register(d.ctx, reg)
	}()
}

func (d *Discovery) sweepLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.do(d.sweep)
		}
	}
}

// sweep marks devices silent for longer than the grace period as
// unreachable. Runs on the actor.
func (d *Discovery) sweep() {
	cutoff := time.Now().Add(-d.cfg.GracePeriod)
	for serial, dev := range d.devices {
		if d.connected[serial] && dev.LastSeen.Before(cutoff) {
			d.connected[serial] = false
			dev.Connected = false
			d.logger.Info("device unreachable", "serial", serial.String(), "host", dev.Host,
				"last_seen", dev.LastSeen.Format(time.RFC3339))
			d.emit(serial, false)
		}
	}
}

// IsConnected reports whether the device is believed reachable. Unknown
// devices and a stopped discovery report false.
func (d *Discovery) IsConnected(serial Serial) bool {
	var connected bool
	d.do(func() { connected = d.connected[serial] })
	return connected
}

// SetConnected overrides the reachability of a device. A change notifies
// connectivity listeners. It does nothing after Stop.
func (d *Discovery) SetConnected(serial Serial, connected bool) {
	d.do(func() {
		prev := d.connected[serial]
		d.connected[serial] = connected
		if dev, ok := d.devices[serial]; ok {
			dev.Connected = connected
			if connected {
				dev.LastSeen = time.Now()
			}
		}
		if prev != connected {
			d.emit(serial, connected)
		}
	})
}

// MarkSeen records a successful exchange with a known device. It counts
// as a sighting: the grace period restarts and a swept device is marked
// reachable again. Unknown serials are ignored.
func (d *Discovery) MarkSeen(serial Serial) {
	d.do(func() {
		if dev, ok := d.devices[serial]; ok {
			d.alive(dev)
		}
	})
}

// Track records a device learned outside discovery (static configuration
// or a previous run) so it takes part in liveness tracking. It is not
// re-registered when discovery sees it.
func (d *Discovery) Track(host string, port int, serial Serial) {
	if serial.IsWildcard() {
		return
	}
	d.do(func() {
		if _, ok := d.devices[serial]; ok {
			return
		}
		d.devices[serial] = &KnownDevice{Serial: serial, Host: host, Port: port, Connected: true, LastSeen: time.Now()}
		d.connected[serial] = true
	})
}

// AddListener registers fn for connectivity changes and returns a function
// that removes it.
func (d *Discovery) AddListener(fn ConnectivityListener) (remove func()) {
	d.listenersMu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.listenersMu.Unlock()

	return func() {
		d.listenersMu.Lock()
		delete(d.listeners, id)
		d.listenersMu.Unlock()
	}
}

// Devices returns every known device.
func (d *Discovery) Devices() []KnownDevice {
	var out []KnownDevice
	d.do(func() {
		out = make([]KnownDevice, 0, len(d.devices))
		for _, dev := range d.devices {
			out = append(out, *dev)
		}
	})
	return out
}

// DiscoverDevices starts discovery if it is not running, waits
// InitialTimeout for answers and returns the known devices.
func (d *Discovery) DiscoverDevices(ctx context.Context) ([]KnownDevice, error) {
	d.startMu.Lock()
	started := d.started
	d.startMu.Unlock()

	if !started {
		if err := d.Start(ctx); err != nil {
			return nil, err
		}
		if err := sleepContext(ctx, d.cfg.InitialTimeout); err != nil {
			return nil, err
		}
	}
	return d.Devices(), nil
}

// Stop cancels the listeners, the broadcast and sweep loops and in-flight
// probes, and waits for them. It is safe to call more than once.
func (d *Discovery) Stop() {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		d.cancel()

		d.startMu.Lock()
		d.closeSockets()
		d.startMu.Unlock()

		d.wg.Wait()
		d.logger.Info("discovery stopped")
	})
}

func (d *Discovery) closeSockets() {
	for _, sock := range d.sockets {
		sock.Close()
	}
	d.sockets = nil
}
