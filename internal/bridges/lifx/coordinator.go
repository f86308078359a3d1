package lifx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Coordinator timing defaults.
const (
	// DefaultUpdateInterval is the poll period.
	DefaultUpdateInterval = 10 * time.Second

	// DefaultRefreshDebounce coalesces RequestRefresh calls. Devices take a
	// moment to reflect a state change, so refreshes are never immediate.
	DefaultRefreshDebounce = 350 * time.Millisecond

	// DefaultIdentifyDelay is how long a device that was off keeps pulsing
	// before it is switched off again.
	DefaultIdentifyDelay = 3 * time.Second

	// DefaultZoneSettleDelay is the wait after a power change before zone
	// colours are read or written.
	DefaultZoneSettleDelay = 300 * time.Millisecond

	// DefaultDisconnectReset clears the soft disconnect count when no
	// further failure happens within it.
	DefaultDisconnectReset = time.Minute

	// DefaultMaxInFlight bounds outstanding requests per coordinator.
	DefaultMaxInFlight = 30

	// softDisconnectThreshold is the count above which a no-response
	// escalates to ErrUpdateFailed.
	softDisconnectThreshold = 3
)

// CoordinatorConfig holds per-coordinator settings. Zero values use the
// defaults above.
type CoordinatorConfig struct {
	UpdateInterval  time.Duration
	RefreshDebounce time.Duration
	IdentifyDelay   time.Duration
	ZoneSettleDelay time.Duration
	DisconnectReset time.Duration
	MaxInFlight     int64

	// SaturationBackoff is how long a request waits before retrying when
	// MaxInFlight is reached. Default: DefaultMessageTimeout.
	SaturationBackoff time.Duration
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	if c.RefreshDebounce <= 0 {
		c.RefreshDebounce = DefaultRefreshDebounce
	}
	if c.IdentifyDelay <= 0 {
		c.IdentifyDelay = DefaultIdentifyDelay
	}
	if c.ZoneSettleDelay <= 0 {
		c.ZoneSettleDelay = DefaultZoneSettleDelay
	}
	if c.DisconnectReset <= 0 {
		c.DisconnectReset = DefaultDisconnectReset
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.SaturationBackoff <= 0 {
		c.SaturationBackoff = DefaultMessageTimeout
	}
	return c
}

// CycleState is the state of the poll state machine.
type CycleState int

// Poll cycle states.
const (
	StateIdle CycleState = iota
	StatePolling
	StateSuccess
	StateSoftFailure
	StateHardFailure
)

// String returns the state name.
func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateSuccess:
		return "success"
	case StateSoftFailure:
		return "soft_failure"
	case StateHardFailure:
		return "hard_failure"
	default:
		return "unknown"
	}
}

// classifyCycle maps a cycle error to its terminal state.
func classifyCycle(err error) CycleState {
	switch {
	case err == nil:
		return StateSuccess
	case errors.Is(err, ErrUpdateFailed):
		return StateHardFailure
	default:
		return StateSoftFailure
	}
}

// UpdateResult is delivered to listeners after every poll cycle.
type UpdateResult struct {
	Snapshot Snapshot
	State    CycleState
	Err      error
	At       time.Time
}

// UpdateListener receives poll cycle results.
type UpdateListener func(UpdateResult)

// Coordinator polls one device and exposes its command surface.
//
// It is the only writer of its device record. Polls and commands share the
// coordinator-wide request bound and interleave only through it.
type Coordinator struct {
	device       *Device
	sender       Sender
	connectivity Connectivity
	cfg          CoordinatorConfig
	limiter      *requestLimiter
	metrics      *Metrics
	logger       Logger

	// cycleMu serialises poll cycles.
	cycleMu sync.Mutex

	mu              sync.Mutex
	state           CycleState
	lastUpdate      time.Time
	lastErr         error
	rssi            int
	rssiRefs        int
	activeEffect    FirmwareEffect
	softDisconnects int
	resetTimer      *time.Timer
	resetGen        uint64
	debounceTimer   *time.Timer
	listeners       map[int]UpdateListener
	nextListenerID  int

	refreshCh chan struct{}
	closed    atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// CoordinatorOptions configures a new Coordinator.
type CoordinatorOptions struct {
	// Device is the record the coordinator owns (required).
	Device *Device

	// Sender carries requests to the device (required). Usually the
	// device's *Connection.
	Sender Sender

	// Connectivity is discovery's reachability view. Optional: without it
	// every device counts as reachable.
	Connectivity Connectivity

	// Config holds timing settings.
	Config CoordinatorConfig

	// Metrics is optional.
	Metrics *Metrics

	// Logger is optional.
	Logger Logger
}

// NewCoordinator creates a coordinator. Call Start to begin polling.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("%w: device is required", ErrInvalidParameter)
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("%w: sender is required", ErrInvalidParameter)
	}

	cfg := opts.Config.withDefaults()
	return &Coordinator{
		device:       opts.Device,
		sender:       opts.Sender,
		connectivity: opts.Connectivity,
		cfg:          cfg,
		limiter:      newRequestLimiter(cfg.MaxInFlight, cfg.SaturationBackoff),
		metrics:      opts.Metrics,
		logger:       loggerOrNop(opts.Logger),
		listeners:    make(map[int]UpdateListener),
		refreshCh:    make(chan struct{}, 1),
	}, nil
}

// Start runs the first refresh and then polls every UpdateInterval until
// ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(ctx)
		c.wg.Add(1)
		go c.run()
	})
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	_ = c.Refresh(c.ctx) //nolint:errcheck // delivered to listeners

	ticker := time.NewTicker(c.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		case <-c.refreshCh:
			ticker.Reset(c.cfg.UpdateInterval)
		}
		_ = c.Refresh(c.ctx) //nolint:errcheck // delivered to listeners
	}
}

// Stop cancels polling, pending debounced refreshes and the disconnect
// reset timer. It is safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.closed.Store(true)
		if c.cancel != nil {
			c.cancel()
		}

		c.mu.Lock()
		if c.debounceTimer != nil {
			c.debounceTimer.Stop()
			c.debounceTimer = nil
		}
		if c.resetTimer != nil {
			c.resetTimer.Stop()
			c.resetTimer = nil
		}
		c.mu.Unlock()

		c.wg.Wait()
	})
}

// RequestRefresh schedules a refresh after the debounce window. Calls
// inside the window collapse into the one already scheduled.
func (c *Coordinator) RequestRefresh() {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.debounceTimer != nil {
		return
	}
	c.debounceTimer = time.AfterFunc(c.cfg.RefreshDebounce, func() {
		c.mu.Lock()
		c.debounceTimer = nil
		c.mu.Unlock()

		select {
		case c.refreshCh <- struct{}{}:
		default:
		}
	})
}

// AddListener registers fn for poll cycle results and returns a function
// that removes it.
func (c *Coordinator) AddListener(fn UpdateListener) (remove func()) {
	c.mu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Refresh runs one poll cycle now. The cycle stops at the first failed
// fetch; its result goes to every listener and is returned.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.setState(StatePolling)
	err := c.update(ctx)
	state := classifyCycle(err)

	c.mu.Lock()
	c.state = state
	c.lastUpdate = time.Now()
	c.lastErr = err
	c.mu.Unlock()

	c.metrics.observeCycle(state)
	if err != nil {
		c.logger.Debug("update cycle failed",
			"serial", c.device.Serial().String(),
			"host", c.device.Host(),
			"state", state.String(),
			"error", err,
		)
	}

	c.notify(UpdateResult{Snapshot: c.Snapshot(), State: state, Err: err, At: time.Now()})
	c.setState(StateIdle)
	return err
}

// update fetches everything the device's features call for.
func (c *Coordinator) update(ctx context.Context) error {
	if _, err := c.call(ctx, GetColor()); err != nil {
		return err
	}

	firmwareKnown, productKnown, groupKnown, labelKnown := c.device.identityKnown()
	if !firmwareKnown {
		if _, err := c.call(ctx, GetHostFirmware()); err != nil {
			return err
		}
	}
	if !productKnown {
		if _, err := c.call(ctx, GetVersion()); err != nil {
			return err
		}
	}
	if !groupKnown {
		if _, err := c.call(ctx, GetGroup()); err != nil {
			return err
		}
	}
	if !labelKnown {
		if _, err := c.call(ctx, GetLabel()); err != nil {
			return err
		}
	}

	features := c.device.Features()
	multizone := features.Multizone || features.ExtendedMultizone
	if multizone {
		if err := c.refreshZones(ctx, features); err != nil {
			return err
		}
		if _, err := c.call(ctx, GetMultiZoneEffect()); err != nil {
			return err
		}
	}
	if features.HEV {
		if _, err := c.call(ctx, GetHevCycle()); err != nil {
			return err
		}
	}
	if features.Infrared {
		if _, err := c.call(ctx, GetInfrared()); err != nil {
			return err
		}
	}
	if c.rssiEnabled() {
		if err := c.updateRSSI(ctx); err != nil {
			return err
		}
	}

	if multizone {
		effect := FirmwareEffectOff
		if e := c.device.Effect(); e != nil {
			effect = firmwareEffectFromName(e.Effect)
		}
		c.mu.Lock()
		c.activeEffect = effect
		c.mu.Unlock()
	}
	return nil
}

// refreshZones reads all zone colours, in one extended frame where the
// device supports it and in pages of eight otherwise.
func (c *Coordinator) refreshZones(ctx context.Context, features Features) error {
	if features.ExtendedMultizone {
		_, err := c.call(ctx, GetExtendedColorZones())
		return err
	}
	return c.fetchColorZones(ctx)
}

// fetchColorZones pages through the legacy zone reads until the reported
// count is covered. A start that would leave a single-zone tail is moved
// back by one, since a one-zone range is answered with StateZone instead of
// StateMultiZone.
func (c *Coordinator) fetchColorZones(ctx context.Context) error {
	zone, top := 0, 1
	for zone < top {
		msg, err := c.call(ctx, GetColorZones(uint8(zone), uint8(min(zone+multiZoneBatch-1, 255)))) //nolint:gosec // zone < 256
		if err != nil {
			return err
		}

		count := c.device.ZonesCount()
		switch r := msg.Response.(type) {
		case StateMultiZone:
			count = int(r.Count)
		case StateZone:
			count = int(r.Count)
		}
		if count == 0 {
			return nil
		}

		zone += multiZoneBatch
		top = count
		if zone == top-1 {
			zone--
		}
	}
	return nil
}

func (c *Coordinator) updateRSSI(ctx context.Context) error {
	msg, err := c.call(ctx, GetWifiInfo())
	if err != nil {
		return err
	}
	if info, ok := msg.Response.(StateWifiInfo); ok {
		c.mu.Lock()
		c.rssi = SignalToRSSI(info.Signal)
		c.mu.Unlock()
	}
	return nil
}

// call sends one request through the coordinator-wide bound, merges the
// response into the device record and applies the soft disconnect policy
// to a request that got no response.
func (c *Coordinator) call(ctx context.Context, req Request) (Message, error) {
	if c.closed.Load() {
		return Message{}, ErrClosed
	}
	if err := c.limiter.acquire(ctx); err != nil {
		return Message{}, err
	}
	defer c.limiter.release()

	start := time.Now()
	msg, err := c.sender.Send(ctx, req)
	c.metrics.observeRequest(req.Type, err, time.Since(start))

	if err != nil {
		if errors.Is(err, ErrRequestTimeout) {
			return Message{}, c.noResponse(err)
		}
		return Message{}, err
	}

	if !c.device.applyResponse(msg.Header.Target, msg.Response) {
		if u, ok := msg.Response.(UnknownResponse); ok {
			c.logger.Debug("no handler for response", "type", u.Type.String(), "request", req.Type.String())
		}
	}
	c.responded()
	return msg, nil
}

// noResponse counts a soft disconnect while discovery still believes the
// device is reachable and escalates once the count passes the threshold.
func (c *Coordinator) noResponse(cause error) error {
	serial := c.device.Serial()
	if !c.isConnected(serial) {
		return cause
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.softDisconnects++
	count := c.softDisconnects
	c.armResetLocked()
	c.metrics.softDisconnect()

	label, _ := c.device.Label()
	c.logger.Warn("soft disconnect",
		"serial", serial.String(),
		"label", label,
		"host", c.device.Host(),
		"count", count,
	)

	if count > softDisconnectThreshold {
		c.softDisconnects = 0
		if c.resetTimer != nil {
			c.resetTimer.Stop()
			c.resetTimer = nil
		}
		c.logger.Error("device unavailable after repeated soft disconnects",
			"serial", serial.String(),
			"label", label,
			"host", c.device.Host(),
		)
		return fmt.Errorf("%w: %s (%s): %w", ErrUpdateFailed, label, c.device.Host(), cause)
	}
	return fmt.Errorf("%w (%d of %d): %w", ErrSoftDisconnect, count, softDisconnectThreshold, cause)
}

// responded handles a successful response. Every answer refreshes
// discovery's liveness for the device, so a device that is polled but
// never seen by broadcast still ages out only when it stops answering.
// A device discovery had given up on is reachable again and its soft
// disconnect count starts over.
func (c *Coordinator) responded() {
	if c.connectivity == nil {
		return
	}
	serial := c.device.Serial()
	wasConnected := c.connectivity.IsConnected(serial)
	c.connectivity.MarkSeen(serial)
	if wasConnected {
		return
	}

	c.resetSoftDisconnects()
	c.logger.Debug("reconnected", "serial", serial.String(), "host", c.device.Host())
}

func (c *Coordinator) isConnected(serial Serial) bool {
	if c.connectivity == nil {
		return true
	}
	return c.connectivity.IsConnected(serial)
}

// ConnectivityChanged is called by discovery when reachability flips. A
// device coming back clears the soft disconnect count immediately.
func (c *Coordinator) ConnectivityChanged(connected bool) {
	if connected {
		c.resetSoftDisconnects()
	}
}

// armResetLocked restarts the quiet period after which the soft disconnect
// count is cleared. A timer that already fired for an older failure finds a
// newer generation and leaves the count alone. Caller holds c.mu.
func (c *Coordinator) armResetLocked() {
	if c.resetTimer != nil {
		c.resetTimer.Stop()
	}
	c.resetGen++
	gen := c.resetGen
	c.resetTimer = time.AfterFunc(c.cfg.DisconnectReset, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.resetGen != gen {
			return
		}
		c.softDisconnects = 0
		c.resetTimer = nil
	})
}

func (c *Coordinator) resetSoftDisconnects() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.softDisconnects = 0
	if c.resetTimer != nil {
		c.resetTimer.Stop()
		c.resetTimer = nil
	}
}

// SoftDisconnects returns the current soft disconnect count.
func (c *Coordinator) SoftDisconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.softDisconnects
}

func (c *Coordinator) setState(s CycleState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the current poll cycle state.
func (c *Coordinator) State() CycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastUpdate returns when the last cycle finished and its error.
func (c *Coordinator) LastUpdate() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate, c.lastErr
}

func (c *Coordinator) notify(result UpdateResult) {
	c.mu.Lock()
	listeners := make([]UpdateListener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		c.safeNotify(fn, result)
	}
}

func (c *Coordinator) safeNotify(fn UpdateListener, result UpdateResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("update listener panic", "serial", result.Snapshot.Serial, "panic", r)
		}
	}()
	fn(result)
}

// EnableRSSI opts into wifi signal polling. It is reference counted; the
// returned function drops this reference and is a no-op after the first
// call.
func (c *Coordinator) EnableRSSI() (disable func()) {
	c.mu.Lock()
	c.rssiRefs++
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.rssiRefs--
			c.mu.Unlock()
		})
	}
}

func (c *Coordinator) rssiEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rssiRefs > 0
}
