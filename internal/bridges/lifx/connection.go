package lifx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Default request timing, matching what LIFX devices tolerate on a busy LAN.
const (
	// DefaultMessageTimeout is how long to wait before retransmitting.
	DefaultMessageTimeout = 500 * time.Millisecond

	// DefaultRetryCount is the number of transmissions per request.
	DefaultRetryCount = 3

	// DefaultOverallTimeout caps a request including queueing.
	DefaultOverallTimeout = 9 * time.Second

	// defaultConnectionInFlight bounds outstanding requests per socket.
	defaultConnectionInFlight = 4

	// readBufferSize fits the largest catalog message (extended zones).
	readBufferSize = 2048
)

// ConnectionConfig holds per-device transport settings.
type ConnectionConfig struct {
	// Port is the device UDP port. Default: 56700.
	Port int

	// MessageTimeout is the retransmission interval. Default: 500ms.
	MessageTimeout time.Duration

	// RetryCount is the number of transmissions before giving up. Default: 3.
	RetryCount int

	// OverallTimeout caps a single Send. Default: 9s.
	OverallTimeout time.Duration

	// MaxInFlight bounds concurrent requests on the socket. Default: 4.
	MaxInFlight int64

	// Source identifies this client in every header. Devices echo it.
	// Default: derived from a random UUID.
	Source uint32
}

func (c ConnectionConfig) withDefaults() ConnectionConfig {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.MessageTimeout <= 0 {
		c.MessageTimeout = DefaultMessageTimeout
	}
	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = DefaultOverallTimeout
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = defaultConnectionInFlight
	}
	if c.Source == 0 {
		c.Source = NewSource()
	}
	return c
}

// ConnectionStats holds transport statistics.
type ConnectionStats struct {
	Sent          uint64 `json:"sent"`
	Retransmits   uint64 `json:"retransmits"`
	Received      uint64 `json:"received"`
	Timeouts      uint64 `json:"timeouts"`
	Late          uint64 `json:"late"`    // responses with no pending request
	Invalid       uint64 `json:"invalid"` // undecodable datagrams
	Reconnects    uint64 `json:"reconnects"`
	Pending       int    `json:"pending"`
	MustReconnect bool   `json:"must_reconnect"`
}

// Connection owns the UDP transport to one device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - At most MaxInFlight requests are outstanding at a time.
//
// Reconnection:
//   - A request that times out flags the connection; the socket is closed
//     and reopened at the start of the next Send, never immediately.
//   - Responses that arrive after their request gave up are counted as
//     late and discarded so they cannot resolve a newer request.
type Connection struct {
	host string
	cfg  ConnectionConfig
	sem  *semaphore.Weighted

	mu            sync.Mutex
	conn          *net.UDPConn
	mustReconnect bool
	target        Serial
	nextSeq       uint8
	pending       map[uint8]*resultSlot
	wg            sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	sent        atomic.Uint64
	retransmits atomic.Uint64
	received    atomic.Uint64
	timeouts    atomic.Uint64
	late        atomic.Uint64
	invalid     atomic.Uint64
	reconnects  atomic.Uint64
}

// NewConnection creates a connection to host. Pass WildcardSerial when the
// serial is not known; the first response with a concrete target sets it.
// The socket is opened lazily by Open or the first Send.
func NewConnection(host string, serial Serial, cfg ConnectionConfig) *Connection {
	cfg = cfg.withDefaults()
	return &Connection{
		host:    host,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		target:  serial,
		pending: make(map[uint8]*resultSlot),
	}
}

// SetLogger sets the logger for the connection.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

// Host returns the device host.
func (c *Connection) Host() string {
	return c.host
}

// Addr returns host:port.
func (c *Connection) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.cfg.Port))
}

// Target returns the serial requests are addressed to.
func (c *Connection) Target() Serial {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Open creates the UDP transport if it is not open. It is idempotent.
//
// Returns:
//   - error: wraps ErrSetupFailed if the host cannot be resolved or dialled
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.mustReconnect {
		return nil
	}
	return c.reopenLocked(ctx)
}

func (c *Connection) reopenLocked(ctx context.Context) error {
	wasOpen := c.conn != nil
	c.closeLocked()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp4", c.Addr())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSetupFailed, c.Addr(), err)
	}
	udp, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return fmt.Errorf("%w: %s: unexpected connection type %T", ErrSetupFailed, c.Addr(), conn)
	}

	c.conn = udp
	c.mustReconnect = false
	if wasOpen {
		c.reconnects.Add(1)
		c.logDebug("reconnected", "host", c.host)
	}

	c.wg.Add(1)
	go c.receiveLoop(udp)
	return nil
}

func (c *Connection) closeLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close releases the transport and stops the receive goroutine. It is safe
// to call more than once, and the connection can be reopened afterwards.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// Send transmits req and waits for the first response carrying its sequence
// number. The request is retransmitted every MessageTimeout, up to
// RetryCount transmissions, all within OverallTimeout.
//
// Parameters:
//   - ctx: cancels the wait; a cancelled ctx is returned as-is
//   - req: the request to send
//
// Returns:
//   - Message: the first matching response (state or acknowledgement)
//   - error: ErrSetupFailed if the socket cannot be (re)opened,
//     ErrRequestTimeout if no response arrived
func (c *Connection) Send(ctx context.Context, req Request) (Message, error) {
	if err := c.acquire(ctx); err != nil {
		return Message{}, err
	}
	defer c.sem.Release(1)

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.OverallTimeout)
	defer cancel()

	seq, slot, packet, err := c.register(reqCtx, req)
	if err != nil {
		return Message{}, err
	}

	attempts := 0
	for attempts < c.cfg.RetryCount && reqCtx.Err() == nil {
		if err := c.write(packet); err != nil {
			c.logDebug("write failed", "host", c.host, "type", req.Type.String(), "error", err)
		} else if attempts > 0 {
			c.retransmits.Add(1)
		}
		attempts++

		timer := time.NewTimer(c.cfg.MessageTimeout)
		select {
		case msg := <-slot.done():
			timer.Stop()
			return msg, nil
		case <-timer.C:
		case <-reqCtx.Done():
			timer.Stop()
		}
	}

	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()

	// A response may have raced the deadline.
	select {
	case msg := <-slot.done():
		return msg, nil
	default:
	}

	if ctx.Err() != nil {
		return Message{}, ctx.Err()
	}

	c.mu.Lock()
	c.mustReconnect = true
	c.mu.Unlock()
	c.timeouts.Add(1)

	return Message{}, fmt.Errorf("%w: %s to %s after %d attempts", ErrRequestTimeout, req.Type, c.host, attempts)
}

// acquire takes one of the connection's in-flight slots. While all are
// taken it waits one message timeout before trying again, the time an
// outstanding request needs to be answered or retried.
func (c *Connection) acquire(ctx context.Context) error {
	for !c.sem.TryAcquire(1) {
		timer := time.NewTimer(c.cfg.MessageTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// register opens the transport if needed and records a pending slot under
// a free sequence number.
func (c *Connection) register(ctx context.Context, req Request) (uint8, *resultSlot, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.mustReconnect {
		if err := c.reopenLocked(ctx); err != nil {
			return 0, nil, nil, err
		}
	}

	seq := c.nextSeq
	for range 256 {
		if _, busy := c.pending[c.nextSeq]; !busy {
			seq = c.nextSeq
			break
		}
		c.nextSeq++
	}
	c.nextSeq = seq + 1

	slot := newResultSlot()
	c.pending[seq] = slot

	packet := Packet{
		Header: Header{
			Source:      c.cfg.Source,
			Target:      c.target,
			ResRequired: req.ResRequired,
			AckRequired: req.AckRequired,
			Sequence:    seq,
			Type:        req.Type,
		},
		Payload: req.Payload,
	}
	return seq, slot, packet.Encode(), nil
}

func (c *Connection) write(packet []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrClosed
	}
	if _, err := conn.Write(packet); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

// receiveLoop routes datagrams from conn to pending requests until conn is
// closed.
func (c *Connection) receiveLoop(conn *net.UDPConn) {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP port unreachable surfaces as a read error on a
			// connected UDP socket; the request timeout handles it.
			c.logDebug("read failed", "host", c.host, "error", err)
			continue
		}
		c.handleDatagram(buf[:n])
	}
}

func (c *Connection) handleDatagram(data []byte) {
	packet, err := DecodePacket(data)
	if err != nil {
		c.invalid.Add(1)
		c.logDebug("dropping datagram", "host", c.host, "error", err)
		return
	}
	if packet.Header.Source != c.cfg.Source {
		c.late.Add(1)
		return
	}

	resp, err := DecodeResponse(packet.Header.Type, packet.Payload)
	if err != nil {
		c.invalid.Add(1)
		c.logDebug("dropping response", "host", c.host, "error", err)
		return
	}
	c.received.Add(1)

	c.mu.Lock()
	if c.target.IsWildcard() && !packet.Header.Target.IsWildcard() {
		c.target = packet.Header.Target
	}
	slot := c.pending[packet.Header.Sequence]
	delete(c.pending, packet.Header.Sequence)
	c.mu.Unlock()

	if slot == nil || !slot.resolve(Message{Header: packet.Header, Response: resp}) {
		c.late.Add(1)
		c.logDebug("discarding late response",
			"host", c.host,
			"type", packet.Header.Type.String(),
			"sequence", packet.Header.Sequence,
		)
	}
}

// Stats returns transport statistics.
func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	pending := len(c.pending)
	mustReconnect := c.mustReconnect
	c.mu.Unlock()

	return ConnectionStats{
		Sent:          c.sent.Load(),
		Retransmits:   c.retransmits.Load(),
		Received:      c.received.Load(),
		Timeouts:      c.timeouts.Load(),
		Late:          c.late.Load(),
		Invalid:       c.invalid.Load(),
		Reconnects:    c.reconnects.Load(),
		Pending:       pending,
		MustReconnect: mustReconnect,
	}
}

func (c *Connection) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
