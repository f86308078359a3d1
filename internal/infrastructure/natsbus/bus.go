package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/config"
)

const (
	defaultPrefix = "lifx"

	// flushTimeout bounds the flush on Close.
	flushTimeout = 2 * time.Second

	reconnectWait = 2 * time.Second
)

// Subject suffixes below the prefix.
const (
	SubjectDeviceRegistered = "device.registered"
	subjectDeviceState      = "device.state"
	subjectRequest          = "request"
)

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// conn is the subset of *nats.Conn used by Bus. Tests substitute a fake.
type conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	FlushTimeout(timeout time.Duration) error
	IsConnected() bool
	Close()
}

// Bus publishes bridge events to NATS.
//
// Thread Safety: All methods are safe for concurrent use.
type Bus struct {
	nc     conn
	prefix string
	logger Logger

	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// DeviceRegistered is the payload of <prefix>.device.registered.
type DeviceRegistered struct {
	Serial    string    `json:"serial"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceState is the payload of <prefix>.device.state.<serial>.
type DeviceState struct {
	Serial    string         `json:"serial"`
	Available bool           `json:"available"`
	State     map[string]any `json:"state,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Connect dials the NATS server in cfg.
//
// The initial connection is retried in the background, so Connect only
// fails for an unusable URL or option set.
//
// Parameters:
//   - cfg: NATS configuration from config.yaml
//   - logger: Optional logger for connection events (may be nil)
//
// Returns:
//   - *Bus: Bus ready for publishing
//   - error: ErrConnectionFailed wrapping the client error
func Connect(cfg config.NATSConfig, logger Logger) (*Bus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
	}
	if logger != nil {
		opts = append(opts,
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("NATS disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
			}),
			nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
				subject := ""
				if sub != nil {
					subject = sub.Subject
				}
				logger.Error("NATS async error", "subject", subject, "error", err)
			}),
		)
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return newBus(nc, cfg.SubjectPrefix, logger), nil
}

func newBus(nc conn, prefix string, logger Logger) *Bus {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Bus{nc: nc, prefix: prefix, logger: logger}
}

// Subject joins the prefix and the given tokens with '.'.
func (b *Bus) Subject(tokens ...string) string {
	return strings.Join(append([]string{b.prefix}, tokens...), ".")
}

// StateSubject returns the state subject of a device.
func (b *Bus) StateSubject(serial string) string {
	return b.Subject(subjectDeviceState, SerialToken(serial))
}

// SerialToken strips separators from a serial so it is a single subject token.
func SerialToken(serial string) string {
	return strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(serial))
}

// PublishDeviceRegistered publishes a registration event.
func (b *Bus) PublishDeviceRegistered(ev DeviceRegistered) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return b.PublishJSON(b.Subject(SubjectDeviceRegistered), ev)
}

// PublishDeviceState publishes a state event on the device's subject.
func (b *Bus) PublishDeviceState(ev DeviceState) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return b.PublishJSON(b.StateSubject(ev.Serial), ev)
}

// PublishJSON encodes v and publishes it on subject.
func (b *Bus) PublishJSON(subject string, v any) error {
	if err := validateSubject(subject); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublishFailed, subject, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrNotConnected
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, subject, err)
	}
	return nil
}

// RequestHandler answers a request. The returned value is sent back as
// JSON; an error is sent as {"error": "..."}.
type RequestHandler func(data []byte) (any, error)

// HandleRequest subscribes fn to <prefix>.request.<name> and replies to
// each message that carries a reply subject.
func (b *Bus) HandleRequest(name string, fn RequestHandler) error {
	subject := b.Subject(subjectRequest, name)
	if err := validateSubject(subject); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrNotConnected
	}

	_, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		b.reply(msg, fn)
	})
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", subject, err)
	}
	return nil
}

func (b *Bus) reply(msg *nats.Msg, fn RequestHandler) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("NATS request handler panic recovered", "subject", msg.Subject, "panic", r)
		}
	}()

	if msg.Reply == "" {
		return
	}

	result, err := fn(msg.Data)
	if err != nil {
		result = map[string]string{"error": err.Error()}
	}

	data, err := json.Marshal(result)
	if err != nil {
		data = []byte(`{"error":"encoding reply failed"}`)
	}
	if err := b.nc.Publish(msg.Reply, data); err != nil && b.logger != nil {
		b.logger.Warn("NATS reply failed", "subject", msg.Subject, "error", err)
	}
}

// IsConnected reports whether the client currently has a server connection.
func (b *Bus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed && b.nc.IsConnected()
}

// HealthCheck returns ErrNotConnected while there is no server connection.
func (b *Bus) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("nats health check: %w", ctx.Err())
	default:
	}
	if !b.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close flushes pending events and closes the connection. Safe to call
// more than once.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true

		if b.nc.IsConnected() {
			if ferr := b.nc.FlushTimeout(flushTimeout); ferr != nil {
				err = fmt.Errorf("flushing nats: %w", ferr)
			}
		}
		b.nc.Close()
	})
	return err
}

func validateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	for _, token := range strings.Split(subject, ".") {
		if token == "" || strings.ContainsAny(token, " \t\r\n*>") {
			return fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
		}
	}
	return nil
}
