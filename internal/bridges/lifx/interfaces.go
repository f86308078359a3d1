package lifx

import "context"

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// Sender sends one request to a device and returns its first response.
// *Connection implements it; tests substitute fakes.
type Sender interface {
	Send(ctx context.Context, req Request) (Message, error)
}

// Ensure Connection implements Sender.
var _ Sender = (*Connection)(nil)

// Connectivity answers and updates discovery's reachability view of a
// device. *Discovery implements it.
type Connectivity interface {
	IsConnected(serial Serial) bool
	SetConnected(serial Serial, connected bool)
	// MarkSeen reports that the device just answered a request.
	MarkSeen(serial Serial)
}

// Ensure Discovery implements Connectivity.
var _ Connectivity = (*Discovery)(nil)

// Registration is emitted once for each newly discovered device, and again
// when a known device answers from a different address.
type Registration struct {
	Host   string
	Port   int // 0 means DefaultPort
	Serial Serial
}

// Registrar receives registration events from discovery.
type Registrar interface {
	Register(ctx context.Context, reg Registration)
}

// RegistrarFunc adapts a function to Registrar.
type RegistrarFunc func(ctx context.Context, reg Registration)

// Register calls f.
func (f RegistrarFunc) Register(ctx context.Context, reg Registration) {
	f(ctx, reg)
}
