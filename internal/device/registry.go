package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache keyed by serial.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by every write that goes through the Registry.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].Serial] = devices[i].Clone()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// RegisterDevice upserts a device and returns the stored record.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - dev: Device to store; its serial is normalised
//
// Returns:
//   - *Device: The row as stored, with merged identity fields and timestamps
//   - error: ErrInvalidDevice/ErrInvalidSerial on validation failure, or the
//     underlying persistence error
func (r *Registry) RegisterDevice(ctx context.Context, dev Device) (*Device, error) {
	if err := r.repo.Upsert(ctx, &dev); err != nil {
		return nil, err
	}

	stored, err := r.repo.Get(ctx, dev.Serial)
	if err != nil {
		return nil, fmt.Errorf("reloading device: %w", err)
	}

	r.cacheMu.Lock()
	_, known := r.cache[stored.Serial]
	r.cache[stored.Serial] = stored.Clone()
	r.cacheMu.Unlock()

	if !known {
		r.logger.Info("device registered", "serial", stored.Serial, "host", stored.Host)
	}
	return stored, nil
}

// GetDevice retrieves a device by serial.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, serial string) (*Device, error) {
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return nil, err
	}

	r.cacheMu.RLock()
	cached, ok := r.cache[serial]
	r.cacheMu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	dev, err := r.repo.Get(ctx, serial)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[serial] = dev.Clone()
	r.cacheMu.Unlock()
	return dev, nil
}

// ListDevices returns all cached devices ordered by serial, falling back
// to the repository while the cache is empty.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) == 0 {
		r.cacheMu.RUnlock()
		return r.repo.List(ctx)
	}
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.Clone())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Serial < devices[j].Serial
	})
	return devices, nil
}

// DeleteDevice removes a device from the repository and the cache.
func (r *Registry) DeleteDevice(ctx context.Context, serial string) error {
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return err
	}
	if err := r.repo.Delete(ctx, serial); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, serial)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "serial", serial)
	return nil
}

// MarkSeen records a successful poll of the device.
func (r *Registry) MarkSeen(ctx context.Context, serial string, at time.Time) error {
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return err
	}
	if err := r.repo.TouchLastSeen(ctx, serial, at); err != nil {
		return err
	}

	at = at.UTC().Truncate(time.Second)
	r.cacheMu.Lock()
	if d, ok := r.cache[serial]; ok {
		d.LastSeen = &at
	}
	r.cacheMu.Unlock()
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
