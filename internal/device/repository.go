package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Upsert inserts the device or updates the existing row with the same
	// serial. Empty identity fields do not overwrite stored values, and a
	// static device stays static when rediscovered.
	Upsert(ctx context.Context, device *Device) error

	// Get retrieves a device by serial.
	// Returns ErrDeviceNotFound if the device does not exist.
	Get(ctx context.Context, serial string) (*Device, error)

	// List retrieves all devices ordered by serial.
	List(ctx context.Context) ([]Device, error)

	// Delete removes a device and its state history.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, serial string) error

	// TouchLastSeen records that the device answered at the given time.
	// Returns ErrDeviceNotFound if the device does not exist.
	TouchLastSeen(ctx context.Context, serial string, at time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with migrations applied.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDeviceColumns = `
	SELECT serial, host, port, label, grp, product_id, model, firmware, source,
		created_at, updated_at, last_seen
	FROM lifx_devices`

// Upsert inserts or updates a device keyed by serial.
func (r *SQLiteRepository) Upsert(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO lifx_devices (serial, host, port, label, grp, product_id, model, firmware, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			host       = excluded.host,
			port       = excluded.port,
			label      = CASE WHEN excluded.label != '' THEN excluded.label ELSE lifx_devices.label END,
			grp        = CASE WHEN excluded.grp != '' THEN excluded.grp ELSE lifx_devices.grp END,
			product_id = CASE WHEN excluded.product_id != 0 THEN excluded.product_id ELSE lifx_devices.product_id END,
			model      = CASE WHEN excluded.model != '' THEN excluded.model ELSE lifx_devices.model END,
			firmware   = CASE WHEN excluded.firmware != '' THEN excluded.firmware ELSE lifx_devices.firmware END,
			source     = CASE WHEN lifx_devices.source = 'static' THEN 'static' ELSE excluded.source END,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		device.Serial,
		device.Host,
		device.Port,
		device.Label,
		device.Group,
		int64(device.ProductID),
		device.Model,
		device.Firmware,
		string(device.Source),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// Get retrieves a device by serial.
func (r *SQLiteRepository) Get(ctx context.Context, serial string) (*Device, error) {
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, selectDeviceColumns+` WHERE serial = ?`, serial)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by serial: %w", err)
	}
	return device, nil
}

// List retrieves all devices ordered by serial.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDeviceColumns+` ORDER BY serial`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Delete removes a device by serial.
func (r *SQLiteRepository) Delete(ctx context.Context, serial string) error {
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM lifx_devices WHERE serial = ?", serial)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireOneRow(result)
}

// TouchLastSeen sets last_seen for a device.
func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, serial string, at time.Time) error {
	serial, err := NormalizeSerial(serial)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		"UPDATE lifx_devices SET last_seen = ? WHERE serial = ?",
		at.UTC().Format(time.RFC3339),
		serial,
	)
	if err != nil {
		return fmt.Errorf("updating last seen: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var productID int64
	var source, createdAt, updatedAt string
	var lastSeen sql.NullString

	err := scanner.Scan(
		&d.Serial,
		&d.Host,
		&d.Port,
		&d.Label,
		&d.Group,
		&productID,
		&d.Model,
		&d.Firmware,
		&source,
		&createdAt,
		&updatedAt,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	d.ProductID = uint32(productID) //nolint:gosec // Stored from a uint32
	d.Source = Source(source)

	var parseErr error
	if d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	if lastSeen.Valid {
		if t, err := time.Parse(time.RFC3339, lastSeen.String); err == nil {
			d.LastSeen = &t
		}
	}

	return &d, nil
}

// Ensure SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)
