package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByOwner retrieves the devices owned by one user.
	ListByOwner(ctx context.Context, ownerID string) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateStatus writes the status mirror, last-seen time and any
	// non-nil telemetry fields.
	UpdateStatus(ctx context.Context, id string, status dispatch.Status, lastSeen time.Time, patch StatusPatch) error

	// UpdateOwner reassigns the device.
	UpdateOwner(ctx context.Context, id, ownerID string) error

	// UpdateTokenHash replaces the stored credential hash.
	UpdateTokenHash(ctx context.Context, id, tokenHash string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
		SELECT id, name, owner_id, token_hash, status, battery_level,
			signal_strength, last_seen, created_at, updated_at
		FROM devices`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+` WHERE id = ?`, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` ORDER BY name, id`)
}

// ListByOwner retrieves the devices owned by one user.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` WHERE owner_id = ? ORDER BY name, id`, ownerID)
}

// Create inserts a new device. New devices start offline.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	device.CreatedAt = now.Truncate(time.Second)
	device.UpdatedAt = device.CreatedAt
	if device.Status == "" {
		device.Status = dispatch.StatusOffline
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, owner_id, token_hash, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		device.ID, device.Name, device.OwnerID, device.TokenHash, string(device.Status),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return expectOneRow(result)
}

// UpdateStatus writes the status mirror. COALESCE keeps the stored reading
// when the patch leaves a field nil.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status dispatch.Status, lastSeen time.Time, patch StatusPatch) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			status = ?,
			last_seen = ?,
			battery_level = COALESCE(?, battery_level),
			signal_strength = COALESCE(?, signal_strength),
			updated_at = ?
		WHERE id = ?`,
		string(status),
		lastSeen.UTC().Format(time.RFC3339),
		nullableInt(patch.BatteryLevel),
		nullableInt(patch.SignalStrength),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return expectOneRow(result)
}

// UpdateOwner reassigns the device.
func (r *SQLiteRepository) UpdateOwner(ctx context.Context, id, ownerID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET owner_id = ?, updated_at = ? WHERE id = ?`,
		ownerID, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating device owner: %w", err)
	}
	return expectOneRow(result)
}

// UpdateTokenHash replaces the stored credential hash.
func (r *SQLiteRepository) UpdateTokenHash(ctx context.Context, id, tokenHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET token_hash = ?, updated_at = ? WHERE id = ?`,
		tokenHash, time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating device token: %w", err)
	}
	return expectOneRow(result)
}

// queryDevices executes a query and scans all resulting rows.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
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

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var (
		d                    Device
		status               string
		battery, signal      sql.NullInt64
		lastSeen             sql.NullString
		createdAt, updatedAt string
	)

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.OwnerID,
		&d.TokenHash,
		&status,
		&battery,
		&signal,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = dispatch.Status(status)
	if battery.Valid {
		v := int(battery.Int64)
		d.BatteryLevel = &v
	}
	if signal.Valid {
		v := int(signal.Int64)
		d.SignalStrength = &v
	}
	if lastSeen.Valid {
		if t, err := time.Parse(time.RFC3339, lastSeen.String); err == nil {
			d.LastSeen = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	return &d, nil
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// nullableInt returns a sql.NullInt64 for optional integer pointers.
func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
