package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists the device inventory.
type Repository interface {
	// GetByID returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByName returns ErrDeviceNotFound if no device has that name.
	GetByName(ctx context.Context, name string) (*Device, error)

	// List returns all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create returns ErrDeviceExists on a duplicate ID or name.
	Create(ctx context.Context, device *Device) error

	// Update returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository on the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `
	id, name, address, username, device_family, platform, os_version,
	computer_name, requires_https, certificate, last_status, last_phase,
	last_error, last_http_status, last_connected_at, created_at, updated_at`

// GetByID retrieves a device by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetByName retrieves a device by its unique name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE name = ?`, name)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by name: %w", err)
	}
	return d, nil
}

// List retrieves all devices ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a device, stamping CreatedAt and UpdatedAt.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Platform == "" {
		d.Platform = "Unknown"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		deviceArgs(d)...,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update overwrites every column except id and created_at.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	cols := deviceArgs(d)
	// SET takes name..last_connected_at then updated_at; id goes last.
	args := make([]any, 0, len(cols))
	args = append(args, cols[1:15]...)
	args = append(args, cols[16], d.ID)

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, address = ?, username = ?, device_family = ?, platform = ?,
			os_version = ?, computer_name = ?, requires_https = ?, certificate = ?,
			last_status = ?, last_phase = ?, last_error = ?, last_http_status = ?,
			last_connected_at = ?, updated_at = ?
		WHERE id = ?`,
		args...,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}
	return expectOneRow(result)
}

// Delete removes a device.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return expectOneRow(result)
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

// deviceArgs returns values in deviceColumns order.
func deviceArgs(d *Device) []any {
	var lastConnected any
	if d.LastConnectedAt != nil {
		lastConnected = d.LastConnectedAt.UTC().Format(time.RFC3339)
	}
	var cert any
	if len(d.Certificate) > 0 {
		cert = d.Certificate
	}
	return []any{
		d.ID, d.Name, d.Address, d.Username, d.DeviceFamily, d.Platform, d.OSVersion,
		d.ComputerName, boolToInt(d.RequiresHTTPS), cert, d.LastStatus, d.LastPhase,
		d.LastError, d.LastHTTPStatus, lastConnected,
		d.CreatedAt.UTC().Format(time.RFC3339), d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var requiresHTTPS int
	var lastConnected sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID, &d.Name, &d.Address, &d.Username, &d.DeviceFamily, &d.Platform, &d.OSVersion,
		&d.ComputerName, &requiresHTTPS, &d.Certificate, &d.LastStatus, &d.LastPhase,
		&d.LastError, &d.LastHTTPStatus, &lastConnected, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.RequiresHTTPS = requiresHTTPS != 0
	if lastConnected.Valid {
		if t, err := time.Parse(time.RFC3339, lastConnected.String); err == nil {
			d.LastConnectedAt = &t
		}
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by deviceArgs
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by deviceArgs
	return &d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
