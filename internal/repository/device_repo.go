package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	fc "facility_console"
)

// ErrDeviceNotFound is returned when a device id has no row.
var ErrDeviceNotFound = errors.New("device not found")

type DeviceSQLite struct {
	db *sql.DB
}

func NewDeviceSQLite(db *sql.DB) *DeviceSQLite {
	return &DeviceSQLite{db: db}
}

// Ensure implementation of DeviceRepo interface at compile time.
var _ DeviceRepo = (*DeviceSQLite)(nil)

const (
	upsertDeviceSQL = `
		INSERT INTO devices (id, scope, kind, name, power, current_value, target_value, display_text, durability, maintenance, connectivity, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scope=excluded.scope,
			kind=excluded.kind,
			name=excluded.name,
			power=excluded.power,
			current_value=excluded.current_value,
			target_value=excluded.target_value,
			display_text=excluded.display_text,
			durability=excluded.durability,
			maintenance=excluded.maintenance,
			connectivity=excluded.connectivity,
			updated_at=excluded.updated_at
	`

	selectDeviceColumns = `id, scope, kind, name, power, current_value, target_value, display_text, durability, maintenance, connectivity, updated_at`

	selectDeviceByIDSQL  = `SELECT ` + selectDeviceColumns + ` FROM devices WHERE id=?`
	selectDevicesByScope = `SELECT ` + selectDeviceColumns + ` FROM devices WHERE scope=? ORDER BY id ASC`
)

// Save upserts a device row. Durability is clamped and UpdatedAt is
// normalized to UTC (set if zero) before persistence.
func (r *DeviceSQLite) Save(ctx context.Context, d fc.Device) error {
	d.Durability = fc.ClampDurability(d.Durability)

	tsUTC := d.UpdatedAt
	if tsUTC.IsZero() {
		tsUTC = time.Now().UTC()
	} else {
		tsUTC = tsUTC.UTC()
	}

	_, err := r.db.ExecContext(ctx, upsertDeviceSQL,
		d.ID,
		d.Scope,
		string(d.Kind),
		d.Name,
		string(d.Power),
		d.CurrentValue,
		d.TargetValue,
		d.DisplayText,
		d.Durability,
		string(d.Maintenance),
		string(d.Connectivity),
		tsUTC,
	)
	return err
}

// GetByID fetches one device row or ErrDeviceNotFound.
func (r *DeviceSQLite) GetByID(ctx context.Context, id string) (fc.Device, error) {
	row := r.db.QueryRowContext(ctx, selectDeviceByIDSQL, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fc.Device{}, ErrDeviceNotFound
		}
		return fc.Device{}, err
	}
	return d, nil
}

// ListByScope fetches every device in an administrative scope, ordered by id.
func (r *DeviceSQLite) ListByScope(ctx context.Context, scope string) ([]fc.Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevicesByScope, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]fc.Device, 0, 32)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (fc.Device, error) {
	var (
		d                        fc.Device
		kind, power, maint, conn string
	)
	if err := row.Scan(
		&d.ID,
		&d.Scope,
		&kind,
		&d.Name,
		&power,
		&d.CurrentValue,
		&d.TargetValue,
		&d.DisplayText,
		&d.Durability,
		&maint,
		&conn,
		&d.UpdatedAt,
	); err != nil {
		return fc.Device{}, err
	}
	d.Kind = fc.DeviceKind(kind)
	d.Power = fc.PowerState(power)
	d.Maintenance = fc.MaintenanceState(maint)
	d.Connectivity = fc.Connectivity(conn)
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}
