package repository

import (
	"context"
	"database/sql"
	"time"

	fc "facility_console"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*fc.User, error)
}

type DeviceRepo interface {
	ListByScope(ctx context.Context, scope string) ([]fc.Device, error)
	GetByID(ctx context.Context, id string) (fc.Device, error)
	Save(ctx context.Context, d fc.Device) error
}

type EventRepo interface {
	Append(ctx context.Context, e fc.DeviceEvent) error
	List(ctx context.Context, from, to time.Time, typ, deviceID string) ([]fc.DeviceEvent, error)
}

type Repository struct {
	DeviceRepo DeviceRepo
	EventRepo  EventRepo
	Auth       Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		DeviceRepo: NewDeviceSQLite(db),
		EventRepo:  NewEventSQLite(db),
		Auth:       NewUserRepository(db),
	}
}
