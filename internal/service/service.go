package service

import (
	"context"
	"time"

	fc "facility_console"
	"facility_console/internal/gateway"
	"facility_console/internal/repository"
	"facility_console/internal/scheduler"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Devices exposes the read side of the device fleet plus raw patching
// through the persistence gateway.
type Devices interface {
	List(ctx context.Context, scope string) ([]fc.Device, error)
	Get(ctx context.Context, id string) (fc.Device, error)
	Register(ctx context.Context, d fc.Device) (fc.Device, error)
	Patch(ctx context.Context, id string, p fc.DevicePatch) (fc.Device, error)
}

// Control is the scheduler's operator command surface.
type Control interface {
	Repair(ctx context.Context, deviceID string) error
	SetTarget(ctx context.Context, deviceID string, value float64) error
	SetPower(ctx context.Context, deviceID string, power fc.PowerState) error
	RepairStatus(deviceID string) (scheduler.RepairStatus, bool)
	Device(deviceID string) (fc.Device, bool)
	Subscribe(fn func(fc.Device)) (unsubscribe func())
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]fc.DeviceEvent, error)
}

// LogFilter narrows event queries by time range, type and device.
type LogFilter struct {
	From     time.Time // inclusive; zero means no lower bound
	To       time.Time // inclusive; zero means no upper bound
	Type     string    // "", "AUTO_SHUTDOWN", "REPAIR_STARTED", "REPAIR_COMPLETED", "TARGET_CHANGE", "POWER_CHANGE", "SYNC_ERROR"
	DeviceID string    // "" means all devices
}

type Service struct {
	Devices
	EventLog
	Control
	Authorization
}

// NewService wires the repository and gateway layers into concrete services.
// The scheduler instance doubles as the Control surface.
func NewService(repos *repository.Repository, gw gateway.Gateway, sched *scheduler.Scheduler, signingKey string) *Service {
	return &Service{
		Devices:       NewDeviceService(repos.DeviceRepo, gw),
		EventLog:      NewEventLogService(repos.EventRepo),
		Control:       sched,
		Authorization: NewAuthService(repos.Auth, signingKey),
	}
}
