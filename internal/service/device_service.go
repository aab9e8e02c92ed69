package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	fc "facility_console"
	"facility_console/internal/gateway"
	"facility_console/internal/repository"
)

// DeviceService serves device reads from the repository and routes raw
// patches through the gateway so server-side validation applies exactly
// once, no matter which console instance originates the write.
type DeviceService struct {
	devices repository.DeviceRepo
	gw      gateway.Gateway
}

func NewDeviceService(devices repository.DeviceRepo, gw gateway.Gateway) *DeviceService {
	return &DeviceService{devices: devices, gw: gw}
}

var (
	errMissingID      = errors.New("device id is required")
	errMissingScope   = errors.New("device scope is required")
	errUnknownKind    = errors.New("unknown device kind")
	errTargetNoRange  = errors.New("device kind has no setpoint")
	errTargetOutRange = errors.New("target value outside the kind's legal range")
)

// List returns every device of one administrative scope.
func (s *DeviceService) List(ctx context.Context, scope string) ([]fc.Device, error) {
	return s.devices.ListByScope(ctx, scope)
}

// Get returns one device. Repository not-found maps through unchanged so
// handlers can translate it.
func (s *DeviceService) Get(ctx context.Context, id string) (fc.Device, error) {
	return s.devices.GetByID(ctx, id)
}

// Register validates and persists a new device record with normalized
// defaults.
func (s *DeviceService) Register(ctx context.Context, d fc.Device) (fc.Device, error) {
	if d.ID == "" {
		return fc.Device{}, errMissingID
	}
	if d.Scope == "" {
		return fc.Device{}, errMissingScope
	}
	if !knownKind(d.Kind) {
		return fc.Device{}, fmt.Errorf("%w: %q", errUnknownKind, d.Kind)
	}
	if err := validateTarget(d); err != nil {
		return fc.Device{}, err
	}

	if d.Power == "" {
		d.Power = fc.PowerOff
	}
	if d.Maintenance == "" {
		d.Maintenance = fc.MaintenanceFunctional
	}
	if d.Connectivity == "" {
		d.Connectivity = fc.ConnectivityWired
	}
	d.Durability = fc.ClampDurability(d.Durability)
	d.UpdatedAt = time.Now().UTC()

	if err := s.devices.Save(ctx, d); err != nil {
		return fc.Device{}, err
	}
	return d, nil
}

// Patch applies a partial update through the gateway.
func (s *DeviceService) Patch(ctx context.Context, id string, p fc.DevicePatch) (fc.Device, error) {
	return s.gw.PatchDevice(ctx, id, p)
}

func knownKind(k fc.DeviceKind) bool {
	switch k {
	case fc.KindDoor, fc.KindLight, fc.KindCamera, fc.KindThermostat, fc.KindVentilation, fc.KindDisplayPanel:
		return true
	}
	return false
}

func validateTarget(d fc.Device) error {
	min, max, ok := d.Kind.ValueRange()
	if !ok {
		if d.TargetValue != 0 {
			return errTargetNoRange
		}
		return nil
	}
	if d.TargetValue == 0 {
		// unset; the operator sets it later through the command surface
		return nil
	}
	if d.TargetValue < min || d.TargetValue > max {
		return fmt.Errorf("%w: %.1f not in [%.0f, %.0f]", errTargetOutRange, d.TargetValue, min, max)
	}
	return nil
}
