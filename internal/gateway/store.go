package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	fc "facility_console"
	"facility_console/internal/repository"
)

// StoreGateway adapts the local device repository to the Gateway contract.
// It is the in-process flavor of the persistence API: the same validation
// a remote console would apply server-side happens here before the write.
type StoreGateway struct {
	devices repository.DeviceRepo
}

func NewStoreGateway(devices repository.DeviceRepo) *StoreGateway {
	return &StoreGateway{devices: devices}
}

// Ensure implementation of Gateway interface at compile time.
var _ Gateway = (*StoreGateway)(nil)

func (g *StoreGateway) FetchDevices(ctx context.Context, scope string) ([]fc.Device, error) {
	devices, err := g.devices.ListByScope(ctx, scope)
	if err != nil {
		return nil, NewError(KindNetwork, err)
	}
	return devices, nil
}

// PatchDevice loads the row, applies the patch and persists the result.
// A target value outside the kind's legal range is rejected as a
// validation failure; durability is clamped rather than rejected.
func (g *StoreGateway) PatchDevice(ctx context.Context, id string, patch fc.DevicePatch) (fc.Device, error) {
	d, err := g.devices.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return fc.Device{}, NewError(KindNotFound, err)
		}
		return fc.Device{}, NewError(KindNetwork, err)
	}

	if err := validatePatch(d, patch); err != nil {
		return fc.Device{}, NewError(KindValidationFailed, err)
	}

	patch.ApplyTo(&d)
	d.UpdatedAt = time.Now().UTC()

	if err := g.devices.Save(ctx, d); err != nil {
		return fc.Device{}, NewError(KindNetwork, err)
	}
	return d, nil
}

func validatePatch(d fc.Device, patch fc.DevicePatch) error {
	if patch.TargetValue != nil {
		min, max, ok := d.Kind.ValueRange()
		if !ok {
			return fmt.Errorf("kind %q has no setpoint", d.Kind)
		}
		if *patch.TargetValue < min || *patch.TargetValue > max {
			return fmt.Errorf("target %.1f outside [%.0f, %.0f] for kind %q", *patch.TargetValue, min, max, d.Kind)
		}
	}
	if patch.Power != nil && *patch.Power != fc.PowerOn && *patch.Power != fc.PowerOff {
		return fmt.Errorf("invalid power state %q", *patch.Power)
	}
	if patch.Maintenance != nil && *patch.Maintenance != fc.MaintenanceFunctional && *patch.Maintenance != fc.MaintenanceBroken {
		return fmt.Errorf("invalid maintenance state %q", *patch.Maintenance)
	}
	return nil
}
