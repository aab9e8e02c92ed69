package gateway_test

import (
	"context"
	"errors"
	"testing"

	fc "facility_console"
	"facility_console/internal/gateway"
	"facility_console/internal/repository"
)

// fakeDeviceRepo backs the store gateway with an in-memory map.
type fakeDeviceRepo struct {
	devices map[string]fc.Device
	listErr error
	saveErr error
	saved   []fc.Device
}

func (f *fakeDeviceRepo) ListByScope(_ context.Context, scope string) ([]fc.Device, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []fc.Device
	for _, d := range f.devices {
		if d.Scope == scope {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDeviceRepo) GetByID(_ context.Context, id string) (fc.Device, error) {
	d, ok := f.devices[id]
	if !ok {
		return fc.Device{}, repository.ErrDeviceNotFound
	}
	return d, nil
}

func (f *fakeDeviceRepo) Save(_ context.Context, d fc.Device) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.devices[d.ID] = d
	f.saved = append(f.saved, d)
	return nil
}

func newStoreFixture() (*gateway.StoreGateway, *fakeDeviceRepo) {
	repo := &fakeDeviceRepo{devices: map[string]fc.Device{
		"thermo-1": {
			ID: "thermo-1", Scope: "building-a", Kind: fc.KindThermostat,
			Power: fc.PowerOn, CurrentValue: 18, TargetValue: 22,
			Durability: 80, Maintenance: fc.MaintenanceFunctional,
		},
		"door-1": {
			ID: "door-1", Scope: "building-a", Kind: fc.KindDoor,
			Power: fc.PowerOff, Durability: 50, Maintenance: fc.MaintenanceFunctional,
		},
	}}
	return gateway.NewStoreGateway(repo), repo
}

func TestStoreGateway_FetchDevices(t *testing.T) {
	gw, _ := newStoreFixture()

	devices, err := gw.FetchDevices(context.Background(), "building-a")
	if err != nil {
		t.Fatalf("FetchDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("want 2 devices, got %d", len(devices))
	}
}

func TestStoreGateway_FetchDevices_RepoErrorIsNetwork(t *testing.T) {
	gw, repo := newStoreFixture()
	repo.listErr = errors.New("disk full")

	_, err := gw.FetchDevices(context.Background(), "building-a")
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := gateway.KindOf(err); kind != gateway.KindNetwork {
		t.Fatalf("want KindNetwork, got %v", kind)
	}
}

func TestStoreGateway_PatchDevice_AppliesAndPersists(t *testing.T) {
	gw, repo := newStoreFixture()

	target := 25.0
	d, err := gw.PatchDevice(context.Background(), "thermo-1", fc.DevicePatch{TargetValue: &target})
	if err != nil {
		t.Fatalf("PatchDevice: %v", err)
	}
	if d.TargetValue != 25 {
		t.Fatalf("want target 25, got %v", d.TargetValue)
	}
	if d.CurrentValue != 18 {
		t.Fatalf("untouched field changed: %v", d.CurrentValue)
	}
	if d.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not stamped")
	}
	if len(repo.saved) != 1 {
		t.Fatalf("want 1 persisted write, got %d", len(repo.saved))
	}
}

func TestStoreGateway_PatchDevice_NotFound(t *testing.T) {
	gw, _ := newStoreFixture()

	power := fc.PowerOn
	_, err := gw.PatchDevice(context.Background(), "ghost", fc.DevicePatch{Power: &power})
	if kind := gateway.KindOf(err); kind != gateway.KindNotFound {
		t.Fatalf("want KindNotFound, got %v (%v)", kind, err)
	}
}

func TestStoreGateway_PatchDevice_Validation(t *testing.T) {
	gw, repo := newStoreFixture()

	badTarget := 45.0
	badPower := fc.PowerState("standby")
	badMaint := fc.MaintenanceState("rusty")
	okTarget := 22.0

	tests := []struct {
		name  string
		id    string
		patch fc.DevicePatch
	}{
		{"target above range", "thermo-1", fc.DevicePatch{TargetValue: &badTarget}},
		{"target on kind without setpoint", "door-1", fc.DevicePatch{TargetValue: &okTarget}},
		{"unknown power state", "thermo-1", fc.DevicePatch{Power: &badPower}},
		{"unknown maintenance state", "thermo-1", fc.DevicePatch{Maintenance: &badMaint}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.PatchDevice(context.Background(), tt.id, tt.patch)
			if kind := gateway.KindOf(err); kind != gateway.KindValidationFailed {
				t.Fatalf("want KindValidationFailed, got %v (%v)", kind, err)
			}
		})
	}
	if len(repo.saved) != 0 {
		t.Fatalf("rejected patches must not be persisted, got %d writes", len(repo.saved))
	}
}

func TestStoreGateway_PatchDevice_DurabilityClampedNotRejected(t *testing.T) {
	gw, _ := newStoreFixture()

	over := 180
	d, err := gw.PatchDevice(context.Background(), "door-1", fc.DevicePatch{Durability: &over})
	if err != nil {
		t.Fatalf("PatchDevice: %v", err)
	}
	if d.Durability != 100 {
		t.Fatalf("want clamped durability 100, got %d", d.Durability)
	}
}

func TestStoreGateway_PatchDevice_SaveErrorIsNetwork(t *testing.T) {
	gw, repo := newStoreFixture()
	repo.saveErr = errors.New("db locked")

	off := fc.PowerOff
	_, err := gw.PatchDevice(context.Background(), "thermo-1", fc.DevicePatch{Power: &off})
	if kind := gateway.KindOf(err); kind != gateway.KindNetwork {
		t.Fatalf("want KindNetwork, got %v (%v)", kind, err)
	}
}
