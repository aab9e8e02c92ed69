package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	fc "facility_console"
	"facility_console/internal/gateway"
	"facility_console/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type patchCall struct {
	id    string
	patch fc.DevicePatch
}

// fakeGateway is a scripted in-memory gateway. Per-device patch errors and a
// fetch error can be injected to exercise the retry and rollback paths.
type fakeGateway struct {
	mu       sync.Mutex
	devices  map[string]fc.Device
	fetchErr error
	patchErr map[string]error
	calls    []patchCall
}

func newFakeGateway(devices ...fc.Device) *fakeGateway {
	g := &fakeGateway{
		devices:  make(map[string]fc.Device, len(devices)),
		patchErr: make(map[string]error),
	}
	for _, d := range devices {
		g.devices[d.ID] = d
	}
	return g
}

func (g *fakeGateway) FetchDevices(_ context.Context, _ string) ([]fc.Device, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	out := make([]fc.Device, 0, len(g.devices))
	for _, d := range g.devices {
		out = append(out, d)
	}
	return out, nil
}

func (g *fakeGateway) PatchDevice(_ context.Context, id string, patch fc.DevicePatch) (fc.Device, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, patchCall{id: id, patch: patch})
	if err := g.patchErr[id]; err != nil {
		return fc.Device{}, err
	}
	d, ok := g.devices[id]
	if !ok {
		return fc.Device{}, gateway.NewError(gateway.KindNotFound, errors.New("no such device"))
	}
	patch.ApplyTo(&d)
	d.UpdatedAt = time.Now().UTC()
	g.devices[id] = d
	return d, nil
}

func (g *fakeGateway) device(id string) fc.Device {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.devices[id]
}

func (g *fakeGateway) patchCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.id == id {
			n++
		}
	}
	return n
}

func (g *fakeGateway) setFetchErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchErr = err
}

func (g *fakeGateway) setPatchErr(id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.patchErr, id)
		return
	}
	g.patchErr[id] = err
}

// fakeEvents is an in-memory event log.
type fakeEvents struct {
	mu     sync.Mutex
	events []fc.DeviceEvent
}

func (f *fakeEvents) Append(_ context.Context, e fc.DeviceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEvents) List(_ context.Context, _, _ time.Time, _, _ string) ([]fc.DeviceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fc.DeviceEvent(nil), f.events...), nil
}

func (f *fakeEvents) typeCount(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func newTestScheduler(gw gateway.Gateway, events *fakeEvents) *Scheduler {
	s := New(gw, events, logger.Get(logger.ErrorLevel))
	s.scope = "building-a"
	return s
}

func healthyThermostat(id string, current, target float64) fc.Device {
	return fc.Device{
		ID:           id,
		Scope:        "building-a",
		Kind:         fc.KindThermostat,
		Power:        fc.PowerOn,
		CurrentValue: current,
		TargetValue:  target,
		Durability:   80,
		Maintenance:  fc.MaintenanceFunctional,
		Connectivity: fc.ConnectivityWired,
	}
}

func TestRunTick_ThermostatConvergesAndStops(t *testing.T) {
	gw := newFakeGateway(healthyThermostat("thermo-1", 18, 22))
	events := &fakeEvents{}
	s := newTestScheduler(gw, events)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		s.runTick(ctx)
	}

	assert.Equal(t, 22.0, gw.device("thermo-1").CurrentValue)
	assert.Equal(t, 4, gw.patchCount("thermo-1"), "one unit per tick, then silence")

	// Converged state is a fixed point.
	s.runTick(ctx)
	assert.Equal(t, 4, gw.patchCount("thermo-1"))
}

func TestRunTick_AutoShutdownTakesPriorityOverConvergence(t *testing.T) {
	exhausted := healthyThermostat("thermo-1", 18, 22)
	exhausted.Durability = 0
	broken := fc.Device{
		ID: "light-1", Scope: "building-a", Kind: fc.KindLight,
		Power: fc.PowerOn, Durability: 60, Maintenance: fc.MaintenanceBroken,
	}
	gw := newFakeGateway(exhausted, broken)
	events := &fakeEvents{}
	s := newTestScheduler(gw, events)

	s.runTick(context.Background())

	require.Equal(t, 1, gw.patchCount("thermo-1"))
	require.Equal(t, 1, gw.patchCount("light-1"))
	assert.Equal(t, fc.PowerOff, gw.device("thermo-1").Power)
	assert.Equal(t, fc.PowerOff, gw.device("light-1").Power)
	// The disqualified thermostat must be forced off, never ramped.
	assert.Equal(t, 18.0, gw.device("thermo-1").CurrentValue)
	assert.Equal(t, 2, events.typeCount(EventAutoShutdown))

	// Devices already off are never re-patched.
	s.runTick(context.Background())
	assert.Equal(t, 1, gw.patchCount("thermo-1"))
	assert.Equal(t, 1, gw.patchCount("light-1"))
}

func TestRepair_FullLifecycle(t *testing.T) {
	dead := healthyThermostat("thermo-1", 18, 22)
	dead.Power = fc.PowerOff
	dead.Durability = 0
	dead.Maintenance = fc.MaintenanceBroken
	gw := newFakeGateway(dead)
	events := &fakeEvents{}
	s := newTestScheduler(gw, events)
	ctx := context.Background()

	s.runTick(ctx) // populate the registry

	require.NoError(t, s.Repair(ctx, "thermo-1"))
	assert.Equal(t, 1, events.typeCount(EventRepairStarted))
	assert.ErrorIs(t, s.Repair(ctx, "thermo-1"), ErrAlreadyRepairing)
	assert.ErrorIs(t, s.SetPower(ctx, "thermo-1", fc.PowerOff), ErrRepairInProgress)

	for i := 1; i < DefaultRepairTicks; i++ {
		s.runTick(ctx)
		st, ok := s.RepairStatus("thermo-1")
		require.True(t, ok, "tick %d: session must still be running", i)
		assert.Equal(t, DefaultRepairTicks-i, st.TicksRemaining)
		assert.Equal(t, 0, gw.patchCount("thermo-1"), "no write before the countdown ends")
	}

	s.runTick(ctx) // final tick issues the terminal write

	require.Equal(t, 1, gw.patchCount("thermo-1"), "exactly one terminal write")
	repaired := gw.device("thermo-1")
	assert.Equal(t, 100, repaired.Durability)
	assert.Equal(t, fc.MaintenanceFunctional, repaired.Maintenance)
	assert.Equal(t, fc.PowerOff, repaired.Power, "repair must not switch the device back on")
	assert.Equal(t, 1, events.typeCount(EventRepairCompleted))

	_, ok := s.RepairStatus("thermo-1")
	assert.False(t, ok, "session must be gone after completion")

	// The repaired device is no longer a repair candidate.
	assert.ErrorIs(t, s.Repair(ctx, "thermo-1"), ErrRepairNotNeeded)
}

func TestRepair_CompletionRetriesUntilWriteLands(t *testing.T) {
	dead := fc.Device{
		ID: "cam-1", Scope: "building-a", Kind: fc.KindCamera,
		Power: fc.PowerOff, Durability: 0, Maintenance: fc.MaintenanceBroken,
	}
	gw := newFakeGateway(dead)
	events := &fakeEvents{}
	s := newTestScheduler(gw, events)
	s.repairs = newRepairTable(2)
	ctx := context.Background()

	s.runTick(ctx)
	require.NoError(t, s.Repair(ctx, "cam-1"))

	gw.setPatchErr("cam-1", gateway.NewError(gateway.KindNetwork, errors.New("store offline")))

	s.runTick(ctx) // tick 1 of 2
	s.runTick(ctx) // due, write fails
	s.runTick(ctx) // still due, write fails again
	assert.Equal(t, 2, gw.patchCount("cam-1"))
	assert.Equal(t, 0, events.typeCount(EventRepairCompleted))
	_, ok := s.RepairStatus("cam-1")
	assert.True(t, ok, "session survives a failed terminal write")

	gw.setPatchErr("cam-1", nil)
	s.runTick(ctx)

	assert.Equal(t, 3, gw.patchCount("cam-1"))
	assert.Equal(t, 100, gw.device("cam-1").Durability)
	assert.Equal(t, 1, events.typeCount(EventRepairCompleted))
	_, ok = s.RepairStatus("cam-1")
	assert.False(t, ok)
}

func TestRunTick_TransientFailureRollsBackAfterThreeAttempts(t *testing.T) {
	gw := newFakeGateway(healthyThermostat("thermo-1", 18, 22))
	events := &fakeEvents{}
	s := newTestScheduler(gw, events)
	ctx := context.Background()

	gw.setPatchErr("thermo-1", gateway.NewError(gateway.KindNetwork, errors.New("timeout")))

	s.runTick(ctx)
	d, ok := s.Device("thermo-1")
	require.True(t, ok)
	assert.Equal(t, 19.0, d.CurrentValue, "operator view runs ahead optimistically")
	assert.Equal(t, 0, events.typeCount(EventSyncError))

	s.runTick(ctx)
	s.runTick(ctx)

	assert.Equal(t, 3, gw.patchCount("thermo-1"))
	assert.Equal(t, 1, events.typeCount(EventSyncError))
	d, _ = s.Device("thermo-1")
	assert.Equal(t, 18.0, d.CurrentValue, "optimistic copy rolled back to confirmed values")
	assert.Empty(t, s.retries)
}

func TestRunTick_FetchFailureKeepsPreviousSnapshot(t *testing.T) {
	gw := newFakeGateway(healthyThermostat("thermo-1", 18, 22))
	s := newTestScheduler(gw, &fakeEvents{})
	ctx := context.Background()

	s.runTick(ctx)
	require.Equal(t, 1, gw.patchCount("thermo-1"))

	gw.setFetchErr(gateway.NewError(gateway.KindNetwork, errors.New("store offline")))
	s.runTick(ctx)

	// The cycle keeps working on the stale snapshot.
	_, ok := s.Device("thermo-1")
	assert.True(t, ok)
	assert.Equal(t, 2, gw.patchCount("thermo-1"))
}

func TestRunTick_UnauthorizedFetchSignalsReauth(t *testing.T) {
	gw := newFakeGateway()
	gw.setFetchErr(gateway.NewError(gateway.KindUnauthorized, errors.New("token expired")))
	s := newTestScheduler(gw, &fakeEvents{})

	var calls int
	s.OnReauthRequired(func() { calls++ })

	s.runTick(context.Background())
	assert.Equal(t, 1, calls)
}

func TestSetTarget(t *testing.T) {
	vent := fc.Device{
		ID: "vent-1", Scope: "building-a", Kind: fc.KindVentilation,
		Power: fc.PowerOn, CurrentValue: 1, TargetValue: 1,
		Durability: 70, Maintenance: fc.MaintenanceFunctional,
	}
	exhausted := healthyThermostat("thermo-2", 20, 20)
	exhausted.Durability = 0
	gw := newFakeGateway(healthyThermostat("thermo-1", 20, 20), vent, exhausted)
	events := &fakeEvents{}
	s := newTestScheduler(gw, events)
	ctx := context.Background()

	s.runTick(ctx)

	require.NoError(t, s.SetTarget(ctx, "thermo-1", 25))
	assert.Equal(t, 25.0, gw.device("thermo-1").TargetValue)
	assert.Equal(t, 1, events.typeCount(EventTargetChange))

	// Ventilation levels are operator-set; the command path accepts them.
	require.NoError(t, s.SetTarget(ctx, "vent-1", 3))
	assert.Equal(t, 3.0, gw.device("vent-1").TargetValue)

	assert.ErrorIs(t, s.SetTarget(ctx, "thermo-1", 35), ErrOutOfRange)
	assert.ErrorIs(t, s.SetTarget(ctx, "vent-1", 0), ErrOutOfRange)
	assert.ErrorIs(t, s.SetTarget(ctx, "ghost", 25), ErrNotFound)
	assert.ErrorIs(t, s.SetTarget(ctx, "thermo-2", 25), ErrDeviceDisqualified)
}

func TestSetPower(t *testing.T) {
	exhausted := healthyThermostat("thermo-2", 20, 20)
	exhausted.Power = fc.PowerOff
	exhausted.Durability = 0
	gw := newFakeGateway(healthyThermostat("thermo-1", 20, 20), exhausted)
	events := &fakeEvents{}
	s := newTestScheduler(gw, events)
	ctx := context.Background()

	s.runTick(ctx)

	require.NoError(t, s.SetPower(ctx, "thermo-1", fc.PowerOff))
	assert.Equal(t, fc.PowerOff, gw.device("thermo-1").Power)
	assert.Equal(t, 1, events.typeCount(EventPowerChange))

	assert.ErrorIs(t, s.SetPower(ctx, "thermo-2", fc.PowerOn), ErrDeviceDisqualified)
	assert.ErrorIs(t, s.SetPower(ctx, "ghost", fc.PowerOn), ErrNotFound)
}

func TestCommandWrite_FailureRollsBackAndSurfaces(t *testing.T) {
	gw := newFakeGateway(healthyThermostat("thermo-1", 20, 20))
	s := newTestScheduler(gw, &fakeEvents{})
	ctx := context.Background()

	s.runTick(ctx)

	gw.setPatchErr("thermo-1", gateway.NewError(gateway.KindNotFound, errors.New("deleted remotely")))
	assert.ErrorIs(t, s.SetTarget(ctx, "thermo-1", 25), ErrNotFound)

	gw.setPatchErr("thermo-1", gateway.NewError(gateway.KindNetwork, errors.New("timeout")))
	err := s.SetTarget(ctx, "thermo-1", 25)
	require.Error(t, err)
	assert.Equal(t, gateway.KindNetwork, gateway.KindOf(err))

	d, _ := s.Device("thermo-1")
	assert.Equal(t, 20.0, d.TargetValue, "failed command must leave no optimistic residue")
}

func TestCommandWrite_UnauthorizedSignalsReauth(t *testing.T) {
	gw := newFakeGateway(healthyThermostat("thermo-1", 20, 20))
	s := newTestScheduler(gw, &fakeEvents{})
	ctx := context.Background()

	s.runTick(ctx)

	var calls int
	s.OnReauthRequired(func() { calls++ })
	gw.setPatchErr("thermo-1", gateway.NewError(gateway.KindUnauthorized, errors.New("token expired")))

	err := s.SetPower(ctx, "thermo-1", fc.PowerOff)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSubscribe_DeliversAndUnsubscribes(t *testing.T) {
	gw := newFakeGateway(healthyThermostat("thermo-1", 20, 20))
	s := newTestScheduler(gw, &fakeEvents{})
	ctx := context.Background()

	s.runTick(ctx)

	var mu sync.Mutex
	var first, second []fc.Device
	unsubFirst := s.Subscribe(func(d fc.Device) {
		mu.Lock()
		defer mu.Unlock()
		first = append(first, d)
	})
	s.Subscribe(func(d fc.Device) {
		mu.Lock()
		defer mu.Unlock()
		second = append(second, d)
	})

	require.NoError(t, s.SetTarget(ctx, "thermo-1", 25))

	mu.Lock()
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, 25.0, first[0].TargetValue)
	mu.Unlock()

	unsubFirst()
	require.NoError(t, s.SetPower(ctx, "thermo-1", fc.PowerOff))

	mu.Lock()
	assert.Len(t, first, 1, "unsubscribed listener must not fire")
	assert.Len(t, second, 2)
	mu.Unlock()
}

func TestStartStop(t *testing.T) {
	gw := newFakeGateway(healthyThermostat("thermo-1", 20, 20))
	s := newTestScheduler(gw, &fakeEvents{})

	require.NoError(t, s.Start("building-a", 10*time.Millisecond))
	assert.ErrorIs(t, s.Start("building-a", 10*time.Millisecond), errAlreadyStarted)

	// The first registry load is synchronous.
	_, ok := s.Device("thermo-1")
	assert.True(t, ok)

	s.Stop()
	s.Stop() // idempotent

	// Restart after a clean stop is allowed.
	require.NoError(t, s.Start("building-a", 10*time.Millisecond))
	s.Stop()
}
