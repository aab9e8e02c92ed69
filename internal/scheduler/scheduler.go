package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	fc "facility_console"
	"facility_console/internal/gateway"
	"facility_console/internal/logger"
	"facility_console/internal/repository"
)

const (
	// DefaultTickInterval is the periodic cycle; roughly one second of
	// granularity is all this subsystem promises.
	DefaultTickInterval = 1 * time.Second

	// DefaultWriteTimeout bounds every gateway call so a hung remote store
	// fails the write instead of stalling the cycle.
	DefaultWriteTimeout = 5 * time.Second

	// maxWriteAttempts is how many consecutive tick-side failures a device
	// tolerates before its optimistic copy is rolled back to the last
	// confirmed values.
	maxWriteAttempts = 3
)

// Event types appended by the scheduler.
const (
	EventAutoShutdown    = "AUTO_SHUTDOWN"
	EventRepairStarted   = "REPAIR_STARTED"
	EventRepairCompleted = "REPAIR_COMPLETED"
	EventTargetChange    = "TARGET_CHANGE"
	EventPowerChange     = "POWER_CHANGE"
	EventSyncError       = "SYNC_ERROR"
)

// retryState tracks consecutive failed tick-side writes for one device. The
// patch itself is not kept: the next tick recomputes it from the refreshed
// snapshot, so the retry always carries the latest computed value.
type retryState struct {
	attempts int
}

// Scheduler owns the tick clock, the device registry snapshot and all
// repair sessions. It sequences auto-shutdown, convergence and repair
// completion per tick and serializes every write through the gateway.
type Scheduler struct {
	gw     gateway.Gateway
	events repository.EventRepo
	log    *logger.Logger

	mu         sync.Mutex
	registry   *Registry
	repairs    *repairTable
	retries    map[string]*retryState
	listeners  map[int]func(fc.Device)
	reauthFns  []func()
	nextListID int
	scope      string
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}

	writeTimeout time.Duration
}

// New wires a scheduler over a gateway and an event log. Event-log failures
// are logged and never block the cycle.
func New(gw gateway.Gateway, events repository.EventRepo, log *logger.Logger) *Scheduler {
	return &Scheduler{
		gw:           gw,
		events:       events,
		log:          log,
		registry:     NewRegistry(),
		repairs:      newRepairTable(DefaultRepairTicks),
		retries:      make(map[string]*retryState),
		listeners:    make(map[int]func(fc.Device)),
		writeTimeout: DefaultWriteTimeout,
	}
}

var errAlreadyStarted = errors.New("scheduler already started")

// Start begins the periodic cycle for one administrative scope. The first
// registry load happens synchronously so operator commands arriving right
// after Start see a populated snapshot even before the first tick.
func (s *Scheduler) Start(scope string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.scope = scope
	s.running = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.runTick(ctx)

	go s.loop(ctx, interval, s.done)
	return nil
}

// Stop halts the cycle. Any in-flight gateway call finishes or times out
// before Stop returns; repair sessions are abandoned (they are not
// persisted, an accepted limitation).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// loop drives the cycle. time.Ticker drops ticks while a cycle is still in
// flight, so cycles never overlap and no device is patched twice within one
// ramp step.
func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runTick(ctx)
		}
	}
}

// Subscribe registers a listener fired after every successful patch or
// refresh-observed change, carrying the updated device. Listeners are
// invoked outside the scheduler lock. The returned func unsubscribes.
func (s *Scheduler) Subscribe(fn func(fc.Device)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListID
	s.nextListID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// snapshotListeners copies the listener set for invocation outside the
// lock. Expects s.mu held.
func (s *Scheduler) snapshotListeners() []func(fc.Device) {
	out := make([]func(fc.Device), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

// OnReauthRequired registers a listener for the process-wide signal raised
// when the gateway rejects the scheduler's credentials.
func (s *Scheduler) OnReauthRequired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reauthFns = append(s.reauthFns, fn)
}

// Device returns the operator-facing copy of one device, optimistic updates
// included.
func (s *Scheduler) Device(id string) (fc.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Get(id)
}

// RepairStatus returns the countdown view for one device, or false when no
// repair is in progress.
func (s *Scheduler) RepairStatus(id string) (RepairStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repairs.status(id)
}

// runTick executes one full cycle: refresh, repair advance, auto-shutdown,
// convergence, write-through. Order matters for invariant preservation.
func (s *Scheduler) runTick(ctx context.Context) {
	s.mu.Lock()
	notifs, reauth := s.tickLocked(ctx)
	listeners := s.snapshotListeners()
	reauthFns := append([]func(){}, s.reauthFns...)
	s.mu.Unlock()

	s.deliver(notifs, reauth, listeners, reauthFns)
}

func (s *Scheduler) tickLocked(ctx context.Context) (notifs []fc.Device, reauth bool) {
	// 1. Refresh the snapshot wholesale. A failed refresh leaves the
	// previous snapshot in place; the cycle continues on it.
	devices, err := s.fetch(ctx)
	switch {
	case err == nil:
		changed := s.registry.Reset(devices, func(id string) bool {
			_, pending := s.retries[id]
			return pending
		})
		notifs = append(notifs, changed...)
	case gateway.KindOf(err) == gateway.KindUnauthorized:
		reauth = true
		s.log.Errorw("registry_refresh_unauthorized", "scope", s.scope, "err", err)
	default:
		s.log.Warnw("registry_refresh_failed", "scope", s.scope, "err", err)
	}

	// 2. Advance repair sessions; issue terminal writes for sessions that
	// reached their duration, retrying previously failed completions.
	for _, session := range s.repairs.advance() {
		d, err := s.patch(ctx, session.DeviceID, terminalRepairPatch())
		if err != nil {
			// Stay in Completing and retry the same patch next tick
			// rather than silently dropping the repair.
			if gateway.KindOf(err) == gateway.KindUnauthorized {
				reauth = true
			}
			s.log.Warnw("repair_completion_write_failed", "device", session.DeviceID, "err", err)
			continue
		}
		s.repairs.finish(session.DeviceID)
		s.registry.Confirm(d)
		notifs = append(notifs, d)
		s.appendEvent(ctx, fc.DeviceEvent{
			DeviceID:    d.ID,
			Type:        EventRepairCompleted,
			Description: "Repair completed; durability restored",
			Metadata:    map[string]any{"duration_ticks": session.DurationTicks},
		})
	}

	// 3. Auto-shutdown before convergence: a device that became
	// disqualified mid-ramp is forced off this tick, not ramped further.
	for _, d := range s.registry.All() {
		if !shutdownNeeded(d) {
			continue
		}
		updated, ok, r := s.tickWrite(ctx, d.ID, shutdownPatch())
		reauth = reauth || r
		if !ok {
			continue
		}
		notifs = append(notifs, updated...)
		s.appendEvent(ctx, fc.DeviceEvent{
			DeviceID:    d.ID,
			Type:        EventAutoShutdown,
			Description: "Device disqualified; forced off",
			Metadata:    map[string]any{"durability": d.Durability, "maintenance": d.Maintenance},
		})
	}

	// 4. Convergence over the refreshed snapshot, excluding devices under
	// repair and devices shut down in step 3 (their confirmed power is
	// already off).
	for _, d := range s.registry.All() {
		if s.repairs.active(d.ID) {
			continue
		}
		p, ok := convergenceStep(d)
		if !ok {
			continue
		}
		updated, _, r := s.tickWrite(ctx, d.ID, p)
		reauth = reauth || r
		notifs = append(notifs, updated...)
	}

	return notifs, reauth
}

// tickWrite performs one tick-side write with optimistic apply and the
// retry bookkeeping of transient failures: the patch is recomputed and
// re-attempted next tick, and after maxWriteAttempts consecutive failures
// the optimistic copy is rolled back to the last confirmed values.
func (s *Scheduler) tickWrite(ctx context.Context, id string, p fc.DevicePatch) (updated []fc.Device, ok, reauth bool) {
	s.registry.Apply(id, p)

	d, err := s.patch(ctx, id, p)
	if err == nil {
		delete(s.retries, id)
		s.registry.Confirm(d)
		return []fc.Device{d}, true, false
	}

	switch gateway.KindOf(err) {
	case gateway.KindNetwork:
		r := s.retries[id]
		if r == nil {
			r = &retryState{}
			s.retries[id] = r
		}
		r.attempts++
		s.log.Warnw("device_write_failed", "device", id, "attempt", r.attempts, "err", err)
		if r.attempts >= maxWriteAttempts {
			delete(s.retries, id)
			if rolled, restored := s.registry.Rollback(id); restored {
				updated = append(updated, rolled)
			}
			s.log.Errorw("device_write_abandoned", "device", id, "attempts", maxWriteAttempts, "err", err)
			s.appendEvent(ctx, fc.DeviceEvent{
				DeviceID:    id,
				Type:        EventSyncError,
				Description: "Write abandoned after repeated gateway failures",
			})
		}
	case gateway.KindUnauthorized:
		reauth = true
		delete(s.retries, id)
		if rolled, restored := s.registry.Rollback(id); restored {
			updated = append(updated, rolled)
		}
		s.log.Errorw("device_write_unauthorized", "device", id, "err", err)
	default:
		// NotFound or server-side validation: retrying cannot succeed.
		delete(s.retries, id)
		if rolled, restored := s.registry.Rollback(id); restored {
			updated = append(updated, rolled)
		}
		s.log.Errorw("device_write_rejected", "device", id, "err", err)
	}
	return updated, false, reauth
}

// fetch loads the scope's devices with a bounded timeout independent of the
// loop context, so Stop lets the in-flight call finish or time out.
func (s *Scheduler) fetch(ctx context.Context) ([]fc.Device, error) {
	fctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	return s.gw.FetchDevices(fctx, s.scope)
}

// patch writes one device with a bounded timeout, same lifetime rules as
// fetch.
func (s *Scheduler) patch(_ context.Context, id string, p fc.DevicePatch) (fc.Device, error) {
	pctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	return s.gw.PatchDevice(pctx, id, p)
}

// appendEvent records an event best-effort.
func (s *Scheduler) appendEvent(ctx context.Context, e fc.DeviceEvent) {
	if s.events == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := s.events.Append(ctx, e); err != nil {
		s.log.Warnw("event_append_failed", "type", e.Type, "device", e.DeviceID, "err", err)
	}
}

// deliver fires listeners outside the lock.
func (s *Scheduler) deliver(notifs []fc.Device, reauth bool, listeners []func(fc.Device), reauthFns []func()) {
	if reauth {
		for _, fn := range reauthFns {
			fn()
		}
	}
	for _, d := range notifs {
		for _, fn := range listeners {
			fn(d)
		}
	}
}
