package scheduler

import (
	"context"
	"errors"
	"time"

	fc "facility_console"
	"facility_console/internal/gateway"
)

// Typed command results. Invariant violations are rejected synchronously,
// before any network call.
var (
	ErrNotFound           = errors.New("device not found")
	ErrAlreadyRepairing   = errors.New("repair already in progress for device")
	ErrRepairNotNeeded    = errors.New("device is not disqualified; nothing to repair")
	ErrRepairInProgress   = errors.New("device is under repair")
	ErrOutOfRange         = errors.New("target value outside the device's legal range")
	ErrDeviceDisqualified = errors.New("device is disqualified; repair it first")
)

// Repair creates a repair session for a disqualified device. The session
// advances on the shared tick clock; the only remote write happens at
// completion.
func (s *Scheduler) Repair(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.registry.Get(deviceID)
	if !ok {
		return ErrNotFound
	}
	if !d.Disqualified() {
		return ErrRepairNotNeeded
	}
	session, err := s.repairs.start(deviceID, time.Now().UTC())
	if err != nil {
		return err
	}

	s.appendEvent(ctx, fc.DeviceEvent{
		DeviceID:    deviceID,
		Type:        EventRepairStarted,
		Description: "Repair started",
		Metadata:    map[string]any{"duration_ticks": session.DurationTicks},
	})
	return nil
}

// SetTarget validates and writes a new setpoint through the gateway
// immediately, bypassing the tick.
func (s *Scheduler) SetTarget(ctx context.Context, deviceID string, value float64) error {
	s.mu.Lock()
	d, ok := s.registry.Get(deviceID)
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	min, max, hasRange := d.Kind.ValueRange()
	if !hasRange || value < min || value > max {
		s.mu.Unlock()
		return ErrOutOfRange
	}
	if d.Disqualified() {
		s.mu.Unlock()
		return ErrDeviceDisqualified
	}
	if s.repairs.active(deviceID) {
		s.mu.Unlock()
		return ErrRepairInProgress
	}

	return s.commandWrite(ctx, deviceID, fc.DevicePatch{TargetValue: &value}, fc.DeviceEvent{
		DeviceID:    deviceID,
		Type:        EventTargetChange,
		Description: "Target value changed by operator",
		Metadata:    map[string]any{"target": value},
	})
}

// SetPower switches a device on or off through the gateway immediately.
// Powering on a disqualified device is rejected rather than silently
// forced; the operator has to repair it first.
func (s *Scheduler) SetPower(ctx context.Context, deviceID string, power fc.PowerState) error {
	s.mu.Lock()
	d, ok := s.registry.Get(deviceID)
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	if power == fc.PowerOn && d.Disqualified() {
		s.mu.Unlock()
		return ErrDeviceDisqualified
	}
	if s.repairs.active(deviceID) {
		s.mu.Unlock()
		return ErrRepairInProgress
	}

	return s.commandWrite(ctx, deviceID, fc.DevicePatch{Power: &power}, fc.DeviceEvent{
		DeviceID:    deviceID,
		Type:        EventPowerChange,
		Description: "Power switched by operator",
		Metadata:    map[string]any{"power": power},
	})
}

// commandWrite performs a synchronous operator write: optimistic apply,
// bounded remote patch, rollback on any failure. Unlike tick-side writes
// the failure is surfaced to the caller instead of being retried. Expects
// s.mu held; releases it before notifying listeners.
func (s *Scheduler) commandWrite(ctx context.Context, deviceID string, p fc.DevicePatch, event fc.DeviceEvent) error {
	s.registry.Apply(deviceID, p)

	d, err := s.patch(ctx, deviceID, p)
	if err != nil {
		s.registry.Rollback(deviceID)
		reauth := gateway.KindOf(err) == gateway.KindUnauthorized
		reauthFns := append([]func(){}, s.reauthFns...)
		s.mu.Unlock()

		if reauth {
			for _, fn := range reauthFns {
				fn()
			}
		}
		if gateway.KindOf(err) == gateway.KindNotFound {
			return ErrNotFound
		}
		return err
	}

	s.registry.Confirm(d)
	s.appendEvent(ctx, event)
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(d)
	}
	return nil
}
