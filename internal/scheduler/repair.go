package scheduler

import (
	"time"

	fc "facility_console"
)

// DefaultRepairTicks is the fixed repair duration. Repairs have a fixed
// real-world cost independent of device kind, so one generic timer keyed by
// device id serves every kind.
const DefaultRepairTicks = 6

type sessionPhase int

const (
	phaseRunning sessionPhase = iota
	// phaseCompleting means the countdown elapsed but the terminal remote
	// write has not been confirmed yet. The session is retried every tick
	// until the write lands (at-least-once completion).
	phaseCompleting
)

// RepairSession is the ephemeral countdown for one device repair. At most
// one session exists per device at a time.
type RepairSession struct {
	DeviceID      string
	StartedAt     time.Time
	DurationTicks int
	ElapsedTicks  int

	phase sessionPhase
}

// ProgressPercent derives the visible countdown progress, capped at 100.
func (s *RepairSession) ProgressPercent() int {
	if s.DurationTicks <= 0 {
		return 100
	}
	p := s.ElapsedTicks * 100 / s.DurationTicks
	if p > 100 {
		return 100
	}
	return p
}

// TicksRemaining reports how many ticks are left before the terminal write.
func (s *RepairSession) TicksRemaining() int {
	left := s.DurationTicks - s.ElapsedTicks
	if left < 0 {
		return 0
	}
	return left
}

// RepairStatus is the queryable view of a session.
type RepairStatus struct {
	DeviceID        string `json:"device_id"`
	ProgressPercent int    `json:"progress_percent"`
	TicksRemaining  int    `json:"ticks_remaining"`
}

// terminalRepairPatch is the one remote write a completed repair issues.
func terminalRepairPatch() fc.DevicePatch {
	durability := 100
	maintenance := fc.MaintenanceFunctional
	return fc.DevicePatch{Durability: &durability, Maintenance: &maintenance}
}

// repairTable holds all sessions, keyed by device id.
type repairTable struct {
	sessions      map[string]*RepairSession
	durationTicks int
}

func newRepairTable(durationTicks int) *repairTable {
	if durationTicks <= 0 {
		durationTicks = DefaultRepairTicks
	}
	return &repairTable{
		sessions:      make(map[string]*RepairSession),
		durationTicks: durationTicks,
	}
}

// start creates a session with a zeroed countdown. A second start for the
// same device fails and must not reset the running countdown.
func (t *repairTable) start(deviceID string, now time.Time) (*RepairSession, error) {
	if _, exists := t.sessions[deviceID]; exists {
		return nil, ErrAlreadyRepairing
	}
	s := &RepairSession{
		DeviceID:      deviceID,
		StartedAt:     now,
		DurationTicks: t.durationTicks,
	}
	t.sessions[deviceID] = s
	return s, nil
}

// advance moves every running session forward one tick and returns the
// sessions that are due for their terminal write, previously failed ones
// included.
func (t *repairTable) advance() []*RepairSession {
	var due []*RepairSession
	for _, s := range t.sessions {
		if s.phase == phaseRunning {
			s.ElapsedTicks++
			if s.ElapsedTicks >= s.DurationTicks {
				s.phase = phaseCompleting
			}
		}
		if s.phase == phaseCompleting {
			due = append(due, s)
		}
	}
	return due
}

// active reports whether the device has a session in any phase.
func (t *repairTable) active(deviceID string) bool {
	_, ok := t.sessions[deviceID]
	return ok
}

// status returns the countdown view for one device.
func (t *repairTable) status(deviceID string) (RepairStatus, bool) {
	s, ok := t.sessions[deviceID]
	if !ok {
		return RepairStatus{}, false
	}
	return RepairStatus{
		DeviceID:        s.DeviceID,
		ProgressPercent: s.ProgressPercent(),
		TicksRemaining:  s.TicksRemaining(),
	}, true
}

// finish destroys a session after its terminal write was confirmed.
func (t *repairTable) finish(deviceID string) {
	delete(t.sessions, deviceID)
}
