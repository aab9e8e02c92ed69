package scheduler

import (
	fc "facility_console"
)

// convergenceStep returns the patch that moves an eligible device one unit
// toward its setpoint, a fixed-rate linear ramp regardless of distance.
// Only thermostats converge autonomously; ventilation levels are
// operator-set only, an asymmetry preserved from observed behavior.
// ok is false when the device is not eligible this tick.
func convergenceStep(d fc.Device) (patch fc.DevicePatch, ok bool) {
	if d.Kind != fc.KindThermostat {
		return fc.DevicePatch{}, false
	}
	if d.Power != fc.PowerOn || d.Disqualified() {
		return fc.DevicePatch{}, false
	}

	target := clampTarget(d)
	if d.CurrentValue == target {
		// Already at target: idempotent no-op, no patch emitted.
		return fc.DevicePatch{}, false
	}

	next := d.CurrentValue + 1
	if target < d.CurrentValue {
		next = d.CurrentValue - 1
	}
	// Snap onto the target instead of oscillating around it when the
	// remaining distance is under one unit.
	if (next > target) == (d.CurrentValue < target) {
		next = target
	}
	return fc.DevicePatch{CurrentValue: &next}, true
}

// clampTarget forces the setpoint into the kind's legal range before acting.
// Operator input validation is a UI concern; this is the last line.
func clampTarget(d fc.Device) float64 {
	min, max, ok := d.Kind.ValueRange()
	if !ok {
		return d.TargetValue
	}
	if d.TargetValue < min {
		return min
	}
	if d.TargetValue > max {
		return max
	}
	return d.TargetValue
}
