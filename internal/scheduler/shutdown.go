package scheduler

import (
	fc "facility_console"
)

// shutdownNeeded reports whether the device is powered on while
// disqualified (durability exhausted or broken) and must be forced off.
// Devices already off are never re-patched.
func shutdownNeeded(d fc.Device) bool {
	return d.Power == fc.PowerOn && d.Disqualified()
}

// shutdownPatch forces the device off. Only the power field is written so
// the rest of the record is untouched.
func shutdownPatch() fc.DevicePatch {
	off := fc.PowerOff
	return fc.DevicePatch{Power: &off}
}
