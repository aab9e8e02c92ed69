package scheduler

import (
	"sort"

	fc "facility_console"
)

// Registry is the in-memory snapshot of the devices in scope. It keeps two
// copies per device: the last confirmed remote values, which the per-tick
// policies evaluate against, and a working copy that may run ahead of the
// remote store while a write is still unconfirmed. The Scheduler's mutex
// guards all access; the registry itself does no locking.
type Registry struct {
	confirmed map[string]fc.Device
	working   map[string]fc.Device
}

func NewRegistry() *Registry {
	return &Registry{
		confirmed: make(map[string]fc.Device),
		working:   make(map[string]fc.Device),
	}
}

// Reset replaces the snapshot wholesale from a gateway fetch — no partial
// merge, to avoid stale-field bugs from concurrent external edits. Devices
// for which keep returns true retain their previous working copy (they have
// a write awaiting retry). Returns the devices whose working copy changed.
func (r *Registry) Reset(devices []fc.Device, keep func(id string) bool) []fc.Device {
	prev := r.working
	r.confirmed = make(map[string]fc.Device, len(devices))
	r.working = make(map[string]fc.Device, len(devices))

	var changed []fc.Device
	for _, d := range devices {
		r.confirmed[d.ID] = d
		if old, ok := prev[d.ID]; ok && keep != nil && keep(d.ID) {
			r.working[d.ID] = old
			continue
		}
		r.working[d.ID] = d
		if old, ok := prev[d.ID]; !ok || old != d {
			changed = append(changed, d)
		}
	}
	return changed
}

// Get returns the working copy of one device.
func (r *Registry) Get(id string) (fc.Device, bool) {
	d, ok := r.working[id]
	return d, ok
}

// Apply updates the working copy optimistically, before the remote write is
// confirmed.
func (r *Registry) Apply(id string, patch fc.DevicePatch) (fc.Device, bool) {
	d, ok := r.working[id]
	if !ok {
		return fc.Device{}, false
	}
	patch.ApplyTo(&d)
	r.working[id] = d
	return d, true
}

// Confirm records the device as returned by a successful remote write.
func (r *Registry) Confirm(d fc.Device) {
	r.confirmed[d.ID] = d
	r.working[d.ID] = d
}

// Rollback discards the optimistic working copy, restoring the last
// confirmed values. Returns the restored device.
func (r *Registry) Rollback(id string) (fc.Device, bool) {
	d, ok := r.confirmed[id]
	if !ok {
		return fc.Device{}, false
	}
	r.working[id] = d
	return d, true
}

// All returns the confirmed snapshot ordered by device id. The per-tick
// policies iterate this view so that an unconfirmed write never feeds back
// into policy decisions.
func (r *Registry) All() []fc.Device {
	out := make([]fc.Device, 0, len(r.confirmed))
	for _, d := range r.confirmed {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of devices in the snapshot.
func (r *Registry) Len() int { return len(r.confirmed) }
