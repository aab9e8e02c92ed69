package facility_console

import "time"

// DeviceKind identifies the device type and determines whether the
// current/target value fields are meaningful and their legal range.
type DeviceKind string

const (
	KindDoor         DeviceKind = "door"
	KindLight        DeviceKind = "light"
	KindCamera       DeviceKind = "camera"
	KindThermostat   DeviceKind = "thermostat"
	KindVentilation  DeviceKind = "ventilation"
	KindDisplayPanel DeviceKind = "display-panel"
)

// PowerState is the on/off switch state of a device.
type PowerState string

const (
	PowerOn  PowerState = "on"
	PowerOff PowerState = "off"
)

// MaintenanceState marks whether a device needs a repair.
type MaintenanceState string

const (
	MaintenanceFunctional MaintenanceState = "functional"
	MaintenanceBroken     MaintenanceState = "broken"
)

// Connectivity is how the device is attached to the facility network.
// The scheduler carries it through untouched.
type Connectivity string

const (
	ConnectivityWireless Connectivity = "wireless"
	ConnectivityWired    Connectivity = "wired"
)

// Device is the unit of management: one networked facility device.
type Device struct {
	ID           string           `json:"id"`
	Scope        string           `json:"scope"`
	Kind         DeviceKind       `json:"kind"`
	Name         string           `json:"name,omitempty"`
	Power        PowerState       `json:"power"`
	CurrentValue float64          `json:"current_value,omitempty"` // thermostat °C, ventilation level
	TargetValue  float64          `json:"target_value,omitempty"`  // thermostat setpoint
	DisplayText  string           `json:"display_text,omitempty"`  // display panels only
	Durability   int              `json:"durability"`              // percentage, 0..100
	Maintenance  MaintenanceState `json:"maintenance"`
	Connectivity Connectivity     `json:"connectivity"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Disqualified reports whether a powered-on device violates the
// durability/maintenance invariant and must be forced off.
func (d Device) Disqualified() bool {
	return d.Durability <= 0 || d.Maintenance == MaintenanceBroken
}

// ValueRange returns the legal setpoint range for the kind.
// ok is false for kinds without a numeric setpoint.
func (k DeviceKind) ValueRange() (min, max float64, ok bool) {
	switch k {
	case KindThermostat:
		return 10, 30, true
	case KindVentilation:
		return 1, 3, true
	default:
		return 0, 0, false
	}
}

// ClampDurability forces a durability percentage into [0, 100].
func ClampDurability(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// DevicePatch is a partial update of a device row. Nil fields are untouched.
type DevicePatch struct {
	Power        *PowerState       `json:"power,omitempty"`
	CurrentValue *float64          `json:"current_value,omitempty"`
	TargetValue  *float64          `json:"target_value,omitempty"`
	DisplayText  *string           `json:"display_text,omitempty"`
	Durability   *int              `json:"durability,omitempty"`
	Maintenance  *MaintenanceState `json:"maintenance,omitempty"`
}

// IsZero reports whether the patch carries no fields.
func (p DevicePatch) IsZero() bool {
	return p.Power == nil && p.CurrentValue == nil && p.TargetValue == nil &&
		p.DisplayText == nil && p.Durability == nil && p.Maintenance == nil
}

// ApplyTo copies the patch's set fields onto d, clamping durability.
func (p DevicePatch) ApplyTo(d *Device) {
	if p.Power != nil {
		d.Power = *p.Power
	}
	if p.CurrentValue != nil {
		d.CurrentValue = *p.CurrentValue
	}
	if p.TargetValue != nil {
		d.TargetValue = *p.TargetValue
	}
	if p.DisplayText != nil {
		d.DisplayText = *p.DisplayText
	}
	if p.Durability != nil {
		d.Durability = ClampDurability(*p.Durability)
	}
	if p.Maintenance != nil {
		d.Maintenance = *p.Maintenance
	}
}

// DeviceEvent is a single entry in the append-only device event log.
type DeviceEvent struct {
	EventID     string    `json:"event_id"`
	DeviceID    string    `json:"device_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // AUTO_SHUTDOWN | REPAIR_STARTED | REPAIR_COMPLETED | TARGET_CHANGE | POWER_CHANGE | SYNC_ERROR
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}

type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"` // don’t expose hash
}
