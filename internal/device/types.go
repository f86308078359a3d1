package device

import "time"

// Source records how a device entered the registry.
type Source string

const (
	// SourceDiscovery marks devices registered from a broadcast sighting.
	SourceDiscovery Source = "discovery"

	// SourceStatic marks devices listed under lifx.devices in the config.
	SourceStatic Source = "static"
)

// DefaultPort is the LIFX LAN UDP port.
const DefaultPort = 56700

// Device is a registered LIFX device.
//
// The registry stores identity and addressing only. Live state is owned by
// the device's coordinator and reaches the database through the state
// history.
type Device struct {
	// Serial is the canonical lower-case colon form, e.g. d0:73:d5:01:02:03.
	Serial string `json:"serial"`

	Host string `json:"host"`
	Port int    `json:"port"`

	// Identity reported by the device. Empty until the first poll that
	// fetched it; an Upsert never blanks a known value.
	Label     string `json:"label,omitempty"`
	Group     string `json:"group,omitempty"`
	ProductID uint32 `json:"product_id,omitempty"`
	Model     string `json:"model,omitempty"`
	Firmware  string `json:"firmware,omitempty"`

	Source Source `json:"source"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// Clone returns a copy that shares no pointers with d.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	if d.LastSeen != nil {
		t := *d.LastSeen
		c.LastSeen = &t
	}
	return &c
}

// State is a JSON-serialisable snapshot of a device's state.
type State map[string]any
