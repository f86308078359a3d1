package lifx

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"go.yhsif.com/lifxlan"
)

// FirmwareEffect is the firmware effect a device is running.
type FirmwareEffect uint8

// Firmware effects.
const (
	FirmwareEffectOff   FirmwareEffect = 0
	FirmwareEffectMove  FirmwareEffect = 1
	FirmwareEffectMorph FirmwareEffect = 2
	FirmwareEffectFlame FirmwareEffect = 3
)

var firmwareEffectNames = map[FirmwareEffect]string{
	FirmwareEffectOff:   "OFF",
	FirmwareEffectMove:  "MOVE",
	FirmwareEffectMorph: "MORPH",
	FirmwareEffectFlame: "FLAME",
}

// String returns the upper-case effect name.
func (e FirmwareEffect) String() string {
	if name, ok := firmwareEffectNames[e]; ok {
		return name
	}
	return "OFF"
}

// firmwareEffectFromName maps an effect name to its FirmwareEffect.
// Unknown names map to FirmwareEffectOff.
func firmwareEffectFromName(name string) FirmwareEffect {
	upper := strings.ToUpper(name)
	for e, n := range firmwareEffectNames {
		if n == upper {
			return e
		}
	}
	return FirmwareEffectOff
}

// EffectState describes the multizone effect reported by the device.
// Speed, Duration and Direction are only set when the effect is active.
type EffectState struct {
	Effect    string  `json:"effect"`
	Speed     float64 `json:"speed,omitempty"`    // seconds
	Duration  float64 `json:"duration,omitempty"` // seconds, 0 = forever
	Direction string  `json:"direction,omitempty"`
}

// HEVCycle is the state of a HEV cleaning cycle.
type HEVCycle struct {
	Duration  uint32 `json:"duration"`
	Remaining uint32 `json:"remaining"`
	LastPower bool   `json:"last_power"`
}

// Device is the record of one physical device.
//
// Fields are written only by applyResponse, called from the owning
// coordinator's request path. Readers use the accessors or Snapshot.
type Device struct {
	mu sync.RWMutex

	serial Serial
	host   string
	port   int

	label      string
	labelKnown bool
	group      string
	groupKnown bool
	firmware   string
	vendor     uint32
	productID  uint32
	// product is derived from productID the first time it is learned and
	// never changes afterwards.
	product *Product

	color      HSBK
	power      lifxlan.Power
	zones      []HSBK
	zonesCount int
	effect     *EffectState
	hev        *HEVCycle
	infrared   *uint16
}

// NewDevice creates a record for the device at host:port. Pass
// WildcardSerial when the serial is not known yet.
func NewDevice(host string, port int, serial Serial) *Device {
	if port == 0 {
		port = DefaultPort
	}
	return &Device{host: host, port: port, serial: serial}
}

// Serial returns the protocol serial (the wildcard until learned).
func (d *Device) Serial() Serial {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.serial
}

// Host returns the device host or IP address.
func (d *Device) Host() string {
	return d.host
}

// Addr returns host:port.
func (d *Device) Addr() string {
	return net.JoinHostPort(d.host, strconv.Itoa(d.port))
}

// Label returns the label and whether it has been learned.
func (d *Device) Label() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.label, d.labelKnown
}

// Firmware returns the "major.minor" host firmware version, or "".
func (d *Device) Firmware() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.firmware
}

// Product returns the product table entry and whether the product id is
// known. Before the first StateVersion the default product is returned.
func (d *Device) Product() (Product, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.product == nil {
		p, _ := LookupProduct(defaultProductID)
		return p, false
	}
	return *d.product, true
}

// Features returns the capability set of the device.
func (d *Device) Features() Features {
	p, _ := d.Product()
	return p.Features
}

// Color returns the last reported colour.
func (d *Device) Color() HSBK {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.color
}

// Power returns the last reported power level.
func (d *Device) Power() lifxlan.Power {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.power
}

// Zones returns a copy of the known zone colours.
func (d *Device) Zones() []HSBK {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]HSBK, len(d.zones))
	copy(out, d.zones)
	return out
}

// ZonesCount returns the zone count reported by the device.
func (d *Device) ZonesCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.zonesCount
}

// Effect returns the last reported multizone effect, or nil.
func (d *Device) Effect() *EffectState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.effect == nil {
		return nil
	}
	e := *d.effect
	return &e
}

// HEV returns the last reported HEV cycle, or nil.
func (d *Device) HEV() *HEVCycle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.hev == nil {
		return nil
	}
	h := *d.hev
	return &h
}

// Infrared returns the infrared brightness and whether it is known.
func (d *Device) Infrared() (uint16, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.infrared == nil {
		return 0, false
	}
	return *d.infrared, true
}

// identityKnown reports which one-time fields have been learned.
func (d *Device) identityKnown() (firmware, product, group, label bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.firmware != "", d.product != nil, d.groupKnown, d.labelKnown
}

// Snapshot is a point-in-time copy of a device record.
type Snapshot struct {
	Serial     string        `json:"serial"`
	MAC        string        `json:"mac"`
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	Label      string        `json:"label"`
	Group      string        `json:"group,omitempty"`
	Firmware   string        `json:"firmware,omitempty"`
	Vendor     uint32        `json:"vendor,omitempty"`
	ProductID  uint32        `json:"product_id,omitempty"`
	Model      string        `json:"model"`
	Features   Features      `json:"features"`
	Color      HSBK          `json:"color"`
	ColorMode  string        `json:"color_mode"`
	Power      lifxlan.Power `json:"power"`
	On         bool          `json:"on"`
	Brightness uint8         `json:"brightness"`
	Zones      []HSBK        `json:"zones,omitempty"`
	ZonesCount int           `json:"zones_count,omitempty"`
	Effect     *EffectState  `json:"effect,omitempty"`
	HEV        *HEVCycle     `json:"hev,omitempty"`
	Infrared   *uint16       `json:"infrared,omitempty"`

	// Set by the coordinator.
	RSSI         int    `json:"rssi,omitempty"`
	ActiveEffect string `json:"active_effect,omitempty"`
}

// Snapshot copies the record.
func (d *Device) Snapshot() Snapshot {
	product, _ := d.Product()

	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Snapshot{
		Serial:     d.serial.String(),
		MAC:        RealMAC(d.serial, d.firmware).String(),
		Host:       d.host,
		Port:       d.port,
		Label:      d.label,
		Group:      d.group,
		Firmware:   d.firmware,
		Vendor:     d.vendor,
		ProductID:  d.productID,
		Model:      product.Name,
		Features:   product.Features,
		Color:      d.color,
		ColorMode:  ColorMode(d.color),
		Power:      d.power,
		On:         d.power.On(),
		Brightness: Brightness8(d.power, d.color),
		ZonesCount: d.zonesCount,
	}
	if len(d.zones) > 0 {
		s.Zones = make([]HSBK, len(d.zones))
		copy(s.Zones, d.zones)
	}
	if d.effect != nil {
		e := *d.effect
		s.Effect = &e
	}
	if d.hev != nil {
		h := *d.hev
		s.HEV = &h
	}
	if d.infrared != nil {
		v := *d.infrared
		s.Infrared = &v
	}
	return s
}
