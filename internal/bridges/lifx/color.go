package lifx

import (
	"math"

	"go.yhsif.com/lifxlan"
)

// HSBK is the four-field colour the protocol uses: hue, saturation,
// brightness and kelvin, each a 16-bit value.
type HSBK = lifxlan.Color

// ColorChange is a partial colour. Nil fields keep their previous value
// when merged over a known colour.
type ColorChange struct {
	Hue        *uint16 `json:"hue,omitempty"`
	Saturation *uint16 `json:"saturation,omitempty"`
	Brightness *uint16 `json:"brightness,omitempty"`
	Kelvin     *uint16 `json:"kelvin,omitempty"`
}

// IsEmpty reports whether the change sets no field.
func (c ColorChange) IsEmpty() bool {
	return c.Hue == nil && c.Saturation == nil && c.Brightness == nil && c.Kelvin == nil
}

// MergeHSBK copies every field set in change over base.
func MergeHSBK(base HSBK, change ColorChange) HSBK {
	if change.Hue != nil {
		base.Hue = *change.Hue
	}
	if change.Saturation != nil {
		base.Saturation = *change.Saturation
	}
	if change.Brightness != nil {
		base.Brightness = *change.Brightness
	}
	if change.Kelvin != nil {
		base.Kelvin = *change.Kelvin
	}
	return base
}

// Convert8To16 scales an 8-bit value to the 16-bit protocol range.
func Convert8To16(v uint8) uint16 {
	return uint16(v)<<8 | uint16(v)
}

// Convert16To8 scales a 16-bit protocol value down to 8 bits.
func Convert16To8(v uint16) uint8 {
	return uint8(v >> 8)
}

// Colour modes reported for a light.
const (
	ColorModeHS        = "hs"
	ColorModeColorTemp = "color_temp"
)

// ColorMode returns ColorModeHS for a saturated colour and
// ColorModeColorTemp for white.
func ColorMode(c HSBK) string {
	if c.Saturation > 0 {
		return ColorModeHS
	}
	return ColorModeColorTemp
}

// Brightness8 returns the perceived 8-bit brightness: the raw brightness
// scaled by the power level.
func Brightness8(power lifxlan.Power, c HSBK) uint8 {
	scaled := math.Floor(float64(power) / math.MaxUint16 * float64(c.Brightness))
	return Convert16To8(uint16(scaled))
}

// SignalToRSSI converts the wifi signal (milliwatts) to dBm.
func SignalToRSSI(signal float32) int {
	if signal <= 0 {
		return 0
	}
	return int(math.Floor(10*math.Log10(float64(signal)) + 0.5))
}

// Infrared brightness options exposed to users.
var infraredOptions = []struct {
	Brightness uint16
	Option     string
}{
	{0, "Disabled"},
	{16383, "25%"},
	{32767, "50%"},
	{65535, "100%"},
}

// InfraredOption maps an infrared brightness to its option label. Only the
// four option values have a label.
func InfraredOption(brightness uint16) (string, bool) {
	for _, o := range infraredOptions {
		if o.Brightness == brightness {
			return o.Option, true
		}
	}
	return "", false
}

// InfraredBrightness maps an option label to its brightness.
func InfraredBrightness(option string) (uint16, bool) {
	for _, o := range infraredOptions {
		if o.Option == option {
			return o.Brightness, true
		}
	}
	return 0, false
}

// Waveform kinds for SetWaveformOptional.
type Waveform uint8

// Waveforms supported by devices.
const (
	WaveformSaw      Waveform = 0
	WaveformSine     Waveform = 1
	WaveformHalfSine Waveform = 2
	WaveformTriangle Waveform = 3
	WaveformPulse    Waveform = 4
)

// WaveformOptional describes a SetWaveformOptional request. Only the
// channels whose Set flag is true are changed by the device.
type WaveformOptional struct {
	Transient     bool
	Color         HSBK
	Period        uint32 // milliseconds
	Cycles        float32
	SkewRatio     int16
	Waveform      Waveform
	SetHue        bool
	SetSaturation bool
	SetBrightness bool
	SetKelvin     bool
}

// IdentifyWaveform is the short white pulse used to identify a device.
var IdentifyWaveform = WaveformOptional{
	Transient:     true,
	Color:         HSBK{Hue: 0, Saturation: 0, Brightness: 1, Kelvin: 3500},
	Period:        1000,
	Cycles:        3,
	SkewRatio:     0,
	Waveform:      WaveformPulse,
	SetHue:        true,
	SetSaturation: true,
	SetBrightness: true,
	SetKelvin:     true,
}
