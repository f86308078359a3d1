package lifx

import (
	"testing"

	"go.yhsif.com/lifxlan"
)

func u16(v uint16) *uint16 { return &v }

func TestMergeHSBK(t *testing.T) {
	base := HSBK{Hue: 1, Saturation: 2, Brightness: 3, Kelvin: 4}

	tests := []struct {
		name   string
		change ColorChange
		want   HSBK
	}{
		{"empty keeps base", ColorChange{}, base},
		{"hue only", ColorChange{Hue: u16(100)}, HSBK{Hue: 100, Saturation: 2, Brightness: 3, Kelvin: 4}},
		{"brightness and kelvin", ColorChange{Brightness: u16(500), Kelvin: u16(2700)}, HSBK{Hue: 1, Saturation: 2, Brightness: 500, Kelvin: 2700}},
		{"zero is a value", ColorChange{Saturation: u16(0)}, HSBK{Hue: 1, Saturation: 0, Brightness: 3, Kelvin: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeHSBK(base, tt.change); got != tt.want {
				t.Errorf("MergeHSBK = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestColorChangeIsEmpty(t *testing.T) {
	if !(ColorChange{}).IsEmpty() {
		t.Error("zero ColorChange should be empty")
	}
	if (ColorChange{Kelvin: u16(3500)}).IsEmpty() {
		t.Error("ColorChange with kelvin should not be empty")
	}
}

func TestConvert8And16(t *testing.T) {
	tests := []struct {
		in8  uint8
		in16 uint16
	}{
		{0, 0},
		{1, 257},
		{128, 32896},
		{255, 65535},
	}
	for _, tt := range tests {
		if got := Convert8To16(tt.in8); got != tt.in16 {
			t.Errorf("Convert8To16(%d) = %d, want %d", tt.in8, got, tt.in16)
		}
		if got := Convert16To8(tt.in16); got != tt.in8 {
			t.Errorf("Convert16To8(%d) = %d, want %d", tt.in16, got, tt.in8)
		}
	}
}

func TestColorMode(t *testing.T) {
	if got := ColorMode(HSBK{Saturation: 1}); got != ColorModeHS {
		t.Errorf("saturated colour mode = %q", got)
	}
	if got := ColorMode(HSBK{Kelvin: 2700}); got != ColorModeColorTemp {
		t.Errorf("white colour mode = %q", got)
	}
}

func TestBrightness8(t *testing.T) {
	tests := []struct {
		name  string
		power lifxlan.Power
		c     HSBK
		want  uint8
	}{
		{"full on", lifxlan.PowerOn, HSBK{Brightness: 65535}, 255},
		{"off", lifxlan.PowerOff, HSBK{Brightness: 65535}, 0},
		{"half brightness", lifxlan.PowerOn, HSBK{Brightness: 32896}, 128},
		{"zero brightness", lifxlan.PowerOn, HSBK{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Brightness8(tt.power, tt.c); got != tt.want {
				t.Errorf("Brightness8 = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSignalToRSSI(t *testing.T) {
	tests := []struct {
		signal float32
		want   int
	}{
		{0, 0},
		{-1, 0},
		{1, 0},
		{1e-5, -50},
		{1e-7, -70},
	}
	for _, tt := range tests {
		if got := SignalToRSSI(tt.signal); got != tt.want {
			t.Errorf("SignalToRSSI(%g) = %d, want %d", tt.signal, got, tt.want)
		}
	}
}

func TestInfraredOptions(t *testing.T) {
	for _, option := range []string{"Disabled", "25%", "50%", "100%"} {
		b, ok := InfraredBrightness(option)
		if !ok {
			t.Fatalf("InfraredBrightness(%q) not found", option)
		}
		back, ok := InfraredOption(b)
		if !ok || back != option {
			t.Errorf("InfraredOption(%d) = %q, %v; want %q", b, back, ok, option)
		}
	}
	if _, ok := InfraredOption(1234); ok {
		t.Error("InfraredOption(1234) should have no label")
	}
	if _, ok := InfraredBrightness("75%"); ok {
		t.Error("InfraredBrightness(75%) should not exist")
	}
}

// =============================================================================
// Products
// =============================================================================

func TestLookupProduct(t *testing.T) {
	tests := []struct {
		id        uint32
		name      string
		known     bool
		check     func(Features) bool
		checkName string
	}{
		{27, "LIFX A19", true, func(f Features) bool { return f.Color && !f.Multizone }, "colour only"},
		{29, "LIFX A19 Night Vision", true, func(f Features) bool { return f.Infrared }, "infrared"},
		{31, "LIFX Z", true, func(f Features) bool { return f.Multizone && !f.ExtendedMultizone }, "legacy multizone"},
		{32, "LIFX Z", true, func(f Features) bool { return f.ExtendedMultizone }, "extended multizone"},
		{55, "LIFX Tile", true, func(f Features) bool { return f.Matrix && f.Chain }, "matrix"},
		{90, "LIFX Clean", true, func(f Features) bool { return f.HEV }, "hev"},
		{9999, "LIFX Original 1000", false, func(f Features) bool { return f.Color }, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, known := LookupProduct(tt.id)
			if known != tt.known {
				t.Errorf("known = %v, want %v", known, tt.known)
			}
			if p.Name != tt.name {
				t.Errorf("Name = %q, want %q", p.Name, tt.name)
			}
			if !tt.check(p.Features) {
				t.Errorf("features %+v fail %s check", p.Features, tt.checkName)
			}
		})
	}
}
