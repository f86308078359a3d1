package device

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	serialOctets = 6
	maxPort      = 65535
	maxLabelLen  = 32 // LIFX label field width
)

// NormalizeSerial returns serial in canonical form.
//
// Accepted inputs are twelve hex digits, optionally separated by ':' or '-'
// between octets, in any case. "D073D5010203" and "d0-73-d5-01-02-03" both
// normalise to "d0:73:d5:01:02:03".
func NormalizeSerial(serial string) (string, error) {
	s := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(serial))
	if len(s) != serialOctets*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidSerial, serial)
	}

	parts := make([]string, serialOctets)
	for i, b := range raw {
		parts[i] = hex.EncodeToString([]byte{b})
	}
	return strings.Join(parts, ":"), nil
}

// ValidateDevice checks the fields Upsert relies on and normalises the
// serial in place. A zero port is replaced by DefaultPort and an empty
// source by SourceDiscovery.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}

	serial, err := NormalizeSerial(d.Serial)
	if err != nil {
		return err
	}
	d.Serial = serial

	if strings.TrimSpace(d.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidDevice)
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.Port < 0 || d.Port > maxPort {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDevice, d.Port)
	}
	if len(d.Label) > maxLabelLen {
		return fmt.Errorf("%w: label longer than %d bytes", ErrInvalidDevice, maxLabelLen)
	}

	switch d.Source {
	case "":
		d.Source = SourceDiscovery
	case SourceDiscovery, SourceStatic:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidDevice, d.Source)
	}
	return nil
}
