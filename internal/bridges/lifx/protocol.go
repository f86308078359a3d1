package lifx

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// LIFX LAN protocol constants.
const (
	// DefaultPort is the UDP port every LIFX device listens on.
	DefaultPort = 56700

	// headerSize is the size of frame + frame address + protocol header.
	headerSize = 36

	// protocolNumber is the only protocol value devices accept.
	protocolNumber uint16 = 1024

	flagAddressable uint16 = 1 << 12
	flagTagged      uint16 = 1 << 13

	flagResRequired byte = 1 << 0
	flagAckRequired byte = 1 << 1
)

// MessageType is the numeric kind carried in the protocol header.
type MessageType uint16

// Message catalog.
const (
	TypeGetService        MessageType = 2
	TypeStateService      MessageType = 3
	TypeGetHostFirmware   MessageType = 14
	TypeStateHostFirmware MessageType = 15
	TypeGetWifiInfo       MessageType = 16
	TypeStateWifiInfo     MessageType = 17
	TypeGetPower          MessageType = 20
	TypeSetPower          MessageType = 21
	TypeStatePower        MessageType = 22
	TypeGetLabel          MessageType = 23
	TypeSetLabel          MessageType = 24
	TypeStateLabel        MessageType = 25
	TypeGetVersion        MessageType = 32
	TypeStateVersion      MessageType = 33
	TypeAcknowledgement   MessageType = 45
	TypeGetGroup          MessageType = 51
	TypeStateGroup        MessageType = 53

	TypeGetColor            MessageType = 101
	TypeSetColor            MessageType = 102
	TypeLightState          MessageType = 107
	TypeGetLightPower       MessageType = 116
	TypeSetLightPower       MessageType = 117
	TypeStateLightPower     MessageType = 118
	TypeSetWaveformOptional MessageType = 119
	TypeGetInfrared         MessageType = 120
	TypeStateInfrared       MessageType = 121
	TypeSetInfrared         MessageType = 122
	TypeGetHevCycle         MessageType = 142
	TypeSetHevCycle         MessageType = 143
	TypeStateHevCycle       MessageType = 144

	TypeSetColorZones           MessageType = 501
	TypeGetColorZones           MessageType = 502
	TypeStateZone               MessageType = 503
	TypeStateMultiZone          MessageType = 506
	TypeGetMultiZoneEffect      MessageType = 507
	TypeSetMultiZoneEffect      MessageType = 508
	TypeStateMultiZoneEffect    MessageType = 509
	TypeSetExtendedColorZones   MessageType = 510
	TypeGetExtendedColorZones   MessageType = 511
	TypeStateExtendedColorZones MessageType = 512

	TypeGetTileEffect   MessageType = 718
	TypeSetTileEffect   MessageType = 719
	TypeStateTileEffect MessageType = 720
)

var messageTypeNames = map[MessageType]string{
	TypeGetService:              "GetService",
	TypeStateService:            "StateService",
	TypeGetHostFirmware:         "GetHostFirmware",
	TypeStateHostFirmware:       "StateHostFirmware",
	TypeGetWifiInfo:             "GetWifiInfo",
	TypeStateWifiInfo:           "StateWifiInfo",
	TypeGetPower:                "GetPower",
	TypeSetPower:                "SetPower",
	TypeStatePower:              "StatePower",
	TypeGetLabel:                "GetLabel",
	TypeSetLabel:                "SetLabel",
	TypeStateLabel:              "StateLabel",
	TypeGetVersion:              "GetVersion",
	TypeStateVersion:            "StateVersion",
	TypeAcknowledgement:         "Acknowledgement",
	TypeGetGroup:                "GetGroup",
	TypeStateGroup:              "StateGroup",
	TypeGetColor:                "GetColor",
	TypeSetColor:                "SetColor",
	TypeLightState:              "LightState",
	TypeGetLightPower:           "GetLightPower",
	TypeSetLightPower:           "SetLightPower",
	TypeStateLightPower:         "StateLightPower",
	TypeSetWaveformOptional:     "SetWaveformOptional",
	TypeGetInfrared:             "GetInfrared",
	TypeStateInfrared:           "StateInfrared",
	TypeSetInfrared:             "SetInfrared",
	TypeGetHevCycle:             "GetHevCycle",
	TypeSetHevCycle:             "SetHevCycle",
	TypeStateHevCycle:           "StateHevCycle",
	TypeSetColorZones:           "SetColorZones",
	TypeGetColorZones:           "GetColorZones",
	TypeStateZone:               "StateZone",
	TypeStateMultiZone:          "StateMultiZone",
	TypeGetMultiZoneEffect:      "GetMultiZoneEffect",
	TypeSetMultiZoneEffect:      "SetMultiZoneEffect",
	TypeStateMultiZoneEffect:    "StateMultiZoneEffect",
	TypeSetExtendedColorZones:   "SetExtendedColorZones",
	TypeGetExtendedColorZones:   "GetExtendedColorZones",
	TypeStateExtendedColorZones: "StateExtendedColorZones",
	TypeGetTileEffect:           "GetTileEffect",
	TypeSetTileEffect:           "SetTileEffect",
	TypeStateTileEffect:         "StateTileEffect",
}

// String returns the protocol name of the message type.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "Unknown(" + strconv.Itoa(int(t)) + ")"
}

// Serial is the 6-byte protocol target of a device.
//
// The zero value is the wildcard target, used before a device's real
// serial has been learned from a response.
type Serial [6]byte

// WildcardSerial addresses every device.
var WildcardSerial Serial

// ParseSerial parses "d073d5010203" or "d0:73:d5:01:02:03".
func ParseSerial(s string) (Serial, error) {
	var serial Serial
	clean := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), ":", "")
	if len(clean) != 2*len(serial) {
		return serial, fmt.Errorf("%w: serial %q must have 6 octets", ErrInvalidParameter, s)
	}
	if _, err := hex.Decode(serial[:], []byte(clean)); err != nil {
		return serial, fmt.Errorf("%w: serial %q: %v", ErrInvalidParameter, s, err) //nolint:errorlint // context only
	}
	return serial, nil
}

// String formats the serial as colon-separated lowercase hex.
func (s Serial) String() string {
	var b strings.Builder
	for i, octet := range s {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02x", octet)
	}
	return b.String()
}

// Compact formats the serial without separators ("d073d5010203").
// Used for MQTT topics and NATS subjects.
func (s Serial) Compact() string {
	return hex.EncodeToString(s[:])
}

// MarshalText encodes the serial in its colon form.
func (s Serial) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts either form understood by ParseSerial.
func (s *Serial) UnmarshalText(text []byte) error {
	parsed, err := ParseSerial(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsWildcard reports whether s is the wildcard placeholder.
func (s Serial) IsWildcard() bool {
	return s == WildcardSerial
}

// next returns the serial with the last octet incremented (mod 256).
func (s Serial) next() Serial {
	s[5]++
	return s
}

// RealMAC derives the hardware MAC address of a device from its serial.
// Firmware 3.70 and later report a serial one below the real MAC.
func RealMAC(serial Serial, firmware string) Serial {
	major, minor, ok := parseFirmware(firmware)
	if !ok {
		return serial
	}
	if major > 3 || (major == 3 && minor >= 70) {
		return serial.next()
	}
	return serial
}

// MACMatchesSerial reports whether mac belongs to the device with serial.
func MACMatchesSerial(mac, serial Serial) bool {
	return mac == serial || mac == serial.next()
}

func parseFirmware(v string) (major, minor int, ok bool) {
	maj, mnr, found := strings.Cut(v, ".")
	if !found {
		return 0, 0, false
	}
	var err error
	if major, err = strconv.Atoi(maj); err != nil {
		return 0, 0, false
	}
	if minor, err = strconv.Atoi(mnr); err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// NewSource returns a random client identifier for the header source field.
// Values 0 and 1 are avoided: devices broadcast replies to source 0.
func NewSource() uint32 {
	id := uuid.New()
	source := binary.LittleEndian.Uint32(id[:4])
	if source < 2 {
		source += 2
	}
	return source
}

// Header is the decoded 36-byte LIFX header.
type Header struct {
	Size        uint16
	Tagged      bool
	Source      uint32
	Target      Serial
	ResRequired bool
	AckRequired bool
	Sequence    uint8
	Type        MessageType
}

// Packet is one LIFX datagram.
type Packet struct {
	Header  Header
	Payload []byte
}

// Encode serialises the packet to wire format.
//
// Size and Tagged are derived: Size from the payload length and Tagged from
// whether the target is the wildcard.
func (p Packet) Encode() []byte {
	buf := make([]byte, headerSize+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(buf))) //nolint:gosec // payloads are bounded by the catalog

	flags := protocolNumber | flagAddressable
	if p.Header.Target.IsWildcard() {
		flags |= flagTagged
	}
	binary.LittleEndian.PutUint16(buf[2:4], flags)
	binary.LittleEndian.PutUint32(buf[4:8], p.Header.Source)

	copy(buf[8:14], p.Header.Target[:])
	// 14:16 target padding, 16:22 reserved

	var fa byte
	if p.Header.ResRequired {
		fa |= flagResRequired
	}
	if p.Header.AckRequired {
		fa |= flagAckRequired
	}
	buf[22] = fa
	buf[23] = p.Header.Sequence

	// 24:32 reserved
	binary.LittleEndian.PutUint16(buf[32:34], uint16(p.Header.Type))
	// 34:36 reserved

	copy(buf[headerSize:], p.Payload)
	return buf
}

// DecodePacket parses a datagram into a header and raw payload.
//
// Returns:
//   - Packet: header fields and a copy of the payload
//   - error: ErrInvalidPacket if the datagram is short or malformed
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < headerSize {
		return Packet{}, fmt.Errorf("%w: too short (%d bytes, need at least %d)", ErrInvalidPacket, len(data), headerSize)
	}

	size := binary.LittleEndian.Uint16(data[0:2])
	if int(size) < headerSize || int(size) > len(data) {
		return Packet{}, fmt.Errorf("%w: size field %d does not fit datagram of %d bytes", ErrInvalidPacket, size, len(data))
	}

	flags := binary.LittleEndian.Uint16(data[2:4])
	if flags&0x0FFF != protocolNumber {
		return Packet{}, fmt.Errorf("%w: protocol %d", ErrInvalidPacket, flags&0x0FFF)
	}

	var h Header
	h.Size = size
	h.Tagged = flags&flagTagged != 0
	h.Source = binary.LittleEndian.Uint32(data[4:8])
	copy(h.Target[:], data[8:14])
	h.ResRequired = data[22]&flagResRequired != 0
	h.AckRequired = data[22]&flagAckRequired != 0
	h.Sequence = data[23]
	h.Type = MessageType(binary.LittleEndian.Uint16(data[32:34]))

	payload := make([]byte, int(size)-headerSize)
	copy(payload, data[headerSize:size])

	return Packet{Header: h, Payload: payload}, nil
}
