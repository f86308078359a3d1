package lifx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"go.yhsif.com/lifxlan"
)

// Protocol limits.
const (
	labelSize          = 32
	multiZoneBatch     = 8
	ExtendedZonesFrame = 82
	maxPaletteSize     = 16
)

// MultiZoneEffectType is the firmware effect of a multizone strip.
type MultiZoneEffectType uint8

// Multizone effects.
const (
	MultiZoneEffectOff  MultiZoneEffectType = 0
	MultiZoneEffectMove MultiZoneEffectType = 1
)

// String returns the upper-case effect name.
func (e MultiZoneEffectType) String() string {
	switch e {
	case MultiZoneEffectOff:
		return "OFF"
	case MultiZoneEffectMove:
		return "MOVE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(e))
	}
}

// ParseMultiZoneEffect parses "off" or "move", case-insensitively.
func ParseMultiZoneEffect(s string) (MultiZoneEffectType, error) {
	switch strings.ToUpper(s) {
	case "OFF":
		return MultiZoneEffectOff, nil
	case "MOVE":
		return MultiZoneEffectMove, nil
	}
	return 0, fmt.Errorf("%w: unknown multizone effect %q", ErrInvalidParameter, s)
}

// MultiZoneDirection is the travel direction of the MOVE effect.
type MultiZoneDirection uint32

// Move directions.
const (
	DirectionRight MultiZoneDirection = 0
	DirectionLeft  MultiZoneDirection = 1
)

// String returns "Right" or "Left".
func (d MultiZoneDirection) String() string {
	if d == DirectionLeft {
		return "Left"
	}
	return "Right"
}

// ParseDirection parses "right" or "left", case-insensitively.
func ParseDirection(s string) (MultiZoneDirection, error) {
	switch strings.ToUpper(s) {
	case "RIGHT", "":
		return DirectionRight, nil
	case "LEFT":
		return DirectionLeft, nil
	}
	return 0, fmt.Errorf("%w: unknown direction %q", ErrInvalidParameter, s)
}

// TileEffectType is the firmware effect of a matrix device.
type TileEffectType uint8

// Matrix effects.
const (
	TileEffectOff   TileEffectType = 0
	TileEffectMorph TileEffectType = 2
	TileEffectFlame TileEffectType = 3
)

// String returns the upper-case effect name.
func (e TileEffectType) String() string {
	switch e {
	case TileEffectOff:
		return "OFF"
	case TileEffectMorph:
		return "MORPH"
	case TileEffectFlame:
		return "FLAME"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(e))
	}
}

// ParseTileEffect parses "off", "morph" or "flame", case-insensitively.
func ParseTileEffect(s string) (TileEffectType, error) {
	switch strings.ToUpper(s) {
	case "OFF":
		return TileEffectOff, nil
	case "MORPH":
		return TileEffectMorph, nil
	case "FLAME":
		return TileEffectFlame, nil
	}
	return 0, fmt.Errorf("%w: unknown matrix effect %q", ErrInvalidParameter, s)
}

// ZoneApply controls when a SetColorZones write becomes visible.
type ZoneApply uint8

// Apply modes.
const (
	ApplyNoApply   ZoneApply = 0 // buffer the write
	ApplyApply     ZoneApply = 1 // apply this and all buffered writes
	ApplyApplyOnly ZoneApply = 2
)

// Request is an outgoing message before it is addressed and sequenced.
type Request struct {
	Type        MessageType
	Payload     []byte
	AckRequired bool
	ResRequired bool
}

func getRequest(t MessageType, payload []byte) Request {
	return Request{Type: t, Payload: payload, ResRequired: true}
}

func setRequest(t MessageType, payload []byte) Request {
	return Request{Type: t, Payload: payload, AckRequired: true}
}

// Get requests.

func GetService() Request            { return getRequest(TypeGetService, nil) }
func GetHostFirmware() Request       { return getRequest(TypeGetHostFirmware, nil) }
func GetWifiInfo() Request           { return getRequest(TypeGetWifiInfo, nil) }
func GetPower() Request              { return getRequest(TypeGetPower, nil) }
func GetLabel() Request              { return getRequest(TypeGetLabel, nil) }
func GetVersion() Request            { return getRequest(TypeGetVersion, nil) }
func GetGroup() Request              { return getRequest(TypeGetGroup, nil) }
func GetColor() Request              { return getRequest(TypeGetColor, nil) }
func GetInfrared() Request           { return getRequest(TypeGetInfrared, nil) }
func GetHevCycle() Request           { return getRequest(TypeGetHevCycle, nil) }
func GetMultiZoneEffect() Request    { return getRequest(TypeGetMultiZoneEffect, nil) }
func GetExtendedColorZones() Request { return getRequest(TypeGetExtendedColorZones, nil) }
func GetTileEffect() Request         { return getRequest(TypeGetTileEffect, make([]byte, 2)) }

// GetColorZones asks for zones [start, end]. Devices answer with
// StateMultiZone (8 zones) or StateZone messages.
func GetColorZones(start, end uint8) Request {
	return getRequest(TypeGetColorZones, encodePayload(struct{ Start, End uint8 }{start, end}))
}

// Set requests. Each asks for an Acknowledgement.

// SetPower sets the device power level without a transition.
func SetPower(level lifxlan.Power) Request {
	return setRequest(TypeSetPower, encodePayload(uint16(level)))
}

// SetLightPower sets the power level with a transition.
func SetLightPower(level lifxlan.Power, duration time.Duration) Request {
	return setRequest(TypeSetLightPower, encodePayload(struct {
		Level    uint16
		Duration uint32
	}{uint16(level), durationMillis(duration)}))
}

// SetLabel renames the device. Labels are truncated to 32 bytes.
func SetLabel(label string) Request {
	var raw [labelSize]byte
	copy(raw[:], label)
	return setRequest(TypeSetLabel, raw[:])
}

// SetColor sets the whole device to one colour.
func SetColor(color HSBK, duration time.Duration) Request {
	return setRequest(TypeSetColor, encodePayload(struct {
		_        uint8
		Color    HSBK
		Duration uint32
	}{Color: color, Duration: durationMillis(duration)}))
}

// SetWaveformOptional starts a waveform effect.
func SetWaveformOptional(w WaveformOptional) Request {
	return setRequest(TypeSetWaveformOptional, encodePayload(struct {
		_             uint8
		Transient     uint8
		Color         HSBK
		Period        uint32
		Cycles        float32
		SkewRatio     int16
		Waveform      uint8
		SetHue        uint8
		SetSaturation uint8
		SetBrightness uint8
		SetKelvin     uint8
	}{
		Transient:     boolByte(w.Transient),
		Color:         w.Color,
		Period:        w.Period,
		Cycles:        w.Cycles,
		SkewRatio:     w.SkewRatio,
		Waveform:      uint8(w.Waveform),
		SetHue:        boolByte(w.SetHue),
		SetSaturation: boolByte(w.SetSaturation),
		SetBrightness: boolByte(w.SetBrightness),
		SetKelvin:     boolByte(w.SetKelvin),
	}))
}

// SetInfrared sets the infrared LED brightness.
func SetInfrared(brightness uint16) Request {
	return setRequest(TypeSetInfrared, encodePayload(brightness))
}

// SetHevCycle starts (enable=true) or stops a HEV cleaning cycle.
// A zero duration uses the device default.
func SetHevCycle(enable bool, duration time.Duration) Request {
	return setRequest(TypeSetHevCycle, encodePayload(struct {
		Enable   uint8
		Duration uint32
	}{boolByte(enable), uint32(duration / time.Second)})) //nolint:gosec // bounded by caller
}

// SetColorZones writes one colour to zones [start, end].
func SetColorZones(start, end uint8, color HSBK, duration time.Duration, apply ZoneApply) Request {
	return setRequest(TypeSetColorZones, encodePayload(struct {
		Start, End uint8
		Color      HSBK
		Duration   uint32
		Apply      uint8
	}{start, end, color, durationMillis(duration), uint8(apply)}))
}

// SetMultiZoneEffect starts or stops the firmware MOVE effect.
func SetMultiZoneEffect(effect MultiZoneEffectType, speed time.Duration, direction MultiZoneDirection) Request {
	p := multiZoneEffectPayload{
		Type:  uint8(effect),
		Speed: durationMillis(speed),
	}
	p.Parameters[1] = uint32(direction)
	return setRequest(TypeSetMultiZoneEffect, encodePayload(p))
}

// SetExtendedColorZones writes a full frame of zone colours. The frame is
// always 82 entries; colors beyond the first 82 are ignored and missing
// entries are sent as zero. colorsCount tells the device how many entries
// are meaningful.
func SetExtendedColorZones(colors []HSBK, colorsCount uint8, zoneIndex uint16, duration time.Duration, apply ZoneApply) Request {
	p := struct {
		Duration    uint32
		Apply       uint8
		ZoneIndex   uint16
		ColorsCount uint8
		Colors      [ExtendedZonesFrame]HSBK
	}{
		Duration:    durationMillis(duration),
		Apply:       uint8(apply),
		ZoneIndex:   zoneIndex,
		ColorsCount: colorsCount,
	}
	copy(p.Colors[:], colors)
	return setRequest(TypeSetExtendedColorZones, encodePayload(p))
}

// SetTileEffect starts or stops a firmware matrix effect. At most 16
// palette colours are sent.
func SetTileEffect(effect TileEffectType, speed time.Duration, palette []HSBK) Request {
	p := struct {
		_            [2]byte
		InstanceID   uint32
		Type         uint8
		Speed        uint32
		Duration     uint64
		_            [8]byte
		Parameters   [8]uint32
		PaletteCount uint8
		Palette      [maxPaletteSize]HSBK
	}{
		Type:  uint8(effect),
		Speed: durationMillis(speed),
	}
	p.PaletteCount = uint8(copy(p.Palette[:], palette)) //nolint:gosec // at most 16
	return setRequest(TypeSetTileEffect, encodePayload(p))
}

// Response is a decoded device message. The set of implementations is
// closed; demultiplexing switches over the concrete types.
type Response interface {
	ResponseType() MessageType
}

// StateService answers GetService.
type StateService struct {
	Service uint8
	Port    uint32
}

// StateHostFirmware carries the firmware build and version.
type StateHostFirmware struct {
	Build   uint64
	Version uint32
}

// FirmwareVersion formats the version as "major.minor".
func (s StateHostFirmware) FirmwareVersion() string {
	return fmt.Sprintf("%d.%d", s.Version>>16, s.Version&0xFFFF)
}

// StateWifiInfo carries the wifi signal in milliwatts.
type StateWifiInfo struct {
	Signal float32
}

// StatePower carries the device power level.
type StatePower struct {
	Level lifxlan.Power
}

// StateLightPower carries the light power level.
type StateLightPower struct {
	Level lifxlan.Power
}

// StateLabel carries the device label.
type StateLabel struct {
	Label string
}

// StateVersion carries the vendor and product identifiers.
type StateVersion struct {
	Vendor  uint32
	Product uint32
}

// Acknowledgement confirms a request sent with ack_required.
type Acknowledgement struct{}

// StateGroup carries the group the device belongs to.
type StateGroup struct {
	Group     [16]byte
	Label     string
	UpdatedAt uint64
}

// LightState carries colour, power and label.
type LightState struct {
	Color HSBK
	Power lifxlan.Power
	Label string
}

// StateInfrared carries the infrared LED brightness.
type StateInfrared struct {
	Brightness uint16
}

// StateHevCycle describes the current HEV cycle.
type StateHevCycle struct {
	Duration  uint32 // seconds
	Remaining uint32 // seconds
	LastPower bool
}

// StateZone carries a single zone colour.
type StateZone struct {
	Count uint8
	Index uint8
	Color HSBK
}

// StateMultiZone carries up to eight zone colours starting at Index.
type StateMultiZone struct {
	Count  uint8
	Index  uint8
	Colors [multiZoneBatch]HSBK
}

// StateMultiZoneEffect describes the running multizone effect.
type StateMultiZoneEffect struct {
	InstanceID uint32
	Effect     MultiZoneEffectType
	Speed      uint32 // milliseconds
	Duration   uint64 // nanoseconds
	Parameters [8]uint32
}

// Direction returns the MOVE direction from the effect parameters.
func (s StateMultiZoneEffect) Direction() MultiZoneDirection {
	return MultiZoneDirection(s.Parameters[1])
}

// StateExtendedColorZones carries a frame of up to 82 zone colours.
type StateExtendedColorZones struct {
	ZonesCount  uint16
	ZoneIndex   uint16
	ColorsCount uint8
	Colors      [ExtendedZonesFrame]HSBK
}

// StateTileEffect describes the running matrix effect.
type StateTileEffect struct {
	InstanceID   uint32
	Effect       TileEffectType
	Speed        uint32
	Duration     uint64
	Parameters   [8]uint32
	PaletteCount uint8
	Palette      [maxPaletteSize]HSBK
}

// UnknownResponse is any message type this package does not decode.
type UnknownResponse struct {
	Type    MessageType
	Payload []byte
}

func (StateService) ResponseType() MessageType            { return TypeStateService }
func (StateHostFirmware) ResponseType() MessageType       { return TypeStateHostFirmware }
func (StateWifiInfo) ResponseType() MessageType           { return TypeStateWifiInfo }
func (StatePower) ResponseType() MessageType              { return TypeStatePower }
func (StateLightPower) ResponseType() MessageType         { return TypeStateLightPower }
func (StateLabel) ResponseType() MessageType              { return TypeStateLabel }
func (StateVersion) ResponseType() MessageType            { return TypeStateVersion }
func (Acknowledgement) ResponseType() MessageType         { return TypeAcknowledgement }
func (StateGroup) ResponseType() MessageType              { return TypeStateGroup }
func (LightState) ResponseType() MessageType              { return TypeLightState }
func (StateInfrared) ResponseType() MessageType           { return TypeStateInfrared }
func (StateHevCycle) ResponseType() MessageType           { return TypeStateHevCycle }
func (StateZone) ResponseType() MessageType               { return TypeStateZone }
func (StateMultiZone) ResponseType() MessageType          { return TypeStateMultiZone }
func (StateMultiZoneEffect) ResponseType() MessageType    { return TypeStateMultiZoneEffect }
func (StateExtendedColorZones) ResponseType() MessageType { return TypeStateExtendedColorZones }
func (StateTileEffect) ResponseType() MessageType         { return TypeStateTileEffect }
func (u UnknownResponse) ResponseType() MessageType       { return u.Type }

type multiZoneEffectPayload struct {
	InstanceID uint32
	Type       uint8
	_          [2]byte
	Speed      uint32
	Duration   uint64
	_          [8]byte
	Parameters [8]uint32
}

// DecodeResponse decodes the payload of a received packet.
//
// Parameters:
//   - t: message type from the header
//   - payload: raw payload bytes
//
// Returns:
//   - Response: concrete state type, or UnknownResponse for other types
//   - error: ErrInvalidPacket if the payload is shorter than the type needs
func DecodeResponse(t MessageType, payload []byte) (Response, error) {
	switch t {
	case TypeStateService:
		var p StateService
		return p, decodePayload(t, payload, &p)

	case TypeStateHostFirmware:
		var p struct {
			Build   uint64
			_       uint64
			Version uint32
		}
		err := decodePayload(t, payload, &p)
		return StateHostFirmware{Build: p.Build, Version: p.Version}, err

	case TypeStateWifiInfo:
		var p StateWifiInfo
		return p, decodePayload(t, payload, &p)

	case TypeStatePower, TypeStateLightPower:
		var level uint16
		err := decodePayload(t, payload, &level)
		if t == TypeStateLightPower {
			return StateLightPower{Level: lifxlan.Power(level)}, err
		}
		return StatePower{Level: lifxlan.Power(level)}, err

	case TypeStateLabel:
		var raw [labelSize]byte
		err := decodePayload(t, payload, &raw)
		return StateLabel{Label: trimLabel(raw[:])}, err

	case TypeStateVersion:
		var p StateVersion
		return p, decodePayload(t, payload, &p)

	case TypeAcknowledgement:
		return Acknowledgement{}, nil

	case TypeStateGroup:
		var p struct {
			Group     [16]byte
			Label     [labelSize]byte
			UpdatedAt uint64
		}
		err := decodePayload(t, payload, &p)
		return StateGroup{Group: p.Group, Label: trimLabel(p.Label[:]), UpdatedAt: p.UpdatedAt}, err

	case TypeLightState:
		var p struct {
			Color HSBK
			_     int16
			Power uint16
			Label [labelSize]byte
			_     uint64
		}
		err := decodePayload(t, payload, &p)
		return LightState{Color: p.Color, Power: lifxlan.Power(p.Power), Label: trimLabel(p.Label[:])}, err

	case TypeStateInfrared:
		var p StateInfrared
		return p, decodePayload(t, payload, &p)

	case TypeStateHevCycle:
		var p struct {
			Duration  uint32
			Remaining uint32
			LastPower uint8
		}
		err := decodePayload(t, payload, &p)
		return StateHevCycle{Duration: p.Duration, Remaining: p.Remaining, LastPower: p.LastPower != 0}, err

	case TypeStateZone:
		var p StateZone
		return p, decodePayload(t, payload, &p)

	case TypeStateMultiZone:
		var p StateMultiZone
		return p, decodePayload(t, payload, &p)

	case TypeStateMultiZoneEffect:
		var p multiZoneEffectPayload
		err := decodePayload(t, payload, &p)
		return StateMultiZoneEffect{
			InstanceID: p.InstanceID,
			Effect:     MultiZoneEffectType(p.Type),
			Speed:      p.Speed,
			Duration:   p.Duration,
			Parameters: p.Parameters,
		}, err

	case TypeStateExtendedColorZones:
		var p StateExtendedColorZones
		return p, decodePayload(t, payload, &p)

	case TypeStateTileEffect:
		var p struct {
			_            uint8
			InstanceID   uint32
			Type         uint8
			Speed        uint32
			Duration     uint64
			_            [8]byte
			Parameters   [8]uint32
			PaletteCount uint8
			Palette      [maxPaletteSize]HSBK
		}
		err := decodePayload(t, payload, &p)
		return StateTileEffect{
			InstanceID:   p.InstanceID,
			Effect:       TileEffectType(p.Type),
			Speed:        p.Speed,
			Duration:     p.Duration,
			Parameters:   p.Parameters,
			PaletteCount: p.PaletteCount,
			Palette:      p.Palette,
		}, err
	}

	return UnknownResponse{Type: t, Payload: payload}, nil
}

// decodePayload reads a fixed-size little-endian value from payload.
// Trailing bytes beyond the value are ignored.
func decodePayload(t MessageType, payload []byte, v any) error {
	need := binary.Size(v)
	if len(payload) < need {
		return fmt.Errorf("%w: %s payload is %d bytes, need %d", ErrInvalidPacket, t, len(payload), need)
	}
	if err := binary.Read(bytes.NewReader(payload[:need]), binary.LittleEndian, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPacket, t, err)
	}
	return nil
}

// encodePayload writes a fixed-size value little-endian.
func encodePayload(v any) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		// Only reachable with a non fixed-size value, which is a programming error.
		panic(fmt.Sprintf("lifx: encode %T: %v", v, err))
	}
	return buf.Bytes()
}

func trimLabel(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func durationMillis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	switch {
	case ms <= 0:
		return 0
	case ms > math.MaxUint32:
		return math.MaxUint32
	default:
		return uint32(ms)
	}
}
