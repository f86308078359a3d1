package lifx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// commandAction runs a parsed command against a coordinator.
type commandAction func(ctx context.Context) error

// commandParser validates the parameters of one command and returns the
// action to run. Parse errors are reported before the accepted ack.
type commandParser func(c *Coordinator, p commandParams) (commandAction, error)

var commandParsers = map[string]commandParser{
	"turn_on":            parseTurnOn,
	"turn_off":           parseTurnOff,
	"set_color":          parseSetColor,
	"set_zones":          parseSetZones,
	"set_extended_zones": parseSetExtendedZones,
	"multizone_effect":   parseMultiZoneEffect,
	"matrix_effect":      parseMatrixEffect,
	"set_infrared":       parseSetInfrared,
	"hev_cycle":          parseHEVCycle,
	"identify":           parseIdentify,
	"refresh":            parseRefresh,
}

// handleMQTTMessage routes an incoming MQTT message. Commands run on their
// own goroutine so a slow device never holds up the MQTT client.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[1] != "command" || parts[2] != Protocol {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	serial, err := ParseSerial(parts[3])
	if err != nil {
		b.logError("invalid serial in command topic", err)
		return
	}

	select {
	case <-b.done:
		return
	default:
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.handleCommand(serial, payload)
	}()
}

// handleCommand processes a command message from Core and acknowledges it.
func (b *Bridge) handleCommand(serial Serial, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = serial.String()
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"serial", serial.String(),
		"command", cmd.Command)

	m := b.device(serial)
	if m == nil {
		b.publishAckError(cmd, serial, ErrCodeNotConfigured,
			fmt.Sprintf("device %s not registered", serial))
		return
	}

	parse, ok := commandParsers[cmd.Command]
	if !ok {
		b.publishAckError(cmd, serial, ErrCodeUnknownCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
		return
	}

	action, err := parse(m.coord, commandParams(cmd.Parameters))
	if err != nil {
		b.publishAckError(cmd, serial, errorCode(err), err.Error())
		return
	}

	b.publishAck(cmd, serial, AckAccepted)

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.CommandTimeout)
	defer cancel()

	if err := action(ctx); err != nil {
		b.publishAckError(cmd, serial, errorCode(err), err.Error())
		return
	}

	m.mu.Lock()
	m.commandPending = true
	m.mu.Unlock()
}

// errorCode maps a command error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidParameter):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrUnsupported):
		return ErrCodeUnsupported
	case errors.Is(err, ErrUpdateFailed),
		errors.Is(err, ErrSetupFailed),
		errors.Is(err, ErrClosed),
		errors.Is(err, ErrUnknownDevice):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrRequestTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeBridgeError
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, serial Serial, status AckStatus) {
	ack := NewAckMessage(cmd, status, serial)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(serial), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, serial Serial, code, message string) {
	ack := NewAckError(cmd, serial, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(serial), payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed",
		fmt.Errorf("command=%s code=%s message=%s", cmd.Command, code, message))
}

// Command parsers

func parseTurnOn(c *Coordinator, p commandParams) (commandAction, error) {
	change, err := p.colorChange()
	if err != nil {
		return nil, err
	}
	duration, err := p.duration("duration")
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		if !change.IsEmpty() {
			// A light that is off takes the colour instantly and fades in
			// through the power transition.
			colorDuration := duration
			if !c.Snapshot().On {
				colorDuration = 0
			}
			if err := c.SetColor(ctx, change, colorDuration); err != nil {
				return err
			}
		}
		return c.SetPower(ctx, true, duration)
	}, nil
}

func parseTurnOff(c *Coordinator, p commandParams) (commandAction, error) {
	duration, err := p.duration("duration")
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return c.SetPower(ctx, false, duration)
	}, nil
}

func parseSetColor(c *Coordinator, p commandParams) (commandAction, error) {
	change, err := p.colorChange()
	if err != nil {
		return nil, err
	}
	if change.IsEmpty() {
		return nil, fmt.Errorf("%w: set_color needs hue, saturation, brightness or kelvin", ErrInvalidParameter)
	}
	duration, err := p.duration("duration")
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return c.SetColor(ctx, change, duration)
	}, nil
}

func parseSetZones(c *Coordinator, p commandParams) (commandAction, error) {
	change, err := p.colorChange()
	if err != nil {
		return nil, err
	}
	if change.IsEmpty() {
		return nil, fmt.Errorf("%w: set_zones needs hue, saturation, brightness or kelvin", ErrInvalidParameter)
	}
	zones, err := p.ints("zones", 0, math.MaxUint8)
	if err != nil {
		return nil, err
	}
	duration, err := p.duration("duration")
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return c.SetZoneColors(ctx, change, zones, duration)
	}, nil
}

func parseSetExtendedZones(c *Coordinator, p commandParams) (commandAction, error) {
	colors, err := p.colors("colors")
	if err != nil {
		return nil, err
	}
	if len(colors) == 0 {
		return nil, fmt.Errorf("%w: colors is required", ErrInvalidParameter)
	}
	duration, err := p.duration("duration")
	if err != nil {
		return nil, err
	}
	apply, err := p.boolean("apply", true)
	if err != nil {
		return nil, err
	}
	mode := ApplyApply
	if !apply {
		mode = ApplyNoApply
	}
	return func(ctx context.Context) error {
		return c.SetExtendedZones(ctx, colors, duration, mode)
	}, nil
}

func parseMultiZoneEffect(c *Coordinator, p commandParams) (commandAction, error) {
	name, err := p.str("effect", "move")
	if err != nil {
		return nil, err
	}
	effect, err := ParseMultiZoneEffect(name)
	if err != nil {
		return nil, err
	}
	speed, err := p.speed()
	if err != nil {
		return nil, err
	}
	dirName, err := p.str("direction", "right")
	if err != nil {
		return nil, err
	}
	direction, err := ParseDirection(dirName)
	if err != nil {
		return nil, err
	}
	powerOn, err := p.boolean("power_on", true)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return c.SetMultiZoneEffect(ctx, effect, speed, direction, powerOn)
	}, nil
}

func parseMatrixEffect(c *Coordinator, p commandParams) (commandAction, error) {
	name, err := p.str("effect", "morph")
	if err != nil {
		return nil, err
	}
	effect, err := ParseTileEffect(name)
	if err != nil {
		return nil, err
	}
	speed, err := p.speed()
	if err != nil {
		return nil, err
	}
	palette, err := p.colors("palette")
	if err != nil {
		return nil, err
	}
	powerOn, err := p.boolean("power_on", true)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return c.SetMatrixEffect(ctx, effect, palette, speed, powerOn)
	}, nil
}

// parseSetInfrared accepts either an option label or a raw brightness.
func parseSetInfrared(c *Coordinator, p commandParams) (commandAction, error) {
	if _, ok := p["option"]; ok {
		option, err := p.str("option", "")
		if err != nil {
			return nil, err
		}
		if _, ok := InfraredBrightness(option); !ok {
			return nil, fmt.Errorf("%w: unknown infrared option %q", ErrInvalidParameter, option)
		}
		return func(ctx context.Context) error {
			return c.SetInfraredOption(ctx, option)
		}, nil
	}

	brightness, ok, err := p.number("brightness", 0, math.MaxUint16)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: set_infrared needs option or brightness", ErrInvalidParameter)
	}
	return func(ctx context.Context) error {
		return c.SetInfrared(ctx, uint16(brightness))
	}, nil
}

func parseHEVCycle(c *Coordinator, p commandParams) (commandAction, error) {
	enable, err := p.boolean("enable", true)
	if err != nil {
		return nil, err
	}
	duration, err := p.duration("duration")
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		return c.SetHEVCycle(ctx, enable, duration)
	}, nil
}

func parseIdentify(c *Coordinator, _ commandParams) (commandAction, error) {
	return c.Identify, nil
}

// parseRefresh schedules a debounced poll; the ack does not wait for it.
func parseRefresh(c *Coordinator, _ commandParams) (commandAction, error) {
	return func(context.Context) error {
		c.RequestRefresh()
		return nil
	}, nil
}

// commandParams reads typed values from CommandMessage.Parameters, which
// holds whatever encoding/json produced: float64, string, bool, []any and
// map[string]any.
type commandParams map[string]any

// maxTransition bounds durations and effect speeds.
const maxTransition = 24 * time.Hour

// defaultEffectSpeed is the effect period used when none is given.
const defaultEffectSpeed = 3 * time.Second

// number returns the numeric parameter key, checked against [lo, hi].
// ok is false when the parameter is absent.
func (p commandParams) number(key string, lo, hi float64) (v float64, ok bool, err error) {
	raw, present := p[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	v, isNum := raw.(float64)
	if !isNum {
		return 0, false, fmt.Errorf("%w: %s must be a number", ErrInvalidParameter, key)
	}
	if math.IsNaN(v) || v < lo || v > hi {
		return 0, false, fmt.Errorf("%w: %s must be %g-%g, got %g", ErrInvalidParameter, key, lo, hi, v)
	}
	return v, true, nil
}

func (p commandParams) boolean(key string, def bool) (bool, error) {
	raw, present := p[key]
	if !present || raw == nil {
		return def, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", ErrInvalidParameter, key)
	}
	return v, nil
}

func (p commandParams) str(key, def string) (string, error) {
	raw, present := p[key]
	if !present || raw == nil {
		return def, nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParameter, key)
	}
	return v, nil
}

// duration reads a transition time in seconds.
func (p commandParams) duration(key string) (time.Duration, error) {
	v, ok, err := p.number(key, 0, maxTransition.Seconds())
	if err != nil || !ok {
		return 0, err
	}
	return time.Duration(v * float64(time.Second)), nil
}

// speed reads an effect period in seconds.
func (p commandParams) speed() (time.Duration, error) {
	v, ok, err := p.number("speed", 0.1, maxTransition.Seconds())
	if err != nil {
		return 0, err
	}
	if !ok {
		return defaultEffectSpeed, nil
	}
	return time.Duration(v * float64(time.Second)), nil
}

func (p commandParams) ints(key string, lo, hi int) ([]int, error) {
	raw, present := p[key]
	if !present || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list of numbers", ErrInvalidParameter, key)
	}
	out := make([]int, 0, len(list))
	for i, item := range list {
		v, ok := item.(float64)
		if !ok || v != math.Trunc(v) || v < float64(lo) || v > float64(hi) {
			return nil, fmt.Errorf("%w: %s[%d] must be an integer %d-%d", ErrInvalidParameter, key, i, lo, hi)
		}
		out = append(out, int(v))
	}
	return out, nil
}

// colorChange reads the user-facing colour fields: hue in degrees,
// saturation in percent, brightness 0-255 and kelvin.
func (p commandParams) colorChange() (ColorChange, error) {
	var change ColorChange

	if v, ok, err := p.number("hue", 0, 360); err != nil {
		return change, err
	} else if ok {
		h := uint16(math.Round(v / 360 * math.MaxUint16))
		change.Hue = &h
	}
	if v, ok, err := p.number("saturation", 0, 100); err != nil {
		return change, err
	} else if ok {
		s := uint16(math.Round(v / 100 * math.MaxUint16))
		change.Saturation = &s
	}
	if v, ok, err := p.number("brightness", 0, math.MaxUint8); err != nil {
		return change, err
	} else if ok {
		b := Convert8To16(uint8(math.Round(v)))
		change.Brightness = &b
	}
	if v, ok, err := p.number("kelvin", 1500, 9000); err != nil {
		return change, err
	} else if ok {
		k := uint16(v)
		change.Kelvin = &k
	}
	return change, nil
}

// colors reads a list of colour objects. Missing fields default to an
// unsaturated 3500K at full brightness.
func (p commandParams) colors(key string) ([]HSBK, error) {
	raw, present := p[key]
	if !present || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list of colours", ErrInvalidParameter, key)
	}

	base := HSBK{Brightness: math.MaxUint16, Kelvin: 3500}
	out := make([]HSBK, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] must be an object", ErrInvalidParameter, key, i)
		}
		change, err := commandParams(obj).colorChange()
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out = append(out, MergeHSBK(base, change))
	}
	return out, nil
}
