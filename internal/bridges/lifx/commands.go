package lifx

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.yhsif.com/lifxlan"
)

// identifyPowerDuration is the power transition used by Identify.
const identifyPowerDuration = time.Second

// DefaultHEVDuration is the HEV cycle length used when none is given.
const DefaultHEVDuration = 2 * time.Hour

// SetPower switches the device on or off over duration.
func (c *Coordinator) SetPower(ctx context.Context, on bool, duration time.Duration) error {
	if err := c.setPower(ctx, on, duration); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

func (c *Coordinator) setPower(ctx context.Context, on bool, duration time.Duration) error {
	var level lifxlan.Power = lifxlan.PowerOff
	if on {
		level = lifxlan.PowerOn
	}

	req := SetPower(level)
	if duration > 0 {
		req = SetLightPower(level, duration)
	}
	_, err := c.call(ctx, req)
	return err
}

// SetColor merges change over the current colour and sends it.
func (c *Coordinator) SetColor(ctx context.Context, change ColorChange, duration time.Duration) error {
	if change.IsEmpty() {
		return fmt.Errorf("%w: colour change sets no field", ErrInvalidParameter)
	}
	color := MergeHSBK(c.device.Color(), change)
	if _, err := c.call(ctx, SetColor(color, duration)); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// SetZoneColors applies change to the given zones of a multizone device.
//
// With no zones and a change that sets both brightness and kelvin, the
// whole strip is set with a single SetColor. Otherwise one SetColorZones is
// sent per distinct target zone (all zones when none are given), each merged
// over that zone's last known colour. Every write but the last is buffered
// on the device (apply=0); the last commits the batch (apply=1).
func (c *Coordinator) SetZoneColors(ctx context.Context, change ColorChange, zones []int, duration time.Duration) error {
	features := c.device.Features()
	if !features.Multizone && !features.ExtendedMultizone {
		return fmt.Errorf("%w: %s is not a multizone device", ErrUnsupported, c.SerialNumber())
	}
	if change.IsEmpty() {
		return fmt.Errorf("%w: colour change sets no field", ErrInvalidParameter)
	}

	if len(zones) == 0 && change.Brightness != nil && change.Kelvin != nil {
		return c.SetColor(ctx, change, duration)
	}

	numZones := len(c.device.Zones())
	if numZones == 0 {
		numZones = c.device.ZonesCount()
	}
	targets := targetZones(zones, numZones)
	if len(targets) == 0 {
		return fmt.Errorf("%w: no zone below %d in %v", ErrInvalidParameter, numZones, zones)
	}

	// Zone brightness is not reported while the device is off.
	if !c.device.Power().On() && change.Brightness == nil {
		if err := c.readZonesPoweredOn(ctx, features); err != nil {
			return err
		}
	}

	current := c.device.Zones()
	for i, zone := range targets {
		var base HSBK
		if zone < len(current) {
			base = current[zone]
		}
		apply := ApplyNoApply
		if i == len(targets)-1 {
			apply = ApplyApply
		}
		z := uint8(zone) //nolint:gosec // zones are below the device count (< 256)
		if _, err := c.call(ctx, SetColorZones(z, z, MergeHSBK(base, change), duration, apply)); err != nil {
			return err
		}
	}

	c.RequestRefresh()
	return nil
}

// readZonesPoweredOn briefly powers the device on to read real zone
// colours and then powers it off again.
func (c *Coordinator) readZonesPoweredOn(ctx context.Context, features Features) error {
	if err := c.setPower(ctx, true, 0); err != nil {
		return err
	}
	if err := sleepContext(ctx, c.cfg.ZoneSettleDelay); err != nil {
		return err
	}
	if err := c.refreshZones(ctx, features); err != nil {
		return err
	}
	if err := c.setPower(ctx, false, 0); err != nil {
		return err
	}
	return sleepContext(ctx, c.cfg.ZoneSettleDelay)
}

// targetZones returns the distinct zones below numZones in ascending order,
// or every zone when zones is empty.
func targetZones(zones []int, numZones int) []int {
	if len(zones) == 0 {
		all := make([]int, numZones)
		for i := range all {
			all[i] = i
		}
		return all
	}

	out := make([]int, 0, len(zones))
	for _, z := range zones {
		if z >= 0 && z < numZones {
			out = append(out, z)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// SetExtendedZones writes a full zone frame. The frame is padded with
// (0,0,0,0) to 82 entries; colors_count stays the caller's length.
func (c *Coordinator) SetExtendedZones(ctx context.Context, colors []HSBK, duration time.Duration, apply ZoneApply) error {
	if !c.device.Features().ExtendedMultizone {
		return fmt.Errorf("%w: %s does not support extended zones", ErrUnsupported, c.SerialNumber())
	}
	if len(colors) > ExtendedZonesFrame {
		return fmt.Errorf("%w: %d colours exceed the %d-zone frame", ErrInvalidParameter, len(colors), ExtendedZonesFrame)
	}

	frame := make([]HSBK, ExtendedZonesFrame)
	copy(frame, colors)

	//nolint:gosec // len(colors) <= 82
	if _, err := c.call(ctx, SetExtendedColorZones(frame, uint8(len(colors)), 0, duration, apply)); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// SetMultiZoneEffect starts or stops the MOVE effect on a multizone
// device. With powerOn set, a device that is off is switched on first.
func (c *Coordinator) SetMultiZoneEffect(ctx context.Context, effect MultiZoneEffectType, speed time.Duration, direction MultiZoneDirection, powerOn bool) error {
	if !c.device.Features().Multizone {
		return fmt.Errorf("%w: %s is not a multizone device", ErrUnsupported, c.SerialNumber())
	}
	if powerOn && c.device.Power() == lifxlan.PowerOff {
		if err := c.setPower(ctx, true, 0); err != nil {
			return err
		}
	}
	if _, err := c.call(ctx, SetMultiZoneEffect(effect, speed, direction)); err != nil {
		return err
	}

	c.mu.Lock()
	c.activeEffect = firmwareEffectFromName(effect.String())
	c.mu.Unlock()

	c.RequestRefresh()
	return nil
}

// SetMatrixEffect starts or stops a firmware effect on a matrix device.
func (c *Coordinator) SetMatrixEffect(ctx context.Context, effect TileEffectType, palette []HSBK, speed time.Duration, powerOn bool) error {
	if !c.device.Features().Matrix {
		return fmt.Errorf("%w: %s is not a matrix device", ErrUnsupported, c.SerialNumber())
	}
	if len(palette) > maxPaletteSize {
		return fmt.Errorf("%w: palette has %d colours, at most %d allowed", ErrInvalidParameter, len(palette), maxPaletteSize)
	}
	if powerOn && c.device.Power() == lifxlan.PowerOff {
		if err := c.setPower(ctx, true, 0); err != nil {
			return err
		}
	}
	if _, err := c.call(ctx, SetTileEffect(effect, speed, palette)); err != nil {
		return err
	}

	c.mu.Lock()
	c.activeEffect = firmwareEffectFromName(effect.String())
	c.mu.Unlock()

	c.RequestRefresh()
	return nil
}

// SetInfrared sets the infrared LED brightness.
func (c *Coordinator) SetInfrared(ctx context.Context, brightness uint16) error {
	if !c.device.Features().Infrared {
		return fmt.Errorf("%w: %s has no infrared LEDs", ErrUnsupported, c.SerialNumber())
	}
	if _, err := c.call(ctx, SetInfrared(brightness)); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// SetInfraredOption sets the infrared brightness from an option label:
// "Disabled", "25%", "50%" or "100%".
func (c *Coordinator) SetInfraredOption(ctx context.Context, option string) error {
	brightness, ok := InfraredBrightness(option)
	if !ok {
		return fmt.Errorf("%w: unknown infrared option %q", ErrInvalidParameter, option)
	}
	return c.SetInfrared(ctx, brightness)
}

// SetHEVCycle starts or stops a HEV cleaning cycle. A zero duration uses
// DefaultHEVDuration when starting.
func (c *Coordinator) SetHEVCycle(ctx context.Context, enable bool, duration time.Duration) error {
	if !c.device.Features().HEV {
		return fmt.Errorf("%w: %s has no HEV LEDs", ErrUnsupported, c.SerialNumber())
	}
	if enable && duration <= 0 {
		duration = DefaultHEVDuration
	}
	if _, err := c.call(ctx, SetHevCycle(enable, duration)); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// SetWaveformOptional sends a waveform effect.
func (c *Coordinator) SetWaveformOptional(ctx context.Context, w WaveformOptional) error {
	if _, err := c.call(ctx, SetWaveformOptional(w)); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// Identify pulses the device. A device that is off is switched on for the
// pulse, left on for IdentifyDelay and switched off again. The steps run in
// sequence; cancelling ctx aborts the wait.
func (c *Coordinator) Identify(ctx context.Context) error {
	if c.device.Power().On() {
		return c.SetWaveformOptional(ctx, IdentifyWaveform)
	}

	if err := c.setPower(ctx, true, identifyPowerDuration); err != nil {
		return err
	}
	if _, err := c.call(ctx, SetWaveformOptional(IdentifyWaveform)); err != nil {
		return err
	}
	if err := sleepContext(ctx, c.cfg.IdentifyDelay); err != nil {
		return err
	}
	if err := c.setPower(ctx, false, identifyPowerDuration); err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Device returns the record the coordinator owns.
func (c *Coordinator) Device() *Device {
	return c.device
}

// Snapshot returns the device state together with coordinator-owned
// telemetry (RSSI and active effect).
func (c *Coordinator) Snapshot() Snapshot {
	s := c.device.Snapshot()

	c.mu.Lock()
	s.RSSI = c.rssi
	s.ActiveEffect = c.activeEffect.String()
	c.mu.Unlock()
	return s
}

// SerialNumber returns the protocol serial, which is not the hardware MAC.
func (c *Coordinator) SerialNumber() string {
	return c.device.Serial().String()
}

// MACAddress returns the hardware MAC derived from serial and firmware.
func (c *Coordinator) MACAddress() string {
	return RealMAC(c.device.Serial(), c.device.Firmware()).String()
}

// Label returns the device label.
func (c *Coordinator) Label() string {
	label, _ := c.device.Label()
	return label
}

// Model returns the product name.
func (c *Coordinator) Model() string {
	p, _ := c.device.Product()
	return p.Name
}

// Features returns the capability set.
func (c *Coordinator) Features() Features {
	return c.device.Features()
}

// RSSI returns the last signal strength in dBm; 0 until RSSI is enabled
// and polled.
func (c *Coordinator) RSSI() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rssi
}

// ActiveEffect returns the firmware effect the device is running.
func (c *Coordinator) ActiveEffect() FirmwareEffect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeEffect
}

// HEVCycleActive reports whether a HEV cycle is running. ok is false until
// the HEV state has been read.
func (c *Coordinator) HEVCycleActive() (active, ok bool) {
	hev := c.device.HEV()
	if hev == nil {
		return false, false
	}
	return hev.Remaining > 0, true
}

// InfraredOption returns the infrared brightness as an option label.
func (c *Coordinator) InfraredOption() (string, bool) {
	brightness, ok := c.device.Infrared()
	if !ok {
		return "", false
	}
	return InfraredOption(brightness)
}

// Diagnostics returns device details for troubleshooting.
func (c *Coordinator) Diagnostics() map[string]any {
	snap := c.device.Snapshot()
	features := snap.Features

	diag := map[string]any{
		"firmware":         snap.Firmware,
		"vendor":           snap.Vendor,
		"product_id":       snap.ProductID,
		"model":            snap.Model,
		"features":         features,
		"hue":              snap.Color.Hue,
		"saturation":       snap.Color.Saturation,
		"brightness":       snap.Color.Brightness,
		"kelvin":           snap.Color.Kelvin,
		"power":            uint16(snap.Power),
		"soft_disconnects": c.SoftDisconnects(),
		"state":            c.State().String(),
	}

	if features.Multizone || features.ExtendedMultizone {
		state := make(map[int]map[string]uint16, len(snap.Zones))
		for i, z := range snap.Zones {
			state[i] = map[string]uint16{
				"hue":        z.Hue,
				"saturation": z.Saturation,
				"brightness": z.Brightness,
				"kelvin":     z.Kelvin,
			}
		}
		diag["zones"] = map[string]any{"count": snap.ZonesCount, "state": state}
	}
	if features.HEV {
		diag["hev"] = map[string]any{"hev_cycle": snap.HEV}
	}
	if features.Infrared {
		diag["infrared"] = map[string]any{"brightness": snap.Infrared}
	}

	if s, ok := c.sender.(interface{ Stats() ConnectionStats }); ok {
		diag["connection"] = s.Stats()
	}
	c.limiter.addStats(diag)
	return diag
}
