package lifx

// applyResponse merges a response into the device record. Each response
// kind updates only the fields it owns.
//
// While the record still has the wildcard serial, a concrete target in the
// response replaces it before any other field is merged. Once concrete, the
// serial never changes back.
//
// Returns false for kinds that carry no record state (acknowledgements,
// wifi info, service, unknown types).
func (d *Device) applyResponse(target Serial, resp Response) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.serial.IsWildcard() && !target.IsWildcard() {
		d.serial = target
	}

	switch r := resp.(type) {
	case StateLabel:
		d.label, d.labelKnown = r.Label, true

	case StateGroup:
		d.group, d.groupKnown = r.Label, true

	case StateHostFirmware:
		d.firmware = r.FirmwareVersion()

	case StateVersion:
		d.vendor = r.Vendor
		d.productID = r.Product
		if d.product == nil {
			p, _ := LookupProduct(r.Product)
			d.product = &p
		}

	case LightState:
		d.color = r.Color
		d.power = r.Power
		d.label, d.labelKnown = r.Label, true

	case StatePower:
		d.power = r.Level

	case StateLightPower:
		d.power = r.Level

	case StateInfrared:
		v := r.Brightness
		d.infrared = &v

	case StateHevCycle:
		d.hev = &HEVCycle{Duration: r.Duration, Remaining: r.Remaining, LastPower: r.LastPower}

	case StateMultiZone:
		d.zonesCount = int(r.Count)
		end := min(int(r.Index)+multiZoneBatch, int(r.Count))
		for zone := int(r.Index); zone < end; zone++ {
			d.mergeZone(zone, r.Colors[zone-int(r.Index)])
		}

	case StateZone:
		d.zonesCount = int(r.Count)
		if int(r.Index) < int(r.Count) {
			d.mergeZone(int(r.Index), r.Color)
		}

	case StateExtendedColorZones:
		d.applyExtendedZones(r)

	case StateMultiZoneEffect:
		e := &EffectState{Effect: r.Effect.String()}
		if r.Effect != MultiZoneEffectOff {
			e.Speed = float64(r.Speed) / 1000
			e.Duration = float64(r.Duration) / 1e9
			e.Direction = r.Direction().String()
		}
		d.effect = e

	case StateTileEffect:
		d.effect = &EffectState{Effect: r.Effect.String()}
		if r.Effect != TileEffectOff {
			d.effect.Speed = float64(r.Speed) / 1000
			d.effect.Duration = float64(r.Duration) / 1e9
		}

	case StateWifiInfo, StateService, Acknowledgement, UnknownResponse:
		return false
	}
	return true
}

// mergeZone sets zone to c, growing the list as needed. Gaps created by
// growth are filled with c so the list never has holes; the list never
// shrinks.
func (d *Device) mergeZone(zone int, c HSBK) {
	for len(d.zones) <= zone {
		d.zones = append(d.zones, c)
	}
	d.zones[zone] = c
}

// applyExtendedZones replaces the zones covered by one extended frame.
func (d *Device) applyExtendedZones(r StateExtendedColorZones) {
	count := int(r.ZonesCount)
	d.zonesCount = count

	if len(d.zones) < count {
		grown := make([]HSBK, count)
		copy(grown, d.zones)
		d.zones = grown
	} else {
		d.zones = d.zones[:count]
	}

	start := int(r.ZoneIndex)
	n := min(int(r.ColorsCount), ExtendedZonesFrame)
	for i := 0; i < n && start+i < count; i++ {
		d.zones[start+i] = r.Colors[i]
	}
}
