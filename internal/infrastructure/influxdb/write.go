package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementLight is the measurement that holds per-light telemetry.
const MeasurementLight = "lifx_light"

// LightTelemetry is one polled sample of a light.
type LightTelemetry struct {
	Serial     string
	Label      string
	On         bool
	Hue        uint16
	Saturation uint16
	Brightness uint8 // 0-255, 0 when off
	Kelvin     uint16
	RSSI       int // 0 when not measured
	Time       time.Time
}

// WriteLightTelemetry records a light sample. The write is non-blocking;
// points are batched and sent asynchronously.
//
// Example:
//
//	client.WriteLightTelemetry(influxdb.LightTelemetry{
//	    Serial: "d073d5010203", Label: "Kitchen", On: true, Brightness: 255, Kelvin: 3500,
//	})
func (c *Client) WriteLightTelemetry(t LightTelemetry) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(lightPoint(t))
}

func lightPoint(t LightTelemetry) *write.Point {
	ts := t.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{"serial": t.Serial}
	if t.Label != "" {
		tags["label"] = t.Label
	}

	fields := map[string]interface{}{
		"on":         t.On,
		"hue":        int64(t.Hue),
		"saturation": int64(t.Saturation),
		"brightness": int64(t.Brightness),
		"kelvin":     int64(t.Kelvin),
	}
	if t.RSSI != 0 {
		fields["rssi"] = int64(t.RSSI)
	}

	return write.NewPoint(MeasurementLight, tags, fields, ts)
}
