// Package influxdb provides InfluxDB connectivity for the LIFX bridge.
//
// It wraps the official influxdb-client-go v2 library. Each successful poll
// of a light becomes one point in the lifx_light measurement, tagged by
// serial and label, with power, colour and signal strength fields.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteLightTelemetry(influxdb.LightTelemetry{Serial: "d073d5010203", On: true})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; failures are
// delivered to the SetOnError callback.
package influxdb
