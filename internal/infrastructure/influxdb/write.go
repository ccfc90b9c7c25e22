package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSystemPerf = "device_sysperf"
	MeasurementConnection = "device_connection"
)

// ConnectionResult summarises one connect attempt against a device.
type ConnectionResult struct {
	DeviceID   string
	Platform   string
	Succeeded  bool
	Phase      string
	HTTPStatus int
	Duration   time.Duration
	At         time.Time
}

// WriteSystemPerformance records one performance sample for a device.
// fields is typically SystemPerformance.Fields(). Empty samples are dropped.
//
// Example:
//
//	client.WriteSystemPerformance("lab-07", "Raspberry Pi 3", sample.Fields(), time.Now())
func (c *Client) WriteSystemPerformance(deviceID, platform string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementSystemPerf,
		map[string]string{
			"device_id": deviceID,
			"platform":  platform,
		},
		fields,
		at,
	))
}

// WriteConnectionResult records the outcome of a connect attempt.
// Phase is a tag so failures can be grouped by the step that failed.
func (c *Client) WriteConnectionResult(r ConnectionResult) {
	if !c.IsConnected() {
		return
	}

	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementConnection,
		map[string]string{
			"device_id": r.DeviceID,
			"platform":  r.Platform,
			"phase":     r.Phase,
		},
		map[string]any{
			"succeeded":   r.Succeeded,
			"http_status": r.HTTPStatus,
			"duration_ms": r.Duration.Milliseconds(),
		},
		at,
	))
}

// WritePoint writes an arbitrary point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
