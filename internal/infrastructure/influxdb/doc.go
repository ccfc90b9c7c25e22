// Package influxdb records device performance and connection history in
// InfluxDB v2.
//
// Measurements:
//   - device_sysperf: one point per SystemPerformance sample, tagged by
//     device_id and platform
//   - device_connection: one point per connect attempt, tagged with the
//     phase that finished it
//
// Writes are non-blocking and batched (batch_size, flush_interval). When
// influxdb.enabled is false Connect returns ErrDisabled and callers skip
// recording.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { logger.Warn("influx write", "error", err) })
//	client.WriteSystemPerformance(deviceID, platform, sample.Fields(), time.Now())
package influxdb
