// Package monitor keeps registered devices connected.
//
// A Monitor owns one Portal session per device. In serve mode it runs a
// worker per registered device that connects, retries failed connects on a
// fixed interval and, when enabled, streams system performance samples.
// Connection progress and samples fan out to Sinks (MQTT, NATS, InfluxDB and
// the WebSocket hub).
//
// The Monitor also executes on-demand operations (connect, restart,
// shutdown, rename, sysperf) for the REST API and for commands arriving on
// MQTT or NATS.
package monitor
