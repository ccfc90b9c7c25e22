package monitor

import (
	"time"

	"github.com/nerrad567/devportal-core/internal/api"
	"github.com/nerrad567/devportal-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/devportal-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devportal-core/internal/infrastructure/natsbus"
	"github.com/nerrad567/devportal-core/internal/portal"
	"github.com/nerrad567/devportal-core/internal/portal/sysperf"
)

// Sink receives everything the monitor observes. Implementations must not
// block for long: they run on device worker goroutines.
type Sink interface {
	// ConnectionStatus is called for every connect progress event.
	ConnectionStatus(deviceID string, ev portal.ConnectionStatusEvent)

	// ConnectResult is called once per finished connect attempt.
	ConnectResult(r ConnectResult)

	// SystemPerformance is called for every performance sample.
	SystemPerformance(deviceID, platform string, sample *sysperf.SystemPerformance, at time.Time)
}

// ConnectResult summarises one connect attempt.
type ConnectResult struct {
	DeviceID   string                 `json:"device_id"`
	Platform   string                 `json:"platform"`
	Succeeded  bool                   `json:"succeeded"`
	Phase      portal.ConnectionPhase `json:"phase"`
	HTTPStatus int                    `json:"http_status,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Duration   time.Duration          `json:"duration"`
	At         time.Time              `json:"at"`
}

// StatusMessage is the published form of a connection status event.
type StatusMessage struct {
	DeviceID string `json:"device_id"`
	portal.ConnectionStatusEvent
}

// SampleMessage is the published form of a performance sample.
type SampleMessage struct {
	DeviceID  string                     `json:"device_id"`
	Platform  string                     `json:"platform"`
	Sample    *sysperf.SystemPerformance `json:"sample"`
	Timestamp time.Time                  `json:"timestamp"`
}

// MQTTPublisher is the subset of *mqtt.Client used by MQTTSink.
type MQTTPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTSink publishes retained device status and live samples to MQTT.
type MQTTSink struct {
	client MQTTPublisher
	topics mqtt.Topics
	logger Logger
}

// NewMQTTSink creates an MQTT sink.
func NewMQTTSink(client MQTTPublisher, logger Logger) *MQTTSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTSink{client: client, logger: logger}
}

// ConnectionStatus publishes the event as the device's retained status.
func (s *MQTTSink) ConnectionStatus(deviceID string, ev portal.ConnectionStatusEvent) {
	msg := StatusMessage{DeviceID: deviceID, ConnectionStatusEvent: ev}
	if err := s.client.PublishJSON(s.topics.DeviceStatus(deviceID), msg, true); err != nil {
		s.logger.Warn("mqtt status publish failed", "device", deviceID, "error", err)
	}
}

// ConnectResult is covered by the retained status and is not published.
func (s *MQTTSink) ConnectResult(ConnectResult) {}

// SystemPerformance publishes the sample.
func (s *MQTTSink) SystemPerformance(deviceID, platform string, sample *sysperf.SystemPerformance, at time.Time) {
	msg := SampleMessage{DeviceID: deviceID, Platform: platform, Sample: sample, Timestamp: at}
	if err := s.client.PublishJSON(s.topics.DeviceSysPerf(deviceID), msg, false); err != nil {
		s.logger.Warn("mqtt sysperf publish failed", "device", deviceID, "error", err)
	}
}

// NATSPublisher is the subset of *natsbus.Client used by NATSSink.
type NATSPublisher interface {
	PublishJSON(subject string, v any) error
}

// NATSSink publishes status, connect results and samples to NATS.
type NATSSink struct {
	client   NATSPublisher
	subjects natsbus.Subjects
	logger   Logger
}

// NewNATSSink creates a NATS sink.
func NewNATSSink(client NATSPublisher, logger Logger) *NATSSink {
	if logger == nil {
		logger = noopLogger{}
	}
	return &NATSSink{client: client, logger: logger}
}

// ConnectionStatus publishes the event.
func (s *NATSSink) ConnectionStatus(deviceID string, ev portal.ConnectionStatusEvent) {
	msg := StatusMessage{DeviceID: deviceID, ConnectionStatusEvent: ev}
	if err := s.client.PublishJSON(s.subjects.DeviceStatus(deviceID), msg); err != nil {
		s.logger.Warn("nats status publish failed", "device", deviceID, "error", err)
	}
}

// ConnectResult is covered by the final status event.
func (s *NATSSink) ConnectResult(ConnectResult) {}

// SystemPerformance publishes the sample.
func (s *NATSSink) SystemPerformance(deviceID, platform string, sample *sysperf.SystemPerformance, at time.Time) {
	msg := SampleMessage{DeviceID: deviceID, Platform: platform, Sample: sample, Timestamp: at}
	if err := s.client.PublishJSON(s.subjects.DeviceSysPerf(deviceID), msg); err != nil {
		s.logger.Warn("nats sysperf publish failed", "device", deviceID, "error", err)
	}
}

// MetricsWriter is the subset of *influxdb.Client used by InfluxSink.
type MetricsWriter interface {
	WriteSystemPerformance(deviceID, platform string, fields map[string]any, at time.Time)
	WriteConnectionResult(r influxdb.ConnectionResult)
}

// InfluxSink writes connect results and samples as time series.
type InfluxSink struct {
	writer MetricsWriter
}

// NewInfluxSink creates an InfluxDB sink.
func NewInfluxSink(writer MetricsWriter) *InfluxSink {
	return &InfluxSink{writer: writer}
}

// ConnectionStatus is not recorded; only finished attempts are.
func (s *InfluxSink) ConnectionStatus(string, portal.ConnectionStatusEvent) {}

// ConnectResult writes one device_connection point.
func (s *InfluxSink) ConnectResult(r ConnectResult) {
	s.writer.WriteConnectionResult(influxdb.ConnectionResult{
		DeviceID:   r.DeviceID,
		Platform:   r.Platform,
		Succeeded:  r.Succeeded,
		Phase:      r.Phase.String(),
		HTTPStatus: r.HTTPStatus,
		Duration:   r.Duration,
		At:         r.At,
	})
}

// SystemPerformance writes one device_sysperf point.
func (s *InfluxSink) SystemPerformance(deviceID, platform string, sample *sysperf.SystemPerformance, at time.Time) {
	s.writer.WriteSystemPerformance(deviceID, platform, sample.Fields(), at)
}

// Broadcaster is the interface for WebSocket fan-out. *api.Hub satisfies it.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// The API routes live device operations to the monitor.
var _ api.DeviceController = (*Monitor)(nil)

// HubSink forwards status and samples to WebSocket subscribers.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink creates a WebSocket hub sink.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

// ConnectionStatus broadcasts on the connection status channel.
func (s *HubSink) ConnectionStatus(deviceID string, ev portal.ConnectionStatusEvent) {
	s.hub.Broadcast(api.ChannelConnectionStatus, StatusMessage{DeviceID: deviceID, ConnectionStatusEvent: ev})
}

// ConnectResult is covered by the final status event.
func (s *HubSink) ConnectResult(ConnectResult) {}

// SystemPerformance broadcasts on the sysperf channel.
func (s *HubSink) SystemPerformance(deviceID, platform string, sample *sysperf.SystemPerformance, at time.Time) {
	s.hub.Broadcast(api.ChannelDeviceSysPerf, SampleMessage{DeviceID: deviceID, Platform: platform, Sample: sample, Timestamp: at})
}
