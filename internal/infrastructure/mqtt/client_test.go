package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/devportal-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "devportal-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type capturedLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *capturedLog) record(level, msg string) {
	l.mu.Lock()
	l.lines = append(l.lines, level+" "+msg)
	l.mu.Unlock()
}

func (l *capturedLog) Info(msg string, _ ...any)  { l.record("INFO", msg) }
func (l *capturedLog) Warn(msg string, _ ...any)  { l.record("WARN", msg) }
func (l *capturedLog) Error(msg string, _ ...any) { l.record("ERROR", msg) }

func (l *capturedLog) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	client, err := Connect(cfg, nil)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client while disabled")
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig(), nil)

	if c.IsConnected() {
		t.Fatal("IsConnected() = true before Connect")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Publish("devportal/status/lab-07", []byte("{}"), 1, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	noop := func(string, []byte) error { return nil }
	if err := c.Subscribe(Topics{}.AllDeviceCommands(), 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if c.HasSubscription(Topics{}.AllDeviceCommands()) {
		t.Error("failed Subscribe left a tracked subscription")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	c := newClient(testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := newClient(testConfig(), nil)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"wildcard topic", "devportal/status/+", nil, 1, ErrInvalidTopic},
		{"bad qos", "devportal/status/lab", nil, 3, ErrInvalidQoS},
		{"oversized", "devportal/status/lab", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishJSON_EncodeError(t *testing.T) {
	c := newClient(testConfig(), nil)

	err := c.PublishJSON("devportal/status/lab", map[string]any{"bad": make(chan int)}, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newClient(testConfig(), nil)
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("devportal/#", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("devportal/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe empty error = %v", err)
	}
}

func TestDispatch_RecoversAndLogs(t *testing.T) {
	log := &capturedLog{}
	c := newClient(testConfig(), log)

	c.dispatch(func(string, []byte) error { panic("boom") }, "devportal/command/lab", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad command") }, "devportal/command/lab", nil)

	if !log.contains("ERROR mqtt handler panic recovered") {
		t.Error("panic was not logged")
	}
	if !log.contains("WARN mqtt handler returned error") {
		t.Error("handler error was not logged")
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceStatus", topics.DeviceStatus("lab-07"), "devportal/status/lab-07"},
		{"DeviceSysPerf", topics.DeviceSysPerf("lab-07"), "devportal/sysperf/lab-07"},
		{"DeviceCommand", topics.DeviceCommand("lab-07"), "devportal/command/lab-07"},
		{"AllDeviceCommands", topics.AllDeviceCommands(), "devportal/command/+"},
		{"AllDeviceStatus", topics.AllDeviceStatus(), "devportal/status/+"},
		{"SystemStatus", topics.SystemStatus(), "devportal/system/status"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestDeviceIDFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"devportal/command/lab-07", "lab-07", true},
		{"devportal/status/xbox", "xbox", true},
		{"devportal/system/status", "", false},
		{"devportal/command/", "", false},
		{"other/command/lab-07", "", false},
		{"devportal/command/lab/extra", "", false},
	}
	for _, tt := range tests {
		got, ok := Topics{}.DeviceIDFromTopic(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("DeviceIDFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Auth = config.MQTTAuthConfig{Username: "portal", Password: "pw"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.Username != "portal" || opts.Password != "pw" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set with broker.tls")
	}
	if !opts.WillEnabled || opts.WillTopic != "devportal/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var will SystemStatus
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if will.Status != "offline" || will.Reason != "unexpected_disconnect" || will.ClientID != "devportal-test" {
		t.Errorf("will = %+v", will)
	}
}
