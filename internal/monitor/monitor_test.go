package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devportal-core/internal/audit"
	"github.com/nerrad567/devportal-core/internal/device"
	"github.com/nerrad567/devportal-core/internal/infrastructure/config"
	"github.com/nerrad567/devportal-core/internal/infrastructure/database"
	"github.com/nerrad567/devportal-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/devportal-core/internal/portal"
	"github.com/nerrad567/devportal-core/internal/portal/sysperf"
)

// fakeDevice answers the Portal endpoints the monitor uses.
type fakeDevice struct {
	mu       sync.Mutex
	calls    []string
	restarts int
	names    []string
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (f *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if r.Method == http.MethodGet {
		http.SetCookie(w, &http.Cookie{Name: "CSRF-Token", Value: "tok", Path: "/"})
	}

	switch r.URL.Path {
	case "/" + portal.DeviceFamilyPath:
		_, _ = w.Write([]byte(`{"DeviceType":"Windows.Desktop"}`))
	case "/" + portal.OSInfoPath:
		_, _ = w.Write([]byte(`{"ComputerName":"LAB-07","OsVersion":"10.0.19041.1","Platform":"Windows Desktop"}`))
	case "/" + portal.HTTPSRequirementPath:
		_, _ = w.Write([]byte(`{"HttpsRequired":false}`))
	case "/api/control/restart":
		f.mu.Lock()
		f.restarts++
		f.mu.Unlock()
	case "/api/control/shutdown":
	case "/" + portal.MachineNamePath:
		if r.Method == http.MethodPost {
			f.mu.Lock()
			f.names = append(f.names, r.URL.Query().Get("name"))
			f.mu.Unlock()
		}
	case "/" + portal.SystemPerfPath:
		if websocket.IsWebSocketUpgrade(r) {
			f.stream(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"CpuLoad":17,"PageSize":4096,"TotalPages":10,"AvailablePages":4}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeDevice) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close() //nolint:errcheck // Test cleanup
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"CpuLoad":55,"PageSize":4096}`)); err != nil {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *fakeDevice) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

// recordingSink captures everything fanned out by the monitor.
type recordingSink struct {
	mu      sync.Mutex
	events  []portal.ConnectionStatusEvent
	results []ConnectResult
	samples []*sysperf.SystemPerformance
}

func (s *recordingSink) ConnectionStatus(_ string, ev portal.ConnectionStatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) ConnectResult(r ConnectResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

func (s *recordingSink) SystemPerformance(_, _ string, p *sysperf.SystemPerformance, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, p)
}

func (s *recordingSink) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

type testEnv struct {
	registry  *device.Registry
	auditRepo *audit.SQLiteRepository
	sink      *recordingSink
	fake      *fakeDevice
	srv       *httptest.Server
	mon       *Monitor
}

func newTestEnv(t *testing.T, streamPerf bool) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "monitor.db")})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	auditRepo := audit.NewSQLiteRepository(db.DB)

	fake := &fakeDevice{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sink := &recordingSink{}
	cfg := config.PortalConfig{
		Password: "pw",
		Monitor:  config.PortalMonitorConfig{StreamSystemPerf: streamPerf},
	}
	mon, err := New(cfg, registry, Options{
		Audit:         audit.NewRecorder(auditRepo, audit.SourceMonitor, nil),
		Sinks:         []Sink{sink},
		RetryInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(mon.Stop)

	return &testEnv{registry: registry, auditRepo: auditRepo, sink: sink, fake: fake, srv: srv, mon: mon}
}

func (e *testEnv) addDevice(t *testing.T, name, address string) *device.Device {
	t.Helper()
	d := &device.Device{Name: name, Address: address, Username: "admin"}
	if err := e.registry.CreateDevice(context.Background(), d); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	return d
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(config.PortalConfig{}, nil, Options{}); err == nil {
		t.Error("New(nil registry) should fail")
	}

	registry := device.NewRegistry(nil)
	cfg := config.PortalConfig{CertificateFile: filepath.Join(t.TempDir(), "missing.pem")}
	if _, err := New(cfg, registry, Options{}); err == nil {
		t.Error("New() with missing certificate file should fail")
	}
}

func TestMonitor_Connect(t *testing.T) {
	env := newTestEnv(t, false)
	d := env.addDevice(t, "lab-07", env.srv.URL)

	got, err := env.mon.Connect(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got.LastStatus != "Connected" || got.Platform != "Windows" || got.ComputerName != "LAB-07" {
		t.Errorf("Connect() device = %+v", got)
	}
	if got.LastConnectedAt == nil {
		t.Error("LastConnectedAt not set")
	}

	env.sink.mu.Lock()
	defer env.sink.mu.Unlock()
	if len(env.sink.events) == 0 {
		t.Fatal("no status events fanned out")
	}
	last := env.sink.events[len(env.sink.events)-1]
	if last.Status != portal.StatusConnected || last.Phase != portal.PhaseIdle {
		t.Errorf("last event = %+v, want Connected/Idle", last)
	}
	if len(env.sink.results) != 1 || !env.sink.results[0].Succeeded || env.sink.results[0].Platform != "Windows" {
		t.Errorf("results = %+v", env.sink.results)
	}
}

func TestMonitor_Connect_Failure(t *testing.T) {
	env := newTestEnv(t, false)

	dead := httptest.NewServer(http.NotFoundHandler())
	addr := dead.URL
	dead.Close()
	d := env.addDevice(t, "gone", addr)

	if _, err := env.mon.Connect(context.Background(), d.ID); !errors.Is(err, portal.ErrConnectFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectFailed", err)
	}

	stored, err := env.registry.GetDevice(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if stored.LastStatus != "Failed" {
		t.Errorf("LastStatus = %q, want Failed", stored.LastStatus)
	}
	if stored.LastPhase != portal.PhaseRequestingOperatingSystemInformation.String() {
		t.Errorf("LastPhase = %q, want the OS information phase", stored.LastPhase)
	}

	env.sink.mu.Lock()
	defer env.sink.mu.Unlock()
	if len(env.sink.results) != 1 || env.sink.results[0].Succeeded {
		t.Fatalf("results = %+v", env.sink.results)
	}
	if env.sink.results[0].Phase != portal.PhaseRequestingOperatingSystemInformation {
		t.Errorf("result phase = %v", env.sink.results[0].Phase)
	}
}

func TestMonitor_Connect_UnknownDevice(t *testing.T) {
	env := newTestEnv(t, false)
	if _, err := env.mon.Connect(context.Background(), "nope"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Connect() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestMonitor_Operations(t *testing.T) {
	env := newTestEnv(t, false)
	d := env.addDevice(t, "lab-07", env.srv.URL)
	ctx := context.Background()

	perf, err := env.mon.SystemPerformance(ctx, d.ID)
	if err != nil {
		t.Fatalf("SystemPerformance() error = %v", err)
	}
	if perf.CPULoad != 17 {
		t.Errorf("CPULoad = %d, want 17", perf.CPULoad)
	}
	if env.sink.sampleCount() != 1 {
		t.Errorf("samples fanned out = %d, want 1", env.sink.sampleCount())
	}

	// The session from the first call is reused.
	if _, err := env.mon.SystemPerformance(ctx, d.ID); err != nil {
		t.Fatalf("SystemPerformance() error = %v", err)
	}
	if n := env.fake.count("GET /" + portal.DeviceFamilyPath); n != 1 {
		t.Errorf("connects = %d, want 1", n)
	}

	if err := env.mon.Rename(ctx, d.ID, "LAB-08"); err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if err := env.mon.Restart(ctx, d.ID); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if _, ok := env.mon.cached(d.ID); ok {
		t.Error("session kept after restart")
	}
	if err := env.mon.Shutdown(ctx, d.ID); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := env.fake.count("GET /" + portal.DeviceFamilyPath); n != 2 {
		t.Errorf("connects = %d, want 2 after restart", n)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"restart", `{"action":"restart"}`, nil},
		{"rename", `{"action":"rename","name":"LAB-08"}`, nil},
		{"rename without name", `{"action":"rename"}`, ErrInvalidCommand},
		{"missing action", `{}`, ErrInvalidCommand},
		{"garbage", `not json`, ErrInvalidCommand},
		{"unknown", `{"action":"format"}`, ErrUnknownAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommand([]byte(tt.payload))
			if tt.wantErr == nil && err != nil {
				t.Errorf("ParseCommand() error = %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ParseCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMonitor_HandleMQTTCommand(t *testing.T) {
	env := newTestEnv(t, false)
	d := env.addDevice(t, "lab-07", env.srv.URL)

	if err := env.mon.HandleMQTTCommand("devportal/command/lab-07", []byte(`{"action":"restart"}`)); err != nil {
		t.Fatalf("HandleMQTTCommand() error = %v", err)
	}
	env.fake.mu.Lock()
	restarts := env.fake.restarts
	env.fake.mu.Unlock()
	if restarts != 1 {
		t.Errorf("restarts = %d, want 1", restarts)
	}

	res, err := env.auditRepo.List(context.Background(), audit.Filter{Action: audit.ActionRestart})
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	if len(res.Logs) != 1 || res.Logs[0].Source != audit.SourceMQTT || res.Logs[0].EntityID != d.ID {
		t.Errorf("audit = %+v", res.Logs)
	}

	if err := env.mon.HandleMQTTCommand("devportal/system/status", []byte(`{"action":"restart"}`)); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("system topic error = %v, want ErrInvalidTopic", err)
	}
	if err := env.mon.HandleMQTTCommand("devportal/command/missing", []byte(`{"action":"restart"}`)); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("unknown device error = %v, want ErrDeviceNotFound", err)
	}
}

func TestMonitor_HandleNATSCommand(t *testing.T) {
	env := newTestEnv(t, false)
	d := env.addDevice(t, "lab-07", env.srv.URL)

	result, err := env.mon.HandleNATSCommand(d.ID, []byte(`{"action":"sysperf"}`))
	if err != nil {
		t.Fatalf("HandleNATSCommand() error = %v", err)
	}
	perf, ok := result.(*sysperf.SystemPerformance)
	if !ok || perf.CPULoad != 17 {
		t.Errorf("result = %#v", result)
	}

	// sysperf is a read and is not audited.
	res, err := env.auditRepo.List(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("audit total = %d, want 0", res.Total)
	}

	result, err = env.mon.HandleNATSCommand(d.ID, []byte(`{"action":"connect"}`))
	if err != nil {
		t.Fatalf("connect command error = %v", err)
	}
	if dev, ok := result.(*device.Device); !ok || dev.LastStatus != "Connected" {
		t.Errorf("connect result = %#v", result)
	}
	res, _ = env.auditRepo.List(context.Background(), audit.Filter{Action: audit.ActionConnect}) //nolint:errcheck // checked above
	if len(res.Logs) != 1 || res.Logs[0].Source != audit.SourceNATS {
		t.Errorf("connect audit = %+v", res.Logs)
	}
}

func TestMonitor_StartStreamsAndStops(t *testing.T) {
	env := newTestEnv(t, true)
	d := env.addDevice(t, "lab-07", env.srv.URL)

	env.mon.Start(context.Background())

	waitFor(t, "streamed sample", func() bool { return env.sink.sampleCount() > 0 })
	if ids := env.mon.Watching(); len(ids) != 1 || ids[0] != d.ID {
		t.Errorf("Watching() = %v", ids)
	}

	env.sink.mu.Lock()
	cpu := env.sink.samples[0].CPULoad
	env.sink.mu.Unlock()
	if cpu != 55 {
		t.Errorf("streamed CPULoad = %d, want 55", cpu)
	}

	env.mon.Stop()
	if ids := env.mon.Watching(); len(ids) != 0 {
		t.Errorf("Watching() after Stop = %v", ids)
	}
}

func TestMonitor_ReconcileFollowsRegistry(t *testing.T) {
	env := newTestEnv(t, false)
	env.mon.Start(context.Background())

	d := env.addDevice(t, "late", env.srv.URL)
	waitFor(t, "worker for new device", func() bool { return len(env.mon.Watching()) == 1 })
	waitFor(t, "connect", func() bool {
		dev, err := env.registry.GetDevice(context.Background(), d.ID)
		return err == nil && dev.LastStatus == "Connected"
	})

	if err := env.registry.DeleteDevice(context.Background(), d.ID); err != nil {
		t.Fatalf("DeleteDevice: %v", err)
	}
	waitFor(t, "worker removal", func() bool { return len(env.mon.Watching()) == 0 })
}

type fakeMQTT struct {
	mu       sync.Mutex
	topics   []string
	retained []bool
}

func (f *fakeMQTT) PublishJSON(topic string, _ any, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.retained = append(f.retained, retained)
	return nil
}

type fakeNATS struct {
	subjects []string
	payloads [][]byte
}

func (f *fakeNATS) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

type fakeMetrics struct {
	samples     int
	connections []influxdb.ConnectionResult
}

func (f *fakeMetrics) WriteSystemPerformance(string, string, map[string]any, time.Time) { f.samples++ }
func (f *fakeMetrics) WriteConnectionResult(r influxdb.ConnectionResult) {
	f.connections = append(f.connections, r)
}

type fakeHub struct {
	channels []string
}

func (f *fakeHub) Broadcast(channel string, _ any) { f.channels = append(f.channels, channel) }

func TestSinks(t *testing.T) {
	ev := portal.ConnectionStatusEvent{Status: portal.StatusConnected, Phase: portal.PhaseIdle, HTTPStatus: 200}
	sample := &sysperf.SystemPerformance{CPULoad: 9}
	now := time.Now()
	result := ConnectResult{DeviceID: "d1", Platform: "Windows", Succeeded: false, Phase: portal.PhaseDeterminingConnectionRequirements, HTTPStatus: 500}

	mq := &fakeMQTT{}
	ms := NewMQTTSink(mq, nil)
	ms.ConnectionStatus("d1", ev)
	ms.ConnectResult(result)
	ms.SystemPerformance("d1", "Windows", sample, now)
	if len(mq.topics) != 2 || mq.topics[0] != "devportal/status/d1" || !mq.retained[0] || mq.topics[1] != "devportal/sysperf/d1" || mq.retained[1] {
		t.Errorf("mqtt publishes = %v retained=%v", mq.topics, mq.retained)
	}

	nc := &fakeNATS{}
	ns := NewNATSSink(nc, nil)
	ns.ConnectionStatus("d1", ev)
	ns.SystemPerformance("d1", "Windows", sample, now)
	if len(nc.subjects) != 2 || nc.subjects[0] != "devportal.device.d1.status" {
		t.Errorf("nats subjects = %v", nc.subjects)
	}
	var status map[string]any
	if err := json.Unmarshal(nc.payloads[0], &status); err != nil {
		t.Fatalf("status payload: %v", err)
	}
	if status["device_id"] != "d1" || status["status"] != "Connected" || status["phase"] != "Idle" {
		t.Errorf("status payload = %v", status)
	}

	mw := &fakeMetrics{}
	is := NewInfluxSink(mw)
	is.ConnectionStatus("d1", ev)
	is.ConnectResult(result)
	is.SystemPerformance("d1", "Windows", sample, now)
	if mw.samples != 1 || len(mw.connections) != 1 {
		t.Fatalf("influx writes: samples=%d connections=%d", mw.samples, len(mw.connections))
	}
	if mw.connections[0].Phase != "DeterminingConnectionRequirements" || mw.connections[0].Succeeded {
		t.Errorf("connection point = %+v", mw.connections[0])
	}

	hub := &fakeHub{}
	hs := NewHubSink(hub)
	hs.ConnectionStatus("d1", ev)
	hs.SystemPerformance("d1", "Windows", sample, now)
	if len(hub.channels) != 2 || hub.channels[0] != "connection.status" || hub.channels[1] != "device.sysperf" {
		t.Errorf("hub channels = %v", hub.channels)
	}
}
