package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devportal-core/internal/infrastructure/config"
	"github.com/nerrad567/devportal-core/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and captures line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu    sync.Mutex
	lines []string
	query string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.query = r.URL.RawQuery
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func connectFake(t *testing.T) (*influxdb.Client, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := influxdb.Connect(config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "devportal-test-token",
		Org:           "devportal",
		Bucket:        "devices",
		BatchSize:     100,
		FlushInterval: 60,
	})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return client, fake
}

func TestConnect_Disabled(t *testing.T) {
	client, err := influxdb.Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client while disabled")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(config.InfluxDBConfig{Enabled: true, URL: url})
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHealthCheck(t *testing.T) {
	client, _ := connectFake(t)

	if !client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close() //nolint:errcheck // closed on purpose
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestWriteSystemPerformance(t *testing.T) {
	client, fake := connectFake(t)

	at := time.Unix(1_700_000_000, 0)
	client.WriteSystemPerformance("lab-07", "Raspberry Pi 3", map[string]any{
		"cpu_load":          42,
		"memory_used_bytes": int64(1 << 20),
	}, at)
	client.WriteSystemPerformance("lab-07", "Raspberry Pi 3", nil, at)
	client.Flush()

	lines := fake.snapshot()
	if len(lines) != 1 {
		t.Fatalf("wrote %d lines, want 1: %v", len(lines), lines)
	}
	line := lines[0]
	for _, want := range []string{
		"device_sysperf,",
		"device_id=lab-07",
		`platform=Raspberry\ Pi\ 3`,
		"cpu_load=42i",
		"memory_used_bytes=1048576i",
		"1700000000000000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if !strings.Contains(fake.query, "bucket=devices") {
		t.Errorf("write query = %q", fake.query)
	}
}

func TestWriteConnectionResult(t *testing.T) {
	client, fake := connectFake(t)

	client.WriteConnectionResult(influxdb.ConnectionResult{
		DeviceID:   "xbox",
		Platform:   "Xbox One",
		Succeeded:  false,
		Phase:      "RequestingOperatingSystemInformation",
		HTTPStatus: 401,
		Duration:   1500 * time.Millisecond,
	})
	client.Flush()

	lines := fake.snapshot()
	if len(lines) != 1 {
		t.Fatalf("wrote %d lines, want 1", len(lines))
	}
	for _, want := range []string{
		"device_connection,",
		"phase=RequestingOperatingSystemInformation",
		"succeeded=false",
		"http_status=401i",
		"duration_ms=1500i",
	} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
}

func TestWrite_AfterCloseIsNoop(t *testing.T) {
	client, fake := connectFake(t)
	client.Close() //nolint:errcheck // closed on purpose

	client.WritePoint("device_sysperf", map[string]string{"device_id": "x"}, map[string]any{"cpu_load": 1})
	client.Flush()

	if got := fake.snapshot(); len(got) != 0 {
		t.Errorf("wrote %d lines after Close", len(got))
	}
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
