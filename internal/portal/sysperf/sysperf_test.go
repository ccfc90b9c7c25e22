package sysperf

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devportal-core/internal/portal"
)

var sample = SystemPerformance{
	AvailablePages:     100,
	CommitLimit:        5000,
	CommittedPages:     900,
	CPULoad:            42,
	PageSize:           4096,
	TotalPages:         1100,
	TotalInstalledInKb: 4400,
	IOReadSpeed:        12,
	NetworkingData:     &NetworkingData{NetworkInBytes: 10, NetworkOutBytes: 20},
	GPUData: &GPUData{AvailableAdapters: []GPUAdapter{
		{Description: "GPU0", DedicatedMemoryUsed: 300, SystemMemoryUsed: 5},
		{Description: "GPU1", DedicatedMemoryUsed: 200, SystemMemoryUsed: 7},
	}},
}

func newSession(t *testing.T, h http.Handler) *portal.Session {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	d, err := portal.NewDescriptor(srv.URL, portal.Credentials{Username: "admin", Password: "pw"})
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	s, err := portal.NewSession(d, portal.Options{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestClient_Get(t *testing.T) {
	body, _ := json.Marshal(sample)
	quoted, _ := json.Marshal(string(body))

	tests := []struct {
		name string
		body []byte
	}{
		{"plain", body},
		{"envelope", []byte(`{"Reason":` + string(quoted) + `}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/"+portal.SystemPerfPath {
					http.NotFound(w, r)
					return
				}
				_, _ = w.Write(tt.body)
			}))

			got, err := New(s).Get(context.Background())
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.CPULoad != 42 || got.NetworkingData.NetworkOutBytes != 20 {
				t.Errorf("Get() = %+v", got)
			}
		})
	}
}

func TestSystemPerformance_Fields(t *testing.T) {
	p := sample
	fields := p.Fields()

	checks := map[string]any{
		"cpu_load":                  42,
		"memory_used_bytes":         int64(1000 * 4096),
		"network_in_bytes":          int64(10),
		"gpu_dedicated_memory_used": int64(500),
		"gpu_system_memory_used":    int64(12),
		"io_read_speed":             int64(12),
	}
	for k, want := range checks {
		if fields[k] != want {
			t.Errorf("Fields()[%q] = %v (%T), want %v", k, fields[k], fields[k], want)
		}
	}

	bare := SystemPerformance{AvailablePages: 10, TotalPages: 5}
	bf := bare.Fields()
	if _, ok := bf["network_in_bytes"]; ok {
		t.Error("network fields present without NetworkingData")
	}
	if bf["memory_used_bytes"] != int64(0) {
		t.Errorf("memory_used_bytes = %v, want 0 when available exceeds total", bf["memory_used_bytes"])
	}
}

func TestClient_Stream(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s := newSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck
		for i := 0; i < 3; i++ {
			p := sample
			p.CPULoad = i
			if err := conn.WriteJSON(p); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	var mu sync.Mutex
	var loads []int
	ch, err := New(s).Stream(context.Background(), func(p *SystemPerformance) {
		mu.Lock()
		loads = append(loads, p.CPULoad)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(loads)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := ch.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(loads) != 3 || loads[0] != 0 || loads[2] != 2 {
		t.Errorf("streamed loads = %v, want [0 1 2]", loads)
	}
}
