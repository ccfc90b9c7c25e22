//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// These tests need a broker at 127.0.0.1:1883:
//
//	go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_CommandRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "devportal-int-roundtrip"

	client, err := Connect(cfg, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	var (
		mu       sync.Mutex
		received = make(chan string, 1)
	)
	err = client.Subscribe(Topics{}.AllDeviceCommands(), 1, func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		id, _ := Topics{}.DeviceIDFromTopic(topic)
		received <- id + ":" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllDeviceCommands()) {
		t.Error("subscription not tracked")
	}

	if err := client.PublishJSON(Topics{}.DeviceCommand("lab-07"), map[string]string{"command": "connect"}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case got := <-received:
		if got != `lab-07:{"command":"connect"}` {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for command")
	}

	if err := client.Unsubscribe(Topics{}.AllDeviceCommands()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
}

func TestIntegration_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg, nil); err == nil {
		t.Fatal("Connect() expected error for unreachable broker")
	}
}
