package portal

import (
	"errors"
	"net/url"
	"testing"
)

func TestNewDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantURL string
		wantWS  string
		wantErr bool
	}{
		{name: "bare host defaults to http", address: "10.0.0.5", wantURL: "http://10.0.0.5/", wantWS: "ws://10.0.0.5/"},
		{name: "host and port", address: "10.0.0.5:8080", wantURL: "http://10.0.0.5:8080/", wantWS: "ws://10.0.0.5:8080/"},
		{name: "https keeps scheme", address: "https://10.0.0.5:11443", wantURL: "https://10.0.0.5:11443/", wantWS: "wss://10.0.0.5:11443/"},
		{name: "path and query dropped", address: "https://device.local/api?x=1", wantURL: "https://device.local/", wantWS: "wss://device.local/"},
		{name: "uppercase scheme", address: "HTTPS://device.local", wantURL: "https://device.local/", wantWS: "wss://device.local/"},
		{name: "empty", address: "  ", wantErr: true},
		{name: "unsupported scheme", address: "ftp://device.local", wantErr: true},
		{name: "missing host", address: "https://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDescriptor(tt.address, Credentials{})
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("NewDescriptor(%q) error = %v, want ErrInvalidAddress", tt.address, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDescriptor(%q) error = %v", tt.address, err)
			}
			if got := d.BaseURL().String(); got != tt.wantURL {
				t.Errorf("BaseURL() = %q, want %q", got, tt.wantURL)
			}
			if got := d.WebSocketURL().String(); got != tt.wantWS {
				t.Errorf("WebSocketURL() = %q, want %q", got, tt.wantWS)
			}
		})
	}
}

func TestDescriptor_WebSocketFollowsScheme(t *testing.T) {
	d, err := NewDescriptor("10.0.0.5:50080", Credentials{})
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}

	d.SetRequiresHTTPS(true)
	if !d.RequiresHTTPS() {
		t.Error("RequiresHTTPS() = false after SetRequiresHTTPS(true)")
	}
	if got := d.WebSocketURL().String(); got != "wss://10.0.0.5:50080/" {
		t.Errorf("WebSocketURL() = %q, want wss with same authority", got)
	}

	d.SetRequiresHTTPS(false)
	if got := d.WebSocketURL().String(); got != "ws://10.0.0.5:50080/" {
		t.Errorf("WebSocketURL() = %q, want ws with same authority", got)
	}
}

func TestDescriptor_BaseURLIsCopy(t *testing.T) {
	d, _ := NewDescriptor("10.0.0.5", Credentials{})
	u := d.BaseURL()
	u.Host = "evil.example"

	if d.Address() != "10.0.0.5" {
		t.Errorf("Address() = %q, mutation of returned URL leaked", d.Address())
	}
}

func TestDescriptor_ResolveURL(t *testing.T) {
	d, _ := NewDescriptor("https://10.0.0.5:11443", Credentials{})

	q := url.Values{}
	q.Set("ssid", "a b")
	got := d.ResolveURL("api/wifi/network", q).String()
	want := "https://10.0.0.5:11443/api/wifi/network?ssid=a+b"
	if got != want {
		t.Errorf("ResolveURL() = %q, want %q", got, want)
	}

	if got := d.ResolveURL("/api/os/info", nil).String(); got != "https://10.0.0.5:11443/api/os/info" {
		t.Errorf("ResolveURL() with leading slash = %q", got)
	}

	if got := d.ResolveWebSocketURL(SystemPerfPath, nil).String(); got != "wss://10.0.0.5:11443/api/resourcemanager/systemperf" {
		t.Errorf("ResolveWebSocketURL() = %q", got)
	}
}

func TestDescriptor_UpdateConnection(t *testing.T) {
	cfg := &IPConfiguration{
		Adapters: []NetworkAdapter{
			{Name: "loopback", IPAddresses: []IPAddress{{Address: "127.0.0.1"}}},
			{Name: "eth0", IPAddresses: []IPAddress{
				{Address: "169.254.1.1"},
				{Address: "0.0.0.0"},
				{Address: "10.0.0.5"},
			}},
		},
	}

	tests := []struct {
		name          string
		address       string
		requiresHTTPS bool
		want          string
	}{
		{name: "keeps port, http", address: "192.168.1.10:8080", requiresHTTPS: false, want: "http://10.0.0.5:8080/"},
		{name: "keeps port, switches to https", address: "192.168.1.10:8080", requiresHTTPS: true, want: "https://10.0.0.5:8080/"},
		{name: "no port", address: "https://192.168.1.10", requiresHTTPS: false, want: "http://10.0.0.5/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := NewDescriptor(tt.address, Credentials{})
			if !d.UpdateConnection(cfg, tt.requiresHTTPS) {
				t.Fatal("UpdateConnection() = false, want true")
			}
			if got := d.BaseURL().String(); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescriptor_UpdateConnection_NoUsableAddress(t *testing.T) {
	d, _ := NewDescriptor("192.168.1.10:8080", Credentials{})
	cfg := &IPConfiguration{Adapters: []NetworkAdapter{{IPAddresses: []IPAddress{
		{Address: "169.254.7.7"},
		{Address: "127.0.0.1"},
		{Address: "not-an-ip"},
	}}}}

	if d.UpdateConnection(cfg, true) {
		t.Fatal("UpdateConnection() = true, want false")
	}
	if got := d.BaseURL().String(); got != "http://192.168.1.10:8080/" {
		t.Errorf("BaseURL() = %q, descriptor should be unchanged", got)
	}
	if d.UpdateConnection(nil, true) {
		t.Error("UpdateConnection(nil) = true, want false")
	}
}

func TestDescriptor_UpdateConnection_IPv6(t *testing.T) {
	d, _ := NewDescriptor("192.168.1.10:8080", Credentials{})
	cfg := &IPConfiguration{Adapters: []NetworkAdapter{{IPAddresses: []IPAddress{{Address: "fd00::5"}}}}}

	if !d.UpdateConnection(cfg, false) {
		t.Fatal("UpdateConnection() = false")
	}
	if got := d.Address(); got != "[fd00::5]:8080" {
		t.Errorf("Address() = %q, want [fd00::5]:8080", got)
	}
}

func TestCredentials_IsAutomation(t *testing.T) {
	if !(Credentials{Username: "auto-deploy"}).IsAutomation() {
		t.Error("auto-deploy should be an automation account")
	}
	if (Credentials{Username: "administrator"}).IsAutomation() {
		t.Error("administrator should not be an automation account")
	}
}

func TestDescriptor_OSInfoCopy(t *testing.T) {
	d, _ := NewDescriptor("10.0.0.5", Credentials{})
	if d.OSInfo() != nil {
		t.Fatal("OSInfo() before discovery should be nil")
	}

	info := &OSInfo{ComputerName: "A", Platform: "Xbox One"}
	d.SetOSInfo(info)
	info.ComputerName = "B"

	if got := d.OSInfo().ComputerName; got != "A" {
		t.Errorf("OSInfo().ComputerName = %q, want copy semantics", got)
	}
	if d.Platform() != PlatformXboxOne {
		t.Errorf("Platform() = %v, want XboxOne", d.Platform())
	}
}

func TestHex64Encode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"HomeNet", "SG9tZU5ldA.."},
		{"\xfb\xff", "-_8."},
		{"ab?", "YWI_"},
	}
	for _, tt := range tests {
		if got := Hex64Encode(tt.in); got != tt.want {
			t.Errorf("Hex64Encode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
