package portal

import (
	"context"
	"net/url"
)

// Paths of the WiFi endpoints.
const (
	WiFiInterfacesPath = "api/wifi/interfaces"
	WiFiNetworkPath    = "api/wifi/network"
)

// WiFiInterfaces is the body of api/wifi/interfaces.
type WiFiInterfaces struct {
	Interfaces []WiFiInterface `json:"Interfaces" yaml:"interfaces"`
}

// WiFiInterface describes one wireless adapter.
type WiFiInterface struct {
	Description  string        `json:"Description" yaml:"description"`
	GUID         string        `json:"GUID" yaml:"guid"`
	Index        int           `json:"Index" yaml:"index"`
	ProfilesList []WiFiProfile `json:"ProfilesList" yaml:"profiles"`
}

// WiFiProfile is a saved network profile.
type WiFiProfile struct {
	GroupPolicyProfile bool   `json:"GroupPolicyProfile" yaml:"group_policy"`
	Name               string `json:"Name" yaml:"name"`
	PerUserProfile     bool   `json:"PerUserProfile" yaml:"per_user"`
}

// WiFiInterfaces lists the device's wireless adapters.
func (s *Session) WiFiInterfaces(ctx context.Context) (*WiFiInterfaces, error) {
	var ifaces WiFiInterfaces
	if err := s.Get(ctx, WiFiInterfacesPath, nil, &ifaces); err != nil {
		return nil, err
	}
	return &ifaces, nil
}

// ConnectToWiFiNetwork associates the interface with ssid, creating a profile.
// SSID and key travel hex64-encoded in the query string.
func (s *Session) ConnectToWiFiNetwork(ctx context.Context, interfaceGUID, ssid, networkKey string) error {
	query := url.Values{}
	query.Set("interface", interfaceGUID)
	query.Set("ssid", Hex64Encode(ssid))
	query.Set("op", "connect")
	query.Set("createprofile", "yes")
	query.Set("key", Hex64Encode(networkKey))

	return s.Post(ctx, WiFiNetworkPath, query, nil, nil)
}
