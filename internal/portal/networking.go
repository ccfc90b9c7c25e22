package portal

import (
	"context"
	"net"
	"strings"
)

// IPConfigPath is the network adapter listing endpoint.
const IPConfigPath = "api/networking/ipconfig"

// IPConfiguration is the body of api/networking/ipconfig.
type IPConfiguration struct {
	Adapters []NetworkAdapter `json:"Adapters" yaml:"adapters"`
}

// NetworkAdapter describes one adapter.
type NetworkAdapter struct {
	Description     string      `json:"Description" yaml:"description"`
	HardwareAddress string      `json:"HardwareAddress" yaml:"hardware_address"`
	Index           int         `json:"Index" yaml:"index"`
	Name            string      `json:"Name" yaml:"name"`
	Type            string      `json:"Type" yaml:"type"`
	Gateways        []IPAddress `json:"Gateways" yaml:"gateways"`
	IPAddresses     []IPAddress `json:"IpAddresses" yaml:"ip_addresses"`
}

// IPAddress is an address and mask pair.
type IPAddress struct {
	Address string `json:"IpAddress" yaml:"address"`
	Mask    string `json:"Mask" yaml:"mask"`
}

// FirstUsableAddress returns the first adapter address that is not loopback,
// unspecified or link-local (169.*). It returns "" when none qualifies.
func (c *IPConfiguration) FirstUsableAddress() string {
	if c == nil {
		return ""
	}
	for _, adapter := range c.Adapters {
		for _, addr := range adapter.IPAddresses {
			if usableAddress(addr.Address) {
				return strings.TrimSpace(addr.Address)
			}
		}
	}
	return ""
}

func usableAddress(raw string) bool {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "169.") {
		return false
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return false
	}
	return !ip.IsUnspecified() && !ip.IsLoopback()
}

// IPConfig fetches the device's adapter configuration.
func (s *Session) IPConfig(ctx context.Context) (*IPConfiguration, error) {
	var cfg IPConfiguration
	if err := s.Get(ctx, IPConfigPath, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
