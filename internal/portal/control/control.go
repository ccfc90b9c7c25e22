// Package control issues power, naming and Xbox developer settings calls to a
// Device Portal. Xbox-only calls are refused on other platforms before any
// request is sent.
package control

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nerrad567/devportal-core/internal/portal"
)

// Endpoint paths.
const (
	RestartPath      = "api/control/restart"
	ShutdownPath     = "api/control/shutdown"
	XboxSettingsPath = "api/xbox/settings"
	FiddlerPath      = "api/xbox/fiddler"
)

const maxMachineNameLength = 63

// ErrInvalidMachineName is returned for names the device would reject.
var ErrInvalidMachineName = errors.New("control: invalid machine name")

// XboxSetting is one developer setting on an Xbox.
type XboxSetting struct {
	Name           string `json:"Name" yaml:"name"`
	Value          string `json:"Value" yaml:"value"`
	Category       string `json:"Category,omitempty" yaml:"category,omitempty"`
	RequiresReboot string `json:"RequiresReboot,omitempty" yaml:"requires_reboot,omitempty"`
}

type xboxSettings struct {
	Settings []XboxSetting `json:"Settings"`
}

type machineName struct {
	ComputerName string `json:"ComputerName"`
}

// Client wraps a session with control operations.
type Client struct {
	session *portal.Session
}

// New creates a Client on s.
func New(s *portal.Session) *Client {
	return &Client{session: s}
}

// Restart reboots the device.
func (c *Client) Restart(ctx context.Context) error {
	return c.session.Post(ctx, RestartPath, nil, nil, nil)
}

// Shutdown powers the device off.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.session.Post(ctx, ShutdownPath, nil, nil, nil)
}

// MachineName returns the device's computer name.
func (c *Client) MachineName(ctx context.Context) (string, error) {
	var resp machineName
	if err := c.session.Get(ctx, portal.MachineNamePath, nil, &resp); err != nil {
		return "", err
	}
	return resp.ComputerName, nil
}

// ValidateMachineName checks name against the device's naming rules.
func ValidateMachineName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMachineName)
	}
	if len(name) > maxMachineNameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidMachineName, maxMachineNameLength)
	}
	if strings.ContainsAny(name, " \t\\/:*?\"<>|.") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidMachineName, name)
	}
	return nil
}

// SetMachineName renames the device. The new name applies after a restart.
func (c *Client) SetMachineName(ctx context.Context, name string) error {
	if err := ValidateMachineName(name); err != nil {
		return err
	}
	query := url.Values{}
	query.Set("name", portal.Hex64Encode(name))
	return c.session.Post(ctx, portal.MachineNamePath, query, nil, nil)
}

// XboxSettings lists the developer settings. Xbox only.
func (c *Client) XboxSettings(ctx context.Context) ([]XboxSetting, error) {
	if err := c.session.RequirePlatform("xbox settings", portal.PlatformXboxOne); err != nil {
		return nil, err
	}
	var resp xboxSettings
	if err := c.session.Get(ctx, XboxSettingsPath, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Settings, nil
}

// UpdateXboxSetting changes one developer setting. Xbox only.
func (c *Client) UpdateXboxSetting(ctx context.Context, setting XboxSetting) (*XboxSetting, error) {
	if err := c.session.RequirePlatform("xbox settings", portal.PlatformXboxOne); err != nil {
		return nil, err
	}
	var resp XboxSetting
	body := xboxSettings{Settings: []XboxSetting{setting}}
	if err := c.session.Put(ctx, XboxSettingsPath, nil, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EnableFiddlerTracing routes the console's traffic through a Fiddler proxy.
// certFile, when set, is the path of the Fiddler root certificate on the
// device. Xbox only.
func (c *Client) EnableFiddlerTracing(ctx context.Context, proxyAddress string, proxyPort int, certFile string) error {
	if err := c.session.RequirePlatform("fiddler tracing", portal.PlatformXboxOne); err != nil {
		return err
	}
	query := url.Values{}
	query.Set("proxyaddress", portal.Hex64Encode(proxyAddress))
	query.Set("proxyport", portal.Hex64Encode(strconv.Itoa(proxyPort)))
	if certFile != "" {
		query.Set("updatecert", "true")
		query.Set("certpath", portal.Hex64Encode(certFile))
	}
	return c.session.Post(ctx, FiddlerPath, query, nil, nil)
}

// DisableFiddlerTracing removes the Fiddler proxy. Xbox only.
func (c *Client) DisableFiddlerTracing(ctx context.Context) error {
	if err := c.session.RequirePlatform("fiddler tracing", portal.PlatformXboxOne); err != nil {
		return err
	}
	return c.session.Delete(ctx, FiddlerPath, nil, nil)
}
