package portal

import (
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
)

// automationPrefix marks usernames the Portal exempts from CSRF enforcement.
const automationPrefix = "auto-"

// Credentials are the basic-auth username and password for a device.
type Credentials struct {
	Username string
	Password string
}

// IsAutomation reports whether the username carries the auto- prefix.
func (c Credentials) IsAutomation() bool {
	return strings.HasPrefix(c.Username, automationPrefix)
}

// Descriptor holds the address, negotiated scheme, credentials and discovered
// identity of one device. The WebSocket URL is always derived from the base
// URL, never stored.
//
// All methods are safe for concurrent use.
type Descriptor struct {
	mu          sync.RWMutex
	base        url.URL
	credentials Credentials
	family      string
	osInfo      *OSInfo
	certificate *x509.Certificate
}

// NewDescriptor parses address into a descriptor.
//
// The address may be a full URL ("https://10.0.0.5:8443") or a bare
// host[:port], which defaults to http. Any path, query or fragment is dropped.
//
// Parameters:
//   - address: Device address
//   - creds: Basic-auth credentials (may be empty)
//
// Returns:
//   - *Descriptor: Descriptor targeting the address
//   - error: ErrInvalidAddress if the address cannot be used
func NewDescriptor(address string, creds Credentials) (*Descriptor, error) {
	u, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	return &Descriptor{base: *u, credentials: creds}, nil
}

func parseAddress(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}

	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, nil
}

// BaseURL returns a copy of the REST base URL (scheme://host[:port]/).
func (d *Descriptor) BaseURL() *url.URL {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u := d.base
	return &u
}

// WebSocketURL returns the base URL with http mapped to ws and https to wss.
func (d *Descriptor) WebSocketURL() *url.URL {
	u := d.BaseURL()
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u
}

// Address returns host[:port] of the current base URL.
func (d *Descriptor) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.base.Host
}

// ResolveURL joins path and query onto the REST base URL.
func (d *Descriptor) ResolveURL(path string, query url.Values) *url.URL {
	return resolve(d.BaseURL(), path, query)
}

// ResolveWebSocketURL joins path and query onto the WebSocket base URL.
func (d *Descriptor) ResolveWebSocketURL(path string, query url.Values) *url.URL {
	return resolve(d.WebSocketURL(), path, query)
}

func resolve(base *url.URL, path string, query url.Values) *url.URL {
	ref := &url.URL{Path: strings.TrimPrefix(path, "/")}
	if len(query) > 0 {
		ref.RawQuery = query.Encode()
	}
	return base.ResolveReference(ref)
}

// Credentials returns the basic-auth credentials.
func (d *Descriptor) Credentials() Credentials {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.credentials
}

// RequiresHTTPS reports whether the descriptor currently targets https.
func (d *Descriptor) RequiresHTTPS() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.base.Scheme == "https"
}

// SetRequiresHTTPS switches the scheme, keeping host and any explicit port.
func (d *Descriptor) SetRequiresHTTPS(required bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.base.Scheme = schemeFor(required)
}

func schemeFor(https bool) string {
	if https {
		return "https"
	}
	return "http"
}

// UpdateConnection points the descriptor at the first usable address in cfg.
//
// Loopback, unspecified and link-local (169.*) addresses are skipped. The
// existing port is kept and the scheme follows requiresHTTPS.
//
// Returns:
//   - bool: false if no usable address was found; the descriptor is unchanged
func (d *Descriptor) UpdateConnection(cfg *IPConfiguration, requiresHTTPS bool) bool {
	ip := cfg.FirstUsableAddress()
	if ip == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	host := ip
	if port := d.base.Port(); port != "" {
		host = net.JoinHostPort(ip, port)
	} else if strings.Contains(ip, ":") {
		host = "[" + ip + "]"
	}

	d.base.Host = host
	d.base.Scheme = schemeFor(requiresHTTPS)
	return true
}

// DeviceFamily returns the family reported during connect, e.g. "Windows.Xbox".
func (d *Descriptor) DeviceFamily() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.family
}

// SetDeviceFamily records the device family.
func (d *Descriptor) SetDeviceFamily(family string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.family = family
}

// OSInfo returns a copy of the OS information, or nil before discovery.
func (d *Descriptor) OSInfo() *OSInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.osInfo == nil {
		return nil
	}
	info := *d.osInfo
	return &info
}

// SetOSInfo records the OS information.
func (d *Descriptor) SetOSInfo(info *OSInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info == nil {
		d.osInfo = nil
		return
	}
	cp := *info
	d.osInfo = &cp
}

// Platform derives the platform tag from the recorded OS info and family.
func (d *Descriptor) Platform() Platform {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name := ""
	if d.osInfo != nil {
		name = d.osInfo.Platform
	}
	return DetectPlatform(name, d.family)
}

// Certificate returns the cached device certificate, or nil.
// Certificates are replaced wholesale and never mutated.
func (d *Descriptor) Certificate() *x509.Certificate {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.certificate
}

// SetCertificate replaces the cached device certificate.
func (d *Descriptor) SetCertificate(cert *x509.Certificate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.certificate = cert
}
