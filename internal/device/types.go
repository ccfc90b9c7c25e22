package device

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/nerrad567/devportal-core/internal/portal"
)

// Device is a registered Device Portal target. Passwords are never stored;
// they are supplied at connect time.
type Device struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Address  string `json:"address" yaml:"address"`
	Username string `json:"username" yaml:"username"`

	// Identity discovered by the last successful connect.
	DeviceFamily  string `json:"device_family,omitempty" yaml:"device_family,omitempty"`
	Platform      string `json:"platform" yaml:"platform"`
	OSVersion     string `json:"os_version,omitempty" yaml:"os_version,omitempty"`
	ComputerName  string `json:"computer_name,omitempty" yaml:"computer_name,omitempty"`
	RequiresHTTPS bool   `json:"requires_https" yaml:"requires_https"`

	// Certificate is the DER device root certificate pinned on a previous
	// connect. It becomes the manual trust certificate for later sessions.
	Certificate []byte `json:"-" yaml:"-"`

	LastStatus      string     `json:"last_status,omitempty" yaml:"last_status,omitempty"`
	LastPhase       string     `json:"last_phase,omitempty" yaml:"last_phase,omitempty"`
	LastError       string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastHTTPStatus  int        `json:"last_http_status,omitempty" yaml:"last_http_status,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty" yaml:"last_connected_at,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// HasCertificate reports whether a certificate has been pinned.
func (d *Device) HasCertificate() bool {
	return len(d.Certificate) > 0
}

// DeepCopy returns an independent copy for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.Certificate != nil {
		cpy.Certificate = append([]byte(nil), d.Certificate...)
	}
	if d.LastConnectedAt != nil {
		t := *d.LastConnectedAt
		cpy.LastConnectedAt = &t
	}
	return &cpy
}

// Descriptor builds a connection descriptor for this device. The pinned
// certificate, HTTPS requirement and family carry over so a reconnect can
// skip the bootstrap download.
func (d *Device) Descriptor(password string) (*portal.Descriptor, *x509.Certificate, error) {
	desc, err := portal.NewDescriptor(d.Address, portal.Credentials{Username: d.Username, Password: password})
	if err != nil {
		return nil, nil, err
	}
	desc.SetDeviceFamily(d.DeviceFamily)
	if d.RequiresHTTPS {
		desc.SetRequiresHTTPS(true)
	}

	var cert *x509.Certificate
	if d.HasCertificate() {
		cert, err = x509.ParseCertificate(d.Certificate)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: stored certificate: %w", ErrInvalidDevice, err)
		}
	}
	return desc, cert, nil
}

// ConnectionRecord is the outcome of one connect attempt.
type ConnectionRecord struct {
	Status     portal.ConnectionStatus
	Phase      portal.ConnectionPhase
	Error      string
	HTTPStatus int
	At         time.Time

	// Identity is set only for successful connects.
	Identity *Identity
}

// Identity is what a successful connect learned about the device.
type Identity struct {
	Address       string
	DeviceFamily  string
	Platform      portal.Platform
	OSVersion     string
	ComputerName  string
	RequiresHTTPS bool
	Certificate   []byte
}

// IdentityFromDescriptor captures the discovered identity of a connected
// descriptor.
func IdentityFromDescriptor(desc *portal.Descriptor) *Identity {
	id := &Identity{
		Address:       desc.Address(),
		DeviceFamily:  desc.DeviceFamily(),
		Platform:      desc.Platform(),
		RequiresHTTPS: desc.RequiresHTTPS(),
	}
	if info := desc.OSInfo(); info != nil {
		id.OSVersion = info.OsVersion
		id.ComputerName = info.ComputerName
	}
	if cert := desc.Certificate(); cert != nil {
		id.Certificate = append([]byte(nil), cert.Raw...)
	}
	return id
}

// apply copies a connection record onto d.
func (r ConnectionRecord) apply(d *Device) {
	d.LastStatus = r.Status.String()
	d.LastPhase = r.Phase.String()
	d.LastError = r.Error
	d.LastHTTPStatus = r.HTTPStatus
	d.UpdatedAt = r.At
	if r.Identity == nil {
		return
	}
	at := r.At
	d.LastConnectedAt = &at
	if r.Identity.Address != "" {
		d.Address = r.Identity.Address
	}
	d.DeviceFamily = r.Identity.DeviceFamily
	d.Platform = r.Identity.Platform.String()
	d.OSVersion = r.Identity.OSVersion
	d.ComputerName = r.Identity.ComputerName
	d.RequiresHTTPS = r.Identity.RequiresHTTPS
	if len(r.Identity.Certificate) > 0 {
		d.Certificate = append([]byte(nil), r.Identity.Certificate...)
	}
}
