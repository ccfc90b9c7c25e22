package portal

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain-specific errors for Portal operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCertificateUnavailable is returned when the device root certificate
	// cannot be downloaded or does not carry the expected issuer.
	ErrCertificateUnavailable = errors.New("portal: device certificate unavailable")

	// ErrCertificateUntrusted is returned by the TLS handshake when the server
	// certificate cannot be validated against the cached certificate.
	ErrCertificateUntrusted = errors.New("portal: server certificate not trusted")

	// ErrInvalidAddress is returned when a device address cannot be parsed.
	ErrInvalidAddress = errors.New("portal: invalid device address")

	// ErrNilDescriptor is returned when a session is created without a descriptor.
	ErrNilDescriptor = errors.New("portal: descriptor is required")

	// ErrConnectFailed wraps the error that stopped the connect sequence.
	ErrConnectFailed = errors.New("portal: connect failed")

	// ErrNoWiFiInterface is returned when a network association is requested
	// but the device reports no wireless interfaces.
	ErrNoWiFiInterface = errors.New("portal: no wifi interface available")

	// ErrNotConnected is returned when listening on a channel that has no socket.
	ErrNotConnected = errors.New("portal: websocket not connected")

	// ErrAlreadyConnected is returned when connecting a channel twice.
	ErrAlreadyConnected = errors.New("portal: websocket already connected")
)

// PortalError is returned for any non-success HTTP status from the device.
type PortalError struct {
	StatusCode int
	Reason     string
	Method     string
	URI        string
}

func (e *PortalError) Error() string {
	return fmt.Sprintf("portal: %s %s: %d %s", e.Method, e.URI, e.StatusCode, e.Reason)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not a
// PortalError.
func StatusCode(err error) int {
	var pe *PortalError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// IsStatus reports whether err is a PortalError with the given status.
func IsStatus(err error, status int) bool {
	return StatusCode(err) == status
}

// IsUnauthorized reports whether the device rejected the credentials.
func IsUnauthorized(err error) bool {
	return IsStatus(err, http.StatusUnauthorized)
}

// TransportError wraps failures below HTTP: refused connections, DNS errors,
// TLS handshake rejections and timeouts.
type TransportError struct {
	Method string
	URI    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("portal: %s %s: %v", e.Method, e.URI, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CertificateTrustError reports a failed certificate bootstrap.
// It matches ErrCertificateUnavailable with errors.Is.
type CertificateTrustError struct {
	URI string
	Err error
}

func (e *CertificateTrustError) Error() string {
	return fmt.Sprintf("portal: certificate from %s: %v", e.URI, e.Err)
}

func (e *CertificateTrustError) Unwrap() error { return e.Err }

// Is makes every CertificateTrustError match ErrCertificateUnavailable.
func (e *CertificateTrustError) Is(target error) bool {
	return target == ErrCertificateUnavailable
}

// UnsupportedOperationError is returned before any network I/O when an
// operation is invoked on a platform that does not expose it.
type UnsupportedOperationError struct {
	Operation string
	Platform  Platform
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("portal: %s is not supported on %s", e.Operation, e.Platform)
}

// ProtocolFormatError reports a response body that could not be decoded,
// including an envelope that could not be unwrapped.
type ProtocolFormatError struct {
	URI string
	Err error
}

func (e *ProtocolFormatError) Error() string {
	return fmt.Sprintf("portal: malformed response from %s: %v", e.URI, e.Err)
}

func (e *ProtocolFormatError) Unwrap() error { return e.Err }
