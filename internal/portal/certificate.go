package portal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// RootCertificatePath is the unauthenticated bootstrap endpoint.
	RootCertificatePath = "config/rootcertificate"

	// DefaultCertificateIssuer is the issuer every Portal root certificate carries.
	DefaultCertificateIssuer = "Microsoft Windows Web Management"

	bootstrapTimeout     = 10 * time.Second
	maxCertificateLength = 64 << 10
)

// UntrustedCertificateHandler decides whether to accept a server certificate
// when no device certificate is cached. verifyErr is the chain-building error.
type UntrustedCertificateHandler func(leaf *x509.Certificate, chain []*x509.Certificate, verifyErr error) bool

// TrustManager acquires the device root certificate and validates every TLS
// handshake made by its session.
//
// Validation policy:
//   - cached certificate present: accept if the chain builds against it, or if
//     chain building fails only for an unknown authority and some chain
//     element has the cached certificate's issuer and SHA-256 thumbprint
//   - no cached certificate: accept only if the untrusted handler says so
type TrustManager struct {
	descriptor     *Descriptor
	expectedIssuer string
	handler        UntrustedCertificateHandler
	logger         Logger
	bootstrap      *http.Client
}

func newTrustManager(d *Descriptor, expectedIssuer string, handler UntrustedCertificateHandler, logger Logger) *TrustManager {
	if expectedIssuer == "" {
		expectedIssuer = DefaultCertificateIssuer
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		// The bootstrap call is what establishes trust; nothing to verify against yet.
		InsecureSkipVerify: true, //nolint:gosec // certificate is validated by issuer after download
		MinVersion:         tls.VersionTLS12,
	}
	return &TrustManager{
		descriptor:     d,
		expectedIssuer: expectedIssuer,
		handler:        handler,
		logger:         logger,
		bootstrap:      &http.Client{Transport: transport, Timeout: bootstrapTimeout},
	}
}

// AcquireRootCertificate downloads the device root certificate and caches it
// in the descriptor.
//
// The request is unauthenticated and skips TLS verification. A network error,
// a non-success status, an unparsable body or an issuer that does not contain
// the expected issuer string all yield a CertificateTrustError.
func (tm *TrustManager) AcquireRootCertificate(ctx context.Context) (*x509.Certificate, error) {
	u := tm.descriptor.ResolveURL(RootCertificatePath, nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &CertificateTrustError{URI: u.String(), Err: err}
	}

	resp, err := tm.bootstrap.Do(req)
	if err != nil {
		return nil, &CertificateTrustError{URI: u.String(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CertificateTrustError{
			URI: u.String(),
			Err: &PortalError{StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode), Method: http.MethodGet, URI: u.String()},
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCertificateLength))
	if err != nil {
		return nil, &CertificateTrustError{URI: u.String(), Err: err}
	}

	cert, err := ParseCertificate(body)
	if err != nil {
		return nil, &CertificateTrustError{URI: u.String(), Err: err}
	}

	if !strings.Contains(cert.Issuer.String(), tm.expectedIssuer) {
		return nil, &CertificateTrustError{
			URI: u.String(),
			Err: fmt.Errorf("issuer %q does not contain %q", cert.Issuer.String(), tm.expectedIssuer),
		}
	}

	tm.descriptor.SetCertificate(cert)
	tm.logger.Debug("device certificate acquired",
		"subject", cert.Subject.String(),
		"not_after", cert.NotAfter,
	)
	return cert, nil
}

// SetManualCertificate installs cert as the trusted device certificate.
func (tm *TrustManager) SetManualCertificate(cert *x509.Certificate) {
	tm.descriptor.SetCertificate(cert)
}

// ValidateServerCertificate applies the validation policy to a presented
// certificate chain. chain[0] is normally the leaf.
func (tm *TrustManager) ValidateServerCertificate(leaf *x509.Certificate, chain []*x509.Certificate) bool {
	if leaf == nil {
		return false
	}

	cached := tm.descriptor.Certificate()
	if cached == nil {
		if tm.handler == nil {
			return false
		}
		return tm.handler(leaf, chain, x509.UnknownAuthorityError{Cert: leaf})
	}

	roots := x509.NewCertPool()
	roots.AddCert(cached)
	intermediates := x509.NewCertPool()
	for _, c := range chain {
		if c != leaf {
			intermediates.AddCert(c)
		}
	}

	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err == nil {
		return true
	}

	var unknown x509.UnknownAuthorityError
	if !errors.As(err, &unknown) {
		tm.logger.Warn("server certificate rejected", "error", err)
		return false
	}

	if matchesCertificate(cached, leaf) {
		return true
	}
	for _, c := range chain {
		if matchesCertificate(cached, c) {
			return true
		}
	}

	tm.logger.Warn("server certificate does not match device certificate", "subject", leaf.Subject.String())
	return false
}

// verifyConnection is installed as tls.Config.VerifyConnection so that it runs
// on resumed sessions too.
func (tm *TrustManager) verifyConnection(cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return ErrCertificateUntrusted
	}
	if !tm.ValidateServerCertificate(cs.PeerCertificates[0], cs.PeerCertificates) {
		return ErrCertificateUntrusted
	}
	return nil
}

// matchesCertificate compares raw issuer and SHA-256 thumbprint.
func matchesCertificate(want, got *x509.Certificate) bool {
	if want == nil || got == nil {
		return false
	}
	if !bytes.Equal(want.RawIssuer, got.RawIssuer) {
		return false
	}
	return sha256.Sum256(want.Raw) == sha256.Sum256(got.Raw)
}

// ParseCertificate decodes a DER or PEM certificate.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return cert, nil
}
