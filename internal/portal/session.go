package portal

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// Options configures a Session.
type Options struct {
	// Logger receives request and connect diagnostics. Defaults to a no-op logger.
	Logger Logger

	// ManualCertificate, when set, is trusted instead of downloading the
	// device root certificate during Connect.
	ManualCertificate *x509.Certificate

	// UntrustedHandler is consulted when no device certificate is cached.
	UntrustedHandler UntrustedCertificateHandler

	// ExpectedIssuer overrides DefaultCertificateIssuer.
	ExpectedIssuer string

	// RequestTimeout bounds each REST call. Zero leaves calls bounded only by ctx.
	RequestTimeout time.Duration
}

// Session is the client-side state for one device: its descriptor, trust
// policy, CSRF token, HTTP client and connect progress.
//
// A Session lives as long as the caller keeps it. There is no server-side
// session to close; channels opened from it are closed individually.
type Session struct {
	descriptor *Descriptor
	trust      *TrustManager
	csrf       csrfManager
	client     *http.Client
	tlsConfig  *tls.Config
	logger     Logger
	timeout    time.Duration

	mu         sync.RWMutex
	httpStatus int
	phase      ConnectionPhase
	manualCert bool
	observers  []func(ConnectionStatusEvent)
}

// NewSession creates a session for the device described by d.
//
// Every TLS connection made by the session, REST or WebSocket, is validated by
// the session's own TrustManager. No process-wide TLS state is modified.
func NewSession(d *Descriptor, opts Options) (*Session, error) {
	if d == nil {
		return nil, ErrNilDescriptor
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	s := &Session{
		descriptor: d,
		logger:     logger,
		timeout:    opts.RequestTimeout,
		phase:      PhaseIdle,
	}
	s.trust = newTrustManager(d, opts.ExpectedIssuer, opts.UntrustedHandler, logger)

	if opts.ManualCertificate != nil {
		s.trust.SetManualCertificate(opts.ManualCertificate)
		s.manualCert = true
	}

	s.tlsConfig = &tls.Config{
		// Standard verification cannot succeed against self-signed device
		// certificates; VerifyConnection applies the trust policy instead.
		InsecureSkipVerify: true, //nolint:gosec // replaced by VerifyConnection
		VerifyConnection:   s.trust.verifyConnection,
		MinVersion:         tls.VersionTLS12,
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = s.tlsConfig
	s.client = &http.Client{Transport: transport, Jar: jar}

	return s, nil
}

// Descriptor returns the session's connection descriptor.
func (s *Session) Descriptor() *Descriptor {
	return s.descriptor
}

// Trust returns the session's certificate trust manager.
func (s *Session) Trust() *TrustManager {
	return s.trust
}

// Logger returns the session's logger so endpoint sets can share it.
func (s *Session) Logger() Logger {
	return s.logger
}

// Platform returns the platform tag derived during Connect.
func (s *Session) Platform() Platform {
	return s.descriptor.Platform()
}

// ConnectionHTTPStatus returns the HTTP status recorded by the last Connect:
// 200 on success, the failing call's status on failure, 0 if unknown.
func (s *Session) ConnectionHTTPStatus() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpStatus
}

// Phase returns the current connect phase. It is PhaseIdle outside Connect.
func (s *Session) Phase() ConnectionPhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// tlsClientConfig returns a copy of the session TLS configuration for dialers.
func (s *Session) tlsClientConfig() *tls.Config {
	return s.tlsConfig.Clone()
}
