package portal

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPSRequirementPath reports whether the device refuses plain http.
const HTTPSRequirementPath = "config/https"

// ConnectOptions controls the optional connect steps.
type ConnectOptions struct {
	// SSID, when set, associates the device with this WiFi network using the
	// first wireless interface.
	SSID       string
	NetworkKey string

	// UpdateConnection rewrites the descriptor to the device's first usable
	// IP address once connected.
	UpdateConnection bool
}

type httpsRequirement struct {
	HTTPSRequired bool `json:"HttpsRequired"`
}

// Connect runs the connect sequence:
//
//	AcquiringCertificate -> RequestingOperatingSystemInformation ->
//	DeterminingConnectionRequirements -> [ConnectingToTargetNetwork] ->
//	UpdatingDeviceAddress -> Idle
//
// A Connecting event is emitted on entering each phase, then either one
// Connected event (phase Idle, HTTP 200) or one Failed event carrying the
// failing phase and, when known, the HTTP status of the causing error.
//
// A missing certificate is tolerated. Failures in later phases end the
// sequence and are returned wrapped in ErrConnectFailed.
func (s *Session) Connect(ctx context.Context, opts ConnectOptions) error {
	s.setHTTPStatus(0)

	s.enter(PhaseAcquiringCertificate)
	certAcquired := s.acquireCertificate(ctx)

	phase := PhaseRequestingOperatingSystemInformation
	s.enter(phase)
	if err := s.discoverDevice(ctx); err != nil {
		return s.fail(phase, err)
	}

	phase = PhaseDeterminingConnectionRequirements
	s.enter(phase)
	requiresHTTPS, err := s.determineHTTPSRequirement(ctx, certAcquired)
	if err != nil {
		return s.fail(phase, err)
	}

	if opts.SSID != "" {
		phase = PhaseConnectingToTargetNetwork
		s.enter(phase)
		if err := s.connectToNetwork(ctx, opts.SSID, opts.NetworkKey); err != nil {
			return s.fail(phase, err)
		}
	}

	phase = PhaseUpdatingDeviceAddress
	s.enter(phase)
	if err := s.updateDeviceAddress(ctx, requiresHTTPS, opts.UpdateConnection); err != nil {
		return s.fail(phase, err)
	}

	s.mu.Lock()
	s.phase = PhaseIdle
	s.httpStatus = http.StatusOK
	s.mu.Unlock()

	s.logger.Info("device connected",
		"address", s.descriptor.Address(),
		"https", requiresHTTPS,
		"platform", s.descriptor.Platform().String(),
	)
	s.emit(ConnectionStatusEvent{
		Status:     StatusConnected,
		Phase:      PhaseIdle,
		Message:    "Device connection established",
		HTTPStatus: http.StatusOK,
	})
	return nil
}

func (s *Session) enter(phase ConnectionPhase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()

	s.emit(ConnectionStatusEvent{
		Status:  StatusConnecting,
		Phase:   phase,
		Message: phase.Description(),
	})
}

func (s *Session) fail(phase ConnectionPhase, err error) error {
	status := StatusCode(err)

	s.mu.Lock()
	s.phase = PhaseIdle
	s.httpStatus = status
	s.mu.Unlock()

	s.logger.Warn("device connect failed", "phase", phase.String(), "error", err)
	s.emit(ConnectionStatusEvent{
		Status:     StatusFailed,
		Phase:      phase,
		Message:    fmt.Sprintf("%s: %v", phase.Description(), err),
		HTTPStatus: status,
	})
	return fmt.Errorf("%w: %s: %w", ErrConnectFailed, phase.Description(), err)
}

func (s *Session) setHTTPStatus(status int) {
	s.mu.Lock()
	s.httpStatus = status
	s.mu.Unlock()
}

// acquireCertificate reports whether a device certificate is available.
// Failure is logged and tolerated.
func (s *Session) acquireCertificate(ctx context.Context) bool {
	s.mu.RLock()
	manual := s.manualCert
	s.mu.RUnlock()

	if manual && s.descriptor.Certificate() != nil {
		return true
	}

	if _, err := s.trust.AcquireRootCertificate(ctx); err != nil {
		s.logger.Warn("device certificate unavailable, continuing", "error", err)
		return false
	}
	return true
}

func (s *Session) discoverDevice(ctx context.Context) error {
	family, err := s.DeviceFamily(ctx)
	if err != nil {
		return err
	}
	info, err := s.OSInfo(ctx)
	if err != nil {
		return err
	}

	s.descriptor.SetDeviceFamily(family)
	s.descriptor.SetOSInfo(info)
	return nil
}

// determineHTTPSRequirement defaults to certAcquired. Platforms that expose
// config/https answer authoritatively; NotFound, MethodNotAllowed and
// NotImplemented mean the endpoint is absent and HTTPS is not required.
func (s *Session) determineHTTPSRequirement(ctx context.Context, certAcquired bool) (bool, error) {
	if !s.descriptor.Platform().ExposesHTTPSRequirement() {
		return certAcquired, nil
	}

	var resp httpsRequirement
	err := s.Get(ctx, HTTPSRequirementPath, nil, &resp)
	switch StatusCode(err) {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.HTTPSRequired, nil
}

func (s *Session) connectToNetwork(ctx context.Context, ssid, key string) error {
	ifaces, err := s.WiFiInterfaces(ctx)
	if err != nil {
		return err
	}
	if len(ifaces.Interfaces) == 0 {
		return ErrNoWiFiInterface
	}
	return s.ConnectToWiFiNetwork(ctx, ifaces.Interfaces[0].GUID, ssid, key)
}

func (s *Session) updateDeviceAddress(ctx context.Context, requiresHTTPS, updateConnection bool) error {
	if !updateConnection {
		s.descriptor.SetRequiresHTTPS(requiresHTTPS)
		return nil
	}

	cfg, err := s.IPConfig(ctx)
	if err != nil {
		return err
	}
	if !s.descriptor.UpdateConnection(cfg, requiresHTTPS) {
		s.logger.Warn("no usable device address reported, keeping current address",
			"address", s.descriptor.Address())
		s.descriptor.SetRequiresHTTPS(requiresHTTPS)
	}
	return nil
}
