package portal

import (
	"fmt"
	"strings"
	"time"
)

// ConnectionStatus is the overall state reported by a ConnectionStatusEvent.
type ConnectionStatus int

// Connection statuses.
const (
	StatusConnecting ConnectionStatus = iota
	StatusConnected
	StatusFailed
)

var statusNames = []string{"Connecting", "Connected", "Failed"}

func (s ConnectionStatus) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("ConnectionStatus(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *ConnectionStatus) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(name, string(text)) {
			*s = ConnectionStatus(i)
			return nil
		}
	}
	return fmt.Errorf("portal: unknown connection status %q", text)
}

// ConnectionPhase names a stage of the connect sequence. Phases are ordered;
// a successful connect reports them in increasing order, ending in PhaseIdle.
type ConnectionPhase int

// Connect phases in sequence order.
const (
	PhaseAcquiringCertificate ConnectionPhase = iota
	PhaseRequestingOperatingSystemInformation
	PhaseDeterminingConnectionRequirements
	PhaseConnectingToTargetNetwork
	PhaseUpdatingDeviceAddress
	PhaseIdle
)

var phaseNames = []string{
	"AcquiringCertificate",
	"RequestingOperatingSystemInformation",
	"DeterminingConnectionRequirements",
	"ConnectingToTargetNetwork",
	"UpdatingDeviceAddress",
	"Idle",
}

var phaseDescriptions = []string{
	"Acquiring device certificate",
	"Requesting operating system information",
	"Determining connection requirements",
	"Connecting to target network",
	"Updating device address",
	"Idle",
}

func (p ConnectionPhase) String() string {
	if int(p) >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("ConnectionPhase(%d)", int(p))
}

// Description is the human-readable phase text used in status messages.
func (p ConnectionPhase) Description() string {
	if int(p) >= 0 && int(p) < len(phaseDescriptions) {
		return phaseDescriptions[p]
	}
	return p.String()
}

// MarshalText encodes the phase by name.
func (p ConnectionPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *ConnectionPhase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if strings.EqualFold(name, string(text)) {
			*p = ConnectionPhase(i)
			return nil
		}
	}
	return fmt.Errorf("portal: unknown connection phase %q", text)
}

// ConnectionStatusEvent reports connect progress. Events are values and are
// never modified after emission.
type ConnectionStatusEvent struct {
	Status     ConnectionStatus `json:"status" yaml:"status"`
	Phase      ConnectionPhase  `json:"phase" yaml:"phase"`
	Message    string           `json:"message" yaml:"message"`
	HTTPStatus int              `json:"http_status,omitempty" yaml:"http_status,omitempty"`
	Timestamp  time.Time        `json:"timestamp" yaml:"timestamp"`
}

// OnConnectionStatus registers an observer for connect progress. Observers
// run synchronously on the goroutine calling Connect; a panicking observer is
// recovered and logged.
func (s *Session) OnConnectionStatus(fn func(ConnectionStatusEvent)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Session) emit(ev ConnectionStatusEvent) {
	ev.Timestamp = time.Now().UTC()

	s.mu.RLock()
	observers := make([]func(ConnectionStatusEvent), len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for _, fn := range observers {
		s.notify(fn, ev)
	}
}

func (s *Session) notify(fn func(ConnectionStatusEvent), ev ConnectionStatusEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("connection status observer panicked", "panic", r, "phase", ev.Phase.String())
		}
	}()
	fn(ev)
}
