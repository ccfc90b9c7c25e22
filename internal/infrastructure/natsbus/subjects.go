package natsbus

import (
	"fmt"
	"strings"
)

// SubjectPrefix roots every subject this service uses.
const SubjectPrefix = "devportal"

// Subjects builds NATS subjects.
type Subjects struct{}

// DeviceStatus is where connection status events for id are published.
func (Subjects) DeviceStatus(id string) string {
	return fmt.Sprintf("%s.device.%s.status", SubjectPrefix, id)
}

// DeviceSysPerf is where performance samples for id are published.
func (Subjects) DeviceSysPerf(id string) string {
	return fmt.Sprintf("%s.device.%s.sysperf", SubjectPrefix, id)
}

// DeviceCommand is the request-reply subject for commands to id.
func (Subjects) DeviceCommand(id string) string {
	return fmt.Sprintf("%s.device.%s.command", SubjectPrefix, id)
}

// AllDeviceCommands matches every device's command subject.
func (Subjects) AllDeviceCommands() string {
	return SubjectPrefix + ".device.*.command"
}

// DeviceIDFromSubject extracts {id} from devportal.device.{id}.<kind>.
func DeviceIDFromSubject(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != SubjectPrefix || parts[1] != "device" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

func validatePublishSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSubject)
	}
	if strings.ContainsAny(subject, "*> \t") {
		return fmt.Errorf("%w: %q contains wildcards or whitespace", ErrInvalidSubject, subject)
	}
	if strings.HasPrefix(subject, ".") || strings.HasSuffix(subject, ".") || strings.Contains(subject, "..") {
		return fmt.Errorf("%w: %q has an empty token", ErrInvalidSubject, subject)
	}
	return nil
}
