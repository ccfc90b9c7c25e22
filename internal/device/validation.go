package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/devportal-core/internal/portal"
)

const (
	maxNameLength     = 64
	maxUsernameLength = 256
)

// ValidateDevice checks the fields a caller supplies when registering a
// device. Discovered identity fields are not validated.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateAddress(d.Address); err != nil {
		return err
	}
	if len(d.Username) > maxUsernameLength {
		return fmt.Errorf("%w: username exceeds %d characters", ErrInvalidDevice, maxUsernameLength)
	}
	return nil
}

// ValidateName accepts lower-case letters, digits and hyphens, which keeps
// names usable in MQTT topics and NATS subjects.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return fmt.Errorf("%w: %q may only contain a-z, 0-9 and '-'", ErrInvalidName, name)
		}
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return fmt.Errorf("%w: %q may not start or end with '-'", ErrInvalidName, name)
	}
	return nil
}

// ValidateAddress checks that address can seed a connection descriptor.
func ValidateAddress(address string) error {
	if _, err := portal.NewDescriptor(address, portal.Credentials{}); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	return nil
}

// GenerateName derives a valid device name from free text,
// e.g. "Lab Pi #7" becomes "lab-pi-7".
func GenerateName(text string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(text) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	name := strings.Trim(b.String(), "-")
	if len(name) > maxNameLength {
		name = strings.TrimRight(name[:maxNameLength], "-")
	}
	return name
}

// GenerateID returns a new device ID.
func GenerateID() string {
	return uuid.New().String()
}
