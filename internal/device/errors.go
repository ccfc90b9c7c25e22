package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no device has the given ID or name.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when the ID or name is already registered.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	ErrInvalidName    = errors.New("device: invalid name")
	ErrInvalidAddress = errors.New("device: invalid address")
)
