package portal

import (
	"slices"
	"strings"
)

// Platform tags the kind of device behind a session. Platform-specific
// operations check the tag instead of relying on a type hierarchy.
type Platform int

// Known platforms.
const (
	PlatformUnknown Platform = iota
	PlatformWindows
	PlatformMobile
	PlatformHoloLens
	PlatformXboxOne
	PlatformIoTDragonboard410c
	PlatformIoTMinnowboardMax
	PlatformIoTRaspberryPi2
	PlatformIoTRaspberryPi3
	PlatformVirtualMachine
)

var platformNames = map[Platform]string{
	PlatformUnknown:            "Unknown",
	PlatformWindows:            "Windows",
	PlatformMobile:             "Mobile",
	PlatformHoloLens:           "HoloLens",
	PlatformXboxOne:            "XboxOne",
	PlatformIoTDragonboard410c: "IoTDragonboard410c",
	PlatformIoTMinnowboardMax:  "IoTMinnowboardMax",
	PlatformIoTRaspberryPi2:    "IoTRaspberryPi2",
	PlatformIoTRaspberryPi3:    "IoTRaspberryPi3",
	PlatformVirtualMachine:     "VirtualMachine",
}

// String returns the platform tag name.
func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return platformNames[PlatformUnknown]
}

// MarshalText encodes the platform by name.
func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a platform name. Unrecognised names become PlatformUnknown.
func (p *Platform) UnmarshalText(text []byte) error {
	*p = ParsePlatformName(string(text))
	return nil
}

// ParsePlatformName is the inverse of Platform.String.
func ParsePlatformName(name string) Platform {
	for p, n := range platformNames {
		if strings.EqualFold(n, name) {
			return p
		}
	}
	return PlatformUnknown
}

// IsIoT reports whether p is one of the IoT boards.
func (p Platform) IsIoT() bool {
	switch p {
	case PlatformIoTDragonboard410c, PlatformIoTMinnowboardMax, PlatformIoTRaspberryPi2, PlatformIoTRaspberryPi3:
		return true
	default:
		return false
	}
}

// ExposesHTTPSRequirement reports whether the device answers config/https.
func (p Platform) ExposesHTTPSRequirement() bool {
	return p.IsIoT() || p == PlatformWindows || p == PlatformVirtualMachine
}

// platformByOSName maps the OS info Platform field.
var platformByOSName = map[string]Platform{
	"xbox one":         PlatformXboxOne,
	"sbc":              PlatformIoTDragonboard410c,
	"dragonboard 410c": PlatformIoTDragonboard410c,
	"minnowboard max":  PlatformIoTMinnowboardMax,
	"raspberry pi 2":   PlatformIoTRaspberryPi2,
	"raspberry pi 3":   PlatformIoTRaspberryPi3,
	"virtual machine":  PlatformVirtualMachine,
}

// platformByFamily maps the device family reported by api/os/devicefamily.
var platformByFamily = map[string]Platform{
	"windows.xbox":        PlatformXboxOne,
	"windows.holographic": PlatformHoloLens,
	"windows.mobile":      PlatformMobile,
	"windows.desktop":     PlatformWindows,
	"windows.team":        PlatformWindows,
}

// DetectPlatform derives the platform tag from the OS platform name, falling
// back to the device family.
func DetectPlatform(platformName, family string) Platform {
	if p, ok := platformByOSName[strings.ToLower(strings.TrimSpace(platformName))]; ok {
		return p
	}
	if p, ok := platformByFamily[strings.ToLower(strings.TrimSpace(family))]; ok {
		return p
	}
	return PlatformUnknown
}

// RequirePlatform returns an UnsupportedOperationError unless the session's
// platform is one of allowed. It performs no network I/O.
func (s *Session) RequirePlatform(operation string, allowed ...Platform) error {
	p := s.descriptor.Platform()
	if slices.Contains(allowed, p) {
		return nil
	}
	return &UnsupportedOperationError{Operation: operation, Platform: p}
}
