package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix roots every topic this service publishes or consumes.
const TopicPrefix = "devportal"

// Topics builds the devportal topic tree:
//
//	devportal/status/{device}    retained connection status per device
//	devportal/sysperf/{device}   live system performance samples
//	devportal/command/{device}   inbound commands (connect, restart, ...)
//	devportal/system/status      retained online/offline for this service
type Topics struct{}

// DeviceStatus returns the retained connection status topic for a device.
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, deviceID)
}

// DeviceSysPerf returns the performance sample topic for a device.
func (Topics) DeviceSysPerf(deviceID string) string {
	return fmt.Sprintf("%s/sysperf/%s", TopicPrefix, deviceID)
}

// DeviceCommand returns the command topic for a device.
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// AllDeviceCommands matches every device command topic.
func (Topics) AllDeviceCommands() string {
	return TopicPrefix + "/command/+"
}

// AllDeviceStatus matches every device status topic.
func (Topics) AllDeviceStatus() string {
	return TopicPrefix + "/status/+"
}

// SystemStatus returns the retained service status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// DeviceIDFromTopic extracts {device} from devportal/{kind}/{device}. It
// returns false for topics outside the device tree.
func (Topics) DeviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix || parts[1] == "system" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// validatePublishTopic rejects empty topics and wildcards, which are only
// meaningful in subscriptions.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
