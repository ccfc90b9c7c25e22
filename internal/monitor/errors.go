package monitor

import "errors"

var (
	// ErrInvalidCommand is returned for a command payload that cannot be decoded.
	ErrInvalidCommand = errors.New("monitor: invalid command")

	// ErrUnknownAction is returned for a command naming an unsupported action.
	ErrUnknownAction = errors.New("monitor: unknown action")

	// ErrInvalidTopic is returned when a command arrives outside the device tree.
	ErrInvalidTopic = errors.New("monitor: invalid command topic")
)
