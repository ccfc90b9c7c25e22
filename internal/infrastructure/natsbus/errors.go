package natsbus

import "errors"

var (
	// ErrDisabled is returned by Connect when nats.enabled is false.
	ErrDisabled = errors.New("natsbus: disabled")

	// ErrConnectionFailed wraps the dial error.
	ErrConnectionFailed = errors.New("natsbus: connection failed")

	// ErrNotConnected is returned when publishing without a live connection.
	ErrNotConnected = errors.New("natsbus: not connected")

	// ErrPublishFailed wraps publish errors.
	ErrPublishFailed = errors.New("natsbus: publish failed")

	// ErrSubscribeFailed wraps subscribe errors.
	ErrSubscribeFailed = errors.New("natsbus: subscribe failed")

	// ErrInvalidSubject is returned for empty subjects or wildcards on publish.
	ErrInvalidSubject = errors.New("natsbus: invalid subject")
)
