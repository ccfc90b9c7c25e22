// Package natsbus publishes device status and performance samples on NATS
// and serves device commands as request-reply.
//
// Subjects:
//
//	devportal.device.{id}.status   ConnectionStatusEvent JSON
//	devportal.device.{id}.sysperf  performance sample JSON
//	devportal.device.{id}.command  request-reply command channel
//
// Like the mqtt package, Connect returns ErrDisabled when the bus is not
// enabled so callers can treat it as optional.
package natsbus
