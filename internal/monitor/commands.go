package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/devportal-core/internal/audit"
	"github.com/nerrad567/devportal-core/internal/infrastructure/mqtt"
)

// Command actions accepted on MQTT and NATS.
const (
	ActionConnect  = "connect"
	ActionRestart  = "restart"
	ActionShutdown = "shutdown"
	ActionRename   = "rename"
	ActionSysPerf  = "sysperf"
)

// commandTimeout bounds one bus command including a reconnect.
const commandTimeout = 60 * time.Second

// Command is the JSON body of a device command.
//
//	{"action": "restart"}
//	{"action": "rename", "name": "LAB-07"}
type Command struct {
	Action string `json:"action"`
	Name   string `json:"name,omitempty"`
}

// ParseCommand decodes and validates a command payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	switch cmd.Action {
	case ActionConnect, ActionRestart, ActionShutdown, ActionSysPerf:
	case ActionRename:
		if cmd.Name == "" {
			return cmd, fmt.Errorf("%w: rename requires a name", ErrInvalidCommand)
		}
	case "":
		return cmd, fmt.Errorf("%w: missing action", ErrInvalidCommand)
	default:
		return cmd, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
	return cmd, nil
}

// HandleMQTTCommand executes a command received on devportal/command/{device}.
// It matches mqtt.MessageHandler.
func (m *Monitor) HandleMQTTCommand(topic string, payload []byte) error {
	id, ok := mqtt.Topics{}.DeviceIDFromTopic(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	_, err := m.Execute(context.Background(), id, payload, audit.SourceMQTT)
	return err
}

// HandleNATSCommand executes a command received on
// devportal.device.{device}.command. It matches natsbus.CommandHandler.
func (m *Monitor) HandleNATSCommand(deviceID string, payload []byte) (any, error) {
	return m.Execute(context.Background(), deviceID, payload, audit.SourceNATS)
}

// Execute decodes payload and runs the command against the device named by
// idOrName. Every action except sysperf is audited under source.
//
// Returns:
//   - any: the device after connect, the sample for sysperf, nil otherwise
//   - error: ErrInvalidCommand, ErrUnknownAction, device.ErrDeviceNotFound or
//     the Portal error of the operation
func (m *Monitor) Execute(ctx context.Context, idOrName string, payload []byte, source string) (any, error) {
	cmd, err := ParseCommand(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	dev, err := m.registry.Resolve(ctx, idOrName)
	if err != nil {
		return nil, err
	}

	var result any
	var auditAction string
	details := map[string]any{}

	switch cmd.Action {
	case ActionConnect:
		auditAction = audit.ActionConnect
		d, connectErr := m.Connect(ctx, dev.ID)
		if connectErr == nil {
			result = d
		}
		err = connectErr
	case ActionRestart:
		auditAction = audit.ActionRestart
		err = m.Restart(ctx, dev.ID)
	case ActionShutdown:
		auditAction = audit.ActionShutdown
		err = m.Shutdown(ctx, dev.ID)
	case ActionRename:
		auditAction = audit.ActionRename
		details["name"] = cmd.Name
		err = m.Rename(ctx, dev.ID, cmd.Name)
	case ActionSysPerf:
		sample, perfErr := m.SystemPerformance(ctx, dev.ID)
		if perfErr == nil {
			result = sample
		}
		err = perfErr
	}

	if auditAction != "" {
		details["succeeded"] = err == nil
		if err != nil {
			details["error"] = err.Error()
		}
		m.audit.WithSource(source).Device(ctx, auditAction, dev.ID, source, details)
	}

	if err != nil {
		m.logger.Warn("device command failed", "device", dev.ID, "action", cmd.Action, "source", source, "error", err)
		return nil, err
	}
	m.logger.Info("device command executed", "device", dev.ID, "action", cmd.Action, "source", source)
	return result, nil
}
