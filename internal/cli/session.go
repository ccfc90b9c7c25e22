package cli

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devportal-core/internal/device"
	"github.com/nerrad567/devportal-core/internal/portal"
)

var errNoTarget = errors.New("no device given: use --device, --address or portal.address")

// target is the device a command acts on.
type target struct {
	desc *portal.Descriptor
	cert *x509.Certificate

	// dev is set when the target came from the registry.
	dev *device.Device
}

func (t *target) name() string {
	if t.dev != nil {
		return t.dev.Name
	}
	return t.desc.Address()
}

// resolveTarget builds the target from --device, or from the address flags
// and portal config.
func (a *app) resolveTarget(ctx context.Context) (*target, error) {
	password := a.cfg.Portal.Password
	if a.password != "" {
		password = a.password
	}

	t := &target{}
	if a.deviceRef != "" {
		registry, err := a.store(ctx)
		if err != nil {
			return nil, err
		}
		dev, err := registry.Resolve(ctx, a.deviceRef)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", a.deviceRef, err)
		}
		if a.username != "" {
			dev.Username = a.username
		}
		if t.desc, t.cert, err = dev.Descriptor(password); err != nil {
			return nil, err
		}
		t.dev = dev
	} else {
		address := a.cfg.Portal.Address
		if a.address != "" {
			address = a.address
		}
		if address == "" {
			return nil, errNoTarget
		}
		username := a.cfg.Portal.Username
		if a.username != "" {
			username = a.username
		}
		desc, err := portal.NewDescriptor(address, portal.Credentials{Username: username, Password: password})
		if err != nil {
			return nil, err
		}
		t.desc = desc
	}

	certFile := a.cfg.Portal.CertificateFile
	if a.certFile != "" {
		certFile = a.certFile
	}
	if certFile != "" {
		data, err := os.ReadFile(certFile)
		if err != nil {
			return nil, fmt.Errorf("reading certificate: %w", err)
		}
		if t.cert, err = portal.ParseCertificate(data); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// connectOptions are the connect settings from config, adjusted by the
// connect command's flags.
type connectOptions struct {
	portal.ConnectOptions
	progress bool
}

// session resolves the target and runs the connect sequence. Progress events
// go to stderr when opts.progress is set. Registered devices get the outcome
// recorded. The target is returned with a connect error once it resolved.
func (a *app) session(cmd *cobra.Command, opts connectOptions) (*portal.Session, *target, error) {
	ctx := cmd.Context()
	t, err := a.resolveTarget(ctx)
	if err != nil {
		return nil, nil, err
	}

	sopts := portal.Options{
		Logger:            a.log,
		ManualCertificate: t.cert,
		ExpectedIssuer:    a.cfg.Portal.ExpectedIssuer,
		RequestTimeout:    a.cfg.GetRequestTimeout(),
	}
	if a.acceptUntrusted {
		sopts.UntrustedHandler = func(leaf *x509.Certificate, _ []*x509.Certificate, verifyErr error) bool {
			a.log.Warn("accepting untrusted device certificate", "subject", leaf.Subject.String(), "error", verifyErr)
			return true
		}
	}

	s, err := portal.NewSession(t.desc, sopts)
	if err != nil {
		return nil, nil, err
	}

	failed := portal.PhaseIdle
	s.OnConnectionStatus(func(ev portal.ConnectionStatusEvent) {
		if ev.Status == portal.StatusFailed {
			failed = ev.Phase
		}
		if opts.progress {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", ev.Status, ev.Message)
		}
	})

	err = s.Connect(ctx, opts.ConnectOptions)
	if t.dev != nil {
		a.recordConnection(ctx, t, s, failed, err)
	}
	if err != nil {
		return nil, t, err
	}
	return s, t, nil
}

func (a *app) recordConnection(ctx context.Context, t *target, s *portal.Session, failed portal.ConnectionPhase, connectErr error) {
	rec := device.ConnectionRecord{
		Status:     portal.StatusConnected,
		Phase:      portal.PhaseIdle,
		HTTPStatus: s.ConnectionHTTPStatus(),
		At:         time.Now().UTC(),
	}
	if connectErr != nil {
		rec.Status = portal.StatusFailed
		rec.Phase = failed
		rec.Error = connectErr.Error()
	} else {
		rec.Identity = device.IdentityFromDescriptor(s.Descriptor())
	}

	updated, err := a.registry.RecordConnection(ctx, t.dev.ID, rec)
	if err != nil {
		a.log.Warn("recording connection failed", "device", t.dev.ID, "error", err)
		return
	}
	t.dev = updated
}

// defaultConnectOptions applies the portal config to non-connect commands.
// WiFi association only happens through the connect command.
func (a *app) defaultConnectOptions() connectOptions {
	return connectOptions{ConnectOptions: portal.ConnectOptions{UpdateConnection: a.cfg.Portal.UpdateConnection}}
}

// auditDevice records action when the target is a registered device.
func (a *app) auditDevice(ctx context.Context, t *target, action string, err error, details map[string]any) {
	if t.dev == nil || a.recorder == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	details["succeeded"] = err == nil
	if err != nil {
		details["error"] = err.Error()
	}
	a.recorder.Device(ctx, action, t.dev.ID, operatorName(), details)
}
