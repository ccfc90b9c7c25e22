package monitor

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nerrad567/devportal-core/internal/audit"
	"github.com/nerrad567/devportal-core/internal/device"
	"github.com/nerrad567/devportal-core/internal/infrastructure/config"
	"github.com/nerrad567/devportal-core/internal/portal"
	"github.com/nerrad567/devportal-core/internal/portal/control"
	"github.com/nerrad567/devportal-core/internal/portal/sysperf"
)

// Logger defines the logging interface used by the monitor.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const defaultRetryInterval = 30 * time.Second

// Options configures a Monitor.
type Options struct {
	Logger Logger

	// Audit records command-driven operations. May be nil.
	Audit *audit.Recorder

	Sinks []Sink

	// RetryInterval overrides cfg.Monitor.RetryInterval. Used by tests.
	RetryInterval time.Duration
}

// Monitor keeps one Portal session per device and implements the live
// device operations used by the API and the command buses.
//
// Thread Safety: all methods are safe for concurrent use.
type Monitor struct {
	cfg        config.PortalConfig
	registry   *device.Registry
	audit      *audit.Recorder
	sinks      []Sink
	logger     Logger
	retry      time.Duration
	timeout    time.Duration
	manualCert *x509.Certificate

	mu       sync.Mutex
	sessions map[string]*portal.Session
	workers  map[string]context.CancelFunc
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Monitor over the devices in registry. All devices share the
// credentials password and optional certificate file from cfg.
//
// Parameters:
//   - cfg: Portal settings (password, certificate file, timeouts, monitor block)
//   - registry: Device registry, also used to persist connect outcomes
//   - opts: Logger, audit recorder and sinks
//
// Returns:
//   - *Monitor: ready to Start or to serve on-demand operations
//   - error: if cfg.CertificateFile cannot be read or parsed
func New(cfg config.PortalConfig, registry *device.Registry, opts Options) (*Monitor, error) {
	if registry == nil {
		return nil, errors.New("monitor: registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	retry := opts.RetryInterval
	if retry <= 0 {
		retry = time.Duration(cfg.Monitor.RetryInterval) * time.Second
	}
	if retry <= 0 {
		retry = defaultRetryInterval
	}

	m := &Monitor{
		cfg:      cfg,
		registry: registry,
		audit:    opts.Audit,
		sinks:    opts.Sinks,
		logger:   opts.Logger,
		retry:    retry,
		timeout:  time.Duration(cfg.RequestTimeout) * time.Second,
		sessions: make(map[string]*portal.Session),
		workers:  make(map[string]context.CancelFunc),
	}

	if cfg.CertificateFile != "" {
		data, err := os.ReadFile(cfg.CertificateFile)
		if err != nil {
			return nil, fmt.Errorf("monitor: reading certificate file: %w", err)
		}
		if m.manualCert, err = portal.ParseCertificate(data); err != nil {
			return nil, fmt.Errorf("monitor: %w", err)
		}
	}
	return m, nil
}

// AddSink attaches a sink. Must be called before Start.
func (m *Monitor) AddSink(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Start launches a worker for every registered device and a reconcile loop
// that follows registrations and removals. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.reconcile(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.retry)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reconcile(ctx)
			}
		}
	}()

	m.logger.Info("device monitor started", "retry_interval", m.retry.String(), "stream_sysperf", m.cfg.Monitor.StreamSystemPerf)
}

// Stop cancels all workers and waits for them to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.workers = make(map[string]context.CancelFunc)
	m.mu.Unlock()
	m.logger.Info("device monitor stopped")
}

// Watching returns the IDs of devices with a running worker.
func (m *Monitor) Watching() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	return ids
}

func (m *Monitor) reconcile(ctx context.Context) {
	devices, err := m.registry.ListDevices(ctx)
	if err != nil {
		m.logger.Error("listing devices failed", "error", err)
		return
	}

	present := make(map[string]bool, len(devices))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range devices {
		present[d.ID] = true
		if _, ok := m.workers[d.ID]; ok {
			continue
		}
		wctx, cancel := context.WithCancel(ctx)
		m.workers[d.ID] = cancel
		m.wg.Add(1)
		go m.watch(wctx, d.ID)
	}
	for id, cancel := range m.workers {
		if !present[id] {
			cancel()
			delete(m.workers, id)
			delete(m.sessions, id)
		}
	}
}

// watch connects a device and keeps it connected until ctx ends or the
// device is removed.
func (m *Monitor) watch(ctx context.Context, id string) {
	defer m.wg.Done()

	for ctx.Err() == nil {
		dev, err := m.Connect(ctx, id)
		if errors.Is(err, device.ErrDeviceNotFound) {
			return
		}
		if err != nil {
			if !m.sleep(ctx) {
				return
			}
			continue
		}

		if !m.cfg.Monitor.StreamSystemPerf {
			<-ctx.Done()
			return
		}

		if !m.stream(ctx, dev) {
			return
		}
		m.forget(id)
		if !m.sleep(ctx) {
			return
		}
	}
}

// stream follows the device's performance channel. It returns false when ctx
// ended and true when the channel dropped and a reconnect is due.
func (m *Monitor) stream(ctx context.Context, dev *device.Device) bool {
	s, ok := m.cached(dev.ID)
	if !ok {
		return true
	}

	ch, err := sysperf.New(s).Stream(ctx, func(p *sysperf.SystemPerformance) {
		m.emitSample(dev.ID, dev.Platform, p)
	})
	if err != nil {
		m.logger.Warn("sysperf stream failed", "device", dev.ID, "error", err)
		return ctx.Err() == nil
	}

	select {
	case <-ctx.Done():
		_ = ch.Close()
		return false
	case <-ch.Done():
		m.logger.Warn("sysperf stream closed", "device", dev.ID, "error", ch.Err())
		return true
	}
}

func (m *Monitor) sleep(ctx context.Context) bool {
	t := time.NewTimer(m.retry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Connect runs the connect sequence against the device and records the
// outcome in the registry. A successful session is kept for later
// operations.
func (m *Monitor) Connect(ctx context.Context, id string) (*device.Device, error) {
	dev, err := m.registry.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	s, err := m.newSession(dev)
	if err != nil {
		return nil, err
	}
	// The session resets its phase to Idle after a failure; the Failed event
	// carries the phase that failed.
	failed := portal.PhaseIdle
	s.OnConnectionStatus(func(ev portal.ConnectionStatusEvent) {
		if ev.Status == portal.StatusFailed {
			failed = ev.Phase
		}
		m.emitStatus(dev.ID, ev)
	})

	start := time.Now()
	connectErr := s.Connect(ctx, portal.ConnectOptions{UpdateConnection: m.cfg.UpdateConnection})

	rec := device.ConnectionRecord{
		Status:     portal.StatusConnected,
		Phase:      s.Phase(),
		HTTPStatus: s.ConnectionHTTPStatus(),
		At:         time.Now().UTC(),
	}
	result := ConnectResult{
		DeviceID:   dev.ID,
		Platform:   dev.Platform,
		Succeeded:  connectErr == nil,
		Phase:      portal.PhaseIdle,
		HTTPStatus: rec.HTTPStatus,
		Duration:   time.Since(start),
		At:         rec.At,
	}
	if connectErr != nil {
		rec.Status = portal.StatusFailed
		rec.Error = connectErr.Error()
		rec.Phase = failed
		result.Phase = rec.Phase
		result.Error = rec.Error
	} else {
		rec.Identity = device.IdentityFromDescriptor(s.Descriptor())
		result.Platform = rec.Identity.Platform.String()
	}
	m.emitResult(result)

	updated, err := m.registry.RecordConnection(ctx, dev.ID, rec)
	if err != nil {
		m.logger.Error("recording connection failed", "device", dev.ID, "error", err)
		updated = dev
	}

	if connectErr != nil {
		m.forget(dev.ID)
		return nil, connectErr
	}

	m.mu.Lock()
	m.sessions[dev.ID] = s
	m.mu.Unlock()
	return updated, nil
}

// Restart reboots the device. The cached session is dropped.
func (m *Monitor) Restart(ctx context.Context, id string) error {
	s, err := m.session(ctx, id)
	if err != nil {
		return err
	}
	if err := control.New(s).Restart(ctx); err != nil {
		return m.check(id, err)
	}
	m.forget(id)
	return nil
}

// Shutdown powers the device off. The cached session is dropped.
func (m *Monitor) Shutdown(ctx context.Context, id string) error {
	s, err := m.session(ctx, id)
	if err != nil {
		return err
	}
	if err := control.New(s).Shutdown(ctx); err != nil {
		return m.check(id, err)
	}
	m.forget(id)
	return nil
}

// Rename sets the device's machine name. It takes effect after a restart.
func (m *Monitor) Rename(ctx context.Context, id, name string) error {
	s, err := m.session(ctx, id)
	if err != nil {
		return err
	}
	return m.check(id, control.New(s).SetMachineName(ctx, name))
}

// SystemPerformance fetches one sample and fans it out to the sinks.
func (m *Monitor) SystemPerformance(ctx context.Context, id string) (*sysperf.SystemPerformance, error) {
	s, err := m.session(ctx, id)
	if err != nil {
		return nil, err
	}
	sample, err := sysperf.New(s).Get(ctx)
	if err != nil {
		return nil, m.check(id, err)
	}
	m.emitSample(id, s.Platform().String(), sample)
	return sample, nil
}

// session returns the cached session for id, connecting first if needed.
func (m *Monitor) session(ctx context.Context, id string) (*portal.Session, error) {
	if s, ok := m.cached(id); ok {
		return s, nil
	}
	if _, err := m.Connect(ctx, id); err != nil {
		return nil, err
	}
	s, ok := m.cached(id)
	if !ok {
		return nil, fmt.Errorf("%w: session dropped", portal.ErrConnectFailed)
	}
	return s, nil
}

func (m *Monitor) cached(id string) (*portal.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Monitor) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// check drops the cached session after a transport failure so the next
// operation reconnects.
func (m *Monitor) check(id string, err error) error {
	var te *portal.TransportError
	if errors.As(err, &te) {
		m.forget(id)
	}
	return err
}

func (m *Monitor) newSession(dev *device.Device) (*portal.Session, error) {
	desc, cert, err := dev.Descriptor(m.cfg.Password)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		cert = m.manualCert
	}
	return portal.NewSession(desc, portal.Options{
		Logger:            m.logger,
		ManualCertificate: cert,
		ExpectedIssuer:    m.cfg.ExpectedIssuer,
		RequestTimeout:    m.timeout,
	})
}

func (m *Monitor) sinkList() []Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sink(nil), m.sinks...)
}

func (m *Monitor) emitStatus(id string, ev portal.ConnectionStatusEvent) {
	for _, s := range m.sinkList() {
		s.ConnectionStatus(id, ev)
	}
}

func (m *Monitor) emitResult(r ConnectResult) {
	for _, s := range m.sinkList() {
		s.ConnectResult(r)
	}
}

func (m *Monitor) emitSample(id, platform string, p *sysperf.SystemPerformance) {
	if p == nil {
		return
	}
	at := time.Now().UTC()
	for _, s := range m.sinkList() {
		s.SystemPerformance(id, platform, p, at)
	}
}
