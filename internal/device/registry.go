package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// Registry adds an in-memory cache over a Repository. The cache is filled by
// RefreshCache and kept in step by every write. Returned devices are deep
// copies.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every device from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(d)
	return d, nil
}

// Resolve finds a device by ID or, failing that, by name. CLI commands and
// MQTT topics accept either.
func (r *Registry) Resolve(ctx context.Context, idOrName string) (*Device, error) {
	r.cacheMu.RLock()
	for _, d := range r.cache {
		if d.ID == idOrName || d.Name == idOrName {
			r.cacheMu.RUnlock()
			return d.DeepCopy(), nil
		}
	}
	r.cacheMu.RUnlock()

	d, err := r.repo.GetByID(ctx, idOrName)
	if err == nil {
		r.store(d)
		return d, nil
	}
	d, err = r.repo.GetByName(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	r.store(d)
	return d, nil
}

// ListDevices returns all devices ordered by name.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) == 0 {
		r.cacheMu.RUnlock()
		return r.repo.List(ctx)
	}
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.DeepCopy())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// CreateDevice validates and persists a new device. An empty ID is
// generated, and an empty Name is derived from the address.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if d.Name == "" {
		d.Name = GenerateName(d.Address)
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}
	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}
	r.store(d)

	r.logger.Info("device registered", "id", d.ID, "name", d.Name, "address", d.Address)
	return nil
}

// UpdateDevice validates and persists changes to an existing device.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	if err := ValidateDevice(d); err != nil {
		return err
	}
	d.UpdatedAt = time.Now().UTC()
	if err := r.repo.Update(ctx, d); err != nil {
		return err
	}
	r.store(d)

	r.logger.Info("device updated", "id", d.ID, "name", d.Name)
	return nil
}

// DeleteDevice removes a device.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device removed", "id", id)
	return nil
}

// RecordConnection stores the outcome of a connect attempt. Successful
// attempts also store the discovered identity and pinned certificate.
func (r *Registry) RecordConnection(ctx context.Context, id string, rec ConnectionRecord) (*Device, error) {
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	rec.apply(d)

	if err := r.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	r.store(d)

	r.logger.Debug("device connection recorded", "id", id, "status", d.LastStatus, "phase", d.LastPhase)
	return d.DeepCopy(), nil
}

func (r *Registry) store(d *Device) {
	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()
}

// Stats summarises the cached inventory.
type Stats struct {
	TotalDevices int            `json:"total_devices"`
	ByPlatform   map[string]int `json:"by_platform"`
	ByStatus     map[string]int `json:"by_status"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByPlatform:   make(map[string]int),
		ByStatus:     make(map[string]int),
	}
	for _, d := range r.cache {
		stats.ByPlatform[d.Platform]++
		status := d.LastStatus
		if status == "" {
			status = "Never"
		}
		stats.ByStatus[status]++
	}
	return stats
}
