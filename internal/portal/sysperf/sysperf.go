// Package sysperf reads system performance data from a Device Portal,
// either as a single REST sample or as a WebSocket stream.
package sysperf

import (
	"context"

	"github.com/nerrad567/devportal-core/internal/portal"
)

// SystemPerformance is one sample from api/resourcemanager/systemperf.
type SystemPerformance struct {
	AvailablePages     int64           `json:"AvailablePages" yaml:"available_pages"`
	CommitLimit        int64           `json:"CommitLimit" yaml:"commit_limit"`
	CommittedPages     int64           `json:"CommittedPages" yaml:"committed_pages"`
	CPULoad            int             `json:"CpuLoad" yaml:"cpu_load"`
	IOOtherSpeed       int64           `json:"IOOtherSpeed" yaml:"io_other_speed"`
	IOReadSpeed        int64           `json:"IOReadSpeed" yaml:"io_read_speed"`
	IOWriteSpeed       int64           `json:"IOWriteSpeed" yaml:"io_write_speed"`
	NonPagedPoolPages  int64           `json:"NonPagedPoolPages" yaml:"non_paged_pool_pages"`
	PageSize           int64           `json:"PageSize" yaml:"page_size"`
	PagedPoolPages     int64           `json:"PagedPoolPages" yaml:"paged_pool_pages"`
	TotalInstalledInKb int64           `json:"TotalInstalledInKb" yaml:"total_installed_kb"`
	TotalPages         int64           `json:"TotalPages" yaml:"total_pages"`
	GPUData            *GPUData        `json:"GPUData,omitempty" yaml:"gpu,omitempty"`
	NetworkingData     *NetworkingData `json:"NetworkingData,omitempty" yaml:"network,omitempty"`
}

// GPUData lists the graphics adapters.
type GPUData struct {
	AvailableAdapters []GPUAdapter `json:"AvailableAdapters" yaml:"adapters"`
}

// GPUAdapter is the memory and engine usage of one adapter.
type GPUAdapter struct {
	DedicatedMemory     int64     `json:"DedicatedMemory" yaml:"dedicated_memory"`
	DedicatedMemoryUsed int64     `json:"DedicatedMemoryUsed" yaml:"dedicated_memory_used"`
	Description         string    `json:"Description" yaml:"description"`
	SystemMemory        int64     `json:"SystemMemory" yaml:"system_memory"`
	SystemMemoryUsed    int64     `json:"SystemMemoryUsed" yaml:"system_memory_used"`
	EnginesUtilization  []float64 `json:"EnginesUtilization" yaml:"engines_utilization"`
}

// NetworkingData is the device-wide network throughput.
type NetworkingData struct {
	NetworkInBytes  int64 `json:"NetworkInBytes" yaml:"in_bytes"`
	NetworkOutBytes int64 `json:"NetworkOutBytes" yaml:"out_bytes"`
}

// MemoryUsedBytes is committed physical memory in bytes.
func (p *SystemPerformance) MemoryUsedBytes() int64 {
	used := p.TotalPages - p.AvailablePages
	if used < 0 {
		return 0
	}
	return used * p.PageSize
}

// Fields flattens the sample into metric fields.
func (p *SystemPerformance) Fields() map[string]any {
	fields := map[string]any{
		"cpu_load":             p.CPULoad,
		"available_pages":      p.AvailablePages,
		"committed_pages":      p.CommittedPages,
		"commit_limit":         p.CommitLimit,
		"page_size":            p.PageSize,
		"paged_pool_pages":     p.PagedPoolPages,
		"non_paged_pool_pages": p.NonPagedPoolPages,
		"total_pages":          p.TotalPages,
		"total_installed_kb":   p.TotalInstalledInKb,
		"memory_used_bytes":    p.MemoryUsedBytes(),
		"io_read_speed":        p.IOReadSpeed,
		"io_write_speed":       p.IOWriteSpeed,
		"io_other_speed":       p.IOOtherSpeed,
	}

	if p.NetworkingData != nil {
		fields["network_in_bytes"] = p.NetworkingData.NetworkInBytes
		fields["network_out_bytes"] = p.NetworkingData.NetworkOutBytes
	}

	if p.GPUData != nil {
		var dedicatedUsed, systemUsed int64
		for _, a := range p.GPUData.AvailableAdapters {
			dedicatedUsed += a.DedicatedMemoryUsed
			systemUsed += a.SystemMemoryUsed
		}
		fields["gpu_dedicated_memory_used"] = dedicatedUsed
		fields["gpu_system_memory_used"] = systemUsed
	}

	return fields
}

// Client reads performance data through a session.
type Client struct {
	session *portal.Session
}

// New creates a Client on s.
func New(s *portal.Session) *Client {
	return &Client{session: s}
}

// Get fetches one sample.
func (c *Client) Get(ctx context.Context) (*SystemPerformance, error) {
	var p SystemPerformance
	if err := c.session.Get(ctx, portal.SystemPerfPath, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Stream subscribes to the sample stream. handler runs on the channel's
// receive goroutine. Close the returned channel to stop.
func (c *Client) Stream(ctx context.Context, handler func(*SystemPerformance)) (*portal.Channel[SystemPerformance], error) {
	return portal.Subscribe(ctx, c.session, portal.SystemPerfPath, nil, func(p SystemPerformance) {
		handler(&p)
	})
}
