// Package health runs periodic liveness probes over the system's hard
// dependencies and trips a latched emergency stop after too many consecutive
// failures.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vantrace/flasharb/internal/domain"
	"github.com/vantrace/flasharb/internal/metrics"
)

// Check is one health probe. Probes must be cheap and bounded by ctx.
type Check interface {
	Name() string
	Run(ctx context.Context) domain.CheckResult
}

// Pinger is the chain RPC liveness dependency.
type Pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// RPCCheck probes the chain RPC endpoint and fails on error or when latency
// exceeds the limit.
type RPCCheck struct {
	Pinger     Pinger
	MaxLatency time.Duration
}

func (c *RPCCheck) Name() string { return "chain_rpc" }

func (c *RPCCheck) Run(ctx context.Context) domain.CheckResult {
	res := domain.CheckResult{Name: c.Name(), CheckedAt: time.Now().UTC()}

	latency, err := c.Pinger.Ping(ctx)
	res.Latency = latency
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	metrics.RPCLatency.Set(latency.Seconds())

	if c.MaxLatency > 0 && latency > c.MaxLatency {
		res.Detail = fmt.Sprintf("rpc latency %s exceeds limit %s", latency, c.MaxLatency)
		return res
	}

	res.Healthy = true
	return res
}

// EndpointCheck probes reachability of an HTTP dependency, such as a venue
// quote endpoint. Any response counts as reachable; the venue answering a
// bare GET with an error status is still up.
type EndpointCheck struct {
	CheckName string
	URL       string
	Client    *http.Client
}

func (c *EndpointCheck) Name() string { return c.CheckName }

func (c *EndpointCheck) Run(ctx context.Context) domain.CheckResult {
	res := domain.CheckResult{Name: c.Name(), CheckedAt: time.Now().UTC()}

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		res.Detail = fmt.Sprintf("build request for %s: %v", c.URL, err)
		return res
	}

	start := time.Now()
	resp, err := client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		res.Detail = fmt.Sprintf("reach %s: %v", c.URL, err)
		return res
	}
	resp.Body.Close()

	res.Healthy = true
	return res
}

// MemoryCheck fails when available system memory drops below the floor.
type MemoryCheck struct {
	MinFreeMB uint64
}

func (c *MemoryCheck) Name() string { return "memory" }

func (c *MemoryCheck) Run(ctx context.Context) domain.CheckResult {
	res := domain.CheckResult{Name: c.Name(), CheckedAt: time.Now().UTC()}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		res.Detail = fmt.Sprintf("read memory stats: %v", err)
		return res
	}

	freeMB := vm.Available / (1 << 20)
	if freeMB < c.MinFreeMB {
		res.Detail = fmt.Sprintf("available memory %dMB below floor %dMB", freeMB, c.MinFreeMB)
		return res
	}

	res.Healthy = true
	return res
}

// DiskCheck fails when free space on the given path drops below the floor.
type DiskCheck struct {
	Path      string
	MinFreeMB uint64
}

func (c *DiskCheck) Name() string { return "disk" }

func (c *DiskCheck) Run(ctx context.Context) domain.CheckResult {
	res := domain.CheckResult{Name: c.Name(), CheckedAt: time.Now().UTC()}

	usage, err := disk.UsageWithContext(ctx, c.Path)
	if err != nil {
		res.Detail = fmt.Sprintf("read disk usage for %s: %v", c.Path, err)
		return res
	}

	freeMB := usage.Free / (1 << 20)
	if freeMB < c.MinFreeMB {
		res.Detail = fmt.Sprintf("free disk %dMB below floor %dMB on %s", freeMB, c.MinFreeMB, c.Path)
		return res
	}

	res.Healthy = true
	return res
}
