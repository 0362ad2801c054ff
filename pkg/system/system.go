// Package system reports host resource usage (CPU, memory) sampled
// during a long render, and sizes the render pipeline's worker pool to
// the host's logical CPU count (§5's "bounded worker pool sized by
// default to the host's logical CPU count").
//
// Grounded directly on the teacher's pkg/system.System: same
// gopsutil-backed sampling loop and Status snapshot shape, generalized
// from an NVR camera-server's always-on status page to an
// optionally-started sampler a render run can attach for diagnostics.
package system

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status is a snapshot of host resource usage.
type Status struct {
	CPUUsagePercent int
	RAMUsagePercent int
}

type (
	cpuFunc func(context.Context, time.Duration, bool) ([]float64, error)
	ramFunc func() (*mem.VirtualMemoryStat, error)
)

// System samples host CPU/RAM usage on a fixed interval while a render
// run is in progress.
type System struct {
	cpu      cpuFunc
	ram      ramFunc
	duration time.Duration

	mu     sync.Mutex
	status Status
}

// New returns a System ready to sample.
func New() *System {
	return &System{
		cpu:      cpu.PercentWithContext,
		ram:      mem.VirtualMemory,
		duration: 5 * time.Second,
	}
}

// WorkerPoolSize returns the host's logical CPU count, the default
// sizing for the render pipeline's bounded worker pool per §5.
func WorkerPoolSize() int {
	n := runtime.NumCPU()
	if n < 1 {
		return 1
	}
	return n
}

func (s *System) update(ctx context.Context) error {
	cpuUsage, err := s.cpu(ctx, s.duration, false)
	if err != nil {
		return fmt.Errorf("system: cpu usage: %w", err)
	}
	ramUsage, err := s.ram()
	if err != nil {
		return fmt.Errorf("system: ram usage: %w", err)
	}

	pct := 0
	if len(cpuUsage) > 0 {
		pct = int(cpuUsage[0])
	}

	s.mu.Lock()
	s.status = Status{CPUUsagePercent: pct, RAMUsagePercent: int(ramUsage.UsedPercent)}
	s.mu.Unlock()
	return nil
}

// SampleLoop updates the status snapshot until ctx is cancelled. onError,
// if non-nil, is invoked with sampling failures; sampling continues
// regardless, since host diagnostics are best-effort and must never
// interrupt a render.
func (s *System) SampleLoop(ctx context.Context, onError func(error)) {
	ticker := time.NewTicker(s.duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.update(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// Status returns the most recently sampled snapshot.
func (s *System) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
