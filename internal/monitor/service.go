package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	monitorCacheTTL      = 30 * time.Second
	monitorCollectBudget = 2 * time.Second
)

// Snapshot is a small host summary shown to the model in the runtime footer.
type Snapshot struct {
	CPUCores      int       `json:"cpu_cores"`
	LoadAverage   []float64 `json:"load_average,omitempty"`
	MemoryUsedPct float64   `json:"memory_used_pct"`
	Platform      string    `json:"platform"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Summary renders a single footer line, e.g. "linux, 8 cores, load 0.42/0.30/0.25, mem 61%".
func (s Snapshot) Summary() string {
	parts := []string{s.Platform}
	if s.CPUCores > 0 {
		parts = append(parts, fmt.Sprintf("%d cores", s.CPUCores))
	}
	if len(s.LoadAverage) == 3 {
		parts = append(parts, fmt.Sprintf("load %.2f/%.2f/%.2f", s.LoadAverage[0], s.LoadAverage[1], s.LoadAverage[2]))
	}
	if s.MemoryUsedPct > 0 {
		parts = append(parts, fmt.Sprintf("mem %.0f%%", s.MemoryUsedPct))
	}
	return strings.Join(parts, ", ")
}

// Service collects host snapshots with a short cache so repeated wakes do not re-sample.
type Service struct {
	log *slog.Logger

	mu      sync.Mutex
	hasSnap bool
	snap    Snapshot
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log}
}

// Snapshot returns a cached snapshot or collects a fresh one. Collection errors degrade to a
// partial snapshot; they are never returned.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	if s == nil {
		return Snapshot{Platform: runtime.GOOS}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasSnap && time.Since(s.snap.CollectedAt) < monitorCacheTTL {
		return s.snap
	}

	cctx, cancel := context.WithTimeout(ctx, monitorCollectBudget)
	defer cancel()

	snap := Snapshot{Platform: runtime.GOOS, CollectedAt: time.Now()}
	if n, err := cpu.CountsWithContext(cctx, true); err == nil {
		snap.CPUCores = n
	} else {
		snap.CPUCores = runtime.NumCPU()
		s.log.Debug("monitor: cpu count failed", "error", err)
	}
	if avg, err := load.AvgWithContext(cctx); err == nil && avg != nil {
		snap.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else if err != nil {
		s.log.Debug("monitor: load average failed", "error", err)
	}
	if vm, err := mem.VirtualMemoryWithContext(cctx); err == nil && vm != nil {
		snap.MemoryUsedPct = vm.UsedPercent
	} else if err != nil {
		s.log.Debug("monitor: memory stats failed", "error", err)
	}

	s.snap = snap
	s.hasSnap = true
	return snap
}

// HostSummary implements the assembler's footer hook.
func (s *Service) HostSummary(ctx context.Context) string {
	return s.Snapshot(ctx).Summary()
}
