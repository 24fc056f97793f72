package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessUsage is a point-in-time resource snapshot of a managed process.
type ProcessUsage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	SampledAt  time.Time `json:"sampled_at"`
}

// Sample reads CPU and memory usage for a single live process.
func Sample(pid int) (ProcessUsage, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessUsage{}, fmt.Errorf("process handle for pid %d: %w", pid, err)
	}

	u := ProcessUsage{PID: int32(pid), SampledAt: time.Now()}

	// CPUPercent needs a prior sample for an exact figure; a zero first
	// reading is acceptable here.
	if cpu, err := proc.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessUsage{}, fmt.Errorf("memory info for pid %d: %w", pid, err)
	}
	u.MemoryRSS = memInfo.RSS
	u.MemoryMB = float64(memInfo.RSS) / 1024 / 1024

	if threads, err := proc.NumThreads(); err == nil {
		u.NumThreads = threads
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			u.NumFDs = fds
		}
	}
	return u, nil
}

// SamplerConfig holds configuration for periodic usage sampling.
type SamplerConfig struct {
	Enabled  bool          `toml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

// Sampler periodically samples resource usage for running services and
// exports it as Prometheus gauges. The latest snapshot per service is kept
// for the status API.
type Sampler struct {
	enabled  bool
	interval time.Duration

	mu     sync.RWMutex
	latest map[string]ProcessUsage

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
}

// NewSampler creates a usage sampler. A zero interval defaults to 5s.
func NewSampler(cfg SamplerConfig) *Sampler {
	interval := cfg.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Sampler{
		enabled:  cfg.Enabled,
		interval: interval,
		latest:   make(map[string]ProcessUsage),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "servon",
				Subsystem: "service",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of managed processes.",
			}, []string{"service"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "servon",
				Subsystem: "service",
				Name:      "memory_mb",
				Help:      "Resident memory in MB of managed processes.",
			}, []string{"service"},
		),
	}
}

// Register registers the sampler gauges with the provided registerer.
func (s *Sampler) Register(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	for _, c := range []prometheus.Collector{s.cpuPercent, s.memoryMB} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic collection. pids returns the live pid per service id.
func (s *Sampler) Start(ctx context.Context, pids func() map[string]int) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect(pids())
			}
		}
	}()
}

// Stop halts collection and waits for the sampling goroutine to finish.
func (s *Sampler) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sampler) collect(pids map[string]int) {
	fresh := make(map[string]ProcessUsage, len(pids))
	for id, pid := range pids {
		if pid <= 0 {
			continue
		}
		u, err := Sample(pid)
		if err != nil {
			slog.Debug("usage sample failed", "service", id, "pid", pid, "error", err)
			continue
		}
		fresh[id] = u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.latest {
		if _, ok := fresh[id]; !ok {
			s.cpuPercent.DeleteLabelValues(id)
			s.memoryMB.DeleteLabelValues(id)
			delete(s.latest, id)
		}
	}
	for id, u := range fresh {
		s.cpuPercent.WithLabelValues(id).Set(u.CPUPercent)
		s.memoryMB.WithLabelValues(id).Set(u.MemoryMB)
		s.latest[id] = u
	}
}

// Latest returns the most recent snapshot for a service id.
func (s *Sampler) Latest(serviceID string) (ProcessUsage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.latest[serviceID]
	return u, ok
}

// Enabled reports whether the sampler collects anything.
func (s *Sampler) Enabled() bool { return s.enabled }
