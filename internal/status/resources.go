package status

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"depthwatch/logger"
)

// resourceSnapshot is one sample of process and host utilisation.
type resourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryPct   float64   `json:"memory_percent"`
	DiskPct     float64   `json:"disk_percent"`
	Goroutines  int       `json:"goroutines"`
	HeapInUse   uint64    `json:"heap_in_use"`
}

type resourceSampler struct {
	mu       sync.RWMutex
	items    deque.Deque[resourceSnapshot]
	limit    int
	interval time.Duration
	diskPath string
	wg       sync.WaitGroup
	log      *logger.Log
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
)

func newResourceSampler(limit int, interval time.Duration, log *logger.Log) *resourceSampler {
	if limit <= 0 {
		limit = 60
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &resourceSampler{
		limit:    limit,
		interval: interval,
		diskPath: "/",
		log:      log,
	}
}

// start samples until ctx is cancelled; stop waits for the loop to exit.
func (s *resourceSampler) start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ctx.Err() == nil {
			if snap, ok := s.sample(ctx); ok {
				s.append(snap)
			}
		}
	}()
}

func (s *resourceSampler) stop() {
	s.wg.Wait()
}

// sample blocks for one interval while cpu usage is measured.
func (s *resourceSampler) sample(ctx context.Context) (resourceSnapshot, bool) {
	log := s.log.WithComponent("resource_sampler")

	cpuSamples, err := cpuPercentFn(ctx, s.interval)
	if err != nil {
		log.WithError(err).Debug("failed to sample cpu usage")
		return resourceSnapshot{}, sleepCtx(ctx, s.interval)
	}

	snap := resourceSnapshot{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}
	if len(cpuSamples) > 0 {
		snap.CPUPercent = cpuSamples[0]
	}

	if memStats, err := memoryStatsFn(ctx); err == nil {
		snap.MemoryUsed = memStats.Used
		snap.MemoryPct = memStats.UsedPercent
	} else {
		log.WithError(err).Debug("failed to sample memory usage")
	}
	if diskStats, err := diskUsageFn(ctx, s.diskPath); err == nil {
		snap.DiskPct = diskStats.UsedPercent
	} else {
		log.WithError(err).Debug("failed to sample disk usage")
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapInUse = ms.HeapInuse

	return snap, true
}

func (s *resourceSampler) append(snap resourceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.PushBack(snap)
	for s.items.Len() > s.limit {
		s.items.PopFront()
	}
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resourceSnapshot, s.items.Len())
	for i := range out {
		out[i] = s.items.At(i)
	}
	return out
}

// sleepCtx waits d and reports false; it returns early when ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	return false
}
