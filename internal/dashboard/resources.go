package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"mdfeed/logger"
)

// resourceSnapshot is one host sample. The UDP counters come from the kernel
// and grow when the socket buffer overflows before the receiver reads.
type resourceSnapshot struct {
	Timestamp       time.Time `json:"timestamp"`
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryUsed      uint64    `json:"memory_used"`
	MemoryPct       float64   `json:"memory_percent"`
	UDPInDatagrams  int64     `json:"udp_in_datagrams"`
	UDPInErrors     int64     `json:"udp_in_errors"`
	UDPRcvbufErrors int64     `json:"udp_rcvbuf_errors"`
	DiskUsed        uint64    `json:"disk_used"`
	DiskTotal       uint64    `json:"disk_total"`
	DiskPct         float64   `json:"disk_percent"`
}

type resourceSampler struct {
	history  *ring[resourceSnapshot]
	interval time.Duration
	diskPath string

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Log
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
	udpCountersFn = func(ctx context.Context) (map[string]int64, error) {
		stats, err := gnet.ProtoCountersWithContext(ctx, []string{"udp"})
		if err != nil || len(stats) == 0 {
			return nil, err
		}
		return stats[0].Stats, nil
	}
)

// diskPath is the filesystem holding local parquet output; "/" when unset.
func newResourceSampler(limit int, interval time.Duration, diskPath string, log *logger.Log) *resourceSampler {
	if interval <= 0 {
		interval = time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &resourceSampler{
		history:  newRing[resourceSnapshot](limit),
		interval: interval,
		diskPath: diskPath,
		log:      log,
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s == nil || s.running.Swap(true) {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx)
	}()
}

func (s *resourceSampler) stop() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	if s == nil {
		return nil
	}
	return s.history.snapshot()
}

func (s *resourceSampler) run(ctx context.Context) {
	log := s.log.WithComponent("resource_sampler")
	for ctx.Err() == nil {
		// cpu.Percent blocks for the interval and paces the loop.
		cpuSamples, err := cpuPercentFn(ctx, s.interval)
		if err != nil {
			log.WithError(err).Debug("failed to sample cpu usage")
			if !sleepCtx(ctx, s.interval) {
				return
			}
			continue
		}

		snap := resourceSnapshot{Timestamp: time.Now(), CPUPercent: firstSample(cpuSamples)}

		if vm, err := memoryStatsFn(ctx); err == nil {
			snap.MemoryUsed = vm.Used
			snap.MemoryPct = vm.UsedPercent
		} else {
			log.WithError(err).Debug("failed to sample memory usage")
		}

		if du, err := diskUsageFn(ctx, s.diskPath); err == nil {
			snap.DiskUsed = du.Used
			snap.DiskTotal = du.Total
			snap.DiskPct = du.UsedPercent
		} else {
			log.WithError(err).WithFields(logger.Fields{"path": s.diskPath}).Debug("failed to sample disk usage")
		}

		if udp, err := udpCountersFn(ctx); err == nil {
			snap.UDPInDatagrams = udp["InDatagrams"]
			snap.UDPInErrors = udp["InErrors"]
			snap.UDPRcvbufErrors = udp["RcvbufErrors"]
		}

		s.history.add(snap)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func firstSample(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return samples[0]
}
