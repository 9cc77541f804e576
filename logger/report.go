package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type flowStat struct {
	messages int64
	bytes    int64
}

var (
	warnsByComponent  sync.Map // map[string]*int64
	errorsByComponent sync.Map // map[string]*int64
	flows             sync.Map // map[string]*flowStat
)

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string)  { bump(&warnsByComponent, component) }
func recordError(component string) { bump(&errorsByComponent, component) }

// RecordFlow counts one message of size bytes passing through a named stage
// (e.g. "udp_read", "parquet_upload").
func RecordFlow(name string, size int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.messages, 1)
	atomic.AddInt64(&fs.bytes, int64(size))
}

// FlowCounts returns messages and bytes recorded for a stage.
func FlowCounts(name string) (messages, bytes int64) {
	v, ok := flows.Load(name)
	if !ok {
		return 0, 0
	}
	fs := v.(*flowStat)
	return atomic.LoadInt64(&fs.messages), atomic.LoadInt64(&fs.bytes)
}

// StartReport logs a runtime report every interval until ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

func counterMap(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func logReport(log *Log) {
	flowData := map[string]map[string]int64{}
	names := []string{}
	flows.Range(func(k, v any) bool {
		name := k.(string)
		fs := v.(*flowStat)
		flowData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&fs.messages),
			"bytes":    atomic.LoadInt64(&fs.bytes),
		}
		names = append(names, name)
		return true
	})
	sort.Strings(names)

	fields := Fields{
		"warns":      counterMap(&warnsByComponent),
		"errors":     counterMap(&errorsByComponent),
		"flows":      flowData,
		"flow_names": names,
		"goroutines": runtime.NumGoroutine(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		fields["cpu_percent"] = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["memory_mb"] = int64(vm.Used) / 1024 / 1024
	}
	// UDP receive errors at the OS level show up here before they show up as gaps.
	if counters, err := gnet.ProtoCounters([]string{"udp"}); err == nil && len(counters) > 0 {
		fields["udp_in_errors"] = counters[0].Stats["InErrors"]
		fields["udp_rcvbuf_errors"] = counters[0].Stats["RcvbufErrors"]
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
