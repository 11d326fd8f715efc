package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream   int64
	errorsSnapshot int64
	warnsStream    int64
	warnsSnapshot  int64
	streamReads    int64
	snapshotReads  int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&warnsStream, 1)
	} else if strings.Contains(component, "snapshot") {
		atomic.AddInt64(&warnsSnapshot, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&errorsStream, 1)
	} else if strings.Contains(component, "snapshot") {
		atomic.AddInt64(&errorsSnapshot, 1)
	}
}

func IncrementStreamRead(size int) {
	atomic.AddInt64(&streamReads, 1)
	recordChannel("depth_ws", size)
}

func IncrementSnapshotRead(size int) {
	atomic.AddInt64(&snapshotReads, 1)
	recordChannel("depth_rest", size)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

// ChannelStats returns the message and byte counts recorded for a channel.
func ChannelStats(name string) (messages, bytes int64) {
	v, ok := channels.Load(name)
	if !ok {
		return 0, 0
	}
	cs := v.(*channelStat)
	return atomic.LoadInt64(&cs.messages), atomic.LoadInt64(&cs.bytes)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of process and channel statistics
// until ctx is cancelled.
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

func reportFields() Fields {
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		channelData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	return Fields{
		"errors_stream":   atomic.LoadInt64(&errorsStream),
		"errors_snapshot": atomic.LoadInt64(&errorsSnapshot),
		"warns_stream":    atomic.LoadInt64(&warnsStream),
		"warns_snapshot":  atomic.LoadInt64(&warnsSnapshot),
		"stream_reads":    atomic.LoadInt64(&streamReads),
		"snapshot_reads":  atomic.LoadInt64(&snapshotReads),
		"goroutines":      runtime.NumGoroutine(),
		"channels":        channelData,
	}
}

func logReport(log *Log) {
	fields := reportFields()

	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		fields["cpu_percent"] = cpuPercent[0]
	}
	if memStats, err := mem.VirtualMemory(); err == nil && memStats != nil {
		fields["memory_mb"] = int64(memStats.Used) / 1024 / 1024
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
