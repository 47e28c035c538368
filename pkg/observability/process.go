package observability

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ProcessSnapshot is the resource usage of the current process
type ProcessSnapshot struct {
	RSSBytes     uint64
	CPUPercent   float64
	NumThreads   int32
	NumGoroutine int
	HeapAlloc    uint64
}

// Snapshot reads the current process resource usage. Fields gopsutil cannot read on the
// platform stay zero.
func Snapshot() ProcessSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := ProcessSnapshot{
		NumGoroutine: runtime.NumGoroutine(),
		HeapAlloc:    ms.HeapAlloc,
	}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return snap
	}
	if mem, err := p.MemoryInfo(); err == nil {
		snap.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	if threads, err := p.NumThreads(); err == nil {
		snap.NumThreads = threads
	}
	return snap
}

// Fields returns the snapshot as zap fields
func (s ProcessSnapshot) Fields() []zap.Field {
	return []zap.Field{
		zap.Uint64("rss_bytes", s.RSSBytes),
		zap.Float64("cpu_percent", s.CPUPercent),
		zap.Int32("threads", s.NumThreads),
		zap.Int("goroutines", s.NumGoroutine),
		zap.Uint64("heap_alloc", s.HeapAlloc),
	}
}
