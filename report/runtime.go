package report

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RuntimeCollector collects memory, goroutine and GC metrics of the process
type RuntimeCollector struct {
	BaseCollector
}

// NewRuntimeCollector creates a new runtime collector
func NewRuntimeCollector(logger *zap.Logger) *RuntimeCollector {
	return &RuntimeCollector{
		BaseCollector: NewBaseCollector("runtime", logger),
	}
}

// Collect implements Collector interface
func (r *RuntimeCollector) Collect() []Metric {
	now := time.Now()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	gauge := func(name string, v float64) Metric {
		return Metric{Name: name, Value: v, Labels: map[string]string{}, MetricType: Gauge, Timestamp: now}
	}
	counter := func(name string, v float64) Metric {
		return Metric{Name: name, Value: v, Labels: map[string]string{}, MetricType: Counter, Timestamp: now}
	}

	metrics := []Metric{
		gauge("memory_alloc_bytes", float64(ms.Alloc)),
		gauge("memory_sys_bytes", float64(ms.Sys)),
		gauge("memory_heap_inuse_bytes", float64(ms.HeapInuse)),
		gauge("memory_stack_inuse_bytes", float64(ms.StackInuse)),
		gauge("goroutines_num", float64(runtime.NumGoroutine())),
		counter("gc_runs_total", float64(ms.NumGC)),
		counter("gc_pause_total_ns", float64(ms.PauseTotalNs)),
	}

	if rss := processRSS(); rss > 0 {
		metrics = append(metrics, gauge("memory_rss_bytes", float64(rss)))
	}
	if fds := openFileDescriptors(); fds > 0 {
		metrics = append(metrics, gauge("file_descriptors_num", float64(fds)))
	}
	return metrics
}

// processRSS returns the resident set size in bytes, or 0 off Linux
func processRSS() uint64 {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

func openFileDescriptors() uint64 {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return 0
	}
	return uint64(len(entries))
}
