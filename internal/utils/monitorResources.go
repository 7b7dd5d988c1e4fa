package utils

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// ResourceSample is one reading of the process's goroutines and heap.
type ResourceSample struct {
	Goroutines  int
	HeapAllocKB float64
	HeapObjects uint64
}

// SampleResources reads the current usage.
func SampleResources() ResourceSample {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return ResourceSample{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocKB: float64(memStats.HeapAlloc) / 1024,
		HeapObjects: memStats.HeapObjects,
	}
}

// MonitorResources logs resource usage every interval until ctx is done.
func MonitorResources(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := SampleResources()
			logger.Info("resource monitor",
				zap.Int("goroutines", s.Goroutines),
				zap.Float64("heap_alloc_kb", s.HeapAllocKB),
				zap.Uint64("heap_objects", s.HeapObjects),
			)
		}
	}
}
