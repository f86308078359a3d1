package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/bridges/lifx"
)

// SystemMetrics is the response of /api/v1/system.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	Bridge        lifx.BridgeMetrics `json:"bridge"`
	Registry      *RegistryMetrics   `json:"registry,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// RegistryMetrics contains device registry statistics.
type RegistryMetrics struct {
	Stored int `json:"stored"`
}

// handleSystem returns process and bridge statistics in JSON. Prometheus
// scrapes /metrics instead.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Bridge: s.bridge.GetMetrics(),
	}

	if s.registry != nil {
		metrics.Registry = &RegistryMetrics{Stored: s.registry.GetDeviceCount()}
	}

	writeJSON(w, http.StatusOK, metrics)
}
