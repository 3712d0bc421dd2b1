package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/switchboard-core/internal/bridge"
)

// SystemMetrics is the body of GET /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Bridges       BridgeMetrics  `json:"bridges"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// BridgeMetrics summarises the supervised services.
type BridgeMetrics struct {
	Known         int            `json:"known"`
	Supervised    int            `json:"supervised"`
	ByStatus      map[string]int `json:"by_status"`
	TotalRestarts int            `json:"total_restarts"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	list := s.bridges.List(r.Context())
	bridges := BridgeMetrics{
		Known:      len(list),
		Supervised: s.bridges.Running(),
		ByStatus: map[string]int{
			bridge.StatusConnected.String():    0,
			bridge.StatusAuthNeeded.String():   0,
			bridge.StatusDisconnected.String(): 0,
		},
	}
	for _, info := range list {
		bridges.ByStatus[info.Status.String()]++
		bridges.TotalRestarts += info.Restarts
	}

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Bridges:   bridges,
	})
}
