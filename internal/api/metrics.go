package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/Kenox00/door-lock-sub001/internal/dispatch"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Broker        BrokerMetrics   `json:"broker"`
	Dispatch      dispatch.Stats  `json:"dispatch"`
	Devices       DeviceMetrics   `json:"devices"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics counts open sockets on both WebSocket endpoints.
type WSMetrics struct {
	DashboardClients int `json:"dashboard_clients"`
	DeviceSessions   int `json:"device_sessions"`
}

// BrokerMetrics contains broker client statistics.
type BrokerMetrics struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

// DeviceMetrics contains device directory statistics.
type DeviceMetrics struct {
	Provisioned int `json:"provisioned"`
	Online      int `json:"online"`
	Unowned     int `json:"unowned"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := s.dispatcher.Stats()
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
		WebSocket: WSMetrics{
			DashboardClients: s.hub.ClientCount(),
		},
		Dispatch: stats,
	}

	if s.deviceChannel != nil {
		metrics.WebSocket.DeviceSessions = s.deviceChannel.ConnectionCount()
	}

	if s.broker != nil {
		metrics.Broker = BrokerMetrics{
			Configured: true,
			Connected:  s.broker.IsConnected(),
		}
	}

	devices := s.devices.ListDevices()
	metrics.Devices = DeviceMetrics{
		Provisioned: len(devices),
		Online:      stats.Connected,
	}
	for _, d := range devices {
		if d.OwnerID == "" {
			metrics.Devices.Unowned++
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
