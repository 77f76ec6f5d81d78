package client

// Stats is the traffic snapshot served at /_yeet/stats.
type Stats struct {
	UptimeSecs        uint64 `json:"uptime_secs"`
	TotalRequests     uint64 `json:"total_requests"`
	TotalBytesSent    uint64 `json:"total_bytes_sent"`
	CurrentSpeedBps   uint64 `json:"current_speed_bps"`
	ActiveConnections uint32 `json:"active_connections"`
	UniqueIPs         uint32 `json:"unique_ips"`
	RequestsPerMinute uint32 `json:"requests_per_minute"`
}

// FileStats is per-file download traffic.
type FileStats struct {
	Name      string `json:"name"`
	Requests  uint64 `json:"requests"`
	BytesSent uint64 `json:"bytes_sent"`
}

// RequestEntry is one line of the request log.
type RequestEntry struct {
	Timestamp int64  `json:"timestamp"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	SizeBytes uint64 `json:"size_bytes"`
	UserAgent string `json:"user_agent"`
	IP        string `json:"ip"`
}

// Health is the daemon liveness report.
type Health struct {
	OK    bool   `json:"ok"`
	Phase string `json:"phase,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
