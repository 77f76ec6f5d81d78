package server

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/yeet/internal/metrics"
)

const (
	statsWindow = 60 // seconds of per-second buckets
	speedWindow = 5  // seconds averaged for CurrentSpeedBps
)

// Snapshot is a point-in-time copy of the traffic counters.
type Snapshot struct {
	UptimeSecs        uint64 `json:"uptime_secs"`
	TotalRequests     uint64 `json:"total_requests"`
	TotalBytesSent    uint64 `json:"total_bytes_sent"`
	CurrentSpeedBps   uint64 `json:"current_speed_bps"`
	ActiveConnections uint32 `json:"active_connections"`
	UniqueIPs         uint32 `json:"unique_ips"`
	RequestsPerMinute uint32 `json:"requests_per_minute"`
}

// FileStats counts traffic for one served path.
type FileStats struct {
	Name      string `json:"name"`
	Requests  uint64 `json:"requests"`
	BytesSent uint64 `json:"bytes_sent"`
}

// bucket holds one second of traffic. The lock makes recycling a stale
// second and charging the new one a single step.
type bucket struct {
	mu    sync.Mutex
	sec   int64
	reqs  uint64
	bytes uint64
}

// add charges the bucket for second sec, recycling it if it still holds an
// older second.
func (b *bucket) add(sec int64, reqs, n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sec != sec {
		b.sec, b.reqs, b.bytes = sec, 0, 0
	}
	b.reqs += reqs
	b.bytes += n
}

func (b *bucket) load() (sec int64, reqs, bytes uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sec, b.reqs, b.bytes
}

type fileCounter struct {
	reqs  atomic.Uint64
	bytes atomic.Uint64
}

// Stats aggregates traffic served by one Server. Totals are atomic and the
// per-second window is guarded per bucket.
type Stats struct {
	start time.Time
	now   func() time.Time

	requests  atomic.Uint64
	bytesSent atomic.Uint64
	active    atomic.Int64
	uniqueIPs atomic.Int64
	ips       sync.Map // ip -> struct{}
	files     sync.Map // path -> *fileCounter

	buckets [statsWindow]bucket

	descRequests *prometheus.Desc
	descBytes    *prometheus.Desc
	descActive   *prometheus.Desc
	descIPs      *prometheus.Desc
	descUptime   *prometheus.Desc
	descRPM      *prometheus.Desc
	descSpeed    *prometheus.Desc
}

func NewStats(now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	fq := func(name string) string { return prometheus.BuildFQName(metrics.Namespace, "server", name) }
	return &Stats{
		start:        now(),
		now:          now,
		descRequests: prometheus.NewDesc(fq("requests_total"), "Requests served for the shared resource.", nil, nil),
		descBytes:    prometheus.NewDesc(fq("bytes_sent_total"), "Response bytes written for the shared resource.", nil, nil),
		descActive:   prometheus.NewDesc(fq("active_connections"), "Requests currently in flight.", nil, nil),
		descIPs:      prometheus.NewDesc(fq("unique_ips"), "Distinct client addresses seen.", nil, nil),
		descUptime:   prometheus.NewDesc(fq("uptime_seconds"), "Seconds since the server started.", nil, nil),
		descRPM:      prometheus.NewDesc(fq("requests_per_minute"), "Requests in the last 60 seconds.", nil, nil),
		descSpeed:    prometheus.NewDesc(fq("speed_bytes_per_second"), "Average send rate over the last few seconds.", nil, nil),
	}
}

func (s *Stats) bucketFor(sec int64) *bucket {
	return &s.buckets[uint64(sec)%statsWindow]
}

// Begin records the start of a request from ip.
func (s *Stats) Begin(ip string) {
	s.active.Add(1)
	s.requests.Add(1)
	sec := s.now().Unix()
	s.bucketFor(sec).add(sec, 1, 0)
	if ip != "" {
		if _, loaded := s.ips.LoadOrStore(ip, struct{}{}); !loaded {
			s.uniqueIPs.Add(1)
		}
	}
}

// End records the end of a request for path.
func (s *Stats) End(path string, bytes uint64) {
	s.active.Add(-1)
	if path == "" {
		return
	}
	v, _ := s.files.LoadOrStore(path, &fileCounter{})
	fc := v.(*fileCounter)
	fc.reqs.Add(1)
	fc.bytes.Add(bytes)
}

// AddBytes records n response bytes written.
func (s *Stats) AddBytes(n int) {
	if n <= 0 {
		return
	}
	s.bytesSent.Add(uint64(n))
	sec := s.now().Unix()
	s.bucketFor(sec).add(sec, 0, uint64(n))
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	now := s.now()
	sec := now.Unix()
	var rpm, recentBytes uint64
	for i := range s.buckets {
		bs, reqs, n := s.buckets[i].load()
		if bs <= sec-statsWindow || bs > sec {
			continue
		}
		rpm += reqs
		if bs > sec-speedWindow {
			recentBytes += n
		}
	}
	up := now.Sub(s.start)
	if up < 0 {
		up = 0
	}
	active := s.active.Load()
	if active < 0 {
		active = 0
	}
	return Snapshot{
		UptimeSecs:        uint64(up / time.Second),
		TotalRequests:     s.requests.Load(),
		TotalBytesSent:    s.bytesSent.Load(),
		CurrentSpeedBps:   recentBytes / speedWindow,
		ActiveConnections: uint32(active),
		UniqueIPs:         uint32(s.uniqueIPs.Load()),
		RequestsPerMinute: uint32(rpm),
	}
}

// Files returns per-path counters sorted by request count, busiest first.
func (s *Stats) Files() []FileStats {
	var out []FileStats
	s.files.Range(func(k, v any) bool {
		fc := v.(*fileCounter)
		out = append(out, FileStats{Name: k.(string), Requests: fc.reqs.Load(), BytesSent: fc.bytes.Load()})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (s *Stats) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.descRequests
	ch <- s.descBytes
	ch <- s.descActive
	ch <- s.descIPs
	ch <- s.descUptime
	ch <- s.descRPM
	ch <- s.descSpeed
}

func (s *Stats) Collect(ch chan<- prometheus.Metric) {
	snap := s.Snapshot()
	ch <- prometheus.MustNewConstMetric(s.descRequests, prometheus.CounterValue, float64(snap.TotalRequests))
	ch <- prometheus.MustNewConstMetric(s.descBytes, prometheus.CounterValue, float64(snap.TotalBytesSent))
	ch <- prometheus.MustNewConstMetric(s.descActive, prometheus.GaugeValue, float64(snap.ActiveConnections))
	ch <- prometheus.MustNewConstMetric(s.descIPs, prometheus.GaugeValue, float64(snap.UniqueIPs))
	ch <- prometheus.MustNewConstMetric(s.descUptime, prometheus.GaugeValue, float64(snap.UptimeSecs))
	ch <- prometheus.MustNewConstMetric(s.descRPM, prometheus.GaugeValue, float64(snap.RequestsPerMinute))
	ch <- prometheus.MustNewConstMetric(s.descSpeed, prometheus.GaugeValue, float64(snap.CurrentSpeedBps))
}
