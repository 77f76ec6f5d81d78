package metrics

import (
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/yeet/internal/process"
)

// InspectFunc reports resource usage for a pid.
type InspectFunc func(pid int) (process.Info, error)

// ProcessCollector exports CPU and memory of the daemon and its direct
// children (the tunnel client) on every scrape.
type ProcessCollector struct {
	pid     int
	inspect InspectFunc
	log     *slog.Logger

	cpu      *prometheus.Desc
	rss      *prometheus.Desc
	children *prometheus.Desc
}

// NewProcessCollector watches pid. A nil inspect uses process.Inspect.
func NewProcessCollector(pid int, inspect InspectFunc, log *slog.Logger) *ProcessCollector {
	if inspect == nil {
		inspect = process.Inspect
	}
	if log == nil {
		log = slog.Default()
	}
	return &ProcessCollector{
		pid:     pid,
		inspect: inspect,
		log:     log,
		cpu: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "process", "cpu_percent"),
			"CPU usage of a job process.", []string{"role", "pid"}, nil),
		rss: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "process", "rss_bytes"),
			"Resident memory of a job process.", []string{"role", "pid"}, nil),
		children: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "process", "children"),
			"Number of direct children of the daemon.", nil, nil),
	}
}

func (c *ProcessCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.children
}

func (c *ProcessCollector) Collect(ch chan<- prometheus.Metric) {
	info, err := c.inspect(c.pid)
	if err != nil {
		c.log.Debug("inspect daemon", "pid", c.pid, "error", err)
		return
	}
	c.emit(ch, "daemon", info)
	ch <- prometheus.MustNewConstMetric(c.children, prometheus.GaugeValue, float64(len(info.Children)))
	for _, child := range info.Children {
		ci, err := c.inspect(child)
		if err != nil {
			continue
		}
		c.emit(ch, "child", ci)
	}
}

func (c *ProcessCollector) emit(ch chan<- prometheus.Metric, role string, info process.Info) {
	pid := strconv.Itoa(info.PID)
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, info.CPUPercent, role, pid)
	ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(info.RSSBytes), role, pid)
}
