package process

import (
	"fmt"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Info is a point-in-time view of a running process, used for status output only.
type Info struct {
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	RSSBytes   uint64    `json:"rss_bytes"`
	CPUPercent float64   `json:"cpu_percent"`
	Children   []int     `json:"children,omitempty"`
}

// Inspect collects Info for pid. Fields that cannot be read are left zero.
func Inspect(pid int) (Info, error) {
	if !Exists(pid) {
		return Info{}, fmt.Errorf("process %d not running", pid)
	}
	info := Info{PID: pid}
	if s := startUnix(pid); s > 0 {
		info.StartedAt = time.Unix(s, 0)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return info, nil
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		info.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	if kids, err := p.Children(); err == nil {
		for _, k := range kids {
			info.Children = append(info.Children, int(k.Pid))
		}
	}
	return info, nil
}
