package presenter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/loykin/yeet/internal/history"
	"github.com/loykin/yeet/internal/launcher"
	"github.com/loykin/yeet/internal/process"
	"github.com/loykin/yeet/internal/state"
	"github.com/loykin/yeet/pkg/client"
)

// View is everything one frame shows.
type View struct {
	Record   state.Record
	Alive    bool
	AgeHours float64
	Size     int64
	IsDir    bool
	Missing  bool // the shared path no longer exists
	Stats    *client.Stats
	Info     *process.Info
}

// NewView builds a view of rec, reading the shared path's size.
func NewView(rec state.Record, alive bool, now time.Time) View {
	v := View{Record: rec, Alive: alive, AgeHours: rec.AgeHoursAt(now)}
	fi, err := os.Stat(rec.ResourcePath)
	if err != nil {
		v.Missing = true
		return v
	}
	v.IsDir = fi.IsDir()
	if !v.IsDir {
		v.Size = fi.Size()
	}
	return v
}

// StatusView converts a launcher status report.
func StatusView(st launcher.Status) View {
	v := NewView(st.Record, st.Alive, time.Now())
	v.AgeHours = st.AgeHours
	v.Info = st.Info
	return v
}

func (v View) name() string {
	if v.Record.ResourcePath == "" {
		return "?"
	}
	return filepath.Base(v.Record.ResourcePath)
}

// Render writes a frame for v.
func Render(w io.Writer, v View, th Theme) {
	var b strings.Builder
	b.WriteString(th.Title.Render("YEET // "+v.name()) + "\n")

	row := func(label, value string) {
		b.WriteString("  " + th.Label.Render(label) + " " + value + "\n")
	}

	url := v.Record.URL
	if url == "" {
		row("url", th.Dim.Render("waiting for tunnel..."))
	} else {
		row("url", th.URL.Render(url))
	}

	var suffix string
	switch {
	case v.Missing:
		suffix = th.Bad.Render("(missing)")
	case v.IsDir:
		suffix = th.Dim.Render("(directory)")
	default:
		suffix = th.Dim.Render("(" + humanize.IBytes(uint64(v.Size)) + ")")
	}
	row("path", th.Value.Render(v.Record.ResourcePath)+" "+suffix)
	row("port", th.Value.Render(strconv.Itoa(v.Record.Port)))

	pid := th.Value.Render(strconv.Itoa(v.Record.PID)) + " "
	if v.Alive {
		pid += th.Good.Render("running")
	} else {
		pid += th.Bad.Render("dead")
	}
	row("pid", pid)
	row("age", th.Value.Render(formatAge(v.AgeHours)))

	if v.Info != nil {
		proc := fmt.Sprintf("%s rss, %.1f%% cpu", humanize.IBytes(v.Info.RSSBytes), v.Info.CPUPercent)
		if !v.Info.StartedAt.IsZero() {
			proc += ", started " + humanize.Time(v.Info.StartedAt)
		}
		if n := len(v.Info.Children); n > 0 {
			proc += fmt.Sprintf(", children %d", n)
		}
		row("process", th.Value.Render(proc))
	}
	if s := v.Stats; s != nil {
		row("traffic", th.Value.Render(fmt.Sprintf("%s requests, %s sent, %s/s",
			humanize.Comma(int64(s.TotalRequests)), humanize.IBytes(s.TotalBytesSent), humanize.IBytes(s.CurrentSpeedBps))))
		row("clients", th.Value.Render(fmt.Sprintf("%d active, %d unique, %d req/min",
			s.ActiveConnections, s.UniqueIPs, s.RequestsPerMinute)))
	}
	_, _ = io.WriteString(w, b.String())
}

func formatAge(hours float64) string {
	d := time.Duration(hours * float64(time.Hour)).Round(time.Second)
	if d < time.Minute {
		return d.String()
	}
	return d.Truncate(time.Minute).String()
}

// RenderHistory writes one line per event, newest first as given.
func RenderHistory(w io.Writer, events []history.Event, th Theme) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(w, th.Dim.Render("no history"))
		return
	}
	for _, e := range events {
		typ := th.Value.Render(fmt.Sprintf("%-9s", e.Type))
		switch e.Type {
		case history.EventFailed:
			typ = th.Bad.Render(fmt.Sprintf("%-9s", e.Type))
		case history.EventPublished:
			typ = th.Good.Render(fmt.Sprintf("%-9s", e.Type))
		}
		line := fmt.Sprintf("%s  %s  pid=%d port=%d %s",
			th.Dim.Render(e.OccurredAt.Local().Format("2006-01-02 15:04:05")), typ,
			e.Record.PID, e.Record.Port, e.Record.ResourcePath)
		if e.Record.URL != "" {
			line += " " + th.URL.Render(e.Record.URL)
		}
		if e.Detail != "" {
			line += " " + th.Dim.Render("("+e.Detail+")")
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
