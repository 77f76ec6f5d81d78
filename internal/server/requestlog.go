package server

import "sync"

// DefaultLogSize is how many requests the log keeps.
const DefaultLogSize = 100

// RequestEntry describes one served request.
type RequestEntry struct {
	Timestamp int64  `json:"timestamp"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	SizeBytes uint64 `json:"size_bytes"`
	UserAgent string `json:"user_agent"`
	IP        string `json:"ip"`
}

// RequestLog is a fixed-size ring of the most recent requests.
type RequestLog struct {
	mu   sync.Mutex
	buf  []RequestEntry
	next int
	full bool
}

func NewRequestLog(size int) *RequestLog {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &RequestLog{buf: make([]RequestEntry, size)}
}

func (l *RequestLog) Add(e RequestEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = e
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns the logged requests, newest first.
func (l *RequestLog) Recent() []RequestEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.next
	if l.full {
		n = len(l.buf)
	}
	out := make([]RequestEntry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, l.buf[(l.next-i+len(l.buf))%len(l.buf)])
	}
	return out
}
