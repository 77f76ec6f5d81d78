package tunnel

import "testing"

func TestRegexpExtractor_Default(t *testing.T) {
	e, err := NewExtractor("")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		line string
		want string
		ok   bool
	}{
		{"2024-01-01T00:00:00Z INF |  https://abc-def.trycloudflare.com                 |", "https://abc-def.trycloudflare.com", true},
		{"INF Requesting new quick Tunnel on trycloudflare.com...", "", false},
		{"url=https://fake123.trycloudflare.com/", "https://fake123.trycloudflare.com", true},
		{"see https://example.com for details", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := e.Extract(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("Extract(%q) = %q,%v; want %q,%v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewExtractor_CustomAndInvalid(t *testing.T) {
	e, err := NewExtractor(`https://[a-z0-9]+\.example\.net`)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := e.Extract("ready at https://q1.example.net now"); !ok || got != "https://q1.example.net" {
		t.Fatalf("custom pattern: %q %v", got, ok)
	}
	if _, err := NewExtractor("(["); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestExtractorFunc(t *testing.T) {
	var e Extractor = ExtractorFunc(func(line string) (string, bool) { return line, line != "" })
	if got, ok := e.Extract("x"); !ok || got != "x" {
		t.Fatalf("unexpected %q %v", got, ok)
	}
}

func TestPublicURL(t *testing.T) {
	base := "https://abc.trycloudflare.com"
	tests := []struct {
		name  string
		path  string
		isDir bool
		want  string
	}{
		{"directory unchanged", "/srv/share", true, "https://abc.trycloudflare.com"},
		{"file basename appended", "/tmp/cat.jpg", false, "https://abc.trycloudflare.com/cat.jpg"},
		{"file name escaped", "/tmp/my cat#1.jpg", false, "https://abc.trycloudflare.com/my%20cat%231.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PublicURL(base, tt.path, tt.isDir); got != tt.want {
				t.Fatalf("PublicURL = %q, want %q", got, tt.want)
			}
		})
	}
	if got := PublicURL(base+"/", "/tmp/a.txt", false); got != base+"/a.txt" {
		t.Fatalf("trailing slash not collapsed: %q", got)
	}
}
