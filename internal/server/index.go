package server

import (
	"html/template"
	"io"
	"net/url"
	"path"

	"github.com/dustin/go-humanize"
)

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>yeet // {{.Title}}</title>
<style>
body{background:#0a0e27;color:#e0e0e0;font-family:ui-monospace,Menlo,monospace;margin:2rem}
h1{color:#00ff9f;font-size:1.2rem}
table{border-collapse:collapse;width:100%}
th,td{text-align:left;padding:.4rem .8rem;border-bottom:1px solid #1f2a4a}
th{color:#ff00ff}
a{color:#00ff9f;text-decoration:none}
a:hover{color:#00d4ff}
.meta{color:#7a7f9a;margin-top:1rem;font-size:.85rem}
</style>
</head>
<body>
<h1>YEET // {{.Title}}</h1>
<table>
<thead><tr><th>NAME</th><th>SIZE</th><th>TYPE</th></tr></thead>
<tbody>
{{- if .Parent}}
<tr><td><a href="{{.Parent}}">../</a></td><td></td><td>DIR</td></tr>
{{- end}}
{{- range .Rows}}
<tr><td><a href="{{.Href}}">{{.Name}}{{if .IsDir}}/{{end}}</a></td><td>{{.Size}}</td><td>{{if .IsDir}}DIR{{else}}FILE{{end}}</td></tr>
{{- end}}
</tbody>
</table>
<div class="meta">{{.Files}} files // {{.Dirs}} directories</div>
</body>
</html>
`))

type indexRow struct {
	Name  string
	Href  string
	Size  string
	IsDir bool
}

type indexPage struct {
	Title  string
	Parent string
	Rows   []indexRow
	Files  int
	Dirs   int
}

func escapePath(p string) string { return (&url.URL{Path: p}).EscapedPath() }

// renderIndex writes the listing of reqPath (an URL path, already cleaned)
// for a directory named title.
func renderIndex(w io.Writer, title, reqPath string, entries []Entry) error {
	page := indexPage{Title: title}
	if reqPath != "/" {
		page.Parent = escapePath(path.Dir(path.Clean(reqPath)))
		if page.Parent != "/" {
			page.Parent += "/"
		}
	}
	for _, e := range entries {
		href := path.Join(reqPath, e.Name)
		row := indexRow{Name: e.Name, IsDir: e.IsDir}
		if e.IsDir {
			href += "/"
			page.Dirs++
		} else {
			row.Size = humanize.IBytes(uint64(e.Size))
			page.Files++
		}
		row.Href = escapePath(href)
		page.Rows = append(page.Rows, row)
	}
	return indexTmpl.Execute(w, page)
}
