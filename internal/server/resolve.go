package server

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound covers every request that cannot be mapped onto the shared
// resource, including paths that would leave it.
var ErrNotFound = errors.New("not found")

// Entry is one child of a served directory.
type Entry struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

// resolve maps an URL path onto a real path under root. root must already
// be absolute and free of symlinks. Symlinks below root are followed, but
// only while their target stays inside root.
func resolve(root, reqPath string) (string, os.FileInfo, error) {
	if strings.ContainsRune(reqPath, 0) {
		return "", nil, ErrNotFound
	}
	clean := path.Clean("/" + reqPath)
	joined := filepath.Join(root, filepath.FromSlash(clean))
	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", nil, ErrNotFound
	}
	if !within(root, real) {
		return "", nil, ErrNotFound
	}
	fi, err := os.Stat(real)
	if err != nil {
		return "", nil, ErrNotFound
	}
	return real, fi, nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// listDir returns the immediate children of dir sorted by name. Entries
// whose symlink target cannot be read, or leaves root, are skipped.
func listDir(root, dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		full := filepath.Join(dir, de.Name())
		fi, err := de.Info()
		if err != nil {
			continue
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			real, err := filepath.EvalSymlinks(full)
			if err != nil || !within(root, real) {
				continue
			}
			if fi, err = os.Stat(real); err != nil {
				continue
			}
		}
		e := Entry{Name: de.Name(), IsDir: fi.IsDir()}
		if !e.IsDir {
			e.Size = fi.Size()
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
