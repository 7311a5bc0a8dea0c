// Package project discovers configured projects under a directory
// tree, for listing which checkouts carry their own overrides.
package project

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"agentconf/internal/cfgerr"
	"agentconf/internal/paths"
)

// Info describes one discovered project.
type Info struct {
	Name       string    `json:"name"`
	Root       string    `json:"root"`
	ConfigPath string    `json:"configPath"`
	HasConfig  bool      `json:"hasConfig"`
	Modified   time.Time `json:"modified,omitzero"`
}

// DefaultMaxDepth bounds how deep Scan descends below the start
// directory.
const DefaultMaxDepth = 6

// Directories never worth descending into.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
	".cache":       true,
}

// Scan walks the tree under root and returns every directory that
// carries a project configuration directory, sorted by path. The
// walk skips hidden and dependency directories and stops descending
// at maxDepth (<=0 means DefaultMaxDepth).
func Scan(root string, maxDepth int) ([]Info, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		return nil, cfgerr.Filesystem("scan", root, err)
	}

	var projects []Info
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != root {
			if skipDirs[name] || (strings.HasPrefix(name, ".") && name != ".") {
				return fs.SkipDir
			}
			if depth(root, path) > maxDepth {
				return fs.SkipDir
			}
		}
		if info, ok := inspect(path); ok {
			projects = append(projects, info)
		}
		return nil
	})
	if err != nil {
		return nil, cfgerr.Filesystem("scan", root, err)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Root < projects[j].Root })
	return projects, nil
}

// Inspect reports whether dir is a configured project.
func Inspect(dir string) (Info, bool) {
	return inspect(filepath.Clean(dir))
}

func inspect(dir string) (Info, bool) {
	configPath := paths.ProjectConfigPath(dir)
	st, err := os.Stat(filepath.Dir(configPath))
	if err != nil || !st.IsDir() {
		return Info{}, false
	}
	info := Info{
		Name:       filepath.Base(dir),
		Root:       dir,
		ConfigPath: configPath,
	}
	if fi, err := os.Stat(configPath); err == nil && !fi.IsDir() {
		info.HasConfig = true
		info.Modified = fi.ModTime()
	}
	return info, true
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}
