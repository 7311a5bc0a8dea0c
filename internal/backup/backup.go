// Package backup snapshots documents before they are overwritten and
// enforces a per-source retention policy.
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"agentconf/internal/cfgerr"
	"agentconf/internal/fsutil"
)

// DefaultRetention is the number of snapshots kept per source path
// when no retention is configured.
const DefaultRetention = 10

// Backup names embed a UTC timestamp at microsecond precision so that
// lexical and chronological order agree.
const timestampLayout = "20060102_150405.000000"

// Record describes one snapshot.
type Record struct {
	Path       string    `json:"path"`
	SourcePath string    `json:"sourcePath"`
	CreatedAt  time.Time `json:"createdAt"`
	Size       int64     `json:"size"`
}

// Manager owns one backup directory. It is exclusively owned by a
// single config manager instance; no cross-process coordination.
type Manager struct {
	dir       string
	retention int
	now       func() time.Time
}

// New returns a Manager storing snapshots under dir. retention <= 0
// selects DefaultRetention.
func New(dir string, retention int) *Manager {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{dir: dir, retention: retention, now: time.Now}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.dir }

// Retention returns the configured retention count.
func (m *Manager) Retention() int { return m.retention }

// Create snapshots the current bytes of sourcePath into the backup
// area. A missing source is a no-op returning (nil, nil): there is
// nothing to protect yet.
func (m *Manager) Create(sourcePath string) (*Record, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, cfgerr.Filesystem("read source", sourcePath, err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, cfgerr.Filesystem("create backup directory", m.dir, err)
	}

	stem, ext := splitName(sourcePath)
	created := m.now().UTC()
	ts := created.Format(timestampLayout)

	// On a timestamp collision a counter suffix disambiguates.
	name := fmt.Sprintf("%s_%s%s", stem, ts, ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(m.dir, name)); errors.Is(err, os.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("%s_%s_%d%s", stem, ts, n, ext)
	}

	backupPath := filepath.Join(m.dir, name)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return nil, cfgerr.Filesystem("write backup", backupPath, err)
	}
	return &Record{
		Path:       backupPath,
		SourcePath: sourcePath,
		CreatedAt:  created,
		Size:       int64(len(data)),
	}, nil
}

// List returns the snapshots taken of sourcePath, newest first. A
// missing backup directory yields an empty list.
func (m *Manager) List(sourcePath string) ([]Record, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, cfgerr.Filesystem("read backup directory", m.dir, err)
	}

	stem, ext := splitName(sourcePath)
	type sortable struct {
		rec     Record
		counter int
	}
	var found []sortable
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		created, counter, ok := parseBackupName(entry.Name(), stem, ext)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, sortable{
			rec: Record{
				Path:       filepath.Join(m.dir, entry.Name()),
				SourcePath: sourcePath,
				CreatedAt:  created,
				Size:       info.Size(),
			},
			counter: counter,
		})
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].rec.CreatedAt.Equal(found[j].rec.CreatedAt) {
			return found[i].rec.CreatedAt.After(found[j].rec.CreatedAt)
		}
		return found[i].counter > found[j].counter
	})

	out := make([]Record, len(found))
	for i, s := range found {
		out[i] = s.rec
	}
	return out, nil
}

// Restore copies a snapshot's bytes back onto targetPath through the
// atomic writer, so a restore is itself crash-safe. A missing snapshot
// is a hard NotFoundError.
func (m *Manager) Restore(rec Record, targetPath string) error {
	data, err := os.ReadFile(rec.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfgerr.NotFoundError{Path: rec.Path}
		}
		return cfgerr.Filesystem("read backup", rec.Path, err)
	}
	return fsutil.AtomicWrite(targetPath, data, 0o644)
}

// Cleanup deletes snapshots of sourcePath beyond the retain most
// recent, oldest first. retain <= 0 selects the configured retention.
// Idempotent; returns the number removed.
func (m *Manager) Cleanup(sourcePath string, retain int) (int, error) {
	if retain <= 0 {
		retain = m.retention
	}
	records, err := m.List(sourcePath)
	if err != nil {
		return 0, err
	}
	if len(records) <= retain {
		return 0, nil
	}
	removed := 0
	for _, rec := range records[retain:] {
		if err := os.Remove(rec.Path); err != nil {
			return removed, cfgerr.Filesystem("remove backup", rec.Path, err)
		}
		removed++
	}
	return removed, nil
}

func splitName(path string) (stem, ext string) {
	base := filepath.Base(path)
	ext = filepath.Ext(base)
	return strings.TrimSuffix(base, ext), ext
}

// parseBackupName matches <stem>_<timestamp>[_<n>]<ext> and extracts
// the embedded creation time and collision counter.
func parseBackupName(name, stem, ext string) (time.Time, int, bool) {
	if !strings.HasPrefix(name, stem+"_") || !strings.HasSuffix(name, ext) {
		return time.Time{}, 0, false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(name, stem+"_"), ext)
	counter := 0
	if len(middle) > len(timestampLayout) {
		rest := middle[len(timestampLayout):]
		if !strings.HasPrefix(rest, "_") {
			return time.Time{}, 0, false
		}
		n, err := strconv.Atoi(rest[1:])
		if err != nil {
			return time.Time{}, 0, false
		}
		counter = n
		middle = middle[:len(timestampLayout)]
	}
	created, err := time.ParseInLocation(timestampLayout, middle, time.UTC)
	if err != nil {
		return time.Time{}, 0, false
	}
	return created, counter, true
}
