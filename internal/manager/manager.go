// Package manager ties the layers together: it reads the global and
// project documents, overlays the in-memory session document, and
// routes every mutation through validation, backup and atomic write.
package manager

import (
	"fmt"
	"path/filepath"

	"agentconf/internal/audit"
	"agentconf/internal/backup"
	"agentconf/internal/cfgerr"
	"agentconf/internal/document"
	"agentconf/internal/keypath"
	"agentconf/internal/merge"
	"agentconf/internal/paths"
	"agentconf/internal/store"
	"agentconf/internal/validate"
)

// Options configures a Manager. Zero values fall back to the
// user-level defaults from the paths package.
type Options struct {
	// GlobalPath overrides the user-level config file location.
	GlobalPath string
	// ProjectPath points at a project config file directly. When
	// empty, the project layer is discovered upward from StartDir.
	ProjectPath string
	// StartDir is where project discovery begins. Ignored when
	// ProjectPath is set. Empty disables the project layer.
	StartDir string
	// BackupDir overrides where snapshots are kept.
	BackupDir string
	// Retention caps snapshots per source file. Zero means default.
	Retention int
	// AuditPath overrides the mutation trail location. "-" disables
	// auditing entirely.
	AuditPath string
}

type Manager struct {
	globalPath  string
	projectPath string
	// Each layer snapshots into its own directory; the two config
	// files share a basename and would collide in one.
	globalBackups  *backup.Manager
	projectBackups *backup.Manager
	log            *audit.Logger

	session document.Document
}

func New(opts Options) *Manager {
	globalPath := opts.GlobalPath
	if globalPath == "" {
		globalPath = paths.GlobalConfigPath()
	}
	projectPath := opts.ProjectPath
	if projectPath == "" && opts.StartDir != "" {
		if found, ok := paths.FindProjectConfig(opts.StartDir); ok {
			projectPath = found
		}
	}
	// Relocating the global config relocates its sibling state too,
	// so an overridden setup never touches the default directories.
	backupDir := opts.BackupDir
	if backupDir == "" {
		if opts.GlobalPath != "" {
			backupDir = filepath.Join(filepath.Dir(globalPath), "backups")
		} else {
			backupDir = paths.BackupDir()
		}
	}
	auditPath := opts.AuditPath
	switch auditPath {
	case "":
		if opts.GlobalPath != "" {
			auditPath = filepath.Join(filepath.Dir(globalPath), "audit.jsonl")
		} else {
			auditPath = paths.AuditPath()
		}
	case "-":
		auditPath = ""
	}

	m := &Manager{
		globalPath:    globalPath,
		projectPath:   projectPath,
		globalBackups: backup.New(backupDir, opts.Retention),
		log:           audit.New(auditPath),
	}
	if projectPath != "" {
		projectBackupDir := filepath.Join(filepath.Dir(projectPath), "backups")
		m.projectBackups = backup.New(projectBackupDir, opts.Retention)
	}
	return m
}

// GlobalPath reports where the user-level document lives.
func (m *Manager) GlobalPath() string { return m.globalPath }

// ProjectPath reports the discovered project document, or "" when
// no project layer is active.
func (m *Manager) ProjectPath() string { return m.projectPath }

// HasProject reports whether a project layer is active.
func (m *Manager) HasProject() bool { return m.projectPath != "" }

// Backups exposes the global layer's snapshot manager.
func (m *Manager) Backups() *backup.Manager { return m.globalBackups }

func (m *Manager) backupsFor(scope document.Scope) *backup.Manager {
	if scope == document.ScopeProject {
		return m.projectBackups
	}
	return m.globalBackups
}

func (m *Manager) storeFor(scope document.Scope) *store.Store {
	return &store.Store{Backups: m.backupsFor(scope)}
}

// Layer loads one scope's document. A missing file is an empty
// layer, not an error. The returned path is "" for the session
// scope, which never touches disk.
func (m *Manager) Layer(scope document.Scope) (document.Document, string, error) {
	switch scope {
	case document.ScopeGlobal:
		doc, err := readLayer(m.globalPath)
		return doc, m.globalPath, err
	case document.ScopeProject:
		if m.projectPath == "" {
			return document.Empty(), "", nil
		}
		doc, err := readLayer(m.projectPath)
		return doc, m.projectPath, err
	case document.ScopeSession:
		return m.session.Clone(), "", nil
	default:
		return document.Document{}, "", fmt.Errorf("MGR_SCOPE: unknown scope %q", scope)
	}
}

func readLayer(path string) (document.Document, error) {
	doc, err := document.Read(path)
	if err != nil {
		if cfgerr.IsNotFound(err) {
			return document.Empty(), nil
		}
		return document.Document{}, err
	}
	return doc, nil
}

// Effective merges global, project and session layers, lowest
// precedence first. The cache is filled on first use and reused
// until a mutation invalidates it.
func (m *Manager) Effective(c *Cache) (document.Document, error) {
	doc, _, err := m.effective(c)
	return doc, err
}

// EffectiveWithTrace is Effective plus per-leaf source attribution.
func (m *Manager) EffectiveWithTrace(c *Cache) (document.Document, merge.SourceMap, error) {
	return m.effective(c)
}

func (m *Manager) effective(c *Cache) (document.Document, merge.SourceMap, error) {
	if c != nil && c.valid {
		return c.doc.Clone(), c.trace, nil
	}

	global, _, err := m.Layer(document.ScopeGlobal)
	if err != nil {
		return document.Document{}, nil, err
	}
	project, _, err := m.Layer(document.ScopeProject)
	if err != nil {
		return document.Document{}, nil, err
	}

	doc, trace, err := merge.MergeWithTrace(global, project, document.ScopeGlobal, document.ScopeProject)
	if err != nil {
		return document.Document{}, nil, err
	}
	doc, trace, err = overlay(doc, trace, m.session, document.ScopeSession)
	if err != nil {
		return document.Document{}, nil, err
	}

	if c != nil {
		c.doc = doc.Clone()
		c.trace = trace
		c.valid = true
	}
	return doc, trace, nil
}

// overlay applies one more layer on top of an already-attributed
// document, preserving attribution for untouched leaves.
func overlay(base document.Document, baseTrace merge.SourceMap, over document.Document, scope document.Scope) (document.Document, merge.SourceMap, error) {
	if over.IsEmpty() {
		return base, baseTrace, nil
	}
	merged, trace, err := merge.MergeWithTrace(base, over, document.ScopeGlobal, scope)
	if err != nil {
		return document.Document{}, nil, err
	}
	// MergeWithTrace labels inherited leaves with the base scope it
	// was given; restore the finer-grained attribution we already
	// have for those.
	for key, sc := range trace {
		if sc == scope {
			continue
		}
		if prev, ok := baseTrace[key]; ok {
			trace[key] = prev
		}
	}
	return merged, trace, nil
}

// Set applies a dot-path assignment to one scope. Session writes
// stay in memory; global and project writes go through the full
// validate, backup, atomic-write sequence.
func (m *Manager) Set(c *Cache, scope document.Scope, keyPath, value string) error {
	if scope == document.ScopeSession {
		next, err := keypath.Apply(m.session, keyPath, value)
		if err != nil {
			return err
		}
		if err := validate.All(next); err != nil {
			return err
		}
		m.session = next
		c.Invalidate()
		return nil
	}

	path, err := m.writePath(scope)
	if err != nil {
		return err
	}
	current, err := readLayer(path)
	if err != nil {
		return err
	}
	next, err := keypath.Apply(current, keyPath, value)
	if err != nil {
		return err
	}
	err = m.storeFor(scope).WriteWithBackup(path, next)
	m.logMutation("set", scope, path, err, map[string]string{"key": keyPath})
	if err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Unset deletes a dot-path from one scope: a server or skill entry,
// a whole sequence section, an env key, or an extension field. The
// write path is the same as Set's.
func (m *Manager) Unset(c *Cache, scope document.Scope, keyPath string) error {
	if scope == document.ScopeSession {
		next, err := keypath.Remove(m.session, keyPath)
		if err != nil {
			return err
		}
		m.session = next
		c.Invalidate()
		return nil
	}

	path, err := m.writePath(scope)
	if err != nil {
		return err
	}
	current, err := readLayer(path)
	if err != nil {
		return err
	}
	next, err := keypath.Remove(current, keyPath)
	if err != nil {
		return err
	}
	err = m.storeFor(scope).WriteWithBackup(path, next)
	m.logMutation("unset", scope, path, err, map[string]string{"key": keyPath})
	if err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// WriteScope replaces an entire scope document, used by import and
// restore flows. Session scope is replaced in memory.
func (m *Manager) WriteScope(c *Cache, scope document.Scope, doc document.Document) error {
	if scope == document.ScopeSession {
		if err := validate.All(doc); err != nil {
			return err
		}
		m.session = doc.Clone()
		c.Invalidate()
		return nil
	}
	path, err := m.writePath(scope)
	if err != nil {
		return err
	}
	err = m.storeFor(scope).WriteWithBackup(path, doc)
	m.logMutation("write", scope, path, err, nil)
	if err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

func (m *Manager) writePath(scope document.Scope) (string, error) {
	switch scope {
	case document.ScopeGlobal:
		return m.globalPath, nil
	case document.ScopeProject:
		if m.projectPath == "" {
			return "", fmt.Errorf("MGR_NO_PROJECT: no project configuration found; run inside a project or pass one explicitly")
		}
		return m.projectPath, nil
	default:
		return "", fmt.Errorf("MGR_SCOPE: scope %q has no file", scope)
	}
}

// ListBackups returns snapshots of one scope's file, newest first.
func (m *Manager) ListBackups(scope document.Scope) ([]backup.Record, error) {
	path, err := m.writePath(scope)
	if err != nil {
		return nil, err
	}
	return m.backupsFor(scope).List(path)
}

// RestoreBackup writes a snapshot back over its scope's file.
func (m *Manager) RestoreBackup(c *Cache, scope document.Scope, rec backup.Record) error {
	path, err := m.writePath(scope)
	if err != nil {
		return err
	}
	err = m.backupsFor(scope).Restore(rec, path)
	m.logMutation("backup.restore", scope, path, err, map[string]string{"snapshot": rec.Path})
	if err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// CleanupBackups prunes old snapshots for one scope, returning how
// many were removed.
func (m *Manager) CleanupBackups(scope document.Scope, retain int) (int, error) {
	path, err := m.writePath(scope)
	if err != nil {
		return 0, err
	}
	removed, err := m.backupsFor(scope).Cleanup(path, retain)
	m.logMutation("backup.cleanup", scope, path, err, map[string]string{
		"removed": fmt.Sprintf("%d", removed),
	})
	return removed, err
}

func (m *Manager) logMutation(op string, scope document.Scope, path string, opErr error, fields map[string]string) {
	ev := audit.Event{
		Operation: op,
		Scope:     string(scope),
		Path:      path,
		Status:    "ok",
		Fields:    fields,
	}
	if opErr != nil {
		ev.Status = "error"
		ev.Message = opErr.Error()
	}
	// Audit failures never mask the outcome of the mutation itself.
	_ = m.log.Log(ev)
}

// Cache memoizes the merged document between reads. Mutating
// operations invalidate it so the next read recomputes.
type Cache struct {
	doc   document.Document
	trace merge.SourceMap
	valid bool
}

func (c *Cache) Invalidate() {
	if c == nil {
		return
	}
	*c = Cache{}
}

// Valid reports whether the cache currently holds a merged document.
func (c *Cache) Valid() bool { return c != nil && c.valid }
