package manager

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"agentconf/internal/cfgerr"
	"agentconf/internal/document"
)

func newTestManager(t *testing.T, withProject bool) (*Manager, string) {
	t.Helper()
	tmp := t.TempDir()
	opts := Options{
		GlobalPath: filepath.Join(tmp, "global", "config.json"),
		BackupDir:  filepath.Join(tmp, "backups"),
		AuditPath:  "-",
	}
	if withProject {
		opts.ProjectPath = filepath.Join(tmp, "project", ".agentconf", "config.json")
	}
	return New(opts), tmp
}

func TestSetThenEffective(t *testing.T) {
	m, _ := newTestManager(t, false)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "customInstructions", `["be brief"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	eff, err := m.Effective(&cache)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if !reflect.DeepEqual(eff.Instructions, []string{"be brief"}) {
		t.Fatalf("instructions = %v", eff.Instructions)
	}
	if !cache.Valid() {
		t.Fatal("cache should be filled after Effective")
	}
}

func TestServerMapUnion(t *testing.T) {
	m, _ := newTestManager(t, true)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "mcpServers.alpha", `{"enabled": true, "command": "alpha"}`); err != nil {
		t.Fatalf("Set global: %v", err)
	}
	if err := m.Set(&cache, document.ScopeProject, "mcpServers.beta", `{"enabled": true, "command": "beta"}`); err != nil {
		t.Fatalf("Set project: %v", err)
	}

	eff, trace, err := m.EffectiveWithTrace(&cache)
	if err != nil {
		t.Fatalf("EffectiveWithTrace: %v", err)
	}
	if len(eff.Servers) != 2 {
		t.Fatalf("servers = %v", eff.Servers)
	}
	if sc, _ := trace.Scope("mcpServers.alpha.command"); sc != document.ScopeGlobal {
		t.Fatalf("alpha attributed to %q", sc)
	}
	if sc, _ := trace.Scope("mcpServers.beta.command"); sc != document.ScopeProject {
		t.Fatalf("beta attributed to %q", sc)
	}
}

func TestEntryLevelReplace(t *testing.T) {
	m, _ := newTestManager(t, true)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "mcpServers.db", `{"enabled": true, "command": "db", "args": ["-p", "5432"]}`); err != nil {
		t.Fatalf("Set global: %v", err)
	}
	if err := m.Set(&cache, document.ScopeProject, "mcpServers.db", `{"enabled": false}`); err != nil {
		t.Fatalf("Set project: %v", err)
	}

	eff, err := m.Effective(&cache)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	// The whole project entry wins; nothing field-merges through.
	want := document.Server{Enabled: false}
	if got := eff.Servers["db"]; !reflect.DeepEqual(got, want) {
		t.Fatalf("server = %+v, want %+v", got, want)
	}
}

func TestExplicitEmptyListOverrides(t *testing.T) {
	m, _ := newTestManager(t, true)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "allowedPaths", `["~/everything"]`); err != nil {
		t.Fatalf("Set global: %v", err)
	}
	if err := m.Set(&cache, document.ScopeProject, "allowedPaths", `[]`); err != nil {
		t.Fatalf("Set project: %v", err)
	}

	eff, err := m.Effective(&cache)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if eff.Paths == nil || len(eff.Paths) != 0 {
		t.Fatalf("paths = %v, want explicitly empty", eff.Paths)
	}
}

func TestBackupRetentionAcrossWrites(t *testing.T) {
	tmp := t.TempDir()
	m := New(Options{
		GlobalPath: filepath.Join(tmp, "config.json"),
		BackupDir:  filepath.Join(tmp, "backups"),
		Retention:  2,
		AuditPath:  "-",
	})
	var cache Cache

	for _, v := range []string{`["a"]`, `["b"]`, `["c"]`} {
		if err := m.Set(&cache, document.ScopeGlobal, "customInstructions", v); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	records, err := m.ListBackups(document.ScopeGlobal)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 retained snapshots, got %d", len(records))
	}
}

func TestInvalidSetLeavesEverythingUntouched(t *testing.T) {
	m, _ := newTestManager(t, false)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "allowedPaths", `["~/ok"]`); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before, err := os.ReadFile(m.GlobalPath())
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	backupsBefore, err := m.ListBackups(document.ScopeGlobal)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}

	err = m.Set(&cache, document.ScopeGlobal, "allowedPaths", `["", "~/bad"]`)
	var verr *cfgerr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	after, err := os.ReadFile(m.GlobalPath())
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("rejected write modified the target file")
	}
	backupsAfter, err := m.ListBackups(document.ScopeGlobal)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(backupsAfter) != len(backupsBefore) {
		t.Fatal("rejected write created a backup")
	}
}

func TestSessionScopeStaysInMemory(t *testing.T) {
	m, tmp := newTestManager(t, false)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "customInstructions", `["from disk"]`); err != nil {
		t.Fatalf("Set global: %v", err)
	}
	if err := m.Set(&cache, document.ScopeSession, "customInstructions", `["this run only"]`); err != nil {
		t.Fatalf("Set session: %v", err)
	}

	eff, trace, err := m.EffectiveWithTrace(&cache)
	if err != nil {
		t.Fatalf("EffectiveWithTrace: %v", err)
	}
	if !reflect.DeepEqual(eff.Instructions, []string{"this run only"}) {
		t.Fatalf("instructions = %v", eff.Instructions)
	}
	if sc, _ := trace.Scope("customInstructions"); sc != document.ScopeSession {
		t.Fatalf("attributed to %q", sc)
	}

	// Nothing session-scoped ever lands on disk.
	blob, err := os.ReadFile(filepath.Join(tmp, "global", "config.json"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	doc, err := document.Parse(blob)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if !reflect.DeepEqual(doc.Instructions, []string{"from disk"}) {
		t.Fatalf("on-disk instructions = %v", doc.Instructions)
	}
}

func TestUnsetRemovesEntryFromWrittenLayer(t *testing.T) {
	m, _ := newTestManager(t, false)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "mcpServers.keep", `{"enabled": true}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(&cache, document.ScopeGlobal, "mcpServers.drop", `{"enabled": true}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := m.Unset(&cache, document.ScopeGlobal, "mcpServers.drop"); err != nil {
		t.Fatalf("Unset: %v", err)
	}
	if cache.Valid() {
		t.Fatal("unset should invalidate the cache")
	}

	// The removal must be visible in the file itself, not just the
	// merged view.
	blob, err := os.ReadFile(m.GlobalPath())
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	onDisk, err := document.Parse(blob)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if _, ok := onDisk.Servers["drop"]; ok {
		t.Fatal("removed entry still present in the written layer")
	}
	if _, ok := onDisk.Servers["keep"]; !ok {
		t.Fatal("sibling entry lost from the written layer")
	}

	eff, err := m.Effective(&cache)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if _, ok := eff.Servers["drop"]; ok {
		t.Fatal("removed entry still effective")
	}
}

func TestUnsetTakesSnapshotFirst(t *testing.T) {
	m, _ := newTestManager(t, false)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "mcpServers.db", `{"enabled": true}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Unset(&cache, document.ScopeGlobal, "mcpServers.db"); err != nil {
		t.Fatalf("Unset: %v", err)
	}

	records, err := m.ListBackups(document.ScopeGlobal)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(records))
	}
	blob, err := os.ReadFile(records[0].Path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	snap, err := document.Parse(blob)
	if err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	if _, ok := snap.Servers["db"]; !ok {
		t.Fatal("snapshot should hold the pre-removal state")
	}
}

func TestSetWithoutProjectFails(t *testing.T) {
	m, _ := newTestManager(t, false)
	var cache Cache
	if err := m.Set(&cache, document.ScopeProject, "customInstructions", `["x"]`); err == nil {
		t.Fatal("expected error when no project layer is active")
	}
}

func TestCacheInvalidation(t *testing.T) {
	m, _ := newTestManager(t, false)
	var cache Cache

	if _, err := m.Effective(&cache); err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if !cache.Valid() {
		t.Fatal("cache should be valid after read")
	}
	if err := m.Set(&cache, document.ScopeGlobal, "customInstructions", `["x"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if cache.Valid() {
		t.Fatal("mutation should invalidate the cache")
	}
	eff, err := m.Effective(&cache)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if !reflect.DeepEqual(eff.Instructions, []string{"x"}) {
		t.Fatalf("stale read after invalidation: %v", eff.Instructions)
	}
}

func TestDiff(t *testing.T) {
	m, _ := newTestManager(t, true)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "mcpServers.alpha", `{"enabled": true}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(&cache, document.ScopeGlobal, "customInstructions", `["global rule"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(&cache, document.ScopeProject, "mcpServers.beta", `{"enabled": true}`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(&cache, document.ScopeProject, "customInstructions", `["project rule"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	changes, _, err := m.Diff()
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	got := map[string]string{}
	for _, ch := range changes {
		got[ch.KeyPath] = ch.Kind
	}
	if got["mcpServers.beta.enabled"] != ChangeAdded {
		t.Fatalf("beta: %v", got)
	}
	if got["customInstructions"] != ChangeModified {
		t.Fatalf("customInstructions: %v", got)
	}
	if kind, ok := got["mcpServers.alpha.enabled"]; ok {
		t.Fatalf("alpha should be absent from diff, got %q", kind)
	}
	for i := 1; i < len(changes); i++ {
		if changes[i-1].KeyPath > changes[i].KeyPath {
			t.Fatal("diff not sorted by key-path")
		}
	}
}

func TestRestoreBackup(t *testing.T) {
	m, _ := newTestManager(t, false)
	var cache Cache

	if err := m.Set(&cache, document.ScopeGlobal, "customInstructions", `["first"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(&cache, document.ScopeGlobal, "customInstructions", `["second"]`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	records, err := m.ListBackups(document.ScopeGlobal)
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(records))
	}
	if err := m.RestoreBackup(&cache, document.ScopeGlobal, records[0]); err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}

	eff, err := m.Effective(&cache)
	if err != nil {
		t.Fatalf("Effective: %v", err)
	}
	if !reflect.DeepEqual(eff.Instructions, []string{"first"}) {
		t.Fatalf("instructions = %v", eff.Instructions)
	}
}
