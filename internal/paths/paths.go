// Package paths resolves the well-known document locations: the
// platform global config path and the nearest project document found
// by walking upward from a starting directory.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appDir          = "agentconf"
	projectDir      = ".agentconf"
	configFile      = "config.json"
	backupDirName   = "backups"
	auditFileName   = "audit.jsonl"
	maxAncestorWalk = 50
)

// GlobalConfigDir returns the platform-specific directory holding the
// global document. It never fails: when the user config dir cannot be
// resolved it falls back to a relative location.
func GlobalConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return projectDir
	}
	return filepath.Join(base, appDir)
}

// GlobalConfigPath returns the global document location.
func GlobalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), configFile)
}

// BackupDir returns the dedicated backup area for the global layer.
func BackupDir() string {
	return filepath.Join(GlobalConfigDir(), backupDirName)
}

// AuditPath returns the operation audit log location.
func AuditPath() string {
	return filepath.Join(GlobalConfigDir(), auditFileName)
}

// ProjectConfigPath returns the project document location for a
// project root, without checking existence.
func ProjectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, projectDir, configFile)
}

// FindProjectConfig walks upward from startDir looking for
// .agentconf/config.json. The walk stops when a .git marker is seen
// (without checking that level's ancestors) or the filesystem root is
// reached. Returns ("", false) when no project document exists, which
// is a normal result rather than an error.
func FindProjectConfig(startDir string) (string, bool) {
	if startDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", false
		}
		startDir = cwd
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false
	}
	for i := 0; i < maxAncestorWalk; i++ {
		candidate := filepath.Join(dir, projectDir, configFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
		// A version-control boundary bounds the search.
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return "", false
}

// ExpandPath replaces a leading ~ with the resolved home directory.
// Paths without the home token pass through unchanged, as do paths
// like ~user that name someone else's home.
func ExpandPath(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return path
}
