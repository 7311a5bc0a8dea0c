package fsutil

import (
	"os"
	"path/filepath"

	"agentconf/internal/cfgerr"
)

// AtomicWrite writes data to path using a tmp+rename strategy. The
// rename is the only step visible to concurrent readers: a crash
// before it leaves path exactly as it was, and a failed rename removes
// the tmp file and leaves path untouched. The parent directory is
// created if missing.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return cfgerr.Filesystem("create directory", parent, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return cfgerr.Filesystem("write tmp", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return cfgerr.Filesystem("rename tmp", path, err)
	}
	return nil
}
