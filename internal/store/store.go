// Package store composes the validator, the backup manager, and the
// atomic writer into the safe mutation path for documents: validate,
// then snapshot, then commit. Order is strict; a failure at any step
// aborts before the next one runs.
package store

import (
	"agentconf/internal/backup"
	"agentconf/internal/cfgerr"
	"agentconf/internal/document"
	"agentconf/internal/fsutil"
	"agentconf/internal/validate"
)

// Store writes documents safely. Backups may be nil, which disables
// snapshots (used for scratch targets like exports).
type Store struct {
	Backups *backup.Manager
}

// WriteWithBackup validates doc, snapshots the current file at path
// when one exists, then commits the serialized document atomically and
// prunes snapshots beyond retention. On validation failure neither a
// backup nor a write happens; on backup failure no write happens.
func (s *Store) WriteWithBackup(path string, doc document.Document) error {
	if err := validate.All(doc); err != nil {
		return err
	}
	blob, err := document.Serialize(doc)
	if err != nil {
		return err
	}
	if s.Backups != nil {
		if _, err := s.Backups.Create(path); err != nil {
			return &cfgerr.BackupError{Path: path, Err: err}
		}
	}
	if err := fsutil.AtomicWrite(path, blob, 0o644); err != nil {
		return err
	}
	if s.Backups != nil {
		// Retention pruning happens after a successful commit; its
		// failure surfaces but cannot undo the write.
		if _, err := s.Backups.Cleanup(path, 0); err != nil {
			return err
		}
	}
	return nil
}
