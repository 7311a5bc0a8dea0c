// Package cfgerr defines the typed error taxonomy for configuration
// operations. Every fallible operation in the module surfaces one of
// these types; callers branch with errors.As.
package cfgerr

import (
	"errors"
	"fmt"
	"io/fs"
)

// NotFoundError reports an explicitly requested document or backup
// that does not exist. A missing layer during merge is not an error
// and never produces this type.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("DOC_NOT_FOUND: %s does not exist", e.Path)
}

// ParseError reports a malformed document. Line and Column are 1-based
// when derivable and zero when the location is unknown.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	where := e.Path
	if e.Line > 0 {
		if where != "" {
			where += ": "
		}
		return fmt.Sprintf("DOC_PARSE: %sline %d, column %d: %s", where, e.Line, e.Column, e.Msg)
	}
	if where != "" {
		where += ": "
	}
	return fmt.Sprintf("DOC_PARSE: %s%s", where, e.Msg)
}

// ValidationError reports the first rule a document violated.
type ValidationError struct {
	Rule       string
	FieldPath  string
	Message    string
	Suggestion string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("DOC_VALIDATE: %s: %s: %s (%s)", e.Rule, e.FieldPath, e.Message, e.Suggestion)
}

// FilesystemError wraps an I/O failure with the attempted operation
// and the path it was attempted on.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("FS_IO: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// PermissionError is split out from FilesystemError so callers can
// give sharper guidance than for a generic I/O failure.
type PermissionError struct {
	Op   string
	Path string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("FS_PERMISSION: %s %s: permission denied", e.Op, e.Path)
}

// BackupError reports a failed pre-write snapshot. The write that
// triggered the snapshot is aborted when this is returned.
type BackupError struct {
	Path string
	Err  error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("BAK_FAILED: snapshot of %s: %v; write aborted", e.Path, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

// Filesystem classifies an I/O error, promoting permission failures
// to PermissionError.
func Filesystem(op, path string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return &PermissionError{Op: op, Path: path}
	}
	return &FilesystemError{Op: op, Path: path, Err: err}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
