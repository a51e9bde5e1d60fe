// Package types defines error types for the index filesystem.
package types

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound        = errors.New("no such file or directory")
	ErrNotADirectory   = errors.New("not a directory")
	ErrIsADirectory    = errors.New("is a directory")
	ErrReadOnly        = errors.New("read-only file system")
	ErrInvalidHandle   = errors.New("invalid file handle")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPathConflict    = errors.New("conflicting index path")
	ErrInvalidPath     = errors.New("invalid index path")
	ErrNotRepository   = errors.New("not a git repository")
	ErrObjectNotFound  = errors.New("object not found")
)

// Operation names used in FSError.
const (
	OpGetattr  = "getattr"
	OpReaddir  = "readdir"
	OpOpen     = "open"
	OpRead     = "read"
	OpRelease  = "release"
	OpReadlink = "readlink"
)

// FSError wraps a failed filesystem operation with the path it was
// issued against.
type FSError struct {
	Op   string
	Path string
	Err  error
}

func (e *FSError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FSError) Unwrap() error {
	return e.Err
}

// BackingStoreError reports a failure of the object store while loading
// an object.
type BackingStoreError struct {
	ObjectID ObjectID
	Err      error
}

func (e *BackingStoreError) Error() string {
	return fmt.Sprintf("object %s: %v", e.ObjectID, e.Err)
}

func (e *BackingStoreError) Unwrap() error {
	return e.Err
}

// ConflictError reports an index path that collides with a node built
// from an earlier entry.
type ConflictError struct {
	Path     string
	Existing NodeKind
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%v: %s already exists as a %s", ErrPathConflict, e.Path, e.Existing)
}

func (e *ConflictError) Unwrap() error {
	return ErrPathConflict
}
