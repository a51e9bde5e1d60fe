// Package types defines the core domain types for the index filesystem.
package types

import (
	"encoding/hex"
	"fmt"
	"syscall"
)

// ObjectID is the content-addressed identifier of a stored blob.
type ObjectID [20]byte

// String returns the lowercase hex form of the id.
func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the id is all zero bytes.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// ParseObjectID parses a 40 character hex object id.
func ParseObjectID(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != hex.EncodedLen(len(id)) {
		return id, fmt.Errorf("invalid object id %q: want %d hex characters", s, hex.EncodedLen(len(id)))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return id, nil
}

// FileMode is the mode recorded for an index entry, using the git encoding
// (object type in the high bits, unix permissions in the low 9 bits).
type FileMode uint32

const (
	ModeRegular    FileMode = 0o100644
	ModeExecutable FileMode = 0o100755
	ModeSymlink    FileMode = 0o120000
	ModeGitlink    FileMode = 0o160000

	modeTypeMask FileMode = 0o170000
)

// IsSymlink reports whether the mode has the symlink type bits.
func (m FileMode) IsSymlink() bool {
	return m&modeTypeMask == ModeSymlink
}

// IsGitlink reports whether the mode denotes a submodule commit.
func (m FileMode) IsGitlink() bool {
	return m&modeTypeMask == ModeGitlink
}

// IsExecutable reports whether any execute bit is set on a regular file.
func (m FileMode) IsExecutable() bool {
	return !m.IsSymlink() && m&0o111 != 0
}

// AttrMode returns the st_mode exposed through the mount: the file type
// bits followed by read-only permissions.
func (m FileMode) AttrMode() uint32 {
	if m.IsSymlink() {
		return syscall.S_IFLNK | 0o777
	}
	perm := uint32(m) & 0o777
	if perm == 0 {
		perm = 0o644
	}
	return syscall.S_IFREG | perm&^0o222
}

func (m FileMode) String() string {
	return fmt.Sprintf("%06o", uint32(m))
}

// IndexEntry is one staged path as recorded by the repository index.
type IndexEntry struct {
	Path string
	ID   ObjectID
	Mode FileMode
}

// NodeKind distinguishes the two node variants of the tree.
type NodeKind int

const (
	KindDir NodeKind = iota
	KindFile
)

func (k NodeKind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Attr holds the attributes reported for a node.
type Attr struct {
	Mode  uint32
	Size  uint64
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Atime uint64
	Mtime uint64
	Ctime uint64
}

// Handle identifies an open file. Handles are never reused within a mount.
type Handle uint64
