// Package fs provides the read-only FUSE filesystem exposing a repository index.
package fs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/gitindexfs/gitindexfs/internal/logging"
	"github.com/gitindexfs/gitindexfs/internal/metrics"
	"github.com/gitindexfs/gitindexfs/internal/tree"
	"github.com/gitindexfs/gitindexfs/pkg/types"
)

// Errors for IndexFS
var (
	ErrInvalidStore      = errors.New("object store is required")
	ErrInvalidMountPoint = errors.New("invalid mount point")
)

// writeFlags are the open flags that would modify a file.
const writeFlags = unix.O_WRONLY | unix.O_RDWR | unix.O_APPEND | unix.O_TRUNC | unix.O_CREAT

// IndexFSConfig holds the configuration for creating an IndexFS.
type IndexFSConfig struct {
	Entries  []types.IndexEntry // Index snapshot to expose
	Store    ObjectStore        // Loads blob content
	RootAttr types.Attr         // Owner, group and times shared by every node

	MountPoint   string
	FsName       string
	AllowOther   bool
	Debug        bool // Trace every FUSE request
	EntryTimeout time.Duration
	AttrTimeout  time.Duration
}

// IndexFS serves filesystem operations against a frozen snapshot of the
// index. All methods are safe for concurrent use.
type IndexFS struct {
	config *IndexFSConfig
	tree   *tree.Tree
	desc   *descriptorManager

	server  *fuse.Server
	mounted atomic.Bool
	mu      sync.Mutex
}

// NewIndexFS builds the tree from the configured entries. A malformed index
// (conflicting or invalid paths) fails here rather than at request time.
func NewIndexFS(config *IndexFSConfig) (*IndexFS, error) {
	if config.Store == nil {
		return nil, ErrInvalidStore
	}

	t, err := tree.Build(config.Entries)
	if err != nil {
		return nil, err
	}

	dirs, files := t.Len()
	metrics.SetTreeSize(dirs, files)
	logging.Info("Index tree built",
		logging.Int("directories", dirs),
		logging.Int("files", files),
	)

	return &IndexFS{
		config: config,
		tree:   t,
		desc:   newDescriptorManager(config.Store),
	}, nil
}

// resolve maps a virtual path to its node.
func (ifs *IndexFS) resolve(op, path string) (tree.Node, error) {
	n, err := ifs.tree.Resolve(path)
	if err != nil {
		logging.Debug("resolve failed", logging.String("op", op), logging.String("path", path))
		return nil, &types.FSError{Op: op, Path: path, Err: err}
	}
	return n, nil
}

func (ifs *IndexFS) dirAttr() types.Attr {
	attr := ifs.config.RootAttr
	attr.Mode = unix.S_IFDIR | 0o555
	attr.Size = 0
	attr.Nlink = 1
	return attr
}

func (ifs *IndexFS) fileAttr(ctx context.Context, f *tree.File) (types.Attr, error) {
	size, ok := f.Size()
	if !ok {
		if data, cached := ifs.desc.cached(f.ID()); cached {
			size = int64(len(data))
		} else {
			n, err := ifs.config.Store.Size(ctx, f.ID())
			if err != nil {
				return types.Attr{}, &types.BackingStoreError{ObjectID: f.ID(), Err: err}
			}
			size = n
		}
		f.SetSize(size)
	}

	attr := ifs.config.RootAttr
	attr.Mode = f.Mode().AttrMode()
	attr.Size = uint64(size)
	attr.Nlink = 1
	return attr, nil
}

// Getattr returns the attributes of the node at path.
func (ifs *IndexFS) Getattr(ctx context.Context, path string) (attr types.Attr, err error) {
	defer func() { metrics.RecordOperation(types.OpGetattr, err) }()

	n, err := ifs.resolve(types.OpGetattr, path)
	if err != nil {
		return types.Attr{}, err
	}

	switch n := n.(type) {
	case *tree.Dir:
		return ifs.dirAttr(), nil
	case *tree.File:
		fa, ferr := ifs.fileAttr(ctx, n)
		if ferr != nil {
			logging.Warn("Failed to stat object",
				logging.String("path", path),
				logging.Stringer("object", n.ID()),
				logging.Err(ferr),
			)
			return types.Attr{}, &types.FSError{Op: types.OpGetattr, Path: path, Err: ferr}
		}
		return fa, nil
	}
	return types.Attr{}, &types.FSError{Op: types.OpGetattr, Path: path, Err: types.ErrNotFound}
}

// Readdir lists the directory at path, starting with "." and "..".
func (ifs *IndexFS) Readdir(ctx context.Context, path string) (entries []string, err error) {
	defer func() { metrics.RecordOperation(types.OpReaddir, err) }()

	n, err := ifs.resolve(types.OpReaddir, path)
	if err != nil {
		return nil, err
	}
	d, ok := n.(*tree.Dir)
	if !ok {
		return nil, &types.FSError{Op: types.OpReaddir, Path: path, Err: types.ErrNotADirectory}
	}

	entries = d.Entries()
	logging.Debug("readdir", logging.String("path", path), logging.Int("entries", len(entries)))
	return entries, nil
}

// Open allocates a handle on the file at path. Any write intent fails with
// a read-only error and allocates nothing.
func (ifs *IndexFS) Open(ctx context.Context, path string, flags uint32) (h types.Handle, err error) {
	defer func() { metrics.RecordOperation(types.OpOpen, err) }()

	if flags&writeFlags != 0 {
		logging.Debug("open rejected: write requested",
			logging.String("path", path),
			logging.Uint64("flags", uint64(flags)),
		)
		return 0, &types.FSError{Op: types.OpOpen, Path: path, Err: types.ErrReadOnly}
	}

	n, err := ifs.resolve(types.OpOpen, path)
	if err != nil {
		return 0, err
	}
	f, ok := n.(*tree.File)
	if !ok {
		return 0, &types.FSError{Op: types.OpOpen, Path: path, Err: types.ErrIsADirectory}
	}

	h, err = ifs.desc.open(ctx, f.ID())
	if err != nil {
		logging.Warn("Failed to load object",
			logging.String("path", path),
			logging.Stringer("object", f.ID()),
			logging.Err(err),
		)
		return 0, &types.FSError{Op: types.OpOpen, Path: path, Err: err}
	}

	if data, ok := ifs.desc.cached(f.ID()); ok {
		f.SetSize(int64(len(data)))
	}

	logging.Debug("open",
		logging.String("path", path),
		logging.Stringer("object", f.ID()),
		logging.Uint64("handle", uint64(h)),
	)
	return h, nil
}

// Read returns up to size bytes at offset from the file opened as h. Reads
// at or past the end return an empty slice.
func (ifs *IndexFS) Read(ctx context.Context, path string, h types.Handle, size int, offset int64) (data []byte, err error) {
	defer func() { metrics.RecordOperation(types.OpRead, err) }()

	data, err = ifs.desc.read(h, size, offset)
	if err != nil {
		logging.Debug("read failed",
			logging.String("path", path),
			logging.Uint64("handle", uint64(h)),
			logging.Err(err),
		)
		return nil, &types.FSError{Op: types.OpRead, Path: path, Err: err}
	}
	return data, nil
}

// Release closes h. Content is evicted once the last handle on the object
// is released.
func (ifs *IndexFS) Release(ctx context.Context, path string, h types.Handle) (err error) {
	defer func() { metrics.RecordOperation(types.OpRelease, err) }()

	id, evicted, err := ifs.desc.release(h)
	if err != nil {
		logging.Debug("release failed",
			logging.String("path", path),
			logging.Uint64("handle", uint64(h)),
		)
		return &types.FSError{Op: types.OpRelease, Path: path, Err: err}
	}

	logging.Debug("release",
		logging.String("path", path),
		logging.Uint64("handle", uint64(h)),
		logging.Stringer("object", id),
		logging.Bool("evicted", evicted),
	)
	return nil
}

// Readlink returns the target of the symlink at path, which is the content
// of its object.
func (ifs *IndexFS) Readlink(ctx context.Context, path string) (target string, err error) {
	defer func() { metrics.RecordOperation(types.OpReadlink, err) }()

	n, err := ifs.resolve(types.OpReadlink, path)
	if err != nil {
		return "", err
	}
	f, ok := n.(*tree.File)
	if !ok || !f.Mode().IsSymlink() {
		return "", &types.FSError{Op: types.OpReadlink, Path: path, Err: types.ErrInvalidArgument}
	}

	if data, ok := ifs.desc.cached(f.ID()); ok {
		return string(data), nil
	}

	data, err := ifs.config.Store.Fetch(ctx, f.ID())
	metrics.RecordFetch(len(data), err)
	if err != nil {
		return "", &types.FSError{
			Op:   types.OpReadlink,
			Path: path,
			Err:  &types.BackingStoreError{ObjectID: f.ID(), Err: err},
		}
	}
	f.SetSize(int64(len(data)))
	return string(data), nil
}

// Stats returns the number of open handles and cached objects.
func (ifs *IndexFS) Stats() (handles, objects int) {
	return ifs.desc.stats()
}
