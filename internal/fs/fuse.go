package fs

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/gitindexfs/gitindexfs/internal/logging"
	"github.com/gitindexfs/gitindexfs/internal/tree"
	"github.com/gitindexfs/gitindexfs/pkg/types"
)

// Mount mounts the FUSE filesystem. It blocks until the context is cancelled
// or the filesystem is unmounted externally.
func (ifs *IndexFS) Mount(ctx context.Context) error {
	if ifs.config.MountPoint == "" {
		return ErrInvalidMountPoint
	}

	fsName := ifs.config.FsName
	if fsName == "" {
		fsName = "gitindexfs"
	}
	entryTimeout := ifs.config.EntryTimeout
	attrTimeout := ifs.config.AttrTimeout

	root := &indexDir{ifs: ifs, path: "/"}
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			AllowOther: ifs.config.AllowOther,
			FsName:     fsName,
			Name:       fsName,
			Debug:      ifs.config.Debug,
			Options:    []string{"ro"},
		},
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
	}

	server, err := fs.Mount(ifs.config.MountPoint, root, opts)
	if err != nil {
		return err
	}

	ifs.mu.Lock()
	ifs.server = server
	ifs.mounted.Store(true)
	ifs.mu.Unlock()
	logging.Info("Filesystem mounted", logging.String("mount_point", ifs.config.MountPoint))

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if err := server.Unmount(); err != nil {
			return err
		}
		<-done
		ifs.mounted.Store(false)
		logging.Info("Filesystem unmounted", logging.String("mount_point", ifs.config.MountPoint))
		return ctx.Err()
	case <-done:
		ifs.mounted.Store(false)
		logging.Info("Filesystem unmounted externally", logging.String("mount_point", ifs.config.MountPoint))
		return nil
	}
}

// IsMounted returns true if the filesystem is currently mounted.
func (ifs *IndexFS) IsMounted() bool {
	return ifs.mounted.Load()
}

func fillAttr(out *fuse.Attr, a types.Attr) {
	out.Mode = a.Mode
	out.Size = a.Size
	out.Blocks = (a.Size + 511) / 512
	out.Nlink = a.Nlink
	out.Uid = a.Uid
	out.Gid = a.Gid
	out.Atime = a.Atime
	out.Mtime = a.Mtime
	out.Ctime = a.Ctime
}

// stableMode returns the file type bits for the inode at path.
func (ifs *IndexFS) stableMode(path string) (uint32, error) {
	n, err := ifs.tree.Resolve(path)
	if err != nil {
		return 0, err
	}
	switch n := n.(type) {
	case *tree.File:
		if n.Mode().IsSymlink() {
			return fuse.S_IFLNK, nil
		}
		return fuse.S_IFREG, nil
	default:
		return fuse.S_IFDIR, nil
	}
}

// indexDir is a directory node of the mounted tree.
type indexDir struct {
	fs.Inode
	ifs  *IndexFS
	path string
}

var _ = (fs.NodeLookuper)((*indexDir)(nil))
var _ = (fs.NodeReaddirer)((*indexDir)(nil))
var _ = (fs.NodeGetattrer)((*indexDir)(nil))
var _ = (fs.NodeMkdirer)((*indexDir)(nil))
var _ = (fs.NodeCreater)((*indexDir)(nil))
var _ = (fs.NodeUnlinker)((*indexDir)(nil))
var _ = (fs.NodeRmdirer)((*indexDir)(nil))
var _ = (fs.NodeRenamer)((*indexDir)(nil))
var _ = (fs.NodeSymlinker)((*indexDir)(nil))
var _ = (fs.NodeSetattrer)((*indexDir)(nil))

// Getattr implements fs.NodeGetattrer.
func (d *indexDir) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := d.ifs.Getattr(ctx, d.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, attr)
	return fs.OK
}

// Lookup implements fs.NodeLookuper.
func (d *indexDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := tree.Join(d.path, name)

	attr, err := d.ifs.Getattr(ctx, childPath)
	if err != nil {
		return nil, toErrno(err)
	}
	fillAttr(&out.Attr, attr)

	mode, err := d.ifs.stableMode(childPath)
	if err != nil {
		return nil, toErrno(err)
	}

	var child fs.InodeEmbedder
	if mode == fuse.S_IFDIR {
		child = &indexDir{ifs: d.ifs, path: childPath}
	} else {
		child = &indexFile{ifs: d.ifs, path: childPath}
	}
	return d.NewInode(ctx, child, fs.StableAttr{Mode: mode}), fs.OK
}

// Readdir implements fs.NodeReaddirer.
func (d *indexDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	names, err := d.ifs.Readdir(ctx, d.path)
	if err != nil {
		return nil, toErrno(err)
	}

	result := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		mode, err := d.ifs.stableMode(tree.Join(d.path, name))
		if err != nil {
			continue
		}
		result = append(result, fuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(result), fs.OK
}

// Setattr implements fs.NodeSetattrer.
func (d *indexDir) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

// Mkdir implements fs.NodeMkdirer.
func (d *indexDir) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

// Create implements fs.NodeCreater.
func (d *indexDir) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EROFS
}

// Unlink implements fs.NodeUnlinker.
func (d *indexDir) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

// Rmdir implements fs.NodeRmdirer.
func (d *indexDir) Rmdir(ctx context.Context, name string) syscall.Errno {
	return syscall.EROFS
}

// Rename implements fs.NodeRenamer.
func (d *indexDir) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return syscall.EROFS
}

// Symlink implements fs.NodeSymlinker.
func (d *indexDir) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EROFS
}

// indexFile is a regular file or symlink node backed by an index blob.
type indexFile struct {
	fs.Inode
	ifs  *IndexFS
	path string
}

var _ = (fs.NodeGetattrer)((*indexFile)(nil))
var _ = (fs.NodeOpener)((*indexFile)(nil))
var _ = (fs.NodeReadlinker)((*indexFile)(nil))
var _ = (fs.NodeSetattrer)((*indexFile)(nil))

// Getattr implements fs.NodeGetattrer.
func (f *indexFile) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := f.ifs.Getattr(ctx, f.path)
	if err != nil {
		return toErrno(err)
	}
	fillAttr(&out.Attr, attr)
	return fs.OK
}

// Setattr implements fs.NodeSetattrer.
func (f *indexFile) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

// Open implements fs.NodeOpener. Content never changes, so the kernel may
// keep its page cache across opens.
func (f *indexFile) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h, err := f.ifs.Open(ctx, f.path, flags)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &indexFileHandle{ifs: f.ifs, path: f.path, handle: h}, fuse.FOPEN_KEEP_CACHE, fs.OK
}

// Readlink implements fs.NodeReadlinker.
func (f *indexFile) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, err := f.ifs.Readlink(ctx, f.path)
	if err != nil {
		return nil, toErrno(err)
	}
	return []byte(target), fs.OK
}

// indexFileHandle is an open file, bound to a handle of the IndexFS.
type indexFileHandle struct {
	ifs    *IndexFS
	path   string
	handle types.Handle
}

var _ = (fs.FileReader)((*indexFileHandle)(nil))
var _ = (fs.FileReleaser)((*indexFileHandle)(nil))

// Read implements fs.FileReader.
func (fh *indexFileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := fh.ifs.Read(ctx, fh.path, fh.handle, len(dest), off)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(data), fs.OK
}

// Release implements fs.FileReleaser.
func (fh *indexFileHandle) Release(ctx context.Context) syscall.Errno {
	return toErrno(fh.ifs.Release(ctx, fh.path, fh.handle))
}
