package fs

import (
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"

	"github.com/gitindexfs/gitindexfs/pkg/types"
)

// toErrno converts an error returned by IndexFS into the status code
// reported to the kernel.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return fs.OK
	}

	var bse *types.BackingStoreError
	switch {
	case errors.Is(err, types.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, types.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, types.ErrIsADirectory):
		return syscall.EISDIR
	case errors.Is(err, types.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, types.ErrInvalidHandle):
		return syscall.EBADF
	case errors.Is(err, types.ErrInvalidArgument):
		return syscall.EINVAL
	case errors.As(err, &bse):
		return syscall.EIO
	}

	// Check for direct syscall.Errno
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return syscall.EIO
}
