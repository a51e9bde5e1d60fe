// Package gitindex reads the staging index and blob objects of a git
// repository.
package gitindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"golang.org/x/sys/unix"

	"github.com/gitindexfs/gitindexfs/internal/logging"
	"github.com/gitindexfs/gitindexfs/pkg/types"
)

// Repository is an opened git repository. It implements the object store
// used by the filesystem.
type Repository struct {
	root string
	repo *git.Repository
}

// Open opens the repository containing root. Parent directories are
// searched for a .git directory.
func Open(root string) (*Repository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s: %w", abs, types.ErrNotRepository)
		}
		return nil, fmt.Errorf("failed to open repository %s: %w", abs, err)
	}

	logging.Debug("Repository opened", logging.String("root", abs))
	return &Repository{root: abs, repo: repo}, nil
}

// Root returns the absolute path the repository was opened from.
func (r *Repository) Root() string {
	return r.root
}

// Entries returns the blobs recorded in the staging index, in index order.
// Submodule entries are skipped. When a path has unmerged stages only the
// "ours" stage is kept, or the first stage seen if there is none.
func (r *Repository) Entries() ([]types.IndexEntry, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	entries := make([]types.IndexEntry, 0, len(idx.Entries))
	seen := make(map[string]int, len(idx.Entries))
	skipped := 0

	for _, e := range idx.Entries {
		mode, ok := convertMode(e.Mode)
		if !ok {
			skipped++
			continue
		}
		entry := types.IndexEntry{
			Path: e.Name,
			ID:   types.ObjectID(e.Hash),
			Mode: mode,
		}

		if i, dup := seen[e.Name]; dup {
			if e.Stage == index.OurMode {
				entries[i] = entry
			}
			continue
		}
		seen[e.Name] = len(entries)
		entries = append(entries, entry)
	}

	logging.Debug("Index read",
		logging.Int("entries", len(entries)),
		logging.Int("skipped", skipped),
	)
	return entries, nil
}

// convertMode maps an index file mode onto the modes exposed by the mount.
// Entries that are not blobs report false.
func convertMode(m filemode.FileMode) (types.FileMode, bool) {
	switch m {
	case filemode.Regular, filemode.Deprecated:
		return types.ModeRegular, true
	case filemode.Executable:
		return types.ModeExecutable, true
	case filemode.Symlink:
		return types.ModeSymlink, true
	default:
		return 0, false
	}
}

// Fetch returns the full content of the blob id.
func (r *Repository) Fetch(ctx context.Context, id types.ObjectID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	blob, err := r.repo.BlobObject(plumbing.Hash(id))
	if err != nil {
		return nil, wrapObjectError(id, err)
	}

	rd, err := blob.Reader()
	if err != nil {
		return nil, wrapObjectError(id, err)
	}
	defer rd.Close()

	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", id, err)
	}
	return data, nil
}

// Size returns the length of the blob id without reading its content.
func (r *Repository) Size(ctx context.Context, id types.ObjectID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	obj, err := r.repo.Storer.EncodedObject(plumbing.BlobObject, plumbing.Hash(id))
	if err != nil {
		return 0, wrapObjectError(id, err)
	}
	return obj.Size(), nil
}

func wrapObjectError(id types.ObjectID, err error) error {
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return fmt.Errorf("object %s: %w", id, types.ErrObjectNotFound)
	}
	return fmt.Errorf("object %s: %w", id, err)
}

// RootAttr returns the attributes shared by every node of the mount: the
// owner and group of root, with all timestamps zero.
func RootAttr(root string) (types.Attr, error) {
	var st unix.Stat_t
	if err := unix.Lstat(root, &st); err != nil {
		return types.Attr{}, fmt.Errorf("failed to stat %s: %w", root, err)
	}
	return types.Attr{
		Uid:   st.Uid,
		Gid:   st.Gid,
		Nlink: 1,
	}, nil
}
