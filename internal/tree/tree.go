// Package tree builds the frozen directory tree exposed by the mount from a
// snapshot of index entries.
package tree

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gitindexfs/gitindexfs/pkg/types"
)

// Node is a directory or file of the tree.
type Node interface {
	Kind() types.NodeKind
}

// Dir is a directory node. Child names keep index insertion order.
type Dir struct {
	dirs  []string
	files []string
}

var _ Node = (*Dir)(nil)

func (d *Dir) Kind() types.NodeKind { return types.KindDir }

// Dirs returns the child directory names.
func (d *Dir) Dirs() []string { return d.dirs }

// Files returns the child file names.
func (d *Dir) Files() []string { return d.files }

// Entries returns the full listing: ".", "..", directories, then files.
func (d *Dir) Entries() []string {
	entries := make([]string, 0, 2+len(d.dirs)+len(d.files))
	entries = append(entries, ".", "..")
	entries = append(entries, d.dirs...)
	entries = append(entries, d.files...)
	return entries
}

// File is a blob recorded in the index.
type File struct {
	id   types.ObjectID
	mode types.FileMode

	// size holds the object length plus one once known; zero means unset.
	size atomic.Int64
}

var _ Node = (*File)(nil)

func (f *File) Kind() types.NodeKind { return types.KindFile }

// ID returns the object id of the blob.
func (f *File) ID() types.ObjectID { return f.id }

// Mode returns the index mode of the blob.
func (f *File) Mode() types.FileMode { return f.mode }

// Size returns the memoized object length, if it has been recorded.
func (f *File) Size() (int64, bool) {
	v := f.size.Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// SetSize records the object length.
func (f *File) SetSize(n int64) {
	f.size.Store(n + 1)
}

// Tree maps absolute virtual paths to nodes. It is immutable once built.
type Tree struct {
	nodes map[string]Node
	dirs  int
	files int
}

// Build constructs the tree from index entries. A path that collides with a
// node of the opposite kind, or repeats a file, fails the whole build.
func Build(entries []types.IndexEntry) (*Tree, error) {
	root := &Dir{}
	t := &Tree{
		nodes: map[string]Node{"/": root},
		dirs:  1,
	}

	for _, e := range entries {
		components, err := splitPath(e.Path)
		if err != nil {
			return nil, err
		}

		parent := root
		p := ""
		for _, c := range components[:len(components)-1] {
			p += "/" + c
			switch n := t.nodes[p].(type) {
			case nil:
				d := &Dir{}
				t.nodes[p] = d
				t.dirs++
				parent.dirs = append(parent.dirs, c)
				parent = d
			case *Dir:
				parent = n
			default:
				return nil, &types.ConflictError{Path: p, Existing: n.Kind()}
			}
		}

		name := components[len(components)-1]
		p += "/" + name
		if existing, ok := t.nodes[p]; ok {
			return nil, &types.ConflictError{Path: p, Existing: existing.Kind()}
		}
		t.nodes[p] = &File{id: e.ID, mode: e.Mode}
		t.files++
		parent.files = append(parent.files, name)
	}

	return t, nil
}

func splitPath(path string) ([]string, error) {
	components := strings.Split(path, "/")
	for _, c := range components {
		if c == "" || c == "." || c == ".." {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidPath, path)
		}
	}
	return components, nil
}

// Normalize returns the lookup key for a virtual path.
func Normalize(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// Resolve returns the node at path.
func (t *Tree) Resolve(path string) (Node, error) {
	n, ok := t.nodes[Normalize(path)]
	if !ok {
		return nil, types.ErrNotFound
	}
	return n, nil
}

// Root returns the root directory.
func (t *Tree) Root() *Dir {
	return t.nodes["/"].(*Dir)
}

// Len returns the number of directories and files in the tree, root included.
func (t *Tree) Len() (dirs, files int) {
	return t.dirs, t.files
}

// Join returns the virtual path of name inside dir.
func Join(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return dir + "/" + name
}
