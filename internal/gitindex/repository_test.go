package gitindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"

	"github.com/gitindexfs/gitindexfs/pkg/types"
)

// initRepo creates a repository under a temp dir and stages files. Keys are
// slash-separated paths; values are content, or a symlink target when the key
// is listed in links.
func initRepo(t *testing.T, files map[string]string, links map[string]string) (string, *git.Repository) {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit failed: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree failed: %v", err)
	}

	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		perm := os.FileMode(0o644)
		if filepath.Ext(name) == ".sh" {
			perm = 0o755
		}
		if err := os.WriteFile(path, []byte(content), perm); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("Add(%s) failed: %v", name, err)
		}
	}
	for name, target := range links {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.Symlink(target, path); err != nil {
			t.Fatalf("Symlink failed: %v", err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("Add(%s) failed: %v", name, err)
		}
	}
	return dir, repo
}

func TestOpen_NotRepository(t *testing.T) {
	_, err := Open(t.TempDir())
	if !errors.Is(err, types.ErrNotRepository) {
		t.Errorf("expected ErrNotRepository, got: %v", err)
	}
}

func TestOpen_DetectsParent(t *testing.T) {
	dir, _ := initRepo(t, map[string]string{"sub/file.txt": "x"}, nil)

	r, err := Open(filepath.Join(dir, "sub"))
	if err != nil {
		t.Fatalf("Open from subdirectory failed: %v", err)
	}
	entries, err := r.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "sub/file.txt" {
		t.Errorf("Entries() = %v, want [sub/file.txt]", entries)
	}
}

func TestRepository_Entries(t *testing.T) {
	dir, _ := initRepo(t,
		map[string]string{
			"README.md":      "readme\n",
			"a/b.txt":        "hello",
			"a/run.sh":       "#!/bin/sh\n",
			"a/deep/c/d.txt": "deep",
		},
		map[string]string{"a/link": "b.txt"},
	)

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	entries, err := r.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}

	want := map[string]types.FileMode{
		"README.md":      types.ModeRegular,
		"a/b.txt":        types.ModeRegular,
		"a/run.sh":       types.ModeExecutable,
		"a/deep/c/d.txt": types.ModeRegular,
		"a/link":         types.ModeSymlink,
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(entries), len(want), entries)
	}
	for _, e := range entries {
		mode, ok := want[e.Path]
		if !ok {
			t.Errorf("unexpected entry %s", e.Path)
			continue
		}
		if e.Mode != mode {
			t.Errorf("%s: mode = %s, want %s", e.Path, e.Mode, mode)
		}
		if e.ID.IsZero() {
			t.Errorf("%s: zero object id", e.Path)
		}
	}

	// The index is sorted by path.
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Path >= entries[i].Path {
			t.Errorf("entries out of order: %s before %s", entries[i-1].Path, entries[i].Path)
		}
	}
}

func TestRepository_EntriesStagesAndSubmodules(t *testing.T) {
	dir, repo := initRepo(t, nil, nil)

	base := plumbing.NewHash("1111111111111111111111111111111111111111")
	ours := plumbing.NewHash("2222222222222222222222222222222222222222")
	theirs := plumbing.NewHash("3333333333333333333333333333333333333333")
	sub := plumbing.NewHash("4444444444444444444444444444444444444444")
	plain := plumbing.NewHash("5555555555555555555555555555555555555555")

	idx := &index.Index{
		Version: 2,
		Entries: []*index.Entry{
			{Name: "conflict.txt", Hash: base, Mode: filemode.Regular, Stage: index.AncestorMode},
			{Name: "conflict.txt", Hash: ours, Mode: filemode.Regular, Stage: index.OurMode},
			{Name: "conflict.txt", Hash: theirs, Mode: filemode.Regular, Stage: index.TheirMode},
			{Name: "plain.txt", Hash: plain, Mode: filemode.Regular},
			{Name: "vendor/lib", Hash: sub, Mode: filemode.Submodule},
		},
	}
	if err := repo.Storer.SetIndex(idx); err != nil {
		t.Fatalf("SetIndex failed: %v", err)
	}

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	entries, err := r.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(entries), entries)
	}
	if entries[0].Path != "conflict.txt" || entries[0].ID != types.ObjectID(ours) {
		t.Errorf("conflict entry = %s %s, want ours %s", entries[0].Path, entries[0].ID, ours)
	}
	if entries[1].Path != "plain.txt" || entries[1].ID != types.ObjectID(plain) {
		t.Errorf("plain entry = %s %s", entries[1].Path, entries[1].ID)
	}
}

func TestRepository_FetchAndSize(t *testing.T) {
	dir, _ := initRepo(t,
		map[string]string{"a/b.txt": "hello", "empty": ""},
		map[string]string{"a/link": "b.txt"},
	)

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	entries, err := r.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}

	want := map[string]string{
		"a/b.txt": "hello",
		"a/link":  "b.txt",
		"empty":   "",
	}
	ctx := context.Background()
	for _, e := range entries {
		data, err := r.Fetch(ctx, e.ID)
		if err != nil {
			t.Errorf("Fetch(%s) failed: %v", e.Path, err)
			continue
		}
		if string(data) != want[e.Path] {
			t.Errorf("Fetch(%s) = %q, want %q", e.Path, data, want[e.Path])
		}

		size, err := r.Size(ctx, e.ID)
		if err != nil {
			t.Errorf("Size(%s) failed: %v", e.Path, err)
			continue
		}
		if size != int64(len(want[e.Path])) {
			t.Errorf("Size(%s) = %d, want %d", e.Path, size, len(want[e.Path]))
		}
	}
}

func TestRepository_MissingObject(t *testing.T) {
	dir, _ := initRepo(t, map[string]string{"f": "x"}, nil)

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	missing, err := types.ParseObjectID("deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	if err != nil {
		t.Fatalf("ParseObjectID failed: %v", err)
	}

	ctx := context.Background()
	if _, err := r.Fetch(ctx, missing); !errors.Is(err, types.ErrObjectNotFound) {
		t.Errorf("Fetch: expected ErrObjectNotFound, got: %v", err)
	}
	if _, err := r.Size(ctx, missing); !errors.Is(err, types.ErrObjectNotFound) {
		t.Errorf("Size: expected ErrObjectNotFound, got: %v", err)
	}
}

func TestRepository_FetchCancelled(t *testing.T) {
	dir, _ := initRepo(t, map[string]string{"f": "x"}, nil)

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	entries, err := r.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Fetch(ctx, entries[0].ID); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestRootAttr(t *testing.T) {
	dir := t.TempDir()

	attr, err := RootAttr(dir)
	if err != nil {
		t.Fatalf("RootAttr failed: %v", err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(dir, &st); err != nil {
		t.Fatalf("Lstat failed: %v", err)
	}
	if attr.Uid != st.Uid || attr.Gid != st.Gid {
		t.Errorf("owner = %d:%d, want %d:%d", attr.Uid, attr.Gid, st.Uid, st.Gid)
	}
	if attr.Atime != 0 || attr.Mtime != 0 || attr.Ctime != 0 {
		t.Errorf("expected zero timestamps, got %d/%d/%d", attr.Atime, attr.Mtime, attr.Ctime)
	}

	if _, err := RootAttr(filepath.Join(dir, "missing")); err == nil {
		t.Error("RootAttr on missing path should fail")
	}
}
