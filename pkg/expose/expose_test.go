// SPDX-License-Identifier: MPL-2.0

package expose

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"testing"

	"gitpkg/pkg/manifest"
	"gitpkg/pkg/submodule"
)

// newStoreTree creates a fake store checkout under root and returns its
// repo-relative path.
func newStoreTree(t *testing.T, root, pkg string, files map[string]string) string {
	t.Helper()

	storePath := submodule.StorePathFor(pkg)
	for name, content := range files {
		full := filepath.Join(root, storePath, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return storePath
}

func TestCreateSymlink(t *testing.T) {
	root := t.TempDir()
	linker := NewLinker(root)
	storePath := newStoreTree(t, root, "mylib", map[string]string{"lib.go": "package lib\n"})

	link, err := linker.Create(storePath, "vendor/mylib", Marker{Package: "mylib"}, manifest.InstallLink)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if link.Copied {
		t.Error("Copied = true, want symlink")
	}

	resolved, err := os.Readlink(filepath.Join(root, "vendor/mylib"))
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if filepath.IsAbs(resolved) {
		t.Errorf("symlink target %q is absolute, want relative", resolved)
	}

	content, err := os.ReadFile(filepath.Join(root, "vendor/mylib", "lib.go"))
	if err != nil {
		t.Fatalf("reading through link: %v", err)
	}
	if string(content) != "package lib\n" {
		t.Errorf("content through link = %q", content)
	}
}

func TestCreateCopy(t *testing.T) {
	root := t.TempDir()
	linker := NewLinker(root)
	storePath := newStoreTree(t, root, "mylib", map[string]string{
		"lib.go":     "package lib\n",
		"sub/x.go":   "package sub\n",
		".git/HEAD":  "ref: refs/heads/main\n",
		"doc/README": "docs\n",
	})

	link, err := linker.Create(storePath, "vendor/mylib",
		Marker{Package: "mylib", Commit: "abc123", Target: storePath}, manifest.InstallCopy)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !link.Copied {
		t.Fatal("Copied = false, want copy")
	}
	if link.Marker == nil || link.Marker.ContentHash == "" {
		t.Fatal("copy marker missing content hash")
	}

	if _, err := os.Stat(filepath.Join(root, "vendor/mylib", "sub/x.go")); err != nil {
		t.Errorf("copied file missing: %v", err)
	}
	// Nested .git directories stay in the store.
	if _, err := os.Stat(filepath.Join(root, "vendor/mylib", ".git")); !os.IsNotExist(err) {
		t.Error(".git directory was copied into the exposure")
	}

	marker, err := ReadMarker(filepath.Join(root, "vendor/mylib"))
	if err != nil {
		t.Fatalf("ReadMarker() error = %v", err)
	}
	if marker == nil {
		t.Fatal("expected provenance marker in copy")
	}
	if marker.Package != "mylib" || marker.Commit != "abc123" {
		t.Errorf("marker = %+v", marker)
	}
}

func TestCreateRefusesFileTarget(t *testing.T) {
	root := t.TempDir()
	linker := NewLinker(root)
	storePath := newStoreTree(t, root, "mylib", map[string]string{"lib.go": ""})

	_, err := linker.Create(path.Join(storePath, "lib.go"), "vendor/lib", Marker{}, manifest.InstallLink)
	if err == nil {
		t.Fatal("expected error for non-directory target")
	}
	var fsErr *FilesystemError
	if !errors.As(err, &fsErr) {
		t.Errorf("error type = %T, want *FilesystemError", err)
	}
}

func TestRemoveManaged(t *testing.T) {
	t.Run("missing destination is a no-op", func(t *testing.T) {
		linker := NewLinker(t.TempDir())
		if err := linker.RemoveManaged("vendor/nothing"); err != nil {
			t.Fatalf("RemoveManaged() error = %v", err)
		}
	})

	t.Run("removes managed symlink", func(t *testing.T) {
		root := t.TempDir()
		linker := NewLinker(root)
		storePath := newStoreTree(t, root, "mylib", map[string]string{"f": "x"})
		if _, err := linker.Create(storePath, "vendor/mylib", Marker{}, manifest.InstallLink); err != nil {
			t.Fatal(err)
		}

		if err := linker.RemoveManaged("vendor/mylib"); err != nil {
			t.Fatalf("RemoveManaged() error = %v", err)
		}
		if _, err := os.Lstat(filepath.Join(root, "vendor/mylib")); !os.IsNotExist(err) {
			t.Error("link still present after removal")
		}
		// The store tree must survive link removal.
		if _, err := os.Stat(filepath.Join(root, storePath, "f")); err != nil {
			t.Errorf("store tree damaged by link removal: %v", err)
		}
	})

	t.Run("removes managed copy", func(t *testing.T) {
		root := t.TempDir()
		linker := NewLinker(root)
		storePath := newStoreTree(t, root, "mylib", map[string]string{"f": "x"})
		if _, err := linker.Create(storePath, "vendor/mylib", Marker{Package: "mylib"}, manifest.InstallCopy); err != nil {
			t.Fatal(err)
		}

		if err := linker.RemoveManaged("vendor/mylib"); err != nil {
			t.Fatalf("RemoveManaged() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "vendor/mylib")); !os.IsNotExist(err) {
			t.Error("copy still present after removal")
		}
	})

	t.Run("refuses unmanaged directory", func(t *testing.T) {
		root := t.TempDir()
		linker := NewLinker(root)
		if err := os.MkdirAll(filepath.Join(root, "vendor/hand-written"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(root, "vendor/hand-written/keep.go"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}

		err := linker.RemoveManaged("vendor/hand-written")
		if err == nil {
			t.Fatal("expected refusal for unmanaged directory")
		}
		var fsErr *FilesystemError
		if !errors.As(err, &fsErr) {
			t.Fatalf("error type = %T, want *FilesystemError", err)
		}
		if _, statErr := os.Stat(filepath.Join(root, "vendor/hand-written/keep.go")); statErr != nil {
			t.Errorf("unmanaged content was touched: %v", statErr)
		}
	})

	t.Run("refuses unmanaged symlink", func(t *testing.T) {
		root := t.TempDir()
		linker := NewLinker(root)
		if err := os.MkdirAll(filepath.Join(root, "elsewhere"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.MkdirAll(filepath.Join(root, "vendor"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.Symlink(filepath.Join(root, "elsewhere"), filepath.Join(root, "vendor/other")); err != nil {
			t.Fatal(err)
		}

		if err := linker.RemoveManaged("vendor/other"); err == nil {
			t.Fatal("expected refusal for symlink pointing outside the store")
		}
	})
}

func TestInspect(t *testing.T) {
	root := t.TempDir()
	linker := NewLinker(root)
	storePath := newStoreTree(t, root, "mylib", map[string]string{"f": "x"})

	t.Run("absent", func(t *testing.T) {
		link, class, err := linker.Inspect("vendor/none")
		if err != nil {
			t.Fatal(err)
		}
		if class != ClassNone || link != nil {
			t.Errorf("class = %v, link = %v", class, link)
		}
	})

	t.Run("managed symlink", func(t *testing.T) {
		if _, err := linker.Create(storePath, "vendor/mylib", Marker{}, manifest.InstallLink); err != nil {
			t.Fatal(err)
		}
		link, class, err := linker.Inspect("vendor/mylib")
		if err != nil {
			t.Fatal(err)
		}
		if class != ClassManaged {
			t.Fatalf("class = %v, want ClassManaged", class)
		}
		if manifest.NormalizePath(link.Target) != storePath {
			t.Errorf("Target = %q, want %q", link.Target, storePath)
		}
	})

	t.Run("dangling symlink", func(t *testing.T) {
		gone := submodule.StorePathFor("gone")
		if err := os.MkdirAll(filepath.Join(root, gone), 0o755); err != nil {
			t.Fatal(err)
		}
		if _, err := linker.Create(gone, "vendor/gone", Marker{}, manifest.InstallLink); err != nil {
			t.Fatal(err)
		}
		if err := os.RemoveAll(filepath.Join(root, gone)); err != nil {
			t.Fatal(err)
		}

		link, class, err := linker.Inspect("vendor/gone")
		if err != nil {
			t.Fatal(err)
		}
		if class != ClassDangling {
			t.Fatalf("class = %v, want ClassDangling", class)
		}
		if !link.Dangling {
			t.Error("Dangling = false")
		}
	})

	t.Run("unmanaged directory", func(t *testing.T) {
		if err := os.MkdirAll(filepath.Join(root, "vendor/byhand"), 0o755); err != nil {
			t.Fatal(err)
		}
		_, class, err := linker.Inspect("vendor/byhand")
		if err != nil {
			t.Fatal(err)
		}
		if class != ClassUnmanaged {
			t.Errorf("class = %v, want ClassUnmanaged", class)
		}
	})
}

func TestCopyStale(t *testing.T) {
	root := t.TempDir()
	linker := NewLinker(root)
	storePath := newStoreTree(t, root, "mylib", map[string]string{"f": "v1"})

	link, err := linker.Create(storePath, "vendor/mylib", Marker{Package: "mylib", Target: storePath}, manifest.InstallCopy)
	if err != nil {
		t.Fatal(err)
	}

	stale, err := linker.CopyStale(*link)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Error("fresh copy reported stale")
	}

	// Advance the store content, as a ref update would.
	if err := os.WriteFile(filepath.Join(root, storePath, "f"), []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale, err = linker.CopyStale(*link)
	if err != nil {
		t.Fatal(err)
	}
	if !stale {
		t.Error("outdated copy not reported stale")
	}
}

func TestTreeHash(t *testing.T) {
	root := t.TempDir()
	write := func(name, content string) {
		full := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("a.txt", "one")
	write("sub/b.txt", "two")

	h1, err := TreeHash(root)
	if err != nil {
		t.Fatal(err)
	}

	// Hash covers content.
	write("a.txt", "changed")
	h2, err := TreeHash(root)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("hash unchanged after content edit")
	}

	// The provenance marker itself is excluded.
	write("a.txt", "one")
	write(MarkerFileName, "ignored")
	h3, err := TreeHash(root)
	if err != nil {
		t.Fatal(err)
	}
	if h3 != h1 {
		t.Error("marker file affected the tree hash")
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	regPath := filepath.Join(dir, ".gitpkgs", RegistryFileName)

	r, err := LoadRegistry(regPath)
	if err != nil {
		t.Fatalf("LoadRegistry() missing file error = %v", err)
	}
	if len(r.Exposures) != 0 {
		t.Fatalf("fresh registry has %d entries", len(r.Exposures))
	}

	r.Exposures["mylib"] = "vendor/mylib"
	if err := r.Save(regPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadRegistry(regPath)
	if err != nil {
		t.Fatalf("LoadRegistry() error = %v", err)
	}
	if loaded.Exposures["mylib"] != "vendor/mylib" {
		t.Errorf("Exposures = %v", loaded.Exposures)
	}
	if dests := loaded.Destinations(); len(dests) != 1 || dests[0] != "vendor/mylib" {
		t.Errorf("Destinations() = %v", dests)
	}
}
