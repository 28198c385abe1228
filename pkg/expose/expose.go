// SPDX-License-Identifier: MPL-2.0

// Package expose materializes a subpath of a hidden store checkout at a
// destination path in the consumer project. A symlink is preferred; where
// symlinks are unavailable the subpath is copied and tagged with a
// provenance marker so a later probe can tell the copy apart from user
// content and detect staleness. The linker never deletes anything it cannot
// prove it created.
package expose

import (
	"fmt"
	"os"
	"path/filepath"

	"gitpkg/pkg/manifest"
	"gitpkg/pkg/submodule"

	"github.com/charmbracelet/log"
)

// Link is the actual state of one exposure: a destination and what it
// resolves to.
type Link struct {
	// Destination is the exposed path, relative to the repository root,
	// slash-separated.
	Destination string

	// Target is the path the destination resolves to, relative to the
	// repository root, slash-separated. Empty for dangling links.
	Target string

	// Copied reports whether the exposure is a marker-tagged copy rather
	// than a symlink.
	Copied bool

	// Marker holds the provenance of a copied exposure, nil for symlinks.
	Marker *Marker

	// Dangling reports a symlink whose target no longer exists.
	Dangling bool

	// Stale reports a copied exposure whose content no longer matches the
	// store tree it was copied from. Set by the state prober.
	Stale bool
}

// Class is the probe classification of a destination path.
type Class int

const (
	// ClassNone means the destination does not exist.
	ClassNone Class = iota
	// ClassManaged means a gitpkg-owned symlink or marker-tagged copy.
	ClassManaged
	// ClassDangling means a managed symlink whose target is gone.
	ClassDangling
	// ClassUnmanaged means user content the engine must not touch.
	ClassUnmanaged
)

// Linker creates and removes exposures beneath a repository root.
type Linker struct {
	root string
}

// NewLinker returns a linker for the repository at root.
func NewLinker(root string) *Linker {
	return &Linker{root: root}
}

// FilesystemError reports a filesystem-level failure or refusal: permission
// problems, a missing subpath, or a destination occupied by unmanaged
// content.
type FilesystemError struct {
	// Path is the destination or target involved.
	Path string

	// Op is the operation that failed.
	Op string

	// Cause is the underlying error, nil for pure refusals.
	Cause error
}

// Error implements the error interface.
func (e *FilesystemError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("filesystem error: %s %s: %v", e.Op, e.Path, e.Cause)
	}
	return fmt.Sprintf("filesystem error: %s %s", e.Op, e.Path)
}

// Unwrap returns the underlying cause.
func (e *FilesystemError) Unwrap() error { return e.Cause }

// Create materializes target (repo-relative, inside the store) at
// destination according to the install method. Any existing managed exposure
// at destination is replaced; unmanaged content is refused. Returns the link
// actually created.
func (l *Linker) Create(target, destination string, meta Marker, method string) (*Link, error) {
	targetAbs := l.abs(target)
	destAbs := l.abs(destination)

	info, err := os.Stat(targetAbs)
	if err != nil {
		return nil, &FilesystemError{Op: "resolve subpath", Path: target, Cause: err}
	}
	if !info.IsDir() {
		return nil, &FilesystemError{Op: "resolve subpath", Path: target,
			Cause: fmt.Errorf("exposure target must be a directory")}
	}

	if err := l.RemoveManaged(destination); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
		return nil, &FilesystemError{Op: "create parent directory", Path: destination, Cause: err}
	}

	link := &Link{Destination: destination, Target: target}

	switch method {
	case manifest.InstallCopy:
		if err := l.materializeCopy(targetAbs, destAbs, &meta); err != nil {
			return nil, err
		}
		link.Copied = true
		link.Marker = &meta
	case manifest.InstallLink:
		if err := l.symlink(targetAbs, destAbs); err != nil {
			return nil, err
		}
	default: // manifest.InstallAuto
		if err := l.symlink(targetAbs, destAbs); err != nil {
			log.Debug("symlink unavailable, falling back to copy",
				"destination", destination, "err", err)
			if copyErr := l.materializeCopy(targetAbs, destAbs, &meta); copyErr != nil {
				return nil, copyErr
			}
			link.Copied = true
			link.Marker = &meta
		}
	}

	return link, nil
}

// RemoveManaged removes the exposure at destination. A missing destination
// is a no-op. A destination that is neither a store-pointing symlink nor a
// marker-tagged copy is refused with a FilesystemError and left untouched.
func (l *Linker) RemoveManaged(destination string) error {
	link, class, err := l.Inspect(destination)
	if err != nil {
		return err
	}

	destAbs := l.abs(destination)

	switch class {
	case ClassNone:
		return nil
	case ClassManaged, ClassDangling:
		if link != nil && link.Copied {
			if err := os.RemoveAll(destAbs); err != nil {
				return &FilesystemError{Op: "remove copy", Path: destination, Cause: err}
			}
			return nil
		}
		if err := os.Remove(destAbs); err != nil {
			return &FilesystemError{Op: "remove link", Path: destination, Cause: err}
		}
		return nil
	default:
		return &FilesystemError{Op: "remove", Path: destination,
			Cause: fmt.Errorf("destination is not managed by gitpkg, refusing to delete")}
	}
}

// Inspect classifies a destination path and, for managed exposures, returns
// the link state.
func (l *Linker) Inspect(destination string) (*Link, Class, error) {
	destAbs := l.abs(destination)

	info, err := os.Lstat(destAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ClassNone, nil
		}
		return nil, ClassNone, &FilesystemError{Op: "stat", Path: destination, Cause: err}
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return l.inspectSymlink(destination, destAbs)
	}

	if info.IsDir() {
		marker, err := ReadMarker(destAbs)
		if err != nil {
			return nil, ClassNone, err
		}
		if marker != nil {
			link := &Link{
				Destination: destination,
				Target:      marker.Target,
				Copied:      true,
				Marker:      marker,
			}
			return link, ClassManaged, nil
		}
	}

	return nil, ClassUnmanaged, nil
}

// ScanManagedLinks classifies every candidate destination and returns the
// managed links found plus warnings for dangling and unmanaged entries.
// Unmanaged content is only ever reported, never deleted.
func (l *Linker) ScanManagedLinks(destinations []string) ([]Link, []string, error) {
	var (
		links    []Link
		warnings []string
	)

	for _, dest := range destinations {
		link, class, err := l.Inspect(dest)
		if err != nil {
			return nil, nil, err
		}

		switch class {
		case ClassManaged:
			links = append(links, *link)
		case ClassDangling:
			links = append(links, *link)
			warnings = append(warnings,
				fmt.Sprintf("destination %s is a dangling link (target removed)", dest))
		case ClassUnmanaged:
			warnings = append(warnings,
				fmt.Sprintf("destination %s exists but is not managed by gitpkg", dest))
		}
	}

	return links, warnings, nil
}

// CopyStale reports whether a copied exposure no longer matches the store
// content it was copied from, by recomputing the content hash of the
// current target tree.
func (l *Linker) CopyStale(link Link) (bool, error) {
	if !link.Copied || link.Marker == nil {
		return false, nil
	}

	targetAbs := l.abs(link.Target)
	if _, err := os.Stat(targetAbs); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, &FilesystemError{Op: "stat", Path: link.Target, Cause: err}
	}

	hash, err := TreeHash(targetAbs)
	if err != nil {
		return false, err
	}

	return hash != link.Marker.ContentHash, nil
}

func (l *Linker) inspectSymlink(destination, destAbs string) (*Link, Class, error) {
	rawTarget, err := os.Readlink(destAbs)
	if err != nil {
		return nil, ClassNone, &FilesystemError{Op: "readlink", Path: destination, Cause: err}
	}

	targetAbs := rawTarget
	if !filepath.IsAbs(targetAbs) {
		targetAbs = filepath.Join(filepath.Dir(destAbs), rawTarget)
	}
	targetAbs = filepath.Clean(targetAbs)

	rel, err := filepath.Rel(l.root, targetAbs)
	if err != nil || !submodule.IsStorePath(filepath.ToSlash(rel)) {
		// A symlink pointing outside the store was not created by gitpkg.
		return nil, ClassUnmanaged, nil
	}

	link := &Link{
		Destination: destination,
		Target:      filepath.ToSlash(rel),
	}

	if _, err := os.Stat(targetAbs); err != nil {
		link.Dangling = true
		return link, ClassDangling, nil
	}

	return link, ClassManaged, nil
}

// symlink creates a relative symlink so the repository stays relocatable.
func (l *Linker) symlink(targetAbs, destAbs string) error {
	rel, err := filepath.Rel(filepath.Dir(destAbs), targetAbs)
	if err != nil {
		return &FilesystemError{Op: "create link", Path: destAbs, Cause: err}
	}

	if err := os.Symlink(rel, destAbs); err != nil {
		return &FilesystemError{Op: "create link", Path: destAbs, Cause: err}
	}

	return nil
}

// materializeCopy copies the target tree to the destination and writes the
// provenance marker. The marker is written last: a crash mid-copy leaves an
// unmanaged directory, which the next run surfaces as a warning instead of
// reusing a torn copy.
func (l *Linker) materializeCopy(targetAbs, destAbs string, meta *Marker) error {
	hash, err := TreeHash(targetAbs)
	if err != nil {
		return err
	}
	meta.ContentHash = hash

	if err := copyTree(targetAbs, destAbs); err != nil {
		return &FilesystemError{Op: "copy", Path: destAbs, Cause: err}
	}

	if err := WriteMarker(destAbs, *meta); err != nil {
		return err
	}

	return nil
}

func (l *Linker) abs(repoRel string) string {
	return filepath.Join(l.root, filepath.FromSlash(repoRel))
}

// copyTree recursively copies a directory, skipping symlinks and nested .git
// directories.
func copyTree(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dst, srcInfo.Mode()); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Name() == ".git" {
			continue
		}

		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if entry.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
		} else {
			if err := copyFile(srcPath, dstPath, info.Mode()); err != nil {
				return err
			}
		}
	}

	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, mode)
}
