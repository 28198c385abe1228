// SPDX-License-Identifier: MPL-2.0

// Package manifest provides the declared-package model for gitpkg: the
// .gitpkg.toml file mapping package names to their remote, ref, subpath and
// destination. Parsing and validation happen here, before the reconciliation
// engine ever runs; the engine consumes an already-validated Manifest.
package manifest

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the manifest file name at the repository root.
const FileName = ".gitpkg.toml"

// Install methods selectable per declaration.
const (
	// InstallAuto prefers a symlink and falls back to a copy when the
	// platform or filesystem rejects symlinks.
	InstallAuto = "auto"
	// InstallLink requires a symlink; installation fails where symlinks are
	// unavailable.
	InstallLink = "link"
	// InstallCopy always materializes a copy with a provenance marker.
	InstallCopy = "copy"
)

// packageNameRegex validates package names: must start with a letter, then
// letters, digits, dots, dashes or underscores.
var packageNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)

// Declaration is a single declared package: where it comes from and where in
// the consumer project its subpath is exposed.
type Declaration struct {
	// Name is the unique, user-chosen package key. Populated from the map key
	// after parsing; not serialized.
	Name string `toml:"-"`

	// Remote is the git URL (or local path) of the source repository.
	Remote string `toml:"remote"`

	// Ref is the branch, tag, or commit to track. Empty means the remote's
	// default branch.
	Ref string `toml:"ref,omitempty"`

	// Subpath is the path inside the source repository to expose. Empty
	// means the repository root.
	Subpath string `toml:"subpath,omitempty"`

	// Destination is the path in the consumer project, relative to the
	// repository root, where the subpath is exposed.
	Destination string `toml:"destination"`

	// UpdatesDisabled excludes this package from bulk `gitpkg update` runs.
	UpdatesDisabled bool `toml:"updates-disabled,omitempty"`

	// Install selects the exposure mechanism: auto (default), link, or copy.
	Install string `toml:"install,omitempty"`
}

// String returns a human-readable representation of the declaration.
func (d Declaration) String() string {
	s := d.Name + " " + d.Remote
	if d.Ref != "" {
		s += "@" + d.Ref
	}
	if d.Subpath != "" {
		s += "#" + d.Subpath
	}
	return s + " -> " + d.Destination
}

// Manifest is the full set of declared packages, keyed by name.
type Manifest struct {
	Packages map[string]Declaration `toml:"packages"`
}

// New creates an empty manifest.
func New() *Manifest {
	return &Manifest{Packages: make(map[string]Declaration)}
}

// Load reads and parses a manifest file. A missing file yields an empty
// manifest, matching the behavior of a repository with no declared packages.
// The returned manifest is validated.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read manifest at %s: %w", path, err)
	}

	return Parse(data, path)
}

// Parse parses manifest content from bytes and validates it.
func Parse(data []byte, path string) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest at %s: %w", path, err)
	}

	if m.Packages == nil {
		m.Packages = make(map[string]Declaration)
	}

	// The map key is the authoritative name.
	for name, decl := range m.Packages {
		decl.Name = name
		m.Packages[name] = decl
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Save writes the manifest to disk, atomically via temp file + rename.
func (m *Manifest) Save(path string) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		return fmt.Errorf("failed to rename manifest: %w", err)
	}

	return nil
}

// Declarations returns all declarations, sorted by name.
func (m *Manifest) Declarations() []Declaration {
	decls := make([]Declaration, 0, len(m.Packages))
	for name, decl := range m.Packages {
		decl.Name = name
		decls = append(decls, decl)
	}
	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls
}

// Get returns the declaration for a package name, if present.
func (m *Manifest) Get(name string) (Declaration, bool) {
	decl, ok := m.Packages[name]
	if ok {
		decl.Name = name
	}
	return decl, ok
}

// Add inserts a new declaration. Adding a name that already exists is a
// ManifestError; use Set to overwrite an existing declaration.
func (m *Manifest) Add(decl Declaration) error {
	if _, exists := m.Packages[decl.Name]; exists {
		return &Error{
			Package: decl.Name,
			Reason:  fmt.Sprintf("package %q is already declared", decl.Name),
		}
	}
	return m.Set(decl)
}

// Set inserts or replaces a declaration, re-validating the manifest. On
// validation failure the manifest is left unchanged.
func (m *Manifest) Set(decl Declaration) error {
	prev, existed := m.Packages[decl.Name]
	m.Packages[decl.Name] = decl

	if err := m.Validate(); err != nil {
		if existed {
			m.Packages[decl.Name] = prev
		} else {
			delete(m.Packages, decl.Name)
		}
		return err
	}

	return nil
}

// Remove drops a declaration by name. Removing an unknown name is a
// ManifestError.
func (m *Manifest) Remove(name string) error {
	if _, ok := m.Packages[name]; !ok {
		return &Error{
			Package: name,
			Reason:  fmt.Sprintf("package %q is not declared", name),
		}
	}
	delete(m.Packages, name)
	return nil
}

// Validate checks manifest-level invariants: well-formed names and fields,
// and non-overlapping destinations. Returns a *Error (the manifest error
// taxonomy) on the first violation found; nothing has been mutated on disk
// when this fails.
func (m *Manifest) Validate() error {
	// destination -> owning package, for collision detection
	claimed := make(map[string]string, len(m.Packages))

	for name, decl := range m.Packages {
		if err := ValidateName(name); err != nil {
			return err
		}

		if decl.Remote == "" {
			return &Error{Package: name, Reason: "remote is required"}
		}

		if decl.Destination == "" {
			return &Error{Package: name, Reason: "destination is required"}
		}

		dest := NormalizePath(decl.Destination)
		if dest == "" || dest == "." || strings.HasPrefix(dest, "..") || path.IsAbs(dest) {
			return &Error{
				Package: name,
				Reason:  fmt.Sprintf("destination %q must be a relative path inside the repository", decl.Destination),
			}
		}

		if decl.Subpath != "" {
			sub := NormalizePath(decl.Subpath)
			if strings.HasPrefix(sub, "..") || path.IsAbs(sub) {
				return &Error{
					Package: name,
					Reason:  fmt.Sprintf("subpath %q must stay inside the source repository", decl.Subpath),
				}
			}
		}

		switch decl.Install {
		case "", InstallAuto, InstallLink, InstallCopy:
		default:
			return &Error{
				Package: name,
				Reason:  fmt.Sprintf("install method %q is not one of auto, link, copy", decl.Install),
			}
		}

		if owner, taken := claimed[dest]; taken {
			return &Error{
				Package: name,
				Reason:  fmt.Sprintf("destination %q is already claimed by package %q", decl.Destination, owner),
			}
		}
		claimed[dest] = name
	}

	// Nested destinations are ambiguous: exposing one package under another
	// package's destination would let a single sync fight over one subtree.
	for name, decl := range m.Packages {
		dest := NormalizePath(decl.Destination)
		for other, otherDecl := range m.Packages {
			if other == name {
				continue
			}
			otherDest := NormalizePath(otherDecl.Destination)
			if strings.HasPrefix(dest+"/", otherDest+"/") {
				return &Error{
					Package: name,
					Reason: fmt.Sprintf("destination %q nests inside destination %q of package %q",
						decl.Destination, otherDecl.Destination, other),
				}
			}
		}
	}

	return nil
}

// ValidateName checks if a package name is valid.
func ValidateName(name string) error {
	if name == "" {
		return &Error{Reason: "package name cannot be empty"}
	}
	if !packageNameRegex.MatchString(name) {
		return &Error{
			Package: name,
			Reason: fmt.Sprintf("package name %q is invalid: must start with a letter and contain "+
				"only letters, digits, dots, dashes and underscores", name),
		}
	}
	return nil
}

// NormalizePath cleans a manifest path to slash-separated form for
// comparison. All destinations and subpaths are stored slash-separated.
func NormalizePath(p string) string {
	return path.Clean(filepath.ToSlash(p))
}

// NameFromRemote derives a default package name from a remote URL or local
// path, e.g. "https://github.com/user/lib.git" -> "lib".
func NameFromRemote(remote string) string {
	name := strings.TrimSuffix(remote, "/")
	if idx := strings.LastIndexAny(name, "/:"); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimSuffix(name, ".git")
}
