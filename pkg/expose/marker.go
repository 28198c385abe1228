// SPDX-License-Identifier: MPL-2.0

package expose

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// MarkerFileName is the provenance sidecar written inside a copied exposure.
const MarkerFileName = ".gitpkg-copy.toml"

// Marker records where a copied exposure came from. Its presence is what
// distinguishes a gitpkg-managed copy from user content; its content is what
// lets a probe detect staleness against an updated submodule commit.
type Marker struct {
	// Package is the owning package name.
	Package string `toml:"package"`

	// Commit is the store commit the copy was taken from.
	Commit string `toml:"commit"`

	// Target is the copied store path, relative to the repository root.
	Target string `toml:"target"`

	// Subpath is the exposed path inside the source repository, empty for
	// the repository root.
	Subpath string `toml:"subpath,omitempty"`

	// ContentHash is the SHA3-256 tree hash of the copied content.
	ContentHash string `toml:"content-hash"`

	// Created is when the copy was materialized.
	Created time.Time `toml:"created"`
}

// WriteMarker writes the provenance marker into a copied destination.
func WriteMarker(destAbs string, m Marker) error {
	if m.Created.IsZero() {
		m.Created = time.Now().UTC()
	}

	data, err := toml.Marshal(m)
	if err != nil {
		return &FilesystemError{Op: "encode marker", Path: destAbs, Cause: err}
	}

	markerPath := filepath.Join(destAbs, MarkerFileName)
	if err := os.WriteFile(markerPath, data, 0o644); err != nil {
		return &FilesystemError{Op: "write marker", Path: markerPath, Cause: err}
	}

	return nil
}

// ReadMarker reads the provenance marker from a directory. Returns nil with
// no error when the directory carries no marker (i.e. it is not a managed
// copy). A present but unparsable marker is an error: the directory claims
// to be managed but its provenance cannot be trusted.
func ReadMarker(destAbs string) (*Marker, error) {
	markerPath := filepath.Join(destAbs, MarkerFileName)

	data, err := os.ReadFile(markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &FilesystemError{Op: "read marker", Path: markerPath, Cause: err}
	}

	var m Marker
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, &FilesystemError{Op: "parse marker", Path: markerPath,
			Cause: fmt.Errorf("corrupt provenance marker: %w", err)}
	}

	return &m, nil
}
