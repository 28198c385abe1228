// SPDX-License-Identifier: MPL-2.0

package expose

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// RegistryFileName is the exposure registry file inside the hidden store.
const RegistryFileName = "exposures.toml"

// Registry records which destination each package was last exposed at. It
// lives inside the hidden store, so it is repository state rather than
// engine memory: the prober reads it to find previously-known destinations
// that the current manifest no longer mentions (e.g. after a destination was
// edited), so stale exposures can still be cleaned up.
type Registry struct {
	// Generated is when the registry was last written.
	Generated time.Time `toml:"generated"`

	// Exposures maps package name to its destination, relative to the
	// repository root.
	Exposures map[string]string `toml:"exposures"`
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{Exposures: make(map[string]string)}
}

// LoadRegistry loads the registry from the given path. A missing file yields
// an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("failed to read exposure registry: %w", err)
	}

	var r Registry
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse exposure registry at %s: %w", path, err)
	}
	if r.Exposures == nil {
		r.Exposures = make(map[string]string)
	}

	return &r, nil
}

// Save writes the registry to disk, atomically via temp file + rename.
func (r *Registry) Save(path string) error {
	r.Generated = time.Now().UTC()

	data, err := toml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode exposure registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write exposure registry: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		return fmt.Errorf("failed to rename exposure registry: %w", err)
	}

	return nil
}

// Destinations returns all recorded destinations.
func (r *Registry) Destinations() []string {
	dests := make([]string, 0, len(r.Exposures))
	for _, dest := range r.Exposures {
		dests = append(dests, dest)
	}
	return dests
}
