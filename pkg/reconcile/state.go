// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"fmt"
	"sort"

	"gitpkg/pkg/expose"
	"gitpkg/pkg/manifest"
	"gitpkg/pkg/submodule"
)

// ActualState is the observed repository state a plan is computed against.
type ActualState struct {
	// Submodules maps package name to its submodule record, covering every
	// managed entry in .gitmodules.
	Submodules map[string]submodule.Record

	// Links maps destination to the managed exposure found there. Only
	// managed exposures appear; unmanaged occupants surface as warnings.
	Links map[string]expose.Link

	// Unmanaged marks destinations occupied by content gitpkg does not own.
	// Such destinations are reported, never touched.
	Unmanaged map[string]bool

	// Warnings are non-fatal observations, such as dangling links or
	// unmanaged files at a declared destination.
	Warnings []string
}

// Prober gathers the actual state from the repository.
type Prober struct {
	gateway  submodule.Gateway
	linker   *expose.Linker
	registry *expose.Registry
}

// NewProber creates a prober over the given gateway, linker and registry.
func NewProber(gateway submodule.Gateway, linker *expose.Linker, registry *expose.Registry) *Prober {
	return &Prober{gateway: gateway, linker: linker, registry: registry}
}

// Probe reads submodule records and inspects every destination that is
// either declared in the manifest or recorded in the exposure registry.
// Copied exposures are checked against their store tree and flagged stale
// when the content has drifted.
func (p *Prober) Probe(declared []manifest.Declaration) (*ActualState, error) {
	state := &ActualState{
		Submodules: make(map[string]submodule.Record),
		Links:      make(map[string]expose.Link),
		Unmanaged:  make(map[string]bool),
	}

	records, err := p.gateway.ReadSubmodules()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if !rec.Managed {
			continue
		}
		state.Submodules[rec.Name] = rec
	}

	for _, dest := range p.destinations(declared) {
		link, class, err := p.linker.Inspect(dest)
		if err != nil {
			return nil, err
		}

		switch class {
		case expose.ClassManaged:
			if link.Copied {
				stale, err := p.linker.CopyStale(*link)
				if err != nil {
					return nil, err
				}
				link.Stale = stale
			}
			state.Links[dest] = *link
		case expose.ClassDangling:
			state.Links[dest] = *link
			state.Warnings = append(state.Warnings,
				fmt.Sprintf("destination %s is a dangling link (target removed)", dest))
		case expose.ClassUnmanaged:
			state.Unmanaged[dest] = true
			state.Warnings = append(state.Warnings,
				fmt.Sprintf("destination %s exists but is not managed by gitpkg", dest))
		}
	}

	return state, nil
}

// destinations merges declared destinations with previously-known ones from
// the registry, deduplicated and sorted for deterministic probing.
func (p *Prober) destinations(declared []manifest.Declaration) []string {
	seen := make(map[string]struct{})
	for _, decl := range declared {
		seen[manifest.NormalizePath(decl.Destination)] = struct{}{}
	}
	if p.registry != nil {
		for _, dest := range p.registry.Destinations() {
			seen[manifest.NormalizePath(dest)] = struct{}{}
		}
	}

	dests := make([]string, 0, len(seen))
	for dest := range seen {
		dests = append(dests, dest)
	}
	sort.Strings(dests)

	return dests
}
