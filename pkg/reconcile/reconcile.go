// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"path"
	"sort"
	"strings"

	"gitpkg/pkg/expose"
	"gitpkg/pkg/manifest"
	"gitpkg/pkg/submodule"
)

// Reconcile computes the plan that brings the actual state in line with the
// declared packages. It never touches the repository; all observation
// happens in the prober and all mutation in the executor.
//
// The plan is ordered in phases: removals first, then ref updates, then
// additions, then link repairs. Within each phase operations are sorted by
// package name so repeated runs over the same state produce the same plan.
func Reconcile(declared []manifest.Declaration, actual *ActualState) (*Plan, error) {
	plan := &Plan{Warnings: actual.Warnings}

	declaredByName := make(map[string]manifest.Declaration, len(declared))
	for _, decl := range declared {
		declaredByName[decl.Name] = decl
	}

	// A remote change cannot be reconciled in place: the store checkout's
	// history belongs to the old remote. Surface it as a manifest problem
	// before planning anything.
	for _, decl := range sortedDeclarations(declared) {
		rec, ok := actual.Submodules[decl.Name]
		if ok && rec.Remote != "" && rec.Remote != decl.Remote {
			return nil, &manifest.Error{
				Package: decl.Name,
				Reason: "remote URL changed from " + rec.Remote + " to " + decl.Remote +
					"; remove the package and add it again",
			}
		}
	}

	owners := linkOwners(actual)

	// Phase 1: remove packages that are registered but no longer declared,
	// links first so their store targets disappear after the exposure does.
	for _, name := range sortedNames(actual.Submodules) {
		if _, ok := declaredByName[name]; ok {
			continue
		}
		rec := actual.Submodules[name]
		for _, dest := range ownedDestinations(owners, name) {
			plan.append(Operation{
				Kind:        RemoveLink,
				Package:     name,
				Destination: dest,
				Reason:      "package removed from manifest",
			})
		}
		plan.append(Operation{
			Kind:      RemoveSubmodule,
			Package:   name,
			StorePath: rec.StorePath,
			Reason:    "package removed from manifest",
		})
	}

	// Orphaned exposures: managed links whose owning package either no
	// longer exists or has moved to a different destination.
	for _, dest := range sortedLinkDestinations(actual.Links) {
		owner := owners[dest]
		if planned(plan, RemoveLink, dest) {
			continue
		}
		decl, ok := declaredByName[owner]
		if owner == "" {
			plan.append(Operation{
				Kind:        RemoveLink,
				Destination: dest,
				Reason:      "exposure has no owning package",
			})
			continue
		}
		if !ok {
			if _, registered := actual.Submodules[owner]; registered {
				continue // handled in phase 1
			}
			plan.append(Operation{
				Kind:        RemoveLink,
				Package:     owner,
				Destination: dest,
				Reason:      "package removed from manifest",
			})
			continue
		}
		if manifest.NormalizePath(decl.Destination) != dest {
			plan.append(Operation{
				Kind:        RemoveLink,
				Package:     owner,
				Destination: dest,
				Reason:      "destination changed to " + decl.Destination,
			})
		}
	}

	// Phase 2: move kept checkouts whose declared ref no longer matches.
	updated := make(map[string]bool)
	for _, decl := range sortedDeclarations(declared) {
		rec, ok := actual.Submodules[decl.Name]
		if !ok || !rec.Initialized {
			continue
		}
		if refSatisfied(decl, rec) {
			continue
		}
		updated[decl.Name] = true
		plan.append(Operation{
			Kind:      UpdateRef,
			Package:   decl.Name,
			Remote:    decl.Remote,
			Ref:       decl.Ref,
			StorePath: rec.StorePath,
			Reason:    "declared ref changed",
		})
	}

	// Phase 3: register and expose packages that are new or whose store
	// checkout is missing (fresh clone of the host repository).
	for _, decl := range sortedDeclarations(declared) {
		rec, registered := actual.Submodules[decl.Name]
		if registered && rec.Initialized {
			continue
		}

		storePath := submodule.StorePathFor(decl.Name)
		reason := "package added to manifest"
		if registered {
			storePath = rec.StorePath
			reason = "store checkout missing"
		}

		plan.append(Operation{
			Kind:      AddSubmodule,
			Package:   decl.Name,
			Remote:    decl.Remote,
			Ref:       decl.Ref,
			StorePath: storePath,
			Reason:    reason,
		})
		planLink(plan, CreateLink, decl, storePath, "", reason, actual)
	}

	// Phase 4: repair exposures of kept packages. Staleness of copied
	// exposures is deliberately not repaired in the same run as a ref
	// update: the copy is re-checked against the new checkout on the next
	// invocation, which keeps each run's plan minimal.
	for _, decl := range sortedDeclarations(declared) {
		rec, ok := actual.Submodules[decl.Name]
		if !ok || !rec.Initialized {
			continue // handled in phase 3
		}

		dest := manifest.NormalizePath(decl.Destination)
		target := ExposureTarget(rec.StorePath, decl.Subpath)
		link, exists := actual.Links[dest]

		switch {
		case !exists:
			if actual.Unmanaged[dest] {
				continue // already surfaced as a warning, never overwritten
			}
			planLink(plan, CreateLink, decl, rec.StorePath, rec.ResolvedCommit, "exposure missing", actual)
		case link.Dangling:
			planLink(plan, RecreateLink, decl, rec.StorePath, rec.ResolvedCommit, "exposure target missing", actual)
		case manifest.NormalizePath(link.Target) != target:
			planLink(plan, RecreateLink, decl, rec.StorePath, rec.ResolvedCommit, "exposure points at wrong target", actual)
		case link.Stale && !updated[decl.Name]:
			planLink(plan, RecreateLink, decl, rec.StorePath, rec.ResolvedCommit, "copied content out of date", actual)
		}
	}

	return plan, nil
}

// ExposureTarget is the store subtree a package exposes, relative to the
// repository root.
func ExposureTarget(storePath, subpath string) string {
	if subpath == "" {
		return manifest.NormalizePath(storePath)
	}
	return manifest.NormalizePath(path.Join(storePath, subpath))
}

func planLink(plan *Plan, kind Kind, decl manifest.Declaration, storePath, commit, reason string, actual *ActualState) {
	dest := manifest.NormalizePath(decl.Destination)
	if actual.Unmanaged[dest] {
		return
	}
	plan.append(Operation{
		Kind:        kind,
		Package:     decl.Name,
		StorePath:   storePath,
		Target:      ExposureTarget(storePath, decl.Subpath),
		Subpath:     decl.Subpath,
		Destination: dest,
		Install:     decl.Install,
		Commit:      commit,
		Reason:      reason,
	})
}

// refSatisfied reports whether the store checkout already matches the
// declared ref. An empty declared ref means the remote's default branch;
// whether that branch has advanced is not checked here, only by update.
func refSatisfied(decl manifest.Declaration, rec submodule.Record) bool {
	if decl.Ref == "" {
		return rec.Ref == ""
	}
	if submodule.IsCommitHash(decl.Ref) {
		return rec.Ref == "" && strings.HasPrefix(rec.ResolvedCommit, decl.Ref)
	}
	return decl.Ref == rec.Ref
}

// linkOwners maps each managed destination to the package owning it. Copied
// exposures carry the owner in their marker; symlinks are attributed by
// matching the link target against store checkout paths.
func linkOwners(actual *ActualState) map[string]string {
	byStorePath := make(map[string]string, len(actual.Submodules))
	for name, rec := range actual.Submodules {
		byStorePath[manifest.NormalizePath(rec.StorePath)] = name
	}

	owners := make(map[string]string, len(actual.Links))
	for dest, link := range actual.Links {
		if link.Marker != nil {
			owners[dest] = link.Marker.Package
			continue
		}
		target := manifest.NormalizePath(link.Target)
		for storePath, name := range byStorePath {
			if target == storePath || strings.HasPrefix(target, storePath+"/") {
				owners[dest] = name
				break
			}
		}
	}

	return owners
}

func ownedDestinations(owners map[string]string, name string) []string {
	var dests []string
	for dest, owner := range owners {
		if owner == name {
			dests = append(dests, dest)
		}
	}
	sort.Strings(dests)
	return dests
}

func planned(plan *Plan, kind Kind, destination string) bool {
	for _, op := range plan.Operations {
		if op.Kind == kind && op.Destination == destination {
			return true
		}
	}
	return false
}

func sortedDeclarations(declared []manifest.Declaration) []manifest.Declaration {
	out := make([]manifest.Declaration, len(declared))
	copy(out, declared)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sortedNames(m map[string]submodule.Record) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedLinkDestinations(m map[string]expose.Link) []string {
	dests := make([]string, 0, len(m))
	for dest := range m {
		dests = append(dests, dest)
	}
	sort.Strings(dests)
	return dests
}
