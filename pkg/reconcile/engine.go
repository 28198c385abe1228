// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"context"
	"path/filepath"

	"github.com/charmbracelet/log"

	"gitpkg/pkg/expose"
	"gitpkg/pkg/manifest"
	"gitpkg/pkg/submodule"
)

// Context bundles everything a reconciliation run needs. All collaborators
// are explicit so tests can substitute any of them.
type Context struct {
	// Root is the host repository root.
	Root string

	// Manifest is the loaded package manifest.
	Manifest *manifest.Manifest

	// Gateway performs submodule operations.
	Gateway submodule.Gateway

	// Linker performs exposure operations.
	Linker *expose.Linker

	// Registry records applied exposures inside the hidden store.
	Registry *expose.Registry
}

// NewContext opens the repository at root and loads its manifest and
// exposure registry.
func NewContext(root string) (*Context, error) {
	gateway, err := submodule.Open(root)
	if err != nil {
		return nil, err
	}

	mf, err := manifest.Load(filepath.Join(root, manifest.FileName))
	if err != nil {
		return nil, err
	}

	registry, err := expose.LoadRegistry(registryPath(root))
	if err != nil {
		return nil, err
	}

	return &Context{
		Root:     root,
		Manifest: mf,
		Gateway:  gateway,
		Linker:   expose.NewLinker(root),
		Registry: registry,
	}, nil
}

// RegistryPath is where the exposure registry lives for this context.
func (c *Context) RegistryPath() string {
	return registryPath(c.Root)
}

func registryPath(root string) string {
	return filepath.Join(root, submodule.StoreDir, expose.RegistryFileName)
}

// PlanSync validates the manifest, probes the actual state and computes a
// plan. The manifest is validated before any repository access so a broken
// manifest never triggers probing, let alone mutation.
func (c *Context) PlanSync(ctx context.Context) (*Plan, error) {
	if err := c.Manifest.Validate(); err != nil {
		return nil, err
	}

	declared := c.Manifest.Declarations()
	prober := NewProber(c.Gateway, c.Linker, c.Registry)
	actual, err := prober.Probe(declared)
	if err != nil {
		return nil, err
	}

	return Reconcile(declared, actual)
}

// Sync plans and applies in one call.
func (c *Context) Sync(ctx context.Context) (*Result, error) {
	plan, err := c.PlanSync(ctx)
	if err != nil {
		return nil, err
	}
	if plan.Empty() {
		log.Debug("nothing to reconcile")
		return &Result{}, nil
	}

	return c.Execute(ctx, plan), nil
}

// Execute applies a previously computed plan.
func (c *Context) Execute(ctx context.Context, plan *Plan) *Result {
	exec := NewExecutor(c.Gateway, c.Linker, c.Registry)
	return exec.Execute(ctx, plan, c.RegistryPath())
}

// Update fetches new commits for branch-tracking packages and refreshes
// their exposures. Packages pinned to a commit hash or marked
// updates-disabled are left alone. With a non-empty names list only those
// packages are updated; an unknown name is a manifest error.
func (c *Context) Update(ctx context.Context, names []string) (*Result, error) {
	if err := c.Manifest.Validate(); err != nil {
		return nil, err
	}

	selected, err := c.selectForUpdate(names)
	if err != nil {
		return nil, err
	}

	prober := NewProber(c.Gateway, c.Linker, c.Registry)
	actual, err := prober.Probe(c.Manifest.Declarations())
	if err != nil {
		return nil, err
	}

	plan := &Plan{Warnings: actual.Warnings}
	for _, decl := range selected {
		rec, ok := actual.Submodules[decl.Name]
		if !ok || !rec.Initialized {
			continue // sync owns initialization
		}
		plan.append(Operation{
			Kind:      UpdateRef,
			Package:   decl.Name,
			Remote:    decl.Remote,
			Ref:       decl.Ref,
			StorePath: rec.StorePath,
			Reason:    "fetching latest commit",
		})
		if link, exists := actual.Links[manifest.NormalizePath(decl.Destination)]; exists && link.Copied {
			planLink(plan, RecreateLink, decl, rec.StorePath, rec.ResolvedCommit, "refreshing copied content", actual)
		}
	}

	if plan.Empty() {
		return &Result{}, nil
	}

	return c.Execute(ctx, plan), nil
}

func (c *Context) selectForUpdate(names []string) ([]manifest.Declaration, error) {
	var selected []manifest.Declaration

	if len(names) == 0 {
		for _, decl := range sortedDeclarations(c.Manifest.Declarations()) {
			if updatable(decl) {
				selected = append(selected, decl)
			}
		}
		return selected, nil
	}

	for _, name := range names {
		decl, ok := c.Manifest.Get(name)
		if !ok {
			return nil, &manifest.Error{Package: name, Reason: "not declared in manifest"}
		}
		if !updatable(decl) {
			log.Warn("package is not updatable", "package", name, "ref", decl.Ref)
			continue
		}
		selected = append(selected, decl)
	}

	return selected, nil
}

// updatable reports whether a package tracks a movable ref. Commit-pinned
// and updates-disabled packages never move via update.
func updatable(decl manifest.Declaration) bool {
	if decl.UpdatesDisabled {
		return false
	}
	return !submodule.IsCommitHash(decl.Ref)
}
