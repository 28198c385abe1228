// SPDX-License-Identifier: MPL-2.0

// Package reconcile computes and applies the operations that bring the
// repository's submodule and exposure state in line with the manifest.
package reconcile

import "fmt"

// Kind identifies one of the closed set of reconciliation operations.
type Kind int

const (
	// AddSubmodule registers and initializes a store checkout for a package.
	AddSubmodule Kind = iota

	// RemoveSubmodule deregisters a package and deletes its store checkout.
	RemoveSubmodule

	// UpdateRef moves an existing store checkout to a different ref.
	UpdateRef

	// CreateLink exposes a store subtree at the package's destination.
	CreateLink

	// RemoveLink removes a managed exposure.
	RemoveLink

	// RecreateLink removes and re-creates a managed exposure whose link or
	// content no longer matches the store.
	RecreateLink
)

// String returns the operation name as shown in plan output.
func (k Kind) String() string {
	switch k {
	case AddSubmodule:
		return "add-submodule"
	case RemoveSubmodule:
		return "remove-submodule"
	case UpdateRef:
		return "update-ref"
	case CreateLink:
		return "create-link"
	case RemoveLink:
		return "remove-link"
	case RecreateLink:
		return "recreate-link"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operation is one planned reconciliation step. Only the fields relevant to
// the kind are populated; the rest stay zero.
type Operation struct {
	// Kind is the operation variant.
	Kind Kind

	// Package is the manifest name of the package the operation acts on.
	Package string

	// Remote is the upstream URL, for submodule operations.
	Remote string

	// Ref is the declared ref, for AddSubmodule and UpdateRef.
	Ref string

	// StorePath is the store checkout path relative to the repository root.
	StorePath string

	// Target is the exposed subtree relative to the repository root, for
	// link operations.
	Target string

	// Subpath is the declared subpath within the package repository.
	Subpath string

	// Destination is the exposure destination relative to the repository
	// root, for link operations.
	Destination string

	// Install is the declared install method, for link operations.
	Install string

	// Commit is the store checkout commit the exposure derives from, when
	// known at planning time. The executor overrides it with the commit
	// produced by a preceding AddSubmodule or UpdateRef for the same
	// package.
	Commit string

	// Reason is a short human-readable explanation of why the operation
	// was planned.
	Reason string
}

// String renders the operation for plan output.
func (op Operation) String() string {
	switch op.Kind {
	case AddSubmodule:
		return fmt.Sprintf("%s %s (%s @ %s)", op.Kind, op.Package, op.Remote, refOrDefault(op.Ref))
	case RemoveSubmodule:
		return fmt.Sprintf("%s %s (%s)", op.Kind, op.Package, op.StorePath)
	case UpdateRef:
		return fmt.Sprintf("%s %s -> %s", op.Kind, op.Package, refOrDefault(op.Ref))
	case CreateLink, RecreateLink:
		return fmt.Sprintf("%s %s (%s -> %s)", op.Kind, op.Package, op.Destination, op.Target)
	case RemoveLink:
		return fmt.Sprintf("%s %s (%s)", op.Kind, op.Package, op.Destination)
	default:
		return fmt.Sprintf("%s %s", op.Kind, op.Package)
	}
}

func refOrDefault(ref string) string {
	if ref == "" {
		return "default branch"
	}
	return ref
}

// Plan is an ordered list of operations. Removals always precede additions
// so a destination freed by one package can be reused by another within a
// single run.
type Plan struct {
	// Operations are executed front to back.
	Operations []Operation

	// Warnings are non-fatal observations gathered while probing, such as
	// unmanaged files occupying a declared destination.
	Warnings []string
}

// Empty reports whether the plan contains no operations.
func (p *Plan) Empty() bool {
	return len(p.Operations) == 0
}

func (p *Plan) append(op Operation) {
	p.Operations = append(p.Operations, op)
}
