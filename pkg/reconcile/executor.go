// SPDX-License-Identifier: MPL-2.0

package reconcile

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"gitpkg/internal/issue"
	"gitpkg/pkg/expose"
	"gitpkg/pkg/submodule"
)

// Status is the outcome of one executed operation.
type Status int

const (
	// Applied means the operation completed successfully.
	Applied Status = iota

	// Failed means the operation errored; execution stops after it.
	Failed

	// Skipped means a preceding operation failed before this one ran.
	Skipped
)

// String returns the status name as shown in command output.
func (s Status) String() string {
	switch s {
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// OperationResult pairs an operation with its execution outcome.
type OperationResult struct {
	// Operation is the planned step.
	Operation Operation

	// Status is the outcome.
	Status Status

	// Err is the failure cause when Status is Failed.
	Err error
}

// Result is the outcome of executing a plan.
type Result struct {
	// Results holds one entry per planned operation, in plan order.
	Results []OperationResult

	// Err is the first failure, or nil when every operation applied. A
	// failed run leaves the repository in whatever intermediate state the
	// applied prefix produced; re-running sync converges from there.
	Err error
}

// Applied counts the operations that completed.
func (r *Result) Applied() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == Applied {
			n++
		}
	}
	return n
}

// Executor applies plans against the repository. Operations run one at a
// time, in plan order; there is no rollback, only convergence on the next
// run.
type Executor struct {
	gateway  submodule.Gateway
	linker   *expose.Linker
	registry *expose.Registry

	// commits remembers the checkout commit produced by AddSubmodule and
	// UpdateRef within one run, so link operations for the same package
	// record accurate provenance.
	commits map[string]string
}

// NewExecutor creates an executor over the given gateway, linker and
// registry.
func NewExecutor(gateway submodule.Gateway, linker *expose.Linker, registry *expose.Registry) *Executor {
	return &Executor{
		gateway:  gateway,
		linker:   linker,
		registry: registry,
		commits:  make(map[string]string),
	}
}

// Execute applies the plan front to back. On the first failure the remaining
// operations are marked skipped and execution stops. The exposure registry
// is saved regardless of outcome so applied link operations stay recorded.
func (e *Executor) Execute(ctx context.Context, plan *Plan, registryPath string) *Result {
	result := &Result{}

	failed := false
	for _, op := range plan.Operations {
		if failed {
			result.Results = append(result.Results, OperationResult{Operation: op, Status: Skipped})
			continue
		}

		log.Debug("applying operation", "op", op.Kind.String(), "package", op.Package)
		if err := e.apply(ctx, op); err != nil {
			failed = true
			result.Err = err
			result.Results = append(result.Results, OperationResult{Operation: op, Status: Failed, Err: err})
			continue
		}
		result.Results = append(result.Results, OperationResult{Operation: op, Status: Applied})
	}

	if e.registry != nil && registryPath != "" {
		if err := e.registry.Save(registryPath); err != nil {
			log.Warn("failed to save exposure registry", "error", err)
			if result.Err == nil {
				result.Err = err
			}
		}
	}

	return result
}

func (e *Executor) apply(ctx context.Context, op Operation) error {
	switch op.Kind {
	case AddSubmodule:
		commit, err := e.gateway.AddSubmodule(ctx, op.Package, op.Remote, op.StorePath, op.Ref)
		if err != nil {
			return err
		}
		e.commits[op.Package] = commit
		return nil

	case RemoveSubmodule:
		return e.gateway.RemoveSubmodule(op.Package, op.StorePath)

	case UpdateRef:
		commit, err := e.gateway.FetchAndCheckout(ctx, op.StorePath, op.Ref)
		if err != nil {
			return err
		}
		e.commits[op.Package] = commit
		return nil

	case CreateLink:
		return e.createLink(op)

	case RecreateLink:
		if err := e.linker.RemoveManaged(op.Destination); err != nil {
			return err
		}
		return e.createLink(op)

	case RemoveLink:
		if err := e.linker.RemoveManaged(op.Destination); err != nil {
			return err
		}
		if e.registry != nil && op.Package != "" && e.registry.Exposures[op.Package] == op.Destination {
			delete(e.registry.Exposures, op.Package)
		}
		return nil

	default:
		return issue.NewErrorContext().
			WithOperation("executing reconciliation plan").
			WithResource(op.Package).
			WithSuggestion("this is a bug in gitpkg; please report it").
			Wrap(fmt.Errorf("unknown operation kind %d", int(op.Kind))).
			BuildError()
	}
}

func (e *Executor) createLink(op Operation) error {
	commit := op.Commit
	if c, ok := e.commits[op.Package]; ok {
		commit = c
	}

	meta := expose.Marker{
		Package: op.Package,
		Commit:  commit,
		Target:  op.Target,
		Subpath: op.Subpath,
	}

	if _, err := e.linker.Create(op.Target, op.Destination, meta, op.Install); err != nil {
		return err
	}
	if e.registry != nil {
		e.registry.Exposures[op.Package] = op.Destination
	}

	return nil
}
