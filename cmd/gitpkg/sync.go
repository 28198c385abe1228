// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"gitpkg/pkg/reconcile"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Converge repository state to the manifest",
	Long: `Compare the manifest against the actual submodule and link state
and apply the operations needed to converge. Sync is idempotent: a second
run over a converged repository does nothing.

There is no rollback. If an operation fails, sync stops, reports what was
applied, and a later run converges from the intermediate state.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}

		plan, err := engine.PlanSync(cmd.Context())
		if err != nil {
			return err
		}
		printWarnings(plan.Warnings)
		if plan.Empty() {
			fmt.Println(SuccessStyle.Render("✓") + " Already up to date")
			return nil
		}

		result := engine.Execute(cmd.Context(), plan)
		printResult(result)
		if result.Err != nil {
			return &ExitError{Code: 1, Err: result.Err}
		}
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what sync would do without applying anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}

		plan, err := engine.PlanSync(cmd.Context())
		if err != nil {
			return err
		}
		printWarnings(plan.Warnings)
		if plan.Empty() {
			fmt.Println(SuccessStyle.Render("✓") + " Nothing to do")
			return nil
		}

		fmt.Println(TitleStyle.Render("Plan"))
		for _, op := range plan.Operations {
			fmt.Printf("  %s %s\n", PkgStyle.Render(op.Kind.String()), op.String())
		}
		return nil
	},
}

// newEngine opens a reconcile context rooted at the enclosing repository.
func newEngine() (*reconcile.Context, error) {
	root, err := repoRoot()
	if err != nil {
		return nil, err
	}
	return reconcile.NewContext(root)
}

// repoRoot walks up from the working directory to the nearest directory
// containing a .git entry.
func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not inside a git repository")
		}
		dir = parent
	}
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+w)
	}
}

func printResult(result *reconcile.Result) {
	for _, res := range result.Results {
		switch res.Status {
		case reconcile.Applied:
			fmt.Printf("%s %s\n", SuccessStyle.Render("✓"), res.Operation.String())
		case reconcile.Failed:
			fmt.Printf("%s %s\n", ErrorStyle.Render("✗"), res.Operation.String())
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(res.Err, verbose))
		case reconcile.Skipped:
			fmt.Printf("%s %s\n", SubtitleStyle.Render("-"), res.Operation.String()+" (skipped)")
		}
	}
}
