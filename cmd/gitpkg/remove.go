// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"gitpkg/pkg/manifest"
)

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a package and its installation",
	Long: `Drop a package declaration from the manifest and reconcile: the
exposure link is removed, the store checkout is deleted, and the
.gitmodules entry goes away (the file itself is deleted once the last
managed entry is gone).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}

		name := args[0]
		if err := engine.Manifest.Remove(name); err != nil {
			return err
		}
		if err := engine.Manifest.Save(filepath.Join(engine.Root, manifest.FileName)); err != nil {
			return err
		}
		fmt.Printf("%s Removed %s from %s\n", SuccessStyle.Render("✓"), PkgStyle.Render(name), manifest.FileName)

		result, err := engine.Sync(cmd.Context())
		if err != nil {
			return err
		}
		printResult(result)
		if result.Err != nil {
			return &ExitError{Code: 1, Err: result.Err}
		}
		return nil
	},
}
