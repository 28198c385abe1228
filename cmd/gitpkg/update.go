// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update [name]...",
	Short: "Fetch new commits for branch-tracking packages",
	Long: `Fetch and check out the latest commit of each package's declared
ref. Packages pinned to a commit hash and packages declared with
updates-disabled are left alone. Without arguments every updatable
package is refreshed; with arguments only the named ones.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}

		result, err := engine.Update(cmd.Context(), args)
		if err != nil {
			return err
		}
		if len(result.Results) == 0 {
			fmt.Println(SuccessStyle.Render("✓") + " Nothing to update")
			return nil
		}
		printResult(result)
		if result.Err != nil {
			return &ExitError{Code: 1, Err: result.Err}
		}
		return nil
	},
}
