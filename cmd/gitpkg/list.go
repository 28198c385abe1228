// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gitpkg/pkg/manifest"
	"gitpkg/pkg/reconcile"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show declared packages and their installation state",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		if err := engine.Manifest.Validate(); err != nil {
			return err
		}

		declared := engine.Manifest.Declarations()
		if len(declared) == 0 {
			fmt.Println(SubtitleStyle.Render("No packages declared in " + manifest.FileName))
			return nil
		}

		prober := reconcile.NewProber(engine.Gateway, engine.Linker, engine.Registry)
		actual, err := prober.Probe(declared)
		if err != nil {
			return err
		}
		printWarnings(actual.Warnings)

		// Stats is optional; only the real git gateway provides it.
		stats, _ := engine.Gateway.(interface {
			Stats(storePath string) (string, time.Time, error)
		})

		fmt.Println(TitleStyle.Render("Packages"))
		for _, decl := range declared {
			fmt.Printf("  %s %s\n", PkgStyle.Render(decl.Name), SubtitleStyle.Render(decl.Remote))

			ref := decl.Ref
			if ref == "" {
				ref = "default branch"
			}
			fmt.Printf("    ref: %s  destination: %s\n", ref, decl.Destination)

			rec, ok := actual.Submodules[decl.Name]
			if !ok || !rec.Initialized {
				fmt.Printf("    state: %s\n", WarningStyle.Render("not installed"))
				continue
			}

			state := describeLink(actual, decl)
			fmt.Printf("    state: %s\n", state)

			if stats != nil {
				if commit, when, err := stats.Stats(rec.StorePath); err == nil {
					fmt.Printf("    commit: %s (%s)\n", commit[:12], when.Format("2006-01-02"))
				}
			}
		}

		return nil
	},
}

func describeLink(actual *reconcile.ActualState, decl manifest.Declaration) string {
	dest := manifest.NormalizePath(decl.Destination)
	link, exists := actual.Links[dest]

	switch {
	case !exists && actual.Unmanaged[dest]:
		return WarningStyle.Render("destination occupied by unmanaged content")
	case !exists:
		return WarningStyle.Render("not exposed")
	case link.Dangling:
		return WarningStyle.Render("dangling link")
	case link.Stale:
		return WarningStyle.Render("copied content out of date")
	case link.Copied:
		return SuccessStyle.Render("installed (copy)")
	default:
		return SuccessStyle.Render("installed (link)")
	}
}
