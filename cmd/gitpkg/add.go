// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"gitpkg/pkg/manifest"
)

var (
	addName        string
	addRef         string
	addSubpath     string
	addDestination string
	addNoUpdates   bool
	addCopy        bool
)

var addCmd = &cobra.Command{
	Use:   "add <remote>",
	Short: "Declare a package and install it",
	Long: `Add a package declaration to the manifest and reconcile immediately.

The package name defaults to the repository name derived from the remote
URL, and the destination defaults to the package name at the repository
root. The declared ref may be a branch, a tag, or a commit hash; left
empty it tracks the remote's default branch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}

		remote := args[0]
		name := addName
		if name == "" {
			name = manifest.NameFromRemote(remote)
		}
		dest := addDestination
		if dest == "" {
			dest = name
		}

		// Only record an install method when it deviates from the default.
		install := ""
		if cfg.LinkMode != "" && cfg.LinkMode != manifest.InstallAuto {
			install = cfg.LinkMode
		}
		if addCopy {
			install = manifest.InstallCopy
		}

		decl := manifest.Declaration{
			Name:            name,
			Remote:          remote,
			Ref:             addRef,
			Subpath:         addSubpath,
			Destination:     dest,
			UpdatesDisabled: addNoUpdates,
			Install:         install,
		}

		if err := engine.Manifest.Add(decl); err != nil {
			return err
		}
		if err := engine.Manifest.Save(filepath.Join(engine.Root, manifest.FileName)); err != nil {
			return err
		}
		fmt.Printf("%s Added %s to %s\n", SuccessStyle.Render("✓"), PkgStyle.Render(name), manifest.FileName)

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

func init() {
	addCmd.Flags().StringVar(&addName, "name", "", "package name (default: derived from the remote URL)")
	addCmd.Flags().StringVar(&addRef, "ref", "", "branch, tag or commit hash (default: remote default branch)")
	addCmd.Flags().StringVar(&addSubpath, "subpath", "", "subdirectory of the package repository to expose")
	addCmd.Flags().StringVar(&addDestination, "destination", "", "where to expose the package (default: package name)")
	addCmd.Flags().BoolVar(&addNoUpdates, "no-updates", false, "exclude this package from 'gitpkg update'")
	addCmd.Flags().BoolVar(&addCopy, "copy", false, "always copy instead of symlinking")
}
