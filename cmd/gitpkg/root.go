// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for gitpkg.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"gitpkg/internal/config"
	"gitpkg/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables verbose output
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// cfg is the loaded application config, available to all commands.
	cfg = config.DefaultConfig()

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "gitpkg",
		Short: "Vendor git repositories as packages",
		Long: TitleStyle.Render("gitpkg") + SubtitleStyle.Render(" - Vendor git repositories as packages") + `

gitpkg installs parts of other git repositories into your project.
Each package is declared in '.gitpkg.toml', checked out as a git
submodule inside the hidden '.gitpkgs' store, and exposed at its
destination via a symlink (or a copy where symlinks are unavailable).

The manifest is the source of truth: 'gitpkg sync' computes the
difference between it and the repository state and applies exactly
the operations needed to converge.

` + SubtitleStyle.Render("Quick Start:") + `
  1. gitpkg add https://github.com/lib/pq --destination vendor/pq
  2. Commit .gitpkg.toml and .gitmodules
  3. Team mates run: gitpkg sync

` + SubtitleStyle.Render("Examples:") + `
  gitpkg add <remote>       Declare and install a package
  gitpkg plan               Show what sync would do
  gitpkg sync               Converge state to the manifest
  gitpkg update             Fetch new commits for tracked branches
  gitpkg list               Show declared packages and their state`,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/gitpkg/config.toml)")

	// Add subcommands
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(listCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig reads in config file and ENV variables if set.
func initRootConfig() {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, verbose))
	}
	if loaded != nil {
		cfg = loaded
	}

	// Apply verbose from config if not set via flag
	if !verbose {
		verbose = cfg.Verbose
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
