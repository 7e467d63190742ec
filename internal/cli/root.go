// Package cli implements the command-line process wiring (C9): a
// cobra command tree over the core's collaborators, viper-bound
// environment configuration, and contract/operational error mapping
// to process exit codes.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/openwrt-builder/builder/internal/buildregistry"
	"github.com/openwrt-builder/builder/internal/collabregistry"
	"github.com/openwrt-builder/builder/internal/filesindex"
	"github.com/openwrt-builder/builder/internal/profileresolver"
	"github.com/openwrt-builder/builder/internal/runnerlock"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     "openwrt-builder",
	Short:   "Orchestrates OpenWrt ImageBuilder firmware builds",
	Version: "0.1.0-dev",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&format, "format", "json", "output format: json or yaml")

	rootCmd.AddCommand(newRunnerCmd())
	rootCmd.AddCommand(newBuildCmd())
	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newFilesCmd())
}

// Execute runs the command tree and translates any returned error
// into the appropriate process exit code (§6): 1 for contract
// errors, 2 for operational errors, 0 on success.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, buildregistry.ErrInvalidRequest),
		errors.Is(err, buildregistry.ErrProfileNotFound),
		errors.Is(err, buildregistry.ErrNotFound),
		errors.Is(err, buildregistry.ErrNotReady),
		errors.Is(err, buildregistry.ErrRunning),
		errors.Is(err, buildregistry.ErrAlreadyFinished),
		errors.Is(err, runnerlock.ErrAlreadyRunning),
		errors.Is(err, collabregistry.ErrNotFound),
		errors.Is(err, collabregistry.ErrInvalidID),
		errors.Is(err, filesindex.ErrNotFound),
		errors.Is(err, profileresolver.ErrInvalidFilePath):
		return 1
	default:
		return 2
	}
}
