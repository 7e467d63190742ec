package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/openwrt-builder/builder/internal/model"
	"github.com/spf13/cobra"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "build", Short: "Create and inspect builds"}
	cmd.AddCommand(newBuildCreateCmd(), newBuildListCmd(), newBuildGetCmd(), newBuildCancelCmd(),
		newBuildDeleteCmd(), newBuildArtifactsCmd(), newBuildLogsCmd())
	return cmd
}

func newBuildCreateCmd() *cobra.Command {
	var (
		profileID, platform, target, subtarget, version string
		forceRebuild, debug                              bool
		outputImages                                     []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new build, reusing a matching completed build unless forced",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			kinds := make([]model.ImageKind, 0, len(outputImages))
			for _, k := range outputImages {
				kinds = append(kinds, model.ImageKind(k))
			}
			req := model.BuildRequest{
				ProfileID: profileID,
				Platform:  platform,
				Target:    target,
				Subtarget: subtarget,
				Version:   version,
				Options: model.BuildOptions{
					ForceRebuild: forceRebuild,
					Debug:        debug,
					OutputImages: kinds,
				},
			}
			build, created, err := d.builds.CreateBuild(req)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintln(os.Stderr, "reused a completed build matching this request")
			}
			return writeOutput(os.Stdout, build)
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile ID to build")
	cmd.Flags().StringVar(&platform, "platform", "", "target platform")
	cmd.Flags().StringVar(&target, "target", "", "OpenWrt target")
	cmd.Flags().StringVar(&subtarget, "subtarget", "", "OpenWrt subtarget")
	cmd.Flags().StringVar(&version, "version", "", "OpenWrt release version")
	cmd.Flags().BoolVar(&forceRebuild, "force-rebuild", false, "bypass dedup against a prior completed build")
	cmd.Flags().BoolVar(&debug, "debug", false, "request a verbose (V=s) make invocation")
	cmd.Flags().StringSliceVar(&outputImages, "output-images", []string{string(model.ImageSysupgrade)}, "image kinds to produce (sysupgrade,factory)")
	return cmd
}

func newBuildListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all build records",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			builds, err := d.builds.ListBuilds()
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, builds)
		},
	}
}

func newBuildGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <build-id>",
		Short: "Get one build record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			build, err := d.builds.GetBuild(args[0])
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, build)
		},
	}
}

func newBuildCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <build-id>",
		Short: "Cancel a queued or running build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			ok, err := d.builds.CancelBuild(args[0])
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, map[string]bool{"canceled": ok})
		},
	}
}

func newBuildDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <build-id>",
		Short: "Delete a non-running build and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			return d.builds.DeleteBuild(args[0])
		},
	}
}

func newBuildArtifactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts <build-id>",
		Short: "List a completed build's artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			artifacts, err := d.builds.ListBuildArtifacts(args[0])
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, artifacts)
		},
	}
}

func newBuildLogsCmd() *cobra.Command {
	var limit string
	cmd := &cobra.Command{
		Use:   "logs <build-id>",
		Short: "Show a build's stdout/stderr tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			n := 0
			if limit != "" {
				n, err = strconv.Atoi(limit)
				if err != nil {
					return fmt.Errorf("cli: invalid --limit %q: %w", limit, err)
				}
			}
			view, err := d.builds.GetBuildLogs(args[0], n)
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, view)
		},
	}
	cmd.Flags().StringVar(&limit, "limit", "", "max characters per stream tail (default 20000)")
	return cmd
}
