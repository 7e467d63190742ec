package cli

import (
	"os"

	"github.com/openwrt-builder/builder/internal/model"
	"github.com/spf13/cobra"
)

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage build profiles"}
	cmd.AddCommand(newProfileCreateCmd(), newProfileGetCmd(), newProfileListCmd(), newProfileDeleteCmd())
	return cmd
}

func newProfileCreateCmd() *cobra.Command {
	var (
		id, name                             string
		lists, extraInclude, extraExclude, files []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create or overwrite a profile record",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			finalID, err := d.profiles.Create(id, model.Profile{
				Name:         name,
				Lists:        lists,
				ExtraInclude: extraInclude,
				ExtraExclude: extraExclude,
				Files:        files,
			})
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, map[string]string{"profile_id": finalID})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "profile ID (generated if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&lists, "lists", nil, "referenced package-list IDs")
	cmd.Flags().StringSliceVar(&extraInclude, "extra-include", nil, "extra packages to include")
	cmd.Flags().StringSliceVar(&extraExclude, "extra-exclude", nil, "extra packages to exclude")
	cmd.Flags().StringSliceVar(&files, "files", nil, "selected uploaded files, as paths relative to the files root")
	return cmd
}

func newProfileGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <profile-id>",
		Short: "Get a profile record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			p, err := d.profiles.Get(args[0])
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, p)
		},
	}
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all profile records",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			profiles, err := d.profiles.List()
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, profiles)
		},
	}
}

func newProfileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <profile-id>",
		Short: "Delete a profile record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			return d.profiles.Delete(args[0])
		},
	}
}
