package cli

import (
	"os"

	"github.com/openwrt-builder/builder/internal/model"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "list", Short: "Manage package lists"}
	cmd.AddCommand(newListCreateCmd(), newListGetCmd(), newListListCmd(), newListDeleteCmd())
	return cmd
}

func newListCreateCmd() *cobra.Command {
	var id, name string
	var include, exclude []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create or overwrite a package-list record",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			finalID, err := d.lists.Create(id, model.List{Name: name, Include: include, Exclude: exclude})
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, map[string]string{"list_id": finalID})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "list ID (generated if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&include, "include", nil, "packages to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "packages to exclude")
	return cmd
}

func newListGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <list-id>",
		Short: "Get a package-list record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			l, err := d.lists.Get(args[0])
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, l)
		},
	}
}

func newListListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "List all package-list records",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			lists, err := d.lists.List()
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, lists)
		},
	}
}

func newListDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <list-id>",
		Short: "Delete a package-list record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			return d.lists.Delete(args[0])
		},
	}
}
