package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "files", Short: "Manage uploaded source files"}
	cmd.AddCommand(newFilesListCmd(), newFilesSetTargetCmd(), newFilesDeleteCmd())
	return cmd
}

func newFilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List uploaded files, synced against disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			rows, err := d.files.List()
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, rows)
		},
	}
}

func newFilesSetTargetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-target <file-id> <target-path>",
		Short: "Set a file's target_path in the descriptor index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			row, err := d.files.SetTarget(args[0], args[1])
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, row)
		},
	}
}

func newFilesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <relative-path>",
		Short: "Delete an uploaded source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newDeps()
			if err != nil {
				return err
			}
			remaining, err := d.files.Delete(args[0])
			if err != nil {
				return err
			}
			return writeOutput(os.Stdout, map[string]int{"remaining": remaining})
		},
	}
}
