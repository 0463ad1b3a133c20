package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a memory",
		Long:  "Delete a memory by id. Deleting an id that does not exist is not an error.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	deleted, err := eng.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printOut(cmd, map[string]any{"id": args[0], "deleted": deleted})
}
