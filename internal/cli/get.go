package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory by id",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rec, err := eng.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printOut(cmd, rec)
}
