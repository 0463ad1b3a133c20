package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "promote <id>",
		Short: "Copy a short-term memory into the long-term tier",
		Long:  "Create a long-term record from a short-term one. The long-term quality floor still applies.",
		Args:  cobra.ExactArgs(1),
		RunE:  runPromote,
	}

	RootCmd.AddCommand(cmd)
}

func runPromote(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.Promote(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printOut(cmd, res)
}
