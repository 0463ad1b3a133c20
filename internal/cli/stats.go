package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-tier statistics",
		RunE:  runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printOut(cmd, stats)
}
