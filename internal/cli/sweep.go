package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sweep [tier]",
		Short: "Remove expired records",
		Long:  "Remove records past their tier's TTL. Sweeps every tier when none is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}

	RootCmd.AddCommand(cmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	var tier model.Tier
	if len(args) == 1 {
		t, err := model.ParseTier(args[0])
		if err != nil {
			return err
		}
		tier = t
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	n, err := eng.SweepExpired(cmd.Context(), tier)
	if err != nil {
		return err
	}
	return printOut(cmd, map[string]any{"tier": tier, "removed": n})
}
