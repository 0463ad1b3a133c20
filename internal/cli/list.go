package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent memories of a tier",
		RunE:  runList,
	}

	cmd.Flags().StringP("tier", "t", "short_term", "Tier to list")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	addScopeFlags(cmd)

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) error {
	tierName, _ := cmd.Flags().GetString("tier")
	limit, _ := cmd.Flags().GetInt("limit")

	tier, err := model.ParseTier(tierName)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	records, err := eng.List(cmd.Context(), tier, scopeFlags(cmd), limit)
	if err != nil {
		return err
	}
	if records == nil {
		records = []model.Record{}
	}
	return printOut(cmd, records)
}
