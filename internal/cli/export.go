package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories",
		Long:  "Export every live record of every tier. Embeddings are not exported; import recomputes them.",
		RunE:  runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	records, err := eng.Export(cmd.Context())
	if err != nil {
		return err
	}
	if records == nil {
		records = []model.Record{}
	}
	return printOut(cmd, records)
}
