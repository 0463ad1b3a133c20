package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/retrieve"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by similarity",
		Long:  "Embed the query and rank records across tiers. Results below --cutoff or --min-quality are dropped before reranking.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().StringSliceP("tier", "t", nil, "Tiers to search (default: all; user only with --user)")
	cmd.Flags().IntP("limit", "l", 10, "Max results")
	cmd.Flags().Float64("cutoff", 0, "Minimum relevance (0-1)")
	cmd.Flags().Float64("min-quality", 0, "Minimum stored quality (0-1)")
	cmd.Flags().Bool("rerank", false, "Rerank by relevance, quality and recency")
	cmd.Flags().String("entity-name", "", "Entity tier: filter by name (requires --entity-type)")
	cmd.Flags().String("entity-type", "", "Entity tier: filter by type")
	cmd.Flags().Duration("timeout", 0, "Deadline; partial results are returned when it expires")
	addScopeFlags(cmd)

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	tierNames, _ := cmd.Flags().GetStringSlice("tier")
	limit, _ := cmd.Flags().GetInt("limit")
	cutoff, _ := cmd.Flags().GetFloat64("cutoff")
	minQuality, _ := cmd.Flags().GetFloat64("min-quality")
	rerank, _ := cmd.Flags().GetBool("rerank")
	entityName, _ := cmd.Flags().GetString("entity-name")
	entityType, _ := cmd.Flags().GetString("entity-type")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	tiers, err := parseTiers(tierNames)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := deadline(cmd.Context(), timeout)
	defer cancel()

	res, err := eng.Search(ctx, retrieve.Query{
		Text:            strings.Join(args, " "),
		Scope:           scopeFlags(cmd),
		Tiers:           tiers,
		Limit:           limit,
		RelevanceCutoff: cutoff,
		MinQuality:      minQuality,
		Rerank:          rerank,
		EntityName:      entityName,
		EntityType:      entityType,
	})
	if err != nil {
		return err
	}
	if res.Records == nil {
		res.Records = []model.RankedRecord{}
	}
	return printOut(cmd, res)
}

func deadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
