package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/assemble"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant memories for a task",
		Long:  "Search memories, then greedily pack them into a token budget, newest first.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runContext,
	}

	cmd.Flags().IntP("budget", "b", 0, "Max tokens in output (default: context.default_budget)")
	cmd.Flags().StringSliceP("tier", "t", nil, "Tiers to draw from (default: all)")
	cmd.Flags().String("profile", "", "Token profile: default, gpt-4, claude, llama")
	cmd.Flags().Bool("rerank", false, "Rerank candidates before packing")
	cmd.Flags().Float64("cutoff", 0, "Minimum relevance (0-1)")
	cmd.Flags().Float64("min-quality", 0, "Minimum stored quality (0-1)")
	cmd.Flags().Bool("raw", false, "Print only the assembled text")
	cmd.Flags().Duration("timeout", 0, "Deadline; partial results are returned when it expires")
	addScopeFlags(cmd)

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) error {
	var budget *int
	if cmd.Flags().Changed("budget") {
		n, _ := cmd.Flags().GetInt("budget")
		budget = &n
	}
	tierNames, _ := cmd.Flags().GetStringSlice("tier")
	profile, _ := cmd.Flags().GetString("profile")
	rerank, _ := cmd.Flags().GetBool("rerank")
	cutoff, _ := cmd.Flags().GetFloat64("cutoff")
	minQuality, _ := cmd.Flags().GetFloat64("min-quality")
	raw, _ := cmd.Flags().GetBool("raw")
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

	res, err := eng.BuildContext(ctx, assemble.Request{
		Query:           strings.Join(args, " "),
		Scope:           scopeFlags(cmd),
		Tiers:           tiers,
		TokenBudget:     budget,
		ModelProfile:    profile,
		Rerank:          rerank,
		RelevanceCutoff: cutoff,
		MinQuality:      minQuality,
	})
	if err != nil {
		return err
	}
	if raw {
		fmt.Fprintln(cmd.OutOrStdout(), res.Text)
		return nil
	}
	return printOut(cmd, res)
}
