package cli

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/memory"
	"github.com/rcliao/memtier/internal/model"
	"github.com/rcliao/memtier/internal/quality"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Score and store a memory",
		Long: "Score a memory and store it in a tier if it reaches the tier's quality floor.\n" +
			"Content can be a positional arg or piped via stdin. A rejected write is not an error.",
		RunE: runPut,
	}

	cmd.Flags().StringP("tier", "t", "short_term", "Tier: short_term, long_term, entity, user")
	cmd.Flags().String("meta", "", "JSON metadata object")
	cmd.Flags().String("context", "", "Domain description used to judge relevance")
	addScopeFlags(cmd)
	addMetricFlags(cmd)

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) error {
	tierName, _ := cmd.Flags().GetString("tier")
	domain, _ := cmd.Flags().GetString("context")

	tier, err := model.ParseTier(tierName)
	if err != nil {
		return err
	}
	content, err := readContent(cmd, args)
	if err != nil {
		return err
	}
	if content == "" {
		return goerr.New("content is required (positional arg or stdin)")
	}
	meta, err := metaFlag(cmd)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.Store(cmd.Context(), memory.StoreRequest{
		Text:     content,
		Tier:     tier,
		Scope:    scopeFlags(cmd),
		Metadata: meta,
		Metrics:  metricFlags(cmd),
		Context:  domain,
	})
	if err != nil {
		return err
	}
	return printOut(cmd, res)
}

func addMetricFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("completeness", 0, "Supplied completeness sub-metric (0-1)")
	cmd.Flags().Float64("relevance", 0, "Supplied relevance sub-metric (0-1)")
	cmd.Flags().Float64("clarity", 0, "Supplied clarity sub-metric (0-1)")
	cmd.Flags().Float64("accuracy", 0, "Supplied accuracy sub-metric (0-1)")
}

// metricFlags returns only the sub-metrics set on the command line; the
// rest are derived by the scorer.
func metricFlags(cmd *cobra.Command) *quality.Metrics {
	get := func(name string) *float64 {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v, _ := cmd.Flags().GetFloat64(name)
		return &v
	}
	m := &quality.Metrics{
		Completeness: get("completeness"),
		Relevance:    get("relevance"),
		Clarity:      get("clarity"),
		Accuracy:     get("accuracy"),
	}
	if m.Completeness == nil && m.Relevance == nil && m.Clarity == nil && m.Accuracy == nil {
		return nil
	}
	return m
}

func metaFlag(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("meta")
	if raw == "" {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, goerr.Wrap(err, "--meta must be a JSON object")
	}
	return meta, nil
}
