package cli

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Store and look up named entities",
	}

	put := &cobra.Command{
		Use:   "put [content]",
		Short: "Append a new version of an entity",
		RunE:  runEntityPut,
	}
	put.Flags().String("name", "", "Entity name (required)")
	put.Flags().String("type", "", "Entity type (required)")
	put.Flags().String("meta", "", "JSON metadata object")
	put.Flags().String("context", "", "Domain description used to judge relevance")
	put.MarkFlagRequired("name")
	put.MarkFlagRequired("type")
	addScopeFlags(put)
	addMetricFlags(put)

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the newest version of an entity",
		RunE:  runEntityGet,
	}
	get.Flags().String("name", "", "Entity name (required)")
	get.Flags().String("type", "", "Entity type (required)")
	get.Flags().Bool("history", false, "Return all versions (newest first)")
	get.MarkFlagRequired("name")
	get.MarkFlagRequired("type")
	addScopeFlags(get)

	cmd.AddCommand(put, get)
	RootCmd.AddCommand(cmd)
}

func runEntityPut(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	entityType, _ := cmd.Flags().GetString("type")
	domain, _ := cmd.Flags().GetString("context")

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

	res, err := eng.PutEntity(cmd.Context(), memory.EntityRequest{
		Name:     name,
		Type:     entityType,
		Text:     content,
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

func runEntityGet(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	entityType, _ := cmd.Flags().GetString("type")
	history, _ := cmd.Flags().GetBool("history")

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	if history {
		records, err := eng.EntityHistory(cmd.Context(), name, entityType, scopeFlags(cmd))
		if err != nil {
			return err
		}
		return printOut(cmd, records)
	}
	rec, err := eng.LookupEntity(cmd.Context(), name, entityType, scopeFlags(cmd))
	if err != nil {
		return err
	}
	return printOut(cmd, rec)
}
