// Package cli implements the memtier CLI commands.
package cli

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/memory"
	"github.com/rcliao/memtier/internal/model"
)

var (
	configPath string
	dbPath     string
	formatFlag string
	logLevel   string

	// cfg is loaded once in PersistentPreRunE.
	cfg config.Config
)

// Version is set by the linker.
var Version = "dev"

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memtier",
	Short: "Quality-scored, multi-tier memory for AI agents",
	Long: "Store, search and assemble agent memories across short-term, long-term, entity and user tiers.\n" +
		"Writes are scored for quality and only persisted above each tier's floor.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./memtier.yaml or $XDG_CONFIG_HOME/memtier/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMTIER_DB or ~/.memtier/memtier.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or yaml")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.Database.Backend = "sqlite"
		c.Database.Path = dbPath
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	switch formatFlag {
	case "json", "yaml":
	default:
		return goerr.New("unknown output format, want json or yaml", goerr.V("format", formatFlag))
	}
	cfg = c

	logger := logging.New(cfg.Log.Level, cmd.ErrOrStderr())
	logging.SetDefault(logger)
	cmd.SetContext(logging.With(cmd.Context(), logger))
	return nil
}

func openEngine() (*memory.Engine, error) {
	return memory.Open(cfg)
}

// printOut writes v to the command's stdout in the selected format.
func printOut(cmd *cobra.Command, v any) error {
	w := cmd.OutOrStdout()
	if formatFlag == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readContent takes content from args, falling back to piped stdin.
func readContent(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read stdin")
	}
	return strings.TrimSpace(string(b)), nil
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "Scope: user id")
	cmd.Flags().String("agent", "", "Scope: agent id")
	cmd.Flags().String("run", "", "Scope: run id")
}

func scopeFlags(cmd *cobra.Command) model.Scope {
	user, _ := cmd.Flags().GetString("user")
	agent, _ := cmd.Flags().GetString("agent")
	run, _ := cmd.Flags().GetString("run")
	return model.Scope{UserID: user, AgentID: agent, RunID: run}
}

func parseTiers(names []string) ([]model.Tier, error) {
	var tiers []model.Tier
	for _, n := range names {
		t, err := model.ParseTier(n)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}
