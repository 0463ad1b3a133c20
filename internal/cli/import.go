package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/memtier/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import memories from an export",
		Long: "Import records (stdin or --file) in the format produced by export.\n" +
			"Quality is recomputed with the current weights; records now below a floor are rejected.",
		RunE: runImport,
	}

	cmd.Flags().String("file", "", "Read from file instead of stdin")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")

	var in io.Reader = cmd.InOrStdin()
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return goerr.Wrap(err, "failed to open import file", goerr.V("file", file))
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return goerr.Wrap(err, "failed to read import data")
	}

	var records []model.Record
	if formatFlag == "yaml" {
		err = yaml.Unmarshal(data, &records)
	} else {
		err = json.Unmarshal(data, &records)
	}
	if err != nil {
		return goerr.Wrap(err, "failed to parse import data", goerr.V("format", formatFlag))
	}

	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.Import(cmd.Context(), records)
	if err != nil {
		return err
	}
	return printOut(cmd, res)
}
