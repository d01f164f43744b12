package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/roster-validator/internal/model"
	"github.com/sells-group/roster-validator/internal/schema"
)

var schemaRecordType string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the active field catalog as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := initRegistry(cfg.Schema)
		if err != nil {
			return err
		}
		rt, err := recordType(schemaRecordType)
		if err != nil {
			return err
		}
		return printCatalog(cmd.OutOrStdout(), reg, rt)
	},
}

func init() {
	schemaCmd.Flags().StringVar(&schemaRecordType, "record-type", "", "only print this record type")
	rootCmd.AddCommand(schemaCmd)
}

// printCatalog writes the catalog in the same shape schema.Parse reads.
func printCatalog(w io.Writer, reg *schema.Registry, only model.RecordType) error {
	var doc struct {
		Schema struct {
			Version int                    `yaml:"version"`
			Fields  []model.CanonicalField `yaml:"fields"`
		} `yaml:"schema"`
	}
	doc.Schema.Version = reg.Version
	for _, rt := range reg.RecordTypes() {
		if only != "" && rt != only {
			continue
		}
		doc.Schema.Fields = append(doc.Schema.Fields, reg.Fields(rt)...)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return eris.Wrap(err, "encode catalog")
	}
	return enc.Close()
}
