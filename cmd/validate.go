package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/roster-validator/internal/agent"
	"github.com/sells-group/roster-validator/internal/loader"
)

var (
	validateRecordType string
	validateSheet      string
	validateAnswers    string
	validateOverrides  map[string]string
	validateOut        string
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate one roster file and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "validate")
		if err != nil {
			return err
		}
		defer env.Close()

		rt, err := recordType(validateRecordType)
		if err != nil {
			return err
		}
		answers, err := loadAnswers(validateAnswers)
		if err != nil {
			return err
		}

		res, err := validateFile(ctx, env, args[0], env.LoaderOptions(rt, validateSheet), answers, validateOverrides)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if validateOut != "" {
			f, err := os.Create(validateOut)
			if err != nil {
				return eris.Wrap(err, "create output file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		return writeResult(out, res)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateRecordType, "record-type", "", "record type: active, retired or extra (default from sheet name, else active)")
	validateCmd.Flags().StringVar(&validateSheet, "sheet", "", "workbook sheet to validate")
	validateCmd.Flags().StringVar(&validateAnswers, "answers", "", "YAML file of question id -> answer")
	validateCmd.Flags().StringToStringVar(&validateOverrides, "map", nil, "pin a header to a field, e.g. --map '근로 형태=종업원구분'")
	validateCmd.Flags().StringVarP(&validateOut, "out", "o", "", "write the JSON result to a file instead of stdout")
	rootCmd.AddCommand(validateCmd)
}

// validateFile parses one roster and runs the agent on it with the caller's
// answers and header overrides.
func validateFile(ctx context.Context, env *validatorEnv, path string, opts loader.Options, answers, overrides map[string]string) (*agent.Result, error) {
	in, err := loader.LoadOne(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	in.Answers = answers
	in.Overrides = overrides

	res, err := env.Agent.Run(ctx, in)
	if err != nil {
		return nil, eris.Wrapf(err, "validate %s", path)
	}
	zap.L().Info("validation complete", zap.String("summary", res.Summary()))
	return res, nil
}

// loadAnswers reads a flat YAML map of question id to answer. An empty path
// means no answers.
func loadAnswers(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read answers file")
	}
	var answers map[string]string
	if err := yaml.Unmarshal(data, &answers); err != nil {
		return nil, eris.Wrap(err, "parse answers file")
	}
	return answers, nil
}

func writeResult(w io.Writer, res *agent.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return eris.Wrap(err, "encode result")
	}
	return nil
}
