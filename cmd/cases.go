package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/roster-validator/internal/model"
)

var casesJSON bool

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Inspect the case store",
}

var casesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show case counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cases"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "load case stats")
		}
		return printStats(cmd.OutOrStdout(), stats, casesJSON)
	},
}

var casesPatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List learned exception patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cases"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		patterns, err := st.ListPatterns(ctx)
		if err != nil {
			return eris.Wrap(err, "list patterns")
		}
		return printPatterns(cmd.OutOrStdout(), patterns, casesJSON)
	},
}

func init() {
	casesCmd.PersistentFlags().BoolVar(&casesJSON, "json", false, "print JSON instead of a table")
	casesCmd.AddCommand(casesStatsCmd, casesPatternsCmd)
	rootCmd.AddCommand(casesCmd)
}

func printStats(w io.Writer, s model.CaseStats, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(s)
	}
	rate := 0.0
	if s.Total > 0 {
		rate = float64(s.AutoApproved) / float64(s.Total) * 100
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "cases\t%d\n", s.Total)
	fmt.Fprintf(tw, "auto approved\t%d (%.1f%%)\n", s.AutoApproved, rate)
	fmt.Fprintf(tw, "manual corrected\t%d\n", s.ManualCorrected)
	fmt.Fprintf(tw, "patterns\t%d\n", s.Patterns)
	return tw.Flush()
}

func printPatterns(w io.Writer, patterns []model.LearnedPattern, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(patterns)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tRULE\tCASES\tUPDATED")
	for _, p := range patterns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.Code, p.Describe(), len(p.SourceCases), p.UpdatedAt.Format("2006-01-02"))
	}
	return tw.Flush()
}
