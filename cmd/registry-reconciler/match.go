// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match organisations against an authoritative list",
	Long: `Match pairs each included organisation with at most one entry of an
authoritative list (CSV or YAML) by fuzzy name similarity and writes the
matches and unmatched tables. Each entry goes to the organisation it scores
highest against; ties go to the earliest organisation.`,
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().String("records", "", "raw record dump (default <output-dir>/raw_organisations.json)")
	matchCmd.Flags().String("authority", "", "authoritative list file (.csv, .yaml, or .yml)")
	matchCmd.Flags().Float64("cutoff", 0, "minimum 0-100 similarity for a match (default 90)")
	matchCmd.Flags().String("name-column", "", "authoritative list column holding names (default overall_organisation)")

	bindFlag(matchCmd, "cutoff", "match.score_cutoff")
	bindFlag(matchCmd, "name-column", "match.name_column")

	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	authority, _ := cmd.Flags().GetString("authority")
	if authority == "" {
		authority = cfg.Match.AuthorityFile
	}
	if authority == "" {
		return errors.New("provide --authority or set match.authority_file")
	}

	p, err := newPipeline()
	if err != nil {
		return err
	}
	prep, err := p.LoadRecords(recordsPath(cmd, p))
	if err != nil {
		return err
	}
	if _, err := p.MatchAuthority(cmd.Context(), prep.Entities, authority); err != nil {
		return err
	}
	return p.WriteMetrics()
}
