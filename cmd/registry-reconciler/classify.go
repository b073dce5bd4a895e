// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/registry-reconciler/internal/pipeline"
	"github.com/pdiddy/registry-reconciler/internal/series"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Normalize and classify fetched records or a historical series",
	Long: `Classify normalizes the fetched records, applies the category overrides and
exclusion rules, and writes the organisations and relationships tables.

With --series-dir or --manifest it classifies a series of dated dumps
instead and writes the lifecycle reports: full_list, excluded, possible_new,
possible_closed, and current.`,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().String("records", "", "raw record dump (default <output-dir>/raw_organisations.json)")
	classifyCmd.Flags().String("series-dir", "", "directory of YYYYMMDD.json dumps to classify as a series")
	classifyCmd.Flags().String("manifest", "", "YAML file mapping YYYYMMDD dates to dump URLs")
	classifyCmd.Flags().String("since", "", "limit possible new/closed reports to appearances on or after YYYYMMDD")
	classifyCmd.Flags().String("overrides", "", "YAML map of organisation title to format, merged over the configured overrides")

	bindFlag(classifyCmd, "since", "classify.since")
	bindFlag(classifyCmd, "overrides", "classify.overrides_file")

	rootCmd.AddCommand(classifyCmd)
}

func runClassify(cmd *cobra.Command, args []string) error {
	seriesDir, _ := cmd.Flags().GetString("series-dir")
	manifest, _ := cmd.Flags().GetString("manifest")
	if seriesDir != "" && manifest != "" {
		return errors.New("use either --series-dir or --manifest, not both")
	}

	p, err := newPipeline()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if seriesDir != "" || manifest != "" {
		var s types.Series
		if seriesDir != "" {
			s, err = series.LoadDir(seriesDir)
		} else {
			var m series.Manifest
			if m, err = series.ReadManifest(manifest); err == nil {
				s, err = series.NewLoader(cfg.Fetch, logger).Load(ctx, m)
			}
		}
		if err != nil {
			return err
		}
		_, err = p.Analyze(ctx, s)
		return err
	}

	prep, err := p.LoadRecords(recordsPath(cmd, p))
	if err != nil {
		return err
	}
	if err := p.WritePrepared(ctx, prep); err != nil {
		return err
	}
	included := len(pipeline.Included(prep.Entities))
	fmt.Fprintf(p.Out, "included: %d, excluded: %d\n", included, len(prep.Entities)-included)
	return p.WriteMetrics()
}

// recordsPath returns the --records flag or the pipeline's default dump.
func recordsPath(cmd *cobra.Command, p *pipeline.Pipeline) string {
	if path, _ := cmd.Flags().GetString("records"); path != "" {
		return path
	}
	return p.RecordsPath()
}
