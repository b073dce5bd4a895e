// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/registry-reconciler/internal/pipeline"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download every page of the organisations register",
	Long: `Fetch walks the paginated organisations API from page 1 until no next page
is reported and saves the raw records to raw_organisations.json in the output
directory. Transient failures are retried with a linear backoff. If any page
cannot be retrieved the command fails and nothing is saved.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().String("base-url", "", "organisations collection URL (default https://www.gov.uk/api/organisations)")
	fetchCmd.Flags().Int("max-retries", types.DefaultMaxRetries, "retries per page on a transient failure; 0 disables retries")
	fetchCmd.Flags().Duration("base-delay", 0, "backoff unit; retry n waits n times this (default 5s)")

	bindFlag(fetchCmd, "base-url", "fetch.base_url")
	bindFlag(fetchCmd, "max-retries", "fetch.max_retries")
	bindFlag(fetchCmd, "base-delay", "fetch.base_delay")

	rootCmd.AddCommand(fetchCmd)
}

func newPipeline() (*pipeline.Pipeline, error) {
	return pipeline.New(cfg, logger, os.Stdout)
}

func runFetch(cmd *cobra.Command, args []string) error {
	p, err := newPipeline()
	if err != nil {
		return err
	}
	_, err = p.Fetch(cmd.Context())
	if merr := p.WriteMetrics(); err == nil {
		err = merr
	}
	return err
}
