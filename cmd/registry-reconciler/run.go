// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"

	"github.com/pdiddy/registry-reconciler/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, classify, reconcile, and match in one pass",
	Long: `Run chains the stages: fetch every page, normalize and classify the records,
write the organisations and relationships tables, reconcile against the
persisted snapshot table, and match against the authoritative list when one
is configured. A failed fetch stops the run before anything is written.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("apply", false, "write the reconciled snapshot to the store")
	runCmd.Flags().String("authority", "", "authoritative list file; matching is skipped when unset")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	p, err := newPipeline()
	if err != nil {
		return err
	}
	apply, _ := cmd.Flags().GetBool("apply")
	authority, _ := cmd.Flags().GetString("authority")
	_, err = p.Run(cmd.Context(), pipeline.RunOptions{Apply: apply, AuthorityFile: authority})
	return err
}
