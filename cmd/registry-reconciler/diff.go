// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare fetched records with the persisted snapshot table",
	Long: `Diff reconciles the fetched records against the persisted snapshot table and
writes the field-level change table. Without --apply the store is only read.
With --apply the table is created on first use, missing organisations are
end-dated, new ones are appended, and the changes are logged in the store.`,
	RunE: runDiff,
}

func init() {
	diffCmd.Flags().String("records", "", "raw record dump (default <output-dir>/raw_organisations.json)")
	diffCmd.Flags().Bool("apply", false, "write the reconciled snapshot to the store")
	diffCmd.Flags().String("driver", "", "store driver: sqlite3 or pgx (default sqlite3)")
	diffCmd.Flags().String("dsn", "", "store data source name")
	diffCmd.Flags().String("schema-version", "", "persisted table layout: v1 or v2 (default v2)")

	bindFlag(diffCmd, "driver", "store.driver")
	bindFlag(diffCmd, "dsn", "store.dsn")
	bindFlag(diffCmd, "schema-version", "store.schema_version")

	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	p, err := newPipeline()
	if err != nil {
		return err
	}
	prep, err := p.LoadRecords(recordsPath(cmd, p))
	if err != nil {
		return err
	}
	apply, _ := cmd.Flags().GetBool("apply")
	if _, err := p.Reconcile(cmd.Context(), prep.Entities, apply); err != nil {
		return err
	}
	return p.WriteMetrics()
}
