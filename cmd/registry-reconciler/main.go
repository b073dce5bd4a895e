// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the registry-reconciler CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/registry-reconciler/internal/logging"
	"github.com/pdiddy/registry-reconciler/internal/secrets"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// Loaded by the root command before any subcommand runs.
var (
	cfg      types.PipelineConfig
	logger   = logging.Nop
	closeLog func() error
)

// rootCmd is the base command for the registry-reconciler CLI.
var rootCmd = &cobra.Command{
	Use:   "registry-reconciler",
	Short: "Reconcile the GOV.UK organisations register",
	Long: `registry-reconciler downloads the GOV.UK organisations register, normalizes
and classifies it, reconciles it against the persisted snapshot table, and
matches it against an authoritative list of public bodies.

Each stage is a subcommand: fetch, classify, diff, and match. The run
subcommand chains them. Nothing is written when the fetch is incomplete.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		for _, f := range []string{".env", ".env.local"} {
			if err := godotenv.Load(f); err == nil {
				fmt.Fprintf(os.Stderr, "Loaded %s\n", f)
			}
		}

		c, err := loadConfig()
		if err != nil {
			return err
		}

		l, closeFn, err := logging.New(c.Log)
		if err != nil {
			return err
		}
		logger, closeLog = l, closeFn

		secretsDir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(secretsDir, logger)
		if err != nil {
			return err
		}
		secrets.Apply(&c, s)
		cfg = c
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closeLog != nil {
			return closeLog()
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./registry-reconciler.yaml or ~/.config/registry-reconciler/config.yaml)")
	pf.String("secrets-dir", ".secrets/", "directory holding secret files (database-dsn, api-token)")
	pf.String("output-dir", "", "directory tables are written to (default output)")
	pf.String("format", "", "table format: csv, yaml, or json (default csv)")
	pf.String("log-level", "", "log level: debug, info, warn, error (default info)")
	pf.String("metrics-file", "", "write Prometheus metrics in text format to this file")
	pf.Int("workers", 0, "concurrent page or snapshot downloads (default 1)")
	pf.Bool("store-tables", false, "also write every output table into the store")

	bindFlag(rootCmd, "output-dir", "output.dir")
	bindFlag(rootCmd, "format", "output.format")
	bindFlag(rootCmd, "log-level", "log.level")
	bindFlag(rootCmd, "metrics-file", "metrics_file")
	bindFlag(rootCmd, "workers", "fetch.workers")
	bindFlag(rootCmd, "store-tables", "output.store")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("registry-reconciler")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "registry-reconciler"))
		}
	}

	viper.SetEnvPrefix("REGISTRY_RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
