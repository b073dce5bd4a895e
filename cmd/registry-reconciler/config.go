// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// envKeys are settings readable from the environment without a config
// file entry. AutomaticEnv only covers keys viper already knows.
var envKeys = []string{
	"fetch.base_url",
	"fetch.workers",
	"store.driver",
	"store.dsn",
	"store.schema",
	"store.schema_version",
	"match.authority_file",
	"log.format",
	"log.output",
}

// bindFlag maps one of cmd's flags onto a config key. An unset flag
// leaves the key to the environment, the config file, or the default.
// Keys are global, so each key is bound to one flag only.
func bindFlag(cmd *cobra.Command, name, key string) {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(name)
	}
	if err := viper.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", name, err))
	}
}

// loadConfig decodes the merged flag, environment, and file settings and
// fills what is left unset from the defaults.
func loadConfig() (types.PipelineConfig, error) {
	for _, k := range envKeys {
		if err := viper.BindEnv(k); err != nil {
			return types.PipelineConfig{}, fmt.Errorf("binding %s: %w", k, err)
		}
	}
	var c types.PipelineConfig
	if err := viper.Unmarshal(&c); err != nil {
		return types.PipelineConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	return c.WithDefaults(), nil
}
