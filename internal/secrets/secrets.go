// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets reads credentials kept out of the config file. A
// secrets directory holds one plain-text file per key; the file contents,
// trimmed, are the value. Only the keys in Keys are read.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

const (
	// DatabaseDSN holds the store connection string, e.g. a Postgres URL
	// carrying a password.
	DatabaseDSN = "database-dsn"

	// APIToken is sent as a bearer token on organisations API requests.
	APIToken = "api-token"
)

// Keys lists the recognised secret files.
var Keys = []string{DatabaseDSN, APIToken}

// Load returns the non-empty recognised secrets in dir. A missing
// directory yields an empty map. Unreadable key files are logged and
// skipped; other files are ignored.
func Load(dir string, logger zerolog.Logger) (map[string]string, error) {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	out := make(map[string]string, len(Keys))
	for _, key := range Keys {
		data, err := os.ReadFile(filepath.Join(dir, key))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			logger.Warn().Str("secret", key).Err(err).Msg("could not read secret")
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			out[key] = v
		}
	}

	loaded := make([]string, 0, len(out))
	for k := range out {
		loaded = append(loaded, k)
	}
	slices.Sort(loaded)
	logger.Debug().Str("dir", dir).Strs("keys", loaded).Msg("loaded secrets")
	return out, nil
}

// Apply copies recognised secrets into cfg. A secret overrides the
// configured DSN; the API token only sets an Authorization header when
// none is configured.
func Apply(cfg *types.PipelineConfig, secrets map[string]string) {
	if dsn := secrets[DatabaseDSN]; dsn != "" {
		cfg.Store.DSN = dsn
	}
	if token := secrets[APIToken]; token != "" {
		if _, ok := cfg.Fetch.Headers["Authorization"]; !ok {
			headers := make(map[string]string, len(cfg.Fetch.Headers)+1)
			for k, v := range cfg.Fetch.Headers {
				headers[k] = v
			}
			headers["Authorization"] = "Bearer " + token
			cfg.Fetch.Headers = headers
		}
	}
}
