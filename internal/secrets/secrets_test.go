// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  map[string]string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "database-dsn", "  postgres://u:p@db/registry  \n")
				writeFile(t, dir, "api-token", "tok_123")
				return dir
			},
			want: map[string]string{
				"database-dsn": "postgres://u:p@db/registry",
				"api-token":    "tok_123",
			},
		},
		{
			name: "returns empty map for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: map[string]string{},
		},
		{
			name: "skips whitespace-only values",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "api-token", "valid")
				writeFile(t, dir, "database-dsn", "   \n\t  ")
				return dir
			},
			want: map[string]string{"api-token": "valid"},
		},
		{
			name: "ignores unrecognised files and subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, "openai-key", "secret")
				writeFile(t, dir, "database-dsn", "file.db")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "api-token"), 0o755))
				return dir
			},
			want: map[string]string{"database-dsn": "file.db"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.setup(t), zerolog.Nop())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply(t *testing.T) {
	cfg := types.DefaultPipelineConfig()
	Apply(&cfg, map[string]string{DatabaseDSN: "postgres://db/registry", APIToken: "tok"})
	assert.Equal(t, "postgres://db/registry", cfg.Store.DSN)
	assert.Equal(t, "Bearer tok", cfg.Fetch.Headers["Authorization"])

	cfg = types.DefaultPipelineConfig()
	cfg.Fetch.Headers = map[string]string{"Authorization": "Basic abc"}
	Apply(&cfg, map[string]string{APIToken: "tok"})
	assert.Equal(t, "Basic abc", cfg.Fetch.Headers["Authorization"])
	assert.Equal(t, "output/registry.db", cfg.Store.DSN)

	cfg = types.DefaultPipelineConfig()
	Apply(&cfg, map[string]string{})
	assert.Equal(t, types.DefaultPipelineConfig(), cfg)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
