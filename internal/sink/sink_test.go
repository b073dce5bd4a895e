// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/registry-reconciler/internal/store"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

func sampleTable() types.Table {
	return types.Table{
		Name:    "orgs",
		Columns: []string{"title", "id", "note"},
		Rows: []types.Row{
			{"id": "id1", "title": "Board of Examples, The", "note": "line one\nline two"},
			{"id": "id2", "title": "Example Agency"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("yaml")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTable()))
	want := "title,id,note\n" +
		"\"Board of Examples, The\",id1,\"line one\nline two\"\n" +
		"Example Agency,id2,\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteYAML_KeepsColumnOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, sampleTable()))

	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	first := doc.Content[0].Content[0]
	require.Len(t, first.Content, 6)
	assert.Equal(t, "title", first.Content[0].Value)
	assert.Equal(t, "id", first.Content[2].Value)
	assert.Equal(t, "note", first.Content[4].Value)

	var rows []map[string]string
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "line one\nline two", rows[0]["note"])
	assert.Equal(t, "", rows[1]["note"])
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleTable()))

	var got jsonTable
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []string{"title", "id", "note"}, got.Columns)
	assert.Equal(t, []string{"Example Agency", "id2", ""}, got.Rows[1])
}

func TestDirSink_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	for _, f := range []string{"csv", "yaml", "json"} {
		s, err := NewDirSink(types.OutputConfig{Dir: dir, Format: f})
		require.NoError(t, err)
		require.NoError(t, s.Write(context.Background(), sampleTable()))

		data, err := os.ReadFile(filepath.Join(dir, "orgs."+f))
		require.NoError(t, err, f)
		assert.Contains(t, string(data), "Example Agency", f)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3, "no temp files left behind")

	s, err := NewDirSink(types.OutputConfig{Dir: dir})
	require.NoError(t, err)
	assert.Error(t, s.Write(context.Background(), types.Table{}))

	_, err = NewDirSink(types.OutputConfig{Format: "csv"})
	assert.Error(t, err)
}

func TestDirSink_CancelledContext(t *testing.T) {
	s, err := NewDirSink(types.OutputConfig{Dir: t.TempDir(), Format: "csv"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Write(ctx, sampleTable()), context.Canceled)
}

func TestStoreSink_AndMulti(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, types.StoreConfig{Driver: store.DriverSQLite, DSN: filepath.Join(t.TempDir(), "s.db")}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	m := Multi{&DirSink{Dir: dir, Format: FormatCSV}, StoreSink{Store: st}}
	require.NoError(t, m.Write(ctx, sampleTable()))
	// A second write replaces rather than appends.
	require.NoError(t, m.Write(ctx, sampleTable()))

	got, err := st.ReadTable(ctx, "orgs")
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "id", "note"}, got.Columns)
	assert.Len(t, got.Rows, 2)

	_, err = os.Stat(filepath.Join(dir, "orgs.csv"))
	assert.NoError(t, err)
}
