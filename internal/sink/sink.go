// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sink writes named tables to their destinations: one file per
// table in a directory (CSV, YAML, or JSON), or a relational store.
package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/registry-reconciler/internal/store"
	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// Format names a file encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat validates a configured format. Empty selects CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatYAML, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown output format %q: use csv, yaml, or json", s)
}

// Sink accepts a named table and writes it.
type Sink interface {
	Write(ctx context.Context, t types.Table) error
}

// DirSink writes each table to Dir/<name>.<format>, replacing any
// previous file of that name.
type DirSink struct {
	Dir    string
	Format Format
}

// NewDirSink returns a DirSink for cfg.
func NewDirSink(cfg types.OutputConfig) (*DirSink, error) {
	f, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, errors.New("output directory is empty")
	}
	return &DirSink{Dir: cfg.Dir, Format: f}, nil
}

// Path returns the file a table named name is written to.
func (d *DirSink) Path(name string) string {
	return filepath.Join(d.Dir, name+"."+string(d.Format))
}

// Write encodes t into its file. The file is written to a temporary name
// and renamed into place.
func (d *DirSink) Write(ctx context.Context, t types.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.Name == "" {
		return errors.New("table has no name")
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	path := d.Path(t.Name)
	tmp, err := os.CreateTemp(d.Dir, "."+t.Name+"-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, d.Format, t); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}

// Encode writes t to w in format f.
func Encode(w io.Writer, f Format, t types.Table) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, t)
	case FormatYAML:
		return WriteYAML(w, t)
	case FormatJSON:
		return WriteJSON(w, t)
	}
	return fmt.Errorf("unknown output format %q", f)
}

// WriteCSV writes a header row followed by t's rows.
func WriteCSV(w io.Writer, t types.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := cw.Write(t.Values(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteYAML writes t as a list of mappings whose keys follow column order.
func WriteYAML(w io.Writer, t types.Table) error {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, r := range t.Rows {
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, c := range t.Columns {
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: c},
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: r[c]},
			)
		}
		seq.Content = append(seq.Content, m)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		return err
	}
	return enc.Close()
}

type jsonTable struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// WriteJSON writes t as {"columns": [...], "rows": [[...], ...]}.
func WriteJSON(w io.Writer, t types.Table) error {
	out := jsonTable{Columns: t.Columns, Rows: make([][]string, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = t.Values(r)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// StoreSink writes tables into a relational store, replacing the rows of
// any existing table of the same name. New tables get text columns.
type StoreSink struct {
	Store store.Store
}

// Write creates the table when needed and replaces its rows.
func (s StoreSink) Write(ctx context.Context, t types.Table) error {
	exists, err := s.Store.TableExists(ctx, t.Name)
	if err != nil {
		return err
	}
	if !exists {
		schema := make(store.Schema, len(t.Columns))
		for i, c := range t.Columns {
			schema[i] = store.Column{Name: c, Type: store.TypeText}
		}
		if err := s.Store.CreateTable(ctx, t.Name, schema); err != nil {
			return err
		}
	}
	return s.Store.ReplaceRows(ctx, t)
}

// LazyStoreSink opens the store for each write and closes it afterwards,
// so nothing touches the database until the first table is written.
type LazyStoreSink struct {
	Open func(ctx context.Context) (store.Store, error)
}

// Write implements Sink.
func (s LazyStoreSink) Write(ctx context.Context, t types.Table) error {
	st, err := s.Open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	return StoreSink{Store: st}.Write(ctx, t)
}

// Multi writes every table to each sink in turn, stopping at the first
// error.
type Multi []Sink

// Write implements Sink.
func (m Multi) Write(ctx context.Context, t types.Table) error {
	for _, s := range m {
		if err := s.Write(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
