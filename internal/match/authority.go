// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package match

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/registry-reconciler/pkg/types"
)

// DefaultNameColumn is the authoritative list column holding names.
const DefaultNameColumn = "overall_organisation"

// Authority is a loaded authoritative list.
type Authority struct {
	// NameColumn is the column entry names were read from.
	NameColumn string

	// Columns lists the other columns in source order.
	Columns []string

	Entries []types.AuthorityEntry
}

// LoadAuthorityFile reads the authoritative list from a CSV file with a
// header row, or from a YAML file holding a list of string maps. Rows
// with every cell blank are skipped.
func LoadAuthorityFile(path, nameColumn string) (Authority, error) {
	if nameColumn == "" {
		nameColumn = DefaultNameColumn
	}
	f, err := os.Open(path)
	if err != nil {
		return Authority{}, fmt.Errorf("opening authority file: %w", err)
	}
	defer f.Close()

	var a Authority
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		a, err = ReadAuthorityCSV(f, nameColumn)
	case ".yaml", ".yml":
		a, err = ReadAuthorityYAML(f, nameColumn)
	default:
		return Authority{}, fmt.Errorf("authority file %s: unsupported extension (use .csv, .yaml, or .yml)", path)
	}
	if err != nil {
		return Authority{}, fmt.Errorf("authority file %s: %w", path, err)
	}
	return a, nil
}

// ReadAuthorityCSV reads a CSV authoritative list from r.
func ReadAuthorityCSV(r io.Reader, nameColumn string) (Authority, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return Authority{}, errors.New("empty file")
	}
	if err != nil {
		return Authority{}, fmt.Errorf("reading header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	nameIdx := slices.Index(header, nameColumn)
	if nameIdx < 0 {
		return Authority{}, fmt.Errorf("name column %q not in header", nameColumn)
	}

	a := Authority{NameColumn: nameColumn}
	for i, h := range header {
		if i != nameIdx {
			a.Columns = append(a.Columns, h)
		}
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Authority{}, fmt.Errorf("reading row %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		e := types.AuthorityEntry{Fields: make(map[string]string, len(header)-1)}
		for i, h := range header {
			v := ""
			if i < len(rec) {
				v = strings.TrimSpace(rec[i])
			}
			if i == nameIdx {
				e.Name = v
			} else {
				e.Fields[h] = v
			}
		}
		a.Entries = append(a.Entries, e)
	}
	return a, nil
}

// ReadAuthorityYAML reads a YAML authoritative list from r. Column order
// follows the first entry's key order.
func ReadAuthorityYAML(r io.Reader, nameColumn string) (Authority, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return Authority{}, errors.New("empty file")
		}
		return Authority{}, fmt.Errorf("parsing YAML: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.SequenceNode {
		return Authority{}, errors.New("expected a list of entries")
	}

	a := Authority{NameColumn: nameColumn}
	seen := map[string]bool{nameColumn: true}
	for i, item := range doc.Content[0].Content {
		if item.Kind != yaml.MappingNode {
			return Authority{}, fmt.Errorf("entry %d: expected a mapping", i)
		}
		e := types.AuthorityEntry{Fields: make(map[string]string)}
		found := false
		for k := 0; k+1 < len(item.Content); k += 2 {
			key, val := item.Content[k].Value, strings.TrimSpace(item.Content[k+1].Value)
			if key == nameColumn {
				e.Name = val
				found = true
				continue
			}
			e.Fields[key] = val
			if !seen[key] {
				seen[key] = true
				a.Columns = append(a.Columns, key)
			}
		}
		if !found {
			return Authority{}, fmt.Errorf("entry %d: missing name column %q", i, nameColumn)
		}
		a.Entries = append(a.Entries, e)
	}
	return a, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// MatchTable renders matches as a Table: the entity's title, identifier,
// and format, the authority name and score, then the authority's other
// columns.
func MatchTable(name string, a Authority, res Result) types.Table {
	cols := append([]string{"title", "analytics_identifier", "format", a.NameColumn, "score"}, a.Columns...)
	t := types.Table{Name: name, Columns: cols, Rows: make([]types.Row, len(res.Matches))}
	for i, m := range res.Matches {
		row := types.Row{
			"title":                m.Primary.Title,
			"analytics_identifier": m.Primary.AnalyticsIdentifier,
			"format":               m.Primary.Format,
			a.NameColumn:           m.Secondary.Name,
			"score":                formatScore(m.Score),
		}
		for _, c := range a.Columns {
			row[c] = m.Secondary.Fields[c]
		}
		t.Rows[i] = row
	}
	return t
}

// UnmatchedTable renders unclaimed authority entries as a Table.
func UnmatchedTable(name string, a Authority, res Result) types.Table {
	cols := append([]string{a.NameColumn, "reason", "best_score"}, a.Columns...)
	t := types.Table{Name: name, Columns: cols, Rows: make([]types.Row, len(res.SecondaryUnmatched))}
	for i, u := range res.SecondaryUnmatched {
		row := types.Row{
			a.NameColumn: u.Entry.Name,
			"reason":     string(u.Reason),
			"best_score": formatScore(u.BestScore),
		}
		for _, c := range a.Columns {
			row[c] = u.Entry.Fields[c]
		}
		t.Rows[i] = row
	}
	return t
}

func formatScore(s float64) string {
	return strconv.FormatFloat(s, 'f', 1, 64)
}
