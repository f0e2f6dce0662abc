// Package source feeds raw roster rows into the pipeline. The spreadsheet
// extraction layer proper is an external collaborator; this package fixes
// the contract (ordered rows mapping column names to raw cell values) and
// ships a delimited-text implementation of it.
package source

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"rostercal/internal/roster"
)

// RowSource hands the core a normalized list of raw rows.
type RowSource interface {
	Rows() ([]roster.Row, error)
}

// CSVSource reads rows from a delimited text file. The first non-empty
// record is the header; its cells become the column names rows are keyed
// by (lowercased, trimmed, so the config column map is case-insensitive).
type CSVSource struct {
	Path string
	// Comma is the field delimiter; zero means ','.
	Comma rune
}

// Rows implements RowSource.
func (s *CSVSource) Rows() ([]roster.Row, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open roster file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if s.Comma != 0 {
		r.Comma = s.Comma
	}
	// Roster rows are ragged in practice; length checks happen later.
	r.FieldsPerRecord = -1

	var header []string
	var rows []roster.Row
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster file %s: %w", s.Path, err)
		}
		line++

		if isBlank(record) {
			continue
		}
		if header == nil {
			header = normalizeHeader(record)
			continue
		}

		cells := make(map[string]string, len(header))
		for i, col := range header {
			if col == "" || i >= len(record) {
				continue
			}
			cells[col] = record[i]
		}
		rows = append(rows, roster.Row{Cells: cells, Line: line})
	}

	if header == nil {
		return nil, fmt.Errorf("roster file %s has no header row", s.Path)
	}
	return rows, nil
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, cell := range record {
		out[i] = strings.ToLower(strings.TrimSpace(cell))
	}
	return out
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// FileHash returns the sha256 of a source file, used to report whether
// the roster itself changed between runs.
func FileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
