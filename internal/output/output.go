// Package output parses the annual summary tables the simulation executable
// produces: a fixed preamble, a header row of column names, then
// whitespace-separated value rows.
package output

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// preambleLines is the fixed banner length before the header row.
const preambleLines = 10

// Table is one parsed output file.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ReadTable parses an annual output file. An empty table (no data rows) is
// an error, matching the executable's empty-output failure mode.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for i := 0; i < preambleLines; i++ {
		if !sc.Scan() {
			return nil, fmt.Errorf("output file %s: truncated preamble", path)
		}
	}

	if !sc.Scan() {
		return nil, fmt.Errorf("output file %s: missing header row", path)
	}
	columns := strings.Fields(sc.Text())
	if len(columns) == 0 {
		return nil, fmt.Errorf("output file %s: empty header row", path)
	}

	var rows [][]string
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		rows = append(rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read output file %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("output file %s: no data rows", path)
	}
	return &Table{Columns: columns, Rows: rows}, nil
}

// Mean averages a named column over all rows. Rows where the column is
// absent or not numeric are skipped; a column with no numeric values is an
// error.
func (t *Table) Mean(column string) (float64, error) {
	idx := -1
	for i, c := range t.Columns {
		if strings.EqualFold(c, column) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("column %q not in output table (have %v)", column, t.Columns)
	}

	var sum float64
	var count int
	for _, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		v, err := strconv.ParseFloat(row[idx], 64)
		if err != nil {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return 0, fmt.Errorf("column %q has no numeric values", column)
	}
	return sum / float64(count), nil
}

// LoadObserved reads a two-column CSV (SiteID, value) of observed targets
// keyed by site.
func LoadObserved(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open observed values: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read observed header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("observed values %s: need SiteID and value columns", path)
	}

	out := make(map[string]float64)
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("observed values line %d: %w", line, err)
		}
		id := strings.TrimSpace(record[0])
		v, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("observed values line %d: bad value %q", line, record[1])
		}
		out[id] = v
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("observed values %s has no rows", path)
	}
	return out, nil
}
