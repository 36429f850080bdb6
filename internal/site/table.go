package site

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Dirs holds the directory roots the sites-info table resolves against.
type Dirs struct {
	Schedule string
	Weather  string
	Soil     string
	Site     string
}

// LoadTable reads a sites-info CSV keyed by SiteID and resolves each row into
// a Site. Required columns: SiteID, opc, dly, soil; a column value may omit
// its extension, in which case the conventional one is appended. The
// site-physical file is always <SiteID>.SIT under dirs.Site. Row order is
// preserved. A referenced file that does not exist is a load error.
func LoadTable(path string, dirs Dirs) ([]*Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sites-info table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read sites-info header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"siteid", "opc", "dly", "soil"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("sites-info table missing required column %q", required)
		}
	}

	var sites []*Site
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sites-info line %d: %w", line, err)
		}

		id := strings.TrimSpace(record[col["siteid"]])
		if seen[id] {
			return nil, fmt.Errorf("sites-info line %d: duplicate SiteID %q", line, id)
		}

		s, err := New(id,
			resolveEntry(dirs.Schedule, record[col["opc"]], id, ".OPC"),
			resolveEntry(dirs.Weather, record[col["dly"]], id, ".DLY"),
			resolveEntry(dirs.Soil, record[col["soil"]], id, ".SOL"),
			resolveEntry(dirs.Site, "", id, ".SIT"),
		)
		if err != nil {
			return nil, fmt.Errorf("sites-info line %d: %w", line, err)
		}

		for _, in := range s.Inputs() {
			if _, err := os.Stat(in.Path); err != nil {
				return nil, fmt.Errorf("site %s: %s file not found: %s", s.ID, in.Role, in.Path)
			}
		}

		seen[id] = true
		sites = append(sites, s)
	}

	if len(sites) == 0 {
		return nil, fmt.Errorf("sites-info table %s has no rows", path)
	}
	return sites, nil
}

// resolveEntry turns a table cell into a path under dir. An empty cell falls
// back to the site ID.
func resolveEntry(dir, cell, siteID, ext string) string {
	name := strings.TrimSpace(cell)
	if name == "" {
		name = siteID
	}
	if !strings.EqualFold(filepath.Ext(name), ext) {
		name += ext
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}
