// Package site defines the simulation unit: one field with its four input
// files and the outputs produced for it.
package site

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Input-file roles, in the fixed order the staging layer writes them.
const (
	RoleSchedule = "schedule" // management schedule (.OPC)
	RoleWeather  = "weather"  // daily weather (.DLY)
	RoleSoil     = "soil"     // soil profile (.SOL)
	RoleSite     = "site"     // site-physical description (.SIT)
)

var siteIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,9}$`)

// Site identifies one simulation unit. The record is immutable except for
// Outputs, which is reset at the start of each run and filled by the
// execution adapter after a successful run.
type Site struct {
	ID           string
	SchedulePath string
	WeatherPath  string
	SoilPath     string
	SitePath     string

	// Outputs maps an output-type tag (e.g. "ACY") to the absolute path of
	// the produced file. Populated only after a Completed run.
	Outputs map[string]string
}

// New builds a Site from explicit input paths. When id is empty it is derived
// from the site-physical file basename.
func New(id, schedule, weather, soil, sitePhys string) (*Site, error) {
	if id == "" {
		base := filepath.Base(sitePhys)
		id = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if !siteIDPattern.MatchString(id) {
		return nil, fmt.Errorf("invalid site ID %q: must be non-empty, alphanumeric, at most 9 characters", id)
	}
	return &Site{
		ID:           id,
		SchedulePath: schedule,
		WeatherPath:  weather,
		SoilPath:     soil,
		SitePath:     sitePhys,
		Outputs:      make(map[string]string),
	}, nil
}

// Inputs returns the four input-file roles in fixed order.
func (s *Site) Inputs() []struct{ Role, Path string } {
	return []struct{ Role, Path string }{
		{RoleSchedule, s.SchedulePath},
		{RoleWeather, s.WeatherPath},
		{RoleSoil, s.SoilPath},
		{RoleSite, s.SitePath},
	}
}

// ResetOutputs discards output paths from a previous run.
func (s *Site) ResetOutputs() {
	s.Outputs = make(map[string]string)
}

func (s *Site) String() string {
	return fmt.Sprintf("site %s (schedule=%s weather=%s soil=%s site=%s)",
		s.ID, s.SchedulePath, s.WeatherPath, s.SoilPath, s.SitePath)
}
