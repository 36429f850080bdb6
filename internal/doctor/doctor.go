// Package doctor validates fieldrun configuration and workspace setup.
package doctor

import (
	"fmt"
	"os"

	"github.com/croplab/fieldrun/internal/calib"
	"github.com/croplab/fieldrun/internal/config"
	"github.com/croplab/fieldrun/internal/selection"
	"github.com/croplab/fieldrun/internal/site"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the filesystem.
type Doctor struct {
	cfg        *config.Config
	paramPaths []string
}

// New creates a Doctor. paramPaths optionally names parameter descriptors to
// check alongside the workspace config.
func New(cfg *config.Config, paramPaths ...string) *Doctor {
	return &Doctor{cfg: cfg, paramPaths: paramPaths}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateExecutable(r)
	d.validateSelection(r)
	d.validateSitesTable(r)
	d.validateParamDescriptors(r)
	d.warnMissingDirs(r)
	d.warnRandomWithoutSeed(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateExecutable checks presence and mode of the simulation binary.
func (d *Doctor) validateExecutable(r *Result) {
	info, err := os.Stat(d.cfg.Model.Executable)
	if err != nil {
		d.addError(r, "model", "model.executable",
			fmt.Sprintf("executable not found: %s", d.cfg.Model.Executable))
		return
	}
	if info.IsDir() {
		d.addError(r, "model", "model.executable",
			fmt.Sprintf("executable path is a directory: %s", d.cfg.Model.Executable))
		return
	}
	if info.Mode().Perm()&0o111 == 0 {
		d.addError(r, "model", "model.executable",
			fmt.Sprintf("file is not executable: %s", d.cfg.Model.Executable))
	}
}

// validateSelection checks the selection rule parses.
func (d *Doctor) validateSelection(r *Result) {
	if _, err := selection.Parse(d.cfg.Sites.Select); err != nil {
		d.addError(r, "sites", "sites.select", err.Error())
	}
}

// validateSitesTable loads the sites-info table, which resolves and
// stat-checks every referenced input file.
func (d *Doctor) validateSitesTable(r *Result) {
	sites, err := site.LoadTable(d.cfg.Sites.Info, site.Dirs{
		Schedule: d.cfg.Sites.ScheduleDir,
		Weather:  d.cfg.Sites.WeatherDir,
		Soil:     d.cfg.Sites.SoilDir,
		Site:     d.cfg.Sites.SiteDir,
	})
	if err != nil {
		d.addError(r, "sites", "sites.info", err.Error())
		return
	}

	rule, err := selection.Parse(d.cfg.Sites.Select)
	if err != nil {
		return // already reported
	}
	if _, err := rule.Apply(sites, selection.DefaultSeed); err != nil {
		d.addError(r, "sites", "sites.select",
			fmt.Sprintf("rule does not fit the table (%d sites): %v", len(sites), err))
	}
}

// validateParamDescriptors loads each descriptor and rechecks its bounds.
func (d *Doctor) validateParamDescriptors(r *Result) {
	for _, path := range d.paramPaths {
		if _, err := calib.LoadParamSet(path); err != nil {
			d.addError(r, "calibration", "params", err.Error())
		}
	}
}

// warnMissingDirs flags workspace directories that do not exist yet. The
// orchestrator creates them on demand, so these are warnings, not errors.
func (d *Doctor) warnMissingDirs(r *Result) {
	dirs := map[string]string{
		"output_dir": d.cfg.OutputDir,
		"log_dir":    d.cfg.LogDir,
		"cache_dir":  d.cfg.CacheDir,
	}
	for field, dir := range dirs {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			d.addWarning(r, "workspace", field,
				fmt.Sprintf("directory does not exist yet (created on first run): %s", dir))
		}
	}
}

// warnRandomWithoutSeed flags unreproducible random selection.
func (d *Doctor) warnRandomWithoutSeed(r *Result) {
	rule, err := selection.Parse(d.cfg.Sites.Select)
	if err != nil {
		return
	}
	if rule.IsRandom() && d.cfg.Sites.Seed == nil {
		d.addWarning(r, "sites", "sites.seed",
			"random selection without an explicit seed uses the fixed default; set sites.seed for calibration")
	}
}
