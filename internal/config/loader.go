package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a workspace configuration file. Relative paths in the
// file are resolved against the file's directory so a workspace can be moved
// without editing its config.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Dir = filepath.Dir(absPath)

	resolvePaths(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolvePaths rewrites relative paths against the config directory.
func resolvePaths(cfg *Config) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(cfg.Dir, p)
	}
	cfg.Model.Executable = resolve(cfg.Model.Executable)
	cfg.Sites.Info = resolve(cfg.Sites.Info)
	cfg.Sites.ScheduleDir = resolve(cfg.Sites.ScheduleDir)
	cfg.Sites.WeatherDir = resolve(cfg.Sites.WeatherDir)
	cfg.Sites.SoilDir = resolve(cfg.Sites.SoilDir)
	cfg.Sites.SiteDir = resolve(cfg.Sites.SiteDir)
	cfg.OutputDir = resolve(cfg.OutputDir)
	cfg.LogDir = resolve(cfg.LogDir)
	cfg.CacheDir = resolve(cfg.CacheDir)
	cfg.Store.Path = resolve(cfg.Store.Path)
}

func validate(cfg *Config) error {
	if cfg.Model.Executable == "" {
		return fmt.Errorf("model.executable is required")
	}
	if cfg.Model.Duration < 1 {
		return fmt.Errorf("model.duration must be >= 1 year, got %d", cfg.Model.Duration)
	}
	if cfg.Model.Timeout < 0 {
		return fmt.Errorf("model.timeout must be >= 0, got %v", cfg.Model.Timeout)
	}
	if cfg.Model.StartDate != "" {
		if _, err := time.Parse("2006-01-02", cfg.Model.StartDate); err != nil {
			return fmt.Errorf("model.start_date %q is not YYYY-MM-DD: %w", cfg.Model.StartDate, err)
		}
	}
	if len(cfg.Model.OutputTypes) == 0 {
		return fmt.Errorf("model.output_types must name at least one output tag")
	}
	if cfg.Sites.Info == "" {
		return fmt.Errorf("sites.info is required")
	}
	if cfg.Workspace.Workers < 0 {
		return fmt.Errorf("workspace.workers must be >= 0, got %d", cfg.Workspace.Workers)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled")
	}
	return nil
}

// StartDate returns the parsed simulation start date, or the zero time when
// the config leaves it to whatever the staged control files already say.
func (c *Config) StartDate() time.Time {
	if c.Model.StartDate == "" {
		return time.Time{}
	}
	t, _ := time.Parse("2006-01-02", c.Model.StartDate)
	return t
}
