package config

import "time"

// Config is the complete fieldrun workspace configuration. It is loaded once
// per workspace instance; re-loading replaces the record wholesale.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Model     ModelConfig     `yaml:"model"`
	Sites     SitesConfig     `yaml:"sites"`
	OutputDir string          `yaml:"output_dir"`
	LogDir    string          `yaml:"log_dir"`
	CacheDir  string          `yaml:"cache_dir"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api,omitempty"`

	// Dir is the absolute directory of the config file, set by Load.
	// Relative paths in the file are resolved against it.
	Dir string `yaml:"-"`
}

// WorkspaceConfig defines run-wide settings.
type WorkspaceConfig struct {
	Name         string `yaml:"name"`
	LogLevel     string `yaml:"log_level"`
	Workers      int    `yaml:"workers"`
	ClearLogs    bool   `yaml:"clear_logs"`
	ClearOutputs bool   `yaml:"clear_outputs"`
}

// ModelConfig describes the external simulation program and the derived
// run settings staged for it.
type ModelConfig struct {
	Executable  string        `yaml:"executable"`
	StartDate   string        `yaml:"start_date"` // YYYY-MM-DD
	Duration    int           `yaml:"duration"`   // simulated years, >= 1
	OutputTypes []string      `yaml:"output_types"`
	Timeout     time.Duration `yaml:"timeout"` // per task; 0 means no limit
}

// SitesConfig locates the sites-info table, the four input-file directory
// roots, and the selection rule applied at run start.
type SitesConfig struct {
	Info        string `yaml:"info"`
	Select      string `yaml:"select"`
	Seed        *int64 `yaml:"seed,omitempty"`
	ScheduleDir string `yaml:"schedule_dir"`
	WeatherDir  string `yaml:"weather_dir"`
	SoilDir     string `yaml:"soil_dir"`
	SiteDir     string `yaml:"site_dir"`
}

// StoreConfig defines metric log storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the optional read-only HTTP surface.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Name:      "fieldrun",
			LogLevel:  "info",
			Workers:   0, // 0 means derive from hardware concurrency
			ClearLogs: true,
		},
		Model: ModelConfig{
			Duration:    1,
			OutputTypes: []string{"ACY"},
			Timeout:     300 * time.Second,
		},
		Sites: SitesConfig{
			Select: "", // empty rule selects every site
		},
		OutputDir: "./output",
		LogDir:    "./log",
		CacheDir:  "./.cache",
		Store: StoreConfig{
			Path: "./.cache/metrics.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8686",
		},
	}
}
