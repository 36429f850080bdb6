// Package calib bridges the workspace to external optimizers: bounded
// parameter sets written to model input files, and a vector-in fitness-out
// problem adapter over a full batch run.
package calib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Param is one tunable model parameter with its search bounds.
type Param struct {
	Name  string  `yaml:"name"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
	Value float64 `yaml:"value"`
}

// ParamSet is an ordered collection of parameters backed by one target file
// the simulation executable reads. Entry order is the vector order used by
// Apply and Bounds.
type ParamSet struct {
	Target string  `yaml:"target"`
	Params []Param `yaml:"parameters"`

	dir string
}

// LoadParamSet reads a parameter descriptor. The target path resolves
// relative to the descriptor's directory. Min <= Value <= Max must hold for
// every entry.
func LoadParamSet(path string) (*ParamSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameter descriptor: %w", err)
	}

	var ps ParamSet
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("parse parameter descriptor %s: %w", path, err)
	}
	ps.dir = filepath.Dir(path)

	if ps.Target == "" {
		return nil, fmt.Errorf("parameter descriptor %s: target file is required", path)
	}
	if !filepath.IsAbs(ps.Target) {
		ps.Target = filepath.Join(ps.dir, ps.Target)
	}
	if len(ps.Params) == 0 {
		return nil, fmt.Errorf("parameter descriptor %s: no parameters", path)
	}

	seen := make(map[string]bool, len(ps.Params))
	for i, p := range ps.Params {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("parameter descriptor %s: entry %d has no name", path, i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("parameter descriptor %s: duplicate parameter %q", path, name)
		}
		seen[name] = true
		if p.Min > p.Max {
			return nil, fmt.Errorf("parameter %s: min %g exceeds max %g", name, p.Min, p.Max)
		}
		if p.Value < p.Min || p.Value > p.Max {
			return nil, fmt.Errorf("parameter %s: value %g outside [%g, %g]", name, p.Value, p.Min, p.Max)
		}
		ps.Params[i].Name = name
	}
	return &ps, nil
}

// Len returns the number of parameters in the set.
func (ps *ParamSet) Len() int { return len(ps.Params) }

// Bounds returns the per-parameter lower and upper bounds in entry order.
func (ps *ParamSet) Bounds() (lo, hi []float64) {
	lo = make([]float64, len(ps.Params))
	hi = make([]float64, len(ps.Params))
	for i, p := range ps.Params {
		lo[i], hi[i] = p.Min, p.Max
	}
	return lo, hi
}

// Values returns the current parameter values in entry order.
func (ps *ParamSet) Values() []float64 {
	out := make([]float64, len(ps.Params))
	for i, p := range ps.Params {
		out[i] = p.Value
	}
	return out
}

// Apply sets every parameter from x, in entry order. The vector must have
// exactly Len components and each must lie within its bounds.
func (ps *ParamSet) Apply(x []float64) error {
	if len(x) != len(ps.Params) {
		return fmt.Errorf("parameter vector has %d components, want %d", len(x), len(ps.Params))
	}
	for i, v := range x {
		p := ps.Params[i]
		if v < p.Min || v > p.Max {
			return fmt.Errorf("parameter %s: value %g outside [%g, %g]", p.Name, v, p.Min, p.Max)
		}
	}
	for i, v := range x {
		ps.Params[i].Value = v
	}
	return nil
}

// Save writes the target file the executable reads: one "NAME VALUE" line
// per parameter, in entry order. The write is atomic via rename.
func (ps *ParamSet) Save() error {
	var b strings.Builder
	for _, p := range ps.Params {
		fmt.Fprintf(&b, "%-10s %.6f\n", p.Name, p.Value)
	}

	tmp := ps.Target + ".tmp"
	if err := os.MkdirAll(filepath.Dir(ps.Target), 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write parameter file: %w", err)
	}
	if err := os.Rename(tmp, ps.Target); err != nil {
		return fmt.Errorf("replace parameter file: %w", err)
	}
	return nil
}
