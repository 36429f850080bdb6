// Package registry holds the user-supplied per-site routines and cross-site
// objectives the scheduler invokes without knowing what they measure.
package registry

import (
	"context"
	"fmt"

	"github.com/croplab/fieldrun/internal/logstore"
	"github.com/croplab/fieldrun/internal/site"
)

// RoutineFunc post-processes one completed site and returns its metrics.
// Target or observed data a routine needs is captured in its closure; there
// is no ambient shared state.
type RoutineFunc func(s *site.Site) (logstore.Metrics, error)

// ObjectiveFunc aggregates across sites by reading the log store and returns
// a finite ordered sequence of fitness components. When no valid data exists
// it must return a sentinel worst value rather than an error; an error here
// breaks the optimizer contract and is treated as fatal.
type ObjectiveFunc func(ctx context.Context) ([]float64, error)

// Routine is a named per-site post-processing callable.
type Routine struct {
	Name string
	Fn   RoutineFunc
}

// Objective is a named cross-site aggregation callable.
type Objective struct {
	Name string
	Fn   ObjectiveFunc
}

// Registry stores routines and objectives in registration order.
type Registry struct {
	routines   []Routine
	objectives []Objective
	names      map[string]bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// AddRoutine registers a per-site routine. Names are unique across routines
// and objectives.
func (r *Registry) AddRoutine(name string, fn RoutineFunc) error {
	if err := r.claim(name, fn == nil); err != nil {
		return err
	}
	r.routines = append(r.routines, Routine{Name: name, Fn: fn})
	return nil
}

// AddObjective registers a cross-site objective.
func (r *Registry) AddObjective(name string, fn ObjectiveFunc) error {
	if err := r.claim(name, fn == nil); err != nil {
		return err
	}
	r.objectives = append(r.objectives, Objective{Name: name, Fn: fn})
	return nil
}

func (r *Registry) claim(name string, nilFn bool) error {
	if name == "" {
		return fmt.Errorf("registration name is empty")
	}
	if nilFn {
		return fmt.Errorf("callable for %q is nil", name)
	}
	if r.names[name] {
		return fmt.Errorf("name %q is already registered", name)
	}
	r.names[name] = true
	return nil
}

// Routines returns registered routines in registration order.
func (r *Registry) Routines() []Routine {
	return r.routines
}

// Objectives returns registered objectives in registration order.
func (r *Registry) Objectives() []Objective {
	return r.objectives
}

// HasObjective reports whether at least one objective is registered.
func (r *Registry) HasObjective() bool {
	return len(r.objectives) > 0
}
