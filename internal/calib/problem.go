package calib

import (
	"context"
	"fmt"

	"github.com/croplab/fieldrun/internal/config"
	"github.com/croplab/fieldrun/internal/selection"
	"github.com/croplab/fieldrun/internal/workspace"
)

// Evaluator executes one full batch and reports its aggregate fitness.
// Satisfied by the workspace orchestrator.
type Evaluator interface {
	Run(ctx context.Context) (*workspace.Result, error)
}

// Problem presents one or more parameter sets plus an Evaluator as a bounded
// continuous optimization problem. The decision vector is the concatenation
// of every set's parameters in registration order.
type Problem struct {
	sets []*ParamSet
	eval Evaluator
	dim  int
}

// NewProblem wires parameter sets to an evaluator. Construction fails when
// the configured selection rule is Random without an explicit seed: the
// optimizer contract requires equal vectors to yield equal fitness, and a
// reseeded working set breaks that.
func NewProblem(cfg *config.Config, eval Evaluator, sets ...*ParamSet) (*Problem, error) {
	if eval == nil {
		return nil, fmt.Errorf("calibration problem requires an evaluator")
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("calibration problem requires at least one parameter set")
	}

	rule, err := selection.Parse(cfg.Sites.Select)
	if err != nil {
		return nil, err
	}
	if rule.IsRandom() && cfg.Sites.Seed == nil {
		return nil, fmt.Errorf("selection rule %q is random: calibration requires an explicit sites.seed", rule.String())
	}

	dim := 0
	for _, ps := range sets {
		dim += ps.Len()
	}
	if dim == 0 {
		return nil, fmt.Errorf("calibration problem has no tunable parameters")
	}
	return &Problem{sets: sets, eval: eval, dim: dim}, nil
}

// Dimension returns the length of the decision vector.
func (p *Problem) Dimension() int { return p.dim }

// Bounds returns concatenated lower and upper bounds in vector order.
func (p *Problem) Bounds() (lo, hi []float64) {
	lo = make([]float64, 0, p.dim)
	hi = make([]float64, 0, p.dim)
	for _, ps := range p.sets {
		l, h := ps.Bounds()
		lo = append(lo, l...)
		hi = append(hi, h...)
	}
	return lo, hi
}

// Values returns the current decision vector.
func (p *Problem) Values() []float64 {
	out := make([]float64, 0, p.dim)
	for _, ps := range p.sets {
		out = append(out, ps.Values()...)
	}
	return out
}

// Fitness applies x to the parameter sets, persists their target files, runs
// one batch, and returns the objective vector. Components are minimized.
func (p *Problem) Fitness(ctx context.Context, x []float64) ([]float64, error) {
	if len(x) != p.dim {
		return nil, fmt.Errorf("decision vector has %d components, want %d", len(x), p.dim)
	}

	offset := 0
	for _, ps := range p.sets {
		if err := ps.Apply(x[offset : offset+ps.Len()]); err != nil {
			return nil, err
		}
		if err := ps.Save(); err != nil {
			return nil, err
		}
		offset += ps.Len()
	}

	result, err := p.eval.Run(ctx)
	if err != nil {
		return nil, err
	}
	if len(result.Fitness) == 0 {
		return nil, fmt.Errorf("batch produced no fitness: no objective is registered")
	}
	return result.Fitness, nil
}
