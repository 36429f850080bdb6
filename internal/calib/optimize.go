package calib

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/croplab/fieldrun/internal/log"
)

// Optimizer is a small differential-evolution driver over a Problem. Any
// external optimizer can call Problem directly; this one makes the bridge
// usable out of the box.
type Optimizer struct {
	PopSize     int     // population size, default 10 per dimension (min 8)
	Generations int     // default 50
	F           float64 // differential weight, default 0.7
	CR          float64 // crossover probability, default 0.9
	Seed        int64   // RNG seed, default 1
}

// Solution is the best vector found and its fitness.
type Solution struct {
	X           []float64
	Fitness     []float64
	Evaluations int
}

type individual struct {
	x       []float64
	fitness []float64
}

// score collapses a fitness vector for comparison. Components are summed;
// any non-finite component sorts last.
func score(fitness []float64) float64 {
	var sum float64
	for _, v := range fitness {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return math.Inf(1)
		}
		sum += v
	}
	return sum
}

func (o *Optimizer) defaults(dim int) Optimizer {
	cfg := *o
	if cfg.PopSize <= 0 {
		cfg.PopSize = 10 * dim
	}
	if cfg.PopSize < 8 {
		cfg.PopSize = 8
	}
	if cfg.Generations <= 0 {
		cfg.Generations = 50
	}
	if cfg.F <= 0 {
		cfg.F = 0.7
	}
	if cfg.CR <= 0 {
		cfg.CR = 0.9
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return cfg
}

// Minimize evolves a seeded population within the problem bounds and returns
// the best individual seen. Evaluations run sequentially; each one is a full
// batch, so the population budget dominates wall time.
func (o *Optimizer) Minimize(ctx context.Context, p *Problem) (*Solution, error) {
	cfg := o.defaults(p.Dimension())
	lo, hi := p.Bounds()
	rng := rand.New(rand.NewSource(cfg.Seed))
	logger := log.WithComponent("calib")

	evals := 0
	evaluate := func(x []float64) ([]float64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		evals++
		return p.Fitness(ctx, x)
	}

	pop := make([]individual, cfg.PopSize)
	for i := range pop {
		x := make([]float64, p.Dimension())
		for d := range x {
			x[d] = lo[d] + rng.Float64()*(hi[d]-lo[d])
		}
		fitness, err := evaluate(x)
		if err != nil {
			return nil, fmt.Errorf("initial population: %w", err)
		}
		pop[i] = individual{x: x, fitness: fitness}
	}

	best := pop[0]
	for _, ind := range pop[1:] {
		if score(ind.fitness) < score(best.fitness) {
			best = ind
		}
	}

	for gen := 1; gen <= cfg.Generations; gen++ {
		for i := range pop {
			a, b, c := sampleDistinct(rng, len(pop), i)

			trial := make([]float64, p.Dimension())
			forced := rng.Intn(p.Dimension())
			for d := range trial {
				if d == forced || rng.Float64() < cfg.CR {
					v := pop[a].x[d] + cfg.F*(pop[b].x[d]-pop[c].x[d])
					trial[d] = clamp(v, lo[d], hi[d])
				} else {
					trial[d] = pop[i].x[d]
				}
			}

			fitness, err := evaluate(trial)
			if err != nil {
				return nil, fmt.Errorf("generation %d: %w", gen, err)
			}
			if score(fitness) < score(pop[i].fitness) {
				pop[i] = individual{x: trial, fitness: fitness}
				if score(fitness) < score(best.fitness) {
					best = pop[i]
				}
			}
		}
		logger.Info("generation complete", "generation", gen, "best", score(best.fitness), "evaluations", evals)
	}

	sol := &Solution{
		X:           append([]float64(nil), best.x...),
		Fitness:     append([]float64(nil), best.fitness...),
		Evaluations: evals,
	}
	return sol, nil
}

// sampleDistinct picks three distinct population indices, none equal to skip.
func sampleDistinct(rng *rand.Rand, n, skip int) (int, int, int) {
	picked := [3]int{}
	for i := 0; i < 3; {
		v := rng.Intn(n)
		if v == skip {
			continue
		}
		dup := false
		for j := 0; j < i; j++ {
			if picked[j] == v {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		picked[i] = v
		i++
	}
	return picked[0], picked[1], picked[2]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
