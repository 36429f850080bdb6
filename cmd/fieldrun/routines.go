package main

import (
	"context"
	"fmt"
	"math"

	"github.com/croplab/fieldrun/internal/logstore"
	"github.com/croplab/fieldrun/internal/output"
	"github.com/croplab/fieldrun/internal/registry"
	"github.com/croplab/fieldrun/internal/site"
)

// worstFitness is returned when no site produced a usable value, so the
// optimizer discards the candidate instead of crashing the search.
const worstFitness = 1e30

// meanRoutine records, per site, the mean of one column of the collected
// output file for the given output type.
func meanRoutine(tag, column string) registry.RoutineFunc {
	return func(s *site.Site) (logstore.Metrics, error) {
		path, ok := s.Outputs[tag]
		if !ok {
			return nil, fmt.Errorf("site %s has no %s output", s.ID, tag)
		}
		tbl, err := output.ReadTable(path)
		if err != nil {
			return nil, err
		}
		v, err := tbl.Mean(column)
		if err != nil {
			return nil, err
		}
		return logstore.Metrics{column: v}, nil
	}
}

// maeObjective computes the mean absolute error between recorded means and
// observed values over the sites both sides cover.
func maeObjective(store *logstore.Store, routine, metric string, observed map[string]float64) registry.ObjectiveFunc {
	return func(ctx context.Context) ([]float64, error) {
		entries, err := store.Fetch(ctx, routine)
		if err != nil {
			return nil, err
		}

		var sum float64
		var count int
		for _, e := range entries {
			obs, ok := observed[e.SiteID]
			if !ok {
				continue
			}
			sim, ok := e.Metrics[metric]
			if !ok || logstore.IsMissing(sim) {
				continue
			}
			sum += math.Abs(sim - obs)
			count++
		}
		if count == 0 {
			return []float64{worstFitness}, nil
		}
		return []float64{sum / float64(count)}, nil
	}
}
