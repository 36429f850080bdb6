package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/croplab/fieldrun/internal/calib"
	"github.com/croplab/fieldrun/internal/config"
	"github.com/croplab/fieldrun/internal/log"
	"github.com/croplab/fieldrun/internal/logstore"
	"github.com/croplab/fieldrun/internal/output"
	"github.com/croplab/fieldrun/internal/registry"
	"github.com/croplab/fieldrun/internal/workspace"
)

func runCalibrate(args []string) int {
	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	paramsPath := fs.String("params", "", "Parameter descriptor (YAML)")
	varName := fs.String("var", "", "Output column to calibrate")
	observedPath := fs.String("observed", "", "Observed values CSV (SiteID,value)")
	popSize := fs.Int("pop", 0, "Population size")
	gens := fs.Int("gens", 0, "Generations")
	seed := fs.Int64("seed", 0, "Optimizer seed")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return exitConfig
	}

	for flagName, v := range map[string]string{
		"params":   *paramsPath,
		"var":      *varName,
		"observed": *observedPath,
	} {
		if v == "" {
			fmt.Fprintf(os.Stderr, "calibrate requires --%s\n", flagName)
			return exitConfig
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitConfig
	}

	log.Setup(cfg.Workspace.LogLevel)
	logger := log.WithComponent("main")

	params, err := calib.LoadParamSet(*paramsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load parameters: %v\n", err)
		return exitConfig
	}

	observed, err := output.LoadObserved(*observedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load observed values: %v\n", err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := logstore.Open(ctx, cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open log store", "path", cfg.Store.Path, "error", err)
		return exitConfig
	}
	defer store.Close()

	reg := registry.New()
	tag := cfg.Model.OutputTypes[0]
	if err := reg.AddRoutine(*varName, meanRoutine(tag, *varName)); err != nil {
		logger.Error("failed to register routine", "error", err)
		return exitConfig
	}
	if err := reg.AddObjective("mae", maeObjective(store, *varName, *varName, observed)); err != nil {
		logger.Error("failed to register objective", "error", err)
		return exitConfig
	}

	ws, err := workspace.New(cfg, store, reg)
	if err != nil {
		logger.Error("invalid workspace configuration", "error", err)
		return exitConfig
	}

	problem, err := calib.NewProblem(cfg, ws, params)
	if err != nil {
		logger.Error("cannot build calibration problem", "error", err)
		return exitConfig
	}

	opt := &calib.Optimizer{PopSize: *popSize, Generations: *gens, Seed: *seed}
	logger.Info("calibration starting",
		"dimension", problem.Dimension(), "var", *varName, "sites_observed", len(observed))

	sol, err := opt.Minimize(ctx, problem)
	if err != nil {
		logger.Error("calibration failed", "error", err)
		return exitRun
	}

	// Persist the winning vector into the target file.
	if err := params.Apply(sol.X); err != nil {
		logger.Error("failed to apply best vector", "error", err)
		return exitRun
	}
	if err := params.Save(); err != nil {
		logger.Error("failed to save best parameters", "error", err)
		return exitRun
	}

	fmt.Printf("calibration finished after %d evaluations\n", sol.Evaluations)
	fmt.Printf("  best fitness %v\n", sol.Fitness)
	for i, p := range params.Params {
		fmt.Printf("  %-10s %.6f\n", p.Name, sol.X[i])
	}
	fmt.Printf("  written to %s\n", params.Target)
	return exitOK
}
