package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/croplab/fieldrun/internal/api"
	"github.com/croplab/fieldrun/internal/config"
	"github.com/croplab/fieldrun/internal/log"
	"github.com/croplab/fieldrun/internal/logstore"
	"github.com/croplab/fieldrun/internal/registry"
	"github.com/croplab/fieldrun/internal/tui/watch"
	"github.com/croplab/fieldrun/internal/workspace"
)

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	selectExpr := fs.String("select", "", "Override the configured selection rule")
	recordVar := fs.String("record", "", "Record the mean of this output column per site")
	watchFlag := fs.Bool("watch", false, "Show live batch progress")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitConfig
	}
	if *selectExpr != "" {
		cfg.Sites.Select = *selectExpr
	}

	log.Setup(cfg.Workspace.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("fieldrun starting", "version", version, "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := logstore.Open(ctx, cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open log store", "path", cfg.Store.Path, "error", err)
		return exitConfig
	}
	defer store.Close()

	reg := registry.New()
	if *recordVar != "" {
		tag := cfg.Model.OutputTypes[0]
		if err := reg.AddRoutine(*recordVar, meanRoutine(tag, *recordVar)); err != nil {
			logger.Error("failed to register routine", "error", err)
			return exitConfig
		}
	}

	ws, err := workspace.New(cfg, store, reg)
	if err != nil {
		logger.Error("invalid workspace configuration", "error", err)
		return exitConfig
	}

	if cfg.API.Enabled {
		server := api.New(api.Config{Listen: cfg.API.Listen}, ws.Progress, store, log.WithComponent("api"))
		go func() {
			if err := server.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("API server stopped", "error", err)
			}
		}()
	}

	if *watchFlag {
		return runWithWatch(ctx, ws, logger)
	}

	result, err := ws.Run(ctx)
	if err != nil {
		logger.Error("run failed", "error", err)
		return exitRun
	}
	printSummary(result)
	return exitOK
}

// runWithWatch runs the batch on a background goroutine while the TUI owns
// the terminal.
func runWithWatch(ctx context.Context, ws *workspace.Workspace, logger *slog.Logger) int {
	type runOutcome struct {
		result *workspace.Result
		err    error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, err := ws.Run(ctx)
		done <- runOutcome{result, err}
	}()

	program := tea.NewProgram(watch.New(ws.Hub(), ws.Progress))
	if _, err := program.Run(); err != nil {
		logger.Error("watch TUI failed", "error", err)
	}

	outcome := <-done
	if outcome.err != nil {
		logger.Error("run failed", "error", outcome.err)
		return exitRun
	}
	printSummary(outcome.result)
	return exitOK
}

func printSummary(result *workspace.Result) {
	fmt.Printf("run %s finished in %s\n", result.RunID, result.Elapsed.Round(time.Millisecond))
	fmt.Printf("  selected %d  completed %d  failed %d  timed out %d\n",
		result.Summary.Selected, result.Summary.Completed,
		result.Summary.Failed, result.Summary.TimedOut)
	if len(result.Fitness) > 0 {
		fmt.Printf("  fitness %v\n", result.Fitness)
	}
}
