package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitConfig)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		os.Exit(runRun(args))
	case "calibrate":
		os.Exit(runCalibrate(args))
	case "check":
		os.Exit(runCheck(args))
	case "version":
		fmt.Printf("fieldrun version %s\n", version)
		os.Exit(exitOK)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(exitConfig)
	}
}

func printUsage() {
	fmt.Print(`fieldrun - multi-site simulation runner and calibration bridge

Usage:
  fieldrun <command> [flags]

Commands:
  run        Execute the simulation batch over the selected sites
  calibrate  Tune model parameters against observed values
  check      Validate configuration and workspace setup
  version    Show version information
  help       Show this help message

Run flags:
  --config PATH     Workspace configuration file or directory
  --select EXPR     Override the configured selection rule
  --record VAR      Record the mean of output column VAR per site
  --watch           Show live batch progress (TUI)

Calibrate flags:
  --config PATH     Workspace configuration file or directory
  --params PATH     Parameter descriptor (YAML)
  --var NAME        Output column to calibrate (e.g. YLDG)
  --observed PATH   Observed values CSV (SiteID,value)
  --pop N           Population size
  --gens N          Generations
  --seed S          Optimizer seed

Check flags:
  --config PATH     Workspace configuration file or directory
  --params PATH     Also validate a parameter descriptor
  --strict          Treat warnings as errors
  --json            Output in JSON
`)
}
