package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/croplab/fieldrun/internal/config"
	"github.com/croplab/fieldrun/internal/doctor"
)

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	paramsPath := fs.String("params", "", "Also validate a parameter descriptor")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return exitConfig
	}

	var paramPaths []string
	if *paramsPath != "" {
		paramPaths = append(paramPaths, *paramsPath)
	}

	result := doctor.New(cfg, paramPaths...).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return exitRun
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return exitConfig
	}
	if *strict && len(result.Warnings) > 0 {
		return exitConfig
	}
	return exitOK
}
