package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/user/papersync/config"
	"github.com/user/papersync/logger"
	"github.com/user/papersync/scenario"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Path to scenario JSON file")
	reportDir := flag.String("report", "", "Write a markdown report into this directory")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Println("Usage: replay --scenario <path-to-scenario.json> [--report <dir>]")
		fmt.Println("\nExample:")
		fmt.Println("  go run ./cmd/replay --scenario scenario/testdata/link_loss.json")
		os.Exit(1)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Bad configuration: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	s, err := scenario.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}

	fmt.Printf("=== Running Scenario: %s ===\n", s.Name)
	fmt.Printf("Description: %s\n", s.Description)
	fmt.Printf("Events: %d\n", len(s.Timeline))
	fmt.Printf("Duration: %v\n\n", s.Duration())

	if problems := s.Validate(); len(problems) > 0 {
		pterm.Error.Println("Scenario validation failed:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		os.Exit(1)
	}

	runner := scenario.NewRunner(s, cfg)
	if err := runner.Setup(); err != nil {
		log.Fatalf("Failed to setup scenario: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("Executing timeline...")
	if err := runner.Run(ctx); err != nil {
		runner.Close()
		log.Fatalf("Failed to run scenario: %v", err)
	}

	results := runner.CheckAssertions()
	runner.Close()
	runner.PrintReport()

	if *reportDir != "" {
		path, err := runner.WriteReport(*reportDir)
		if err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
		pterm.Info.Println("Report written to " + path)
	}

	if scenario.Passed(results) {
		pterm.Success.Println("All assertions passed!")
		return
	}
	pterm.Error.Println("Some assertions failed")
	os.Exit(1)
}
