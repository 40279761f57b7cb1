package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

// PrintReport prints the event log and assertion results to the terminal.
func (r *Runner) PrintReport() {
	pterm.DefaultSection.Println("Scenario: " + r.scenario.Name)
	if r.scenario.Description != "" {
		pterm.Println(r.scenario.Description)
	}

	log := pterm.TableData{{"ms", "source", "event", "message"}}
	for _, entry := range r.EventLog() {
		log = append(log, []string{fmt.Sprint(entry.TimeMs), entry.Source, entry.EventType, firstLine(entry.Message)})
	}
	pterm.DefaultTable.WithHasHeader().WithData(log).Render()

	r.mu.Lock()
	results := append([]AssertionResult(nil), r.assertionResults...)
	r.mu.Unlock()

	passed := 0
	for _, res := range results {
		if res.Passed {
			passed++
			pterm.Success.Printfln("%s: %s", res.Assertion.Type, res.Message)
		} else {
			pterm.Error.Printfln("%s: %s", res.Assertion.Type, res.Message)
		}
	}
	pterm.Info.Printfln("%d/%d assertions passed", passed, len(results))
}

// WriteReport writes a markdown report into dir and returns its path.
func (r *Runner) WriteReport(dir string) (string, error) {
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	slug := strings.ReplaceAll(strings.ToLower(r.scenario.Name), " ", "_")
	if slug == "" {
		slug = "scenario"
	}
	path := filepath.Join(dir, fmt.Sprintf("report_%s_%s.md", slug, timestamp))

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(r.generateReport(timestamp)), 0644); err != nil {
		return "", fmt.Errorf("error writing report: %w", err)
	}
	return path, nil
}

func (r *Runner) generateReport(timestamp string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Scenario Report: %s\n\n", r.scenario.Name))
	sb.WriteString(fmt.Sprintf("Run at %s, scripted duration %s.\n\n", timestamp, r.scenario.Duration()))
	if r.scenario.Description != "" {
		sb.WriteString(r.scenario.Description + "\n\n")
	}

	r.mu.Lock()
	results := append([]AssertionResult(nil), r.assertionResults...)
	tiles := r.tiles
	r.mu.Unlock()

	sb.WriteString("## Assertions\n\n")
	sb.WriteString("| Result | Type | Detail |\n|---|---|---|\n")
	failed := 0
	for _, res := range results {
		status := "PASS"
		if !res.Passed {
			status = "**FAIL**"
			failed++
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s |\n", status, res.Assertion.Type, res.Message))
	}
	sb.WriteString("\n")

	sb.WriteString("## Tiles\n\n")
	sb.WriteString(fmt.Sprintf("- **Attempted:** %d\n", tiles.Attempted))
	sb.WriteString(fmt.Sprintf("- **Acknowledged:** %d\n", tiles.Succeeded))
	sb.WriteString(fmt.Sprintf("- **Failed:** %d\n", tiles.Failed))
	sb.WriteString(fmt.Sprintf("- **Skipped by inventory:** %d\n", tiles.Skipped))
	for _, f := range tiles.Failures {
		sb.WriteString(fmt.Sprintf("  - %s: %v\n", f.Label, f.Err))
	}
	sb.WriteString("\n")

	sb.WriteString("## Timeline\n\n")
	for _, entry := range r.EventLog() {
		sb.WriteString(fmt.Sprintf("- [%dms] %s %s: %s\n", entry.TimeMs, entry.Source, entry.EventType, firstLine(entry.Message)))
	}
	sb.WriteString("\n")

	if failed == 0 {
		sb.WriteString("## All assertions passed\n")
	} else {
		sb.WriteString(fmt.Sprintf("## %d assertion(s) failed\n", failed))
	}
	return sb.String()
}

func firstLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}
