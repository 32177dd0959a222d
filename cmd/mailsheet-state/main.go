// mailsheet-state inspects the processed-message ledger without
// touching Gmail or Sheets.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/avharbor/mailsheet/internal/ledger"
	"github.com/avharbor/mailsheet/internal/runtime"
)

type stateFlags struct {
	statePath string
	jsonOut   string
	showIDs   bool
}

type stateReport struct {
	Count        int       `json:"count"`
	LastUpdated  time.Time `json:"last_updated"`
	ProcessedIDs []string  `json:"processed_ids"`
}

func main() {
	flags := parseFlags()
	if err := run(flags); err != nil {
		runtime.DefaultLogger().Error("mailsheet-state failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags() stateFlags {
	statePath := flag.String("state", "state/processed_emails.json", "path to the ledger state file")
	jsonOut := flag.String("json", "", "write JSON report to path")
	showIDs := flag.Bool("ids", false, "print every processed message id")
	flag.Parse()

	return stateFlags{
		statePath: *statePath,
		jsonOut:   *jsonOut,
		showIDs:   *showIDs,
	}
}

func run(flags stateFlags) error {
	led, err := ledger.Load(flags.statePath)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	report := stateReport{
		Count:        led.Len(),
		LastUpdated:  led.LastUpdated(),
		ProcessedIDs: led.IDs(),
	}

	if flags.jsonOut != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		if err := os.WriteFile(flags.jsonOut, data, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}

	fmt.Printf("processed: %d\n", report.Count)
	if !report.LastUpdated.IsZero() {
		fmt.Printf("last updated: %s\n", report.LastUpdated.Format(time.RFC3339))
	}
	if flags.showIDs {
		for _, id := range report.ProcessedIDs {
			fmt.Println(id)
		}
	}
	return nil
}
