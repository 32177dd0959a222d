package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/avharbor/mailsheet/internal/config"
	"github.com/avharbor/mailsheet/internal/ingest"
	"github.com/avharbor/mailsheet/internal/ledger"
	"github.com/avharbor/mailsheet/internal/rate"
	"github.com/avharbor/mailsheet/internal/retry"
	"github.com/avharbor/mailsheet/internal/runtime"
)

type ingestFlags struct {
	configPath string
	dryRun     bool
	rps        int
	pageSize   int
}

func main() {
	flags := parseFlags()
	log := runtime.DefaultLogger()
	summary, err := run(flags)
	if err != nil {
		log.Error("mailsheet-ingest failed", "error", err)
		os.Exit(1)
	}
	if summary.Failed > 0 {
		log.Error("run finished with failures",
			"committed", summary.Committed, "skipped", summary.Skipped, "failed", summary.Failed)
		os.Exit(1)
	}
}

func parseFlags() ingestFlags {
	configPath := flag.String("config", "", "path to mailsheet config file (optional)")
	dryRun := flag.Bool("dry-run", false, "list and parse only; skip append, mark-read, and ledger writes")
	rps := flag.Int("rps", 0, "override max requests per second")
	pageSize := flag.Int("page-size", 0, "override Gmail list page size")
	flag.Parse()

	return ingestFlags{
		configPath: *configPath,
		dryRun:     *dryRun,
		rps:        *rps,
		pageSize:   *pageSize,
	}
}

func run(flags ingestFlags) (ingest.Summary, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return ingest.Summary{}, fmt.Errorf("load config: %w", err)
	}
	if flags.rps > 0 {
		cfg.RPS = flags.rps
	}
	if flags.pageSize > 0 {
		cfg.PageSize = flags.pageSize
	}

	// A corrupt ledger aborts before any message is touched.
	led, err := ledger.Load(cfg.StateFile)
	if err != nil {
		return ingest.Summary{}, fmt.Errorf("load ledger: %w", err)
	}

	source, err := runtime.NewGmailClient(ctx, cfg.GmailAuthDir)
	if err != nil {
		return ingest.Summary{}, fmt.Errorf("create gmail client: %w", err)
	}
	sink, err := runtime.NewSheetsSink(ctx, cfg.CredentialsFile, cfg.SheetsTokenFile, cfg.SpreadsheetID, cfg.SheetName)
	if err != nil {
		return ingest.Summary{}, fmt.Errorf("create sheets sink: %w", err)
	}

	log := runtime.DefaultLogger()
	svc := ingest.NewService(source, sink, led, log)
	svc.Retry = retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		Multiplier:  cfg.BackoffMultiplier,
		Jitter:      cfg.Jitter,
	}
	if cfg.RPS > 0 {
		bucket := rate.NewTokenBucket(cfg.RPS)
		defer bucket.Stop()
		svc.Limiter = bucket
	}

	spec := ingest.Spec{
		BodyLimit: cfg.BodyLimit,
		PageSize:  cfg.PageSize,
		DryRun:    flags.dryRun,
	}
	summary, runErr := svc.Run(ctx, spec)
	if runErr != nil {
		return summary, fmt.Errorf("run ingest: %w", runErr)
	}
	return summary, nil
}
