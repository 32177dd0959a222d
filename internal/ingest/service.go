// Package ingest drives the unread-message pipeline: list candidates,
// skip anything the ledger holds, fetch and normalize, append to the
// sheet, persist the ledger, then mark the source message read.
//
// The ledger is persisted immediately after every successful append and
// before the mark-read call, so a crash at any point can never replay
// an append on a later run. The cost is the narrower anomaly of a
// recorded-but-still-unread message, which is logged and harmless.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	gm "github.com/avharbor/mailsheet/internal/gmail"
	"github.com/avharbor/mailsheet/internal/ledger"
	"github.com/avharbor/mailsheet/internal/parse"
	"github.com/avharbor/mailsheet/internal/rate"
	"github.com/avharbor/mailsheet/internal/retry"
	sh "github.com/avharbor/mailsheet/internal/sheets"
)

const defaultPageSize = 100

// state tracks how far one candidate made it through the pipeline.
type state int

const (
	stateListed state = iota
	stateChecked
	stateTransformed
	stateAppended
	stateCommitted
	stateConsumed
	stateSkipped
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateListed:
		return "listed"
	case stateChecked:
		return "checked"
	case stateTransformed:
		return "transformed"
	case stateAppended:
		return "appended"
	case stateCommitted:
		return "committed"
	case stateConsumed:
		return "consumed"
	case stateSkipped:
		return "skipped"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Spec configures one ingestion pass.
type Spec struct {
	BodyLimit int
	PageSize  int
	DryRun    bool
}

// Summary reports the outcome of one pass. A pass with Failed > 0
// should exit non-zero so schedulers can alert on partial failure.
type Summary struct {
	Committed int
	Skipped   int
	Failed    int
}

// Service executes ingestion passes.
type Service struct {
	Source  gm.Client
	Sink    sh.Sink
	Ledger  *ledger.Ledger
	Retry   retry.Policy
	Limiter rate.Limiter
	Log     *slog.Logger
}

// NewService constructs a Service with sane defaults.
func NewService(source gm.Client, sink sh.Sink, led *ledger.Ledger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Source: source,
		Sink:   sink,
		Ledger: led,
		Retry:  retry.Default(),
		Log:    log,
	}
}

func (s *Service) wait(ctx context.Context) error {
	if s.Limiter == nil {
		return nil
	}
	return s.Limiter.Wait(ctx)
}

// Run performs one full pass over currently unread messages,
// processing candidates strictly one at a time in listing order. The
// returned error is non-nil only for run-scoped failures (listing,
// ledger persistence, shutdown); per-item failures are counted in the
// Summary and logged, and do not abort the pass.
func (s *Service) Run(ctx context.Context, spec Spec) (Summary, error) {
	var sum Summary

	candidates, err := s.listAll(ctx, spec)
	if err != nil {
		return sum, fmt.Errorf("list unread: %w", err)
	}
	if len(candidates) == 0 {
		s.Log.Info("no unread messages")
		return sum, nil
	}
	s.Log.Info("processing unread messages", "count", len(candidates))

	for _, cand := range candidates {
		// Shutdown is honored only between items; once an item's row
		// is appended it is always driven through persist and mark-read.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sum, fmt.Errorf("run interrupted: %w", ctxErr)
		}
		st, itemErr := s.processOne(ctx, cand, spec)
		switch st {
		case stateSkipped:
			sum.Skipped++
		case stateFailed:
			sum.Failed++
		case stateCommitted, stateConsumed:
			sum.Committed++
		}
		if itemErr != nil {
			return sum, itemErr
		}
	}

	s.Log.Info("run complete",
		"committed", sum.Committed, "skipped", sum.Skipped, "failed", sum.Failed)
	return sum, nil
}

// listAll pages through the unread listing until exhausted.
func (s *Service) listAll(ctx context.Context, spec Spec) ([]gm.Candidate, error) {
	pageSize := spec.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	var all []gm.Candidate
	pageToken := ""
	for {
		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		var page gm.Page
		err := s.Retry.Do(ctx, "list unread", func(ctx context.Context) error {
			var listErr error
			page, listErr = s.Source.ListUnread(ctx, pageToken, pageSize)
			return listErr
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Candidates...)
		if page.NextPageToken == "" {
			return all, nil
		}
		pageToken = page.NextPageToken
	}
}

// processOne walks one candidate through the state machine. The
// returned error is run-fatal (ledger persist failure or shutdown
// before the durability boundary); everything else folds into the
// returned state.
func (s *Service) processOne(ctx context.Context, cand gm.Candidate, spec Spec) (state, error) {
	id := string(cand.ID)
	log := s.Log.With("message_id", id)

	// Checked: a ledgered id is skipped with no further side effects.
	// No detail fetch, no source touch.
	st := stateChecked
	if s.Ledger.Contains(id) {
		log.Info("skipping already processed message")
		return stateSkipped, nil
	}

	// Transformed: fetch full detail, derive the normalized record.
	if err := s.wait(ctx); err != nil {
		return st, fmt.Errorf("run interrupted: %w", err)
	}
	var detail gm.Detail
	err := s.Retry.Do(ctx, "fetch detail", func(ctx context.Context) error {
		var getErr error
		detail, getErr = s.Source.GetDetail(ctx, cand.ID)
		return getErr
	})
	if err != nil {
		log.Error("message failed", "step", st.String(), "error", err)
		return stateFailed, nil
	}
	rec, ok := parse.Message(detail, spec.BodyLimit)
	if !ok {
		log.Warn("nothing extractable, skipping message")
		return stateSkipped, nil
	}
	st = stateTransformed

	if spec.DryRun {
		log.Info("dry-run", "sender", rec.Sender, "subject", rec.Subject)
		return stateSkipped, nil
	}

	// Appended: the durability boundary. Once this succeeds the row
	// exists downstream no matter what later steps do.
	if err := s.wait(ctx); err != nil {
		return st, fmt.Errorf("run interrupted: %w", err)
	}
	row := sh.Row{Sender: rec.Sender, Subject: rec.Subject, Date: rec.Date, Body: rec.Body}
	err = s.Retry.Do(ctx, "append row", func(ctx context.Context) error {
		return s.Sink.Append(ctx, row)
	})
	if err != nil {
		log.Error("message failed", "step", st.String(), "error", err)
		return stateFailed, nil
	}
	st = stateAppended

	// Committed: record and persist before touching the source again,
	// so a crash from here on can never replay the append.
	s.Ledger.Record(id)
	if err := s.Ledger.Persist(); err != nil {
		log.Error("ledger persist failed after append, aborting run", "step", st.String(), "error", err)
		return stateFailed, fmt.Errorf("persist ledger for %s: %w", id, err)
	}
	st = stateCommitted

	// Consumed: best effort. The row exists and the ledger holds the
	// id; a message left unread is an anomaly, not a correctness bug.
	if err := s.wait(ctx); err != nil {
		log.Warn("row appended but mark read skipped", "error", err)
		return st, nil
	}
	err = s.Retry.Do(ctx, "mark read", func(ctx context.Context) error {
		return s.Source.MarkRead(ctx, cand.ID)
	})
	if err != nil {
		log.Warn("row appended but mark read failed", "error", err)
		return st, nil
	}
	st = stateConsumed
	log.Info("message committed", "subject", rec.Subject)
	return st, nil
}
