package ingest

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	gm "github.com/avharbor/mailsheet/internal/gmail"
	"github.com/avharbor/mailsheet/internal/ledger"
	"github.com/avharbor/mailsheet/internal/retry"
	sh "github.com/avharbor/mailsheet/internal/sheets"
)

type fakeSource struct {
	pages       []gm.Page
	listCalls   int
	detailCalls []gm.MessageID
	details     map[gm.MessageID]gm.Detail
	detailErrs  map[gm.MessageID]error
	marked      []gm.MessageID
	markErr     error
	onGetDetail func()
}

func (f *fakeSource) ListUnread(ctx context.Context, pageToken string, pageSize int) (gm.Page, error) {
	_ = ctx
	_ = pageToken
	_ = pageSize
	f.listCalls++
	if len(f.pages) == 0 {
		return gm.Page{}, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *fakeSource) GetDetail(ctx context.Context, id gm.MessageID) (gm.Detail, error) {
	_ = ctx
	f.detailCalls = append(f.detailCalls, id)
	if f.onGetDetail != nil {
		f.onGetDetail()
	}
	if err, ok := f.detailErrs[id]; ok {
		return gm.Detail{}, err
	}
	return f.details[id], nil
}

func (f *fakeSource) MarkRead(ctx context.Context, id gm.MessageID) error {
	_ = ctx
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, id)
	return nil
}

type fakeSink struct {
	rows  []sh.Row
	errs  []error // consumed one per call; nil entries succeed
	calls int
}

func (f *fakeSink) Append(ctx context.Context, row sh.Row) error {
	_ = ctx
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.rows = append(f.rows, row)
	return nil
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		Sleep: func(ctx context.Context, d time.Duration) error {
			_ = ctx
			_ = d
			return nil
		},
	}
}

func plainDetail(id, from, subject, body string) gm.Detail {
	return gm.Detail{
		ID: gm.MessageID(id),
		Headers: map[string]string{
			"From":    from,
			"Subject": subject,
			"Date":    "Mon, 2 Jun 2025 10:00:00 +0000",
		},
		Payload: gm.Part{
			MimeType: "text/plain",
			Body:     base64.URLEncoding.EncodeToString([]byte(body)),
		},
	}
}

func newTestService(t *testing.T, source *fakeSource, sink *fakeSink) (*Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	led, err := ledger.Load(path)
	require.NoError(t, err)

	svc := NewService(source, sink, led, slogDiscard())
	svc.Retry = fastRetry()
	return svc, path
}

func TestRunEndToEnd(t *testing.T) {
	source := &fakeSource{
		pages: []gm.Page{{Candidates: []gm.Candidate{
			{ID: "A", Unread: true},
			{ID: "B", Unread: true},
		}}},
		details: map[gm.MessageID]gm.Detail{
			"A": plainDetail("A", "alice@example.com", "greetings", "hello"),
		},
	}
	sink := &fakeSink{}
	svc, path := newTestService(t, source, sink)
	svc.Ledger.Record("B")

	sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000})
	require.NoError(t, err)
	require.Equal(t, Summary{Committed: 1, Skipped: 1}, sum)

	// B was skipped with zero calls beyond the listing.
	require.Equal(t, []gm.MessageID{"A"}, source.detailCalls)
	require.Equal(t, []gm.MessageID{"A"}, source.marked)
	require.Len(t, sink.rows, 1)
	require.Equal(t, "alice@example.com", sink.rows[0].Sender)
	require.Equal(t, "greetings", sink.rows[0].Subject)
	require.Equal(t, "hello", sink.rows[0].Body)

	// The ledger on disk now holds both ids.
	reloaded, err := ledger.Load(path)
	require.NoError(t, err)
	require.True(t, reloaded.Contains("A"))
	require.True(t, reloaded.Contains("B"))
}

func TestRunSinkTransientExhaustion(t *testing.T) {
	transient := &googleapi.Error{Code: 503}
	source := &fakeSource{
		pages: []gm.Page{{Candidates: []gm.Candidate{
			{ID: "C", Unread: true},
			{ID: "D", Unread: true},
		}}},
		details: map[gm.MessageID]gm.Detail{
			"C": plainDetail("C", "c@example.com", "fails", "body c"),
			"D": plainDetail("D", "d@example.com", "works", "body d"),
		},
	}
	sink := &fakeSink{errs: []error{transient, transient, transient}}
	svc, path := newTestService(t, source, sink)

	sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000})
	require.NoError(t, err)
	require.Equal(t, Summary{Committed: 1, Failed: 1}, sum)

	// C: three append attempts, then no mark-read and no ledger entry.
	require.Equal(t, 4, sink.calls)
	require.Equal(t, []gm.MessageID{"D"}, source.marked)
	require.False(t, svc.Ledger.Contains("C"))
	require.True(t, svc.Ledger.Contains("D"))

	reloaded, err := ledger.Load(path)
	require.NoError(t, err)
	require.False(t, reloaded.Contains("C"))
	require.True(t, reloaded.Contains("D"))
}

func TestRunIdempotentSkip(t *testing.T) {
	source := &fakeSource{
		pages: []gm.Page{{Candidates: []gm.Candidate{{ID: "X", Unread: true}}}},
	}
	sink := &fakeSink{}
	svc, _ := newTestService(t, source, sink)
	svc.Ledger.Record("X")

	for i := 0; i < 2; i++ {
		source.pages = []gm.Page{{Candidates: []gm.Candidate{{ID: "X", Unread: true}}}}
		sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000})
		require.NoError(t, err)
		require.Equal(t, Summary{Skipped: 1}, sum)
	}

	require.Empty(t, source.detailCalls)
	require.Empty(t, source.marked)
	require.Zero(t, sink.calls)
}

func TestRunPermanentFetchFailure(t *testing.T) {
	source := &fakeSource{
		pages: []gm.Page{{Candidates: []gm.Candidate{{ID: "E", Unread: true}}}},
		detailErrs: map[gm.MessageID]error{
			"E": &googleapi.Error{Code: 404},
		},
	}
	sink := &fakeSink{}
	svc, _ := newTestService(t, source, sink)

	sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000})
	require.NoError(t, err)
	require.Equal(t, Summary{Failed: 1}, sum)
	// Permanent errors get exactly one attempt.
	require.Len(t, source.detailCalls, 1)
	require.Zero(t, sink.calls)
}

func TestRunMarkReadFailureStillCommits(t *testing.T) {
	source := &fakeSource{
		pages: []gm.Page{{Candidates: []gm.Candidate{{ID: "F", Unread: true}}}},
		details: map[gm.MessageID]gm.Detail{
			"F": plainDetail("F", "f@example.com", "sticky", "body"),
		},
		markErr: &googleapi.Error{Code: 403},
	}
	sink := &fakeSink{}
	svc, path := newTestService(t, source, sink)

	sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000})
	require.NoError(t, err)
	require.Equal(t, Summary{Committed: 1}, sum)
	require.Len(t, sink.rows, 1)

	// The row exists and the ledger holds the id; only the source-side
	// read mark is missing.
	reloaded, err := ledger.Load(path)
	require.NoError(t, err)
	require.True(t, reloaded.Contains("F"))
}

func TestRunPersistFailureAbortsRun(t *testing.T) {
	source := &fakeSource{
		pages: []gm.Page{{Candidates: []gm.Candidate{
			{ID: "G", Unread: true},
			{ID: "H", Unread: true},
		}}},
		details: map[gm.MessageID]gm.Detail{
			"G": plainDetail("G", "g@example.com", "first", "body g"),
			"H": plainDetail("H", "h@example.com", "second", "body h"),
		},
	}
	sink := &fakeSink{}

	// Parent of the state path is a regular file, so Persist must fail.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	led, err := ledger.Load(filepath.Join(blocker, "state.json"))
	require.NoError(t, err)

	svc := NewService(source, sink, led, slogDiscard())
	svc.Retry = fastRetry()

	sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000})
	require.Error(t, err)
	require.Equal(t, Summary{Failed: 1}, sum)

	// The run stopped before H and never marked G read.
	require.Equal(t, []gm.MessageID{"G"}, source.detailCalls)
	require.Empty(t, source.marked)
	require.Equal(t, 1, sink.calls)
}

func TestRunTransformSkip(t *testing.T) {
	source := &fakeSource{
		pages: []gm.Page{{Candidates: []gm.Candidate{{ID: "I", Unread: true}}}},
		details: map[gm.MessageID]gm.Detail{
			"I": {ID: "I", Headers: map[string]string{}, Payload: gm.Part{MimeType: "text/plain"}},
		},
	}
	sink := &fakeSink{}
	svc, _ := newTestService(t, source, sink)

	sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000})
	require.NoError(t, err)
	require.Equal(t, Summary{Skipped: 1}, sum)
	require.Zero(t, sink.calls)
	require.Empty(t, source.marked)
	require.False(t, svc.Ledger.Contains("I"))
}

func TestRunPagination(t *testing.T) {
	source := &fakeSource{
		pages: []gm.Page{
			{Candidates: []gm.Candidate{{ID: "P1", Unread: true}}, NextPageToken: "next"},
			{Candidates: []gm.Candidate{{ID: "P2", Unread: true}}},
		},
		details: map[gm.MessageID]gm.Detail{
			"P1": plainDetail("P1", "p@example.com", "one", "1"),
			"P2": plainDetail("P2", "p@example.com", "two", "2"),
		},
	}
	sink := &fakeSink{}
	svc, _ := newTestService(t, source, sink)

	sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000})
	require.NoError(t, err)
	require.Equal(t, 2, source.listCalls)
	require.Equal(t, Summary{Committed: 2}, sum)
}

func TestRunDryRunHasNoSideEffects(t *testing.T) {
	source := &fakeSource{
		pages: []gm.Page{{Candidates: []gm.Candidate{{ID: "J", Unread: true}}}},
		details: map[gm.MessageID]gm.Detail{
			"J": plainDetail("J", "j@example.com", "dry", "body"),
		},
	}
	sink := &fakeSink{}
	svc, path := newTestService(t, source, sink)

	sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, Summary{Skipped: 1}, sum)
	require.Zero(t, sink.calls)
	require.Empty(t, source.marked)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestRunShutdownAtItemBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := &fakeSource{
		pages: []gm.Page{{Candidates: []gm.Candidate{
			{ID: "K", Unread: true},
			{ID: "L", Unread: true},
		}}},
		details: map[gm.MessageID]gm.Detail{
			"K": plainDetail("K", "k@example.com", "first", "body k"),
			"L": plainDetail("L", "l@example.com", "second", "body l"),
		},
	}
	// Cancel while K is mid-flight: K must still be driven through
	// append, persist, and mark-read; L must not start.
	source.onGetDetail = cancel
	sink := &fakeSink{}
	svc, path := newTestService(t, source, sink)

	sum, err := svc.Run(ctx, Spec{BodyLimit: 1000})
	require.Error(t, err)
	require.Equal(t, Summary{Committed: 1}, sum)
	require.Equal(t, []gm.MessageID{"K"}, source.detailCalls)
	require.Equal(t, []gm.MessageID{"K"}, source.marked)

	reloaded, loadErr := ledger.Load(path)
	require.NoError(t, loadErr)
	require.True(t, reloaded.Contains("K"))
	require.False(t, reloaded.Contains("L"))
}

func TestRunEmptyInbox(t *testing.T) {
	source := &fakeSource{}
	sink := &fakeSink{}
	svc, _ := newTestService(t, source, sink)

	sum, err := svc.Run(context.Background(), Spec{BodyLimit: 1000})
	require.NoError(t, err)
	require.Equal(t, Summary{}, sum)
}
