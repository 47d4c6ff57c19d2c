package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boxsync/boxsync/pkg/artifact"
	"github.com/boxsync/boxsync/pkg/extract"
	"github.com/boxsync/boxsync/pkg/remote"
	"github.com/boxsync/boxsync/pkg/session"
	"github.com/boxsync/boxsync/pkg/target"
)

type fakeSession struct {
	mu       sync.Mutex
	released int
}

func (s *fakeSession) Browser() session.Browser { return nil }
func (s *fakeSession) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
}

type fakeSessions struct {
	mu       sync.Mutex
	acquired int
	failOn   map[int]error // 1-based acquire index -> error
	sessions []*fakeSession
}

func (m *fakeSessions) Acquire(ctx context.Context, headless bool) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired++
	if err := m.failOn[m.acquired]; err != nil {
		return nil, err
	}
	s := &fakeSession{}
	m.sessions = append(m.sessions, s)
	return s, nil
}

func (m *fakeSessions) allReleased(t *testing.T) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sessions {
		if s.released != 1 {
			t.Fatalf("session %d released %d times", i, s.released)
		}
	}
}

type fakeExtractor struct {
	mu      sync.Mutex
	calls   []target.Target
	rows    map[string]extract.Rows // keyed by Target.String()
	failFor map[string]error
}

func (e *fakeExtractor) Extract(ctx context.Context, b session.Browser, t target.Target) (extract.Rows, error) {
	e.mu.Lock()
	e.calls = append(e.calls, t)
	e.mu.Unlock()
	if err := e.failFor[t.String()]; err != nil {
		return extract.Rows{}, err
	}
	if rows, ok := e.rows[t.String()]; ok {
		return rows, nil
	}
	return extract.Rows{
		Columns: []string{"Player", "PTS", "TEAM", "OPP", "GAMEID", "GAMELINK"},
		Records: [][]string{{"Someone", "12", "A", "B", "1", "link"}},
	}, nil
}

type fakeWriter struct {
	mu       sync.Mutex
	written  map[string]artifact.Artifact // StoragePath -> artifact
	writeErr error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{written: make(map[string]artifact.Artifact)}
}

func (w *fakeWriter) Write(t target.Target, rows extract.Rows) (artifact.Artifact, error) {
	if w.writeErr != nil {
		return artifact.Artifact{}, w.writeErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	a := artifact.Artifact{
		Path:        "/tmp/" + t.StoragePath(),
		StoragePath: t.StoragePath(),
		ModTime:     time.Now().UTC(),
	}
	w.written[t.StoragePath()] = a
	return a, nil
}

func (w *fakeWriter) Stat(t target.Target) (artifact.Artifact, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.written[t.StoragePath()]
	if !ok {
		return artifact.Artifact{}, errors.New("no artifact")
	}
	return a, nil
}

type fakeReconciler struct {
	mu        sync.Mutex
	remote    map[string]*remote.Entry // StoragePath -> entry
	lookups   int
	applies   int
	lookupErr error
	applyErr  error
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{remote: make(map[string]*remote.Entry)}
}

func (r *fakeReconciler) Lookup(ctx context.Context, storagePath string) (*remote.Entry, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.lookupErr != nil {
		return nil, "", r.lookupErr
	}
	return r.remote[storagePath], "folder", nil
}

func (r *fakeReconciler) Decide(local artifact.Artifact, entry *remote.Entry) remote.Decision {
	if entry == nil {
		return remote.DecisionCreate
	}
	if local.ModTime.UTC().After(entry.ModTime.UTC()) {
		return remote.DecisionUpdate
	}
	return remote.DecisionSkip
}

func (r *fakeReconciler) Apply(ctx context.Context, d remote.Decision, local artifact.Artifact, folderID string, entry *remote.Entry) (*remote.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d == remote.DecisionSkip {
		return entry, nil
	}
	r.applies++
	if r.applyErr != nil {
		return nil, r.applyErr
	}
	e := &remote.Entry{ID: "id-" + local.StoragePath, Name: local.StoragePath, ModTime: time.Now().UTC()}
	r.remote[local.StoragePath] = e
	return e, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	reports []*Report
}

func (n *fakeNotifier) Notify(ctx context.Context, report *Report) error {
	n.mu.Lock()
	n.reports = append(n.reports, report)
	n.mu.Unlock()
	return nil
}

func testTargets(t *testing.T, n int) []target.Target {
	t.Helper()
	date := target.Date{Year: 2025, Month: time.February, Day: 14}
	all, err := target.Enumerate(date,
		[]target.Division{target.DivisionOne, target.DivisionTwo, target.DivisionThree},
		[]target.Gender{target.Men, target.Women})
	if err != nil {
		t.Fatal(err)
	}
	if n > len(all) {
		t.Fatalf("only %d targets available", len(all))
	}
	return all[:n]
}

func resultFor(t *testing.T, report *Report, tgt target.Target) TargetResult {
	t.Helper()
	for _, res := range report.Results {
		if res.Target == tgt {
			return res
		}
	}
	t.Fatalf("no result for %s", tgt)
	return TargetResult{}
}

func baseConfig(sessions *fakeSessions, ex *fakeExtractor, w *fakeWriter, r *fakeReconciler) Config {
	return Config{
		Sessions:   sessions,
		Extractor:  ex,
		Writer:     w,
		Reconciler: r,
		Upload:     true,
	}
}

func TestRunUploadsNewTargets(t *testing.T) {
	sessions := &fakeSessions{}
	ex := &fakeExtractor{}
	w := newFakeWriter()
	r := newFakeReconciler()
	targets := testTargets(t, 2)

	report, err := Run(context.Background(), baseConfig(sessions, ex, w, r), targets)
	if err != nil {
		t.Fatal(err)
	}

	for _, tgt := range targets {
		res := resultFor(t, report, tgt)
		if res.Outcome != OutcomeUploaded {
			t.Fatalf("%s: expected uploaded, got %s (%v)", tgt, res.Outcome, res.Err)
		}
		if res.Rows != 1 {
			t.Fatalf("%s: expected 1 row, got %d", tgt, res.Rows)
		}
	}
	if r.applies != 2 {
		t.Fatalf("expected 2 uploads, got %d", r.applies)
	}
	sessions.allReleased(t)
}

func TestRunIsolatesFailures(t *testing.T) {
	targets := testTargets(t, 3)
	sessions := &fakeSessions{failOn: map[int]error{2: errors.New("chrome would not start")}}
	ex := &fakeExtractor{failFor: map[string]error{targets[2].String(): errors.New("boxscore never appeared")}}
	w := newFakeWriter()
	r := newFakeReconciler()

	cfg := baseConfig(sessions, ex, w, r)
	report, err := Run(context.Background(), cfg, targets)
	if err != nil {
		t.Fatal(err)
	}

	if got := resultFor(t, report, targets[0]).Outcome; got != OutcomeUploaded {
		t.Fatalf("healthy target should succeed, got %s", got)
	}
	if got := resultFor(t, report, targets[1]).Outcome; got != OutcomeSessionFailed {
		t.Fatalf("expected session failure, got %s", got)
	}
	if got := resultFor(t, report, targets[2]).Outcome; got != OutcomeExtractFailed {
		t.Fatalf("expected extract failure, got %s", got)
	}
	if len(report.Failures()) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(report.Failures()))
	}
	sessions.allReleased(t)
}

func TestRunSecondPassSkipsEverything(t *testing.T) {
	sessions := &fakeSessions{}
	ex := &fakeExtractor{}
	w := newFakeWriter()
	r := newFakeReconciler()
	targets := testTargets(t, 2)
	cfg := baseConfig(sessions, ex, w, r)

	if _, err := Run(context.Background(), cfg, targets); err != nil {
		t.Fatal(err)
	}
	extractions := len(ex.calls)

	// Second run: local artifacts exist and remote entries are newer, so
	// the pre-check satisfies every target without a single browser.
	report, err := Run(context.Background(), cfg, targets)
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range report.Results {
		if res.Outcome != OutcomePrecheckSkipped {
			t.Fatalf("%s: expected precheck skip, got %s", res.Target, res.Outcome)
		}
	}
	if len(ex.calls) != extractions {
		t.Fatalf("second run scraped: %d -> %d extractions", extractions, len(ex.calls))
	}
	if sessions.acquired != extractions {
		t.Fatalf("second run acquired sessions: %d", sessions.acquired)
	}
}

func TestRunStaleOrMissingRemoteIsRescraped(t *testing.T) {
	sessions := &fakeSessions{}
	ex := &fakeExtractor{}
	w := newFakeWriter()
	r := newFakeReconciler()
	targets := testTargets(t, 2)
	cfg := baseConfig(sessions, ex, w, r)

	if _, err := Run(context.Background(), cfg, targets); err != nil {
		t.Fatal(err)
	}

	// Age one remote copy behind the local artifact and delete the
	// other. Neither satisfies the pre-check: the stale entry is
	// reconciled as an update, the missing one as a fresh upload.
	stale := targets[0].StoragePath()
	missing := targets[1].StoragePath()
	r.remote[stale].ModTime = time.Now().UTC().Add(-48 * time.Hour)
	delete(r.remote, missing)

	report, err := Run(context.Background(), cfg, targets)
	if err != nil {
		t.Fatal(err)
	}

	if got := resultFor(t, report, targets[0]).Outcome; got != OutcomeUpdated {
		t.Fatalf("stale remote: expected updated, got %s", got)
	}
	if got := resultFor(t, report, targets[1]).Outcome; got != OutcomeUploaded {
		t.Fatalf("missing remote: expected uploaded, got %s", got)
	}
	if len(ex.calls) != 4 {
		t.Fatalf("expected both targets re-scraped, got %d extractions", len(ex.calls))
	}

	// A third pass finds both remotes fresh again and goes quiet.
	report, err = Run(context.Background(), cfg, targets)
	if err != nil {
		t.Fatal(err)
	}
	for _, res := range report.Results {
		if res.Outcome != OutcomePrecheckSkipped {
			t.Fatalf("%s: expected precheck skip after convergence, got %s", res.Target, res.Outcome)
		}
	}
	if len(ex.calls) != 4 {
		t.Fatalf("converged run scraped again: %d extractions", len(ex.calls))
	}
}

func TestRunForceScrapeBypassesPrecheck(t *testing.T) {
	sessions := &fakeSessions{}
	ex := &fakeExtractor{}
	w := newFakeWriter()
	r := newFakeReconciler()
	targets := testTargets(t, 1)
	cfg := baseConfig(sessions, ex, w, r)

	if _, err := Run(context.Background(), cfg, targets); err != nil {
		t.Fatal(err)
	}

	cfg.ForceScrape = true
	report, err := Run(context.Background(), cfg, targets)
	if err != nil {
		t.Fatal(err)
	}
	res := resultFor(t, report, targets[0])
	// Identical content means the writer kept the old mtime here too,
	// but the fake writer always stamps now, so the sync updates.
	if res.Outcome != OutcomeUpdated {
		t.Fatalf("expected update on forced re-scrape, got %s", res.Outcome)
	}
	if len(ex.calls) != 2 {
		t.Fatalf("force-scrape did not scrape again: %d calls", len(ex.calls))
	}
}

func TestRunPrecheckLookupErrorStillScrapes(t *testing.T) {
	sessions := &fakeSessions{}
	ex := &fakeExtractor{}
	w := newFakeWriter()
	r := newFakeReconciler()
	targets := testTargets(t, 1)
	cfg := baseConfig(sessions, ex, w, r)

	if _, err := Run(context.Background(), cfg, targets); err != nil {
		t.Fatal(err)
	}

	// A flaky remote must not hide work: the pre-check keeps the target.
	r.lookupErr = errors.New("remote store unreachable")
	report, err := Run(context.Background(), cfg, targets)
	if err != nil {
		t.Fatal(err)
	}
	res := resultFor(t, report, targets[0])
	if res.Outcome != OutcomeReconcileFailed {
		t.Fatalf("expected reconcile failure after scraping, got %s", res.Outcome)
	}
	if len(ex.calls) != 2 {
		t.Fatalf("lookup error skipped the scrape: %d calls", len(ex.calls))
	}
}

func TestRunLocalOnly(t *testing.T) {
	sessions := &fakeSessions{}
	ex := &fakeExtractor{}
	w := newFakeWriter()
	targets := testTargets(t, 1)

	cfg := Config{Sessions: sessions, Extractor: ex, Writer: w, Upload: false}
	report, err := Run(context.Background(), cfg, targets)
	if err != nil {
		t.Fatal(err)
	}
	if got := resultFor(t, report, targets[0]).Outcome; got != OutcomeLocalOnly {
		t.Fatalf("expected local-only, got %s", got)
	}
}

func TestRunNoGames(t *testing.T) {
	targets := testTargets(t, 1)
	sessions := &fakeSessions{}
	ex := &fakeExtractor{rows: map[string]extract.Rows{targets[0].String(): {}}}
	w := newFakeWriter()
	r := newFakeReconciler()

	report, err := Run(context.Background(), baseConfig(sessions, ex, w, r), targets)
	if err != nil {
		t.Fatal(err)
	}
	if got := resultFor(t, report, targets[0]).Outcome; got != OutcomeNoGames {
		t.Fatalf("expected no-games, got %s", got)
	}
	if len(w.written) != 0 {
		t.Fatalf("empty extraction wrote an artifact: %v", w.written)
	}
}

func TestRunCancelledContextSkipsRemainingTargets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sessions := &fakeSessions{}
	ex := &fakeExtractor{}
	w := newFakeWriter()
	r := newFakeReconciler()
	targets := testTargets(t, 3)
	cfg := baseConfig(sessions, ex, w, r)
	cfg.ForceScrape = true

	report, err := Run(ctx, cfg, targets)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected a result per target, got %d", len(report.Results))
	}
	for _, res := range report.Results {
		if res.Outcome != OutcomeCancelled {
			t.Fatalf("%s: expected cancelled, got %s", res.Target, res.Outcome)
		}
	}
	if sessions.acquired != 0 {
		t.Fatalf("cancelled run acquired %d sessions", sessions.acquired)
	}
}

func TestRunNotifiesOnFailure(t *testing.T) {
	targets := testTargets(t, 2)
	sessions := &fakeSessions{failOn: map[int]error{1: errors.New("no chrome")}}
	ex := &fakeExtractor{}
	w := newFakeWriter()
	r := newFakeReconciler()
	n := &fakeNotifier{}

	cfg := baseConfig(sessions, ex, w, r)
	cfg.Notifier = n
	cfg.Concurrency = 1

	if _, err := Run(context.Background(), cfg, targets); err != nil {
		t.Fatal(err)
	}
	if len(n.reports) != 1 {
		t.Fatalf("expected one notification, got %d", len(n.reports))
	}
	if len(n.reports[0].Failures()) != 1 {
		t.Fatalf("report should carry the failure: %+v", n.reports[0].Results)
	}
}

func TestRunQuietSuccessDoesNotNotify(t *testing.T) {
	sessions := &fakeSessions{}
	ex := &fakeExtractor{}
	w := newFakeWriter()
	r := newFakeReconciler()
	n := &fakeNotifier{}

	cfg := baseConfig(sessions, ex, w, r)
	cfg.Notifier = n

	if _, err := Run(context.Background(), cfg, testTargets(t, 1)); err != nil {
		t.Fatal(err)
	}
	if len(n.reports) != 0 {
		t.Fatalf("clean run should be quiet, got %d notifications", len(n.reports))
	}

	cfg.AlwaysNotify = true
	if _, err := Run(context.Background(), cfg, testTargets(t, 1)); err != nil {
		t.Fatal(err)
	}
	if len(n.reports) != 1 {
		t.Fatalf("always-notify run should notify, got %d", len(n.reports))
	}
}

func TestRunRequiresCollaborators(t *testing.T) {
	if _, err := Run(context.Background(), Config{}, nil); err == nil {
		t.Fatal("expected an error for missing collaborators")
	}
	cfg := Config{Sessions: &fakeSessions{}, Extractor: &fakeExtractor{}, Writer: newFakeWriter(), Upload: true}
	if _, err := Run(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected an error for upload without a reconciler")
	}
}
