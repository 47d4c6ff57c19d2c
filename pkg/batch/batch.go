// Package batch orchestrates a scrape-and-sync run over a set of
// targets. It owns failure isolation and concurrency; the actual
// scraping, writing and syncing live behind small collaborator
// interfaces so each can be tested alone.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/boxsync/boxsync/pkg/artifact"
	"github.com/boxsync/boxsync/pkg/extract"
	"github.com/boxsync/boxsync/pkg/remote"
	"github.com/boxsync/boxsync/pkg/session"
	"github.com/boxsync/boxsync/pkg/target"
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Session is the slice of a browser session the runner needs.
type Session interface {
	Browser() session.Browser
	Release()
}

// SessionManager acquires browser sessions. One session is scoped to
// exactly one target.
type SessionManager interface {
	Acquire(ctx context.Context, headless bool) (Session, error)
}

// Sessions adapts session.Manager to SessionManager.
type Sessions struct {
	Manager *session.Manager
}

func (s Sessions) Acquire(ctx context.Context, headless bool) (Session, error) {
	sess, err := s.Manager.Acquire(ctx, headless)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// ArtifactWriter persists extracted rows locally.
type ArtifactWriter interface {
	Write(t target.Target, rows extract.Rows) (artifact.Artifact, error)
	Stat(t target.Target) (artifact.Artifact, error)
}

// Reconciler syncs a local artifact against the remote store.
type Reconciler interface {
	Lookup(ctx context.Context, storagePath string) (*remote.Entry, string, error)
	Decide(local artifact.Artifact, entry *remote.Entry) remote.Decision
	Apply(ctx context.Context, d remote.Decision, local artifact.Artifact, folderID string, entry *remote.Entry) (*remote.Entry, error)
}

// Notifier delivers the end-of-run report somewhere humans look.
type Notifier interface {
	Notify(ctx context.Context, report *Report) error
}

// Outcome classifies what happened to a single target.
type Outcome int

const (
	// OutcomeUploaded means a fresh artifact was created remotely.
	OutcomeUploaded Outcome = iota
	// OutcomeUpdated means the remote copy was overwritten in place.
	OutcomeUpdated
	// OutcomeSkipped means the remote copy was already current.
	OutcomeSkipped
	// OutcomePrecheckSkipped means the remote was already current
	// before scraping, so no browser was launched at all.
	OutcomePrecheckSkipped
	// OutcomeNoGames means the scoreboard was legitimately empty.
	OutcomeNoGames
	// OutcomeLocalOnly means upload was disabled and the artifact was
	// written locally.
	OutcomeLocalOnly
	// OutcomeCancelled means the run was cancelled before this target
	// started.
	OutcomeCancelled
	OutcomeSessionFailed
	OutcomeExtractFailed
	OutcomeWriteFailed
	OutcomeReconcileFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUploaded:
		return "uploaded"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	case OutcomePrecheckSkipped:
		return "precheck-skipped"
	case OutcomeNoGames:
		return "no-games"
	case OutcomeLocalOnly:
		return "local-only"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSessionFailed:
		return "session-failed"
	case OutcomeExtractFailed:
		return "extract-failed"
	case OutcomeWriteFailed:
		return "write-failed"
	case OutcomeReconcileFailed:
		return "reconcile-failed"
	}
	return "unknown"
}

// Failure reports whether the outcome counts against the run.
// Cancellation is deliberate, not a failure.
func (o Outcome) Failure() bool {
	switch o {
	case OutcomeSessionFailed, OutcomeExtractFailed, OutcomeWriteFailed, OutcomeReconcileFailed:
		return true
	}
	return false
}

// TargetResult is the per-target line of the run report.
type TargetResult struct {
	Target  target.Target
	Outcome Outcome
	// Rows is the number of player records extracted, when scraping
	// happened.
	Rows int
	Err  error
}

// Report summarizes one batch run.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []TargetResult
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failures returns the results that count as failures.
func (r *Report) Failures() []TargetResult {
	var failed []TargetResult
	for _, res := range r.Results {
		if res.Outcome.Failure() {
			failed = append(failed, res)
		}
	}
	return failed
}

// ByOutcome counts results per outcome.
func (r *Report) ByOutcome() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// Config holds everything Run needs for a single batch.
type Config struct {
	Sessions   SessionManager
	Extractor  extract.Extractor
	Writer     ArtifactWriter
	Reconciler Reconciler // required when Upload is true
	Notifier   Notifier   // optional

	// Upload enables the remote sync leg. Off, targets end LocalOnly.
	Upload bool
	// ForceScrape disables the pre-scrape remote check.
	ForceScrape bool
	Headless    bool
	Concurrency int // defaults to 1 if <= 0
	// AlwaysNotify sends the report even when nothing failed.
	AlwaysNotify bool
	Log          Logger // optional; nil = no logging
}

// Run processes every target and returns a complete report. A target
// failure is recorded, never propagated: the error return covers only
// configuration problems that prevent the run from starting.
func Run(ctx context.Context, cfg Config, targets []target.Target) (*Report, error) {
	if cfg.Sessions == nil || cfg.Extractor == nil || cfg.Writer == nil {
		return nil, errors.New("batch: sessions, extractor and writer are required")
	}
	if cfg.Upload && cfg.Reconciler == nil {
		return nil, errors.New("batch: upload enabled but no reconciler configured")
	}
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	report := &Report{StartedAt: time.Now().UTC()}

	work := targets
	if cfg.Upload && !cfg.ForceScrape {
		var prechecked []TargetResult
		work, prechecked = precheck(ctx, cfg, targets, log)
		report.Results = append(report.Results, prechecked...)
	}

	report.Results = append(report.Results, processTargetsConcurrently(ctx, cfg, work, concurrency, log)...)
	report.FinishedAt = time.Now().UTC()

	failed := len(report.Failures())
	log.Infof("Batch finished: %d targets, %d failed, took %s", len(report.Results), failed, report.Duration().Round(time.Second))

	if cfg.Notifier != nil && (failed > 0 || cfg.AlwaysNotify) {
		if err := cfg.Notifier.Notify(ctx, report); err != nil {
			log.Warnf("Could not deliver run notification: %v", err)
		}
	}

	return report, nil
}

// processTargetsConcurrently runs targets through a worker pool. Workers
// stop picking up new targets once the context is cancelled; in-flight
// targets finish.
func processTargetsConcurrently(ctx context.Context, cfg Config, targets []target.Target, concurrency int, log Logger) []TargetResult {
	if len(targets) == 0 {
		return nil
	}

	targetChan := make(chan target.Target, len(targets))

	var mu sync.Mutex
	results := make([]TargetResult, 0, len(targets))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range targetChan {
				var res TargetResult
				if ctx.Err() != nil {
					res = TargetResult{Target: t, Outcome: OutcomeCancelled, Err: ctx.Err()}
				} else {
					res = processOneTarget(ctx, cfg, t, log)
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

	for _, t := range targets {
		targetChan <- t
	}
	close(targetChan)
	wg.Wait()

	return results
}

// processOneTarget walks one target through the full pipeline: acquire a
// session, extract, write the artifact, and (when enabled) sync it.
func processOneTarget(ctx context.Context, cfg Config, t target.Target, log Logger) TargetResult {
	log.Infof("Processing %s", t)

	sess, err := cfg.Sessions.Acquire(ctx, cfg.Headless)
	if err != nil {
		log.Errorf("No browser session for %s: %v", t, err)
		return TargetResult{Target: t, Outcome: OutcomeSessionFailed, Err: err}
	}
	defer sess.Release()

	rows, err := cfg.Extractor.Extract(ctx, sess.Browser(), t)
	if err != nil {
		log.Errorf("Extraction failed for %s: %v", t, err)
		return TargetResult{Target: t, Outcome: OutcomeExtractFailed, Err: err}
	}
	if rows.Len() == 0 {
		log.Infof("No games for %s", t)
		return TargetResult{Target: t, Outcome: OutcomeNoGames}
	}

	local, err := cfg.Writer.Write(t, rows)
	if err != nil {
		log.Errorf("Could not write artifact for %s: %v", t, err)
		return TargetResult{Target: t, Outcome: OutcomeWriteFailed, Rows: rows.Len(), Err: err}
	}

	if !cfg.Upload {
		return TargetResult{Target: t, Outcome: OutcomeLocalOnly, Rows: rows.Len()}
	}

	outcome, err := syncArtifact(ctx, cfg.Reconciler, local)
	if err != nil {
		log.Errorf("Sync failed for %s: %v", t, err)
		return TargetResult{Target: t, Outcome: OutcomeReconcileFailed, Rows: rows.Len(), Err: err}
	}
	return TargetResult{Target: t, Outcome: outcome, Rows: rows.Len()}
}

func syncArtifact(ctx context.Context, r Reconciler, local artifact.Artifact) (Outcome, error) {
	entry, folderID, err := r.Lookup(ctx, local.StoragePath)
	if err != nil {
		return OutcomeReconcileFailed, err
	}
	d := r.Decide(local, entry)
	if _, err := r.Apply(ctx, d, local, folderID, entry); err != nil {
		return OutcomeReconcileFailed, err
	}
	switch d {
	case remote.DecisionCreate:
		return OutcomeUploaded, nil
	case remote.DecisionUpdate:
		return OutcomeUpdated, nil
	default:
		return OutcomeSkipped, nil
	}
}
