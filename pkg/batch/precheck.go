package batch

import (
	"context"

	"github.com/boxsync/boxsync/pkg/remote"
	"github.com/boxsync/boxsync/pkg/target"
)

// precheck drops targets whose local artifact already exists and whose
// remote copy is at least as fresh, so no browser is launched for them.
// It is purely an optimization: any doubt (no local artifact, lookup
// error, remote older) keeps the target in the work list. On a fresh
// machine with no local artifacts everything is re-scraped even when
// the remote is current; that run converges to SKIP decisions and the
// unchanged-content write keeps local mtimes behind the remote, so
// later runs pre-check clean.
func precheck(ctx context.Context, cfg Config, targets []target.Target, log Logger) (work []target.Target, satisfied []TargetResult) {
	work = make([]target.Target, 0, len(targets))
	for _, t := range targets {
		if ctx.Err() != nil {
			work = append(work, t)
			continue
		}

		local, err := cfg.Writer.Stat(t)
		if err != nil {
			work = append(work, t)
			continue
		}

		entry, _, err := cfg.Reconciler.Lookup(ctx, local.StoragePath)
		if err != nil {
			log.Warnf("Pre-check lookup failed for %s, will scrape: %v", t, err)
			work = append(work, t)
			continue
		}
		if cfg.Reconciler.Decide(local, entry) != remote.DecisionSkip {
			work = append(work, t)
			continue
		}

		log.Infof("Remote already current for %s, skipping scrape", t)
		satisfied = append(satisfied, TargetResult{Target: t, Outcome: OutcomePrecheckSkipped})
	}
	return work, satisfied
}
