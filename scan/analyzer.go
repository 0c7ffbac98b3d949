package scan

import (
	"context"
	"errors"
)

// analyzeFork produces the ForkAnalysis for a single fork. Remote failures
// are contained here: NotFound and exhausted transient errors become skip
// markers, RateLimited triggers a gate wait and a retry of the same call.
// The only error returned is a context error, which means the result must
// not be recorded as processed.
func (r *Runner) analyzeFork(ctx context.Context, upstream RepoInfo, fork ForkRef) (ForkAnalysis, error) {
	a := ForkAnalysis{
		Fork:        fork,
		Comparisons: make(map[string]ComparisonResult),
		Include:     true,
	}

	branches := []BranchRef{{Name: fork.DefaultBranch}}
	if r.opts.CheckBranches {
		var fetched []BranchRef
		err := r.gated(ctx, func() error {
			var ferr error
			fetched, ferr = r.client.ListBranches(ctx, fork.Owner, fork.Name)
			return ferr
		})
		switch {
		case err == nil:
			branches = fetched
		case errors.Is(err, ErrNotFound):
			r.log.Infof("%s: gone, skipping", fork.FullName)
			return skipped(fork, SkipNotFound), nil
		case ctx.Err() != nil:
			return a, ctx.Err()
		default:
			r.log.Warnf("%s: branch listing failed after retries: %v", fork.FullName, err)
			return skipped(fork, SkipUnavailable), nil
		}
	}
	a.Branches = branches

	if !r.opts.Compare {
		// No comparison data means no basis to skip.
		for _, b := range branches {
			a.Comparisons[b.Name] = ComparisonResult{Branch: b, Status: StatusUnavailable}
		}
		return a, nil
	}

	diffEvidence := false
	for _, b := range branches {
		if ctx.Err() != nil {
			return a, ctx.Err()
		}
		var ahead, behind int
		err := r.gated(ctx, func() error {
			var cerr error
			ahead, behind, cerr = r.client.Compare(ctx, upstream, fork.Owner, b)
			return cerr
		})
		switch {
		case err == nil:
			res := ComparisonResult{
				Branch:   b,
				AheadBy:  ahead,
				BehindBy: behind,
				Status:   classifyComparison(ahead, behind),
			}
			a.Comparisons[b.Name] = res
			if res.Status != StatusIdentical {
				diffEvidence = true
			}
		case ctx.Err() != nil:
			return a, ctx.Err()
		default:
			// 404 here usually means unrelated histories, not a vanished
			// fork, so the branch is marked unavailable rather than the
			// whole fork skipped.
			a.Comparisons[b.Name] = ComparisonResult{Branch: b, Status: StatusUnavailable}
		}
	}

	if r.opts.SkipNoDiff && !diffEvidence {
		a.Include = false
		a.SkipReason = SkipNoDiff
	}
	return a, nil
}

// gated runs one classified client call, waiting on the quota gate and
// retrying whenever the call reports RateLimited.
func (r *Runner) gated(ctx context.Context, call func() error) error {
	for {
		err := call()
		if err == nil || !errors.Is(err, ErrRateLimited) {
			return err
		}
		r.counters.RateLimitWaits.Add(1)
		if gerr := r.gate.EnsureCapacity(ctx); gerr != nil {
			return gerr
		}
	}
}

func classifyComparison(ahead, behind int) CompareStatus {
	switch {
	case ahead > 0 && behind > 0:
		return StatusDiverged
	case ahead > 0:
		return StatusAhead
	case behind > 0:
		return StatusBehind
	default:
		return StatusIdentical
	}
}

func skipped(fork ForkRef, reason SkipReason) ForkAnalysis {
	return ForkAnalysis{
		Fork:        fork,
		Comparisons: make(map[string]ComparisonResult),
		Include:     false,
		SkipReason:  reason,
	}
}
