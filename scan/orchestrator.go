package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/urizennnn/forkscout/checkpoint"
)

// Options configure a scan run.
type Options struct {
	Workers       int
	MaxForks      int  // 0 = unlimited
	CheckBranches bool // enumerate all branches instead of the default only
	Compare       bool // fetch ahead/behind comparisons
	SkipNoDiff    bool // drop forks with no divergence evidence
	Resume        bool // load checkpointed progress instead of starting fresh
	ShutdownGrace time.Duration
}

// Runner orchestrates the pipeline. The coordinator goroutine exclusively
// owns the ProgressState and the checkpoint store; workers are stateless and
// report through a channel.
type Runner struct {
	client   Client
	gate     Gate
	store    *checkpoint.Store
	opts     Options
	counters *Counters
	log      *logrus.Entry
}

func NewRunner(client Client, gate Gate, store *checkpoint.Store, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 15 * time.Second
	}
	return &Runner{
		client:   client,
		gate:     gate,
		store:    store,
		opts:     opts,
		counters: &Counters{},
		log:      logrus.WithField("component", "scan"),
	}
}

// Run executes the full pipeline for owner/name. On cancellation it stops
// admitting work, gives in-flight jobs a grace period, saves progress, and
// returns the partial outcome wrapped in ErrInterrupted. On full completion
// the checkpoint is deleted.
func (r *Runner) Run(ctx context.Context, owner, name string) (*Outcome, error) {
	target := owner + "/" + name

	upstream, err := r.client.GetRepository(ctx, owner, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("repository %s does not exist or is not accessible: %w", target, err)
		}
		return nil, fmt.Errorf("fetch repository %s: %w", target, err)
	}

	state := r.loadOrNewState(target)

	if err := r.collectForks(ctx, owner, name, state); err != nil {
		return r.interrupted(target, state, err)
	}

	forks := state.Forks
	if r.opts.MaxForks > 0 && len(forks) > r.opts.MaxForks {
		forks = forks[:r.opts.MaxForks]
		r.log.Infof("capping scan to the first %d of %d forks", r.opts.MaxForks, len(state.Forks))
	}

	pending := 0
	for _, f := range forks {
		if !state.Seen(f.FullName) {
			pending++
		}
	}
	r.log.Infof("%s: %d forks, %d already processed, %d to analyze with %d workers",
		target, len(forks), len(forks)-pending, pending, r.opts.Workers)

	if err := r.dispatch(ctx, upstream, forks, state); err != nil {
		return r.interrupted(target, state, err)
	}

	if err := r.store.Delete(target); err != nil {
		r.log.Warnf("delete checkpoint: %v", err)
	}

	return &Outcome{
		Upstream: upstream,
		Analyses: state.Results,
		Counters: r.counters.Snapshot(),
	}, nil
}

func (r *Runner) loadOrNewState(target string) *ProgressState {
	state := NewProgress(target)
	if !r.opts.Resume {
		return state
	}

	var loaded ProgressState
	ok, err := r.store.Load(target, &loaded)
	switch {
	case err != nil:
		r.log.Warnf("checkpoint unreadable, starting fresh: %v", err)
	case !ok:
		r.log.Info("no checkpoint found, starting fresh")
	case loaded.TargetRepo != target:
		r.log.Warnf("checkpoint belongs to %s, starting fresh", loaded.TargetRepo)
	default:
		loaded.rebuild()
		r.log.Infof("resuming: %d forks processed, %d results collected (saved %s)",
			len(loaded.Processed), len(loaded.Results), loaded.UpdatedAt.Format(time.RFC3339))
		return &loaded
	}
	return state
}

// collectForks pages through the forks listing from the checkpointed cursor,
// saving after each page. Paging stops early once MaxForks are known.
func (r *Runner) collectForks(ctx context.Context, owner, name string, state *ProgressState) error {
	for !state.PagingDone() {
		if r.opts.MaxForks > 0 && len(state.Forks) >= r.opts.MaxForks {
			break
		}
		if err := r.gate.EnsureCapacity(ctx); err != nil {
			return err
		}
		var page ForksPage
		err := r.gated(ctx, func() error {
			var perr error
			page, perr = r.client.ListForks(ctx, owner, name, state.NextPage)
			return perr
		})
		if err != nil {
			return fmt.Errorf("list forks page %d: %w", state.NextPage, err)
		}
		state.AddForks(page)
		r.saveState(state)
		r.log.Debugf("fetched %d forks so far", len(state.Forks))
	}
	return nil
}

// dispatch runs the worker pool. New jobs are admitted only after the gate
// confirms capacity; results flow back to the coordinator, which checkpoints
// after every completed fork.
func (r *Runner) dispatch(ctx context.Context, upstream RepoInfo, forks []ForkRef, state *ProgressState) error {
	// Workers run on a context that outlives cancellation by the shutdown
	// grace period, so in-flight jobs can finish and be persisted.
	jobCtx, cancelJobs := graceContext(ctx, r.opts.ShutdownGrace)
	defer cancelJobs()

	// Snapshot the unprocessed forks up front: state stays owned by the
	// coordinator while the producer runs.
	queue := make([]ForkRef, 0, len(forks))
	for _, f := range forks {
		if !state.Seen(f.FullName) {
			queue = append(queue, f)
		}
	}

	results := make(chan ForkAnalysis)
	total := len(forks)

	grp, runCtx := errgroup.WithContext(jobCtx)
	grp.SetLimit(r.opts.Workers)

	// Written by the producer before results is closed, read by the
	// coordinator after the drain loop ends.
	var admitErr error

	go func() {
		defer close(results)
		for _, fork := range queue {
			if ctx.Err() != nil {
				break
			}
			if err := r.gate.EnsureCapacity(runCtx); err != nil {
				admitErr = err
				break
			}
			grp.Go(func() error {
				res, err := r.analyzeFork(runCtx, upstream, fork)
				if err != nil {
					// Cancelled mid-job: the fork stays unprocessed so a
					// resumed run picks it up again.
					return nil
				}
				select {
				case results <- res:
				case <-jobCtx.Done():
				}
				return nil
			})
		}
		grp.Wait()
	}()

	for res := range results {
		state.Add(res)
		r.count(res)
		r.log.Infof("processed %d/%d: %s%s", len(state.Processed), total, res.Fork.FullName, skipSuffix(res))
		r.saveState(state)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return admitErr
}

func (r *Runner) count(res ForkAnalysis) {
	r.counters.Processed.Add(1)
	switch res.SkipReason {
	case SkipNotFound:
		r.counters.NotFound.Add(1)
	case SkipNoDiff:
		r.counters.NoDiff.Add(1)
	case SkipUnavailable:
		r.counters.Unavailable.Add(1)
	}
}

func (r *Runner) saveState(state *ProgressState) {
	if err := r.store.Save(state.TargetRepo, state); err != nil {
		r.log.Warnf("save checkpoint: %v", err)
	}
}

func (r *Runner) interrupted(target string, state *ProgressState, cause error) (*Outcome, error) {
	r.saveState(state)
	r.log.Warnf("run interrupted (%v); progress saved, rerun with --resume", cause)
	outcome := &Outcome{
		Analyses: state.Results,
		Counters: r.counters.Snapshot(),
	}
	return outcome, fmt.Errorf("%w: %v", ErrInterrupted, cause)
}

func skipSuffix(res ForkAnalysis) string {
	if res.SkipReason == SkipNone {
		return ""
	}
	return " (skipped: " + string(res.SkipReason) + ")"
}

// graceContext returns a context that stays live while parent is live and,
// once parent is cancelled, cancels itself after the grace period.
func graceContext(parent context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	go func() {
		select {
		case <-parent.Done():
			t := time.NewTimer(grace)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
