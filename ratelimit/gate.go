package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrQuotaExhausted is returned by EnsureCapacity in check-only mode when the
// remaining quota is below the configured minimum and waiting is not allowed.
var ErrQuotaExhausted = errors.New("api quota exhausted")

// Status is a snapshot of the remote API quota.
type Status struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// StatusFunc fetches the current quota from the remote API.
type StatusFunc func(ctx context.Context) (Status, error)

// Options configure a Gate.
type Options struct {
	// MinRemaining is the quota floor below which the gate refuses to admit
	// more work until the window resets.
	MinRemaining int
	// SafetyMargin is added to every reset wait to absorb clock skew.
	SafetyMargin time.Duration
	// CheckOnly makes EnsureCapacity fail with ErrQuotaExhausted instead of
	// waiting for the reset.
	CheckOnly bool
}

// Gate admits work only while the remote quota is above a safety floor.
// Capacity checks are serialized so that concurrent workers hitting the
// floor at the same time produce a single wait, not a herd of them.
type Gate struct {
	mu    sync.Mutex
	fetch StatusFunc
	opts  Options
	log   *logrus.Entry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewGate(fetch StatusFunc, opts Options) *Gate {
	return &Gate{
		fetch: fetch,
		opts:  opts,
		log:   logrus.WithField("component", "ratelimit"),
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Check fetches and logs the current quota snapshot.
func (g *Gate) Check(ctx context.Context) (Status, error) {
	st, err := g.fetch(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("rate status: %w", err)
	}
	g.log.Infof("rate limit: %d/%d remaining, resets %s",
		st.Remaining, st.Limit, st.ResetAt.Format(time.RFC3339))
	return st, nil
}

// EnsureCapacity blocks until the remote quota has at least MinRemaining
// calls left. When the quota is below the floor it sleeps until the reset
// time plus the safety margin and re-queries. A reset time already in the
// past triggers one immediate re-query before any wait, since the window may
// have rolled over between the remote snapshot and now. The wait is
// interruptible through ctx.
func (g *Gate) EnsureCapacity(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	requeried := false
	for {
		st, err := g.fetch(ctx)
		if err != nil {
			return fmt.Errorf("rate status: %w", err)
		}
		if st.Remaining >= g.opts.MinRemaining {
			return nil
		}
		if g.opts.CheckOnly {
			return fmt.Errorf("%w: %d of %d remaining, need %d",
				ErrQuotaExhausted, st.Remaining, st.Limit, g.opts.MinRemaining)
		}

		wait := st.ResetAt.Sub(g.now()) + g.opts.SafetyMargin
		if st.ResetAt.Before(g.now()) && !requeried {
			requeried = true
			continue
		}
		if wait < g.opts.SafetyMargin {
			wait = g.opts.SafetyMargin
		}
		g.log.Warnf("quota low (%d remaining), waiting %s for reset", st.Remaining, wait.Round(time.Second))
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
		requeried = false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
