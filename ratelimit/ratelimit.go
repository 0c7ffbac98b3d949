package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter smooths outgoing GitHub requests to a steady per-minute rate so a
// burst of workers cannot trip secondary rate limits between gate checks.
type Limiter struct {
	github *rate.Limiter
}

func NewLimiter(githubReqPerMin int) *Limiter {
	return &Limiter{
		github: rate.NewLimiter(rate.Limit(float64(githubReqPerMin)/60.0), githubReqPerMin),
	}
}

func (l *Limiter) WaitGithub(ctx context.Context) error {
	return l.github.Wait(ctx)
}
