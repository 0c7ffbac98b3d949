// Package scan implements the fork analysis pipeline: a gate-admitted
// worker pool that fetches every fork of an upstream repository, compares
// its branches against the upstream default branch, and accumulates
// checkpointed results.
package scan

import (
	"context"
	"sync/atomic"
	"time"
)

// RepoInfo identifies the upstream repository under scan.
type RepoInfo struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

// ForkRef is one fork as listed by the forks endpoint. Immutable once
// fetched; identity is FullName.
type ForkRef struct {
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	URL           string    `json:"url"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	Description   string    `json:"description,omitempty"`
	DefaultBranch string    `json:"default_branch"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BranchRef is a branch of a fork.
type BranchRef struct {
	Name    string `json:"name"`
	HeadSHA string `json:"head_sha"`
}

// CompareStatus classifies a branch against the upstream default branch.
type CompareStatus string

const (
	StatusAhead       CompareStatus = "ahead"
	StatusBehind      CompareStatus = "behind"
	StatusDiverged    CompareStatus = "diverged"
	StatusIdentical   CompareStatus = "identical"
	StatusUnavailable CompareStatus = "unavailable"
)

// ComparisonResult is the ahead/behind outcome for a single branch.
type ComparisonResult struct {
	Branch   BranchRef     `json:"branch"`
	AheadBy  int           `json:"ahead_by"`
	BehindBy int           `json:"behind_by"`
	Status   CompareStatus `json:"status"`
}

// SkipReason explains why a fork was excluded from the ranked output.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipNotFound    SkipReason = "not_found"
	SkipUnavailable SkipReason = "unavailable"
	SkipNoDiff      SkipReason = "no_diff"
)

// ForkAnalysis is the finished result for one fork. Immutable after the
// analyzer returns it.
type ForkAnalysis struct {
	Fork        ForkRef                     `json:"fork"`
	Branches    []BranchRef                 `json:"branches"`
	Comparisons map[string]ComparisonResult `json:"comparisons"`
	Include     bool                        `json:"include"`
	SkipReason  SkipReason                  `json:"skip_reason,omitempty"`
}

// ForksPage is one page of the paginated forks listing. NextPage is zero
// once the listing is exhausted.
type ForksPage struct {
	Forks    []ForkRef
	NextPage int
}

// Client is the repository API surface the pipeline needs. Implementations
// classify remote failures into ErrNotFound / ErrRateLimited /
// ErrUnauthorized and retry transient errors internally with bounded
// backoff.
type Client interface {
	GetRepository(ctx context.Context, owner, name string) (RepoInfo, error)
	ListForks(ctx context.Context, owner, name string, page int) (ForksPage, error)
	ListBranches(ctx context.Context, owner, name string) ([]BranchRef, error)
	Compare(ctx context.Context, upstream RepoInfo, forkOwner string, branch BranchRef) (aheadBy, behindBy int, err error)
}

// Gate admits work only while remote quota is available.
type Gate interface {
	EnsureCapacity(ctx context.Context) error
}

// Counters are the live progress counters, updated concurrently by workers
// and the coordinator.
type Counters struct {
	Processed      atomic.Int64
	NotFound       atomic.Int64
	NoDiff         atomic.Int64
	Unavailable    atomic.Int64
	RateLimitWaits atomic.Int64
}

// CounterSnapshot is a point-in-time copy of Counters for reporting.
type CounterSnapshot struct {
	Processed      int64 `json:"processed"`
	NotFound       int64 `json:"not_found"`
	NoDiff         int64 `json:"no_diff"`
	Unavailable    int64 `json:"unavailable"`
	RateLimitWaits int64 `json:"rate_limit_waits"`
}

func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Processed:      c.Processed.Load(),
		NotFound:       c.NotFound.Load(),
		NoDiff:         c.NoDiff.Load(),
		Unavailable:    c.Unavailable.Load(),
		RateLimitWaits: c.RateLimitWaits.Load(),
	}
}

// Outcome is the aggregate result of a run.
type Outcome struct {
	Upstream RepoInfo
	Analyses []ForkAnalysis
	Counters CounterSnapshot
}
