package scan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClient is an in-memory scan.Client. Compare results are keyed by
// "owner:branch"; unkeyed lookups return identical (0/0).
type fakeClient struct {
	mu sync.Mutex

	repo     RepoInfo
	forks    []ForkRef
	pageSize int

	branches  map[string][]BranchRef // fork full name -> branches
	branchErr map[string]error       // fork full name -> listing error

	compare       map[string][2]int // "owner:branch" -> ahead, behind
	compareErr    map[string]error
	rateLimitOnce map[string]bool // first compare for key fails rate-limited

	compareCalls map[string]int
	listCalls    int

	onCompare func(owner string)
}

func newFakeClient(repo RepoInfo, forks []ForkRef) *fakeClient {
	return &fakeClient{
		repo:          repo,
		forks:         forks,
		branches:      make(map[string][]BranchRef),
		branchErr:     make(map[string]error),
		compare:       make(map[string][2]int),
		compareErr:    make(map[string]error),
		rateLimitOnce: make(map[string]bool),
		compareCalls:  make(map[string]int),
	}
}

func (f *fakeClient) GetRepository(_ context.Context, _, _ string) (RepoInfo, error) {
	return f.repo, nil
}

func (f *fakeClient) ListForks(_ context.Context, _, _ string, page int) (ForksPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	size := f.pageSize
	if size == 0 {
		size = 100
	}
	start := (page - 1) * size
	if start >= len(f.forks) {
		return ForksPage{}, nil
	}
	end := start + size
	next := page + 1
	if end >= len(f.forks) {
		end = len(f.forks)
		next = 0
	}
	return ForksPage{Forks: f.forks[start:end], NextPage: next}, nil
}

func (f *fakeClient) ListBranches(_ context.Context, owner, name string) ([]BranchRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	full := owner + "/" + name
	if err := f.branchErr[full]; err != nil {
		return nil, err
	}
	if b, ok := f.branches[full]; ok {
		return b, nil
	}
	return []BranchRef{{Name: "main", HeadSHA: "sha-" + owner}}, nil
}

func (f *fakeClient) Compare(_ context.Context, _ RepoInfo, forkOwner string, branch BranchRef) (int, int, error) {
	f.mu.Lock()
	key := forkOwner + ":" + branch.Name
	f.compareCalls[key]++
	hook := f.onCompare

	if f.rateLimitOnce[key] {
		f.rateLimitOnce[key] = false
		f.mu.Unlock()
		return 0, 0, fmt.Errorf("%w: test", ErrRateLimited)
	}
	err := f.compareErr[key]
	delta := f.compare[key]
	f.mu.Unlock()

	if hook != nil {
		hook(forkOwner)
	}
	if err != nil {
		return 0, 0, err
	}
	return delta[0], delta[1], nil
}

func (f *fakeClient) compareCallCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compareCalls[key]
}

// nopGate always admits and counts the checks.
type nopGate struct {
	calls atomic.Int64
}

func (g *nopGate) EnsureCapacity(ctx context.Context) error {
	g.calls.Add(1)
	return ctx.Err()
}

func makeForks(n int) []ForkRef {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	forks := make([]ForkRef, 0, n)
	for i := 0; i < n; i++ {
		owner := fmt.Sprintf("user%02d", i)
		forks = append(forks, ForkRef{
			Owner:         owner,
			Name:          "widget",
			FullName:      owner + "/widget",
			URL:           "https://github.com/" + owner + "/widget",
			Stars:         i,
			DefaultBranch: "main",
			UpdatedAt:     base.Add(time.Duration(i) * time.Hour),
		})
	}
	return forks
}
