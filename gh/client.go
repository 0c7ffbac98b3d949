// Package gh adapts the GitHub API to the scan pipeline: typed listings,
// classified failures, bounded retries, and a comparison cache.
package gh

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v74/github"
	"github.com/jferrl/go-githubauth"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/urizennnn/forkscout/cache"
	"github.com/urizennnn/forkscout/config"
	"github.com/urizennnn/forkscout/ratelimit"
	"github.com/urizennnn/forkscout/scan"
)

const perPage = 100

type compareStats struct {
	AheadBy  int
	BehindBy int
}

type Client struct {
	gh      *github.Client
	limiter *ratelimit.Limiter
	cmp     *cache.Cache[compareStats]
	cfg     *config.Config
	log     *logrus.Entry
}

var _ scan.Client = (*Client)(nil)

// NewClient builds an authenticated client from config. A personal access
// token wins over GitHub App credentials when both are present; having
// neither is a configuration error.
func NewClient(cfg *config.Config) (*Client, error) {
	api, err := newGithubAPI(cfg)
	if err != nil {
		return nil, err
	}
	cmp, err := cache.New[compareStats](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("comparison cache: %w", err)
	}
	return &Client{
		gh:      api,
		limiter: ratelimit.NewLimiter(cfg.GithubRateLimit),
		cmp:     cmp,
		cfg:     cfg,
		log:     logrus.WithField("component", "gh"),
	}, nil
}

func newGithubAPI(cfg *config.Config) (*github.Client, error) {
	if cfg.GithubToken != "" {
		return github.NewClient(nil).WithAuthToken(cfg.GithubToken), nil
	}
	if cfg.HasAppAuth() {
		appTokenSource, err := githubauth.NewApplicationTokenSource(cfg.GithubClientID, []byte(cfg.GithubPrivateKey))
		if err != nil {
			return nil, fmt.Errorf("github app token source: %w", err)
		}
		installationTokenSource := githubauth.NewInstallationTokenSource(cfg.GithubInstallationID, appTokenSource)
		return github.NewClient(oauth2.NewClient(context.Background(), installationTokenSource)), nil
	}
	return nil, fmt.Errorf("no GitHub credentials: set %s or the GitHub App triple", config.SecretGithubToken)
}

// GetRepository fetches the upstream repository record.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (scan.RepoInfo, error) {
	var repo *github.Repository
	err := c.call(ctx, "get repository", func() error {
		var rerr error
		repo, _, rerr = c.gh.Repositories.Get(ctx, owner, name)
		return rerr
	})
	if err != nil {
		return scan.RepoInfo{}, err
	}
	return scan.RepoInfo{
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
	}, nil
}

// ListForks fetches one page of the forks listing in upstream order. The
// returned NextPage is zero once the listing is exhausted, and feeds the
// checkpoint cursor.
func (c *Client) ListForks(ctx context.Context, owner, name string, page int) (scan.ForksPage, error) {
	opts := &github.RepositoryListForksOptions{
		ListOptions: github.ListOptions{Page: page, PerPage: perPage},
	}
	var (
		forks []*github.Repository
		resp  *github.Response
	)
	err := c.call(ctx, "list forks", func() error {
		var lerr error
		forks, resp, lerr = c.gh.Repositories.ListForks(ctx, owner, name, opts)
		return lerr
	})
	if err != nil {
		return scan.ForksPage{}, err
	}

	out := scan.ForksPage{NextPage: resp.NextPage}
	for _, f := range forks {
		if f == nil {
			continue
		}
		out.Forks = append(out.Forks, scan.ForkRef{
			Owner:         f.GetOwner().GetLogin(),
			Name:          f.GetName(),
			FullName:      f.GetFullName(),
			URL:           f.GetHTMLURL(),
			Stars:         f.GetStargazersCount(),
			Forks:         f.GetForksCount(),
			Description:   f.GetDescription(),
			DefaultBranch: f.GetDefaultBranch(),
			UpdatedAt:     f.GetUpdatedAt().Time,
		})
	}
	return out, nil
}

// ListBranches fetches every branch of a fork, following pagination.
func (c *Client) ListBranches(ctx context.Context, owner, name string) ([]scan.BranchRef, error) {
	var all []scan.BranchRef
	opts := &github.BranchListOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	for {
		var (
			branches []*github.Branch
			resp     *github.Response
		)
		err := c.call(ctx, "list branches", func() error {
			var berr error
			branches, resp, berr = c.gh.Repositories.ListBranches(ctx, owner, name, opts)
			return berr
		})
		if err != nil {
			return nil, err
		}
		for _, b := range branches {
			if b == nil {
				continue
			}
			all = append(all, scan.BranchRef{
				Name:    b.GetName(),
				HeadSHA: b.GetCommit().GetSHA(),
			})
		}
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// Compare fetches the ahead/behind counts of forkOwner:branch against the
// upstream default branch. Results are cached by head SHA, so re-comparing
// a branch whose head has not moved costs no API call.
func (c *Client) Compare(ctx context.Context, upstream scan.RepoInfo, forkOwner string, branch scan.BranchRef) (int, int, error) {
	head := forkOwner + ":" + branch.Name
	key := upstream.FullName + "..." + head + "@" + branch.HeadSHA
	if st, ok := c.cmp.Get(key); ok {
		return st.AheadBy, st.BehindBy, nil
	}

	var cmp *github.CommitsComparison
	err := c.call(ctx, "compare "+head, func() error {
		var cerr error
		cmp, _, cerr = c.gh.Repositories.CompareCommits(
			ctx, upstream.Owner, upstream.Name, upstream.DefaultBranch, head,
			&github.ListOptions{PerPage: 1})
		return cerr
	})
	if err != nil {
		return 0, 0, err
	}

	st := compareStats{AheadBy: cmp.GetAheadBy(), BehindBy: cmp.GetBehindBy()}
	c.cmp.Set(key, st, c.cfg.CacheTTL)
	return st.AheadBy, st.BehindBy, nil
}

// RateStatus fetches the current core quota. The rate endpoint itself does
// not count against the quota, so the smoothing limiter is bypassed.
func (c *Client) RateStatus(ctx context.Context) (ratelimit.Status, error) {
	var limits *github.RateLimits
	err := c.retry(ctx, "rate status", func() error {
		var rerr error
		limits, _, rerr = c.gh.RateLimit.Get(ctx)
		return rerr
	})
	if err != nil {
		return ratelimit.Status{}, err
	}
	core := limits.GetCore()
	return ratelimit.Status{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		ResetAt:   core.Reset.Time,
	}, nil
}

// call smooths the request rate and then runs the operation with retries.
func (c *Client) call(ctx context.Context, op string, f func() error) error {
	if err := c.limiter.WaitGithub(ctx); err != nil {
		return err
	}
	return c.retry(ctx, op, f)
}

// retry runs f with bounded exponential backoff. Classified failures
// (NotFound, RateLimited, Unauthorized) are permanent here; the caller
// decides how to react. Transient failures are retried up to MaxRetries and
// then surface as-is, degrading to a per-item skip upstream.
func (c *Client) retry(ctx context.Context, op string, f func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BackoffMin
	bo.MaxInterval = c.cfg.BackoffMax
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetries)), ctx)
	return backoff.Retry(func() error {
		err := f()
		if err == nil {
			return nil
		}
		if classified := classify(err); classified != nil {
			return backoff.Permanent(classified)
		}
		c.log.Warnf("%s: transient error, retrying: %v", op, err)
		return err
	}, policy)
}
