package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/urizennnn/forkscout/checkpoint"
	"github.com/urizennnn/forkscout/config"
	"github.com/urizennnn/forkscout/gh"
	"github.com/urizennnn/forkscout/ratelimit"
	"github.com/urizennnn/forkscout/report"
	"github.com/urizennnn/forkscout/scan"
)

// Exit codes. Interrupted runs and exhausted quota get their own codes so
// wrappers can tell a resumable stop from a fatal one.
const (
	exitConfig      = 1
	exitInterrupted = 2
	exitQuota       = 3
)

// Rough request budget per fork, used by --check-rate to estimate how many
// forks the remaining quota covers.
const requestsPerFork = 15

type rootOptions struct {
	maxForks   int
	workers    int
	topN       int
	output     string
	noCompare  bool
	skipNoDiff bool
	resume     bool
	noBranches bool
	checkRate  bool
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, scan.ErrInterrupted):
		return exitInterrupted
	case errors.Is(err, ratelimit.ErrQuotaExhausted):
		return exitQuota
	default:
		return exitConfig
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "forkscout [owner/repo]",
		Short: "Rank the forks of a GitHub repository by activity",
		Long: `forkscout enumerates the forks of a repository, compares each fork's
branches against the upstream default branch, and ranks forks by how
recently they were updated.

Progress is checkpointed; an interrupted run can be continued with --resume.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}

	cmd.Flags().IntVarP(&opts.maxForks, "max", "m", 0, "cap the number of forks processed (0 = all)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "worker pool size (0 = config default)")
	cmd.Flags().IntVarP(&opts.topN, "top", "t", 0, "show only the top N ranked forks (0 = all)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "also write a Markdown report to this path")
	cmd.Flags().BoolVar(&opts.noCompare, "no-compare", false, "skip branch comparison fetches")
	cmd.Flags().BoolVarP(&opts.skipNoDiff, "skip-no-diff", "s", false, "exclude forks with no divergence from upstream")
	cmd.Flags().BoolVarP(&opts.resume, "resume", "r", false, "resume from the last checkpoint")
	cmd.Flags().BoolVar(&opts.noBranches, "no-branches", false, "compare only the default branch")
	cmd.Flags().BoolVarP(&opts.checkRate, "check-rate", "c", false, "print API quota status and exit")

	return cmd
}

func run(parent context.Context, opts *rootOptions, args []string) error {
	cfg, err := config.NewLoader("APP").Load()
	if err != nil {
		return err
	}
	initLogging(cfg)

	if !opts.checkRate && len(args) == 0 {
		return errors.New("a repository argument (owner/repo) is required unless --check-rate is set")
	}

	client, err := gh.NewClient(&cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gate := ratelimit.NewGate(client.RateStatus, ratelimit.Options{
		MinRemaining: cfg.RateMinRemaining,
		SafetyMargin: cfg.RateSafetyMargin,
		CheckOnly:    opts.checkRate,
	})

	if opts.checkRate {
		return checkRate(ctx, gate)
	}

	owner, name, err := splitRepo(args[0])
	if err != nil {
		return err
	}

	workers := cfg.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}

	runner := scan.NewRunner(client, gate, checkpoint.NewStore(cfg.CheckpointDir), scan.Options{
		Workers:       workers,
		MaxForks:      opts.maxForks,
		CheckBranches: !opts.noBranches,
		Compare:       !opts.noCompare,
		SkipNoDiff:    opts.skipNoDiff,
		Resume:        opts.resume,
		ShutdownGrace: cfg.ShutdownGrace,
	})

	outcome, err := runner.Run(ctx, owner, name)
	if err != nil {
		return err
	}

	ranked := scan.Rank(outcome.Analyses, opts.topN)
	summary := report.Summary{
		Upstream:      outcome.Upstream,
		Ranked:        ranked,
		TotalIncluded: len(scan.Rank(outcome.Analyses, 0)),
		Counters:      outcome.Counters,
		GeneratedAt:   time.Now(),
	}
	report.Render(os.Stdout, summary)

	if opts.output != "" {
		if err := report.WriteMarkdown(opts.output, summary); err != nil {
			return err
		}
		logrus.Infof("report written to %s", opts.output)
	}
	return nil
}

func checkRate(ctx context.Context, gate *ratelimit.Gate) error {
	st, err := gate.Check(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("GitHub API rate limit status\n")
	fmt.Printf("  remaining: %d of %d\n", st.Remaining, st.Limit)
	fmt.Printf("  resets at: %s\n", st.ResetAt.Local().Format(time.RFC1123))
	if until := time.Until(st.ResetAt); until > 0 {
		fmt.Printf("  resets in: %s\n", until.Round(time.Second))
	} else {
		fmt.Printf("  window already reset\n")
	}
	if st.Remaining > 0 {
		fmt.Printf("  ~%d forks processable before the limit (at ~%d requests per fork)\n",
			st.Remaining/requestsPerFork, requestsPerFork)
	}

	// The gate is in check-only mode; this fails with a distinct exit code
	// when the quota is below the configured floor.
	return gate.EnsureCapacity(ctx)
}

func splitRepo(arg string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(arg, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("malformed repository %q, expected owner/repo", arg)
	}
	return owner, name, nil
}

func initLogging(cfg config.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
