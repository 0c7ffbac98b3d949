// Package report renders the ranked fork analysis as a terminal table and,
// optionally, a Markdown file.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/urizennnn/forkscout/scan"
)

// Summary is the stable, sorted result of a completed run.
type Summary struct {
	Upstream      scan.RepoInfo
	Ranked        []scan.ForkAnalysis
	TotalIncluded int
	Counters      scan.CounterSnapshot
	GeneratedAt   time.Time
}

// Render writes the table and the counts block to w.
func Render(w io.Writer, s Summary) {
	heading := color.New(color.FgCyan, color.Bold)
	heading.Fprintf(w, "Fork analysis: %s\n", s.Upstream.FullName)
	fmt.Fprintf(w, "%d forks included, showing %d\n\n", s.TotalIncluded, len(s.Ranked))

	if len(s.Ranked) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "Fork", "Stars", "Forks", "Last update", "Ahead", "Behind", "Description"})
		for i, a := range s.Ranked {
			ahead, behind := defaultBranchDelta(a)
			t.AppendRow(table.Row{
				i + 1,
				a.Fork.FullName,
				a.Fork.Stars,
				a.Fork.Forks,
				a.Fork.UpdatedAt.Format("2006-01-02 15:04"),
				ahead,
				behind,
				truncate(a.Fork.Description, 60),
			})
		}
		t.Render()
	} else {
		fmt.Fprintln(w, "no forks matched")
	}

	c := s.Counters
	fmt.Fprintf(w, "\nprocessed %d forks: %d included, %d skipped (no diff), %d skipped (unavailable), %d gone\n",
		c.Processed, s.TotalIncluded, c.NoDiff, c.Unavailable, c.NotFound)
	if c.RateLimitWaits > 0 {
		color.New(color.FgYellow).Fprintf(w, "hit the API rate limit %d times\n", c.RateLimitWaits)
	}
}

// WriteMarkdown writes the full report, including per-branch comparisons,
// to path.
func WriteMarkdown(path string, s Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "# Fork analysis: %s\n\n", s.Upstream.FullName)
	fmt.Fprintf(f, "Generated: %s\n\n", s.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "%d forks included (of %d processed)\n\n", s.TotalIncluded, s.Counters.Processed)

	for _, a := range s.Ranked {
		fmt.Fprintf(f, "## %s\n\n", a.Fork.FullName)
		fmt.Fprintf(f, "- URL: %s\n", a.Fork.URL)
		fmt.Fprintf(f, "- Stars: %d\n", a.Fork.Stars)
		fmt.Fprintf(f, "- Forks: %d\n", a.Fork.Forks)
		fmt.Fprintf(f, "- Last updated: %s\n", a.Fork.UpdatedAt.UTC().Format(time.RFC3339))
		if len(a.Comparisons) > 0 {
			fmt.Fprintf(f, "- Branches:\n")
			for _, b := range a.Branches {
				cmp, ok := a.Comparisons[b.Name]
				if !ok || cmp.Status == scan.StatusUnavailable {
					fmt.Fprintf(f, "  - %s: comparison unavailable\n", b.Name)
					continue
				}
				fmt.Fprintf(f, "  - %s: %d ahead, %d behind (%s)\n", b.Name, cmp.AheadBy, cmp.BehindBy, cmp.Status)
			}
		}
		if a.Fork.Description != "" {
			fmt.Fprintf(f, "- Description: %s\n", a.Fork.Description)
		}
		fmt.Fprintf(f, "\n---\n\n")
	}

	return nil
}

func defaultBranchDelta(a scan.ForkAnalysis) (string, string) {
	cmp, ok := a.Comparisons[a.Fork.DefaultBranch]
	if !ok || cmp.Status == scan.StatusUnavailable {
		return "-", "-"
	}
	return strconv.Itoa(cmp.AheadBy), strconv.Itoa(cmp.BehindBy)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
