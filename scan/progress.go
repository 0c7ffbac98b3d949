package scan

import "time"

// ProgressState is the checkpointed record of a run: the fork universe
// fetched so far, the set of processed forks, their results, and the page
// cursor for resuming the forks listing. Only the coordinator mutates it;
// workers report results through a channel.
type ProgressState struct {
	TargetRepo string         `json:"target_repo"`
	Forks      []ForkRef      `json:"forks"`
	Processed  []string       `json:"processed"`
	Results    []ForkAnalysis `json:"results"`
	NextPage   int            `json:"next_page"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`

	seen map[string]struct{}
}

func NewProgress(target string) *ProgressState {
	now := time.Now().UTC()
	return &ProgressState{
		TargetRepo: target,
		NextPage:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
		seen:       make(map[string]struct{}),
	}
}

// rebuild restores the processed-set index after a load from disk.
func (p *ProgressState) rebuild() {
	p.seen = make(map[string]struct{}, len(p.Processed))
	for _, name := range p.Processed {
		p.seen[name] = struct{}{}
	}
}

// Seen reports whether the fork was already processed in a prior run or
// earlier in this one.
func (p *ProgressState) Seen(fullName string) bool {
	_, ok := p.seen[fullName]
	return ok
}

// Add records a completed analysis. The fork counts as processed whether or
// not it was included.
func (p *ProgressState) Add(a ForkAnalysis) {
	if p.Seen(a.Fork.FullName) {
		return
	}
	p.seen[a.Fork.FullName] = struct{}{}
	p.Processed = append(p.Processed, a.Fork.FullName)
	p.Results = append(p.Results, a)
	p.UpdatedAt = time.Now().UTC()
}

// AddForks extends the fork universe with a freshly fetched page and
// advances the cursor.
func (p *ProgressState) AddForks(page ForksPage) {
	p.Forks = append(p.Forks, page.Forks...)
	p.NextPage = page.NextPage
	p.UpdatedAt = time.Now().UTC()
}

// PagingDone reports whether the forks listing has been fully fetched.
func (p *ProgressState) PagingDone() bool {
	return p.NextPage == 0
}
