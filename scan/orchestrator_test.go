package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urizennnn/forkscout/checkpoint"
)

func TestRun_CompletesAndDeletesCheckpoint(t *testing.T) {
	t.Parallel()

	forks := makeForks(8)
	client := newFakeClient(upstream, forks)
	client.pageSize = 3
	store := checkpoint.NewStore(t.TempDir())
	r := NewRunner(client, &nopGate{}, store, Options{Workers: 4, CheckBranches: true, Compare: true})

	outcome, err := r.Run(context.Background(), "acme", "widget")
	require.NoError(t, err)

	assert.Len(t, outcome.Analyses, 8)
	assert.Equal(t, int64(8), outcome.Counters.Processed)
	assert.False(t, store.Exists("acme/widget"), "checkpoint must be gone after completion")
}

func TestRun_MaxForksTakesFirstNDeterministically(t *testing.T) {
	t.Parallel()

	forks := makeForks(50)
	want := make(map[string]bool, 10)
	for _, f := range forks[:10] {
		want[f.FullName] = true
	}

	for run := 0; run < 2; run++ {
		client := newFakeClient(upstream, forks)
		client.pageSize = 7
		r := NewRunner(client, &nopGate{}, checkpoint.NewStore(t.TempDir()),
			Options{Workers: 5, MaxForks: 10, CheckBranches: true, Compare: true})

		outcome, err := r.Run(context.Background(), "acme", "widget")
		require.NoError(t, err)
		require.Len(t, outcome.Analyses, 10)
		for _, a := range outcome.Analyses {
			assert.True(t, want[a.Fork.FullName], "unexpected fork %s", a.Fork.FullName)
		}
	}
}

func TestRun_NotFoundForkDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	forks := makeForks(4)
	client := newFakeClient(upstream, forks)
	client.branchErr["user01/widget"] = ErrNotFound
	r := NewRunner(client, &nopGate{}, checkpoint.NewStore(t.TempDir()),
		Options{Workers: 2, CheckBranches: true, Compare: true})

	outcome, err := r.Run(context.Background(), "acme", "widget")
	require.NoError(t, err)
	require.Len(t, outcome.Analyses, 4)

	byName := make(map[string]ForkAnalysis)
	for _, a := range outcome.Analyses {
		byName[a.Fork.FullName] = a
	}
	assert.False(t, byName["user01/widget"].Include)
	assert.Equal(t, SkipNotFound, byName["user01/widget"].SkipReason)
	assert.True(t, byName["user00/widget"].Include)
	assert.Equal(t, int64(1), outcome.Counters.NotFound)
}

func TestRun_ResumeSkipsProcessedForks(t *testing.T) {
	t.Parallel()

	forks := makeForks(6)
	store := checkpoint.NewStore(t.TempDir())

	// Seed a checkpoint where the first three forks are already done.
	state := NewProgress("acme/widget")
	state.AddForks(ForksPage{Forks: forks, NextPage: 0})
	for _, f := range forks[:3] {
		state.Add(ForkAnalysis{Fork: f, Include: true, Comparisons: map[string]ComparisonResult{}})
	}
	require.NoError(t, store.Save("acme/widget", state))

	client := newFakeClient(upstream, forks)
	r := NewRunner(client, &nopGate{}, store,
		Options{Workers: 2, CheckBranches: true, Compare: true, Resume: true})

	outcome, err := r.Run(context.Background(), "acme", "widget")
	require.NoError(t, err)
	assert.Len(t, outcome.Analyses, 6)

	// No comparison calls for the forks already in the checkpoint.
	for i := 0; i < 3; i++ {
		key := forks[i].Owner + ":main"
		assert.Zero(t, client.compareCallCount(key), "re-issued compare for %s", key)
	}
	for i := 3; i < 6; i++ {
		key := forks[i].Owner + ":main"
		assert.Equal(t, 1, client.compareCallCount(key))
	}
}

func TestRun_ResumeRejectsMismatchedCheckpoint(t *testing.T) {
	t.Parallel()

	forks := makeForks(2)
	store := checkpoint.NewStore(t.TempDir())

	stale := NewProgress("other/repo")
	stale.AddForks(ForksPage{Forks: forks, NextPage: 0})
	stale.Add(ForkAnalysis{Fork: forks[0], Include: true})
	// Simulate a hand-renamed file: the key matches but the embedded target
	// does not.
	require.NoError(t, store.Save("acme/widget", stale))

	client := newFakeClient(upstream, forks)
	r := NewRunner(client, &nopGate{}, store,
		Options{Workers: 1, CheckBranches: true, Compare: true, Resume: true})

	outcome, err := r.Run(context.Background(), "acme", "widget")
	require.NoError(t, err)

	// Fresh scan: both forks analyzed.
	assert.Len(t, outcome.Analyses, 2)
	assert.Equal(t, 1, client.compareCallCount("user00:main"))
}

func TestRun_InterruptSavesResumableCheckpoint(t *testing.T) {
	t.Parallel()

	forks := makeForks(6)
	store := checkpoint.NewStore(t.TempDir())
	client := newFakeClient(upstream, forks)

	ctx, cancel := context.WithCancel(context.Background())
	client.onCompare = func(string) { cancel() }

	r := NewRunner(client, &nopGate{}, store, Options{
		Workers:       1,
		CheckBranches: true,
		Compare:       true,
		ShutdownGrace: 2 * time.Second,
	})

	outcome, err := r.Run(ctx, "acme", "widget")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Less(t, len(outcome.Analyses), 6, "interrupt must stop admission")

	require.True(t, store.Exists("acme/widget"), "interrupted run must leave a checkpoint")
	var saved ProgressState
	ok, loadErr := store.Load("acme/widget", &saved)
	require.NoError(t, loadErr)
	require.True(t, ok)
	assert.Equal(t, "acme/widget", saved.TargetRepo)
	assert.Equal(t, len(outcome.Analyses), len(saved.Results))
}

func TestRun_GateAdmissionPerJob(t *testing.T) {
	t.Parallel()

	forks := makeForks(5)
	client := newFakeClient(upstream, forks)
	gate := &nopGate{}
	r := NewRunner(client, gate, checkpoint.NewStore(t.TempDir()),
		Options{Workers: 2, CheckBranches: true, Compare: true})

	_, err := r.Run(context.Background(), "acme", "widget")
	require.NoError(t, err)

	// One check per page fetch plus one per admitted job, at minimum.
	assert.GreaterOrEqual(t, gate.calls.Load(), int64(6))
}

func TestProgressState_AddIsIdempotent(t *testing.T) {
	t.Parallel()

	state := NewProgress("acme/widget")
	fork := makeForks(1)[0]
	state.Add(ForkAnalysis{Fork: fork, Include: true})
	state.Add(ForkAnalysis{Fork: fork, Include: true})

	assert.Len(t, state.Results, 1)
	assert.Len(t, state.Processed, 1)
	assert.True(t, state.Seen(fork.FullName))
}
