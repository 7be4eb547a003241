package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogpulse/internal/progress"
	"github.com/JakeFAU/blogpulse/internal/storage/memory"
	"github.com/JakeFAU/blogpulse/internal/store"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestOrchestrator(t *testing.T, fetcher Fetcher, mem *memory.Store) *Orchestrator {
	t.Helper()
	u, err := NewUpserter(UpserterConfig{
		Store:  mem,
		Hasher: sha1Hasher{},
		Bounds: DateBounds{EarliestYear: 2003, Clock: fixedClock{now: testNow}},
	})
	require.NoError(t, err)
	o, err := NewOrchestrator(
		OrchestratorConfig{
			Source:             testSource,
			EarliestYear:       2020,
			MaxPages:           20,
			YearMaxPages:       10,
			YearStopAfterEmpty: 2,
			FetchConcurrency:   3,
		},
		fetcher,
		pipeExtractor{},
		u,
		fixedClock{now: testNow},
		&seqIDs{},
		nil,
	)
	require.NoError(t, err)
	return o
}

func TestOrchestratorRunIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.listing(1, "101", "102", "103")
	f.listing(2)
	f.post("101", "a", "alpha", "2024-08-12")
	f.post("102", "b", "beta", "2024-08-11")
	f.post("103", "c", "gamma", "")
	mem := memory.New()
	o := newTestOrchestrator(t, f, mem)
	ctx := context.Background()

	first, err := o.Run(ctx, PagesScope(2))
	require.NoError(t, err)
	require.Equal(t, RunCompleted, first.Status)
	require.Equal(t, 3, first.Found)
	require.Equal(t, 3, first.New)
	require.Zero(t, first.Failed)
	require.Equal(t, 2, first.PagesVisited)

	second, err := o.Run(ctx, PagesScope(2))
	require.NoError(t, err)
	require.Equal(t, 3, second.Found)
	require.Zero(t, second.New)
	require.Zero(t, second.Updated)
	require.Equal(t, 3, second.Unchanged)

	count, err := mem.CountPosts(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestOrchestratorDetectsUpdates(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.listing(1, "1")
	f.post("1", "t", "first draft", "2024-08-12")
	mem := memory.New()
	o := newTestOrchestrator(t, f, mem)

	_, err := o.Run(context.Background(), PagesScope(1))
	require.NoError(t, err)

	f.post("1", "t", "second draft", "2024-08-12")
	run, err := o.Run(context.Background(), PagesScope(1))
	require.NoError(t, err)
	require.Equal(t, 1, run.Updated)
	require.Zero(t, run.New)
}

func TestOrchestratorContinuesPastFailedPost(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	f.listing(1, ids...)
	for _, id := range ids {
		f.post(id, "title "+id, "body "+id, "2024-08-12")
	}
	f.fail[testSource.PostURL("4")] = true
	mem := memory.New()
	o := newTestOrchestrator(t, f, mem)

	run, err := o.Run(context.Background(), PagesScope(1))
	require.NoError(t, err)
	require.Equal(t, RunCompleted, run.Status)
	require.Equal(t, 10, run.Found)
	require.Equal(t, 1, run.Failed)
	require.Equal(t, 9, run.New)

	_, err = mem.GetPostByExternalID(context.Background(), "4")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = mem.GetPostByExternalID(context.Background(), "5")
	require.NoError(t, err)
}

func TestOrchestratorCountsMalformedPostAsFailed(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.listing(1, "1", "2")
	f.post("1", "ok", "body", "2024-08-12")
	f.pages[testSource.PostURL("2")] = "garbage"
	o := newTestOrchestrator(t, f, memory.New())

	run, err := o.Run(context.Background(), PagesScope(1))
	require.NoError(t, err)
	require.Equal(t, 1, run.New)
	require.Equal(t, 1, run.Failed)
}

func TestOrchestratorFailsWhenNoListingFetches(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, newFakeFetcher(), memory.New())

	run, err := o.Run(context.Background(), PagesScope(2))
	require.NoError(t, err)
	require.Equal(t, RunFailed, run.Status)
	require.Equal(t, 2, run.Failed)
	require.NotEmpty(t, run.Error)
}

func TestOrchestratorStopsAtRepeatedListing(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.listing(1, "1", "2")
	f.listing(2, "1", "2")
	f.listing(3, "3")
	f.post("1", "a", "a", "2024-08-12")
	f.post("2", "b", "b", "2024-08-12")
	o := newTestOrchestrator(t, f, memory.New())

	run, err := o.Run(context.Background(), PagesScope(3))
	require.NoError(t, err)
	require.Equal(t, 2, run.Found)
	require.Zero(t, f.callCount(testSource.ListURL(3)))
	require.Equal(t, 1, f.callCount(testSource.PostURL("1")))
}

func TestOrchestratorRejectsConcurrentRunForSameTarget(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.listing(1, "1")
	f.post("1", "a", "a", "2024-08-12")
	f.gate = make(chan struct{})
	o := newTestOrchestrator(t, f, memory.New())
	ctx := context.Background()

	handle, err := o.Start(ctx, PagesScope(1))
	require.NoError(t, err)

	active, ok := o.Active()
	require.True(t, ok)
	require.Equal(t, handle.ID, active.ID)
	require.Equal(t, RunRunning, active.Status)

	second, err := o.Start(ctx, PagesScope(1))
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Equal(t, handle.ID, second.ID)

	_, err = o.Run(ctx, YearScope(2024))
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(f.gate)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := handle.Wait(waitCtx)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, final.Status)
	require.Equal(t, 1, final.New)

	_, ok = o.Active()
	require.False(t, ok)

	again, err := o.Run(ctx, PagesScope(1))
	require.NoError(t, err)
	require.Equal(t, 1, again.Unchanged)
	require.Len(t, o.List(), 2)
}

func TestOrchestratorBackgroundRunOutlivesCallerContext(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.listing(1, "1")
	f.post("1", "a", "a", "2024-08-12")
	f.gate = make(chan struct{})
	o := newTestOrchestrator(t, f, memory.New())

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := o.Start(ctx, PagesScope(1))
	require.NoError(t, err)
	cancel()
	close(f.gate)

	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("background run did not finish")
	}
	run, err := o.Get(handle.ID)
	require.NoError(t, err)
	require.Equal(t, RunCompleted, run.Status)
	require.Equal(t, 1, run.New)
}

func TestOrchestratorYearScope(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.listing(1, "50", "49")
	f.listing(2, "48", "47")
	f.listing(3, "46", "45")
	f.listing(4, "44")
	f.post("50", "a", "a", "2025-02-01")
	f.post("49", "b", "b", "2024-12-30")
	f.post("48", "c", "c", "2024-03-01")
	f.post("47", "d", "d", "2023-12-31")
	f.post("46", "e", "e", "2023-06-01")
	f.post("45", "f", "f", "2022-01-01")
	f.post("44", "g", "g", "2021-01-01")
	mem := memory.New()
	o := newTestOrchestrator(t, f, mem)

	run, err := o.Run(context.Background(), YearScope(2024))
	require.NoError(t, err)
	require.Equal(t, RunCompleted, run.Status)
	require.Equal(t, 2, run.Found)
	require.Equal(t, 2, run.New)
	require.Equal(t, 3, run.PagesVisited)
	require.Zero(t, f.callCount(testSource.ListURL(4)))

	_, err = mem.GetPostByExternalID(context.Background(), "50")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestOrchestratorYearScopeStopsAfterEmptyPages(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	for page := 1; page <= 5; page++ {
		id := string(rune('a' + page))
		f.listing(page, id)
		f.post(id, id, id, "2025-03-01")
	}
	o := newTestOrchestrator(t, f, memory.New())

	run, err := o.Run(context.Background(), YearScope(2024))
	require.NoError(t, err)
	require.Zero(t, run.Found)
	require.Equal(t, 2, run.PagesVisited)
}

func TestOrchestratorValidatesScope(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, newFakeFetcher(), memory.New())
	ctx := context.Background()

	for _, scope := range []Scope{PagesScope(0), PagesScope(21), YearScope(2019), YearScope(2026), {Kind: "weekly"}} {
		_, err := o.Run(ctx, scope)
		require.ErrorIs(t, err, ErrInvalidScope, scope.String())
	}
	require.Empty(t, o.List())
}

func TestOrchestratorGetUnknownRun(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(t, newFakeFetcher(), memory.New())
	_, err := o.Get("nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestOrchestratorEmitsProgressEvents(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	f.listing(1, "1", "2")
	f.post("1", "t", "body", "2024-08-12")
	f.fail[testSource.PostURL("2")] = true
	o := newTestOrchestrator(t, f, memory.New())
	rec := &recordingEmitter{}
	o.cfg.Progress = rec

	run, err := o.Run(context.Background(), PagesScope(1))
	require.NoError(t, err)
	require.Equal(t, RunCompleted, run.Status)

	stages := rec.stages()
	require.NotEmpty(t, stages)
	require.Equal(t, progress.StageRunStart, stages[0])
	require.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	require.Contains(t, stages, progress.StagePageListed)
	require.Contains(t, stages, progress.StagePostFailed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var stored []progress.Event
	for _, evt := range rec.events {
		require.Equal(t, run.ID, evt.RunID)
		require.Equal(t, testNow, evt.TS)
		require.NoError(t, evt.Validate())
		if evt.Stage == progress.StagePostStored {
			stored = append(stored, evt)
		}
	}
	require.Len(t, stored, 1)
	require.Equal(t, "1", stored[0].PostID)
	require.Equal(t, string(store.UpsertCreated), stored[0].Result)
}
