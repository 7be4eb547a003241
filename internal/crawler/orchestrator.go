package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/blogpulse/internal/metrics"
	"github.com/JakeFAU/blogpulse/internal/progress"
	"github.com/JakeFAU/blogpulse/internal/store"
)

// PostUpserter persists one extracted record.
type PostUpserter interface {
	Upsert(ctx context.Context, rec PostRecord) (store.UpsertResult, error)
}

// OrchestratorConfig bounds crawl runs.
type OrchestratorConfig struct {
	Source       Source
	EarliestYear int
	// MaxPages caps a pages-scoped run.
	MaxPages int
	// YearMaxPages caps how deep a year-scoped run walks the listing.
	YearMaxPages int
	// YearStopAfterEmpty ends a year-scoped run after this many consecutive
	// listing pages without a post from the requested year.
	YearStopAfterEmpty int
	// FetchConcurrency bounds parallel detail fetches within one listing page.
	FetchConcurrency int
	// HistoryLimit is how many finished runs are retained for inspection.
	HistoryLimit int
	// Progress receives run events; nil disables them.
	Progress progress.Emitter
}

// Orchestrator drives crawl runs. At most one run per blog is active at a time.
type Orchestrator struct {
	cfg       OrchestratorConfig
	fetcher   Fetcher
	extractor Extractor
	upserter  PostUpserter
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger

	mu      sync.Mutex
	active  map[string]string
	runs    map[string]*runEntry
	history []string
}

type runEntry struct {
	run  CrawlRun
	done chan struct{}
}

// RunHandle tracks a background run.
type RunHandle struct {
	ID   string
	done <-chan struct{}
	o    *Orchestrator
}

// Done is closed when the run reaches a terminal state.
func (h RunHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run finishes or ctx ends, returning the final summary.
func (h RunHandle) Wait(ctx context.Context) (CrawlRun, error) {
	select {
	case <-h.done:
		return h.o.Get(h.ID)
	case <-ctx.Done():
		return CrawlRun{}, fmt.Errorf("wait for run %s: %w", h.ID, ctx.Err())
	}
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(
	cfg OrchestratorConfig,
	fetcher Fetcher,
	extractor Extractor,
	upserter PostUpserter,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if fetcher == nil || extractor == nil || upserter == nil {
		return nil, errors.New("orchestrator: fetcher, extractor and upserter are required")
	}
	if clock == nil || ids == nil {
		return nil, errors.New("orchestrator: clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 1
	}
	if cfg.YearMaxPages <= 0 {
		cfg.YearMaxPages = 50
	}
	if cfg.YearStopAfterEmpty <= 0 {
		cfg.YearStopAfterEmpty = 5
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		upserter:  upserter,
		clock:     clock,
		ids:       ids,
		logger:    logger,
		active:    make(map[string]string),
		runs:      make(map[string]*runEntry),
	}, nil
}

// Run executes scope synchronously and returns the final summary. A second
// concurrent run against the same blog fails with ErrAlreadyRunning.
func (o *Orchestrator) Run(ctx context.Context, scope Scope) (CrawlRun, error) {
	run, err := o.begin(scope)
	if err != nil {
		return run, err
	}
	final := o.execute(ctx, run)
	return final, nil
}

// Start launches scope in the background. The run survives cancellation of ctx;
// only its values are inherited.
func (o *Orchestrator) Start(ctx context.Context, scope Scope) (RunHandle, error) {
	run, err := o.begin(scope)
	if err != nil {
		return RunHandle{ID: run.ID}, err
	}
	o.mu.Lock()
	done := o.runs[run.ID].done
	o.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go o.execute(bg, run)
	return RunHandle{ID: run.ID, done: done, o: o}, nil
}

// Get returns a snapshot of a known run.
func (o *Orchestrator) Get(id string) (CrawlRun, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.runs[id]
	if !ok {
		return CrawlRun{}, ErrRunNotFound
	}
	return entry.run, nil
}

// List returns retained runs, newest first.
func (o *Orchestrator) List() []CrawlRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]CrawlRun, 0, len(o.runs))
	for _, entry := range o.runs {
		out = append(out, entry.run)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Active returns the run currently holding the blog, if any.
func (o *Orchestrator) Active() (CrawlRun, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.active[o.cfg.Source.BlogID]
	if !ok {
		return CrawlRun{}, false
	}
	return o.runs[id].run, true
}

// Validate checks scope against the orchestrator's limits.
func (o *Orchestrator) Validate(scope Scope) error {
	return scope.Validate(o.clock.Now(), o.cfg.EarliestYear, o.cfg.MaxPages)
}

func (o *Orchestrator) begin(scope Scope) (CrawlRun, error) {
	if err := o.Validate(scope); err != nil {
		return CrawlRun{}, err
	}
	target := o.cfg.Source.BlogID

	o.mu.Lock()
	defer o.mu.Unlock()
	if activeID, busy := o.active[target]; busy {
		return CrawlRun{ID: activeID}, ErrAlreadyRunning
	}
	id, err := o.ids.NewID()
	if err != nil {
		return CrawlRun{}, fmt.Errorf("generate run id: %w", err)
	}
	run := CrawlRun{
		ID:        id,
		Target:    target,
		Scope:     scope,
		Status:    RunRunning,
		StartedAt: o.clock.Now(),
	}
	o.active[target] = id
	o.runs[id] = &runEntry{run: run, done: make(chan struct{})}
	o.history = append(o.history, id)
	o.pruneLocked()
	metrics.IncActiveRuns()
	return run, nil
}

func (o *Orchestrator) pruneLocked() {
	for len(o.history) > o.cfg.HistoryLimit {
		oldest := o.history[0]
		entry := o.runs[oldest]
		if entry != nil && !entry.run.Finished() {
			return
		}
		o.history = o.history[1:]
		delete(o.runs, oldest)
	}
}

func (o *Orchestrator) publish(run CrawlRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry, ok := o.runs[run.ID]; ok {
		entry.run = run
	}
}

func (o *Orchestrator) finish(run CrawlRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.runs[run.ID]
	if ok {
		entry.run = run
		close(entry.done)
	}
	if o.active[run.Target] == run.ID {
		delete(o.active, run.Target)
	}
	metrics.DecActiveRuns()
}

func (o *Orchestrator) execute(ctx context.Context, run CrawlRun) CrawlRun {
	logger := o.logger.With(zap.String("run_id", run.ID), zap.String("scope", run.Scope.String()))
	logger.Info("crawl run started")
	o.emit(progress.Event{RunID: run.ID, Stage: progress.StageRunStart})

	var err error
	switch run.Scope.Kind {
	case ScopeYear:
		err = o.crawlYear(ctx, &run, logger)
	default:
		err = o.crawlPages(ctx, &run, logger)
	}

	finished := o.clock.Now()
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(run.StartedAt).Milliseconds()
	run.Status = RunCompleted
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	}
	o.finish(run)
	done := progress.Event{RunID: run.ID, Stage: progress.StageRunDone, Dur: finished.Sub(run.StartedAt)}
	if err != nil {
		done.Stage = progress.StageRunError
		done.Note = err.Error()
	}
	o.emit(done)
	metrics.ObserveCrawlRun(string(run.Scope.Kind), string(run.Status), finished.Sub(run.StartedAt))

	logger.Info("crawl run finished",
		zap.String("status", string(run.Status)),
		zap.Int("pages_visited", run.PagesVisited),
		zap.Int("found", run.Found),
		zap.Int("new", run.New),
		zap.Int("updated", run.Updated),
		zap.Int("unchanged", run.Unchanged),
		zap.Int("failed", run.Failed),
		zap.Int64("duration_ms", run.DurationMs),
	)
	return run
}

func (o *Orchestrator) crawlPages(ctx context.Context, run *CrawlRun, logger *zap.Logger) error {
	seen := make(map[string]struct{})
	listed := 0
	for page := 1; page <= run.Scope.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		refs, err := o.listPage(ctx, page, run, logger)
		if err != nil {
			continue
		}
		listed++
		refs = dedupe(refs, seen)
		if len(refs) == 0 {
			logger.Info("listing exhausted", zap.Int("page", page))
			break
		}
		run.Found += len(refs)
		o.publish(*run)

		for _, item := range o.fetchPosts(ctx, refs) {
			if item.err != nil {
				o.recordFailure(run, item.ref, item.err, logger)
				continue
			}
			o.store(ctx, run, item.record, logger)
		}
	}
	if listed == 0 {
		return errors.New("no listing page could be fetched")
	}
	return nil
}

func (o *Orchestrator) crawlYear(ctx context.Context, run *CrawlRun, logger *zap.Logger) error {
	year := run.Scope.Year
	loc := o.cfg.Source.Loc()
	seen := make(map[string]struct{})
	listed := 0
	emptyStreak := 0
	for page := 1; page <= o.cfg.YearMaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		refs, err := o.listPage(ctx, page, run, logger)
		if err != nil {
			continue
		}
		listed++
		refs = dedupe(refs, seen)
		if len(refs) == 0 {
			logger.Info("listing exhausted", zap.Int("page", page))
			break
		}

		matched, older, resolved := 0, 0, 0
		for _, item := range o.fetchPosts(ctx, refs) {
			if item.err != nil {
				run.Found++
				o.recordFailure(run, item.ref, item.err, logger)
				continue
			}
			if !item.record.DateResolved() {
				continue
			}
			resolved++
			postYear := item.record.PublishedAt.In(loc).Year()
			switch {
			case postYear == year:
				matched++
				run.Found++
				o.store(ctx, run, item.record, logger)
			case postYear < year:
				older++
			}
		}
		o.publish(*run)

		if resolved > 0 && older == resolved {
			logger.Info("listing passed requested year", zap.Int("page", page))
			break
		}
		if matched == 0 {
			emptyStreak++
			if emptyStreak >= o.cfg.YearStopAfterEmpty {
				logger.Info("no posts from requested year", zap.Int("page", page), zap.Int("empty_pages", emptyStreak))
				break
			}
			continue
		}
		emptyStreak = 0
	}
	if listed == 0 {
		return errors.New("no listing page could be fetched")
	}
	return nil
}

func (o *Orchestrator) listPage(ctx context.Context, page int, run *CrawlRun, logger *zap.Logger) ([]PostRef, error) {
	listURL := o.cfg.Source.ListURL(page)
	run.PagesVisited++
	raw, err := o.fetcher.Fetch(ctx, listURL)
	if err == nil {
		var refs []PostRef
		refs, err = o.extractor.ParseListing(raw)
		if err == nil {
			for i := range refs {
				refs[i].URL = o.cfg.Source.PostURL(refs[i].ExternalID)
			}
			o.emit(progress.Event{RunID: run.ID, Stage: progress.StagePageListed, Page: page, Posts: len(refs), URL: listURL})
			return refs, nil
		}
	}
	run.Failed++
	o.publish(*run)
	o.emit(progress.Event{RunID: run.ID, Stage: progress.StagePageFailed, Page: page, URL: listURL, Note: err.Error()})
	logger.Warn("listing page failed", zap.Int("page", page), zap.String("url", listURL), zap.Error(err))
	return nil, err
}

type fetchedPost struct {
	ref    PostRef
	record PostRecord
	err    error
}

// fetchPosts fetches and extracts refs with bounded parallelism. Results keep
// listing order.
func (o *Orchestrator) fetchPosts(ctx context.Context, refs []PostRef) []fetchedPost {
	results := make([]fetchedPost, len(refs))
	var g errgroup.Group
	g.SetLimit(o.cfg.FetchConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = o.fetchPost(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) fetchPost(ctx context.Context, ref PostRef) fetchedPost {
	raw, err := o.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		return fetchedPost{ref: ref, err: err}
	}
	record, err := o.extractor.Extract(raw)
	if err != nil {
		return fetchedPost{ref: ref, err: err}
	}
	if record.ExternalID == "" {
		record.ExternalID = ref.ExternalID
	}
	if record.URL == "" {
		record.URL = ref.URL
	}
	if record.CrawledAt.IsZero() {
		record.CrawledAt = o.clock.Now()
	}
	return fetchedPost{ref: ref, record: record}
}

func (o *Orchestrator) store(ctx context.Context, run *CrawlRun, record PostRecord, logger *zap.Logger) {
	result, err := o.upserter.Upsert(ctx, record)
	if err != nil {
		o.recordFailure(run, PostRef{ExternalID: record.ExternalID, URL: record.URL}, err, logger)
		return
	}
	metrics.ObserveUpsert(string(result))
	o.emit(progress.Event{RunID: run.ID, Stage: progress.StagePostStored, PostID: record.ExternalID, Result: string(result)})
	switch result {
	case store.UpsertCreated:
		run.New++
	case store.UpsertUpdated:
		run.Updated++
	default:
		run.Unchanged++
	}
	o.publish(*run)
}

func (o *Orchestrator) recordFailure(run *CrawlRun, ref PostRef, err error, logger *zap.Logger) {
	run.Failed++
	o.publish(*run)
	o.emit(progress.Event{
		RunID:  run.ID,
		Stage:  progress.StagePostFailed,
		PostID: ref.ExternalID,
		URL:    ref.URL,
		Note:   failureStage(err) + ": " + err.Error(),
	})
	logger.Warn("post failed",
		zap.String("post_id", ref.ExternalID),
		zap.String("url", ref.URL),
		zap.String("stage", failureStage(err)),
		zap.Error(err),
	)
}

func failureStage(err error) string {
	var (
		fetchErr   *FetchError
		extractErr *ExtractError
		storeErr   *StoreWriteError
	)
	switch {
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &extractErr):
		return "extract"
	case errors.As(err, &storeErr):
		return "store"
	default:
		return "unknown"
	}
}

func dedupe(refs []PostRef, seen map[string]struct{}) []PostRef {
	out := refs[:0]
	for _, ref := range refs {
		if ref.ExternalID == "" {
			continue
		}
		if _, ok := seen[ref.ExternalID]; ok {
			continue
		}
		seen[ref.ExternalID] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.cfg.Progress == nil {
		return
	}
	evt.TS = o.clock.Now()
	o.cfg.Progress.Emit(evt)
}
