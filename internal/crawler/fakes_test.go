package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/blogpulse/internal/progress"
	"github.com/JakeFAU/blogpulse/internal/store"
)

var testSource = Source{
	BlogID:          "blog",
	ListURLTemplate: "https://blog.test/list?blogId={blog_id}&page={page}",
	PostURLTemplate: "https://blog.test/{blog_id}/{post_id}",
}

// fakeFetcher serves canned bodies keyed by URL.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	fail  map[string]bool
	gate  chan struct{}
	calls map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]string),
		fail:  make(map[string]bool),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) listing(page int, ids ...string) {
	f.pages[testSource.ListURL(page)] = strings.Join(ids, ",")
}

func (f *fakeFetcher) post(id, title, content, date string) {
	f.pages[testSource.PostURL(id)] = title + "|" + content + "|" + date
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (RawPage, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return RawPage{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if f.fail[url] {
		return RawPage{}, &FetchError{URL: url, StatusCode: 503, Attempts: 3, Err: errors.New("service unavailable")}
	}
	body, ok := f.pages[url]
	if !ok {
		return RawPage{}, &FetchError{URL: url, StatusCode: 404, Attempts: 1, Err: errors.New("not found")}
	}
	return RawPage{URL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// pipeExtractor reads "title|content|YYYY-MM-DD" detail bodies and
// comma-separated listing bodies.
type pipeExtractor struct {
	loc *time.Location
}

func (pipeExtractor) ParseListing(page RawPage) ([]PostRef, error) {
	var refs []PostRef
	for _, id := range strings.Split(string(page.Body), ",") {
		if id = strings.TrimSpace(id); id != "" {
			refs = append(refs, PostRef{ExternalID: id})
		}
	}
	return refs, nil
}

func (e pipeExtractor) Extract(page RawPage) (PostRecord, error) {
	parts := strings.Split(string(page.Body), "|")
	if len(parts) != 3 {
		return PostRecord{}, &ExtractError{URL: page.URL, Reason: "malformed body"}
	}
	rec := PostRecord{
		ExternalID: page.URL[strings.LastIndex(page.URL, "/")+1:],
		URL:        page.URL,
		Title:      parts[0],
		Content:    parts[1],
	}
	if parts[2] != "" {
		loc := e.loc
		if loc == nil {
			loc = time.UTC
		}
		published, err := time.ParseInLocation(time.DateOnly, parts[2], loc)
		if err != nil {
			return PostRecord{}, &ExtractError{URL: page.URL, Reason: "bad date", Err: err}
		}
		rec.PublishedAt = published.Add(12 * time.Hour)
		rec.DateConfidence = store.DateFromText
		rec.DateSource = "text"
	}
	return rec, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("run-%d", s.n), nil
}

type substringDetector struct{ tickers []string }

func (d substringDetector) Detect(title, content string) []string {
	var out []string
	for _, t := range d.tickers {
		if strings.Contains(title+" "+content, t) {
			out = append(out, t)
		}
	}
	return out
}

type recordingInvalidator struct {
	mu      sync.Mutex
	tickers []string
}

func (r *recordingInvalidator) InvalidateTicker(_ context.Context, ticker string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickers = append(r.tickers, ticker)
	return nil
}

func (r *recordingInvalidator) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tickers...)
}

type sha1Hasher struct{}

func (sha1Hasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("%x", data), nil
}

type failingWriter struct{ err error }

func (f failingWriter) UpsertPost(context.Context, store.PostWrite) (store.UpsertResult, error) {
	return "", f.err
}

// recordingEmitter collects emitted progress events in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}
