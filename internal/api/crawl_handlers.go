package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/crawler"
	"github.com/JakeFAU/blogpulse/internal/id/uuid"
	"github.com/JakeFAU/blogpulse/internal/progress"
)

const (
	modeSync       = "sync"
	modeBackground = "background"
)

type crawlRequest struct {
	Pages *int   `json:"pages"`
	Year  *int   `json:"year"`
	Mode  string `json:"mode"`
}

type crawlAccepted struct {
	RunID  string            `json:"run_id"`
	Status crawler.RunStatus `json:"status"`
	Scope  crawler.Scope     `json:"scope"`
}

type busyResponse struct {
	Error       string `json:"error"`
	ActiveRunID string `json:"active_run_id"`
}

// triggerCrawl handles POST /v1/crawl. A page scope runs synchronously by
// default and a year scope in the background; "mode" overrides either. Sync
// returns 200 with the summary, background 202 with the run id, and a busy
// blog 409 naming the active run.
func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	scope, mode, err := s.toScope(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Crawls.Validate(scope); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// A triggered run finishes even if the caller goes away.
	ctx := context.WithoutCancel(r.Context())
	switch mode {
	case modeBackground:
		handle, err := s.deps.Crawls.Start(ctx, scope)
		if err != nil {
			s.writeCrawlError(w, handle.ID, err)
			return
		}
		writeJSON(w, http.StatusAccepted, crawlAccepted{RunID: handle.ID, Status: crawler.RunRunning, Scope: scope})
	default:
		run, err := s.deps.Crawls.Run(ctx, scope)
		if err != nil {
			s.writeCrawlError(w, run.ID, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) writeCrawlError(w http.ResponseWriter, activeID string, err error) {
	switch {
	case errors.Is(err, crawler.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, busyResponse{Error: err.Error(), ActiveRunID: activeID})
	case errors.Is(err, crawler.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("crawl trigger failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start crawl")
	}
}

func (s *Server) toScope(req crawlRequest) (crawler.Scope, string, error) {
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode != "" && mode != modeSync && mode != modeBackground {
		return crawler.Scope{}, "", errors.New("mode must be sync or background")
	}
	switch {
	case req.Pages != nil && req.Year != nil:
		return crawler.Scope{}, "", errors.New("specify either pages or year, not both")
	case req.Year != nil:
		if mode == "" {
			mode = modeBackground
		}
		return crawler.YearScope(*req.Year), mode, nil
	default:
		if mode == "" {
			mode = modeSync
		}
		pages := valueOrDefault(req.Pages, s.cfg.Crawler.MaxPagesDefault)
		return crawler.PagesScope(pages), mode, nil
	}
}

// listRuns handles GET /v1/crawl/runs and returns retained runs newest first,
// plus the active run id when one is in flight.
func (s *Server) listRuns(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"runs": s.deps.Crawls.List()}
	if active, ok := s.deps.Crawls.Active(); ok {
		resp["active_run_id"] = active.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

// getRun handles GET /v1/crawl/runs/{run_id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	if !uuid.Valid(id) {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	run, err := s.deps.Crawls.Get(id)
	if err != nil {
		if errors.Is(err, crawler.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type runEvents struct {
	RunID  string           `json:"run_id"`
	Events []progress.Event `json:"events"`
}

// getRunEvents handles GET /v1/crawl/runs/{run_id}/events.
func (s *Server) getRunEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "run_id")
	if !uuid.Valid(id) {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	if s.deps.Events == nil {
		writeError(w, http.StatusNotFound, "run events not recorded")
		return
	}
	events, ok := s.deps.Events.Events(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run events not found")
		return
	}
	writeJSON(w, http.StatusOK, runEvents{RunID: id, Events: events})
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}
