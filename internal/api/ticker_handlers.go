package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogpulse/internal/chart"
	"github.com/JakeFAU/blogpulse/internal/store"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

func parseTicker(r *http.Request) (string, error) {
	ticker := store.NormalizeTicker(chi.URLParam(r, "ticker"))
	if !tickerPattern.MatchString(ticker) {
		return "", errors.New("invalid ticker")
	}
	return ticker, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limit := def
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	return limit, nil
}

// tickerSentiments handles GET /v1/tickers/{ticker}/sentiments?period=.
func (s *Server) tickerSentiments(w http.ResponseWriter, r *http.Request) {
	ticker, err := parseTicker(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	period, err := chart.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := s.deps.Charts.ChartData(r.Context(), ticker, period)
	if err != nil {
		s.logger.Error("chart query failed", zap.String("ticker", ticker), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load sentiment data")
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// tickerCounts handles GET /v1/tickers/{ticker}/counts?period=.
func (s *Server) tickerCounts(w http.ResponseWriter, r *http.Request) {
	ticker, err := parseTicker(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	period, err := chart.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	counts, err := s.deps.Charts.Counts(r.Context(), ticker, period)
	if err != nil {
		s.logger.Error("count query failed", zap.String("ticker", ticker), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count sentiments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticker": ticker,
		"period": period,
		"counts": counts,
		"total":  counts.Total(),
	})
}

// tickerPosts handles GET /v1/tickers/{ticker}/posts?limit=.
func (s *Server) tickerPosts(w http.ResponseWriter, r *http.Request) {
	ticker, err := parseTicker(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, chart.DefaultRecentLimit, chart.MaxRecentLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	posts, err := s.deps.Charts.RecentPosts(r.Context(), ticker, limit)
	if err != nil {
		s.logger.Error("recent posts query failed", zap.String("ticker", ticker), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load posts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticker": ticker, "posts": posts})
}

// saveSentiment handles PUT /v1/sentiments. It replaces the (post, ticker)
// judgment and drops the ticker's cached queries; 404 when the post is unknown.
func (s *Server) saveSentiment(w http.ResponseWriter, r *http.Request) {
	var row store.MentionSentiment
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sentiment, err := store.ParseSentiment(string(row.Sentiment))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	row.Sentiment = sentiment
	row.Ticker = store.NormalizeTicker(row.Ticker)
	row.PostExternalID = strings.TrimSpace(row.PostExternalID)
	if err := row.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Sentiments.SaveSentiment(r.Context(), row); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		s.logger.Error("save sentiment failed", zap.String("post_id", row.PostExternalID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save sentiment")
		return
	}
	if err := s.deps.Charts.InvalidateTicker(r.Context(), row.Ticker); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("ticker", row.Ticker), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "saved",
		"post_id": row.PostExternalID,
		"ticker":  row.Ticker,
	})
}
