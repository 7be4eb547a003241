package api

import (
	"net/http"

	"go.uber.org/zap"
)

// clearCache handles DELETE /v1/cache.
func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cache.Clear(r.Context()); err != nil {
		s.logger.Error("cache clear failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "cache backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// clearTickerCache handles DELETE /v1/cache/tickers/{ticker}.
func (s *Server) clearTickerCache(w http.ResponseWriter, r *http.Request) {
	ticker, err := parseTicker(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Charts.InvalidateTicker(r.Context(), ticker); err != nil {
		s.logger.Error("ticker cache clear failed", zap.String("ticker", ticker), zap.Error(err))
		writeError(w, http.StatusBadGateway, "cache backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "ticker": ticker})
}

// cacheStats handles GET /v1/cache/stats.
func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats(r.Context()))
}
