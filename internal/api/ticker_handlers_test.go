package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogpulse/internal/chart"
	"github.com/JakeFAU/blogpulse/internal/store"
)

func TestTickerSentiments(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	seedPost(t, env.repo, "101", "2025-08-06", "TSLA")
	seedPost(t, env.repo, "102", "2025-08-07", "TSLA", "AAPL")

	rec := env.do(t, http.MethodGet, "/v1/tickers/tsla/sentiments?period=1mo", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := decode[chart.Data](t, rec)
	require.Equal(t, "TSLA", data.Ticker)
	require.Equal(t, chart.Period1M, data.Period)
	require.Equal(t, []string{"2025-08-06", "2025-08-07"}, data.Dates)
	require.Equal(t, chart.MarkerMentionOnly, data.ByDate["2025-08-06"].Marker)
	require.Equal(t, 2, data.Summary.TotalMentions)
	require.Zero(t, data.Summary.Analyzed)
}

func TestTickerSentiments_RejectsBadInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/tickers/TSLA/sentiments?period=2W", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/tickers/$$$/sentiments", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/tickers/TSLA/counts?period=5Y", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/tickers/TSLA/posts?limit=-1", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/tickers/TSLA/posts?limit=ten", nil).Code)
}

func TestSaveSentimentInvalidatesTicker(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	seedPost(t, env.repo, "101", "2025-08-06", "TSLA")

	before := decode[chart.Data](t, env.do(t, http.MethodGet, "/v1/tickers/TSLA/sentiments", nil))
	require.Zero(t, before.Summary.Analyzed)

	rec := env.do(t, http.MethodPut, "/v1/sentiments", map[string]any{
		"post_id":    "101",
		"ticker":     "tsla",
		"sentiment":  "Positive",
		"score":      0.8,
		"confidence": 0.9,
		"reasoning":  "delivery beat",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, map[string]string{"status": "saved", "post_id": "101", "ticker": "TSLA"},
		decode[map[string]string](t, rec))

	after := decode[chart.Data](t, env.do(t, http.MethodGet, "/v1/tickers/TSLA/sentiments", nil))
	require.Equal(t, 1, after.Summary.Analyzed)
	require.Equal(t, 1, after.Summary.Positive)
	bucket := after.ByDate["2025-08-06"]
	require.Equal(t, chart.MarkerAnalyzed, bucket.Marker)
	require.Equal(t, store.SentimentPositive, bucket.Pairs[0].Sentiment)
}

func TestSaveSentiment_LabelerMentionForNewTicker(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	seedPost(t, env.repo, "101", "2025-08-06", "TSLA")

	rec := env.do(t, http.MethodPut, "/v1/sentiments", map[string]any{
		"post_id": "101", "ticker": "NVDA", "sentiment": "negative", "score": -0.4, "confidence": 0.7,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"NVDA", "TSLA"}, env.repo.Mentions("101"))

	counts := decode[struct {
		Counts store.SentimentCounts `json:"counts"`
		Total  int                   `json:"total"`
	}](t, env.do(t, http.MethodGet, "/v1/tickers/NVDA/counts?period=1Y", nil))
	require.Equal(t, 1, counts.Counts.Negative)
	require.Equal(t, 1, counts.Total)
}

func TestSaveSentiment_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	seedPost(t, env.repo, "101", "2025-08-06", "TSLA")

	rec := env.do(t, http.MethodPut, "/v1/sentiments", map[string]any{
		"post_id": "999", "ticker": "TSLA", "sentiment": "neutral",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	bad := []map[string]any{
		{"post_id": "101", "ticker": "TSLA", "sentiment": "bullish"},
		{"post_id": "101", "ticker": "TSLA", "sentiment": "neutral", "score": 2},
		{"post_id": "101", "ticker": "TSLA", "sentiment": "neutral", "confidence": -0.1},
		{"post_id": "", "ticker": "TSLA", "sentiment": "neutral"},
		{"post_id": "101", "ticker": " ", "sentiment": "neutral"},
	}
	for _, body := range bad {
		require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/v1/sentiments", body).Code, body)
	}
}

func TestTickerPosts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	seedPost(t, env.repo, "101", "2025-08-06", "TSLA")
	seedPost(t, env.repo, "102", "2025-08-07", "TSLA")
	seedPost(t, env.repo, "103", "2025-08-08", "AAPL")

	rec := env.do(t, http.MethodGet, "/v1/tickers/TSLA/posts?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Ticker string              `json:"ticker"`
		Posts  []store.PostSummary `json:"posts"`
	}](t, rec)
	require.Equal(t, "TSLA", resp.Ticker)
	require.Len(t, resp.Posts, 1)
	require.Equal(t, "102", resp.Posts[0].ExternalID)
	require.Equal(t, "2025-08-07", resp.Posts[0].PublishedOn)
}
