package chart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogpulse/internal/store"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestAggregateGroupsByDate(t *testing.T) {
	t.Parallel()

	rows := []store.TickerRow{
		{ExternalID: "1", Date: day("2025-08-06"), Analyzed: true, Sentiment: store.SentimentPositive, Confidence: 0.9, Reasoning: "beat"},
		{ExternalID: "2", Date: day("2025-08-06"), Analyzed: true, Sentiment: store.SentimentNegative, Confidence: 0.7, Reasoning: "guidance cut"},
		{ExternalID: "3", Date: day("2025-08-07"), Analyzed: true, Sentiment: store.SentimentPositive, Confidence: 0.8},
	}

	buckets, summary := Aggregate(rows)
	require.Len(t, buckets, 2)

	first := buckets["2025-08-06"]
	require.Len(t, first.Pairs, 2)
	require.Equal(t, store.SentimentCounts{Positive: 1, Negative: 1}, first.SentimentCounts)
	require.Equal(t, MarkerAnalyzed, first.Marker)
	require.Equal(t, "1", first.Pairs[0].PostID)
	require.Equal(t, "guidance cut", first.Pairs[1].Reasoning)

	second := buckets["2025-08-07"]
	require.Len(t, second.Pairs, 1)
	require.Equal(t, store.SentimentCounts{Positive: 1}, second.SentimentCounts)

	require.Equal(t, 3, summary.TotalMentions)
	require.Equal(t, 3, summary.Analyzed)
	require.Equal(t, 2, summary.Positive)
	require.InDelta(t, 0.8, summary.AverageConfidence, 1e-9)
	require.Equal(t, []string{"2025-08-06", "2025-08-07"}, sortedDates(buckets))
}

func TestAggregateSeparatesMentionOnlyFromNeutral(t *testing.T) {
	t.Parallel()

	rows := []store.TickerRow{
		{ExternalID: "1", Date: day("2025-08-06")},
		{ExternalID: "2", Date: day("2025-08-07"), Analyzed: true, Sentiment: store.SentimentNeutral, Confidence: 0.5},
		{ExternalID: "3", Date: day("2025-08-07")},
	}

	buckets, summary := Aggregate(rows)

	mentionOnly := buckets["2025-08-06"]
	require.Equal(t, MarkerMentionOnly, mentionOnly.Marker)
	require.Equal(t, 1, mentionOnly.MentionOnly)
	require.Zero(t, mentionOnly.SentimentCounts.Total())
	require.False(t, mentionOnly.Pairs[0].Analyzed)

	neutral := buckets["2025-08-07"]
	require.Equal(t, MarkerAnalyzed, neutral.Marker)
	require.Equal(t, 1, neutral.SentimentCounts.Neutral)
	require.Equal(t, 1, neutral.MentionOnly)

	require.Equal(t, 3, summary.TotalMentions)
	require.Equal(t, 1, summary.Analyzed)
	require.InDelta(t, 0.5, summary.AverageConfidence, 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	buckets, summary := Aggregate(nil)
	require.Empty(t, buckets)
	require.Zero(t, summary.TotalMentions)
	require.Zero(t, summary.AverageConfidence)
}

func TestParsePeriod(t *testing.T) {
	t.Parallel()

	cases := map[string]Period{
		"":    Period6M,
		"1M":  Period1M,
		"1mo": Period1M,
		"3M":  Period3M,
		"3mo": Period3M,
		"6mo": Period6M,
		"1y":  Period1Y,
		"1Y":  Period1Y,
	}
	for raw, want := range cases {
		got, err := ParsePeriod(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}

	_, err := ParsePeriod("2W")
	require.Error(t, err)
}

func TestPeriodWindowUsesSourceTimezone(t *testing.T) {
	t.Parallel()

	kst := time.FixedZone("KST", 9*3600)
	// 2025-08-06 16:00 UTC is already 2025-08-07 in Seoul.
	now := time.Date(2025, 8, 6, 16, 0, 0, 0, time.UTC)

	from, to := Period1M.Window(now, kst)
	require.Equal(t, day("2025-08-07"), to)
	require.Equal(t, day("2025-07-08"), from)

	from, _ = Period1Y.Window(now, kst)
	require.Equal(t, day("2024-08-07"), from)
}
