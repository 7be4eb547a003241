package extract

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/blogpulse/internal/store"
)

// DateInput is what a resolver may inspect.
type DateInput struct {
	Doc *goquery.Document
	// Text is the visible page text with scripts and styles removed.
	Text      string
	Location  *time.Location
	Plausible func(time.Time) bool
}

// DateResolver is one strategy for recovering a post's publish date.
type DateResolver interface {
	Name() string
	Confidence() store.DateConfidence
	Resolve(in DateInput) (time.Time, bool)
}

// DefaultResolvers returns the strategies in descending confidence.
func DefaultResolvers() []DateResolver {
	return []DateResolver{
		StructuredDataResolver{},
		MetaTagResolver{},
		TextPatternResolver{},
	}
}

// resolveDate runs resolvers in order and keeps the first plausible result.
func resolveDate(resolvers []DateResolver, in DateInput) (time.Time, store.DateConfidence, string) {
	for _, r := range resolvers {
		if t, ok := r.Resolve(in); ok && in.Plausible(t) {
			return t, r.Confidence(), r.Name()
		}
	}
	return time.Time{}, store.DateUnresolved, ""
}

// StructuredDataResolver reads schema.org datePublished from JSON-LD blocks and
// itemprop attributes.
type StructuredDataResolver struct{}

func (StructuredDataResolver) Name() string { return "structured" }

func (StructuredDataResolver) Confidence() store.DateConfidence { return store.DateFromStructured }

func (StructuredDataResolver) Resolve(in DateInput) (time.Time, bool) {
	var found time.Time
	in.Doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		for _, raw := range findJSONDates(payload) {
			if t, ok := parseTimestamp(raw, in.Location); ok && in.Plausible(t) {
				found = t
				return false
			}
		}
		return true
	})
	if !found.IsZero() {
		return found, true
	}
	in.Doc.Find(`[itemprop="datePublished"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"content", "datetime"} {
			if raw, ok := s.Attr(attr); ok {
				if t, ok := parseTimestamp(raw, in.Location); ok && in.Plausible(t) {
					found = t
					return false
				}
			}
		}
		return true
	})
	return found, !found.IsZero()
}

func findJSONDates(v any) []string {
	var out []string
	switch node := v.(type) {
	case map[string]any:
		for _, key := range []string{"datePublished", "dateCreated"} {
			if s, ok := node[key].(string); ok {
				out = append(out, s)
			}
		}
		if graph, ok := node["@graph"]; ok {
			out = append(out, findJSONDates(graph)...)
		}
	case []any:
		for _, item := range node {
			out = append(out, findJSONDates(item)...)
		}
	}
	return out
}

// MetaTagResolver reads publish-time meta tags and <time datetime>.
type MetaTagResolver struct{}

var metaDateSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="article:published_time"]`, "content"},
	{`meta[property="og:article:published_time"]`, "content"},
	{`meta[name="article:published_time"]`, "content"},
	{`meta[name="pubdate"]`, "content"},
	{`meta[name="date"]`, "content"},
	{`time[datetime]`, "datetime"},
}

func (MetaTagResolver) Name() string { return "meta" }

func (MetaTagResolver) Confidence() store.DateConfidence { return store.DateFromMeta }

func (MetaTagResolver) Resolve(in DateInput) (time.Time, bool) {
	for _, sel := range metaDateSelectors {
		var found time.Time
		in.Doc.Find(sel.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw, ok := s.Attr(sel.attr)
			if !ok {
				return true
			}
			if t, ok := parseTimestamp(raw, in.Location); ok && in.Plausible(t) {
				found = t
				return false
			}
			return true
		})
		if !found.IsZero() {
			return found, true
		}
	}
	return time.Time{}, false
}

// TextPatternResolver scans visible text for date-like strings and keeps the
// earliest-positioned match that is plausible.
type TextPatternResolver struct{}

var textDatePatterns = []*regexp.Regexp{
	// 2024. 8. 12. 9:30 / 2024.08.12
	regexp.MustCompile(`\b(\d{4})\.\s*(\d{1,2})\.\s*(\d{1,2})\b\.?(?:\s*(\d{1,2}):(\d{2}))?`),
	// 2024-08-12 09:30
	regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b(?:[ T](\d{1,2}):(\d{2}))?`),
	// 2024/08/12
	regexp.MustCompile(`\b(\d{4})/(\d{1,2})/(\d{1,2})\b(?:\s+(\d{1,2}):(\d{2}))?`),
	// 2024년 8월 12일 9시 30분
	regexp.MustCompile(`(\d{4})년\s*(\d{1,2})월\s*(\d{1,2})일(?:\s*(\d{1,2})시(?:\s*(\d{1,2})분)?)?`),
}

func (TextPatternResolver) Name() string { return "text" }

func (TextPatternResolver) Confidence() store.DateConfidence { return store.DateFromText }

func (TextPatternResolver) Resolve(in DateInput) (time.Time, bool) {
	for _, t := range textDates(in.Text, in.Location) {
		if in.Plausible(t) {
			return t, true
		}
	}
	return time.Time{}, false
}

type positionedDate struct {
	pos int
	t   time.Time
}

// textDates returns every valid calendar date in text, ordered by position.
func textDates(text string, loc *time.Location) []time.Time {
	var hits []positionedDate
	for _, re := range textDatePatterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			groups := make([]string, 6)
			for g := 1; g <= 5; g++ {
				if m[2*g] >= 0 {
					groups[g] = text[m[2*g]:m[2*g+1]]
				}
			}
			if t, ok := buildDate(groups[1], groups[2], groups[3], groups[4], groups[5], loc); ok {
				hits = append(hits, positionedDate{pos: m[0], t: t})
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	out := make([]time.Time, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.t)
	}
	return out
}

// buildDate validates the parts; date-only values land at local noon.
func buildDate(year, month, day, hour, minute string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	y, errY := strconv.Atoi(year)
	mo, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil {
		return time.Time{}, false
	}
	h, mi := 12, 0
	if hour != "" {
		h, _ = strconv.Atoi(hour)
		mi, _ = strconv.Atoi(minute)
	}
	if mo < 1 || mo > 12 || d < 1 || d > 31 || h > 23 || mi > 59 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, h, mi, 0, 0, loc)
	if t.Day() != d || int(t.Month()) != mo {
		return time.Time{}, false
	}
	return t, true
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04-07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// parseTimestamp accepts machine timestamps and falls back to the text patterns.
func parseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return t.Add(12 * time.Hour), true
	}
	if dates := textDates(raw, loc); len(dates) > 0 {
		return dates[0], true
	}
	return time.Time{}, false
}
