// Package mention finds watched tickers in post text.
package mention

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/JakeFAU/blogpulse/internal/store"
)

// Detector matches a watchlist of tickers and their aliases. ASCII aliases
// must stand alone as words; other aliases match as substrings so Korean
// names still match with particles attached (테슬라가, 테슬라의).
type Detector struct {
	patterns []tickerPattern
}

type tickerPattern struct {
	ticker string
	re     *regexp.Regexp
}

// NewDetector compiles watchlist, a ticker → aliases map. The ticker symbol is
// always an alias of itself.
func NewDetector(watchlist map[string][]string) *Detector {
	tickers := make([]string, 0, len(watchlist))
	for ticker := range watchlist {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)

	d := &Detector{}
	for _, raw := range tickers {
		ticker := store.NormalizeTicker(raw)
		if ticker == "" {
			continue
		}
		aliases := append([]string{ticker}, watchlist[raw]...)
		if re := compileAliases(aliases); re != nil {
			d.patterns = append(d.patterns, tickerPattern{ticker: ticker, re: re})
		}
	}
	return d
}

func compileAliases(aliases []string) *regexp.Regexp {
	seen := make(map[string]struct{})
	var parts []string
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			continue
		}
		key := strings.ToLower(alias)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		quoted := regexp.QuoteMeta(alias)
		if isASCIIWord(alias) {
			quoted = `(?:^|[^\p{L}\p{N}])` + quoted + `(?:$|[^\p{L}\p{N}])`
		}
		parts = append(parts, quoted)
	}
	if len(parts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)` + strings.Join(parts, "|"))
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// Detect returns the sorted tickers mentioned in title or content.
func (d *Detector) Detect(title, content string) []string {
	if d == nil || len(d.patterns) == 0 {
		return nil
	}
	text := title + "\n" + content
	var out []string
	for _, p := range d.patterns {
		if p.re.MatchString(text) {
			out = append(out, p.ticker)
		}
	}
	return out
}

// Tickers lists the watched symbols.
func (d *Detector) Tickers() []string {
	out := make([]string, 0, len(d.patterns))
	for _, p := range d.patterns {
		out = append(out, p.ticker)
	}
	return out
}
