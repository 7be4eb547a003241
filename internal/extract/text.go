package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	invisibleReplacer = strings.NewReplacer(
		"\u200b", "",
		"\u200c", "",
		"\u200d", "",
		"\ufeff", "",
		"\u00a0", " ",
	)
	spaceRun    = regexp.MustCompile(`[ \t\f\v]+`)
	blankLines  = regexp.MustCompile(`\n\s*\n`)
	attribution = regexp.MustCompile(`©\s*CoolPub(?:li|il)cDomains,?(?:\s*출처\s*OGQ)?`)
)

// normalizeLine strips invisible characters and collapses inline whitespace.
func normalizeLine(s string) string {
	s = invisibleReplacer.Replace(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// finalizeContent removes image attributions, squeezes blank lines and caps the
// body at maxRunes.
func finalizeContent(s string, maxRunes int) string {
	s = attribution.ReplaceAllString(s, "")
	s = blankLines.ReplaceAllString(s, "\n")
	s = strings.TrimSpace(s)
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		s = strings.TrimSpace(string([]rune(s)[:maxRunes]))
	}
	return s
}

// isTitleEcho reports whether an opening body line merely repeats the title.
// accepted is the number of lines already kept.
func isTitleEcho(line, title string, accepted int) bool {
	if title == "" || accepted >= 3 {
		return false
	}
	if line == title || squash(line) == squash(title) {
		return true
	}
	if accepted >= 2 {
		return false
	}
	lineLen, titleLen := utf8.RuneCountInString(line), utf8.RuneCountInString(title)
	if strings.Contains(line, title) && float64(lineLen) < float64(titleLen)*1.5 {
		return true
	}
	if strings.Contains(title, line) && lineLen > 5 {
		return true
	}
	return similarity(line, title) > 0.8
}

func squash(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(invisibleReplacer.Replace(s)), ""))
}

// similarity is 1 - levenshtein/len(longer), over runes.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		return 1
	}
	return float64(len(ra)-levenshtein(ra, rb)) / float64(len(ra))
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
