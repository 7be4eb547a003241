// Package extract parses blog listing and post pages with goquery. Publish
// dates are recovered by an ordered chain of resolvers; the first plausible
// result wins and its rank is recorded with the post.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/blogpulse/internal/crawler"
)

// Defaults applied by New.
const (
	DefaultMaxBodyBytes    = 2 << 20
	DefaultMaxContentRunes = 200_000
)

var (
	logNoPattern    = regexp.MustCompile(`logNo["']?\s*[=:]\s*["']?(\d+)`)
	digitsPattern   = regexp.MustCompile(`^\d+$`)
	categoryPattern = regexp.MustCompile(`categoryName['"]?\s*[:=]\s*['"]([^'"}]+)['"]`)
	titleSuffix     = regexp.MustCompile(`\s*[:|]\s*네이버\s*블로그\s*$`)
)

// allPostsCategory is the blog's catch-all category label.
const allPostsCategory = "전체보기"

var contentSelectors = []string{
	"div.se-main-container",
	"#postViewArea",
	"div.post_ct",
	"article",
}

// Config tunes extraction.
type Config struct {
	Location        *time.Location
	Bounds          crawler.DateBounds
	MaxBodyBytes    int
	MaxContentRunes int
	Clock           crawler.Clock
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithResolvers replaces the date resolver chain.
func WithResolvers(resolvers ...DateResolver) Option {
	return func(e *Extractor) {
		e.resolvers = resolvers
	}
}

// Extractor implements crawler.Extractor.
type Extractor struct {
	cfg       Config
	resolvers []DateResolver
}

var _ crawler.Extractor = (*Extractor)(nil)

// New builds an Extractor with the default resolver chain.
func New(cfg Config, opts ...Option) *Extractor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxContentRunes <= 0 {
		cfg.MaxContentRunes = DefaultMaxContentRunes
	}
	if cfg.Bounds.Clock == nil {
		cfg.Bounds.Clock = cfg.Clock
	}
	e := &Extractor{cfg: cfg, resolvers: DefaultResolvers()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseListing returns post references in the order they first appear.
func (e *Extractor) ParseListing(page crawler.RawPage) ([]crawler.PostRef, error) {
	if len(page.Body) > e.cfg.MaxBodyBytes {
		return nil, &crawler.ExtractError{URL: page.URL, Reason: "listing exceeds size limit"}
	}
	var doc *goquery.Document
	if d, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body)); err == nil {
		doc = d
	}

	seen := make(map[string]struct{})
	var refs []crawler.PostRef
	for _, m := range logNoPattern.FindAllSubmatch(page.Body, -1) {
		id := string(m[1])
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ref := crawler.PostRef{ExternalID: id}
		if doc != nil {
			ref.TitlePreview = normalizeLine(doc.Find(fmt.Sprintf(`a[href*="logNo=%s"]`, id)).First().Text())
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Extract parses a post page into a record.
func (e *Extractor) Extract(page crawler.RawPage) (crawler.PostRecord, error) {
	if len(page.Body) > e.cfg.MaxBodyBytes {
		return crawler.PostRecord{}, &crawler.ExtractError{URL: page.URL, Reason: "page exceeds size limit"}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return crawler.PostRecord{}, &crawler.ExtractError{URL: page.URL, Reason: "parse html", Err: err}
	}

	id := externalID(page.URL)
	if id == "" {
		if og, ok := doc.Find(`meta[property="og:url"]`).Attr("content"); ok {
			id = externalID(og)
		}
	}
	if id == "" {
		return crawler.PostRecord{}, &crawler.ExtractError{URL: page.URL, Reason: "missing post id"}
	}

	title := extractTitle(doc)
	content := e.extractContent(doc, title)
	if title == "" && content == "" {
		return crawler.PostRecord{}, &crawler.ExtractError{URL: page.URL, Reason: "empty post", Err: errors.New("no title or body text")}
	}

	published, confidence, source := resolveDate(e.resolvers, DateInput{
		Doc:       doc,
		Text:      visibleText(doc),
		Location:  e.cfg.Location,
		Plausible: e.cfg.Bounds.Plausible,
	})

	rec := crawler.PostRecord{
		ExternalID:     id,
		URL:            page.URL,
		Title:          title,
		Content:        content,
		Category:       extractCategory(page.Body),
		PublishedAt:    published,
		DateConfidence: confidence,
		DateSource:     source,
	}
	if e.cfg.Clock != nil {
		rec.CrawledAt = e.cfg.Clock.Now()
	}
	return rec, nil
}

func (e *Extractor) extractContent(doc *goquery.Document, title string) string {
	var lines []string
	accept := func(raw string) {
		line := normalizeLine(raw)
		if line == "" || isTitleEcho(line, title, len(lines)) {
			return
		}
		lines = append(lines, line)
	}

	paragraphs := doc.Find("p.se-text-paragraph")
	if paragraphs.Length() > 0 {
		paragraphs.Each(func(_ int, s *goquery.Selection) {
			accept(s.Text())
		})
	} else {
		for _, sel := range contentSelectors {
			container := doc.Find(sel).First()
			if container.Length() == 0 {
				continue
			}
			container = container.Clone()
			container.Find("script,style,noscript").Remove()
			for _, raw := range strings.Split(blockText(container), "\n") {
				accept(raw)
			}
			break
		}
	}
	return finalizeContent(strings.Join(lines, "\n"), e.cfg.MaxContentRunes)
}

// blockText renders a selection with newlines between block elements.
func blockText(s *goquery.Selection) string {
	s.Find("br").ReplaceWithHtml("\n")
	s.Find("p,div,li,h1,h2,h3,h4,h5,h6,tr").Each(func(_ int, block *goquery.Selection) {
		block.AppendHtml("\n")
	})
	return s.Text()
}

func extractTitle(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if title := normalizeLine(og); title != "" {
			return title
		}
	}
	title := normalizeLine(doc.Find("title").First().Text())
	return strings.TrimSpace(titleSuffix.ReplaceAllString(title, ""))
}

func visibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	body.Find("script,style,noscript").Remove()
	return body.Text()
}

// externalID pulls the numeric post id from a logNo query parameter or the last
// numeric path segment.
func externalID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("logNo"); digitsPattern.MatchString(id) {
		return id
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if digitsPattern.MatchString(segments[i]) {
			return segments[i]
		}
	}
	return ""
}

// extractCategory returns the first real category name, percent-decoded. A
// value that fails to decode is kept as written.
func extractCategory(body []byte) string {
	for _, m := range categoryPattern.FindAllSubmatch(body, -1) {
		name := strings.TrimSpace(string(m[1]))
		if decoded, err := url.PathUnescape(name); err == nil {
			name = strings.TrimSpace(decoded)
		}
		if name != "" && name != allPostsCategory {
			return name
		}
	}
	return ""
}
