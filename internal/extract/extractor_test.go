package extract

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogpulse/internal/crawler"
	"github.com/JakeFAU/blogpulse/internal/store"
)

var kst = time.FixedZone("KST", 9*60*60)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestExtractor(opts ...Option) *Extractor {
	clock := fixedClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	return New(Config{
		Location: kst,
		Bounds:   crawler.DateBounds{EarliestYear: 2003},
		Clock:    clock,
	}, opts...)
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return body
}

func page(url, body string) crawler.RawPage {
	return crawler.RawPage{URL: url, StatusCode: 200, Body: []byte(body)}
}

func TestExtractPostFixture(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	rec, err := e.Extract(crawler.RawPage{
		URL:  "https://m.blog.naver.com/stockblog/223541234567",
		Body: loadFixture(t, "post.html"),
	})
	require.NoError(t, err)

	require.Equal(t, "223541234567", rec.ExternalID)
	require.Equal(t, "테슬라 2분기 실적 정리", rec.Title)
	require.Equal(t, "TSLA 실적이 예상보다 좋았습니다.\n엔비디아(NVDA)도 강세.", rec.Content)
	require.Equal(t, "미국주식", rec.Category)
	require.Equal(t, store.DateFromText, rec.DateConfidence)
	require.Equal(t, "text", rec.DateSource)
	require.Equal(t, time.Date(2024, 8, 12, 9, 30, 0, 0, kst), rec.PublishedAt)
	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), rec.CrawledAt)
}

func TestExtractDottedDateWithoutTime(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor().Extract(page("https://blog.test/b/42", `<html><body>
		<p class="se-text-paragraph">본문입니다</p>
		<div class="date">작성일 2024.08.12</div>
	</body></html>`))
	require.NoError(t, err)
	require.True(t, rec.DateResolved())
	require.Equal(t, "2024-08-12", rec.PublishedAt.In(kst).Format(time.DateOnly))
	require.Equal(t, store.DateFromText, rec.DateConfidence)
}

func TestExtractKoreanDate(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor().Extract(page("https://blog.test/b/42", `<html><body>
		<p class="se-text-paragraph">본문</p><span>2023년 11월 3일</span>
	</body></html>`))
	require.NoError(t, err)
	require.Equal(t, time.Date(2023, 11, 3, 12, 0, 0, 0, kst), rec.PublishedAt)
}

func TestExtractUnresolvedDate(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor().Extract(page("https://blog.test/b/42", `<html><head>
		<meta property="og:title" content="날짜 없는 글"></head>
		<body><p class="se-text-paragraph">본문만 있습니다</p></body></html>`))
	require.NoError(t, err)
	require.False(t, rec.DateResolved())
	require.Equal(t, store.DateUnresolved, rec.DateConfidence)
	require.True(t, rec.PublishedAt.IsZero())
	require.Empty(t, rec.DateSource)
}

func TestExtractPrefersHigherConfidenceResolver(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor().Extract(page("https://blog.test/b/42", `<html><head>
		<meta property="article:published_time" content="2024-08-11T10:00:00+09:00">
		<script type="application/ld+json">{"@context":"https://schema.org","@type":"BlogPosting","datePublished":"2024-08-10T08:00:00+09:00"}</script>
		</head><body><p class="se-text-paragraph">2024.08.12 본문</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, store.DateFromStructured, rec.DateConfidence)
	require.Equal(t, "2024-08-10", rec.PublishedAt.In(kst).Format(time.DateOnly))
}

func TestExtractSkipsImplausibleCandidates(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor().Extract(page("https://blog.test/b/42", `<html><head>
		<script type="application/ld+json">[{"@graph":[{"datePublished":"2099-01-01"}]}]</script>
		<meta property="article:published_time" content="2024-08-11T10:00:00+09:00">
		</head><body><p class="se-text-paragraph">본문</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, store.DateFromMeta, rec.DateConfidence)
	require.Equal(t, "2024-08-11", rec.PublishedAt.In(kst).Format(time.DateOnly))

	rec, err = newTestExtractor().Extract(page("https://blog.test/b/43", `<html><body>
		<p class="se-text-paragraph">1999.01.05 회고, 2024. 3. 4. 작성</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "2024-03-04", rec.PublishedAt.In(kst).Format(time.DateOnly))
}

func TestExtractCustomResolverChain(t *testing.T) {
	t.Parallel()

	e := newTestExtractor(WithResolvers(MetaTagResolver{}))
	rec, err := e.Extract(page("https://blog.test/b/42", `<html><body>
		<p class="se-text-paragraph">2024.08.12 본문</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, store.DateUnresolved, rec.DateConfidence)
}

func TestExtractFallbackContainer(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor().Extract(page("https://blog.test/PostView.naver?blogId=b&logNo=777", `<html>
		<head><title>옛날 에디터 글 : 네이버 블로그</title></head>
		<body><div id="postViewArea"><p>첫 줄</p><p>둘째 줄<br>셋째 줄</p><script>ignored()</script></div></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "777", rec.ExternalID)
	require.Equal(t, "옛날 에디터 글", rec.Title)
	require.Equal(t, "첫 줄\n둘째 줄\n셋째 줄", rec.Content)
}

func TestExtractErrors(t *testing.T) {
	t.Parallel()

	e := newTestExtractor()
	var extractErr *crawler.ExtractError

	_, err := e.Extract(page("https://blog.test/about", `<html><body><p class="se-text-paragraph">x</p></body></html>`))
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, "missing post id", extractErr.Reason)

	_, err = e.Extract(page("https://blog.test/b/1", `<html><body></body></html>`))
	require.ErrorAs(t, err, &extractErr)
	require.Equal(t, "empty post", extractErr.Reason)

	small := New(Config{MaxBodyBytes: 8})
	_, err = small.Extract(page("https://blog.test/b/1", `<html><body>long</body></html>`))
	require.ErrorAs(t, err, &extractErr)
}

func TestExtractCapsContent(t *testing.T) {
	t.Parallel()

	e := New(Config{MaxContentRunes: 4})
	rec, err := e.Extract(page("https://blog.test/b/1", `<html><body><p class="se-text-paragraph">가나다라마바사</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "가나다라", rec.Content)
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	refs, err := newTestExtractor().ParseListing(crawler.RawPage{Body: loadFixture(t, "listing.html")})
	require.NoError(t, err)
	require.Equal(t, []crawler.PostRef{
		{ExternalID: "223541234567", TitlePreview: "테슬라 2분기 실적 정리"},
		{ExternalID: "223539876543", TitlePreview: "금리 인하 기대감"},
		{ExternalID: "223530000001"},
	}, refs)

	refs, err = newTestExtractor().ParseListing(page("https://blog.test/list", `<html><body>no posts</body></html>`))
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestExtractDecodesEncodedCategory(t *testing.T) {
	t.Parallel()

	rec, err := newTestExtractor().Extract(crawler.RawPage{
		URL:  "https://m.blog.naver.com/stockblog/223541234567",
		Body: loadFixture(t, "post_encoded_category.html"),
	})
	require.NoError(t, err)
	require.Equal(t, "미국주식", rec.Category)
}

func TestExtractCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "plain", body: `categoryName: '미국주식'`, want: "미국주식"},
		{name: "encoded with space", body: `categoryName: '%ED%95%B4%EC%99%B8%20%EC%A3%BC%EC%8B%9D'`, want: "해외 주식"},
		{name: "plus kept", body: `categoryName: 'C++'`, want: "C++"},
		{name: "bad escape kept raw", body: `categoryName: '100%'`, want: "100%"},
		{
			name: "encoded catch-all skipped",
			body: `categoryName: '%EC%A0%84%EC%B2%B4%EB%B3%B4%EA%B8%B0'; categoryName: '%EB%AF%B8%EA%B5%AD%EC%A3%BC%EC%8B%9D'`,
			want: "미국주식",
		},
		{name: "absent", body: `<html></html>`, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, extractCategory([]byte(tt.body)))
		})
	}
}
