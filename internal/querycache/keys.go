package querycache

import (
	"strings"

	"github.com/JakeFAU/blogpulse/internal/store"
)

// TickerPrefix is the key prefix shared by every entry about ticker.
func TickerPrefix(ticker string) string {
	return "ticker:" + store.NormalizeTicker(ticker) + ":"
}

// TickerKey builds "ticker:{TICKER}:{shape}[:{part}...]".
func TickerKey(ticker, shape string, parts ...string) string {
	var b strings.Builder
	b.WriteString(TickerPrefix(ticker))
	b.WriteString(shape)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}
