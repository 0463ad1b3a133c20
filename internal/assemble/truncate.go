package assemble

import (
	"strings"

	"github.com/rcliao/memtier/internal/tokens"
)

// Ellipsis joins the kept head and tail of a truncated record.
const Ellipsis = " … "

// Truncate shortens text to fit budget by keeping its first and last N words
// around Ellipsis, with N as large as fits. It reports false when even one
// word on each side does not fit.
func Truncate(text string, budget int, counter *tokens.Counter) (string, bool) {
	if counter.Count(text) <= budget {
		return text, true
	}
	words := strings.Fields(text)
	maxN := (len(words) - 1) / 2
	if maxN < 1 {
		return "", false
	}

	cut := func(n int) string {
		return strings.Join(words[:n], " ") + Ellipsis + strings.Join(words[len(words)-n:], " ")
	}
	if counter.Count(cut(1)) > budget {
		return "", false
	}

	// cost grows with n, so search for the largest n that fits
	lo, hi := 1, maxN
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(cut(mid)) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return cut(lo), true
}
