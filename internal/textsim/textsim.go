// Package textsim normalizes header text and scores string similarity.
package textsim

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	parenRe      = regexp.MustCompile(`[(\[（【][^)\]）】]*[)\]）】]`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
	keyStripper  = strings.NewReplacer(" ", "", "_", "", "-", "", ".", "", "/", "", ":", "")
)

// Normalize folds a header for comparison: NFKC, newlines to spaces,
// parenthetical notes removed, whitespace collapsed, lowercased.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(s)
	stripped := parenRe.ReplaceAllString(s, " ")
	if strings.TrimSpace(stripped) != "" {
		s = stripped
	}
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.ToLower(strings.TrimSpace(s))
}

// Key is Normalize with separators removed, used for exact lookups.
func Key(s string) string {
	return keyStripper.Replace(Normalize(s))
}

// Ratio returns 2*M/T where M is the number of runes in matching blocks found
// by recursive longest-common-substring search and T is the combined length.
// Identical strings score 1, disjoint strings 0.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(total)
}

// KeyRatio scores two headers after Key folding.
func KeyRatio(a, b string) float64 {
	return Ratio(Key(a), Key(b))
}

func matchingRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	i, j, size := longestCommon(a, b)
	if size == 0 {
		return 0
	}
	return size + matchingRunes(a[:i], b[:j]) + matchingRunes(a[i+size:], b[j+size:])
}

// longestCommon finds the earliest longest common substring of a and b.
func longestCommon(a, b []rune) (int, int, int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	bestI, bestJ, best := 0, 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
					bestI, bestJ = i-best, j-best
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bestI, bestJ, best
}

// Levenshtein returns the rune edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
