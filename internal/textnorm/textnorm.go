// Package textnorm normalizes the short phrases the pipeline compares:
// keywords, tags and product gap phrases.
package textnorm

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Phrase case-folds s, applies NFKC, strips punctuation at the edges of
// words and collapses whitespace. "  Auto-Export  to CSV!" and
// "auto-export to csv" normalize to the same key.
func Phrase(s string) string {
	s = norm.NFKC.String(folder.String(s))
	words := strings.Fields(s)
	out := words[:0]
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

// Set normalizes every entry, drops empties and duplicates, and returns the
// result sorted.
func Set(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		p := Phrase(s)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b| over normalized sets.
func Jaccard(a, b []string) float64 {
	as, bs := Set(a), Set(b)
	if len(as) == 0 && len(bs) == 0 {
		return 0
	}
	inA := make(map[string]bool, len(as))
	for _, s := range as {
		inA[s] = true
	}
	inter := 0
	for _, s := range bs {
		if inA[s] {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}
