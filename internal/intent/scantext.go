package intent

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// scanText is a message prepared for keyword and term matching. It tracks
// which byte ranges have already been claimed by an entity.
type scanText struct {
	raw string
	// fold is the lower-cased message when lower-casing preserved byte
	// offsets, otherwise the raw message.
	fold    string
	folded  bool
	phrases string
	spans   [][2]int
}

func newScanText(raw string) *scanText {
	fold, folded := strings.ToLower(raw), true
	if len(fold) != len(raw) {
		fold, folded = raw, false
	}
	return &scanText{raw: raw, fold: fold, folded: folded, phrases: " " + normalizePhrase(raw) + " "}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r)
}

// normalizePhrase lower-cases s and collapses everything that is not part
// of a word into single spaces.
func normalizePhrase(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if isWordRune(r) || r == '\'' || r == '-' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func (t *scanText) hasPhrase(p string) bool {
	p = normalizePhrase(p)
	return p != "" && strings.Contains(t.phrases, " "+p+" ")
}

func (t *scanText) hasAny(ps []string) bool {
	for _, p := range ps {
		if t.hasPhrase(p) {
			return true
		}
	}
	return false
}

func (t *scanText) cover(start, end int) {
	t.spans = append(t.spans, [2]int{start, end})
}

func (t *scanText) covered(start, end int) bool {
	for _, s := range t.spans {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}

// boundary reports whether [start,end) is not glued to other word runes.
func (t *scanText) boundary(start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(t.raw[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(t.raw) {
		r, _ := utf8.DecodeRuneInString(t.raw[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

// findTerm returns the unclaimed, word-bounded occurrences of term.
func (t *scanText) findTerm(term string) [][2]int {
	needle := term
	if t.folded {
		needle = strings.ToLower(term)
	}
	if needle == "" {
		return nil
	}
	var out [][2]int
	for pos := 0; pos < len(t.fold); {
		i := strings.Index(t.fold[pos:], needle)
		if i < 0 {
			break
		}
		start, end := pos+i, pos+i+len(needle)
		if t.boundary(start, end) && !t.covered(start, end) {
			out = append(out, [2]int{start, end})
		}
		pos = end
	}
	return out
}

// words splits the message into word spans.
func (t *scanText) words() [][2]int {
	var out [][2]int
	start := -1
	for i, r := range t.raw {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, [2]int{start, len(t.raw)})
	}
	return out
}

// markerNeighbours returns unclaimed words next to any marker word that look
// like place names: capitalised Latin or Devanagari.
func (t *scanText) markerNeighbours(markers []string) [][2]int {
	words := t.words()
	var out [][2]int
	for i, w := range words {
		word := strings.ToLower(t.raw[w[0]:w[1]])
		isMarker := false
		for _, m := range markers {
			if word == m {
				isMarker = true
				break
			}
		}
		if !isMarker {
			continue
		}
		for _, j := range []int{i - 1, i + 1} {
			if j < 0 || j >= len(words) {
				continue
			}
			n := words[j]
			cand := t.raw[n[0]:n[1]]
			if stopwords[strings.ToLower(cand)] || t.covered(n[0], n[1]) || !placeLike(cand) {
				continue
			}
			out = append(out, n)
		}
	}
	return out
}

func placeLike(w string) bool {
	r, _ := utf8.DecodeRuneInString(w)
	if unicode.Is(unicode.Devanagari, r) {
		return true
	}
	return unicode.IsUpper(r)
}
