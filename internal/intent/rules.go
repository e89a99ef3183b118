package intent

import (
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/reference"
)

// Rule-pass confidences.
const (
	emptyConfidence    = 0.2
	baseConfidence     = 0.6
	entityConfidence   = 0.75
	shortConfidence    = 0.4
	shortMessageRunes  = 5
	complexRunes       = 100
	complexEntityCount = 3
)

var (
	hashtagRe = regexp.MustCompile(`#[\p{L}\p{M}\p{N}_]+`)
	personRe  = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
	numberRe  = regexp.MustCompile(`\p{Nd}+(?:[.,]\p{Nd}+)*`)
	dmyRe     = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{4})\b`)
	ymdRe     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
)

// fallbackIntent is returned for empty messages.
func fallbackIntent() *domain.Intent {
	return &domain.Intent{
		Category:   domain.CategoryGetSuggestions,
		Entities:   map[domain.EntityType][]domain.Entity{},
		Actions:    []domain.Action{domain.ActionGenerateSuggestions},
		Confidence: emptyConfidence,
		Language:   domain.LanguageEnglish,
		Complexity: domain.ComplexitySimple,
	}
}

// rules is the deterministic pass. It is immutable after construction.
type rules struct {
	locations  []reference.Term
	eventTypes []reference.Term
	schemes    []reference.Term
}

func newRules(c *reference.Catalog) *rules {
	return &rules{
		locations:  c.LocationTerms(),
		eventTypes: c.EventTypeTerms(),
		schemes:    c.SchemeTerms(),
	}
}

func (r *rules) parse(message string) *domain.Intent {
	if strings.TrimSpace(message) == "" {
		return fallbackIntent()
	}

	text := newScanText(message)
	in := &domain.Intent{
		Entities: r.extract(text),
		Language: detectLanguage(message),
	}

	scores := make(map[domain.Category]float64)
	for _, set := range keywordTable {
		for _, kw := range slices.Concat(set.english, set.hindi) {
			if text.hasPhrase(kw) {
				scores[set.category]++
			}
		}
	}
	keywordHits := make(map[domain.Category]bool, len(scores))
	for c := range scores {
		keywordHits[c] = true
	}
	for t, c := range entityCategories {
		if len(in.Entities[t]) > 0 {
			scores[c] += 0.5
		}
	}

	in.Category = domain.CategoryUnknown
	best := 0.0
	for _, set := range keywordTable {
		if s := scores[set.category]; s > best {
			best = s
			in.Category = set.category
		}
	}

	in.Actions = actionsFor(in.Category, in.Entities)
	for _, set := range keywordTable {
		if set.category != in.Category && keywordHits[set.category] && set.category != domain.CategoryEditField {
			in.Actions = appendActions(in.Actions, actionsFor(set.category, in.Entities)...)
		}
	}

	for _, fk := range fieldKeywords {
		for _, w := range fk.words {
			if text.hasPhrase(w) {
				in.Fields = append(in.Fields, fk.field)
				break
			}
		}
	}

	n := in.EntityCount()
	switch {
	case utf8.RuneCountInString(strings.TrimSpace(message)) < shortMessageRunes:
		in.Confidence = shortConfidence
	case n > 0:
		in.Confidence = entityConfidence
	default:
		in.Confidence = baseConfidence
	}

	in.Complexity = domain.ComplexitySimple
	if utf8.RuneCountInString(message) > complexRunes || n > complexEntityCount || text.hasAny(conjunctions) {
		in.Complexity = domain.ComplexityComplex
	}
	return in
}

// actionsFor maps a category to its actions. It never returns an empty list.
func actionsFor(c domain.Category, entities map[domain.EntityType][]domain.Entity) []domain.Action {
	if c == domain.CategoryEditField {
		var out []domain.Action
		for _, t := range domain.EntityTypes {
			if a, ok := entityActions[t]; ok && len(entities[t]) > 0 {
				out = appendActions(out, a)
			}
		}
		if len(out) == 0 {
			out = append(out, domain.ActionGenerateSuggestions)
		}
		return append(out, domain.ActionLearnFromCorrection)
	}
	if a, ok := categoryActions[c]; ok {
		return slices.Clone(a)
	}
	return []domain.Action{domain.ActionGenerateSuggestions}
}

func appendActions(dst []domain.Action, add ...domain.Action) []domain.Action {
	for _, a := range add {
		if !slices.Contains(dst, a) {
			dst = append(dst, a)
		}
	}
	return dst
}

// detectLanguage classifies by script: Devanagari, Latin or both.
func detectLanguage(s string) domain.Language {
	var deva, latin bool
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Devanagari, r):
			deva = true
		case unicode.Is(unicode.Latin, r):
			latin = true
		}
	}
	switch {
	case deva && latin:
		return domain.LanguageMixed
	case deva:
		return domain.LanguageHindi
	}
	return domain.LanguageEnglish
}

func (r *rules) extract(text *scanText) map[domain.EntityType][]domain.Entity {
	out := make(map[domain.EntityType][]domain.Entity)
	add := func(t domain.EntityType, e domain.Entity) {
		for _, have := range out[t] {
			if strings.EqualFold(have.Normalized, e.Normalized) {
				return
			}
		}
		out[t] = append(out[t], e)
	}

	// Dates before numbers so date digits are not counted twice.
	for _, m := range dmyRe.FindAllStringSubmatchIndex(text.raw, -1) {
		day, month, year := text.raw[m[2]:m[3]], text.raw[m[4]:m[5]], text.raw[m[6]:m[7]]
		if norm, ok := normalizeDate(year, month, day); ok {
			text.cover(m[0], m[1])
			add(domain.EntityDate, span(text.raw, m[0], m[1], norm, 0.95))
		}
	}
	for _, m := range ymdRe.FindAllStringSubmatchIndex(text.raw, -1) {
		if text.covered(m[0], m[1]) {
			continue
		}
		year, month, day := text.raw[m[2]:m[3]], text.raw[m[4]:m[5]], text.raw[m[6]:m[7]]
		if norm, ok := normalizeDate(year, month, day); ok {
			text.cover(m[0], m[1])
			add(domain.EntityDate, span(text.raw, m[0], m[1], norm, 0.95))
		}
	}

	for _, m := range hashtagRe.FindAllStringIndex(text.raw, -1) {
		tag := text.raw[m[0]:m[1]]
		text.cover(m[0], m[1])
		add(domain.EntityHashtag, span(text.raw, m[0], m[1], tag, 0.95))
	}

	for _, term := range r.schemes {
		for _, m := range text.findTerm(term.Text) {
			text.cover(m[0], m[1])
			add(domain.EntityScheme, span(text.raw, m[0], m[1], term.Canonical, 0.9))
		}
	}
	for _, term := range r.locations {
		for _, m := range text.findTerm(term.Text) {
			text.cover(m[0], m[1])
			// The vocabulary spelling is kept so Devanagari input stays Devanagari.
			add(domain.EntityLocation, span(text.raw, m[0], m[1], term.Text, 0.9))
		}
	}
	for _, term := range r.eventTypes {
		for _, m := range text.findTerm(term.Text) {
			text.cover(m[0], m[1])
			add(domain.EntityEventType, span(text.raw, m[0], m[1], term.Canonical, 0.85))
		}
	}

	for _, m := range text.markerNeighbours(locationMarkers) {
		text.cover(m[0], m[1])
		word := text.raw[m[0]:m[1]]
		add(domain.EntityLocation, span(text.raw, m[0], m[1], word, 0.6))
	}

	for _, m := range personRe.FindAllStringIndex(text.raw, -1) {
		start, end := trimCommandWords(text.raw, m[0], m[1])
		if start < 0 || text.covered(start, end) {
			continue
		}
		text.cover(start, end)
		add(domain.EntityPerson, span(text.raw, start, end, text.raw[start:end], 0.6))
	}

	for _, m := range numberRe.FindAllStringIndex(text.raw, -1) {
		if text.covered(m[0], m[1]) {
			continue
		}
		add(domain.EntityNumber, span(text.raw, m[0], m[1], text.raw[m[0]:m[1]], 0.9))
	}
	return out
}

func span(raw string, start, end int, normalized string, confidence float64) domain.Entity {
	return domain.Entity{
		Text:       raw[start:end],
		Normalized: normalized,
		Confidence: confidence,
		Start:      start,
		End:        end,
	}
}

// normalizeDate validates a calendar date and renders it as YYYY-MM-DD.
func normalizeDate(year, month, day string) (string, bool) {
	if len(month) == 1 {
		month = "0" + month
	}
	if len(day) == 1 {
		day = "0" + day
	}
	norm := year + "-" + month + "-" + day
	if _, err := time.Parse(time.DateOnly, norm); err != nil {
		return "", false
	}
	return norm, true
}

// trimCommandWords drops leading imperative words from a capitalised-name
// match. It returns -1 when fewer than two name words remain.
func trimCommandWords(raw string, start, end int) (int, int) {
	words := strings.Fields(raw[start:end])
	offset := start
	for len(words) > 0 && commandWords[words[0]] {
		idx := strings.Index(raw[offset:end], words[0])
		offset += idx + len(words[0])
		words = words[1:]
	}
	if len(words) < 2 {
		return -1, -1
	}
	for offset < end && unicode.IsSpace(rune(raw[offset])) {
		offset++
	}
	return offset, end
}
