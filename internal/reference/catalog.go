// Package reference provides the geography and vocabulary lookups used to
// extract and validate record fields.
package reference

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"gopkg.in/yaml.v3"
)

//go:embed data/reference.yaml
var defaultCatalog []byte

// maxSuggestions bounds SuggestSimilar results.
const maxSuggestions = 5

// Location is a known place.
type Location struct {
	Name     string   `yaml:"name"`
	Hindi    string   `yaml:"hindi"`
	District string   `yaml:"district"`
	Aliases  []string `yaml:"aliases"`
}

// EventType is a canonical event category.
type EventType struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Scheme is a government programme and the event types it fits.
type Scheme struct {
	Name             string   `yaml:"name"`
	Aliases          []string `yaml:"aliases"`
	CompatibleEvents []string `yaml:"compatible_event_types"`
}

// Term maps a surface spelling to its canonical name.
type Term struct {
	Text      string
	Canonical string
}

// Catalog is the loaded reference data. It is read-only after loading.
type Catalog struct {
	Locations  []Location  `yaml:"locations"`
	EventTypes []EventType `yaml:"event_types"`
	Schemes    []Scheme    `yaml:"schemes"`

	locationIdx map[string]int
	eventIdx    map[string]int
	schemeIdx   map[string]int
	// locationNames holds every searchable location spelling.
	locationNames names
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("reference: embedded catalog: %v", err))
	}
	return c
}

// Load reads a catalog from path. An empty path yields the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data: %w", err)
	}
	return Parse(data)
}

// Parse decodes and indexes YAML catalog data.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}
	if len(c.Locations) == 0 && len(c.EventTypes) == 0 && len(c.Schemes) == 0 {
		return nil, errors.New("reference data is empty")
	}
	c.index()
	return &c, nil
}

func key(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func (c *Catalog) index() {
	c.locationIdx = make(map[string]int)
	c.eventIdx = make(map[string]int)
	c.schemeIdx = make(map[string]int)
	c.locationNames = nil

	for i, l := range c.Locations {
		for _, s := range append([]string{l.Name, l.Hindi}, l.Aliases...) {
			if s == "" {
				continue
			}
			c.locationIdx[key(s)] = i
			c.locationNames = append(c.locationNames, s)
		}
	}
	for i, e := range c.EventTypes {
		for _, s := range append([]string{e.Name}, e.Aliases...) {
			c.eventIdx[key(s)] = i
		}
	}
	for i, s := range c.Schemes {
		for _, n := range append([]string{s.Name}, s.Aliases...) {
			c.schemeIdx[key(n)] = i
		}
	}
}

// Exists reports whether name is a known location in any spelling.
func (c *Catalog) Exists(name string) bool {
	_, ok := c.locationIdx[key(name)]
	return ok
}

// Location looks up a location by any of its spellings.
func (c *Catalog) Location(name string) (Location, bool) {
	i, ok := c.locationIdx[key(name)]
	if !ok {
		return Location{}, false
	}
	return c.Locations[i], true
}

// EventType resolves an event type name or alias.
func (c *Catalog) EventType(name string) (EventType, bool) {
	i, ok := c.eventIdx[key(name)]
	if !ok {
		return EventType{}, false
	}
	return c.EventTypes[i], true
}

// Scheme resolves a scheme name or alias.
func (c *Catalog) Scheme(name string) (Scheme, bool) {
	i, ok := c.schemeIdx[key(name)]
	if !ok {
		return Scheme{}, false
	}
	return c.Schemes[i], true
}

// SchemeCompatible reports whether scheme fits eventType. known is false
// when either side is not in the catalog, in which case no judgement is made.
func (c *Catalog) SchemeCompatible(scheme, eventType string) (compatible, known bool) {
	s, ok := c.Scheme(scheme)
	if !ok {
		return true, false
	}
	e, ok := c.EventType(eventType)
	if !ok {
		return true, false
	}
	return slices.Contains(s.CompatibleEvents, e.Name), true
}

// SuggestSimilar returns known location spellings close to name, closest
// first: edit distance of at most two, then in-order character matches.
func (c *Catalog) SuggestSimilar(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	type scored struct {
		name string
		dist int
	}
	var hits []scored
	seen := make(map[string]bool)
	target := []rune(strings.ToLower(name))
	for _, candidate := range c.locationNames {
		d := levenshtein(target, []rune(strings.ToLower(candidate)))
		if d <= 2 && !seen[candidate] {
			seen[candidate] = true
			hits = append(hits, scored{candidate, d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].name < hits[j].name
	})

	out := make([]string, 0, maxSuggestions)
	for _, h := range hits {
		out = append(out, h.name)
	}
	if len(target) >= 3 {
		for _, m := range fuzzy.FindFrom(name, c.locationNames) {
			if !seen[m.Str] {
				seen[m.Str] = true
				out = append(out, m.Str)
			}
		}
	}
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out
}

// LocationTerms lists every location spelling, longest first so that
// multi-word names win over their prefixes.
func (c *Catalog) LocationTerms() []Term {
	var terms []Term
	for _, l := range c.Locations {
		for _, s := range append([]string{l.Name, l.Hindi}, l.Aliases...) {
			if s != "" {
				terms = append(terms, Term{Text: s, Canonical: l.Name})
			}
		}
	}
	return sortTerms(terms)
}

// EventTypeTerms lists event type names and aliases, longest first.
func (c *Catalog) EventTypeTerms() []Term {
	var terms []Term
	for _, e := range c.EventTypes {
		for _, s := range append([]string{e.Name, strings.ReplaceAll(e.Name, "_", " ")}, e.Aliases...) {
			terms = append(terms, Term{Text: s, Canonical: e.Name})
		}
	}
	return sortTerms(terms)
}

// SchemeTerms lists scheme names and aliases, longest first.
func (c *Catalog) SchemeTerms() []Term {
	var terms []Term
	for _, s := range c.Schemes {
		for _, n := range append([]string{s.Name}, s.Aliases...) {
			terms = append(terms, Term{Text: n, Canonical: s.Name})
		}
	}
	return sortTerms(terms)
}

func sortTerms(terms []Term) []Term {
	sort.SliceStable(terms, func(i, j int) bool {
		return len([]rune(terms[i].Text)) > len([]rune(terms[j].Text))
	})
	return slices.CompactFunc(terms, func(a, b Term) bool { return a.Text == b.Text })
}

// names adapts a string slice to fuzzy.Source.
type names []string

func (n names) String(i int) string { return n[i] }
func (n names) Len() int            { return len(n) }

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
