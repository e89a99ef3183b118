package intent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/postreview/internal/backend"
	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/gateway"
	"github.com/ashureev/postreview/internal/reference"
)

// stubGenerator answers every call with a fixed result or error.
type stubGenerator struct {
	content string
	err     error
	calls   atomic.Int32
	last    gateway.Request
}

func (s *stubGenerator) Generate(_ context.Context, req gateway.Request) (gateway.Result, error) {
	s.calls.Add(1)
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return gateway.Single{Response: backend.Response{Backend: backend.Hosted, Content: s.content, Confidence: 0.85}}, nil
}

var catalog = reference.Default()

func values(in *domain.Intent, t domain.EntityType) []string { return in.Values(t) }

func TestEmptyMessageSkipsBackends(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{content: "{}"}
	p := New(catalog, gen, nil)

	for _, msg := range []string{"", "   ", "\n\t"} {
		in := p.Parse(context.Background(), msg)
		assert.Equal(t, domain.CategoryGetSuggestions, in.Category)
		assert.InDelta(t, 0.2, in.Confidence, 1e-9)
		assert.Equal(t, []domain.Action{domain.ActionGenerateSuggestions}, in.Actions)
	}
	assert.Zero(t, gen.calls.Load())
}

func TestAddDevanagariLocation(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	in := p.Parse(context.Background(), "add रायपुर location")

	assert.Equal(t, domain.CategoryAddLocation, in.Category)
	assert.Equal(t, domain.LanguageMixed, in.Language)
	assert.Equal(t, []string{"रायपुर"}, values(in, domain.EntityLocation))
	assert.Equal(t, []domain.Action{domain.ActionAddLocation}, in.Actions)
	assert.InDelta(t, 0.75, in.Confidence, 1e-9)
	assert.Equal(t, domain.ComplexitySimple, in.Complexity)
	assert.Contains(t, in.Fields, domain.FieldLocations)

	loc := in.Entities[domain.EntityLocation][0]
	assert.Equal(t, "रायपुर", "add रायपुर location"[loc.Start:loc.End])
}

func TestLanguageDetection(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.LanguageEnglish, detectLanguage("add Raipur"))
	assert.Equal(t, domain.LanguageHindi, detectLanguage("रायपुर जोड़ें"))
	assert.Equal(t, domain.LanguageMixed, detectLanguage("रायपुर add"))
	assert.Equal(t, domain.LanguageEnglish, detectLanguage("1234"))
}

func TestEntityExtraction(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	in := p.ParseRules("rally on 15/08/2024 in Naya Raipur with 500 people, Ramesh Kumar spoke #Raipur #रायपुर")

	assert.Equal(t, []string{"2024-08-15"}, values(in, domain.EntityDate))
	assert.Equal(t, []string{"500"}, values(in, domain.EntityNumber))
	assert.Equal(t, []string{"#Raipur", "#रायपुर"}, values(in, domain.EntityHashtag))
	assert.Equal(t, []string{"Naya Raipur"}, values(in, domain.EntityLocation))
	assert.Equal(t, []string{"rally"}, values(in, domain.EntityEventType))
	assert.Equal(t, []string{"Ramesh Kumar"}, values(in, domain.EntityPerson))
	assert.Equal(t, domain.ComplexityComplex, in.Complexity)

	for _, list := range in.Entities {
		for _, e := range list {
			assert.GreaterOrEqual(t, e.Confidence, 0.0)
			assert.LessOrEqual(t, e.Confidence, 1.0)
		}
	}
}

func TestCatalogTermsMatchAnyCase(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	tests := []struct {
		name      string
		message   string
		locations []string
		schemes   []string
	}{
		{name: "lowercase location", message: "add raipur location", locations: []string{"Raipur"}},
		{name: "title case location", message: "add Raipur location", locations: []string{"Raipur"}},
		{name: "upper case location", message: "add BILASPUR location", locations: []string{"Bilaspur"}},
		{name: "lowercase multi-word location", message: "rally in naya raipur", locations: []string{"Naya Raipur"}},
		{name: "devanagari location", message: "add रायपुर location", locations: []string{"रायपुर"}},
		{name: "lowercase scheme", message: "add scheme pm kisan", schemes: []string{"PM Kisan"}},
		{name: "mixed case scheme", message: "add scheme Ayushman BHARAT", schemes: []string{"Ayushman Bharat"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := p.ParseRules(tt.message)
			if tt.locations != nil {
				assert.Equal(t, tt.locations, values(in, domain.EntityLocation))
			}
			if tt.schemes != nil {
				assert.Equal(t, tt.schemes, values(in, domain.EntityScheme))
			}
		})
	}
}

func TestDatesNormalise(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	in := p.ParseRules("events on 2024-01-26 and 5-3-2024, not 45/13/2024")
	assert.ElementsMatch(t, []string{"2024-01-26", "2024-03-05"}, values(in, domain.EntityDate))
}

func TestSchemeAndEventTypeNormalise(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	in := p.ParseRules("पीएम किसान योजना बैठक")
	assert.Equal(t, []string{"PM Kisan"}, values(in, domain.EntityScheme))
	assert.Equal(t, []string{"meeting"}, values(in, domain.EntityEventType))
	assert.Equal(t, domain.LanguageHindi, in.Language)
	assert.Equal(t, domain.CategoryAddScheme, in.Category)
}

func TestCategories(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	cases := []struct {
		msg  string
		want domain.Category
	}{
		{"please approve these changes", domain.CategoryApproveChanges},
		{"बदलाव स्वीकार करें", domain.CategoryApproveChanges},
		{"बदलाव अस्वीकार करें", domain.CategoryRejectChanges},
		{"reject that", domain.CategoryRejectChanges},
		{"validate this record", domain.CategoryValidateData},
		{"जांच करें", domain.CategoryValidateData},
		{"change event type to rally", domain.CategoryChangeEventType},
		{"add Ramesh Kumar to people", domain.CategoryAddPeople},
		{"generate hashtags", domain.CategoryGenerateHashtags},
		{"clear the hashtags", domain.CategoryClearData},
		{"help", domain.CategoryHelp},
		{"मदद चाहिए", domain.CategoryHelp},
		{"any suggestions?", domain.CategoryGetSuggestions},
		{"Durg", domain.CategoryAddLocation},
		{"lorem ipsum dolor", domain.CategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.ParseRules(tc.msg).Category, tc.msg)
	}
}

func TestEditFieldActions(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	in := p.ParseRules("wrong, should be Bilaspur")
	assert.Equal(t, domain.CategoryEditField, in.Category)
	assert.Equal(t, []domain.Action{domain.ActionAddLocation, domain.ActionLearnFromCorrection}, in.Actions)
}

func TestSecondaryCategoriesAddActions(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	in := p.ParseRules("add location Durg and validate")
	assert.Equal(t, domain.CategoryAddLocation, in.Category)
	assert.Contains(t, in.Actions, domain.ActionAddLocation)
	assert.Contains(t, in.Actions, domain.ActionValidateData)
}

func TestLocationMarkerHeuristic(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	in := p.ParseRules("add Gotham location")
	require.Len(t, in.Entities[domain.EntityLocation], 1)
	e := in.Entities[domain.EntityLocation][0]
	assert.Equal(t, "Gotham", e.Normalized)
	assert.InDelta(t, 0.6, e.Confidence, 1e-9)
}

func TestConfidenceCalibration(t *testing.T) {
	t.Parallel()

	p := New(catalog, nil, nil)
	assert.InDelta(t, 0.4, p.ParseRules("ok").Confidence, 1e-9)
	assert.InDelta(t, 0.6, p.ParseRules("please help me out").Confidence, 1e-9)
	assert.InDelta(t, 0.75, p.ParseRules("add Raipur please").Confidence, 1e-9)
}

func TestComplexMessageIsEnhanced(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{content: "```json\n" + `{"category": "add-location",
		"entities": {"locations": ["Bhilai", "Raipur"], "schemes": ["पीएम किसान"]},
		"actions": ["addScheme"], "confidence": 0.9}` + "\n```"}
	p := New(catalog, gen, nil)

	msg := "add Raipur and the steel city too"
	rules := p.ParseRules(msg)
	require.Equal(t, domain.ComplexityComplex, rules.Complexity)

	in := p.Parse(context.Background(), msg)
	assert.EqualValues(t, 1, gen.calls.Load())
	assert.Equal(t, gateway.ModePrimary, gen.last.Mode)
	assert.Equal(t, backend.Hosted, gen.last.Prefer)

	assert.Equal(t, []string{"Raipur", "Bhilai"}, values(in, domain.EntityLocation))
	assert.Equal(t, []string{"PM Kisan"}, values(in, domain.EntityScheme))
	assert.Contains(t, in.Actions, domain.ActionAddLocation)
	assert.Contains(t, in.Actions, domain.ActionAddScheme)
	assert.InDelta(t, 0.9, in.Confidence, 1e-9)
	assert.Equal(t, backend.Hosted, in.Backend)

	bhilai := in.Entities[domain.EntityLocation][1]
	assert.Equal(t, -1, bhilai.Start)

	// The rule result handed out earlier is untouched.
	assert.Equal(t, []string{"Raipur"}, values(rules, domain.EntityLocation))
}

func TestDualRouteRequestsBothBackends(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{err: errors.New("down")}
	p := New(catalog, gen, nil)
	p.ParseWithRoute(context.Background(), "add Raipur and Durg", true)
	assert.Equal(t, gateway.ModeDual, gen.last.Mode)
}

func TestSimpleMessageSkipsBackends(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{content: "{}"}
	p := New(catalog, gen, nil)
	p.Parse(context.Background(), "add Raipur")
	assert.Zero(t, gen.calls.Load())
}

// complexMessages builds messages that always trip the complexity gate.
func complexMessages() gopter.Gen {
	words := []string{"add", "Raipur", "रायपुर", "location", "scheme", "PM Kisan", "rally", "बैठक", "validate", "#tag", "12/05/2024", "Ramesh Kumar", "please", "और"}
	return gen.SliceOfN(6, gen.IntRange(0, len(words)-1)).Map(func(idx []int) string {
		parts := make([]string, len(idx))
		for i, n := range idx {
			parts[i] = words[n]
		}
		return strings.Join(parts, " ") + " and more"
	})
}

func TestFailingBackendEqualsRulesProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	outputs := []*stubGenerator{
		{err: errors.New("connection refused")},
		{content: "not json at all"},
		{content: `{"category": "teleport", "entities": {}}`},
		{content: `{"entities": {"locations": ["x"]}}`},
		{content: `{"category": "add-location", "entities": {"locations": [1, 2]}}`},
	}

	properties.Property("backend failure yields exactly the rule result", prop.ForAll(
		func(msg string, which int) bool {
			p := New(catalog, outputs[which], nil)
			got := p.Parse(context.Background(), msg)
			return reflect.DeepEqual(got, p.ParseRules(msg))
		},
		complexMessages(),
		gen.IntRange(0, len(outputs)-1),
	))

	properties.TestingRun(t)
}

func TestNonEmptyMessagesAlwaysActionableProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	p := New(catalog, nil, nil)

	properties.Property("confidence is positive and actions are present", prop.ForAll(
		func(msg string) bool {
			in := p.Parse(context.Background(), msg)
			if in.Confidence <= 0 || in.Confidence > 1 || len(in.Actions) == 0 {
				return false
			}
			for _, list := range in.Entities {
				for _, e := range list {
					if e.Confidence < 0 || e.Confidence > 1 {
						return false
					}
				}
			}
			return true
		},
		gen.OneGenOf(gen.AnyString(), gen.AlphaString(), complexMessages()),
	))

	properties.TestingRun(t)
}
