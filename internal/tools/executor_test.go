package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/intent"
	"github.com/ashureev/postreview/internal/reference"
)

var (
	catalog = reference.Default()
	parser  = intent.New(catalog, nil, nil)
)

type fixedSuggester struct {
	sug *Suggestion
	err error
}

func (f fixedSuggester) Suggest(context.Context, *domain.Record) (*Suggestion, error) {
	return f.sug, f.err
}

type fakeLearner struct {
	got []domain.Correction
	err error
}

func (f *fakeLearner) Learn(_ context.Context, c domain.Correction) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = append(f.got, c)
	return []string{c.Field}, nil
}

func changeFor(t *testing.T, res *Result, field string) domain.PendingChange {
	t.Helper()
	for _, c := range res.Changes {
		if c.Field == field {
			return c
		}
	}
	require.FailNowf(t, "no change", "field %s", field)
	return domain.PendingChange{}
}

func TestAddLocationFromMessage(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	rec := &domain.Record{ID: "r1"}
	res := e.Execute(context.Background(), parser.ParseRules("add रायपुर location"), rec, nil, "asha")

	require.Len(t, res.Changes, 1)
	c := changeFor(t, res, domain.FieldLocations)
	assert.Contains(t, c.Value.Items, "रायपुर")
	assert.Equal(t, domain.ProvenanceUser, c.Provenance)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, domain.ActionAddLocation, res.PrimaryAction)
	assert.Equal(t, domain.StageEditing, res.Stage)
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
	assert.Empty(t, rec.Locations)
}

func TestAddLocationKeepsExisting(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	rec := &domain.Record{ID: "r1", Locations: []string{"Durg"}}
	res := e.Execute(context.Background(), parser.ParseRules("add Raipur location"), rec, nil, "")

	c := changeFor(t, res, domain.FieldLocations)
	assert.Equal(t, []string{"Durg", "Raipur"}, c.Value.Items)
}

func TestAddLocationAlreadyPresent(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	rec := &domain.Record{ID: "r1", Locations: []string{"raipur"}}
	res := e.Execute(context.Background(), parser.ParseRules("add Raipur location"), rec, nil, "")

	assert.Empty(t, res.Changes)
	assert.Contains(t, res.Message, "already has")
	assert.InDelta(t, 0.75, res.Confidence, 1e-9)
}

func TestAddLocationFallsBackToDefault(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	in := &domain.Intent{Category: domain.CategoryGetSuggestions, Actions: []domain.Action{domain.ActionAddLocation}}
	res := e.Execute(context.Background(), in, &domain.Record{ID: "r1"}, nil, "")

	c := changeFor(t, res, domain.FieldLocations)
	assert.Equal(t, []string{DefaultLocation}, c.Value.Items)
	assert.Equal(t, domain.ProvenanceAISuggestion, c.Provenance)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
}

func TestAddLocationUsesTopThreeSuggestions(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	src := fixedSuggester{sug: &Suggestion{Locations: []string{"Durg", "Bhilai", "Korba", "Raigarh"}, Confidence: 0.8, Backend: "hosted"}}
	in := &domain.Intent{Category: domain.CategoryGetSuggestions, Actions: []domain.Action{domain.ActionAddLocation}}
	res := e.Execute(context.Background(), in, &domain.Record{ID: "r1"}, src, "")

	c := changeFor(t, res, domain.FieldLocations)
	assert.Equal(t, []string{"Durg", "Bhilai", "Korba"}, c.Value.Items)
	assert.InDelta(t, 0.8, c.Confidence, 1e-9)
	assert.Equal(t, "hosted", res.Backend)
}

func TestSuggesterFailureUsesDefaults(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	src := fixedSuggester{err: errors.New("boom")}
	in := &domain.Intent{Actions: []domain.Action{domain.ActionSuggestEventType}}
	res := e.Execute(context.Background(), in, &domain.Record{ID: "r1"}, src, "")

	c := changeFor(t, res, domain.FieldEventType)
	assert.Equal(t, DefaultEventType, c.Value.Text)
	assert.Equal(t, domain.StageSuggesting, res.Stage)
}

func TestChangeEventTypeExplicit(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	res := e.Execute(context.Background(), parser.ParseRules("change event type to rally"), &domain.Record{ID: "r1", EventType: "meeting"}, nil, "")

	c := changeFor(t, res, domain.FieldEventType)
	assert.Equal(t, "rally", c.Value.Text)
	assert.Equal(t, domain.ProvenanceUser, c.Provenance)
}

func TestOneChangePerField(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	in := &domain.Intent{
		Category: domain.CategoryAddLocation,
		Entities: map[domain.EntityType][]domain.Entity{
			domain.EntityLocation: {{Text: "Durg", Normalized: "Durg", Confidence: 0.9}},
		},
		Actions:    []domain.Action{domain.ActionAddLocation, domain.ActionGenerateSuggestions, domain.ActionAddLocation},
		Confidence: 0.8,
	}
	res := e.Execute(context.Background(), in, &domain.Record{ID: "r1"}, nil, "")

	fields := map[string]int{}
	for _, c := range res.Changes {
		fields[c.Field]++
	}
	assert.Equal(t, 1, fields[domain.FieldLocations])
	assert.Equal(t, 1, fields[domain.FieldEventType])
	assert.Len(t, res.Actions, 3)
}

func TestGenerateSuggestionsGuaranteesChange(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	in := &domain.Intent{Category: domain.CategoryGetSuggestions, Actions: []domain.Action{domain.ActionGenerateSuggestions}, Confidence: 0.2}
	res := e.Execute(context.Background(), in, &domain.Record{ID: "r1"}, fixedSuggester{err: errors.New("down")}, "")

	assert.Equal(t, DefaultEventType, changeFor(t, res, domain.FieldEventType).Value.Text)
	assert.Equal(t, []string{DefaultLocation}, changeFor(t, res, domain.FieldLocations).Value.Items)
	assert.Equal(t, domain.StageSuggesting, res.Stage)
}

func TestGenerateSuggestionsCompleteRecord(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	rec := &domain.Record{ID: "r1", EventType: "rally", Locations: []string{"Raipur"}}
	src := fixedSuggester{sug: &Suggestion{Schemes: []string{"PM Kisan"}, People: []string{"Ramesh Kumar"}}}
	res := e.Execute(context.Background(), &domain.Intent{}, rec, src, "")

	assert.Empty(t, res.Changes)
	assert.ElementsMatch(t, []string{"scheme: PM Kisan", "person: Ramesh Kumar"}, res.Suggestions)
	assert.Contains(t, res.Message, "complete")
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
}

func TestValidateFlagsIncompatibleScheme(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	rec := &domain.Record{ID: "r1", EventType: "meeting", Schemes: []string{"PM Kisan"}, Locations: []string{"Raipur"}}
	res := e.Execute(context.Background(), parser.ParseRules("validate this record"), rec, nil, "")

	assert.Empty(t, res.Changes)
	require.NotEmpty(t, res.Advisories)
	adv := res.Advisories[0]
	assert.Equal(t, domain.FieldSchemes, adv.Field)
	assert.Equal(t, domain.ProvenanceValidation, adv.Provenance)
	assert.Contains(t, adv.Reason, "PM Kisan")
	assert.Empty(t, adv.Value.Items)
	assert.Equal(t, domain.StageValidating, res.Stage)
}

func TestValidateCleanRecord(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	rec := &domain.Record{ID: "r1", EventType: "rally", Schemes: []string{"PM Kisan"}, Locations: []string{"Raipur"}}
	res := e.Execute(context.Background(), parser.ParseRules("validate this record"), rec, nil, "")

	assert.Empty(t, res.Advisories)
	assert.Contains(t, res.Message, "No consistency issues")
}

func TestValidateLocationsAndHashtags(t *testing.T) {
	t.Parallel()

	rec := &domain.Record{
		ID:        "r1",
		Text:      "#a #b #c #d #e #f",
		Locations: []string{"Raipr", "Zzzzqqq"},
	}
	issues := Validate(catalog, rec, domain.LanguageEnglish)
	require.Len(t, issues, 3)

	assert.Equal(t, domain.FieldLocations, issues[0].Field)
	assert.Equal(t, []string{"Raipur", "Zzzzqqq"}, issues[0].Fix.Items)
	assert.Equal(t, domain.FieldLocations, issues[1].Field)
	assert.True(t, issues[1].Fix.IsEmpty())
	assert.Equal(t, domain.FieldHashtags, issues[2].Field)
	assert.Contains(t, issues[2].Issue, "6")
}

func TestClearField(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	rec := &domain.Record{ID: "r1", Hashtags: []string{"#x"}}
	res := e.Execute(context.Background(), parser.ParseRules("clear the hashtags"), rec, nil, "")

	c := changeFor(t, res, domain.FieldHashtags)
	assert.True(t, c.Value.IsEmpty())
	assert.Equal(t, domain.ProvenanceUser, c.Provenance)
}

func TestClearNothing(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	res := e.Execute(context.Background(), parser.ParseRules("clear the hashtags"), &domain.Record{ID: "r1"}, nil, "")

	assert.Empty(t, res.Changes)
	assert.Contains(t, res.Message, "nothing to clear")
}

func TestLearnFromCorrection(t *testing.T) {
	t.Parallel()

	learner := &fakeLearner{}
	e := New(catalog, learner, nil)
	rec := &domain.Record{ID: "r1", Locations: []string{"Durg"}}
	res := e.Execute(context.Background(), parser.ParseRules("wrong, should be Bilaspur"), rec, nil, "asha")

	require.Len(t, learner.got, 1)
	got := learner.got[0]
	assert.Equal(t, "r1", got.RecordID)
	assert.Equal(t, domain.FieldLocations, got.Field)
	assert.Equal(t, []string{"Durg"}, got.Original.Items)
	assert.Contains(t, got.Corrected.Items, "Bilaspur")
	assert.Equal(t, "asha", got.Reviewer)
	assert.Equal(t, []string{domain.FieldLocations}, res.Learned)

	require.Len(t, res.Actions, 2)
	assert.True(t, res.Actions[1].Success)
}

func TestLearnFailureIsRecorded(t *testing.T) {
	t.Parallel()

	e := New(catalog, &fakeLearner{err: errors.New("db")}, nil)
	res := e.Execute(context.Background(), parser.ParseRules("wrong, should be Bilaspur"), &domain.Record{ID: "r1"}, nil, "")

	require.Len(t, res.Actions, 2)
	assert.True(t, res.Actions[0].Success)
	assert.False(t, res.Actions[1].Success)
	assert.Len(t, res.Changes, 1)
}

func TestApproveRejectAndHelp(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	rec := &domain.Record{ID: "r1"}

	res := e.Execute(context.Background(), parser.ParseRules("please approve these changes"), rec, nil, "")
	assert.Equal(t, domain.StageApproving, res.Stage)
	assert.Empty(t, res.Changes)

	res = e.Execute(context.Background(), parser.ParseRules("बदलाव अस्वीकार करें"), rec, nil, "")
	assert.Equal(t, domain.StageApproving, res.Stage)
	assert.Equal(t, "लंबित बदलाव अस्वीकार किए जा रहे हैं।", res.Message)

	res = e.Execute(context.Background(), parser.ParseRules("help"), rec, nil, "")
	assert.Empty(t, res.Stage)
	assert.Contains(t, res.Message, "approve")
}

func TestGenerateHashtagsFromRecord(t *testing.T) {
	t.Parallel()

	e := New(catalog, nil, nil)
	rec := &domain.Record{ID: "r1", EventType: "public_event", Locations: []string{"Naya Raipur"}}
	in := &domain.Intent{Category: domain.CategoryGenerateHashtags, Actions: []domain.Action{domain.ActionGenerateHashtags}}
	res := e.Execute(context.Background(), in, rec, fixedSuggester{sug: &Suggestion{}}, "")

	c := changeFor(t, res, domain.FieldHashtags)
	assert.Equal(t, []string{"#publicevent", "#NayaRaipur"}, c.Value.Items)
}

func TestRuleSuggester(t *testing.T) {
	t.Parallel()

	s := NewRuleSuggester(parser)
	sug, err := s.Suggest(context.Background(), &domain.Record{Text: "rally in Durg for PM Kisan"})
	require.NoError(t, err)
	assert.Equal(t, "rally", sug.EventType)
	assert.Equal(t, []string{"Durg"}, sug.Locations)
	assert.Equal(t, []string{"PM Kisan"}, sug.Schemes)
	assert.InDelta(t, 0.6, sug.Confidence, 1e-9)
}

func TestUnavailableMessageLocalised(t *testing.T) {
	t.Parallel()

	assert.Contains(t, UnavailableMessage(domain.LanguageEnglish), "unavailable")
	assert.Contains(t, UnavailableMessage(domain.LanguageHindi), "उपलब्ध नहीं")
	assert.Equal(t, UnavailableMessage(domain.LanguageEnglish), UnavailableMessage(domain.LanguageMixed))
}
