// Package tools turns parsed intents into proposed record changes.
package tools

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ashureev/postreview/internal/domain"
)

// LearningStore persists reviewer corrections. Learn returns the entity
// categories that were newly learned.
type LearningStore interface {
	Learn(ctx context.Context, c domain.Correction) ([]string, error)
}

// Result is the outcome of executing one intent.
type Result struct {
	Message       string                 `json:"message"`
	PrimaryAction domain.Action          `json:"action"`
	Confidence    float64                `json:"confidence"`
	Changes       []domain.PendingChange `json:"proposed_changes"`
	// Advisories are validation findings. They are returned once and never
	// stored in the session.
	Advisories  []domain.PendingChange `json:"advisories,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
	// Stage is where the session should move next; empty leaves it unchanged.
	Stage   domain.Stage          `json:"stage,omitempty"`
	Actions []domain.ActionRecord `json:"-"`
	Backend string                `json:"backend_used,omitempty"`
	Learned []string              `json:"learned,omitempty"`
}

// Executor runs intent actions against a record snapshot.
type Executor struct {
	ref     Gazetteer
	learner LearningStore
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New creates an executor. learner may be nil.
func New(ref Gazetteer, learner LearningStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		ref:     ref,
		learner: learner,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return ulid.Make().String() },
	}
}

// run holds the state of one Execute call.
type run struct {
	e        *Executor
	ctx      context.Context
	in       *domain.Intent
	rec      *domain.Record
	src      Suggester
	reviewer string
	lang     domain.Language

	res      *Result
	fields   map[string]bool
	messages []string
	sug      *Suggestion
	sugDone  bool
}

// Execute runs every action of the intent independently. rec is not
// modified. src may be nil, in which case fixed defaults are used.
func (e *Executor) Execute(ctx context.Context, in *domain.Intent, rec *domain.Record, src Suggester, reviewer string) *Result {
	if rec == nil {
		rec = &domain.Record{}
	}
	r := &run{
		e:        e,
		ctx:      ctx,
		in:       in,
		rec:      rec,
		src:      src,
		reviewer: reviewer,
		lang:     in.Language,
		res:      &Result{},
		fields:   make(map[string]bool),
	}

	actions := in.Actions
	if len(actions) == 0 {
		actions = []domain.Action{domain.ActionGenerateSuggestions}
	}
	r.res.PrimaryAction = actions[0]
	r.res.Stage = stageFor(actions[0])

	for _, a := range actions {
		ok := r.execute(a)
		r.res.Actions = append(r.res.Actions, domain.ActionRecord{Action: a, Timestamp: e.now(), Success: ok})
	}

	switch {
	case in.Confidence > 0:
		r.res.Confidence = in.Confidence
	case len(r.res.Changes) > 0:
		r.res.Confidence = 0.7
	default:
		r.res.Confidence = 0.5
	}
	r.res.Message = strings.Join(r.messages, " ")
	return r.res
}

func stageFor(a domain.Action) domain.Stage {
	switch a {
	case domain.ActionAddLocation, domain.ActionChangeEventType, domain.ActionAddScheme,
		domain.ActionAddPeople, domain.ActionGenerateHashtags, domain.ActionClearField,
		domain.ActionLearnFromCorrection:
		return domain.StageEditing
	case domain.ActionGenerateSuggestions, domain.ActionSuggestEventType:
		return domain.StageSuggesting
	case domain.ActionValidateData:
		return domain.StageValidating
	case domain.ActionApproveChanges, domain.ActionRejectChanges:
		return domain.StageApproving
	}
	return ""
}

func (r *run) execute(a domain.Action) bool {
	switch a {
	case domain.ActionAddLocation:
		return r.addList(domain.FieldLocations, domain.EntityLocation, r.suggestedLocations, []string{DefaultLocation})
	case domain.ActionChangeEventType:
		return r.changeEventType(false)
	case domain.ActionSuggestEventType:
		return r.changeEventType(true)
	case domain.ActionAddScheme:
		return r.addList(domain.FieldSchemes, domain.EntityScheme, func() []string { return r.suggestion().Schemes }, nil)
	case domain.ActionAddPeople:
		ok := r.addList(domain.FieldPeople, domain.EntityPerson, func() []string { return r.suggestion().People }, nil)
		if !ok {
			r.say(message(r.lang, msgNoPeople))
		}
		return ok
	case domain.ActionGenerateHashtags:
		return r.addList(domain.FieldHashtags, domain.EntityHashtag, r.suggestedHashtags, nil)
	case domain.ActionClearField:
		return r.clearFields()
	case domain.ActionValidateData:
		return r.validate()
	case domain.ActionGenerateSuggestions:
		return r.generateSuggestions()
	case domain.ActionLearnFromCorrection:
		return r.learn()
	case domain.ActionApproveChanges:
		r.say(message(r.lang, msgApprove))
		return true
	case domain.ActionRejectChanges:
		r.say(message(r.lang, msgReject))
		return true
	case domain.ActionShowHelp:
		r.say(message(r.lang, msgHelp))
		return true
	}
	r.e.logger.Warn("unknown action", "action", a)
	return false
}

func (r *run) say(s string) {
	if s != "" && !slices.Contains(r.messages, s) {
		r.messages = append(r.messages, s)
	}
}

// suggestion asks the source once per run.
func (r *run) suggestion() *Suggestion {
	if r.sugDone {
		return r.sug
	}
	r.sugDone = true
	r.sug = &Suggestion{}
	if r.src == nil {
		return r.sug
	}
	s, err := r.src.Suggest(r.ctx, r.rec)
	if err != nil || s == nil {
		r.e.logger.Warn("suggestion source failed, using defaults", "record_id", r.rec.ID, "error", err)
		return r.sug
	}
	r.sug = s
	if s.Backend != "" && s.Backend != "rules" {
		r.res.Backend = s.Backend
	}
	return r.sug
}

func (r *run) suggestedLocations() []string {
	locs := r.suggestion().Locations
	if len(locs) > 3 {
		locs = locs[:3]
	}
	return locs
}

func (r *run) suggestedHashtags() []string {
	if tags := r.suggestion().Hashtags; len(tags) > 0 {
		return tags
	}
	var tags []string
	for _, v := range slices.Concat([]string{r.rec.EventType}, r.rec.Locations, r.rec.Schemes) {
		if tag := toHashtag(v); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func toHashtag(s string) string {
	s = strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '_' || r == '-' }), "")
	if s == "" {
		return ""
	}
	return "#" + s
}

// propose appends a change unless the field already has one in this run.
func (r *run) propose(field string, v domain.Value, confidence float64, p domain.Provenance, reason string) bool {
	if r.fields[field] {
		return false
	}
	r.fields[field] = true
	r.res.Changes = append(r.res.Changes, domain.PendingChange{
		ID:         r.e.newID(),
		Field:      field,
		Value:      v,
		Confidence: min(max(confidence, 0), 1),
		Provenance: p,
		Timestamp:  r.e.now(),
		Reason:     reason,
	})
	r.say(message(r.lang, msgProposed, field, v.String()))
	return true
}

// extracted returns trimmed, non-empty entity values and their mean
// confidence.
func (r *run) extracted(t domain.EntityType) ([]string, float64) {
	var vals []string
	var sum float64
	for _, e := range r.in.Entities[t] {
		v := strings.TrimSpace(e.Normalized)
		if v == "" {
			v = strings.TrimSpace(e.Text)
		}
		if v == "" || slices.Contains(vals, v) {
			continue
		}
		vals = append(vals, v)
		sum += e.Confidence
	}
	if len(vals) == 0 {
		return nil, 0
	}
	return vals, sum / float64(len(vals))
}

// addList proposes the union of the current list field and new values taken
// from extracted entities, then suggestions, then defaults.
func (r *run) addList(field string, t domain.EntityType, suggested func() []string, defaults []string) bool {
	vals, conf := r.extracted(t)
	prov := domain.ProvenanceAISuggestion
	reason := "extracted from message"
	if len(vals) > 0 && r.in.Category.IsExplicitChange() {
		prov = domain.ProvenanceUser
	}
	if len(vals) == 0 {
		vals = cleanValues(suggested())
		conf = r.suggestion().Confidence
		reason = "suggested"
	}
	if len(vals) == 0 && len(defaults) > 0 {
		vals = defaults
		conf = 0.3
		reason = "default"
	}
	if len(vals) == 0 {
		return false
	}

	current, _ := r.rec.Field(field)
	merged := slices.Clone(current.Items)
	added := false
	for _, v := range vals {
		if !current.Contains(v) && !slices.ContainsFunc(merged, func(m string) bool { return strings.EqualFold(m, v) }) {
			merged = append(merged, v)
			added = true
		}
	}
	if !added {
		r.say(message(r.lang, msgNothingNew, field, strings.Join(vals, ", ")))
		return true
	}
	return r.propose(field, domain.ListValue(merged...), conf, prov, reason)
}

func cleanValues(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// changeEventType proposes an event type from the message, the suggestion
// source or the default. Only an explicit instruction carries user
// provenance.
func (r *run) changeEventType(suggestOnly bool) bool {
	vals, conf := r.extracted(domain.EntityEventType)
	prov := domain.ProvenanceAISuggestion
	reason := "extracted from message"
	var value string
	switch {
	case len(vals) > 0:
		value = vals[0]
		if !suggestOnly && r.in.Category.IsExplicitChange() {
			prov = domain.ProvenanceUser
		}
	case strings.TrimSpace(r.suggestion().EventType) != "":
		value = strings.TrimSpace(r.suggestion().EventType)
		conf = r.suggestion().Confidence
		reason = "suggested"
	default:
		value = DefaultEventType
		conf = 0.3
		reason = "default"
	}
	if strings.EqualFold(value, r.rec.EventType) {
		r.say(message(r.lang, msgNothingNew, domain.FieldEventType, value))
		return true
	}
	return r.propose(domain.FieldEventType, domain.TextValue(value), conf, prov, reason)
}

func (r *run) clearFields() bool {
	fields := slices.Clone(r.in.Fields)
	if len(fields) == 0 {
		for _, t := range domain.EntityTypes {
			if f, ok := domain.FieldForEntity(t); ok && len(r.in.Entities[t]) > 0 {
				fields = append(fields, f)
			}
		}
	}
	cleared := false
	for _, f := range fields {
		v, ok := r.rec.Field(f)
		if !ok || v.IsEmpty() {
			continue
		}
		empty := domain.ListValue()
		if !domain.IsListField(f) {
			empty = domain.TextValue("")
		}
		if r.propose(f, empty, r.in.Confidence, domain.ProvenanceUser, "cleared on request") {
			r.say(message(r.lang, msgCleared, f))
			cleared = true
		}
	}
	if !cleared {
		r.say(message(r.lang, msgNothingToClear))
	}
	return cleared
}

func (r *run) validate() bool {
	issues := Validate(r.e.ref, r.rec, r.lang)
	if len(issues) == 0 {
		r.say(message(r.lang, msgNoIssues))
		return true
	}
	for _, is := range issues {
		r.res.Advisories = append(r.res.Advisories, domain.PendingChange{
			ID:         r.e.newID(),
			Field:      is.Field,
			Value:      is.Fix,
			Confidence: 0.6,
			Provenance: domain.ProvenanceValidation,
			Timestamp:  r.e.now(),
			Reason:     is.Issue,
		})
		r.res.Suggestions = append(r.res.Suggestions, is.Suggestion)
	}
	r.say(message(r.lang, msgIssues, len(issues)))
	return true
}

// generateSuggestions guarantees at least one proposal for an incomplete
// record.
func (r *run) generateSuggestions() bool {
	missing := r.rec.Missing()
	sug := r.suggestion()
	for _, f := range missing {
		switch f {
		case domain.FieldEventType:
			value, conf, reason := strings.TrimSpace(sug.EventType), sug.Confidence, "suggested"
			if value == "" {
				value, conf, reason = DefaultEventType, 0.3, "default"
			}
			r.propose(domain.FieldEventType, domain.TextValue(value), conf, domain.ProvenanceAISuggestion, reason)
		case domain.FieldLocations:
			locs, conf, reason := cleanValues(r.suggestedLocations()), sug.Confidence, "suggested"
			if len(locs) == 0 {
				locs, conf, reason = []string{DefaultLocation}, 0.3, "default"
			}
			r.propose(domain.FieldLocations, domain.ListValue(locs...), conf, domain.ProvenanceAISuggestion, reason)
		}
	}

	for _, s := range cleanValues(sug.Schemes) {
		if !slices.Contains(r.rec.Schemes, s) {
			r.res.Suggestions = append(r.res.Suggestions, "scheme: "+s)
		}
	}
	for _, p := range cleanValues(sug.People) {
		if !slices.Contains(r.rec.People, p) {
			r.res.Suggestions = append(r.res.Suggestions, "person: "+p)
		}
	}
	if len(missing) == 0 {
		r.say(message(r.lang, msgComplete))
	}
	r.say(message(r.lang, msgSuggestions))
	return true
}

// learn hands every user-authored change of this run to the learning store.
func (r *run) learn() bool {
	if r.e.learner == nil {
		return false
	}
	ok := true
	for _, c := range r.res.Changes {
		if c.Provenance != domain.ProvenanceUser {
			continue
		}
		original, _ := r.rec.Field(c.Field)
		learned, err := r.e.learner.Learn(r.ctx, domain.Correction{
			RecordID:  r.rec.ID,
			Field:     c.Field,
			Original:  original,
			Corrected: c.Value,
			Reviewer:  r.reviewer,
		})
		if err != nil {
			r.e.logger.Warn("learning store failed", "record_id", r.rec.ID, "field", c.Field, "error", err)
			ok = false
			continue
		}
		for _, l := range learned {
			if !slices.Contains(r.res.Learned, l) {
				r.res.Learned = append(r.res.Learned, l)
			}
		}
	}
	if ok {
		r.say(message(r.lang, msgLearned))
	}
	return ok
}
