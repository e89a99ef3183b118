package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/postreview/internal/backend"
	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/gateway"
	"github.com/ashureev/postreview/internal/llmjson"
)

// Fixed defaults used when no suggestion source produced a value.
const (
	DefaultLocation  = "Raipur"
	DefaultEventType = "other"
)

type promptContextKey struct{}

// WithPromptContext attaches a conversation summary that model prompts
// built under ctx will carry.
func WithPromptContext(ctx context.Context, summary string) context.Context {
	return context.WithValue(ctx, promptContextKey{}, summary)
}

func promptContext(ctx context.Context) string {
	s, _ := ctx.Value(promptContextKey{}).(string)
	return s
}

type routeModeKey struct{}

// WithRouteMode sets the gateway mode for model calls made under ctx.
func WithRouteMode(ctx context.Context, mode gateway.Mode) context.Context {
	return context.WithValue(ctx, routeModeKey{}, mode)
}

func routeMode(ctx context.Context) gateway.Mode {
	if m, ok := ctx.Value(routeModeKey{}).(gateway.Mode); ok && m != "" {
		return m
	}
	return gateway.ModePrimary
}

// Suggestion is a proposed completion for a record.
type Suggestion struct {
	EventType  string   `json:"event_type"`
	Locations  []string `json:"locations"`
	Schemes    []string `json:"schemes"`
	People     []string `json:"people"`
	Hashtags   []string `json:"hashtags"`
	Confidence float64  `json:"confidence"`
	Backend    string   `json:"backend,omitempty"`
}

// Suggester proposes field values for a record.
type Suggester interface {
	Suggest(ctx context.Context, rec *domain.Record) (*Suggestion, error)
}

// Generator is the model entry point used for suggestions.
type Generator interface {
	Generate(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// TextParser extracts an intent from free text.
type TextParser interface {
	ParseRules(message string) *domain.Intent
}

// RuleSuggester derives suggestions by scanning the record's source text.
type RuleSuggester struct {
	parser TextParser
}

// NewRuleSuggester creates a rule-based suggester.
func NewRuleSuggester(parser TextParser) *RuleSuggester {
	return &RuleSuggester{parser: parser}
}

// Suggest never fails.
func (s *RuleSuggester) Suggest(_ context.Context, rec *domain.Record) (*Suggestion, error) {
	out := &Suggestion{Confidence: 0.5, Backend: "rules"}
	if rec == nil || strings.TrimSpace(rec.Text) == "" || s.parser == nil {
		return out, nil
	}
	in := s.parser.ParseRules(rec.Text)
	if ev := in.Values(domain.EntityEventType); len(ev) > 0 {
		out.EventType = ev[0]
	}
	out.Locations = in.Values(domain.EntityLocation)
	out.Schemes = in.Values(domain.EntityScheme)
	out.People = in.Values(domain.EntityPerson)
	out.Hashtags = in.Values(domain.EntityHashtag)
	if in.EntityCount() > 0 {
		out.Confidence = 0.6
	}
	return out, nil
}

const suggestionSchema = `{
  "type": "object",
  "properties": {
    "event_type": {"type": "string"},
    "locations":  {"type": "array", "items": {"type": "string"}},
    "schemes":    {"type": "array", "items": {"type": "string"}},
    "people":     {"type": "array", "items": {"type": "string"}},
    "hashtags":   {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  },
  "anyOf": [
    {"required": ["event_type"]},
    {"required": ["locations"]},
    {"required": ["schemes"]}
  ]
}`

var suggestionDecoder = llmjson.MustCompile("record-suggestion.json", []byte(suggestionSchema))

const suggestionSystem = "You complete structured records extracted from Indian government social media posts. " +
	"Reply with a single JSON object and nothing else."

// GatewaySuggester asks the model gateway for suggestions and falls back to
// a rule-based suggester on any failure.
type GatewaySuggester struct {
	gen      Generator
	fallback Suggester
	logger   *slog.Logger
}

// NewGatewaySuggester creates a suggester. fallback must not be nil.
func NewGatewaySuggester(gen Generator, fallback Suggester, logger *slog.Logger) *GatewaySuggester {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewaySuggester{gen: gen, fallback: fallback, logger: logger}
}

// Suggest returns model suggestions, or the fallback's when the model path
// fails. It only errors when the fallback does.
func (s *GatewaySuggester) Suggest(ctx context.Context, rec *domain.Record) (*Suggestion, error) {
	if s.gen == nil || rec == nil {
		return s.fallback.Suggest(ctx, rec)
	}
	res, err := s.gen.Generate(ctx, gateway.Request{
		Request: backend.Request{
			Prompt:    suggestionPrompt(rec),
			Context:   promptContext(ctx),
			System:    suggestionSystem,
			MaxTokens: 512,
		},
		Mode: routeMode(ctx),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("suggestion generation failed, using rules", "record_id", rec.ID, "error", err)
		return s.fallback.Suggest(ctx, rec)
	}

	var sug Suggestion
	if err := suggestionDecoder.Decode(res.Content(), &sug); err != nil {
		s.logger.Warn("suggestion output rejected, using rules", "record_id", rec.ID, "backend", res.BackendUsed(), "error", err)
		return s.fallback.Suggest(ctx, rec)
	}
	sug.Backend = res.BackendUsed()
	if sug.Confidence <= 0 {
		sug.Confidence = res.Confidence()
	}
	return &sug, nil
}

func suggestionPrompt(rec *domain.Record) string {
	view := struct {
		Text      string   `json:"text"`
		EventType string   `json:"event_type"`
		Locations []string `json:"locations"`
		Schemes   []string `json:"schemes"`
		People    []string `json:"people"`
	}{rec.Text, rec.EventType, rec.Locations, rec.Schemes, rec.People}
	body, _ := json.Marshal(view)

	var b strings.Builder
	b.WriteString("Suggest values for the missing or doubtful fields of this record.\n")
	b.WriteString(`Return {"event_type": string, "locations": [], "schemes": [], "people": [], "hashtags": [], "confidence": number}.`)
	fmt.Fprintf(&b, "\nRecord: %s\n", body)
	return b.String()
}
