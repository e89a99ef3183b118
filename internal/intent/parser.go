// Package intent turns free-text reviewer messages into structured intents.
// A deterministic rule pass always runs; complex messages are additionally
// sent to a model backend and the two results are merged.
package intent

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/ashureev/postreview/internal/backend"
	"github.com/ashureev/postreview/internal/domain"
	"github.com/ashureev/postreview/internal/gateway"
	"github.com/ashureev/postreview/internal/reference"
)

// Generator is the model entry point used for enhancement.
type Generator interface {
	Generate(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// Parser classifies reviewer messages. It is safe for concurrent use.
type Parser struct {
	rules   *rules
	catalog *reference.Catalog
	gen     Generator
	logger  *slog.Logger
}

// New creates a parser. gen may be nil, in which case only rules are used.
func New(catalog *reference.Catalog, gen Generator, logger *slog.Logger) *Parser {
	if catalog == nil {
		catalog = reference.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		rules:   newRules(catalog),
		catalog: catalog,
		gen:     gen,
		logger:  logger,
	}
}

// ParseRules runs only the deterministic pass.
func (p *Parser) ParseRules(message string) *domain.Intent {
	return p.rules.parse(message)
}

// Parse classifies a message, routing complex ones to the primary backend.
func (p *Parser) Parse(ctx context.Context, message string) *domain.Intent {
	return p.ParseWithRoute(ctx, message, false)
}

// ParseWithRoute is Parse with an explicit dual-mode switch. It never fails:
// any backend problem yields the rule-based result unchanged.
func (p *Parser) ParseWithRoute(ctx context.Context, message string, dual bool) *domain.Intent {
	base := p.rules.parse(message)
	if strings.TrimSpace(message) == "" || base.Complexity != domain.ComplexityComplex || p.gen == nil {
		return base
	}

	route := gateway.Recommend(gateway.Complex)
	if dual {
		route = gateway.Recommend(gateway.Comparison)
	}
	res, err := p.gen.Generate(ctx, gateway.Request{
		Request: backend.Request{Prompt: extractionPrompt(message), System: extractionSystem, MaxTokens: 512},
		Mode:    route.Mode,
		Prefer:  route.Prefer,
	})
	if err != nil {
		p.logger.Warn("intent enhancement failed, using rules", "error", err)
		return base
	}

	var extracted []extraction
	var confidences []float64
	for _, resp := range gateway.Responses(res) {
		var ex extraction
		if err := extractionDecoder.Decode(resp.Content, &ex); err != nil {
			p.logger.Warn("intent enhancement output rejected", "backend", resp.Backend, "error", err)
			continue
		}
		extracted = append(extracted, ex)
		confidences = append(confidences, resp.Confidence)
	}
	if len(extracted) == 0 {
		return base
	}

	merged := cloneIntent(base)
	for i, ex := range extracted {
		p.merge(merged, message, ex, confidences[i])
	}
	merged.Backend = res.BackendUsed()
	return merged
}

// merge folds one backend extraction into in. Rule results are never
// dropped and confidence never falls below the rule baseline.
func (p *Parser) merge(in *domain.Intent, message string, ex extraction, backendConfidence float64) {
	for _, t := range domain.EntityTypes {
		for _, v := range ex.Entities[string(t)] {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			e := domain.Entity{
				Text:       v,
				Normalized: p.normalize(t, v),
				Confidence: clamp(backendConfidence),
				Start:      -1,
				End:        -1,
			}
			if i := strings.Index(message, v); i >= 0 {
				e.Start, e.End = i, i+len(v)
			}
			if !hasEntity(in.Entities[t], e) {
				in.Entities[t] = append(in.Entities[t], e)
			}
		}
	}

	category := domain.Category(ex.Category)
	if in.Category == domain.CategoryUnknown || in.Category == domain.CategoryGetSuggestions {
		if category != domain.CategoryUnknown && category != "" {
			in.Category = category
		}
	}
	in.Actions = appendActions(in.Actions, actionsFor(in.Category, in.Entities)...)
	for _, a := range ex.Actions {
		in.Actions = appendActions(in.Actions, domain.Action(a))
	}

	c := ex.Confidence
	if c <= 0 {
		c = backendConfidence
	}
	in.Confidence = max(in.Confidence, clamp(c))
}

// normalize maps a backend value onto the catalog spelling when it is known.
func (p *Parser) normalize(t domain.EntityType, v string) string {
	switch t {
	case domain.EntityEventType:
		if e, ok := p.catalog.EventType(v); ok {
			return e.Name
		}
		return strings.ToLower(strings.ReplaceAll(v, " ", "_"))
	case domain.EntityScheme:
		if s, ok := p.catalog.Scheme(v); ok {
			return s.Name
		}
	}
	return v
}

func hasEntity(list []domain.Entity, e domain.Entity) bool {
	return slices.ContainsFunc(list, func(have domain.Entity) bool {
		return strings.EqualFold(have.Normalized, e.Normalized)
	})
}

func cloneIntent(in *domain.Intent) *domain.Intent {
	c := *in
	c.Entities = make(map[domain.EntityType][]domain.Entity, len(in.Entities))
	for t, list := range in.Entities {
		c.Entities[t] = slices.Clone(list)
	}
	c.Actions = slices.Clone(in.Actions)
	c.Fields = slices.Clone(in.Fields)
	return &c
}

func clamp(f float64) float64 {
	return min(max(f, 0), 1)
}
