package tools

import (
	"regexp"
	"slices"
	"strings"

	"github.com/ashureev/postreview/internal/domain"
)

// maxHashtags is the hashtag count above which a post is flagged as spam.
const maxHashtags = 5

var hashtagRe = regexp.MustCompile(`#[\p{L}\p{M}\p{N}_]+`)

// Gazetteer is the reference data used for validation.
type Gazetteer interface {
	Exists(name string) bool
	SuggestSimilar(name string) []string
	SchemeCompatible(scheme, eventType string) (compatible, known bool)
}

// Issue is one advisory finding. Fix is the field value that would resolve
// it; an empty Fix means the reviewer has to decide.
type Issue struct {
	Field      string       `json:"field"`
	Issue      string       `json:"issue"`
	Suggestion string       `json:"suggestion"`
	Fix        domain.Value `json:"fix"`
}

// Validate runs the consistency checks on a record. Issues are advisories
// and never block approval.
func Validate(ref Gazetteer, rec *domain.Record, lang domain.Language) []Issue {
	if rec == nil {
		return nil
	}
	var issues []Issue
	issues = append(issues, checkSchemes(ref, rec, lang)...)
	issues = append(issues, checkLocations(ref, rec, lang)...)
	issues = append(issues, checkHashtags(rec, lang)...)
	return issues
}

func checkSchemes(ref Gazetteer, rec *domain.Record, lang domain.Language) []Issue {
	if ref == nil || strings.TrimSpace(rec.EventType) == "" {
		return nil
	}
	var issues []Issue
	seen := make(map[string]bool)
	for _, scheme := range rec.Schemes {
		if seen[scheme] {
			continue
		}
		seen[scheme] = true
		compatible, known := ref.SchemeCompatible(scheme, rec.EventType)
		if !known || compatible {
			continue
		}
		keep := slices.DeleteFunc(slices.Clone(rec.Schemes), func(s string) bool { return s == scheme })
		issues = append(issues, Issue{
			Field:      domain.FieldSchemes,
			Issue:      message(lang, msgIssueScheme, scheme, rec.EventType),
			Suggestion: "remove " + scheme + " or change the event type",
			Fix:        domain.ListValue(keep...),
		})
	}
	return issues
}

func checkLocations(ref Gazetteer, rec *domain.Record, lang domain.Language) []Issue {
	if ref == nil {
		return nil
	}
	var issues []Issue
	for i, loc := range rec.Locations {
		if strings.TrimSpace(loc) == "" || ref.Exists(loc) {
			continue
		}
		similar := ref.SuggestSimilar(loc)
		issue := Issue{Field: domain.FieldLocations}
		if len(similar) > 0 {
			fixed := slices.Clone(rec.Locations)
			fixed[i] = similar[0]
			issue.Issue = message(lang, msgIssueLocation, loc, similar[0])
			issue.Suggestion = strings.Join(similar, ", ")
			issue.Fix = domain.ListValue(fixed...)
		} else {
			issue.Issue = message(lang, msgIssueUnknown, loc)
			issue.Suggestion = "check the spelling of " + loc
		}
		issues = append(issues, issue)
	}
	return issues
}

func checkHashtags(rec *domain.Record, lang domain.Language) []Issue {
	n := len(hashtagRe.FindAllString(rec.Text, -1))
	if n <= maxHashtags {
		return nil
	}
	return []Issue{{
		Field:      domain.FieldHashtags,
		Issue:      message(lang, msgIssueHashtags, n),
		Suggestion: "review whether the post is promotional spam",
	}}
}
