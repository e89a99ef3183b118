package session

import (
	"fmt"
	"strings"

	"github.com/ashureev/postreview/internal/domain"
)

// Bounds of the prompt context summary.
const (
	contextTurns    = 3
	contextApproved = 5
	contextRejected = 3
	contextTextMax  = 200
)

// RelevantContext summarises a session for inclusion in a backend prompt.
// The output is bounded regardless of session size.
func RelevantContext(s *domain.Session) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "stage: %s\n", s.Stage)
	if s.Focus != "" {
		fmt.Fprintf(&b, "focus: %s\n", s.Focus)
	}
	if s.LastIntent != "" {
		fmt.Fprintf(&b, "last intent: %s\n", s.LastIntent)
	}

	if turns := s.RecentTurns(contextTurns); len(turns) > 0 {
		b.WriteString("recent turns:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "- reviewer: %s\n  assistant: %s\n", clip(t.Message), clip(t.Response))
		}
	}

	if n := len(s.Approved); n > 0 {
		b.WriteString("approved changes:\n")
		for _, c := range s.Approved[max(0, n-contextApproved):] {
			fmt.Fprintf(&b, "- %s = %s\n", c.Field, clip(c.Value.String()))
		}
	}
	if n := len(s.Rejected); n > 0 {
		b.WriteString("rejected changes:\n")
		for _, c := range s.Rejected[max(0, n-contextRejected):] {
			fmt.Fprintf(&b, "- %s = %s (%s)\n", c.Field, clip(c.Value.String()), clip(c.RejectReason))
		}
	}

	p := s.Preferences
	fmt.Fprintf(&b, "preferences: language=%s verbosity=%s auto_suggest=%t strictness=%s\n",
		p.Language, p.Verbosity, p.AutoSuggest, p.Strictness)
	return b.String()
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= contextTextMax {
		return s
	}
	return string(r[:contextTextMax]) + "…"
}
