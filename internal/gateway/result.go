package gateway

import (
	"strings"

	"github.com/ashureev/postreview/internal/backend"
)

// BackendBoth is reported as the backend of a dual-mode result.
const BackendBoth = "both"

// Result is the outcome of a gateway call: either Single or Dual.
type Result interface {
	// BackendUsed names the backend that served the result, or "both".
	BackendUsed() string
	Content() string
	Confidence() float64
	result()
}

// Single is a result served by one backend.
type Single struct {
	Response backend.Response `json:"response"`
	// FellBack is set when the primary failed and the fallback answered.
	FellBack bool `json:"fell_back"`
}

func (s Single) BackendUsed() string { return s.Response.Backend }
func (s Single) Content() string     { return s.Response.Content }
func (s Single) Confidence() float64 { return s.Response.Confidence }
func (Single) result()               {}

// Outcome is one backend's share of a dual call.
type Outcome struct {
	Response *backend.Response `json:"response,omitempty"`
	Err      error             `json:"-"`
}

// OK reports whether the backend produced a response.
func (o Outcome) OK() bool { return o.Err == nil && o.Response != nil }

// Dual is a result produced by calling both backends concurrently. At least
// one outcome is successful.
type Dual struct {
	Hosted Outcome `json:"hosted"`
	Local  Outcome `json:"local"`
}

func (Dual) BackendUsed() string { return BackendBoth }
func (Dual) result()             {}

// Content labels each successful output with its backend name.
func (d Dual) Content() string {
	var parts []string
	for _, o := range []Outcome{d.Hosted, d.Local} {
		if o.OK() {
			parts = append(parts, "["+o.Response.Backend+"] "+o.Response.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Confidence is the highest confidence among successful outputs.
func (d Dual) Confidence() float64 {
	var best float64
	for _, o := range []Outcome{d.Hosted, d.Local} {
		if o.OK() && o.Response.Confidence > best {
			best = o.Response.Confidence
		}
	}
	return best
}

// Responses returns the successful responses, hosted first.
func (d Dual) Responses() []backend.Response {
	var out []backend.Response
	for _, o := range []Outcome{d.Hosted, d.Local} {
		if o.OK() {
			out = append(out, *o.Response)
		}
	}
	return out
}

// Responses flattens any result into its successful responses.
func Responses(r Result) []backend.Response {
	switch v := r.(type) {
	case Single:
		return []backend.Response{v.Response}
	case Dual:
		return v.Responses()
	}
	return nil
}
