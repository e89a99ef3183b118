package gateway

import "github.com/ashureev/postreview/internal/backend"

// Mode selects how many backends serve a request.
type Mode string

const (
	ModePrimary Mode = "primary"
	ModeDual    Mode = "dual"
)

// RequestComplexity classifies a request for routing.
type RequestComplexity string

const (
	Simple     RequestComplexity = "simple"
	Complex    RequestComplexity = "complex"
	Comparison RequestComplexity = "comparison"
)

// Route is a routing recommendation.
type Route struct {
	Mode Mode `json:"mode"`
	// Prefer forces the primary backend when set.
	Prefer string `json:"prefer,omitempty"`
}

// Recommend routes a request by complexity. Simple requests go to whichever
// backend is primary, complex ones to the hosted backend, and comparisons to
// both.
func Recommend(c RequestComplexity) Route {
	switch c {
	case Complex:
		return Route{Mode: ModePrimary, Prefer: backend.Hosted}
	case Comparison:
		return Route{Mode: ModeDual}
	}
	return Route{Mode: ModePrimary}
}

// SelectPrimary picks the primary backend from the two health snapshots.
// A healthy backend beats an unhealthy one; otherwise the lower error rate
// wins and ties go to the hosted backend.
func SelectPrimary(hosted, local backend.HealthSnapshot) string {
	if hosted.Healthy != local.Healthy {
		if hosted.Healthy {
			return backend.Hosted
		}
		return backend.Local
	}
	if local.ErrorRate < hosted.ErrorRate {
		return backend.Local
	}
	return backend.Hosted
}
