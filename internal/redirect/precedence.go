package redirect

import "strings"

// Source names where a destination candidate came from.
type Source string

const (
	SourceQuery          Source = "query"
	SourcePending        Source = "pending"
	SourceCallbackCookie Source = "callback_cookie"
	SourceReferer        Source = "referer"
	SourceDefault        Source = "default"
)

// Candidate is one possible destination.
type Candidate struct {
	Source Source
	Value  string
}

// Pick returns the first non-empty candidate. Callers list candidates in
// precedence order: explicit query parameter, pending state, callback cookie,
// Referer, default. The picked value is validated afterwards by Decide.
func Pick(candidates ...Candidate) (Candidate, bool) {
	for _, c := range candidates {
		if strings.TrimSpace(c.Value) != "" {
			return c, true
		}
	}
	return Candidate{}, false
}

// Query builds a query-parameter candidate.
func Query(v string) Candidate { return Candidate{Source: SourceQuery, Value: v} }

// Pending builds a pending-state candidate.
func Pending(v string) Candidate { return Candidate{Source: SourcePending, Value: v} }

// CallbackCookie builds a callback-cookie candidate.
func CallbackCookie(v string) Candidate { return Candidate{Source: SourceCallbackCookie, Value: v} }

// Referer builds a Referer-header candidate.
func Referer(v string) Candidate { return Candidate{Source: SourceReferer, Value: v} }

// Default builds the final fallback candidate.
func Default(v string) Candidate { return Candidate{Source: SourceDefault, Value: v} }
