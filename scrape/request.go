package scrape

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"
)

// Queue priority defaults. Lower numbers are served first.
const (
	DefaultPriority = 9
	ArchivePriority = 1
)

// Recognized keys of the Permanent mapping.
const (
	PermanentHeaders = "headers"
	PermanentCookies = "cookies"
)

// HTTPParams holds the raw HTTP parameters of a request. URL may be
// relative; it is resolved against the parent context before fetching.
// The body is either Form (url-encoded pairs), JSON (marshaled object),
// or Body (raw bytes); at most one should be set.
type HTTPParams struct {
	Method  string
	URL     string
	Query   map[string]string
	Headers map[string]string
	Cookies map[string]string
	Form    map[string]string
	JSON    any
	Body    []byte
}

// SpeculationID identifies which speculator produced a request and for
// which integer ID.
type SpeculationID struct {
	Speculator string
	ID         int
}

// Request is one planned HTTP interaction. Requests are treated as
// immutable after construction: the driver resolves a fresh copy for every
// enqueue, and payload mappings are deep-copied so sibling requests never
// share mutable substructure.
//
// The closed set of request modes is discriminated by two booleans:
//
//	navigating     NonNavigating=false, Archive=false
//	non-navigating NonNavigating=true,  Archive=false
//	archive        Archive=true
//
// A navigating request's response becomes the CurrentLocation of its
// descendants; the other two modes preserve the parent's location.
type Request struct {
	HTTP         HTTPParams
	Continuation string

	// CurrentLocation is the absolute URL used as base for relative-URL
	// resolution in this request's descendants.
	CurrentLocation string
	// PreviousRequests is the ancestor chain, oldest first. Never modified
	// after construction.
	PreviousRequests []*Request

	// AccumulatedData flows into final results; AuxData is navigation-only
	// (session tokens, hidden form values) and never reaches results.
	AccumulatedData map[string]any
	AuxData         map[string]any
	// Permanent carries "headers" and "cookies" sub-mappings merged into
	// every descendant's HTTP parameters.
	Permanent map[string]map[string]string

	// Priority orders the queue; zero means "unset" and inherits the
	// yielding step's priority (or the mode default).
	Priority      int
	NonNavigating bool
	Archive       bool
	// ExpectedType hints file naming for archive requests ("pdf", "audio").
	ExpectedType string

	Speculation *SpeculationID

	// DedupKey is the deduplication key. Empty means "compute from URL,
	// sorted query and canonical body". SkipDedup bypasses the check.
	DedupKey  string
	SkipDedup bool
}

// IsSpeculative reports whether this request was emitted by the
// speculation engine.
func (r *Request) IsSpeculative() bool { return r.Speculation != nil }

// Parent returns the immediate ancestor, or nil for a seed request.
func (r *Request) Parent() *Request {
	if len(r.PreviousRequests) == 0 {
		return nil
	}
	return r.PreviousRequests[len(r.PreviousRequests)-1]
}

// Clone returns a copy with independently deep-copied payload mappings.
// The ancestry slice is copied but its elements are shared: ancestors are
// immutable.
func (r *Request) Clone() *Request {
	c := *r
	c.HTTP.Query = copyStringMap(r.HTTP.Query)
	c.HTTP.Headers = copyStringMap(r.HTTP.Headers)
	c.HTTP.Cookies = copyStringMap(r.HTTP.Cookies)
	c.HTTP.Form = copyStringMap(r.HTTP.Form)
	if r.HTTP.Body != nil {
		c.HTTP.Body = append([]byte(nil), r.HTTP.Body...)
	}
	c.AccumulatedData = deepCopyMap(r.AccumulatedData)
	c.AuxData = deepCopyMap(r.AuxData)
	c.Permanent = copyPermanent(r.Permanent)
	if r.PreviousRequests != nil {
		c.PreviousRequests = append([]*Request(nil), r.PreviousRequests...)
	}
	if r.Speculation != nil {
		id := *r.Speculation
		c.Speculation = &id
	}
	return &c
}

// WithSpeculation returns a speculative copy of this request attributed to
// the named speculator and integer ID.
func (r *Request) WithSpeculation(speculator string, id int) *Request {
	c := r.Clone()
	c.Speculation = &SpeculationID{Speculator: speculator, ID: id}
	return c
}

// Normalize prepares a request for the queue: payload mappings are
// deep-copied, permanent headers/cookies are merged into the HTTP
// parameters, and a deduplication key is computed if absent. The driver
// calls this on every seed; ResolveFrom applies the same steps to every
// child.
func (r *Request) Normalize() *Request {
	c := r.Clone()
	c.mergePermanentIntoHTTP()
	if c.DedupKey == "" && !c.SkipDedup {
		c.DedupKey = c.computeDedupKey()
	}
	return c
}

// mergePermanentIntoHTTP applies the permanent headers and cookies to the
// HTTP parameters. Explicit per-request values win over permanent ones.
func (r *Request) mergePermanentIntoHTTP() {
	if headers := r.Permanent[PermanentHeaders]; len(headers) > 0 {
		merged := copyStringMap(headers)
		if err := mergo.Merge(&merged, r.HTTP.Headers, mergo.WithOverride); err == nil {
			r.HTTP.Headers = merged
		}
	}
	if cookies := r.Permanent[PermanentCookies]; len(cookies) > 0 {
		merged := copyStringMap(cookies)
		if err := mergo.Merge(&merged, r.HTTP.Cookies, mergo.WithOverride); err == nil {
			r.HTTP.Cookies = merged
		}
	}
}

// mergedPermanent combines a parent's permanent mapping with this
// request's own, child keys overriding parent keys.
func (r *Request) mergedPermanent(parent *Request) map[string]map[string]string {
	if parent == nil || len(parent.Permanent) == 0 {
		return copyPermanent(r.Permanent)
	}
	merged := copyPermanent(parent.Permanent)
	if err := mergo.Merge(&merged, copyPermanent(r.Permanent), mergo.WithOverride); err != nil {
		return copyPermanent(r.Permanent)
	}
	return merged
}

// computeDedupKey hashes the URL, the query sorted by key, and a canonical
// rendering of the body: sorted key=value pairs for forms, sorted-key JSON
// for JSON bodies, raw bytes otherwise.
func (r *Request) computeDedupKey() string {
	var b strings.Builder
	b.WriteString(r.HTTP.URL)
	if len(r.HTTP.Query) > 0 {
		b.WriteString("?")
		b.WriteString(sortedPairs(r.HTTP.Query))
	}
	b.WriteString("|")
	switch {
	case len(r.HTTP.Form) > 0:
		b.WriteString(sortedPairs(r.HTTP.Form))
	case r.HTTP.JSON != nil:
		// encoding/json renders map keys in sorted order, which keeps the
		// digest deterministic across runs.
		if j, err := json.Marshal(r.HTTP.JSON); err == nil {
			b.Write(j)
		} else {
			fmt.Fprintf(&b, "%v", r.HTTP.JSON)
		}
	case len(r.HTTP.Body) > 0:
		b.Write(r.HTTP.Body)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func sortedPairs(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(m))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}
	return strings.Join(pairs, "&")
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func copyPermanent(m map[string]map[string]string) map[string]map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]map[string]string, len(m))
	for k, v := range m {
		c[k] = copyStringMap(v)
	}
	return c
}

// deepCopyMap copies a user payload mapping, recursing into nested maps
// and slices so no mutable substructure is shared.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = deepCopyValue(v)
	}
	return c
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case map[string]string:
		return copyStringMap(t)
	case []any:
		c := make([]any, len(t))
		for i, e := range t {
			c[i] = deepCopyValue(e)
		}
		return c
	case []string:
		return append([]string(nil), t...)
	case []byte:
		return append([]byte(nil), t...)
	default:
		return v
	}
}
