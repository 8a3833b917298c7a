package scrape

import (
	"fmt"
	"net/url"
	"strings"
)

// ResolutionContext is what a new request resolves against: the Response
// of a navigating fetch, or a prior Request.
type ResolutionContext interface {
	resolution() (base string, parent *Request)
}

func (r *Response) resolution() (string, *Request) { return r.FinalURL, r.Request }

func (r *ArchiveResponse) resolution() (string, *Request) { return r.FinalURL, r.Request }

func (r *Request) resolution() (string, *Request) { return r.CurrentLocation, r }

// ResolveURL normalizes the request URL's escaping and joins it against
// base per RFC 3986. Percent-escapes in path and query are decoded and
// re-encoded so a URL that traverses multiple resolutions is never
// double-encoded.
func (r *Request) ResolveURL(base string) (string, error) {
	rebuilt, err := reencodeURL(r.HTTP.URL)
	if err != nil {
		return "", err
	}
	if base == "" {
		return rebuilt, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	ref, err := url.Parse(rebuilt)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rebuilt, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// ResolveFrom produces the enqueueable copy of this request: URL resolved
// against the context, ancestry extended with the context's request,
// permanent data merged parent-first, payload mappings deep-copied, and a
// deduplication key computed if absent.
//
// Navigating requests adopt the context's base URL as their new
// CurrentLocation; non-navigating and archive requests preserve the
// context request's CurrentLocation.
func (r *Request) ResolveFrom(ctx ResolutionContext) (*Request, error) {
	base, parent := ctx.resolution()
	resolved, err := r.ResolveURL(base)
	if err != nil {
		return nil, err
	}

	child := r.Clone()
	child.HTTP.URL = resolved
	if r.NonNavigating || r.Archive {
		if parent != nil {
			child.CurrentLocation = parent.CurrentLocation
		}
	} else {
		child.CurrentLocation = base
	}
	if parent != nil {
		ancestry := make([]*Request, 0, len(parent.PreviousRequests)+1)
		ancestry = append(ancestry, parent.PreviousRequests...)
		ancestry = append(ancestry, parent)
		child.PreviousRequests = ancestry
		child.Permanent = r.mergedPermanent(parent)
	}

	child.mergePermanentIntoHTTP()
	if child.DedupKey == "" && !child.SkipDedup {
		child.DedupKey = child.computeDedupKey()
	}
	return child, nil
}

// reencodeURL splits a URL, decodes percent-escapes in path and query, and
// re-encodes them (path with "/" safe, query with "=&" safe). Idempotent:
// applying it twice yields the same string.
func reencodeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}

	encodedPath := escapeWith(u.Path, "/")
	encodedQuery := escapeWith(unescape(u.RawQuery), "=&")

	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString(":")
	}
	if u.Host != "" || u.User != nil {
		b.WriteString("//")
		if u.User != nil {
			b.WriteString(u.User.String())
			b.WriteString("@")
		}
		b.WriteString(u.Host)
	}
	b.WriteString(encodedPath)
	if encodedQuery != "" {
		b.WriteString("?")
		b.WriteString(encodedQuery)
	}
	if u.Fragment != "" {
		b.WriteString("#")
		b.WriteString(u.Fragment)
	}
	return b.String(), nil
}

// unescape decodes %XX sequences, leaving the string untouched when it
// contains an invalid escape.
func unescape(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// escapeWith percent-encodes every byte except RFC 3986 unreserved
// characters and the bytes in safe.
func escapeWith(s, safe string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	}
	return false
}
