package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_CloneCopiesPayloads(t *testing.T) {
	shared := map[string]any{
		"case_name": "Ant v. Bee",
		"nested":    map[string]any{"token": "abc"},
		"list":      []any{"a", "b"},
	}
	req := &Request{
		HTTP:            HTTPParams{Method: "GET", URL: "/detail/1"},
		Continuation:    "parse_detail",
		AccumulatedData: shared,
	}
	clone := req.Clone()

	shared["case_name"] = "mutated"
	shared["nested"].(map[string]any)["token"] = "mutated"
	shared["list"].([]any)[0] = "mutated"

	assert.Equal(t, "Ant v. Bee", clone.AccumulatedData["case_name"])
	assert.Equal(t, "abc", clone.AccumulatedData["nested"].(map[string]any)["token"])
	assert.Equal(t, "a", clone.AccumulatedData["list"].([]any)[0])
}

func Test_SiblingsDoNotShareData(t *testing.T) {
	shared := map[string]any{"docket": "A10"}
	first := (&Request{
		HTTP:            HTTPParams{URL: "http://example.com/1"},
		AccumulatedData: shared,
	}).Normalize()
	second := (&Request{
		HTTP:            HTTPParams{URL: "http://example.com/2"},
		AccumulatedData: shared,
	}).Normalize()

	first.AccumulatedData["docket"] = "B20"

	assert.Equal(t, "A10", second.AccumulatedData["docket"])
	assert.Equal(t, "A10", shared["docket"])
}

func Test_DedupKeyDeterministic(t *testing.T) {
	a := (&Request{HTTP: HTTPParams{
		URL:   "http://example.com/cases",
		Query: map[string]string{"b": "2", "a": "1"},
		Form:  map[string]string{"y": "2", "x": "1"},
	}}).Normalize()
	b := (&Request{HTTP: HTTPParams{
		URL:   "http://example.com/cases",
		Query: map[string]string{"a": "1", "b": "2"},
		Form:  map[string]string{"x": "1", "y": "2"},
	}}).Normalize()

	require.NotEmpty(t, a.DedupKey)
	assert.Equal(t, a.DedupKey, b.DedupKey)

	c := (&Request{HTTP: HTTPParams{
		URL:   "http://example.com/cases",
		Query: map[string]string{"a": "1", "b": "3"},
	}}).Normalize()
	assert.NotEqual(t, a.DedupKey, c.DedupKey)
}

func Test_DedupKeyExplicitAndSkip(t *testing.T) {
	explicit := (&Request{
		HTTP:     HTTPParams{URL: "http://example.com"},
		DedupKey: "my-key",
	}).Normalize()
	assert.Equal(t, "my-key", explicit.DedupKey)

	skipped := (&Request{
		HTTP:      HTTPParams{URL: "http://example.com"},
		SkipDedup: true,
	}).Normalize()
	assert.Empty(t, skipped.DedupKey)
	assert.True(t, skipped.SkipDedup)
}

func Test_PermanentMergedIntoHTTP(t *testing.T) {
	req := (&Request{
		HTTP: HTTPParams{
			URL:     "http://example.com",
			Headers: map[string]string{"X-Own": "yes", "Authorization": "explicit"},
		},
		Permanent: map[string]map[string]string{
			PermanentHeaders: {"Authorization": "Bearer tok", "X-Perm": "1"},
			PermanentCookies: {"session": "s1"},
		},
	}).Normalize()

	// Explicit header wins over the permanent one.
	assert.Equal(t, "explicit", req.HTTP.Headers["Authorization"])
	assert.Equal(t, "1", req.HTTP.Headers["X-Perm"])
	assert.Equal(t, "yes", req.HTTP.Headers["X-Own"])
	assert.Equal(t, "s1", req.HTTP.Cookies["session"])
}

func Test_PermanentMergeAssociative(t *testing.T) {
	parent := &Request{Permanent: map[string]map[string]string{
		PermanentHeaders: {"A": "parent", "B": "parent"},
	}}
	child := &Request{Permanent: map[string]map[string]string{
		PermanentHeaders: {"B": "child", "C": "child"},
	}}
	grandchild := &Request{Permanent: map[string]map[string]string{
		PermanentHeaders: {"C": "grandchild"},
	}}

	viaChild := &Request{Permanent: child.mergedPermanent(parent)}
	stepwise := grandchild.mergedPermanent(viaChild)

	assert.Equal(t, map[string]string{
		"A": "parent",
		"B": "child",
		"C": "grandchild",
	}, stepwise[PermanentHeaders])
}

func Test_WithSpeculation(t *testing.T) {
	req := &Request{HTTP: HTTPParams{URL: "http://example.com/case/7"}}
	spec := req.WithSpeculation("fetch_case", 7)

	assert.False(t, req.IsSpeculative())
	require.True(t, spec.IsSpeculative())
	assert.Equal(t, "fetch_case", spec.Speculation.Speculator)
	assert.Equal(t, 7, spec.Speculation.ID)
}
