package scraper

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

var filterModel = &scrape.Model{
	Name: "CaseFilter",
	Fields: []scrape.ModelField{
		{Name: "court", Kind: scrape.KindString, Required: true},
	},
}

func buildScraper() *Scraper {
	return &Scraper{
		Name:      "bcc",
		SourceURL: "http://example.com",
		Status:    StatusActive,
		Steps: map[string]*Step{
			"parse_list": {Name: "parse_list", Fn: func(ctx *Context, yield func(any) error) error { return nil }},
			"parse_case": {Name: "parse_case", Priority: 5, Encoding: "iso-8859-1",
				Fn: func(ctx *Context, yield func(any) error) error { return nil }},
		},
		Entries: map[string]*Entry{
			"recent": {
				Returns: "case",
				Fn: func(args Args, yield func(*scrape.Request) error) error {
					return yield(&scrape.Request{
						HTTP:         scrape.HTTPParams{URL: "http://example.com/recent"},
						Continuation: "parse_list",
					})
				},
			},
			"search_by_number": {
				Returns: "case",
				Params: map[string]Param{
					"docket_number": {Kind: ParamString},
					"year":          {Kind: ParamInt},
					"filed_after":   {Kind: ParamDate},
				},
				Fn: func(args Args, yield func(*scrape.Request) error) error {
					return yield(&scrape.Request{
						HTTP: scrape.HTTPParams{
							URL:   "http://example.com/search",
							Query: map[string]string{"q": args.String("docket_number")},
						},
						Continuation: "parse_list",
					})
				},
			},
			"search_filtered": {
				Returns: "case",
				Params: map[string]Param{
					"filter": {Kind: ParamModel, Model: filterModel},
				},
				Fn: func(args Args, yield func(*scrape.Request) error) error { return nil },
			},
			"fetch_case": {
				Returns:     "case",
				Speculation: &Speculation{HighestObserved: 120, LargestObservedGap: 15, ObservationDate: "2025-06-01"},
				Speculator: func(id int) *scrape.Request {
					return &scrape.Request{
						HTTP:         scrape.HTTPParams{URL: fmt.Sprintf("http://example.com/case/%d", id)},
						Continuation: "parse_case",
					}
				},
			},
		},
	}
}

func Test_InitialSeed(t *testing.T) {
	sc := buildScraper()
	reqs, err := sc.InitialSeed([]Invocation{
		{"search_by_number": {"docket_number": "A10", "year": "2024", "filed_after": "2024-01-15"}},
	})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "A10", reqs[0].HTTP.Query["q"])
}

func Test_InitialSeedCoercion(t *testing.T) {
	sc := buildScraper()
	var seen Args
	sc.Entries["search_by_number"].Fn = func(args Args, yield func(*scrape.Request) error) error {
		seen = args
		return nil
	}
	_, err := sc.InitialSeed([]Invocation{
		{"search_by_number": {"docket_number": "A10", "year": float64(2024), "filed_after": "2024-01-15"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2024, seen.Int("year"))
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), seen["filed_after"])
}

func Test_InitialSeedErrors(t *testing.T) {
	sc := buildScraper()

	_, err := sc.InitialSeed(nil)
	assert.Error(t, err)

	_, err = sc.InitialSeed([]Invocation{{"nope": {}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entry")

	_, err = sc.InitialSeed([]Invocation{{"search_by_number": {"docket_number": "A10"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing parameter")

	_, err = sc.InitialSeed([]Invocation{{"search_by_number": {
		"docket_number": "A10", "year": 2024, "filed_after": "2024-01-15", "bogus": 1,
	}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown parameter")

	// Speculative entries are driver-seeded, not invocable.
	_, err = sc.InitialSeed([]Invocation{{"fetch_case": {}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speculative")
}

func Test_InitialSeedModelParam(t *testing.T) {
	sc := buildScraper()
	var seen Args
	sc.Entries["search_filtered"].Fn = func(args Args, yield func(*scrape.Request) error) error {
		seen = args
		return nil
	}

	_, err := sc.InitialSeed([]Invocation{
		{"search_filtered": {"filter": map[string]any{"court": "appellate"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "appellate", seen["filter"].(map[string]any)["court"])

	_, err = sc.InitialSeed([]Invocation{
		{"search_filtered": {"filter": map[string]any{}}},
	})
	require.Error(t, err)
}

func Test_DefaultInvocations(t *testing.T) {
	sc := buildScraper()
	invocations := sc.DefaultInvocations()
	// Only "recent" is parameterless and non-speculative.
	require.Len(t, invocations, 1)
	_, ok := invocations[0]["recent"]
	assert.True(t, ok)
}

func Test_Introspection(t *testing.T) {
	sc := buildScraper()

	steps := sc.ListSteps()
	require.Len(t, steps, 2)
	assert.Equal(t, "parse_case", steps[0].Name)
	assert.Equal(t, 5, steps[0].Priority)
	assert.Equal(t, "iso-8859-1", steps[0].Encoding)
	assert.Equal(t, "parse_list", steps[1].Name)
	assert.Equal(t, scrape.DefaultPriority, steps[1].Priority)

	entries := sc.ListEntries()
	require.Len(t, entries, 4)
	byName := map[string]EntryInfo{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.True(t, byName["fetch_case"].Speculative)
	assert.Equal(t, 120, byName["fetch_case"].HighestObserved)
	assert.Equal(t, "CaseFilter", byName["search_filtered"].ParamTypes["filter"])
	assert.Equal(t, "integer", byName["search_by_number"].ParamTypes["year"])

	speculators := sc.ListSpeculators()
	require.Len(t, speculators, 1)
	assert.Equal(t, "fetch_case", speculators[0].Name)
	assert.Equal(t, 15, speculators[0].LargestObservedGap)
	assert.Equal(t, "2025-06-01", speculators[0].ObservationDate)
}

func Test_Continuation(t *testing.T) {
	sc := buildScraper()
	step, err := sc.Continuation("parse_case")
	require.NoError(t, err)
	assert.Equal(t, 5, step.EffectivePriority())

	_, err = sc.Continuation("missing")
	require.Error(t, err)
	assert.True(t, scrape.IsAssumption(err))
}

func Test_Schema(t *testing.T) {
	sc := buildScraper()
	schema := sc.Schema()

	assert.Equal(t, "bcc", schema["scraper"])
	entries := schema["entries"].(map[string]any)
	require.Contains(t, entries, "search_by_number")

	search := entries["search_by_number"].(map[string]any)
	assert.Equal(t, false, search["speculative"])
	params := search["parameters"].(map[string]any)
	props := params["properties"].(map[string]any)
	assert.Equal(t, map[string]any{"type": "integer"}, props["year"])
	assert.Equal(t, map[string]any{"type": "string", "format": "date"}, props["filed_after"])

	fetch := entries["fetch_case"].(map[string]any)
	assert.Equal(t, true, fetch["speculative"])
	assert.Equal(t, 120, fetch["highest_observed"])

	defs := schema["$defs"].(map[string]any)
	require.Contains(t, defs, "CaseFilter")
}

func Test_Validate(t *testing.T) {
	sc := buildScraper()
	require.NoError(t, sc.Validate())

	bad := &Scraper{Name: "x", Steps: map[string]*Step{"s": {Name: "s"}}}
	assert.Error(t, bad.Validate())

	noSpeculator := &Scraper{Name: "x", Entries: map[string]*Entry{
		"spec": {Speculation: &Speculation{}},
	}}
	assert.Error(t, noSpeculator.Validate())

	assert.Error(t, (&Scraper{}).Validate())
}

func Test_SoftFailureDefault(t *testing.T) {
	sc := buildScraper()
	assert.False(t, sc.SoftFailure(&scrape.Response{StatusCode: 200}))
	sc.FailsSuccessfully = func(resp *scrape.Response) bool { return true }
	assert.True(t, sc.SoftFailure(&scrape.Response{StatusCode: 200}))
}
