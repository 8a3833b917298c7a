package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
	"github.com/Brennan-Chesley-FLP/kent/scraper"
)

// speculativeScraper probes http://example.com/case/<id>.
func speculativeScraper(spec *scraper.Speculation) *scraper.Scraper {
	return &scraper.Scraper{
		Name: "bcc",
		Steps: map[string]*scraper.Step{
			"parse_case": {Name: "parse_case", Fn: func(ctx *scraper.Context, yield func(any) error) error {
				if !ctx.Response().OK() {
					return nil
				}
				return yield(scrape.ParsedData{Data: ctx.Response().FinalURL})
			}},
		},
		Entries: map[string]*scraper.Entry{
			"fetch_case": {
				Returns:     "case",
				Speculation: spec,
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

// okIDs builds a handler answering 2xx for the given IDs and 404 otherwise.
func okIDs(ids ...int) func(req *scrape.Request) (*scrape.Response, error) {
	ok := map[int]bool{}
	for _, id := range ids {
		ok[id] = true
	}
	return func(req *scrape.Request) (*scrape.Response, error) {
		parts := strings.Split(req.HTTP.URL, "/")
		id, _ := strconv.Atoi(parts[len(parts)-1])
		if ok[id] {
			return ok200(req, "found"), nil
		}
		resp := ok200(req, "not found")
		resp.StatusCode = 404
		return resp, nil
	}
}

func fetchedIDs(fm *fakeManager) []int {
	var ids []int
	for _, u := range fm.urls() {
		parts := strings.Split(u, "/")
		id, _ := strconv.Atoi(parts[len(parts)-1])
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func Test_SpeculationStopsAfterGap(t *testing.T) {
	// highest_observed=3, gap=2; server has IDs 1,2,3,5. After the range,
	// 4 fails (1), 5 succeeds (reset), 6 fails (1), 7 fails (2): stop.
	fm := &fakeManager{handler: okIDs(1, 2, 3, 5)}
	sc := speculativeScraper(&scraper.Speculation{HighestObserved: 3, LargestObservedGap: 2})

	var data []any
	d := New(sc, WithFetcher(fm), WithOnData(func(v any) { data = append(data, v) }))
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, fetchedIDs(fm))
	assert.Len(t, data, 4)
}

func Test_SpeculationDefiniteRangeUnconditional(t *testing.T) {
	// Every ID in the definite range is fetched even though all fail.
	fm := &fakeManager{handler: okIDs()}
	sc := speculativeScraper(&scraper.Speculation{HighestObserved: 4, LargestObservedGap: 2})

	d := New(sc, WithFetcher(fm))
	require.NoError(t, d.Run(context.Background()))

	ids := fetchedIDs(fm)
	assert.Contains(t, ids, 1)
	assert.Contains(t, ids, 4)
	// Beyond the range, at most `plus` consecutive failures are probed.
	assert.LessOrEqual(t, ids[len(ids)-1], 6)
}

func Test_SpeculationPlusZeroStopsAtFirstPostRangeFailure(t *testing.T) {
	fm := &fakeManager{handler: okIDs(1, 2, 3, 4, 5)}
	sc := speculativeScraper(&scraper.Speculation{HighestObserved: 3, LargestObservedGap: 10})

	zero := 0
	d := New(sc, WithFetcher(fm),
		WithSpeculateConfig("fetch_case", scraper.SpeculateConfig{Plus: &zero}))
	require.NoError(t, d.Run(context.Background()))

	// 1..3 definite; successes at 4 and 5 keep extending; 6 fails: stop.
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, fetchedIDs(fm))
}

func Test_SpeculationDefiniteRangeOverride(t *testing.T) {
	fm := &fakeManager{handler: okIDs()}
	sc := speculativeScraper(&scraper.Speculation{HighestObserved: 100, LargestObservedGap: 1})

	d := New(sc, WithFetcher(fm),
		WithSpeculateConfig("fetch_case", scraper.SpeculateConfig{DefiniteRange: &[2]int{10, 12}}))
	require.NoError(t, d.Run(context.Background()))

	ids := fetchedIDs(fm)
	assert.Equal(t, 10, ids[0])
	assert.NotContains(t, ids, 1)
	assert.LessOrEqual(t, ids[len(ids)-1], 13)
}

func Test_SpeculationSoftFailure(t *testing.T) {
	// The server answers 200 for everything but only IDs <= 2 have real
	// content; FailsSuccessfully flags the rest, stopping extension.
	fm := &fakeManager{handler: func(req *scrape.Request) (*scrape.Response, error) {
		parts := strings.Split(req.HTTP.URL, "/")
		id, _ := strconv.Atoi(parts[len(parts)-1])
		if id <= 2 {
			return ok200(req, "case detail"), nil
		}
		return ok200(req, "No results found"), nil
	}}
	sc := speculativeScraper(&scraper.Speculation{HighestObserved: 2, LargestObservedGap: 2})
	sc.FailsSuccessfully = func(resp *scrape.Response) bool {
		return strings.Contains(resp.Text, "No results found")
	}

	d := New(sc, WithFetcher(fm))
	require.NoError(t, d.Run(context.Background()))

	// 1,2 definite; 3 soft-fails (1), 4 soft-fails (2): stop.
	assert.Equal(t, []int{1, 2, 3, 4}, fetchedIDs(fm))
}

func Test_SpeculationDedupCountsAsFailure(t *testing.T) {
	// Every ID past the range aliases to the same URL; dedup must count
	// those as failures or extension would never terminate.
	fm := &fakeManager{handler: okIDs(1, 2, 3)}
	sc := speculativeScraper(&scraper.Speculation{HighestObserved: 3, LargestObservedGap: 3})
	sc.Entries["fetch_case"].Speculator = func(id int) *scrape.Request {
		u := fmt.Sprintf("http://example.com/case/%d", id)
		if id > 3 {
			u = "http://example.com/case/latest"
		}
		return &scrape.Request{
			HTTP:         scrape.HTTPParams{URL: u},
			Continuation: "parse_case",
		}
	}

	d := New(sc, WithFetcher(fm))
	require.NoError(t, d.Run(context.Background()))

	// IDs 1..3 fetched; 4 fetches the alias once (a 404); 5 and 6
	// deduplicate against it and count as failures, exhausting plus=3.
	urls := fm.urls()
	aliasFetches := 0
	for _, u := range urls {
		if u == "http://example.com/case/latest" {
			aliasFetches++
		}
	}
	assert.Equal(t, 1, aliasFetches)
	assert.Len(t, urls, 4)
}

func Test_SpeculationIndependentCounters(t *testing.T) {
	fm := &fakeManager{handler: func(req *scrape.Request) (*scrape.Response, error) {
		parts := strings.Split(req.HTTP.URL, "/")
		id, _ := strconv.Atoi(parts[len(parts)-1])
		if strings.Contains(req.HTTP.URL, "/opinion/") && id <= 6 {
			return ok200(req, "found"), nil
		}
		resp := ok200(req, "")
		resp.StatusCode = 404
		return resp, nil
	}}
	sc := speculativeScraper(&scraper.Speculation{HighestObserved: 2, LargestObservedGap: 1})
	sc.Entries["fetch_opinion"] = &scraper.Entry{
		Returns:     "opinion",
		Speculation: &scraper.Speculation{HighestObserved: 2, LargestObservedGap: 1},
		Speculator: func(id int) *scrape.Request {
			return &scrape.Request{
				HTTP:         scrape.HTTPParams{URL: fmt.Sprintf("http://example.com/opinion/%d", id)},
				Continuation: "parse_case",
			}
		},
	}

	d := New(sc, WithFetcher(fm))
	require.NoError(t, d.Run(context.Background()))

	var caseMax, opinionMax int
	for _, u := range fm.urls() {
		parts := strings.Split(u, "/")
		id, _ := strconv.Atoi(parts[len(parts)-1])
		if strings.Contains(u, "/opinion/") {
			if id > opinionMax {
				opinionMax = id
			}
		} else if id > caseMax {
			caseMax = id
		}
	}
	// The failing case speculator stops right after its range; the
	// succeeding opinion speculator keeps extending until its run of
	// successes ends at 6 (gap 1 tolerates exactly one failure).
	assert.Equal(t, 3, caseMax)
	assert.Equal(t, 7, opinionMax)
}
