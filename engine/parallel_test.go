package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
	"github.com/Brennan-Chesley-FLP/kent/scraper"
)

func Test_ParallelCollectsEverything(t *testing.T) {
	const pages = 40
	fm := &fakeManager{}

	var seeds []*scrape.Request
	for i := 0; i < pages; i++ {
		seeds = append(seeds, &scrape.Request{
			HTTP:         scrape.HTTPParams{URL: fmt.Sprintf("http://example.com/case/%d", i)},
			Continuation: "parse",
		})
	}
	sc := singleEntry("bcc", map[string]*scraper.Step{
		"parse": {Name: "parse", Fn: func(ctx *scraper.Context, yield func(any) error) error {
			return yield(scrape.ParsedData{Data: ctx.Response().FinalURL})
		}},
	}, seeds...)

	var mu sync.Mutex
	var got []string
	d := New(sc,
		WithFetcher(fm),
		WithWorkCount(4),
		WithOnData(func(v any) {
			mu.Lock()
			got = append(got, v.(string))
			mu.Unlock()
		}))
	require.NoError(t, d.Run(context.Background()))

	sort.Strings(got)
	assert.Len(t, got, pages)
	uniq := map[string]bool{}
	for _, u := range got {
		uniq[u] = true
	}
	assert.Len(t, uniq, pages)
}

func Test_ParallelFollowsChains(t *testing.T) {
	// Each list page yields a detail request; workers must not stop while
	// siblings are still producing work.
	fm := &fakeManager{}
	var seeds []*scrape.Request
	for i := 0; i < 10; i++ {
		seeds = append(seeds, &scrape.Request{
			HTTP:         scrape.HTTPParams{URL: fmt.Sprintf("http://example.com/list/%d", i)},
			Continuation: "list",
		})
	}
	sc := singleEntry("bcc", map[string]*scraper.Step{
		"list": {Name: "list", Fn: func(ctx *scraper.Context, yield func(any) error) error {
			return yield(&scrape.Request{
				HTTP:         scrape.HTTPParams{URL: ctx.Response().FinalURL + "/detail"},
				Continuation: "detail",
			})
		}},
		"detail": {Name: "detail", Fn: func(ctx *scraper.Context, yield func(any) error) error {
			return yield(scrape.ParsedData{Data: ctx.Response().FinalURL})
		}},
	}, seeds...)

	var mu sync.Mutex
	count := 0
	d := New(sc, WithFetcher(fm), WithWorkCount(3),
		WithOnData(func(any) {
			mu.Lock()
			count++
			mu.Unlock()
		}))
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 10, count)
	assert.Len(t, fm.urls(), 20)
}

func Test_ParallelLifecycleHooksFireOnce(t *testing.T) {
	sc := singleEntry("bcc", map[string]*scraper.Step{
		"noop": {Name: "noop", Fn: func(ctx *scraper.Context, yield func(any) error) error { return nil }},
	},
		&scrape.Request{HTTP: scrape.HTTPParams{URL: "http://example.com/a"}, Continuation: "noop"},
		&scrape.Request{HTTP: scrape.HTTPParams{URL: "http://example.com/b"}, Continuation: "noop"},
	)

	var starts, completes int
	d := New(sc, WithFetcher(&fakeManager{}), WithWorkCount(4),
		WithOnRunStart(func(string) { starts++ }),
		WithOnRunComplete(func(string, string, error) { completes++ }))
	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, completes)
}

func Test_ParallelCancellationStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	fm := &fakeManager{handler: func(r *scrape.Request) (*scrape.Response, error) {
		<-release
		return ok200(r, ""), nil
	}}

	var seeds []*scrape.Request
	for i := 0; i < 30; i++ {
		seeds = append(seeds, &scrape.Request{
			HTTP:         scrape.HTTPParams{URL: fmt.Sprintf("http://example.com/%d", i)},
			Continuation: "noop",
		})
	}
	sc := singleEntry("bcc", map[string]*scraper.Step{
		"noop": {Name: "noop", Fn: func(ctx *scraper.Context, yield func(any) error) error { return nil }},
	}, seeds...)

	var completed bool
	d := New(sc, WithFetcher(fm), WithWorkCount(2),
		WithOnRunComplete(func(string, string, error) { completed = true }))

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Let the workers pick up their current requests, then cancel and
	// unblock them: each finishes its in-flight request and exits.
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("parallel driver did not stop after cancellation")
	}
	assert.True(t, completed)
	// Far fewer than all 30 requests were fetched.
	assert.Less(t, len(fm.urls()), 30)
}

func Test_ParallelFatalErrorStopsRun(t *testing.T) {
	fm := &fakeManager{}
	var seeds []*scrape.Request
	for i := 0; i < 20; i++ {
		seeds = append(seeds, &scrape.Request{
			HTTP:         scrape.HTTPParams{URL: fmt.Sprintf("http://example.com/%d", i)},
			Continuation: "maybe",
		})
	}
	sc := singleEntry("bcc", map[string]*scraper.Step{
		"maybe": {Name: "maybe", Fn: func(ctx *scraper.Context, yield func(any) error) error {
			if ctx.Response().FinalURL == "http://example.com/5" {
				return fmt.Errorf("worker exploded")
			}
			return nil
		}},
	}, seeds...)

	var status string
	d := New(sc, WithFetcher(fm), WithWorkCount(4),
		WithOnRunComplete(func(_, s string, err error) { status = s }))
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusError, status)
}
