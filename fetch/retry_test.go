package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// flakyManager fails transiently a fixed number of times, then succeeds.
type flakyManager struct {
	failures int
	calls    int
}

func (f *flakyManager) Resolve(ctx context.Context, req *scrape.Request) (*scrape.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, &scrape.ResponseError{StatusCode: 503, ExpectedCodes: []int{200}, URL: req.HTTP.URL}
	}
	return &scrape.Response{StatusCode: 200, FinalURL: req.HTTP.URL, Request: req}, nil
}

func (f *flakyManager) Close() error { return nil }

func newFakeClockManager(inner Manager, opts ...RetryOption) (*RetryManager, *[]time.Duration) {
	slept := &[]time.Duration{}
	m := NewRetryManager(inner, opts...)
	m.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return m, slept
}

func Test_RetrySucceedsWithinBudget(t *testing.T) {
	inner := &flakyManager{failures: 3}
	m, slept := newFakeClockManager(inner,
		WithBaseDelay(100*time.Millisecond),
		WithMaxBackoff(10*time.Second))

	resp, err := m.Resolve(context.Background(), &scrape.Request{HTTP: scrape.HTTPParams{URL: "http://example.com"}})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	// 503, 503, 503, 200: four attempts, three sleeps doubling each time.
	assert.Equal(t, 4, inner.calls)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, *slept)
}

func Test_RetryBudgetExhausted(t *testing.T) {
	inner := &flakyManager{failures: 100}
	m, _ := newFakeClockManager(inner,
		WithBaseDelay(100*time.Millisecond),
		WithMaxBackoff(500*time.Millisecond))

	_, err := m.Resolve(context.Background(), &scrape.Request{HTTP: scrape.HTTPParams{URL: "http://example.com"}})
	require.Error(t, err)
	assert.True(t, scrape.IsTransient(err))
	// Per-sleep cap is max/4 = 125ms; budget of 500ms admits at most a few
	// attempts before surfacing the failure.
	assert.LessOrEqual(t, inner.calls, 5)
}

func Test_RetryDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &failOnceStructural{}
	m, slept := newFakeClockManager(inner)

	_, err := m.Resolve(context.Background(), &scrape.Request{HTTP: scrape.HTTPParams{URL: "http://example.com"}})
	require.Error(t, err)
	assert.Empty(t, *slept)
	assert.Equal(t, 1, inner.calls)
}

type failOnceStructural struct{ calls int }

func (f *failOnceStructural) Resolve(ctx context.Context, req *scrape.Request) (*scrape.Response, error) {
	f.calls++
	return nil, scrape.NewAssumptionError("broken assumption", req.HTTP.URL, nil)
}

func (f *failOnceStructural) Close() error { return nil }
