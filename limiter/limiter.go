package limiter

import (
	"context"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is the waiting interface the fetch manager consumes.
type RateLimiter interface {
	Wait(context.Context) error
	Limit() rate.Limit
}

// Per spreads eventCount events evenly across duration.
func Per(eventCount int, duration time.Duration) rate.Limit {
	return rate.Every(duration / time.Duration(eventCount))
}

// PerMsec builds a limiter enforcing a minimum gap of msec milliseconds
// between requests, the shape scraper metadata declares rate limits in.
func PerMsec(msec int) RateLimiter {
	return rate.NewLimiter(rate.Every(time.Duration(msec)*time.Millisecond), 1)
}

// Multi combines limiters; a caller must satisfy all of them. Limiters are
// sorted strictest first so the longest wait is paid up front.
func Multi(limiters ...RateLimiter) *MultiLimiter {
	byLimit := func(i, j int) bool {
		return limiters[i].Limit() < limiters[j].Limit()
	}
	sort.Slice(limiters, byLimit)

	return &MultiLimiter{limiters: limiters}
}

type MultiLimiter struct {
	limiters []RateLimiter
}

func (l *MultiLimiter) Wait(ctx context.Context) error {
	for _, l := range l.limiters {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (l *MultiLimiter) Limit() rate.Limit {
	return l.limiters[0].Limit()
}
