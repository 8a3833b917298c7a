package fetch

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Brennan-Chesley-FLP/kent/scrape"
)

// RetryManager layers exponential backoff over another manager. Transient
// failures are retried with delays of baseDelay*2^n, each capped at a
// quarter of the cumulative budget; once the budget is crossed the last
// transient error surfaces unrecovered.
type RetryManager struct {
	inner      Manager
	baseDelay  time.Duration
	maxBackoff time.Duration
	jitter     float64
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

type RetryOption func(m *RetryManager)

func WithBaseDelay(d time.Duration) RetryOption {
	return func(m *RetryManager) {
		m.baseDelay = d
	}
}

func WithMaxBackoff(d time.Duration) RetryOption {
	return func(m *RetryManager) {
		m.maxBackoff = d
	}
}

// WithJitter spreads each delay by up to fraction of itself, so a fleet of
// retrying workers does not hammer a recovering server in lockstep.
func WithJitter(fraction float64) RetryOption {
	return func(m *RetryManager) {
		m.jitter = fraction
	}
}

func WithRetryLogger(logger *zap.Logger) RetryOption {
	return func(m *RetryManager) {
		m.logger = logger
	}
}

func NewRetryManager(inner Manager, opts ...RetryOption) *RetryManager {
	m := &RetryManager{
		inner:      inner,
		baseDelay:  time.Second,
		maxBackoff: time.Hour,
		logger:     zap.NewNop(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *RetryManager) Close() error { return m.inner.Close() }

func (m *RetryManager) Resolve(ctx context.Context, req *scrape.Request) (*scrape.Response, error) {
	var cumulative time.Duration
	for attempt := 0; ; attempt++ {
		resp, err := m.inner.Resolve(ctx, req)
		if err == nil || !scrape.IsTransient(err) {
			return resp, err
		}

		ceiling := m.maxBackoff / 4
		delay := ceiling
		// Shifting past 30 doubles would overflow long before any sane
		// budget allows that many attempts.
		if attempt <= 30 {
			if d := m.baseDelay << uint(attempt); d < ceiling {
				delay = d
			}
		}
		if m.jitter > 0 {
			delay += time.Duration(rand.Float64() * m.jitter * float64(delay))
		}

		cumulative += delay
		if cumulative >= m.maxBackoff {
			m.logger.Warn("retry budget exhausted",
				zap.String("url", req.HTTP.URL),
				zap.Int("attempts", attempt+1),
				zap.Duration("cumulative", cumulative))
			return nil, err
		}

		m.logger.Info("retrying transient failure",
			zap.String("url", req.HTTP.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		if err := m.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
