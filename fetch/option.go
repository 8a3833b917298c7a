package fetch

import (
	"crypto/tls"
	"time"

	"go.uber.org/zap"

	"github.com/Brennan-Chesley-FLP/kent/limiter"
	"github.com/Brennan-Chesley-FLP/kent/proxy"
)

type Option func(opts *options)

type options struct {
	timeout   time.Duration
	userAgent string
	proxy     proxy.Func
	limit     limiter.RateLimiter
	tlsConfig *tls.Config
	logger    *zap.Logger
}

var defaultOptions = options{
	timeout: 30 * time.Second,
	logger:  zap.NewNop(),
}

func WithTimeout(timeout time.Duration) Option {
	return func(opts *options) {
		opts.timeout = timeout
	}
}

func WithUserAgent(ua string) Option {
	return func(opts *options) {
		opts.userAgent = ua
	}
}

func WithProxy(p proxy.Func) Option {
	return func(opts *options) {
		opts.proxy = p
	}
}

func WithLimiter(l limiter.RateLimiter) Option {
	return func(opts *options) {
		opts.limit = l
	}
}

func WithTLSConfig(c *tls.Config) Option {
	return func(opts *options) {
		opts.tlsConfig = c
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}
