package sqldb

import "go.uber.org/zap"

type Option func(opts *options)

type options struct {
	logger       *zap.Logger
	connURL      string
	maxOpenConns int
	maxIdleConns int
}

var defaultOptions = options{
	logger:       zap.NewNop(),
	maxOpenConns: 128,
	maxIdleConns: 16,
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithConnURL(connURL string) Option {
	return func(opts *options) {
		opts.connURL = connURL
	}
}

func WithMaxConns(open, idle int) Option {
	return func(opts *options) {
		opts.maxOpenConns = open
		opts.maxIdleConns = idle
	}
}
