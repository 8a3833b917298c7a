package sqlstorage

import (
	"go.uber.org/zap"

	"github.com/Brennan-Chesley-FLP/kent/sqldb"
)

type Option func(opts *options)

type options struct {
	logger     *zap.Logger
	sqlURL     string
	batchCount int
	dber       sqldb.DBer
}

var defaultOptions = options{
	logger:     zap.NewNop(),
	batchCount: 16,
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithSQLURL(sqlURL string) Option {
	return func(opts *options) {
		opts.sqlURL = sqlURL
	}
}

func WithBatchCount(batchCount int) Option {
	return func(opts *options) {
		opts.batchCount = batchCount
	}
}

// WithDB injects an existing database handle instead of dialing.
func WithDB(db sqldb.DBer) Option {
	return func(opts *options) {
		opts.dber = db
	}
}
