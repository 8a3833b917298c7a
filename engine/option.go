package engine

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Brennan-Chesley-FLP/kent/fetch"
	"github.com/Brennan-Chesley-FLP/kent/scrape"
	"github.com/Brennan-Chesley-FLP/kent/scraper"
)

type Option func(opts *options)

type options struct {
	WorkCount  int
	StorageDir string
	Logger     *zap.Logger
	Fetcher    fetch.Manager
	Storage    scrape.DataRepository
	NodeID     int64

	Invocations      []scraper.Invocation
	SpeculateConfigs map[string]scraper.SpeculateConfig

	OnRunStart           func(scraperName string)
	OnRunComplete        func(scraperName, status string, err error)
	OnData               func(data any)
	OnInvalidData        func(data *scrape.DeferredValidation)
	OnStructuralError    func(err error) bool
	OnTransientException func(err error) bool
	OnArchive            ArchiveFunc
	DuplicateCheck       func(dedupKey string) bool
}

var defaultOptions = options{
	WorkCount:  1,
	StorageDir: filepath.Join(os.TempDir(), "juriscraper_files"),
	Logger:     zap.NewNop(),
	NodeID:     1,
}

func WithWorkCount(workCount int) Option {
	return func(opts *options) {
		opts.WorkCount = workCount
	}
}

func WithStorageDir(dir string) Option {
	return func(opts *options) {
		opts.StorageDir = dir
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.Logger = logger
	}
}

func WithFetcher(f fetch.Manager) Option {
	return func(opts *options) {
		opts.Fetcher = f
	}
}

func WithStorage(s scrape.DataRepository) Option {
	return func(opts *options) {
		opts.Storage = s
	}
}

func WithNodeID(id int64) Option {
	return func(opts *options) {
		opts.NodeID = id
	}
}

// WithInvocations seeds the run from explicit typed entry invocations
// instead of the scraper's parameterless defaults.
func WithInvocations(invocations []scraper.Invocation) Option {
	return func(opts *options) {
		opts.Invocations = invocations
	}
}

// WithSpeculateConfig overrides one speculator's definite range or failure
// tolerance for this run.
func WithSpeculateConfig(speculator string, cfg scraper.SpeculateConfig) Option {
	return func(opts *options) {
		if opts.SpeculateConfigs == nil {
			opts.SpeculateConfigs = map[string]scraper.SpeculateConfig{}
		}
		opts.SpeculateConfigs[speculator] = cfg
	}
}

func WithOnRunStart(fn func(scraperName string)) Option {
	return func(opts *options) {
		opts.OnRunStart = fn
	}
}

func WithOnRunComplete(fn func(scraperName, status string, err error)) Option {
	return func(opts *options) {
		opts.OnRunComplete = fn
	}
}

func WithOnData(fn func(data any)) Option {
	return func(opts *options) {
		opts.OnData = fn
	}
}

func WithOnInvalidData(fn func(data *scrape.DeferredValidation)) Option {
	return func(opts *options) {
		opts.OnInvalidData = fn
	}
}

// WithOnStructuralError handles parsing-step assumption failures; the
// return value decides whether the run continues.
func WithOnStructuralError(fn func(err error) bool) Option {
	return func(opts *options) {
		opts.OnStructuralError = fn
	}
}

// WithOnTransientException handles transport-layer transient failures; the
// return value decides whether the run continues.
func WithOnTransientException(fn func(err error) bool) Option {
	return func(opts *options) {
		opts.OnTransientException = fn
	}
}

// WithOnArchive substitutes the default file sink for archive requests.
func WithOnArchive(fn ArchiveFunc) Option {
	return func(opts *options) {
		opts.OnArchive = fn
	}
}

// WithDuplicateCheck substitutes the in-memory seen-set; the predicate
// returns true to enqueue and owns its own marking.
func WithDuplicateCheck(fn func(dedupKey string) bool) Option {
	return func(opts *options) {
		opts.DuplicateCheck = fn
	}
}
