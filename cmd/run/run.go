package run

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Brennan-Chesley-FLP/kent/engine"
	"github.com/Brennan-Chesley-FLP/kent/fetch"
	"github.com/Brennan-Chesley-FLP/kent/generator"
	"github.com/Brennan-Chesley-FLP/kent/limiter"
	"github.com/Brennan-Chesley-FLP/kent/log"
	"github.com/Brennan-Chesley-FLP/kent/proxy"
	"github.com/Brennan-Chesley-FLP/kent/scraper"
	"github.com/Brennan-Chesley-FLP/kent/storage/sqlstorage"
)

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "run a registered scraper.",
	Long:  "run a registered scraper to completion, streaming collected data.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run()
	},
}

func init() {
	RunCmd.Flags().StringVar(&scraperName, "scraper", "", "name of the registered scraper to run")
	RunCmd.Flags().StringVar(&configPath, "config", "config.toml", "path to the TOML config file")
	RunCmd.Flags().IntVar(&workers, "workers", 0, "worker count (overrides config)")
	RunCmd.Flags().StringVar(&storageDir, "storage-dir", "", "directory for archived files")
	RunCmd.Flags().StringVar(&outPath, "out", "-", "JSONL output path, - for stdout")
	RunCmd.Flags().StringVar(&invocationsJSON, "invocations", "", `entry invocations as JSON, e.g. [{"search_by_docket":{"docket_number":"A10"}}]`)
	RunCmd.Flags().StringVar(&podIP, "podip", "", "pod IP used to derive the run-ID node")
	RunCmd.MarkFlagRequired("scraper")
}

var (
	scraperName     string
	configPath      string
	workers         int
	storageDir      string
	outPath         string
	invocationsJSON string
	podIP           string
)

type fetcherConfig struct {
	TimeoutMs int      `toml:"timeout"`
	Proxys    []string `toml:"proxy"`
	UserAgent string   `toml:"userAgent"`
	RateMsec  int      `toml:"rateMsec"`
}

type retryConfig struct {
	Enabled       bool    `toml:"enabled"`
	BaseDelayMs   int     `toml:"baseDelayMs"`
	MaxBackoffSec int     `toml:"maxBackoffSec"`
	Jitter        float64 `toml:"jitter"`
}

type storageConfig struct {
	SQLURL     string `toml:"sqlURL"`
	BatchCount int    `toml:"batchCount"`
}

type config struct {
	LogLevel   string        `toml:"logLevel"`
	StorageDir string        `toml:"storageDir"`
	Workers    int           `toml:"workers"`
	Fetcher    fetcherConfig `toml:"fetcher"`
	Retry      retryConfig   `toml:"retry"`
	Storage    storageConfig `toml:"storage"`
}

var defaultConfig = config{
	LogLevel: "INFO",
	Workers:  1,
	Fetcher:  fetcherConfig{TimeoutMs: 30000},
	Retry:    retryConfig{BaseDelayMs: 1000, MaxBackoffSec: 3600},
	Storage:  storageConfig{BatchCount: 16},
}

func Run() error {
	cfg := defaultConfig
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
			return fmt.Errorf("load config %s: %w", configPath, err)
		}
	}

	logLevel, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	plugin := log.NewStderrPlugin(logLevel)
	logger := log.NewLogger(plugin)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	sc, ok := scraper.DefaultStore.Get(scraperName)
	if !ok {
		return fmt.Errorf("unknown scraper %q", scraperName)
	}

	fetchOpts := []fetch.Option{
		fetch.WithLogger(logger),
		fetch.WithTimeout(time.Duration(cfg.Fetcher.TimeoutMs) * time.Millisecond),
	}
	if cfg.Fetcher.UserAgent != "" {
		fetchOpts = append(fetchOpts, fetch.WithUserAgent(cfg.Fetcher.UserAgent))
	}
	if len(cfg.Fetcher.Proxys) > 0 {
		p, err := proxy.RoundRobinSwitcher(cfg.Fetcher.Proxys...)
		if err != nil {
			return fmt.Errorf("build proxy switcher: %w", err)
		}
		fetchOpts = append(fetchOpts, fetch.WithProxy(p))
	}
	if sc.TLSConfig != nil {
		fetchOpts = append(fetchOpts, fetch.WithTLSConfig(sc.TLSConfig))
	}

	// Rate limits: the scraper's own metadata and the config, combined.
	var limits []limiter.RateLimiter
	if sc.MsecPerRequest > 0 {
		limits = append(limits, limiter.PerMsec(sc.MsecPerRequest))
	}
	if cfg.Fetcher.RateMsec > 0 {
		limits = append(limits, limiter.PerMsec(cfg.Fetcher.RateMsec))
	}
	if len(limits) == 1 {
		fetchOpts = append(fetchOpts, fetch.WithLimiter(limits[0]))
	} else if len(limits) > 1 {
		fetchOpts = append(fetchOpts, fetch.WithLimiter(limiter.Multi(limits...)))
	}

	var manager fetch.Manager = fetch.NewSyncManager(fetchOpts...)
	if cfg.Retry.Enabled {
		manager = fetch.NewRetryManager(manager,
			fetch.WithBaseDelay(time.Duration(cfg.Retry.BaseDelayMs)*time.Millisecond),
			fetch.WithMaxBackoff(time.Duration(cfg.Retry.MaxBackoffSec)*time.Second),
			fetch.WithJitter(cfg.Retry.Jitter),
			fetch.WithRetryLogger(logger),
		)
	}
	defer manager.Close()

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithFetcher(manager),
	}

	if workers > 0 {
		cfg.Workers = workers
	}
	engineOpts = append(engineOpts, engine.WithWorkCount(cfg.Workers))

	if storageDir != "" {
		cfg.StorageDir = storageDir
	}
	if cfg.StorageDir != "" {
		engineOpts = append(engineOpts, engine.WithStorageDir(cfg.StorageDir))
	}

	if podIP != "" {
		engineOpts = append(engineOpts, engine.WithNodeID(int64(generator.IDbyIP(podIP))))
	}

	if invocationsJSON != "" {
		var invocations []scraper.Invocation
		if err := json.Unmarshal([]byte(invocationsJSON), &invocations); err != nil {
			return fmt.Errorf("parse --invocations: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithInvocations(invocations))
	}

	if cfg.Storage.SQLURL != "" {
		repo, err := sqlstorage.New(
			sqlstorage.WithSQLURL(cfg.Storage.SQLURL),
			sqlstorage.WithBatchCount(cfg.Storage.BatchCount),
			sqlstorage.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("open sql storage: %w", err)
		}
		defer repo.Close()
		engineOpts = append(engineOpts, engine.WithStorage(repo))
	} else {
		out := os.Stdout
		if outPath != "-" && outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("open output %s: %w", outPath, err)
			}
			defer f.Close()
			out = f
		}
		engineOpts = append(engineOpts, engine.WithOnData(engine.SaveJSONL(out)))
	}

	engineOpts = append(engineOpts,
		engine.WithOnInvalidData(engine.LogInvalidData(logger)),
		engine.WithOnStructuralError(func(err error) bool {
			logger.Error("structural assumption failed", zap.Error(err))
			return true
		}),
		engine.WithOnTransientException(func(err error) bool {
			logger.Warn("transient failure", zap.Error(err))
			return true
		}),
		engine.WithOnRunComplete(func(name, status string, err error) {
			logger.Info("scraper finished",
				zap.String("scraper", name),
				zap.String("status", status),
				zap.Error(err))
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return engine.New(sc, engineOpts...).Run(ctx)
}
