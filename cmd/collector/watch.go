package main

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/aggregate"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/classify"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/config"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/history"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/ratelimit"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/sheet"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/snapshot"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/sources"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/watcher"
)

var watchOnce bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the sheet synchronization loop",
	Long: `Watch the configured sheet for user edits and keep its PUSH columns in
sync with the upstream data sources.

The loop runs until interrupted (SIGINT/SIGTERM); the in-flight tick is
drained before exit. Use --once to run a single tick and exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, journal, err := buildWatcher(cfg, logger)
		if err != nil {
			return err
		}
		if journal != nil {
			defer journal.Close()
		}

		if watchOnce {
			return w.RunOnce()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return w.Start(ctx)
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run a single tick and exit")
	rootCmd.AddCommand(watchCmd)
}

// buildWatcher wires the full component graph from configuration.
// Everything is constructed once here and passed down explicitly; no
// component reaches for global state.
func buildWatcher(cfg *config.Config, logger *log.Logger) (*watcher.Watcher, *history.DB, error) {
	adapter := sheet.NewExcel(cfg.Excel.Path, logger)
	classifier := classify.New(adapter, classify.DefaultStrategy(), logger)

	store, err := snapshot.NewStore(cfg.Snapshot.Dir, logger)
	if err != nil {
		return nil, nil, err
	}
	if n, err := store.LoadAll(); err != nil {
		logger.Printf("WARNING: snapshot load failed, starting fresh: %v", err)
	} else if n > 0 {
		logger.Printf("loaded %d snapshot(s)", n)
	}

	agg := buildAggregator(cfg, logger)

	wcfg := watcher.DefaultConfig()
	wcfg.SheetName = cfg.Excel.Sheet
	wcfg.KeyColumn = cfg.Watch.KeyColumn
	wcfg.PollInterval = cfg.Watch.PollInterval
	wcfg.StartRow = cfg.Watch.StartRow
	wcfg.EndRow = cfg.Watch.EndRow
	wcfg.MaxConcurrentRows = cfg.Watch.MaxConcurrentRows
	wcfg.FetchTimeout = cfg.Watch.FetchTimeout
	wcfg.JournalRetention = cfg.Journal.Retention
	wcfg.Logger = logger

	w, err := watcher.New(adapter, classifier, store, agg, wcfg)
	if err != nil {
		return nil, nil, err
	}
	w.WatchWorkbook(cfg.Excel.Path)

	var journal *history.DB
	if cfg.Journal.Path != "" {
		journal, err = history.Open(cfg.Journal.Path)
		if err != nil {
			logger.Printf("WARNING: change journal disabled: %v", err)
		} else if err := journal.InitSchema(); err != nil {
			logger.Printf("WARNING: change journal disabled: %v", err)
			_ = journal.Close()
			journal = nil
		} else {
			w.SetJournal(journal)
		}
	}

	return w, journal, nil
}

// buildAggregator wires the sources in merge priority order: DefiLlama
// first, then LlamaNodes, then PublicNode overriding both for the fields
// it provides.
func buildAggregator(cfg *config.Config, logger *log.Logger) *aggregate.Aggregator {
	limiter := ratelimit.New(rateLimitConfigs(cfg), logger)

	srcs := []sources.Source{
		sources.NewDefiLlama(cfg.Sources.DefiLlamaURL, cfg.Sources.Timeout),
		sources.NewLlamaNodes(""),
		sources.NewPublicNode(nil),
	}

	acfg := aggregate.DefaultConfig()
	acfg.FetchTimeout = cfg.Sources.Timeout
	acfg.Logger = logger

	return aggregate.New(srcs, limiter, acfg)
}

// rateLimitConfigs merges configured overrides onto the known profiles.
func rateLimitConfigs(cfg *config.Config) map[string]ratelimit.Config {
	profiles := ratelimit.DefaultProfiles()
	for key, rc := range cfg.RateLimits {
		profiles[key] = rc
	}
	return profiles
}
