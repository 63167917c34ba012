package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/config"
)

var (
	cfgPath string
	cfg     *config.Config
	logger  *log.Logger
)

var rootCmd = &cobra.Command{
	Use:   "collector",
	Short: "Spreadsheet sync collector for ARBITRAGEXPLUS2025",
	Long: `collector keeps the ARBITRAGEXPLUS2025 workbook in sync with external
blockchain data sources.

Users type a blockchain name into a PULL (white) column; the collector
detects the edit, queries DefiLlama, LlamaNodes and PublicNode under rate
limits, and fills the PUSH (blue) columns of that row. Manual edits to
PUSH columns are reversed on the next tick.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		logger = newLogger(cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to collector.yaml")
}

// newLogger builds the process logger. With a log file configured, output
// goes to both stderr and a size-rotated file.
func newLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		})
	}
	return log.New(out, "[collector] ", log.LstdFlags)
}
