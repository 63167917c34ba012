package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <entity>",
	Short: "Aggregate data for one blockchain and print the record",
	Long: `Run a single aggregation for the given blockchain name (e.g. "polygon")
and print the merged field set, without touching the workbook.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agg := buildAggregator(cfg, logger)

		rec := agg.Fetch(cmd.Context(), args[0])

		names := make([]string, 0, len(rec.Fields))
		for name := range rec.Fields {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			fmt.Printf("%-28s %s\n", name, rec.Fields[name])
		}

		fmt.Printf("\nsources:")
		for name, ok := range rec.SourceOK {
			status := "ok"
			if !ok {
				status = "failed"
			}
			fmt.Printf(" %s=%s", name, status)
		}
		fmt.Printf("\nelapsed: %s\n", rec.Elapsed.Round(time.Millisecond))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
