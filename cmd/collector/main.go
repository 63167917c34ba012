// Command collector runs the ARBITRAGEXPLUS2025 spreadsheet sync service:
// it watches PULL columns for user edits, aggregates blockchain data from
// the configured sources, and keeps the PUSH columns in sync.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
