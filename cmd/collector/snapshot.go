package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect or reset sheet snapshots",
}

var snapshotInfoCmd = &cobra.Command{
	Use:   "info [sheet]",
	Short: "Show snapshot version and cell counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sheetName := cfg.Excel.Sheet
		if len(args) == 1 {
			sheetName = args[0]
		}

		store, err := snapshot.NewStore(cfg.Snapshot.Dir, logger)
		if err != nil {
			return err
		}

		ok, err := store.Load(sheetName)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("no snapshot for sheet %q\n", sheetName)
			return nil
		}

		info, _ := store.Info(sheetName)
		fmt.Printf("sheet:       %s\n", info.SheetName)
		fmt.Printf("version:     %d\n", info.Version)
		fmt.Printf("last update: %s\n", info.LastUpdate)
		fmt.Printf("cells:       %d (%d rows)\n", info.CellCount, info.RowCount)
		return nil
	},
}

var snapshotResetCmd = &cobra.Command{
	Use:   "reset <sheet>",
	Short: "Delete a sheet snapshot so the next watch cycle starts fresh",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := snapshot.NewStore(cfg.Snapshot.Dir, logger)
		if err != nil {
			return err
		}
		if err := store.Reset(args[0], true); err != nil {
			return err
		}
		fmt.Printf("snapshot for %q removed\n", args[0])
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotInfoCmd)
	snapshotCmd.AddCommand(snapshotResetCmd)
	rootCmd.AddCommand(snapshotCmd)
}
