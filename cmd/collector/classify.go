package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/classify"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/sheet"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [sheet]",
	Short: "Show the PUSH/PULL classification of a sheet's columns",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sheetName := cfg.Excel.Sheet
		if len(args) == 1 {
			sheetName = args[0]
		}

		adapter := sheet.NewExcel(cfg.Excel.Path, logger)
		classifier := classify.New(adapter, classify.DefaultStrategy(), logger)

		cols, err := classifier.Classify(sheetName)
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			fmt.Printf("sheet %q has an empty schema\n", sheetName)
			return nil
		}

		fmt.Printf("%-5s %-30s %s\n", "COL", "NAME", "ROLE")
		for _, col := range cols {
			fmt.Printf("%-5d %-30s %s\n", col.Index, col.Name, col.Role)
		}
		fmt.Printf("\n%d columns: %d PUSH, %d PULL\n", len(cols),
			len(classify.Filter(cols, classify.RolePush)),
			len(classify.Filter(cols, classify.RolePull)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
