package sheet

import (
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"
)

const testSheet = "BLOCKCHAINS"

// buildWorkbook writes a workbook with a colored header row and a few data
// rows, mirroring the production sheet layout.
func buildWorkbook(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chains.xlsx")
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(testSheet); err != nil {
		t.Fatalf("NewSheet() failed: %v", err)
	}

	blue, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
	})
	if err != nil {
		t.Fatalf("NewStyle() failed: %v", err)
	}

	headers := []struct {
		name string
		blue bool
	}{
		{"NAME", false},
		{"CHAIN_ID", true},
		{"NATIVE_TOKEN", true},
		{"NOTES", false},
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellStr(testSheet, cell, h.name); err != nil {
			t.Fatalf("SetCellStr(%s) failed: %v", cell, err)
		}
		if h.blue {
			if err := f.SetCellStyle(testSheet, cell, cell, blue); err != nil {
				t.Fatalf("SetCellStyle(%s) failed: %v", cell, err)
			}
		}
	}

	rows := [][]string{
		{"polygon", "137", "MATIC", "mainnet"},
		{"base", "8453", "ETH", ""},
	}
	for r, row := range rows {
		for c, value := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellStr(testSheet, cell, value); err != nil {
				t.Fatalf("SetCellStr(%s) failed: %v", cell, err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() failed: %v", err)
	}
	return path
}

func testExcel(t *testing.T) *Excel {
	t.Helper()
	return NewExcel(buildWorkbook(t), log.New(io.Discard, "", 0))
}

// TestHeaders verifies names, 1-based indexes and fill colors come back,
// and that the schema ends at the first empty header.
func TestHeaders(t *testing.T) {
	e := testExcel(t)

	headers, err := e.Headers(testSheet)
	if err != nil {
		t.Fatalf("Headers() failed: %v", err)
	}
	if len(headers) != 4 {
		t.Fatalf("Headers() = %d columns, want 4", len(headers))
	}

	if headers[0].Name != "NAME" || headers[0].Index != 1 {
		t.Errorf("header[0] = %+v", headers[0])
	}
	if headers[1].FillColor != "4472C4" {
		t.Errorf("CHAIN_ID fill = %q, want 4472C4", headers[1].FillColor)
	}
	if headers[0].FillColor != "" {
		t.Errorf("NAME fill = %q, want empty (no fill)", headers[0].FillColor)
	}
}

// TestRows verifies the fixed-size result keyed by header name, including
// rows past the data.
func TestRows(t *testing.T) {
	e := testExcel(t)

	rows, err := e.Rows(testSheet, 2, 5)
	if err != nil {
		t.Fatalf("Rows() failed: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Rows(2,5) = %d entries, want 4", len(rows))
	}

	if rows[0]["NAME"] != "polygon" || rows[0]["CHAIN_ID"] != "137" {
		t.Errorf("row 2 = %v", rows[0])
	}
	if rows[1]["NATIVE_TOKEN"] != "ETH" {
		t.Errorf("row 3 NATIVE_TOKEN = %q, want ETH", rows[1]["NATIVE_TOKEN"])
	}
	// Rows beyond the data come back empty, not missing.
	if rows[3]["NAME"] != "" {
		t.Errorf("row 5 NAME = %q, want empty", rows[3]["NAME"])
	}
	if _, ok := rows[3]["CHAIN_ID"]; !ok {
		t.Error("row 5 missing CHAIN_ID key")
	}
}

// TestRows_InvalidRange verifies range validation.
func TestRows_InvalidRange(t *testing.T) {
	e := testExcel(t)

	if _, err := e.Rows(testSheet, 5, 2); err == nil {
		t.Error("Rows(5,2) should fail")
	}
	if _, err := e.Rows(testSheet, 0, 2); err == nil {
		t.Error("Rows(0,2) should fail")
	}
}

// TestUpdateRow verifies writes persist and unknown columns are skipped.
func TestUpdateRow(t *testing.T) {
	e := testExcel(t)

	err := e.UpdateRow(testSheet, 2, map[string]string{
		"CHAIN_ID":      "999",
		"NOTES":         "updated",
		"NO_SUCH_FIELD": "ignored",
	})
	if err != nil {
		t.Fatalf("UpdateRow() failed: %v", err)
	}

	rows, err := e.Rows(testSheet, 2, 2)
	if err != nil {
		t.Fatalf("Rows() failed: %v", err)
	}
	if rows[0]["CHAIN_ID"] != "999" || rows[0]["NOTES"] != "updated" {
		t.Errorf("row 2 after update = %v", rows[0])
	}
	// Untouched cells stay.
	if rows[0]["NAME"] != "polygon" {
		t.Errorf("NAME = %q, want polygon", rows[0]["NAME"])
	}
}

// TestClearColumns verifies targeted column wipes.
func TestClearColumns(t *testing.T) {
	e := testExcel(t)

	if err := e.ClearColumns(testSheet, 2, []string{"CHAIN_ID", "NATIVE_TOKEN"}); err != nil {
		t.Fatalf("ClearColumns() failed: %v", err)
	}

	rows, err := e.Rows(testSheet, 2, 2)
	if err != nil {
		t.Fatalf("Rows() failed: %v", err)
	}
	if rows[0]["CHAIN_ID"] != "" || rows[0]["NATIVE_TOKEN"] != "" {
		t.Errorf("cleared columns = %q, %q; want empty", rows[0]["CHAIN_ID"], rows[0]["NATIVE_TOKEN"])
	}
	if rows[0]["NAME"] != "polygon" {
		t.Errorf("NAME = %q, clear must not touch other columns", rows[0]["NAME"])
	}
}

// TestMissingSheet verifies operations on an absent sheet fail cleanly.
func TestMissingSheet(t *testing.T) {
	e := testExcel(t)

	if _, err := e.Headers("NOPE"); err == nil {
		t.Error("Headers(missing sheet) should fail")
	}
	if err := e.UpdateRow("NOPE", 2, map[string]string{"NAME": "x"}); err == nil {
		t.Error("UpdateRow(missing sheet) should fail")
	}
}
