// Package sheet defines the narrow read/write contract over the workbook
// that the collector synchronizes against.
//
// The contract is deliberately small: header metadata (including fill
// colors, which drive PUSH/PULL classification), row reads over a bounded
// range, and per-row writes/clears. All calls are synchronous and safe to
// repeat with identical input.
package sheet

// Header describes one header cell from row 1 of a sheet.
type Header struct {
	// Index is the 1-based column index.
	Index int

	// Name is the header text.
	Name string

	// FillColor is the background fill as a hex RGB string (e.g. "4472C4").
	// Empty means no fill.
	FillColor string
}

// Adapter is the read/write contract the watcher uses.
//
// Implementations must be safe for concurrent use; the Excel-backed
// implementation serializes load-modify-save sequences internally since
// workbook saves are not atomic against external writers.
type Adapter interface {
	// Headers returns the header cells of row 1, left to right, stopping
	// at the first empty cell. An entirely empty header row yields an
	// empty slice and no error.
	Headers(sheetName string) ([]Header, error)

	// Rows returns cell values for rows startRow..endRow (1-based,
	// inclusive), one map per row keyed by header name. Rows past the last
	// populated row are returned as empty maps so callers always get
	// endRow-startRow+1 entries.
	Rows(sheetName string, startRow, endRow int) ([]map[string]string, error)

	// UpdateRow writes the given values into the named columns of one row.
	// Columns not present in the header are ignored.
	UpdateRow(sheetName string, row int, values map[string]string) error

	// ClearColumns blanks the named columns of one row.
	ClearColumns(sheetName string, row int, columns []string) error
}
