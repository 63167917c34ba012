package sheet

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
)

// Excel is the workbook-backed Adapter implementation built on excelize.
//
// Every operation performs a full load-modify-save cycle guarded by an
// internal mutex, so concurrent callers within the process cannot clobber
// each other's writes. Saves are retried a bounded number of times with
// doubling backoff because the file may be transiently locked by the
// spreadsheet application.
type Excel struct {
	path    string
	logger  *log.Logger
	retries int
	backoff time.Duration

	mu sync.Mutex
}

// NewExcel creates an adapter for the workbook at path.
// If logger is nil, a default logger writing to stderr is used.
func NewExcel(path string, logger *log.Logger) *Excel {
	if logger == nil {
		logger = log.New(os.Stderr, "[excel] ", log.LstdFlags)
	}
	return &Excel{
		path:    path,
		logger:  logger,
		retries: 3,
		backoff: 100 * time.Millisecond,
	}
}

// Path returns the workbook path. The watcher uses it to register a
// file-change trigger alongside the poll loop.
func (e *Excel) Path() string { return e.path }

// Headers implements Adapter.Headers.
func (e *Excel) Headers(sheetName string) ([]Header, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.open(sheetName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var headers []Header
	for col := 1; ; col++ {
		cell, err := excelize.CoordinatesToCellName(col, 1)
		if err != nil {
			return nil, fmt.Errorf("invalid header coordinates: %w", err)
		}

		name, err := f.GetCellValue(sheetName, cell)
		if err != nil {
			return nil, fmt.Errorf("failed to read header cell %s: %w", cell, err)
		}

		// First empty header marks the end of the schema.
		if strings.TrimSpace(name) == "" {
			break
		}

		color, err := e.fillColor(f, sheetName, cell)
		if err != nil {
			return nil, err
		}

		headers = append(headers, Header{Index: col, Name: name, FillColor: color})
	}

	return headers, nil
}

// fillColor resolves the background fill of a cell to a hex RGB string.
// Cells with no pattern fill return "".
func (e *Excel) fillColor(f *excelize.File, sheetName, cell string) (string, error) {
	styleID, err := f.GetCellStyle(sheetName, cell)
	if err != nil {
		return "", fmt.Errorf("failed to read style of %s: %w", cell, err)
	}

	style, err := f.GetStyle(styleID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve style %d: %w", styleID, err)
	}

	if style == nil || len(style.Fill.Color) == 0 {
		return "", nil
	}

	color := strings.TrimPrefix(style.Fill.Color[0], "#")
	// Drop the alpha channel if present (ARGB -> RGB).
	if len(color) == 8 {
		color = color[2:]
	}
	return strings.ToUpper(color), nil
}

// Rows implements Adapter.Rows.
func (e *Excel) Rows(sheetName string, startRow, endRow int) ([]map[string]string, error) {
	if startRow < 1 || endRow < startRow {
		return nil, fmt.Errorf("invalid row range %d..%d", startRow, endRow)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.open(sheetName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	headers, err := e.headersLocked(f, sheetName)
	if err != nil {
		return nil, err
	}

	all, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %q: %w", sheetName, err)
	}

	result := make([]map[string]string, 0, endRow-startRow+1)
	for row := startRow; row <= endRow; row++ {
		values := make(map[string]string, len(headers))
		if row <= len(all) {
			cells := all[row-1]
			for _, h := range headers {
				if h.Index <= len(cells) {
					values[h.Name] = cells[h.Index-1]
				} else {
					values[h.Name] = ""
				}
			}
		} else {
			for _, h := range headers {
				values[h.Name] = ""
			}
		}
		result = append(result, values)
	}

	return result, nil
}

// UpdateRow implements Adapter.UpdateRow.
func (e *Excel) UpdateRow(sheetName string, row int, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.open(sheetName)
	if err != nil {
		return err
	}
	defer f.Close()

	headers, err := e.headersLocked(f, sheetName)
	if err != nil {
		return err
	}

	byName := make(map[string]int, len(headers))
	for _, h := range headers {
		byName[h.Name] = h.Index
	}

	for name, value := range values {
		col, ok := byName[name]
		if !ok {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return fmt.Errorf("invalid coordinates for %s row %d: %w", name, row, err)
		}
		if err := f.SetCellStr(sheetName, cell, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", cell, err)
		}
	}

	return e.save(f)
}

// ClearColumns implements Adapter.ClearColumns.
func (e *Excel) ClearColumns(sheetName string, row int, columns []string) error {
	values := make(map[string]string, len(columns))
	for _, name := range columns {
		values[name] = ""
	}
	return e.UpdateRow(sheetName, row, values)
}

// open loads the workbook and verifies the sheet exists.
func (e *Excel) open(sheetName string) (*excelize.File, error) {
	f, err := excelize.OpenFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", e.path, err)
	}

	idx, err := f.GetSheetIndex(sheetName)
	if err != nil || idx < 0 {
		_ = f.Close()
		return nil, fmt.Errorf("sheet %q not found in %s", sheetName, e.path)
	}

	return f, nil
}

// headersLocked reads headers using an already-open file. Callers must
// hold e.mu.
func (e *Excel) headersLocked(f *excelize.File, sheetName string) ([]Header, error) {
	var headers []Header
	for col := 1; ; col++ {
		cell, err := excelize.CoordinatesToCellName(col, 1)
		if err != nil {
			return nil, err
		}
		name, err := f.GetCellValue(sheetName, cell)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(name) == "" {
			break
		}
		headers = append(headers, Header{Index: col, Name: name})
	}
	return headers, nil
}

// save persists the workbook with bounded retries.
func (e *Excel) save(f *excelize.File) error {
	backoff := e.backoff
	var lastErr error

	for attempt := 1; attempt <= e.retries; attempt++ {
		if lastErr = f.Save(); lastErr == nil {
			return nil
		}
		e.logger.Printf("WARNING: save attempt %d/%d failed: %v", attempt, e.retries, lastErr)
		if attempt < e.retries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return fmt.Errorf("failed to save workbook after %d attempts: %w", e.retries, lastErr)
}
