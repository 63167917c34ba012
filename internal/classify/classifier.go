package classify

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/sheet"
)

// Column is the classified metadata of one sheet column.
type Column struct {
	// Index is the 1-based column index.
	Index int
	// Name is the header text.
	Name string
	// Role is the classified intent.
	Role Role
}

// HeaderSource provides header metadata for classification. The sheet
// adapter satisfies this.
type HeaderSource interface {
	Headers(sheetName string) ([]sheet.Header, error)
}

// Classifier classifies sheet columns and caches the result per sheet.
//
// Classification is deterministic and side-effect-free; the cache is
// invalidated only by ForceReload. Create one classifier per process and
// share it.
type Classifier struct {
	src      HeaderSource
	strategy Strategy
	logger   *log.Logger

	mu    sync.Mutex
	cache map[string][]Column
}

// New creates a Classifier. If strategy is nil the default reference-color
// strategy is used; if logger is nil a stderr logger is used.
func New(src HeaderSource, strategy Strategy, logger *log.Logger) *Classifier {
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[classify] ", log.LstdFlags)
	}
	return &Classifier{
		src:      src,
		strategy: strategy,
		logger:   logger,
		cache:    make(map[string][]Column),
	}
}

// Classify returns the classified columns of a sheet, from cache when
// available. An empty header row yields an empty slice and no error:
// callers must treat an empty schema as "nothing to watch".
func (c *Classifier) Classify(sheetName string) ([]Column, error) {
	c.mu.Lock()
	if cols, ok := c.cache[sheetName]; ok {
		c.mu.Unlock()
		return cols, nil
	}
	c.mu.Unlock()

	return c.ForceReload(sheetName)
}

// ForceReload re-reads the header row and replaces the cached
// classification for the sheet.
func (c *Classifier) ForceReload(sheetName string) ([]Column, error) {
	headers, err := c.src.Headers(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read headers of %q: %w", sheetName, err)
	}

	cols := make([]Column, 0, len(headers))
	for _, h := range headers {
		role := c.strategy.Classify(h.FillColor)
		if role == RoleUnknown {
			c.logger.Printf("WARNING: unrecognized header color %q for column %q (sheet %q), excluding from watch",
				h.FillColor, h.Name, sheetName)
		}
		cols = append(cols, Column{Index: h.Index, Name: h.Name, Role: role})
	}

	c.mu.Lock()
	c.cache[sheetName] = cols
	c.mu.Unlock()

	return cols, nil
}

// Filter returns the columns with the given role.
func Filter(cols []Column, role Role) []Column {
	var out []Column
	for _, col := range cols {
		if col.Role == role {
			out = append(out, col)
		}
	}
	return out
}

// Names returns the column names in order.
func Names(cols []Column) []string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names
}

// IndexByName maps column names to their 1-based indexes.
func IndexByName(cols []Column) map[string]int {
	m := make(map[string]int, len(cols))
	for _, col := range cols {
		m[col.Name] = col.Index
	}
	return m
}
