// Package snapshot keeps the last-observed value of every watched cell and
// computes deltas between the current sheet state and that record.
//
// The store is the single source of truth for "has this cell already been
// processed". Each sheet's snapshot carries a version that increments
// monotonically on every successful update, and is persisted as one JSON
// file per sheet that round-trips exactly through save/load.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Cell is the snapshot of one cell. Row and Col are 1-based.
type Cell struct {
	Row       int       `json:"row"`
	Col       int       `json:"col"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Change is one detected difference between the sheet and the snapshot.
// Changes are pure values; they are never mutated after creation.
type Change struct {
	SheetName  string
	Row        int
	Col        int
	ColumnName string
	OldValue   string
	NewValue   string
	Timestamp  time.Time
}

// Info summarizes a sheet snapshot.
type Info struct {
	SheetName  string
	Version    int
	LastUpdate time.Time
	CellCount  int
	RowCount   int
}

// fileSnapshot is the persisted form: one file per sheet.
type fileSnapshot struct {
	SheetName  string    `json:"sheet_name"`
	Version    int       `json:"version"`
	LastUpdate time.Time `json:"last_update"`
	Cells      []Cell    `json:"cells"`
}

// sheetState is the in-memory snapshot of one sheet. Each sheet has its
// own mutex so multiple sheets can progress independently.
type sheetState struct {
	mu         sync.Mutex
	version    int
	lastUpdate time.Time
	cells      map[string]Cell // key "row_col"
	dirty      bool
}

// Store manages sheet snapshots and their persistence.
type Store struct {
	dir    string
	logger *log.Logger

	mu     sync.Mutex // guards sheets map, not the per-sheet state
	sheets map[string]*sheetState
}

// NewStore creates a Store persisting under dir (created if absent).
func NewStore(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[snapshot] ", log.LstdFlags)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger,
		sheets: make(map[string]*sheetState),
	}, nil
}

func cellKey(row, col int) string {
	return fmt.Sprintf("%d_%d", row, col)
}

// state returns the state for a sheet, creating an empty one if needed.
func (s *Store) state(sheetName string) *sheetState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sheets[sheetName]
	if !ok {
		st = &sheetState{cells: make(map[string]Cell)}
		s.sheets[sheetName] = st
	}
	return st
}

// exists reports whether a snapshot for the sheet is loaded.
func (s *Store) exists(sheetName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sheets[sheetName]
	return ok
}

// Create builds a snapshot from the current sheet data. data holds one map
// per row starting at startRow; columns maps column names to their 1-based
// indexes. Version becomes previous+1, or 1 for a new sheet.
func (s *Store) Create(sheetName string, data []map[string]string, columns map[string]int, startRow int) {
	st := s.state(sheetName)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	cells := make(map[string]Cell)
	for i, rowData := range data {
		row := startRow + i
		for name, col := range columns {
			value, ok := rowData[name]
			if !ok {
				continue
			}
			cells[cellKey(row, col)] = Cell{Row: row, Col: col, Value: value, Timestamp: now}
		}
	}

	st.cells = cells
	st.version++
	st.lastUpdate = now
	st.dirty = true

	s.logger.Printf("snapshot created for %q: %d cells, version %d", sheetName, len(cells), st.version)
}

// DetectChanges compares current data against the snapshot, restricted to
// the watch columns (nil means all columns in the mapping). If no prior
// snapshot exists, one is silently created and no changes are reported:
// first observation is not a change.
//
// DetectChanges is a pure diff; it never mutates snapshot values. Callers
// apply the changes they processed via UpdateCells, so an unprocessed
// change (for example after a failed sheet write) is re-detected on the
// next pass.
func (s *Store) DetectChanges(sheetName string, data []map[string]string, columns map[string]int, startRow int, watch []string) []Change {
	if !s.exists(sheetName) {
		s.logger.Printf("no prior snapshot for %q, creating baseline", sheetName)
		s.Create(sheetName, data, columns, startRow)
		return nil
	}

	cols := watch
	if cols == nil {
		cols = make([]string, 0, len(columns))
		for name := range columns {
			cols = append(cols, name)
		}
		sort.Strings(cols)
	}

	st := s.state(sheetName)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	var changes []Change
	for i, rowData := range data {
		row := startRow + i
		for _, name := range cols {
			col, ok := columns[name]
			if !ok {
				continue
			}
			current, ok := rowData[name]
			if !ok {
				continue
			}
			old := st.cells[cellKey(row, col)].Value

			if current != old {
				changes = append(changes, Change{
					SheetName:  sheetName,
					Row:        row,
					Col:        col,
					ColumnName: name,
					OldValue:   old,
					NewValue:   current,
					Timestamp:  now,
				})
			}
		}
	}

	return changes
}

// Update replaces the snapshot with the current data, incrementing the
// version by exactly 1.
func (s *Store) Update(sheetName string, data []map[string]string, columns map[string]int, startRow int) {
	s.Create(sheetName, data, columns, startRow)
}

// UpdateCells applies a set of cell values to the snapshot as one update:
// the version increments by exactly 1 regardless of cell count.
func (s *Store) UpdateCells(sheetName string, cells []Cell) {
	if len(cells) == 0 {
		return
	}

	st := s.state(sheetName)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now().UTC()
	for _, c := range cells {
		c.Timestamp = now
		st.cells[cellKey(c.Row, c.Col)] = c
	}
	st.version++
	st.lastUpdate = now
	st.dirty = true
}

// Value returns the snapshot value of one cell.
func (s *Store) Value(sheetName string, row, col int) (string, bool) {
	if !s.exists(sheetName) {
		return "", false
	}
	st := s.state(sheetName)
	st.mu.Lock()
	defer st.mu.Unlock()
	c, ok := st.cells[cellKey(row, col)]
	return c.Value, ok
}

// Info returns summary information for a sheet snapshot.
func (s *Store) Info(sheetName string) (Info, bool) {
	if !s.exists(sheetName) {
		return Info{}, false
	}

	st := s.state(sheetName)
	st.mu.Lock()
	defer st.mu.Unlock()

	rows := make(map[int]struct{})
	for _, c := range st.cells {
		rows[c.Row] = struct{}{}
	}

	return Info{
		SheetName:  sheetName,
		Version:    st.version,
		LastUpdate: st.lastUpdate,
		CellCount:  len(st.cells),
		RowCount:   len(rows),
	}, true
}

// path returns the snapshot file path for a sheet.
func (s *Store) path(sheetName string) string {
	safe := strings.NewReplacer(" ", "_", "/", "_").Replace(sheetName)
	return filepath.Join(s.dir, safe+".json")
}

// Save persists one sheet snapshot to its file.
func (s *Store) Save(sheetName string) error {
	if !s.exists(sheetName) {
		return fmt.Errorf("no snapshot for sheet %q", sheetName)
	}

	st := s.state(sheetName)
	st.mu.Lock()
	snap := fileSnapshot{
		SheetName:  sheetName,
		Version:    st.version,
		LastUpdate: st.lastUpdate,
		Cells:      make([]Cell, 0, len(st.cells)),
	}
	for _, c := range st.cells {
		snap.Cells = append(snap.Cells, c)
	}
	st.dirty = false
	st.mu.Unlock()

	// Stable cell order keeps the files diffable.
	sort.Slice(snap.Cells, func(i, j int) bool {
		if snap.Cells[i].Row != snap.Cells[j].Row {
			return snap.Cells[i].Row < snap.Cells[j].Row
		}
		return snap.Cells[i].Col < snap.Cells[j].Col
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for %q: %w", sheetName, err)
	}

	if err := os.WriteFile(s.path(sheetName), data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	return nil
}

// SaveDirty persists every sheet with unsaved updates. Individual failures
// are logged and do not stop the pass.
func (s *Store) SaveDirty() int {
	s.mu.Lock()
	names := make([]string, 0, len(s.sheets))
	for name, st := range s.sheets {
		st.mu.Lock()
		if st.dirty {
			names = append(names, name)
		}
		st.mu.Unlock()
	}
	s.mu.Unlock()

	saved := 0
	for _, name := range names {
		if err := s.Save(name); err != nil {
			s.logger.Printf("WARNING: failed to save snapshot %q: %v", name, err)
			continue
		}
		saved++
	}
	return saved
}

// Load reads the snapshot file for a sheet. It returns false when no file
// exists. A corrupt file is treated as "no prior snapshot": logged, file
// ignored, never fatal. Loading is idempotent.
func (s *Store) Load(sheetName string) (bool, error) {
	data, err := os.ReadFile(s.path(sheetName))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Printf("WARNING: corrupt snapshot file for %q, starting fresh: %v", sheetName, err)
		return false, nil
	}

	st := s.state(sheetName)
	st.mu.Lock()
	st.cells = make(map[string]Cell, len(snap.Cells))
	for _, c := range snap.Cells {
		st.cells[cellKey(c.Row, c.Col)] = c
	}
	st.version = snap.Version
	st.lastUpdate = snap.LastUpdate
	st.dirty = false
	st.mu.Unlock()

	s.logger.Printf("snapshot loaded for %q: %d cells, version %d", sheetName, len(snap.Cells), snap.Version)
	return true, nil
}

// LoadAll loads every snapshot file in the store directory. The sheet name
// comes from the file contents, not the filename.
func (s *Store) LoadAll() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Printf("WARNING: failed to read %s: %v", entry.Name(), err)
			continue
		}

		var snap fileSnapshot
		if err := json.Unmarshal(data, &snap); err != nil || snap.SheetName == "" {
			s.logger.Printf("WARNING: skipping corrupt snapshot file %s", entry.Name())
			continue
		}

		if ok, err := s.Load(snap.SheetName); err != nil {
			s.logger.Printf("WARNING: failed to load snapshot %q: %v", snap.SheetName, err)
		} else if ok {
			loaded++
		}
	}

	return loaded, nil
}

// Reset removes a sheet snapshot from memory and, when deleteFile is set,
// from disk. This is an explicit operator action.
func (s *Store) Reset(sheetName string, deleteFile bool) error {
	s.mu.Lock()
	delete(s.sheets, sheetName)
	s.mu.Unlock()

	if deleteFile {
		if err := os.Remove(s.path(sheetName)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete snapshot file: %w", err)
		}
	}

	s.logger.Printf("snapshot reset for %q", sheetName)
	return nil
}

// ChangedRows returns the distinct row numbers of changes, optionally
// restricted to one column.
func ChangedRows(changes []Change, columnName string) []int {
	seen := make(map[int]struct{})
	var rows []int
	for _, c := range changes {
		if columnName != "" && c.ColumnName != columnName {
			continue
		}
		if _, ok := seen[c.Row]; !ok {
			seen[c.Row] = struct{}{}
			rows = append(rows, c.Row)
		}
	}
	sort.Ints(rows)
	return rows
}

// ByColumn filters changes to one column.
func ByColumn(changes []Change, columnName string) []Change {
	var out []Change
	for _, c := range changes {
		if c.ColumnName == columnName {
			out = append(out, c)
		}
	}
	return out
}
