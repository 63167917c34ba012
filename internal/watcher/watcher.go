// Package watcher orchestrates the bidirectional sheet synchronization
// loop.
//
// On each tick the watcher:
//  1. Reads the watched row range and diffs PULL columns against the
//     snapshot store.
//  2. For each key-column change to a non-empty value, aggregates upstream
//     data and writes it into the row's PUSH columns.
//  3. For each key-column change to an empty value, clears the row's PUSH
//     columns.
//  4. Re-reads the sheet and diffs PUSH columns: any difference is an
//     unauthorized manual edit and is immediately reversed.
//
// PULL-triggered writes always complete before the PUSH-restoration pass,
// so the watcher's own writes are never mistaken for manual edits. A
// failure in one row is logged and the loop continues; only process-level
// failures (workbook unopenable) stop the watcher.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron"

	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/aggregate"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/classify"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/history"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/sheet"
	"github.com/hefarica/ARBITRAGEXPLUS2025/internal/snapshot"
)

// State is the watcher's lifecycle state.
type State int32

const (
	// StateIdle means the watcher is waiting for the next tick.
	StateIdle State = iota
	// StatePolling means the watcher is reading and diffing the sheet.
	StatePolling
	// StateDispatching means the watcher is processing detected changes.
	StateDispatching
	// StateStopped is terminal.
	StateStopped
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Fetcher aggregates upstream data for one entity. The aggregate package
// provides the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, entity string) *aggregate.Record
}

// Journal records applied write actions. *history.DB satisfies this.
type Journal interface {
	Record(history.Entry) error
	Prune(olderThan time.Duration) (int64, error)
}

// Config holds watcher tuning.
type Config struct {
	// SheetName is the sheet to watch.
	SheetName string

	// KeyColumn is the PULL column whose value is the entity key.
	KeyColumn string

	// PollInterval is the tick interval.
	PollInterval time.Duration

	// DebounceInterval is how long to wait after a workbook file event
	// before ticking, batching rapid saves together.
	DebounceInterval time.Duration

	// StartRow and EndRow bound the watched data rows (1-based, inclusive).
	StartRow int
	EndRow   int

	// MaxConcurrentRows bounds how many rows aggregate in parallel within
	// one tick.
	MaxConcurrentRows int

	// FetchTimeout bounds one row's aggregation.
	FetchTimeout time.Duration

	// FlushInterval is how often dirty snapshots are persisted in the
	// background, in addition to the end-of-tick flush.
	FlushInterval time.Duration

	// ReclassifyInterval is how often the header classification cache is
	// force-reloaded to pick up schema edits.
	ReclassifyInterval time.Duration

	// JournalRetention is how long journal entries are kept.
	JournalRetention time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SheetName:          "BLOCKCHAINS",
		KeyColumn:          "NAME",
		PollInterval:       1 * time.Second,
		DebounceInterval:   100 * time.Millisecond,
		StartRow:           2,
		EndRow:             100,
		MaxConcurrentRows:  4,
		FetchTimeout:       15 * time.Second,
		FlushInterval:      30 * time.Second,
		ReclassifyInterval: 10 * time.Minute,
		JournalRetention:   7 * 24 * time.Hour,
		Logger:             log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

// Watcher drives the synchronization loop.
type Watcher struct {
	adapter    sheet.Adapter
	classifier *classify.Classifier
	store      *snapshot.Store
	fetcher    Fetcher
	journal    Journal
	config     *Config

	watchPath string // workbook path for the file-change trigger, "" disables

	state  atomic.Int32
	kick   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates a Watcher. All collaborators are required except the
// journal, which is attached with SetJournal.
func New(adapter sheet.Adapter, classifier *classify.Classifier, store *snapshot.Store, fetcher Fetcher, config *Config) (*Watcher, error) {
	if adapter == nil {
		return nil, errors.New("adapter cannot be nil")
	}
	if classifier == nil {
		return nil, errors.New("classifier cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[watcher] ", log.LstdFlags)
	}

	return &Watcher{
		adapter:    adapter,
		classifier: classifier,
		store:      store,
		fetcher:    fetcher,
		config:     config,
		kick:       make(chan struct{}, 1),
	}, nil
}

// SetJournal attaches a change journal. Journal failures are logged, never
// escalated.
func (w *Watcher) SetJournal(j Journal) { w.journal = j }

// WatchWorkbook enables the fsnotify trigger for the workbook at path:
// saves short-circuit the poll wait instead of waiting a full interval.
func (w *Watcher) WatchWorkbook(path string) { w.watchPath = path }

// State returns the current lifecycle state.
func (w *Watcher) State() State { return State(w.state.Load()) }

// Start runs the watcher loop until ctx is cancelled. The in-flight tick
// is drained before Start returns; writes are never abandoned midway.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	// Prove the sheet is reachable before looping; an unopenable workbook
	// is fatal since no progress is possible.
	cols, err := w.classifier.Classify(w.config.SheetName)
	if err != nil {
		w.state.Store(int32(StateStopped))
		return fmt.Errorf("cannot classify sheet %q: %w", w.config.SheetName, err)
	}
	if len(cols) == 0 {
		w.config.Logger.Printf("WARNING: sheet %q has an empty schema, nothing to watch", w.config.SheetName)
	}

	sched := w.startMaintenance()
	defer func() {
		if sched != nil {
			sched.Stop()
		}
	}()

	if w.watchPath != "" {
		if err := w.startFileTrigger(loopCtx); err != nil {
			w.config.Logger.Printf("WARNING: workbook trigger disabled: %v", err)
		}
	}

	w.config.Logger.Printf("watching sheet %q rows %d..%d every %s",
		w.config.SheetName, w.config.StartRow, w.config.EndRow, w.config.PollInterval)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		// Stop flag checked at the top of every tick.
		select {
		case <-loopCtx.Done():
			w.wg.Wait()
			w.state.Store(int32(StateStopped))
			w.store.SaveDirty()
			w.config.Logger.Printf("watcher stopped")
			return nil
		case <-ticker.C:
			w.tick()
		case <-w.kick:
			// A workbook save landed; give the writer a moment to finish.
			time.Sleep(w.config.DebounceInterval)
			w.tick()
		}
	}
}

// Stop requests shutdown. The current tick finishes before Start returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// RunOnce executes a single tick. Used by the CLI --once mode and tests.
func (w *Watcher) RunOnce() error {
	return w.runTick()
}

// tick wraps runTick with row-boundary error containment: nothing short of
// a sheet-level read failure escalates, and even that only logs because
// the next tick may succeed.
func (w *Watcher) tick() {
	if err := w.runTick(); err != nil {
		w.config.Logger.Printf("WARNING: tick failed: %v", err)
	}
	w.state.Store(int32(StateIdle))
}

// runTick performs one full poll cycle.
func (w *Watcher) runTick() error {
	w.state.Store(int32(StatePolling))

	cols, err := w.classifier.Classify(w.config.SheetName)
	if err != nil {
		return fmt.Errorf("classification failed: %w", err)
	}
	if len(cols) == 0 {
		return nil
	}

	pullCols := classify.Filter(cols, classify.RolePull)
	pushCols := classify.Filter(cols, classify.RolePush)

	// UNKNOWN columns are excluded from both watch sets.
	watched := append(append([]classify.Column(nil), pullCols...), pushCols...)
	colIndex := classify.IndexByName(watched)

	data, err := w.adapter.Rows(w.config.SheetName, w.config.StartRow, w.config.EndRow)
	if err != nil {
		return fmt.Errorf("sheet read failed: %w", err)
	}

	pullChanges := w.store.DetectChanges(w.config.SheetName, data, colIndex, w.config.StartRow, classify.Names(pullCols))
	if len(pullChanges) > 0 {
		w.state.Store(int32(StateDispatching))
		w.processPullChanges(pullChanges, pushCols, colIndex)
	}

	// The restoration pass runs strictly after PULL-triggered writes so
	// they are not mistaken for manual edits.
	if err := w.restorePushColumns(colIndex, classify.Names(pushCols)); err != nil {
		w.config.Logger.Printf("WARNING: restoration pass failed: %v", err)
	}

	w.store.SaveDirty()
	return nil
}

// processPullChanges handles the detected PULL-column changes. Key-column
// changes trigger aggregation or clearing; other PULL edits only advance
// the snapshot. Row aggregations run concurrently under a bounded limit.
func (w *Watcher) processPullChanges(changes []snapshot.Change, pushCols []classify.Column, colIndex map[string]int) {
	var keyChanges, otherChanges []snapshot.Change
	for _, ch := range changes {
		if ch.ColumnName == w.config.KeyColumn {
			keyChanges = append(keyChanges, ch)
		} else {
			otherChanges = append(otherChanges, ch)
		}
	}

	if len(otherChanges) > 0 {
		cells := make([]snapshot.Cell, 0, len(otherChanges))
		for _, ch := range otherChanges {
			w.config.Logger.Printf("PULL edit %s!%s row %d: %q -> %q",
				ch.SheetName, ch.ColumnName, ch.Row, ch.OldValue, ch.NewValue)
			cells = append(cells, snapshot.Cell{Row: ch.Row, Col: ch.Col, Value: ch.NewValue})
		}
		w.store.UpdateCells(w.config.SheetName, cells)
	}

	if len(keyChanges) == 0 {
		return
	}

	limit := w.config.MaxConcurrentRows
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for _, ch := range keyChanges {
		wg.Add(1)
		sem <- struct{}{}
		go func(ch snapshot.Change) {
			defer wg.Done()
			defer func() { <-sem }()
			w.processKeyChange(ch, pushCols)
		}(ch)
	}
	wg.Wait()
}

// processKeyChange handles one key-column change: fetch-and-write for a
// new entity, clear for a removed one. Failures leave the snapshot
// untouched so the change is retried on the next tick.
func (w *Watcher) processKeyChange(ch snapshot.Change, pushCols []classify.Column) {
	newValue := strings.TrimSpace(ch.NewValue)
	oldValue := strings.TrimSpace(ch.OldValue)

	w.config.Logger.Printf("key change row %d: %q -> %q", ch.Row, ch.OldValue, ch.NewValue)

	switch {
	case newValue != "":
		w.syncRow(ch, newValue, pushCols)
	case oldValue != "":
		w.clearRow(ch, pushCols)
	default:
		// Whitespace-only churn; just advance the snapshot.
		w.store.UpdateCells(w.config.SheetName, []snapshot.Cell{
			{Row: ch.Row, Col: ch.Col, Value: ch.NewValue},
		})
	}
}

// syncRow aggregates data for the entity and writes it into the row's
// PUSH columns.
func (w *Watcher) syncRow(ch snapshot.Change, entity string, pushCols []classify.Column) {
	// The fetch deliberately ignores the stop signal: an in-flight
	// aggregation is drained, not abandoned mid-write.
	ctx, cancel := context.WithTimeout(context.Background(), w.config.FetchTimeout)
	defer cancel()

	rec := w.fetcher.Fetch(ctx, entity)

	values := make(map[string]string, len(pushCols))
	for _, col := range pushCols {
		if v, ok := rec.Fields[col.Name]; ok {
			values[col.Name] = v
		}
	}

	if err := w.adapter.UpdateRow(w.config.SheetName, ch.Row, values); err != nil {
		w.config.Logger.Printf("WARNING: row %d write failed, will retry next tick: %v", ch.Row, err)
		return
	}

	cells := make([]snapshot.Cell, 0, len(values)+1)
	cells = append(cells, snapshot.Cell{Row: ch.Row, Col: ch.Col, Value: ch.NewValue})
	for _, col := range pushCols {
		if v, ok := values[col.Name]; ok {
			cells = append(cells, snapshot.Cell{Row: ch.Row, Col: col.Index, Value: v})
		}
	}
	w.store.UpdateCells(w.config.SheetName, cells)

	w.record(history.Entry{
		Sheet: ch.SheetName, Row: ch.Row, Col: ch.Col, Column: ch.ColumnName,
		OldValue: ch.OldValue, NewValue: ch.NewValue,
		Action: history.ActionSync, ElapsedMS: rec.Elapsed.Milliseconds(),
	})

	w.config.Logger.Printf("row %d synced for %q: %d PUSH columns, health=%s, %s",
		ch.Row, entity, len(values), rec.Fields["HEALTH_STATUS"], rec.Elapsed.Round(time.Millisecond))
}

// clearRow blanks the row's PUSH columns after the user cleared the key.
func (w *Watcher) clearRow(ch snapshot.Change, pushCols []classify.Column) {
	names := classify.Names(pushCols)
	if err := w.adapter.ClearColumns(w.config.SheetName, ch.Row, names); err != nil {
		w.config.Logger.Printf("WARNING: row %d clear failed, will retry next tick: %v", ch.Row, err)
		return
	}

	cells := make([]snapshot.Cell, 0, len(pushCols)+1)
	cells = append(cells, snapshot.Cell{Row: ch.Row, Col: ch.Col, Value: ch.NewValue})
	for _, col := range pushCols {
		cells = append(cells, snapshot.Cell{Row: ch.Row, Col: col.Index, Value: ""})
	}
	w.store.UpdateCells(w.config.SheetName, cells)

	w.record(history.Entry{
		Sheet: ch.SheetName, Row: ch.Row, Col: ch.Col, Column: ch.ColumnName,
		OldValue: ch.OldValue, NewValue: ch.NewValue,
		Action: history.ActionClear,
	})

	w.config.Logger.Printf("row %d cleared (%d PUSH columns)", ch.Row, len(pushCols))
}

// restorePushColumns diffs PUSH columns against the snapshot and reverses
// any manual edit. The snapshot keeps the pre-edit value, not the user's.
func (w *Watcher) restorePushColumns(colIndex map[string]int, pushNames []string) error {
	if len(pushNames) == 0 {
		return nil
	}

	data, err := w.adapter.Rows(w.config.SheetName, w.config.StartRow, w.config.EndRow)
	if err != nil {
		return fmt.Errorf("sheet re-read failed: %w", err)
	}

	changes := w.store.DetectChanges(w.config.SheetName, data, colIndex, w.config.StartRow, pushNames)
	for _, ch := range changes {
		w.config.Logger.Printf("unauthorized PUSH edit %s!%s row %d: %q -> %q, restoring",
			ch.SheetName, ch.ColumnName, ch.Row, ch.OldValue, ch.NewValue)

		err := w.adapter.UpdateRow(w.config.SheetName, ch.Row, map[string]string{ch.ColumnName: ch.OldValue})
		if err != nil {
			w.config.Logger.Printf("WARNING: row %d restore failed, will retry next tick: %v", ch.Row, err)
			continue
		}

		// Re-assert the pre-edit value so the restore itself is not
		// detected as a change next tick.
		w.store.UpdateCells(w.config.SheetName, []snapshot.Cell{
			{Row: ch.Row, Col: ch.Col, Value: ch.OldValue},
		})

		w.record(history.Entry{
			Sheet: ch.SheetName, Row: ch.Row, Col: ch.Col, Column: ch.ColumnName,
			OldValue: ch.OldValue, NewValue: ch.NewValue,
			Action: history.ActionRestore,
		})
	}

	return nil
}

// record appends to the journal when one is attached.
func (w *Watcher) record(e history.Entry) {
	if w.journal == nil {
		return
	}
	if err := w.journal.Record(e); err != nil {
		w.config.Logger.Printf("WARNING: journal write failed: %v", err)
	}
}

// startMaintenance schedules background upkeep: periodic snapshot flushes,
// header reclassification, and journal pruning.
func (w *Watcher) startMaintenance() *gocron.Scheduler {
	sched := gocron.NewScheduler(time.UTC)

	if w.config.FlushInterval > 0 {
		sched.Every(w.config.FlushInterval).Do(func() {
			if n := w.store.SaveDirty(); n > 0 {
				w.config.Logger.Printf("flushed %d snapshot(s)", n)
			}
		})
	}

	if w.config.ReclassifyInterval > 0 {
		sched.Every(w.config.ReclassifyInterval).Do(func() {
			if _, err := w.classifier.ForceReload(w.config.SheetName); err != nil {
				w.config.Logger.Printf("WARNING: reclassification failed: %v", err)
			}
		})
	}

	if w.journal != nil && w.config.JournalRetention > 0 {
		sched.Every(1 * time.Hour).Do(func() {
			if n, err := w.journal.Prune(w.config.JournalRetention); err != nil {
				w.config.Logger.Printf("WARNING: journal prune failed: %v", err)
			} else if n > 0 {
				w.config.Logger.Printf("pruned %d journal entries", n)
			}
		})
	}

	sched.StartAsync()
	return sched
}

// startFileTrigger watches the workbook file and kicks the loop on saves.
func (w *Watcher) startFileTrigger(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory: spreadsheet apps replace the file on save,
	// which would drop a watch on the file itself.
	dir := filepath.Dir(w.watchPath)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	base := filepath.Base(w.watchPath)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer fw.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.kick <- struct{}{}:
				default: // a kick is already pending
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.config.Logger.Printf("WARNING: file watcher error: %v", err)
			}
		}
	}()

	w.config.Logger.Printf("workbook trigger active on %s", w.watchPath)
	return nil
}
