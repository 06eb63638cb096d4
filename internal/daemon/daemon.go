// Package daemon watches the sync checkout's record directory and feeds
// the dirty set, so a later sync cycle knows which records changed
// without rescanning everything.
//
// The daemon:
//  1. Watches records/ in the private checkout for file changes
//  2. Marks changed record ids dirty in the state store (debounced)
//  3. Optionally runs a periodic full sync
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/skeinhq/skein/internal/engine"
	"github.com/skeinhq/skein/internal/state"
)

// Config holds daemon configuration.
type Config struct {
	// Debounce is how long to wait before processing file changes.
	// Batches rapid successive writes to the same record.
	Debounce time.Duration

	// SyncInterval is how often to run an automatic full sync.
	// Zero disables periodic sync; the daemon only maintains the dirty set.
	SyncInterval time.Duration

	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 200 * time.Millisecond,
		Logger:   log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates file watching and dirty-set maintenance.
type Daemon struct {
	eng        *engine.Engine
	store      *state.Store
	recordsDir string
	config     *Config

	watcher *fsnotify.Watcher

	pending   map[string]time.Time // record id -> last event time
	pendingMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon watching recordsDir. The engine may be nil when
// periodic sync is disabled.
func New(eng *engine.Engine, store *state.Store, recordsDir string, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if recordsDir == "" {
		return nil, fmt.Errorf("recordsDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.SyncInterval > 0 && eng == nil {
		return nil, fmt.Errorf("periodic sync requires an engine")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Daemon{
		eng:        eng,
		store:      store,
		recordsDir: recordsDir,
		config:     config,
		watcher:    watcher,
		pending:    make(map[string]time.Time),
	}, nil
}

// Start begins watching. Blocks until ctx is cancelled or a fatal error
// occurs.
func (d *Daemon) Start(ctx context.Context) error {
	if err := os.MkdirAll(d.recordsDir, 0755); err != nil {
		return fmt.Errorf("failed to create records directory: %w", err)
	}
	if err := d.watcher.Add(d.recordsDir); err != nil {
		return fmt.Errorf("failed to watch records directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.config.Logger.Printf("watching %s", d.recordsDir)

	d.wg.Add(2)
	go d.watchEvents(ctx)
	go d.flushPending(ctx)

	if d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicSync(ctx)
	}

	<-ctx.Done()
	return d.Stop()
}

// Stop shuts the daemon down and waits for its goroutines.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("stopping")
	if d.cancel != nil {
		d.cancel()
	}
	err := d.watcher.Close()
	d.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// watchEvents translates filesystem events into pending dirty marks.
func (d *Daemon) watchEvents(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			id := recordID(event.Name)
			if id == "" {
				continue
			}
			d.pendingMu.Lock()
			d.pending[id] = time.Now()
			d.pendingMu.Unlock()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("watch error: %v", err)
		}
	}
}

// flushPending marks debounced pending ids dirty in the state store.
func (d *Daemon) flushPending(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-d.config.Debounce)

			d.pendingMu.Lock()
			var ready []string
			for id, at := range d.pending {
				if at.Before(cutoff) {
					ready = append(ready, id)
					delete(d.pending, id)
				}
			}
			d.pendingMu.Unlock()

			for _, id := range ready {
				if err := d.store.MarkDirty(id); err != nil {
					d.config.Logger.Printf("failed to mark %s dirty: %v", id, err)
					continue
				}
				d.config.Logger.Printf("marked dirty: %s", id)
			}
		}
	}
}

// periodicSync runs a full sync on the configured interval. Lock
// contention with a manual sync is not an error; the next tick retries.
func (d *Daemon) periodicSync(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := d.eng.Sync(ctx, engine.ModeFull)
			if err != nil {
				if engine.IsRetryable(err) {
					d.config.Logger.Printf("sync deferred: %v", err)
				} else {
					d.config.Logger.Printf("sync failed: %v", err)
				}
				continue
			}
			d.config.Logger.Printf("auto-sync: pulled=%d pushed=%d resolved=%d",
				summary.Pulled, summary.Pushed, summary.Resolved)
		}
	}
}

// recordID extracts the record id from a watched path, or "" for files
// that are not record files (temp files, the directory itself).
func recordID(path string) string {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".json") {
		return ""
	}
	return strings.TrimSuffix(name, ".json")
}
