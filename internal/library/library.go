package library

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	"github.com/HowardHan99/RerunPublicRobot/logging"
	logginglibrary "github.com/HowardHan99/RerunPublicRobot/logging/library"
)

const (
	// Ext is the suffix recording documents carry. Sibling files sharing the
	// base name (a runtime's own event dumps, for example) are left alone.
	Ext = ".replay.json"

	// debounceWindow delays rename reconciliation so a burst of events
	// triggers one rescan.
	debounceWindow = 200 * time.Millisecond
)

// Config carries the library settings.
type Config struct {
	// Dir is the watched recordings directory. Created if missing.
	Dir string
	// IndexPath is the catalog database file. Defaults to index.db inside
	// Dir.
	IndexPath string
	// Logger receives scan and watch diagnostics. Defaults to the standard
	// logger.
	Logger *log.Logger
	// Publisher receives library events. Nil disables them.
	Publisher logging.Publisher
	// Tick stamps events with the current engine tick. Nil stamps zero.
	Tick func() uint64
}

// Library catalogs the recording files under one directory. Scan brings the
// catalog up to date in one pass; Watch keeps it synchronized with on-disk
// churn until its context ends.
type Library struct {
	dir       string
	db        *DB
	logger    *log.Logger
	publisher logging.Publisher
	tick      func() uint64
}

// Open creates the recordings directory if needed and opens the catalog.
func Open(cfg Config) (*Library, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("library: recordings directory not set")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("library: create %s: %w", cfg.Dir, err)
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(cfg.Dir, "index.db")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	db, err := OpenDB(cfg.IndexPath)
	if err != nil {
		return nil, err
	}
	return &Library{
		dir:       cfg.Dir,
		db:        db,
		logger:    cfg.Logger,
		publisher: cfg.Publisher,
		tick:      cfg.Tick,
	}, nil
}

// Close closes the catalog database.
func (l *Library) Close() error {
	return l.db.Close()
}

// Dir returns the watched recordings directory.
func (l *Library) Dir() string { return l.dir }

// PathFor returns the on-disk path a recording with the given name uses.
func (l *Library) PathFor(name string) string {
	return filepath.Join(l.dir, name+Ext)
}

// List returns every catalog entry ordered by name.
func (l *Library) List() ([]Entry, error) {
	return l.db.List()
}

// Find returns the newest catalog entry with the given name, if any.
func (l *Library) Find(name string) (Entry, bool, error) {
	return l.db.Find(name)
}

// Scan walks the recordings directory and brings the catalog up to date:
// new and changed files are indexed, entries whose files are gone are
// removed. Files that fail to parse are reported and skipped.
func (l *Library) Scan() error {
	checksums, err := l.db.Checksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{})
	walkErr := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, Ext) {
			return nil
		}
		rel, relErr := filepath.Rel(l.dir, path)
		if relErr != nil {
			return nil
		}
		disk[rel] = struct{}{}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			l.scanFailed(rel, readErr)
			return nil
		}
		sum := checksumHex(data)
		if checksums[rel] == sum {
			return nil
		}
		if idxErr := l.indexBytes(rel, data, sum); idxErr != nil {
			l.scanFailed(rel, idxErr)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("library: scan %s: %w", l.dir, walkErr)
	}

	for rel := range checksums {
		if _, ok := disk[rel]; !ok {
			l.removeEntry(rel)
		}
	}
	return nil
}

// IndexFile reads and catalogs a single file under the recordings
// directory, given its path relative to it. Unchanged files are a no-op.
func (l *Library) IndexFile(rel string) error {
	data, err := os.ReadFile(filepath.Join(l.dir, rel))
	if err != nil {
		return err
	}
	sum := checksumHex(data)
	checksums, err := l.db.Checksums()
	if err != nil {
		return err
	}
	if checksums[rel] == sum {
		return nil
	}
	return l.indexBytes(rel, data, sum)
}

// Watch follows filesystem events under the recordings directory until ctx
// is cancelled. Renames schedule a debounced rescan since the event names
// only the old path.
func (l *Library) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, l.dir); err != nil {
		return err
	}
	l.logger.Printf("library: watching %s", l.dir)

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(debounceWindow)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(debounceWindow)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			l.logger.Printf("library: watcher stopped")
			return nil

		case <-reconcileCh:
			if err := l.Scan(); err != nil {
				l.logger.Printf("library: reconcile failed: %v", err)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						l.logger.Printf("library: watch new dir %s: %v", ev.Name, addErr)
					}
					scheduleReconcile()
					continue
				}
			}
			if !strings.HasSuffix(ev.Name, Ext) {
				continue
			}
			rel, relErr := filepath.Rel(l.dir, ev.Name)
			if relErr != nil {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				if idxErr := l.IndexFile(rel); idxErr != nil {
					l.scanFailed(rel, idxErr)
				}
			case ev.Op&fsnotify.Remove != 0:
				l.removeEntry(rel)
			case ev.Op&fsnotify.Rename != 0:
				// Rename names the old path only; the new path arrives as a
				// separate create. Drop the old entry now and rescan shortly
				// for stragglers.
				l.removeEntry(rel)
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Printf("library: watch error: %v", watchErr)
		}
	}
}

func (l *Library) indexBytes(rel string, data []byte, sum string) error {
	rec, err := replay.DecodeRecording(data)
	if err != nil {
		return err
	}

	ids := rec.EntityIDs()

	capturedAt := time.Now()
	if info, statErr := os.Stat(filepath.Join(l.dir, rel)); statErr == nil {
		capturedAt = info.ModTime()
	}

	entry := Entry{
		ID:         uuid.NewString(),
		Name:       strings.TrimSuffix(filepath.Base(rel), Ext),
		Path:       rel,
		Checksum:   sum,
		Duration:   rec.TotalDuration,
		Entities:   len(ids),
		Samples:    rec.SampleCount(),
		CapturedAt: capturedAt,
	}
	if err := l.db.Upsert(entry); err != nil {
		return err
	}

	l.logger.Printf("library: indexed %s (%.2fs, %d timelines, %d samples)",
		rel, entry.Duration, entry.Entities, entry.Samples)
	logginglibrary.RecordingIndexed(context.Background(), l.publisher, l.tickNow(),
		logging.EntityRef{ID: entry.Name, Kind: logging.EntityKindRecording},
		logginglibrary.IndexedPayload{
			Path:            rel,
			Checksum:        sum,
			DurationSeconds: entry.Duration,
			Timelines:       entry.Entities,
			Samples:         entry.Samples,
		}, nil)
	return nil
}

func (l *Library) removeEntry(rel string) {
	deleted, err := l.db.Delete(rel)
	if err != nil {
		l.logger.Printf("library: remove %s: %v", rel, err)
		return
	}
	if !deleted {
		return
	}
	l.logger.Printf("library: removed %s", rel)
	logginglibrary.RecordingRemoved(context.Background(), l.publisher, l.tickNow(),
		logging.EntityRef{ID: strings.TrimSuffix(filepath.Base(rel), Ext), Kind: logging.EntityKindRecording},
		logginglibrary.RemovedPayload{Path: rel}, nil)
}

func (l *Library) scanFailed(rel string, err error) {
	l.logger.Printf("library: index %s: %v", rel, err)
	logginglibrary.ScanFailed(context.Background(), l.publisher, l.tickNow(),
		logging.EntityRef{ID: rel, Kind: logging.EntityKindRecording},
		logginglibrary.ScanFailedPayload{Path: rel, Error: err.Error()}, nil)
}

func (l *Library) tickNow() uint64 {
	if l.tick == nil {
		return 0
	}
	return l.tick()
}

// checksumHex returns the hex-encoded SHA-256 digest of data.
func checksumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
