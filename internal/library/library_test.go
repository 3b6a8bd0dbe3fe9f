package library

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/HowardHan99/RerunPublicRobot/internal/geom"
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	"github.com/HowardHan99/RerunPublicRobot/logging"
	logginglibrary "github.com/HowardHan99/RerunPublicRobot/logging/library"
)

type eventLog struct {
	mu     sync.Mutex
	events []logging.Event
}

func (l *eventLog) Publish(ctx context.Context, event logging.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) count(eventType logging.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, event := range l.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func sampleRecording(t *testing.T, duration float64) *replay.Recording {
	t.Helper()
	store := replay.NewTimelineStore(nil)
	for _, ts := range []float64{0, duration / 2, duration} {
		if !store.Append("robot-1", replay.StateSnapshot{
			EntityID:  "robot-1",
			Timestamp: ts,
			Position:  geom.Vec3{X: ts},
			Rotation:  geom.IdentityQuat(),
			Scale:     geom.Vec3{X: 1, Y: 1, Z: 1},
		}) {
			t.Fatalf("append sample at %v", ts)
		}
	}
	return store.Finalize(duration)
}

func openTestLibrary(t *testing.T) (*Library, *eventLog) {
	t.Helper()
	events := &eventLog{}
	lib, err := Open(Config{
		Dir:       t.TempDir(),
		Logger:    log.New(io.Discard, "", 0),
		Publisher: events,
	})
	if err != nil {
		t.Fatalf("open library: %v", err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib, events
}

func TestLibraryScanIndexesAndPrunes(t *testing.T) {
	lib, events := openTestLibrary(t)

	if err := replay.SaveRecording(sampleRecording(t, 2.0), lib.PathFor("alpha")); err != nil {
		t.Fatalf("save alpha: %v", err)
	}
	if err := replay.SaveRecording(sampleRecording(t, 4.0), lib.PathFor("beta")); err != nil {
		t.Fatalf("save beta: %v", err)
	}
	if err := os.WriteFile(lib.PathFor("broken"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(lib.Dir(), "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("write decoy: %v", err)
	}

	if err := lib.Scan(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	entries, err := lib.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "alpha" || entries[1].Name != "beta" {
		t.Fatalf("expected name order alpha, beta; got %q, %q", entries[0].Name, entries[1].Name)
	}
	alpha := entries[0]
	if alpha.Duration != 2.0 || alpha.Entities != 1 || alpha.Samples != 3 {
		t.Fatalf("unexpected alpha entry %+v", alpha)
	}
	if alpha.ID == "" || alpha.Checksum == "" {
		t.Fatalf("expected id and checksum, got %+v", alpha)
	}
	if events.count(logginglibrary.EventRecordingIndexed) != 2 {
		t.Fatalf("expected 2 indexed events, got %d", events.count(logginglibrary.EventRecordingIndexed))
	}
	if events.count(logginglibrary.EventScanFailed) != 1 {
		t.Fatalf("expected 1 scan failure event, got %d", events.count(logginglibrary.EventScanFailed))
	}

	// A rescan with nothing changed is quiet.
	if err := lib.Scan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if events.count(logginglibrary.EventRecordingIndexed) != 2 {
		t.Fatalf("expected unchanged files to skip indexing")
	}

	// Rewriting a file refreshes the entry but keeps its id.
	if err := replay.SaveRecording(sampleRecording(t, 6.0), lib.PathFor("alpha")); err != nil {
		t.Fatalf("rewrite alpha: %v", err)
	}
	if err := lib.Scan(); err != nil {
		t.Fatalf("scan after rewrite: %v", err)
	}
	refreshed, ok, err := lib.Find("alpha")
	if err != nil || !ok {
		t.Fatalf("find alpha: ok=%v err=%v", ok, err)
	}
	if refreshed.Duration != 6.0 {
		t.Fatalf("expected refreshed duration 6.0, got %v", refreshed.Duration)
	}
	if refreshed.ID != alpha.ID {
		t.Fatalf("expected stable id %q, got %q", alpha.ID, refreshed.ID)
	}

	// Removing a file prunes its entry on the next scan.
	if err := os.Remove(lib.PathFor("beta")); err != nil {
		t.Fatalf("remove beta: %v", err)
	}
	if err := lib.Scan(); err != nil {
		t.Fatalf("scan after remove: %v", err)
	}
	entries, err = lib.List()
	if err != nil {
		t.Fatalf("list after remove: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "alpha" {
		t.Fatalf("expected only alpha left, got %+v", entries)
	}
	if events.count(logginglibrary.EventRecordingRemoved) != 1 {
		t.Fatalf("expected 1 removed event, got %d", events.count(logginglibrary.EventRecordingRemoved))
	}
	if _, ok, _ := lib.Find("beta"); ok {
		t.Fatalf("expected beta gone from the catalog")
	}
}

func TestLibraryIndexFileSkipsUnchanged(t *testing.T) {
	lib, events := openTestLibrary(t)

	if err := replay.SaveRecording(sampleRecording(t, 1.0), lib.PathFor("run")); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := lib.IndexFile("run" + Ext); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := lib.IndexFile("run" + Ext); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if got := events.count(logginglibrary.EventRecordingIndexed); got != 1 {
		t.Fatalf("expected a single indexed event, got %d", got)
	}
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}

func TestLibraryWatchFollowsDirectoryChurn(t *testing.T) {
	lib, _ := openTestLibrary(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go lib.Watch(ctx)
	time.Sleep(100 * time.Millisecond)

	if err := replay.SaveRecording(sampleRecording(t, 3.0), lib.PathFor("live")); err != nil {
		t.Fatalf("save live: %v", err)
	}
	eventually(t, 5*time.Second, func() bool {
		_, ok, err := lib.Find("live")
		return err == nil && ok
	}, "dropped-in recording never indexed")

	if err := os.Remove(lib.PathFor("live")); err != nil {
		t.Fatalf("remove live: %v", err)
	}
	eventually(t, 5*time.Second, func() bool {
		_, ok, err := lib.Find("live")
		return err == nil && !ok
	}, "removed recording never pruned")
}
