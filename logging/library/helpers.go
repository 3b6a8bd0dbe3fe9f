package library

import (
	"context"

	"github.com/HowardHan99/RerunPublicRobot/logging"
)

const (
	// EventRecordingIndexed is emitted when the catalog adds or refreshes a recording entry.
	EventRecordingIndexed logging.EventType = "library.recording_indexed"
	// EventRecordingRemoved is emitted when a recording disappears from the watched directory.
	EventRecordingRemoved logging.EventType = "library.recording_removed"
	// EventScanFailed is emitted when a file in the watched directory cannot be indexed.
	EventScanFailed logging.EventType = "library.scan_failed"
)

// IndexedPayload captures the catalog entry written for a recording file.
type IndexedPayload struct {
	Path            string  `json:"path"`
	Checksum        string  `json:"checksum"`
	DurationSeconds float64 `json:"durationSeconds"`
	Timelines       int     `json:"timelines"`
	Samples         int     `json:"samples"`
}

// RemovedPayload captures the file the catalog dropped.
type RemovedPayload struct {
	Path string `json:"path"`
}

// ScanFailedPayload captures the file that failed to index and the error.
type ScanFailedPayload struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RecordingIndexed publishes an informational event when a recording enters the catalog.
func RecordingIndexed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload IndexedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventRecordingIndexed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLibrary,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// RecordingRemoved publishes an informational event when a recording leaves the catalog.
func RecordingRemoved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload RemovedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventRecordingRemoved,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLibrary,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// ScanFailed publishes an error event when indexing a file fails.
func ScanFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ScanFailedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventScanFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryLibrary,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
