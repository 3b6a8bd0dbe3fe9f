package recording

import (
	"context"

	"github.com/HowardHan99/RerunPublicRobot/logging"
)

const (
	// EventStarted is emitted when a capture session begins.
	EventStarted logging.EventType = "recording.started"
	// EventStopped is emitted when a capture session finalizes with samples.
	EventStopped logging.EventType = "recording.stopped"
	// EventStoppedEmpty is emitted when a capture session finalizes without a single sample.
	EventStoppedEmpty logging.EventType = "recording.stopped_empty"
	// EventSaved is emitted when a recording document lands on disk.
	EventSaved logging.EventType = "recording.saved"
	// EventLoaded is emitted when a recording document is parsed and activated.
	EventLoaded logging.EventType = "recording.loaded"
	// EventLoadFailed is emitted when a recording document cannot be read or parsed.
	EventLoadFailed logging.EventType = "recording.load_failed"
)

// StartedPayload captures the capture-session setup.
type StartedPayload struct {
	Entities       int     `json:"entities"`
	SampleInterval float64 `json:"sampleInterval"`
}

// StoppedPayload summarizes a finalized capture session.
type StoppedPayload struct {
	DurationSeconds float64 `json:"durationSeconds"`
	Samples         int     `json:"samples"`
	Timelines       int     `json:"timelines"`
	Skipped         int     `json:"skipped"`
}

// FilePayload names the on-disk document an operation touched.
type FilePayload struct {
	Path    string `json:"path"`
	Samples int    `json:"samples,omitempty"`
}

// LoadFailedPayload carries the failure detail for a rejected document.
type LoadFailedPayload struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Started publishes a capture-start event.
func Started(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StartedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventStarted,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRecording,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// Stopped publishes a capture-stop event, downgrading to a warning when the
// session produced no samples.
func Stopped(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload StoppedPayload, empty bool, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventStopped,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRecording,
		Payload:  payload,
		Extra:    extra,
	}
	if empty {
		event.Type = EventStoppedEmpty
		event.Severity = logging.SeverityWarn
	}
	pub.Publish(ctx, event)
}

// Saved publishes a document-written event.
func Saved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FilePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSaved,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRecording,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// Loaded publishes a document-activated event.
func Loaded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FilePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventLoaded,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRecording,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// LoadFailed publishes a document-rejected event.
func LoadFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload LoadFailedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventLoadFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityError,
		Category: logging.CategoryRecording,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
