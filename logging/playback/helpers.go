package playback

import (
	"context"

	"github.com/HowardHan99/RerunPublicRobot/logging"
)

const (
	// EventStarted is emitted when playback begins or resumes.
	EventStarted logging.EventType = "playback.started"
	// EventPaused is emitted when playback halts at a position.
	EventPaused logging.EventType = "playback.paused"
	// EventSeeked is emitted when the playback position jumps.
	EventSeeked logging.EventType = "playback.seeked"
	// EventSpeedChanged is emitted when the playback rate changes.
	EventSpeedChanged logging.EventType = "playback.speed_changed"
	// EventFinished is emitted when playback reaches the end of the recording.
	EventFinished logging.EventType = "playback.finished"
)

// PositionPayload captures a playback position in seconds.
type PositionPayload struct {
	Position float64 `json:"position"`
	Speed    float64 `json:"speed,omitempty"`
}

// SeekPayload captures a position jump.
type SeekPayload struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// SpeedPayload captures a playback-rate change.
type SpeedPayload struct {
	Previous float64 `json:"previous"`
	Speed    float64 `json:"speed"`
}

// Started publishes a playback-start event.
func Started(ctx context.Context, pub logging.Publisher, tick uint64, payload PositionPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventStarted,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPlayback,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// Paused publishes a playback-pause event.
func Paused(ctx context.Context, pub logging.Publisher, tick uint64, payload PositionPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventPaused,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPlayback,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// Seeked publishes a position-jump event.
func Seeked(ctx context.Context, pub logging.Publisher, tick uint64, payload SeekPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSeeked,
		Tick:     tick,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPlayback,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// SpeedChanged publishes a playback-rate event.
func SpeedChanged(ctx context.Context, pub logging.Publisher, tick uint64, payload SpeedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventSpeedChanged,
		Tick:     tick,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryPlayback,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// Finished publishes an end-of-recording event.
func Finished(ctx context.Context, pub logging.Publisher, tick uint64, payload PositionPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventFinished,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPlayback,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
