package replay

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTimeline reports a state query against a timeline with no samples.
	ErrEmptyTimeline = errors.New("replay: timeline has no samples")
	// ErrRecorderActive reports a begin call while a recording is in progress.
	ErrRecorderActive = errors.New("replay: recorder already recording")
	// ErrRecorderIdle reports a stop call with no recording in progress.
	ErrRecorderIdle = errors.New("replay: recorder is idle")
	// ErrMissingPrimary reports a live-state operation that found no primary
	// handle for an entity id.
	ErrMissingPrimary = errors.New("replay: no primary handle for entity")
	// ErrTransitionActive reports an attempt to start a transition while one
	// is still in flight.
	ErrTransitionActive = errors.New("replay: transition already in flight")
	// ErrNoRecording reports a playback operation with no active recording.
	ErrNoRecording = errors.New("replay: no active recording")
)

// SerializationError wraps a failure to encode or write a recording document.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("replay: serialize recording: %v", e.Err)
	}
	return fmt.Sprintf("replay: serialize recording %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DeserializationError wraps a failure to read or decode a recording
// document. A load that fails this way leaves in-memory state untouched.
type DeserializationError struct {
	Path string
	Err  error
}

func (e *DeserializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("replay: parse recording: %v", e.Err)
	}
	return fmt.Sprintf("replay: parse recording %s: %v", e.Path, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }
