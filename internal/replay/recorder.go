package replay

import (
	"sync"

	"github.com/HowardHan99/RerunPublicRobot/internal/runtime"
)

// RecorderState identifies which side of the record lifecycle the recorder
// is on.
type RecorderState string

const (
	// RecorderIdle means no recording is in progress.
	RecorderIdle RecorderState = "idle"
	// RecorderRecording means samples are being captured.
	RecorderRecording RecorderState = "recording"
)

// Well-known property keys the recorder captures beyond the pose, gated on
// the handle's capabilities.
const (
	PropLinearVelocity  = "linear_velocity"
	PropAngularVelocity = "angular_velocity"
	PropKinematic       = "kinematic"
	PropAnimationState  = "animation_state"
	PropAnimationTime   = "animation_time"
	PropAnimationSpeed  = "animation_speed"
)

// RecorderConfig carries the sampling knobs.
type RecorderConfig struct {
	// SampleInterval is the minimum time between samples, in seconds.
	SampleInterval float64
}

// DefaultRecorderConfig returns the sampling defaults.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{SampleInterval: 0.1}
}

func (c RecorderConfig) normalized() RecorderConfig {
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultRecorderConfig().SampleInterval
	}
	return c
}

// SampleReport describes what one sampling check did.
type SampleReport struct {
	Taken     bool
	Timestamp float64
	Captured  int
	Skipped   int
}

// StopReport summarizes a finished recording. Empty flags a recording with
// zero samples, which still succeeds but will have no data to play back.
type StopReport struct {
	TotalDuration float64
	Samples       int
	Timelines     int
	Skipped       int
	Empty         bool
}

// Recorder drives cooperative, tick-checked sampling of every registered
// entity into a TimelineStore. It owns no goroutine; the host loop calls
// Sample once per tick and the recorder decides whether enough time has
// elapsed.
type Recorder struct {
	mu         sync.Mutex
	cfg        RecorderConfig
	state      RecorderState
	store      *TimelineStore
	startTime  float64
	lastSample float64
	hasSampled bool
	skipped    int
}

// NewRecorder constructs an idle recorder writing into store.
func NewRecorder(cfg RecorderConfig, store *TimelineStore) *Recorder {
	return &Recorder{
		cfg:   cfg.normalized(),
		state: RecorderIdle,
		store: store,
	}
}

// State returns the current lifecycle state.
func (r *Recorder) State() RecorderState {
	if r == nil {
		return RecorderIdle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	return r.State() == RecorderRecording
}

// Begin starts a recording at the given time: the store is reset, an empty
// timeline is created for every currently registered entity, and the first
// Sample call fires immediately. Beginning while already recording fails
// with ErrRecorderActive.
func (r *Recorder) Begin(now float64, reg *Registry) error {
	if r == nil {
		return ErrRecorderIdle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == RecorderRecording {
		return ErrRecorderActive
	}

	r.store.Reset()
	for _, h := range reg.SampleSet() {
		r.store.EnsureTimeline(h.EntityID())
	}

	r.startTime = now
	r.lastSample = now
	r.hasSampled = false
	r.skipped = 0
	r.state = RecorderRecording
	return nil
}

// Sample runs the cooperative per-tick check: when recording and at least
// SampleInterval has elapsed since the last sample (or no sample was taken
// yet), it captures every registered, live entity and appends the snapshots.
// Entities with an empty id or that are not live are skipped and counted.
func (r *Recorder) Sample(now float64, reg *Registry) SampleReport {
	if r == nil {
		return SampleReport{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecording {
		return SampleReport{}
	}
	if r.hasSampled && now-r.lastSample < r.cfg.SampleInterval {
		return SampleReport{}
	}

	timestamp := now - r.startTime
	report := SampleReport{Taken: true, Timestamp: timestamp}
	for _, h := range reg.SampleSet() {
		if h.EntityID() == "" || !h.Live() {
			r.skipped++
			report.Skipped++
			continue
		}
		r.store.Append(h.EntityID(), CaptureSnapshot(h, timestamp))
		report.Captured++
	}
	r.lastSample = now
	r.hasSampled = true
	return report
}

// Stop finalizes the recording with total_duration = now - start time and
// returns it together with a summary. Stopping with zero samples still
// succeeds; the summary's Empty flag carries the warning. Stopping while
// idle fails with ErrRecorderIdle.
func (r *Recorder) Stop(now float64) (*Recording, StopReport, error) {
	if r == nil {
		return nil, StopReport{}, ErrRecorderIdle
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecording {
		return nil, StopReport{}, ErrRecorderIdle
	}

	total := now - r.startTime
	rec := r.store.Finalize(total)
	r.state = RecorderIdle

	report := StopReport{
		TotalDuration: total,
		Samples:       rec.SampleCount(),
		Timelines:     len(rec.Timelines),
		Skipped:       r.skipped,
		Empty:         rec.Empty(),
	}
	return rec, report, nil
}

// CaptureSnapshot reads one entity's current state into a snapshot stamped
// with the given recording-relative timestamp. Beyond the pose, the
// capability flags decide which properties are captured.
func CaptureSnapshot(h runtime.Handle, timestamp float64) StateSnapshot {
	pose := h.Pose()
	snap := StateSnapshot{
		EntityID:  h.EntityID(),
		Timestamp: timestamp,
		Position:  pose.Position,
		Rotation:  pose.Rotation,
		Scale:     pose.Scale,
	}

	caps := h.Capabilities()
	if !caps.Velocity && !caps.Kinematic && !caps.Animation {
		return snap
	}
	props := NewProperties()
	if caps.Velocity {
		props.Set(PropLinearVelocity, Vector3Property(h.LinearVelocity()))
		props.Set(PropAngularVelocity, Vector3Property(h.AngularVelocity()))
	}
	if caps.Kinematic {
		props.Set(PropKinematic, BoolProperty(h.Kinematic()))
	}
	if caps.Animation {
		if anim, ok := h.Animation(); ok {
			props.Set(PropAnimationState, StringProperty(anim.Name))
			props.Set(PropAnimationTime, FloatProperty(anim.Time))
			props.Set(PropAnimationSpeed, FloatProperty(anim.Speed))
		}
	}
	if props.Len() > 0 {
		snap.Properties = props
	}
	return snap
}
