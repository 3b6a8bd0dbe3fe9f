package rerun

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	"github.com/HowardHan99/RerunPublicRobot/internal/runtime"
	"github.com/HowardHan99/RerunPublicRobot/internal/telemetry"
	"github.com/HowardHan99/RerunPublicRobot/logging"
	loggingplayback "github.com/HowardHan99/RerunPublicRobot/logging/playback"
	loggingrecording "github.com/HowardHan99/RerunPublicRobot/logging/recording"
	loggingsession "github.com/HowardHan99/RerunPublicRobot/logging/session"
	loggingtransition "github.com/HowardHan99/RerunPublicRobot/logging/transition"
)

// Metric keys the engine reports through its telemetry adapter.
const (
	MetricEngineTicks          = "engine.ticks"
	MetricSamplesCaptured      = "engine.samples_captured"
	MetricHandleReplacements   = "engine.handle_replacements"
	MetricTransitionsCompleted = "engine.transitions_completed"
	MetricTransitionsFailed    = "engine.transitions_failed"
	MetricRecordingsLoaded     = "engine.recordings_loaded"
	MetricRecordingsSaved      = "engine.recordings_saved"
)

// engineActor is the event actor for engine-initiated lifecycle events.
var engineActor = logging.EntityRef{ID: "engine", Kind: logging.EntityKindEngine}

// EngineConfig carries the engine's tuning knobs. The zero value is usable;
// missing fields fall back to defaults.
type EngineConfig struct {
	// SecondaryContainers lists the hierarchy roots whose descendants
	// register as replay stand-ins rather than live entities.
	SecondaryContainers []string
	// Recorder configures sample pacing.
	Recorder replay.RecorderConfig
	// Transition configures handback tolerances and settle pacing.
	Transition replay.TransitionConfig
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		SecondaryContainers: []string{"Replay"},
		Recorder:            replay.DefaultRecorderConfig(),
		Transition:          replay.DefaultTransitionConfig(),
	}
}

func (c EngineConfig) normalized() EngineConfig {
	if len(c.SecondaryContainers) == 0 {
		c.SecondaryContainers = append([]string(nil), DefaultEngineConfig().SecondaryContainers...)
	}
	if c.Recorder.SampleInterval <= 0 {
		c.Recorder = replay.DefaultRecorderConfig()
	}
	return c
}

// Deps carries the engine's injected dependencies. The zero value is valid:
// log output and metrics are discarded and events go to a no-op publisher.
type Deps struct {
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

func (d Deps) normalized() Deps {
	if d.Logger == nil {
		d.Logger = telemetry.WrapLogger(nil)
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.WrapMetrics(nil)
	}
	if d.Publisher == nil {
		d.Publisher = logging.NopPublisher()
	}
	return d
}

// TickSummary reports what one Advance call did.
type TickSummary struct {
	Tick             uint64
	Sample           replay.SampleReport
	TransitionPhase  replay.TransitionPhase
	Transition       *replay.TransitionReport
	PlaybackFinished bool
}

// Diagnostics is a point-in-time view of the engine for operators.
type Diagnostics struct {
	Tick              uint64
	Recorder          replay.RecorderState
	Primaries         int
	Secondaries       int
	TransitionActive  bool
	Playing           bool
	Position          float64
	Normalized        float64
	Speed             float64
	HasRecording      bool
	RecordingDuration float64
	RecordingEntities int
	RecordingSamples  int
}

// Engine binds the replay core to a host tick loop: one registry of entity
// handles, one recorder, one playback clock, and at most one handback
// transition in flight. The host calls Advance once per tick; every other
// method may be called from command handlers between ticks.
type Engine struct {
	cfg  EngineConfig
	deps Deps

	registry *replay.Registry
	store    *replay.TimelineStore
	recorder *replay.Recorder
	clock    *replay.PlaybackClock

	tick atomic.Uint64

	mu         sync.Mutex
	active     *replay.Recording
	transition *replay.Transition
	lastReport *replay.TransitionReport
}

// NewEngine constructs an idle engine with no registered handles and no
// active recording.
func NewEngine(cfg EngineConfig, deps Deps) *Engine {
	cfg = cfg.normalized()
	deps = deps.normalized()
	store := replay.NewTimelineStore(deps.Metrics)
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		registry: replay.NewRegistry(cfg.SecondaryContainers),
		store:    store,
		recorder: replay.NewRecorder(cfg.Recorder, store),
		clock:    replay.NewPlaybackClock(),
	}
}

// Tick returns the number of Advance calls so far.
func (e *Engine) Tick() uint64 { return e.tick.Load() }

// Publisher exposes the engine's event publisher so transports can emit
// session events alongside engine events.
func (e *Engine) Publisher() logging.Publisher { return e.deps.Publisher }

// Logger exposes the engine's diagnostic logger.
func (e *Engine) Logger() telemetry.Logger { return e.deps.Logger }

// Metrics exposes the engine's metrics adapter.
func (e *Engine) Metrics() telemetry.Metrics { return e.deps.Metrics }

// Register adds a handle to the identity registry. Re-registering an id
// replaces the previous handle and is reported, since a silent swap usually
// means two bridges are fighting over the same entity.
func (e *Engine) Register(h runtime.Handle) replay.RegisterResult {
	res := e.registry.Register(h)
	if res.Replaced {
		e.deps.Metrics.Add(MetricHandleReplacements, 1)
		previous := ""
		if res.Previous != nil {
			previous = res.Previous.HierarchyPath()
		}
		loggingsession.HandleReplaced(context.Background(), e.deps.Publisher, e.tick.Load(),
			logging.EntityRef{ID: h.EntityID(), Kind: logging.EntityKindEntity},
			loggingsession.HandleReplacedPayload{PreviousPath: previous, Path: h.HierarchyPath()}, nil)
	}
	return res
}

// Unregister removes a handle from the registry.
func (e *Engine) Unregister(h runtime.Handle) bool {
	return e.registry.Unregister(h)
}

// RebuildMappings reclassifies every registered handle against the
// configured secondary containers.
func (e *Engine) RebuildMappings() replay.MappingSummary {
	return e.registry.RebuildMappings()
}

// Counts returns the current primary and secondary partition sizes.
func (e *Engine) Counts() replay.MappingSummary {
	return e.registry.Counts()
}

// ReconcileIdentities rebinds stand-in ids to their closest primary matches
// by hierarchy similarity and reports every rebind as an identity event.
func (e *Engine) ReconcileIdentities() replay.MatchReport {
	report := replay.Reconcile(e.registry)
	tick := e.tick.Load()
	for _, bound := range report.Bound {
		loggingtransition.IdentityRebound(context.Background(), e.deps.Publisher, tick,
			loggingtransition.ReboundPayload{
				PrimaryID:   bound.PrimaryID,
				SecondaryID: bound.SecondaryID,
				Similarity:  bound.Similarity,
			}, nil)
	}
	return report
}

// LiveStates captures the current pose and properties of every live
// registered handle, keyed by entity id.
func (e *Engine) LiveStates(now float64) map[string]replay.StateSnapshot {
	handles := e.registry.SampleSet()
	states := make(map[string]replay.StateSnapshot, len(handles))
	for _, h := range handles {
		if !h.Live() {
			continue
		}
		states[h.EntityID()] = replay.CaptureSnapshot(h, now)
	}
	return states
}

// RecorderState returns the recorder lifecycle state.
func (e *Engine) RecorderState() replay.RecorderState { return e.recorder.State() }

// Recording reports whether a capture is in progress.
func (e *Engine) Recording() bool { return e.recorder.Recording() }

// BeginRecording starts capturing samples from every registered handle.
func (e *Engine) BeginRecording(now float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.recorder.Begin(now, e.registry); err != nil {
		return err
	}
	loggingrecording.Started(context.Background(), e.deps.Publisher, e.tick.Load(), engineActor,
		loggingrecording.StartedPayload{
			Entities:       len(e.registry.SampleSet()),
			SampleInterval: e.cfg.Recorder.SampleInterval,
		}, nil)
	return nil
}

// StopRecording finalizes the active capture, installs the result as the
// engine's active recording, and rebinds the playback clock to its length.
func (e *Engine) StopRecording(now float64) (*replay.Recording, replay.StopReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, report, err := e.recorder.Stop(now)
	if err != nil {
		return nil, replay.StopReport{}, err
	}
	e.setActiveLocked(rec)
	loggingrecording.Stopped(context.Background(), e.deps.Publisher, e.tick.Load(), engineActor,
		loggingrecording.StoppedPayload{
			DurationSeconds: report.TotalDuration,
			Samples:         report.Samples,
			Timelines:       report.Timelines,
			Skipped:         report.Skipped,
		}, report.Empty, nil)
	return rec, report, nil
}

// ActiveRecording returns the recording bound for playback, or nil.
func (e *Engine) ActiveRecording() *replay.Recording {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// SetActiveRecording binds a recording for playback, pausing the clock and
// resetting it to the start. A nil recording clears the binding.
func (e *Engine) SetActiveRecording(rec *replay.Recording) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setActiveLocked(rec)
}

func (e *Engine) setActiveLocked(rec *replay.Recording) {
	e.active = rec
	e.clock.Pause()
	e.clock.Seek(0)
	if rec != nil {
		e.clock.SetDuration(rec.TotalDuration)
	} else {
		e.clock.SetDuration(0)
	}
}

// LoadRecordingFile reads a recording document from disk and makes it the
// active recording. A failed load leaves the current binding untouched.
func (e *Engine) LoadRecordingFile(path string) (*replay.Recording, error) {
	rec, err := replay.LoadRecording(path)
	if err != nil {
		loggingrecording.LoadFailed(context.Background(), e.deps.Publisher, e.tick.Load(), engineActor,
			loggingrecording.LoadFailedPayload{Path: path, Error: err.Error()}, nil)
		return nil, err
	}
	e.SetActiveRecording(rec)
	e.deps.Metrics.Add(MetricRecordingsLoaded, 1)
	loggingrecording.Loaded(context.Background(), e.deps.Publisher, e.tick.Load(), engineActor,
		loggingrecording.FilePayload{Path: path, Samples: rec.SampleCount()}, nil)
	return rec, nil
}

// SaveActiveRecording writes the active recording to disk.
func (e *Engine) SaveActiveRecording(path string) error {
	e.mu.Lock()
	rec := e.active
	e.mu.Unlock()
	if rec == nil {
		return replay.ErrNoRecording
	}
	if err := replay.SaveRecording(rec, path); err != nil {
		return err
	}
	e.deps.Metrics.Add(MetricRecordingsSaved, 1)
	loggingrecording.Saved(context.Background(), e.deps.Publisher, e.tick.Load(), engineActor,
		loggingrecording.FilePayload{Path: path, Samples: rec.SampleCount()}, nil)
	return nil
}

// StateAt returns the active recording's interpolated state for one entity.
func (e *Engine) StateAt(entityID string, t float64) (replay.StateSnapshot, bool) {
	e.mu.Lock()
	rec := e.active
	e.mu.Unlock()
	if rec == nil {
		return replay.StateSnapshot{}, false
	}
	return replay.StateAt(rec, entityID, t)
}

// StateAtAll returns the interpolated state of every recorded entity at the
// given time, or nil when no recording is active.
func (e *Engine) StateAtAll(t float64) map[string]replay.StateSnapshot {
	e.mu.Lock()
	rec := e.active
	e.mu.Unlock()
	if rec == nil {
		return nil
	}
	return replay.StateAtAll(rec, t)
}

// StateAtNormalized is StateAtAll with the query position expressed as a
// fraction of the recording's duration.
func (e *Engine) StateAtNormalized(u float64) map[string]replay.StateSnapshot {
	e.mu.Lock()
	rec := e.active
	e.mu.Unlock()
	if rec == nil {
		return nil
	}
	return replay.StateAtNormalized(rec, u)
}

// PlaybackStates returns the interpolated state of every recorded entity at
// the current playback position, or nil when no recording is active.
func (e *Engine) PlaybackStates() map[string]replay.StateSnapshot {
	return e.StateAtAll(e.clock.PlaybackTime())
}

// BeginTransition arms a stepped handback against the active recording at
// the given query time. Advance drives it one phase check per tick until it
// reports done or failed.
func (e *Engine) BeginTransition(queryTime float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transition != nil && !e.transition.Finished() {
		return replay.ErrTransitionActive
	}
	e.transition = replay.NewTransition(e.cfg.Transition, e.registry, e.active, queryTime)
	e.publishTransitionStarted(queryTime)
	return nil
}

// TransitionToLive runs a full handback to completion in one call: capture
// state at queryTime, deactivate stand-ins, activate and remap primaries,
// and apply the captured state. Live control has resumed when the returned
// report's phase is done.
func (e *Engine) TransitionToLive(queryTime float64) (replay.TransitionReport, error) {
	if err := e.BeginTransition(queryTime); err != nil {
		return replay.TransitionReport{}, err
	}
	e.mu.Lock()
	trans := e.transition
	e.mu.Unlock()
	report := trans.RunToCompletion(0)
	e.settleTransition(report)
	return report, nil
}

// TransitionActive reports whether a handback is in flight.
func (e *Engine) TransitionActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transition != nil && !e.transition.Finished()
}

// LastTransitionReport returns the most recent finished handback report.
func (e *Engine) LastTransitionReport() (replay.TransitionReport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastReport == nil {
		return replay.TransitionReport{}, false
	}
	return *e.lastReport, true
}

func (e *Engine) publishTransitionStarted(queryTime float64) {
	counts := e.registry.Counts()
	loggingtransition.Started(context.Background(), e.deps.Publisher, e.tick.Load(),
		loggingtransition.StartedPayload{
			QueryTime:   queryTime,
			Primaries:   counts.Primaries,
			Secondaries: counts.Secondaries,
		}, nil)
}

// settleTransition records a finished handback, pauses playback when it
// succeeded, and publishes the outcome.
func (e *Engine) settleTransition(report replay.TransitionReport) {
	e.mu.Lock()
	e.transition = nil
	e.lastReport = &report
	e.mu.Unlock()

	out := loggingtransition.OutcomePayload{
		Applied:          report.Applied,
		Failed:           report.Failed,
		Skipped:          report.Skipped,
		Rebound:          report.Rebound,
		Ticks:            report.Ticks,
		FromLiveSnapshot: report.FromLiveSnapshot,
		Errors:           append([]string(nil), report.Errors...),
	}
	tick := e.tick.Load()
	if report.Phase == replay.TransitionFailed {
		e.deps.Metrics.Add(MetricTransitionsFailed, 1)
		loggingtransition.Failed(context.Background(), e.deps.Publisher, tick, out, nil)
		return
	}
	e.clock.Pause()
	e.deps.Metrics.Add(MetricTransitionsCompleted, 1)
	loggingtransition.Completed(context.Background(), e.deps.Publisher, tick, out, nil)
}

// Advance runs one engine tick: capture a sample when due, step the armed
// transition, and move the playback clock. The caller supplies the current
// engine time in seconds and the elapsed seconds since the last tick.
func (e *Engine) Advance(now, dt float64) TickSummary {
	tick := e.tick.Add(1)
	e.deps.Metrics.Add(MetricEngineTicks, 1)
	summary := TickSummary{Tick: tick}

	summary.Sample = e.recorder.Sample(now, e.registry)
	if summary.Sample.Taken {
		e.deps.Metrics.Add(MetricSamplesCaptured, uint64(summary.Sample.Captured))
	}

	e.mu.Lock()
	trans := e.transition
	e.mu.Unlock()
	if trans != nil && !trans.Finished() {
		before := trans.Phase()
		phase := trans.Tick()
		summary.TransitionPhase = phase
		report := trans.Report()
		if phase != before {
			loggingtransition.PhaseAdvanced(context.Background(), e.deps.Publisher, tick,
				loggingtransition.PhasePayload{Phase: string(phase), Tick: report.Ticks}, nil)
		}
		if trans.Finished() {
			summary.Transition = &report
			e.settleTransition(report)
		}
	}

	playingBefore := e.clock.Playing()
	e.clock.Advance(dt)
	if playingBefore && !e.clock.Playing() {
		summary.PlaybackFinished = true
		loggingplayback.Finished(context.Background(), e.deps.Publisher, tick,
			loggingplayback.PositionPayload{Position: e.clock.PlaybackTime()}, nil)
	}
	return summary
}

// Play starts or resumes playback of the active recording. Resuming at the
// end restarts from the beginning.
func (e *Engine) Play() error {
	e.mu.Lock()
	rec := e.active
	e.mu.Unlock()
	if rec == nil {
		return replay.ErrNoRecording
	}
	e.clock.Play()
	loggingplayback.Started(context.Background(), e.deps.Publisher, e.tick.Load(),
		loggingplayback.PositionPayload{Position: e.clock.PlaybackTime(), Speed: e.clock.Speed()}, nil)
	return nil
}

// Pause halts playback at the current position.
func (e *Engine) Pause() {
	e.clock.Pause()
	loggingplayback.Paused(context.Background(), e.deps.Publisher, e.tick.Load(),
		loggingplayback.PositionPayload{Position: e.clock.PlaybackTime()}, nil)
}

// Seek jumps playback to the given position in seconds, clamped into the
// active recording's range.
func (e *Engine) Seek(position float64) {
	from := e.clock.PlaybackTime()
	e.clock.Seek(position)
	loggingplayback.Seeked(context.Background(), e.deps.Publisher, e.tick.Load(),
		loggingplayback.SeekPayload{From: from, To: e.clock.PlaybackTime()}, nil)
}

// SetSpeed changes the playback rate. Non-positive speeds are rejected.
func (e *Engine) SetSpeed(speed float64) error {
	if speed <= 0 {
		return fmt.Errorf("playback speed must be positive, got %v", speed)
	}
	previous := e.clock.Speed()
	e.clock.SetSpeed(speed)
	loggingplayback.SpeedChanged(context.Background(), e.deps.Publisher, e.tick.Load(),
		loggingplayback.SpeedPayload{Previous: previous, Speed: speed}, nil)
	return nil
}

// Playing reports whether playback is advancing.
func (e *Engine) Playing() bool { return e.clock.Playing() }

// PlaybackTime returns the current playback position in seconds.
func (e *Engine) PlaybackTime() float64 { return e.clock.PlaybackTime() }

// NormalizedPosition returns the playback position scaled into [0, 1].
func (e *Engine) NormalizedPosition() float64 { return e.clock.NormalizedPosition() }

// Speed returns the playback rate.
func (e *Engine) Speed() float64 { return e.clock.Speed() }

// Duration returns the active recording's length in seconds.
func (e *Engine) Duration() float64 { return e.clock.Duration() }

// Diagnostics captures a point-in-time view of the engine.
func (e *Engine) Diagnostics() Diagnostics {
	counts := e.registry.Counts()
	diag := Diagnostics{
		Tick:             e.tick.Load(),
		Recorder:         e.recorder.State(),
		Primaries:        counts.Primaries,
		Secondaries:      counts.Secondaries,
		TransitionActive: e.TransitionActive(),
		Playing:          e.clock.Playing(),
		Position:         e.clock.PlaybackTime(),
		Normalized:       e.clock.NormalizedPosition(),
		Speed:            e.clock.Speed(),
	}
	e.mu.Lock()
	rec := e.active
	e.mu.Unlock()
	if rec != nil {
		diag.HasRecording = true
		diag.RecordingDuration = rec.TotalDuration
		diag.RecordingEntities = len(rec.EntityIDs())
		diag.RecordingSamples = rec.SampleCount()
	}
	return diag
}
