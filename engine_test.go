package rerun

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/HowardHan99/RerunPublicRobot/internal/geom"
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	"github.com/HowardHan99/RerunPublicRobot/internal/runtime"
	"github.com/HowardHan99/RerunPublicRobot/internal/telemetry"
	"github.com/HowardHan99/RerunPublicRobot/logging"
	loggingplayback "github.com/HowardHan99/RerunPublicRobot/logging/playback"
	loggingrecording "github.com/HowardHan99/RerunPublicRobot/logging/recording"
	loggingsession "github.com/HowardHan99/RerunPublicRobot/logging/session"
	loggingtransition "github.com/HowardHan99/RerunPublicRobot/logging/transition"
)

// eventRecorder collects published events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []logging.Event
}

func (r *eventRecorder) Publish(_ context.Context, event logging.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(t logging.EventType) []logging.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []logging.Event
	for _, event := range r.events {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *eventRecorder, *telemetry.Counters) {
	t.Helper()
	events := &eventRecorder{}
	counters := telemetry.NewCounters()
	engine := NewEngine(EngineConfig{
		Recorder: replay.RecorderConfig{SampleInterval: 0.5},
	}, Deps{
		Metrics:   telemetry.WrapMetrics(counters),
		Publisher: events,
	})
	return engine, events, counters
}

func TestEngineRecordPlaybackLifecycle(t *testing.T) {
	engine, events, counters := newTestEngine(t)
	handle := runtime.NewSimHandle("robot-1", "Scene/World/robot-1")
	engine.Register(handle)

	if err := engine.BeginRecording(0); err != nil {
		t.Fatalf("expected begin to succeed, got %v", err)
	}
	if !engine.Recording() {
		t.Fatal("expected the recorder to be recording")
	}
	if err := engine.BeginRecording(0.1); !errors.Is(err, replay.ErrRecorderActive) {
		t.Fatalf("expected ErrRecorderActive from a second begin, got %v", err)
	}
	started := events.ofType(loggingrecording.EventStarted)
	if len(started) != 1 {
		t.Fatalf("expected one started event, got %d", len(started))
	}
	payload, ok := started[0].Payload.(loggingrecording.StartedPayload)
	if !ok {
		t.Fatalf("expected a StartedPayload, got %T", started[0].Payload)
	}
	if payload.Entities != 1 || payload.SampleInterval != 0.5 {
		t.Fatalf("unexpected started payload %+v", payload)
	}

	if summary := engine.Advance(0, 0.05); !summary.Sample.Taken || summary.Sample.Captured != 1 {
		t.Fatalf("expected an immediate first sample, got %+v", summary.Sample)
	}
	if summary := engine.Advance(0.2, 0.05); summary.Sample.Taken {
		t.Fatal("expected no sample before the interval elapsed")
	}
	handle.SetPose(runtime.Pose{
		Position: geom.Vec3{X: 10},
		Rotation: geom.IdentityQuat(),
		Scale:    geom.Vec3{X: 1, Y: 1, Z: 1},
	})
	if summary := engine.Advance(1.0, 0.05); !summary.Sample.Taken {
		t.Fatal("expected a sample once the interval elapsed")
	}

	rec, report, err := engine.StopRecording(2.0)
	if err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	if report.TotalDuration != 2.0 || report.Samples != 2 || report.Timelines != 1 || report.Empty {
		t.Fatalf("unexpected stop report %+v", report)
	}
	if engine.ActiveRecording() != rec {
		t.Fatal("expected the stopped recording to become active")
	}
	if engine.Duration() != 2.0 {
		t.Fatalf("expected the clock bound to 2.0s, got %v", engine.Duration())
	}

	snap, ok := engine.StateAt("robot-1", 0.5)
	if !ok {
		t.Fatal("expected an interpolated state at 0.5s")
	}
	if snap.Position.X != 5 {
		t.Fatalf("expected the pose interpolated to x=5, got %v", snap.Position.X)
	}

	if err := engine.Play(); err != nil {
		t.Fatalf("expected play to succeed, got %v", err)
	}
	if !engine.Playing() {
		t.Fatal("expected playback running")
	}
	engine.Advance(3.0, 0.25)
	if got := engine.PlaybackTime(); got != 0.25 {
		t.Fatalf("expected position 0.25, got %v", got)
	}
	if err := engine.SetSpeed(2); err != nil {
		t.Fatalf("expected speed change to succeed, got %v", err)
	}
	engine.Advance(3.1, 0.25)
	if got := engine.PlaybackTime(); got != 0.75 {
		t.Fatalf("expected position 0.75 at double speed, got %v", got)
	}

	engine.Seek(1.9)
	summary := engine.Advance(3.2, 0.05)
	if !summary.PlaybackFinished {
		t.Fatal("expected playback to finish at the end of the recording")
	}
	if engine.Playing() {
		t.Fatal("expected the clock paused at the end")
	}
	if got := engine.PlaybackTime(); got != 2.0 {
		t.Fatalf("expected position clamped to the duration, got %v", got)
	}
	if got := events.ofType(loggingplayback.EventFinished); len(got) != 1 {
		t.Fatalf("expected one finished event, got %d", len(got))
	}

	snapshot := counters.Snapshot()
	if snapshot[MetricSamplesCaptured] != 2 {
		t.Fatalf("expected 2 captured samples counted, got %d", snapshot[MetricSamplesCaptured])
	}
	if snapshot[MetricEngineTicks] != 6 {
		t.Fatalf("expected 6 ticks counted, got %d", snapshot[MetricEngineTicks])
	}
}

func TestEngineRejectsIdleAndMisuse(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	if _, _, err := engine.StopRecording(1.0); !errors.Is(err, replay.ErrRecorderIdle) {
		t.Fatalf("expected ErrRecorderIdle, got %v", err)
	}
	if err := engine.Play(); !errors.Is(err, replay.ErrNoRecording) {
		t.Fatalf("expected ErrNoRecording, got %v", err)
	}
	if err := engine.SetSpeed(0); err == nil {
		t.Fatal("expected a zero speed to be rejected")
	}
	if err := engine.SaveActiveRecording("nowhere.json"); !errors.Is(err, replay.ErrNoRecording) {
		t.Fatalf("expected ErrNoRecording from save, got %v", err)
	}
}

func TestEngineRegisterCollisionReplaces(t *testing.T) {
	engine, events, counters := newTestEngine(t)
	first := runtime.NewSimHandle("robot-1", "Scene/World/robot-1")
	second := runtime.NewSimHandle("robot-1", "Scene/World/spare/robot-1")

	if res := engine.Register(first); res.Replaced {
		t.Fatal("expected the first registration to be fresh")
	}
	res := engine.Register(second)
	if !res.Replaced || res.Previous != first {
		t.Fatalf("expected the second registration to replace the first, got %+v", res)
	}
	if counts := engine.Counts(); counts.Primaries != 1 {
		t.Fatalf("expected a single primary after the swap, got %+v", counts)
	}

	replaced := events.ofType(loggingsession.EventHandleReplaced)
	if len(replaced) != 1 {
		t.Fatalf("expected one handle_replaced event, got %d", len(replaced))
	}
	payload, ok := replaced[0].Payload.(loggingsession.HandleReplacedPayload)
	if !ok {
		t.Fatalf("expected a HandleReplacedPayload, got %T", replaced[0].Payload)
	}
	if payload.PreviousPath != "Scene/World/robot-1" || payload.Path != "Scene/World/spare/robot-1" {
		t.Fatalf("unexpected replacement payload %+v", payload)
	}
	if counters.Snapshot()[MetricHandleReplacements] != 1 {
		t.Fatalf("expected one replacement counted, got %d", counters.Snapshot()[MetricHandleReplacements])
	}
}

// recordShortRun drives one entity from x=0 to x=10 over a two second
// recording and leaves it active for playback.
func recordShortRun(t *testing.T, engine *Engine, handle *runtime.SimHandle) {
	t.Helper()
	if err := engine.BeginRecording(0); err != nil {
		t.Fatalf("expected begin to succeed, got %v", err)
	}
	engine.Advance(0, 0.05)
	handle.SetPose(runtime.Pose{
		Position: geom.Vec3{X: 10},
		Rotation: geom.IdentityQuat(),
		Scale:    geom.Vec3{X: 1, Y: 1, Z: 1},
	})
	engine.Advance(1.0, 0.05)
	if _, _, err := engine.StopRecording(2.0); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
}

func TestEngineSteppedTransition(t *testing.T) {
	engine, events, counters := newTestEngine(t)
	primary := runtime.NewSimHandle("robot-1", "Scene/World/robot-1")
	engine.Register(primary)
	recordShortRun(t, engine, primary)

	// Control moved to the replay side: primary asleep, mirror visible.
	primary.SetActive(false)
	mirror := runtime.NewSimHandle("robot-1", "Scene/Replay/robot-1")
	engine.Register(mirror)

	if err := engine.BeginTransition(0.5); err != nil {
		t.Fatalf("expected the transition to arm, got %v", err)
	}
	if !engine.TransitionActive() {
		t.Fatal("expected an in-flight transition")
	}
	if err := engine.BeginTransition(0.5); !errors.Is(err, replay.ErrTransitionActive) {
		t.Fatalf("expected ErrTransitionActive, got %v", err)
	}

	var final TickSummary
	for i := 0; i < 16 && engine.TransitionActive(); i++ {
		final = engine.Advance(3.0+float64(i)*0.05, 0.05)
	}
	if engine.TransitionActive() {
		t.Fatal("expected the transition to finish within the tick budget")
	}
	if final.Transition == nil {
		t.Fatal("expected the final tick to carry the transition report")
	}
	if final.Transition.Phase != replay.TransitionDone || final.Transition.Applied != 1 {
		t.Fatalf("unexpected transition report %+v", final.Transition)
	}

	if !primary.Active() {
		t.Fatal("expected the primary reactivated")
	}
	if mirror.Active() {
		t.Fatal("expected the mirror deactivated")
	}
	if got := primary.Pose().Position.X; got != 5 {
		t.Fatalf("expected the pose applied at the 0.5s query time, got x=%v", got)
	}

	if got := events.ofType(loggingtransition.EventStarted); len(got) != 1 {
		t.Fatalf("expected one started event, got %d", len(got))
	}
	phases := events.ofType(loggingtransition.EventPhaseAdvanced)
	if len(phases) != 5 {
		t.Fatalf("expected five phase changes, got %d", len(phases))
	}
	if got := events.ofType(loggingtransition.EventCompleted); len(got) != 1 {
		t.Fatalf("expected one completed event, got %d", len(got))
	}
	if counters.Snapshot()[MetricTransitionsCompleted] != 1 {
		t.Fatalf("expected one completed transition counted, got %d", counters.Snapshot()[MetricTransitionsCompleted])
	}

	report, ok := engine.LastTransitionReport()
	if !ok || report.Phase != replay.TransitionDone {
		t.Fatalf("expected the finished report retained, got ok=%v report=%+v", ok, report)
	}
}

func TestEngineTransitionToLive(t *testing.T) {
	engine, events, _ := newTestEngine(t)
	primary := runtime.NewSimHandle("robot-1", "Scene/World/robot-1")
	engine.Register(primary)
	recordShortRun(t, engine, primary)

	primary.SetActive(false)
	if err := engine.Play(); err != nil {
		t.Fatalf("expected play to succeed, got %v", err)
	}

	report, err := engine.TransitionToLive(0.5)
	if err != nil {
		t.Fatalf("expected the handback to run, got %v", err)
	}
	if report.Phase != replay.TransitionDone || report.Applied != 1 || report.FromLiveSnapshot {
		t.Fatalf("unexpected handback report %+v", report)
	}
	if engine.TransitionActive() {
		t.Fatal("expected no in-flight transition after completion")
	}
	if engine.Playing() {
		t.Fatal("expected playback paused once live control resumed")
	}
	if !primary.Active() {
		t.Fatal("expected the primary reactivated")
	}
	if got := events.ofType(loggingtransition.EventCompleted); len(got) != 1 {
		t.Fatalf("expected one completed event, got %d", len(got))
	}
}

func TestEngineTransitionFallsBackToLiveSnapshot(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	primary := runtime.NewSimHandle("robot-1", "Scene/World/robot-1")
	primary.SetPose(runtime.Pose{
		Position: geom.Vec3{X: 3},
		Rotation: geom.IdentityQuat(),
		Scale:    geom.Vec3{X: 1, Y: 1, Z: 1},
	})
	engine.Register(primary)

	report, err := engine.TransitionToLive(0.25)
	if err != nil {
		t.Fatalf("expected the handback to run, got %v", err)
	}
	if !report.FromLiveSnapshot {
		t.Fatal("expected the live snapshot fallback with no recording")
	}
	if report.Applied != 1 {
		t.Fatalf("expected the snapshot applied to the primary, got %+v", report)
	}
}

func TestEngineSaveLoadRoundTrip(t *testing.T) {
	engine, events, counters := newTestEngine(t)
	handle := runtime.NewSimHandle("robot-1", "Scene/World/robot-1")
	engine.Register(handle)
	recordShortRun(t, engine, handle)

	path := filepath.Join(t.TempDir(), "run.replay.json")
	if err := engine.SaveActiveRecording(path); err != nil {
		t.Fatalf("expected save to succeed, got %v", err)
	}
	if got := events.ofType(loggingrecording.EventSaved); len(got) != 1 {
		t.Fatalf("expected one saved event, got %d", len(got))
	}

	engine.SetActiveRecording(nil)
	if engine.ActiveRecording() != nil {
		t.Fatal("expected the binding cleared")
	}
	rec, err := engine.LoadRecordingFile(path)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if rec.TotalDuration != 2.0 {
		t.Fatalf("expected a 2.0s recording back, got %v", rec.TotalDuration)
	}
	snap, ok := engine.StateAt("robot-1", 0.5)
	if !ok || snap.Position.X != 5 {
		t.Fatalf("expected the reloaded timeline to interpolate to x=5, got ok=%v x=%v", ok, snap.Position.X)
	}
	if got := events.ofType(loggingrecording.EventLoaded); len(got) != 1 {
		t.Fatalf("expected one loaded event, got %d", len(got))
	}

	before := engine.ActiveRecording()
	if _, err := engine.LoadRecordingFile(filepath.Join(t.TempDir(), "missing.replay.json")); err == nil {
		t.Fatal("expected a missing file to fail the load")
	}
	if engine.ActiveRecording() != before {
		t.Fatal("expected a failed load to leave the binding untouched")
	}
	if got := events.ofType(loggingrecording.EventLoadFailed); len(got) != 1 {
		t.Fatalf("expected one load_failed event, got %d", len(got))
	}

	snapshot := counters.Snapshot()
	if snapshot[MetricRecordingsSaved] != 1 || snapshot[MetricRecordingsLoaded] != 1 {
		t.Fatalf("expected one save and one load counted, got %+v", snapshot)
	}
}

func TestEngineReconcileIdentities(t *testing.T) {
	engine, events, _ := newTestEngine(t)
	primary := runtime.NewSimHandle("robot-7", "Scene/World/cell/arm/gripper/robot-7")
	stray := runtime.NewSimHandle("robot-7_1", "Scene/Replay/cell/arm/gripper/robot-7")
	engine.Register(primary)
	engine.Register(stray)

	report := engine.ReconcileIdentities()
	if len(report.Bound) != 1 {
		t.Fatalf("expected one rebinding, got %+v", report)
	}
	bound := report.Bound[0]
	if bound.PrimaryID != "robot-7" || bound.SecondaryID != "robot-7_1" {
		t.Fatalf("unexpected rebinding %+v", bound)
	}
	if bound.Similarity <= replay.MatchThreshold {
		t.Fatalf("expected the similarity above threshold, got %v", bound.Similarity)
	}

	rebound := events.ofType(loggingtransition.EventIdentityRebound)
	if len(rebound) != 1 {
		t.Fatalf("expected one identity_rebound event, got %d", len(rebound))
	}
	payload, ok := rebound[0].Payload.(loggingtransition.ReboundPayload)
	if !ok {
		t.Fatalf("expected a ReboundPayload, got %T", rebound[0].Payload)
	}
	if payload.PrimaryID != "robot-7" || payload.SecondaryID != "robot-7_1" {
		t.Fatalf("unexpected rebound payload %+v", payload)
	}
}

func TestEngineLiveStatesSkipsDeadHandles(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	alive := runtime.NewSimHandle("robot-1", "Scene/World/robot-1")
	dead := runtime.NewSimHandle("robot-2", "Scene/World/robot-2")
	dead.SetLive(false)
	engine.Register(alive)
	engine.Register(dead)

	states := engine.LiveStates(1.5)
	if len(states) != 1 {
		t.Fatalf("expected only the live handle captured, got %d states", len(states))
	}
	snap, ok := states["robot-1"]
	if !ok || snap.Timestamp != 1.5 {
		t.Fatalf("expected robot-1 stamped at 1.5s, got ok=%v snap=%+v", ok, snap)
	}
}

func TestEngineDiagnostics(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	primary := runtime.NewSimHandle("robot-1", "Scene/World/robot-1")
	mirror := runtime.NewSimHandle("robot-1", "Scene/Replay/robot-1")
	engine.Register(primary)
	engine.Register(mirror)
	recordShortRun(t, engine, primary)

	diag := engine.Diagnostics()
	if diag.Recorder != replay.RecorderIdle {
		t.Fatalf("expected an idle recorder, got %q", diag.Recorder)
	}
	if diag.Primaries != 1 || diag.Secondaries != 1 {
		t.Fatalf("unexpected partition %+v", diag)
	}
	if !diag.HasRecording || diag.RecordingDuration != 2.0 || diag.RecordingEntities != 1 {
		t.Fatalf("unexpected recording info %+v", diag)
	}
	if diag.TransitionActive || diag.Playing {
		t.Fatalf("expected an idle engine, got %+v", diag)
	}
	if diag.Tick != 2 {
		t.Fatalf("expected two ticks recorded, got %d", diag.Tick)
	}
}
