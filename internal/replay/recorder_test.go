package replay

import (
	"errors"
	"testing"

	"github.com/HowardHan99/RerunPublicRobot/internal/geom"
	"github.com/HowardHan99/RerunPublicRobot/internal/runtime"
)

func TestRecorderLifecycle(t *testing.T) {
	rec := NewRecorder(DefaultRecorderConfig(), NewTimelineStore(nil))
	reg := NewRegistry(nil)

	if rec.Recording() {
		t.Fatal("expected a new recorder to be idle")
	}
	if _, _, err := rec.Stop(0); !errors.Is(err, ErrRecorderIdle) {
		t.Fatalf("expected ErrRecorderIdle, got %v", err)
	}

	if err := rec.Begin(0, reg); err != nil {
		t.Fatalf("expected begin to succeed, got %v", err)
	}
	if !rec.Recording() {
		t.Fatal("expected the recorder to be recording after begin")
	}
	if err := rec.Begin(0, reg); !errors.Is(err, ErrRecorderActive) {
		t.Fatalf("expected ErrRecorderActive, got %v", err)
	}

	if _, _, err := rec.Stop(1); err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	if rec.Recording() {
		t.Fatal("expected the recorder to be idle after stop")
	}
}

func TestRecorderFirstSampleFiresImmediately(t *testing.T) {
	store := NewTimelineStore(nil)
	rec := NewRecorder(RecorderConfig{SampleInterval: 0.5}, store)
	reg := NewRegistry(nil)
	reg.Register(runtime.NewSimHandle("robot-1", "Scene/robot-1"))

	rec.Begin(10, reg)

	report := rec.Sample(10, reg)
	if !report.Taken {
		t.Fatal("expected the first sample to fire immediately")
	}
	if report.Timestamp != 0 {
		t.Fatalf("expected the first sample at timestamp 0, got %v", report.Timestamp)
	}
	if report.Captured != 1 {
		t.Fatalf("expected 1 captured entity, got %d", report.Captured)
	}
}

func TestRecorderRespectsSampleInterval(t *testing.T) {
	store := NewTimelineStore(nil)
	rec := NewRecorder(RecorderConfig{SampleInterval: 0.5}, store)
	reg := NewRegistry(nil)
	reg.Register(runtime.NewSimHandle("robot-1", "Scene/robot-1"))

	rec.Begin(0, reg)
	rec.Sample(0, reg)

	if report := rec.Sample(0.3, reg); report.Taken {
		t.Fatal("expected a check inside the interval to not sample")
	}
	report := rec.Sample(0.5, reg)
	if !report.Taken {
		t.Fatal("expected a check at the interval boundary to sample")
	}
	if report.Timestamp != 0.5 {
		t.Fatalf("expected timestamp 0.5, got %v", report.Timestamp)
	}
	if store.SampleCount() != 2 {
		t.Fatalf("expected 2 samples in the store, got %d", store.SampleCount())
	}
}

func TestRecorderTimestampsAreRelative(t *testing.T) {
	store := NewTimelineStore(nil)
	rec := NewRecorder(RecorderConfig{SampleInterval: 0.1}, store)
	reg := NewRegistry(nil)
	reg.Register(runtime.NewSimHandle("robot-1", "Scene/robot-1"))

	rec.Begin(100, reg)
	rec.Sample(100, reg)
	report := rec.Sample(100.25, reg)

	if report.Timestamp != 0.25 {
		t.Fatalf("expected a recording-relative timestamp 0.25, got %v", report.Timestamp)
	}

	recording, stop, err := rec.Stop(101)
	if err != nil {
		t.Fatalf("expected stop to succeed, got %v", err)
	}
	if stop.TotalDuration != 1 {
		t.Fatalf("expected total duration 1, got %v", stop.TotalDuration)
	}
	tl := recording.Timeline("robot-1")
	if tl.Len() != 2 || tl.Samples[1].Timestamp != 0.25 {
		t.Fatalf("expected 2 samples ending at 0.25, got %d samples", tl.Len())
	}
}

func TestRecorderSkipsDeadEntities(t *testing.T) {
	store := NewTimelineStore(nil)
	rec := NewRecorder(DefaultRecorderConfig(), store)
	reg := NewRegistry(nil)
	alive := runtime.NewSimHandle("robot-1", "Scene/robot-1")
	dead := runtime.NewSimHandle("robot-2", "Scene/robot-2")
	dead.SetLive(false)
	reg.Register(alive)
	reg.Register(dead)

	rec.Begin(0, reg)
	report := rec.Sample(0, reg)

	if report.Captured != 1 || report.Skipped != 1 {
		t.Fatalf("expected 1 captured and 1 skipped, got %+v", report)
	}

	_, stop, _ := rec.Stop(1)
	if stop.Skipped != 1 {
		t.Fatalf("expected the stop summary to carry 1 skip, got %d", stop.Skipped)
	}
}

func TestRecorderTracksLateRegistrations(t *testing.T) {
	store := NewTimelineStore(nil)
	rec := NewRecorder(RecorderConfig{SampleInterval: 0.1}, store)
	reg := NewRegistry(nil)
	reg.Register(runtime.NewSimHandle("robot-1", "Scene/robot-1"))

	rec.Begin(0, reg)
	rec.Sample(0, reg)

	reg.Register(runtime.NewSimHandle("robot-2", "Scene/robot-2"))
	rec.Sample(0.5, reg)

	recording, _, _ := rec.Stop(1)
	if tl := recording.Timeline("robot-2"); tl.Len() != 1 {
		t.Fatalf("expected the late entity to have 1 sample, got %d", tl.Len())
	}
	if tl := recording.Timeline("robot-1"); tl.Len() != 2 {
		t.Fatalf("expected the original entity to have 2 samples, got %d", tl.Len())
	}
}

func TestRecorderEmptyRecording(t *testing.T) {
	store := NewTimelineStore(nil)
	rec := NewRecorder(DefaultRecorderConfig(), store)
	reg := NewRegistry(nil)
	reg.Register(runtime.NewSimHandle("robot-1", "Scene/robot-1"))

	rec.Begin(0, reg)
	recording, stop, err := rec.Stop(2)

	if err != nil {
		t.Fatalf("expected stopping an empty recording to succeed, got %v", err)
	}
	if !stop.Empty {
		t.Fatal("expected the summary to flag an empty recording")
	}
	if stop.TotalDuration != 2 {
		t.Fatalf("expected duration 2, got %v", stop.TotalDuration)
	}
	if tl := recording.Timeline("robot-1"); tl == nil || tl.Len() != 0 {
		t.Fatal("expected an empty timeline for the registered entity")
	}
}

func TestRecorderBeginResetsPriorSession(t *testing.T) {
	store := NewTimelineStore(nil)
	rec := NewRecorder(DefaultRecorderConfig(), store)
	reg := NewRegistry(nil)
	reg.Register(runtime.NewSimHandle("robot-1", "Scene/robot-1"))

	rec.Begin(0, reg)
	rec.Sample(0, reg)
	rec.Stop(1)

	rec.Begin(5, reg)
	if store.SampleCount() != 0 {
		t.Fatalf("expected begin to reset the store, got %d samples", store.SampleCount())
	}
	report := rec.Sample(5, reg)
	if report.Timestamp != 0 {
		t.Fatalf("expected timestamps to restart at 0, got %v", report.Timestamp)
	}
}

func TestCaptureSnapshotGatesOnCapabilities(t *testing.T) {
	h := runtime.NewSimHandle("robot-1", "Scene/robot-1")
	h.SetPose(runtime.Pose{
		Position: geom.Vec3{X: 1, Y: 2, Z: 3},
		Rotation: geom.IdentityQuat(),
		Scale:    geom.Vec3{X: 1, Y: 1, Z: 1},
	})

	bare := CaptureSnapshot(h, 0.5)
	if bare.Timestamp != 0.5 {
		t.Fatalf("expected timestamp 0.5, got %v", bare.Timestamp)
	}
	if bare.Position.X != 1 || bare.Position.Y != 2 || bare.Position.Z != 3 {
		t.Fatalf("expected the pose position, got %v", bare.Position)
	}
	if bare.Properties != nil {
		t.Fatal("expected no properties without capabilities")
	}

	h.SetCapabilities(runtime.Capabilities{Velocity: true, Kinematic: true, Animation: true})
	h.SetLinearVelocity(geom.Vec3{X: 4})
	h.SetAngularVelocity(geom.Vec3{Z: 2})
	h.SetKinematic(true)
	h.SetAnimation(runtime.AnimationState{Name: "walk", Time: 0.25, Speed: 1.5})

	full := CaptureSnapshot(h, 1.0)
	keys := full.Properties.Keys()
	want := []string{
		PropLinearVelocity, PropAngularVelocity, PropKinematic,
		PropAnimationState, PropAnimationTime, PropAnimationSpeed,
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %d properties, got %v", len(want), keys)
	}
	for i, key := range want {
		if keys[i] != key {
			t.Fatalf("expected key %q at index %d, got %q", key, i, keys[i])
		}
	}
	if v, _ := full.Properties.Get(PropLinearVelocity); !v.Equal(Vector3Property(geom.Vec3{X: 4})) {
		t.Fatalf("expected linear velocity (4, 0, 0), got %v", v)
	}
	if v, _ := full.Properties.Get(PropKinematic); !v.Equal(BoolProperty(true)) {
		t.Fatalf("expected kinematic true, got %v", v)
	}
	if v, _ := full.Properties.Get(PropAnimationState); !v.Equal(StringProperty("walk")) {
		t.Fatalf("expected animation state walk, got %v", v)
	}
}
