package replay

import (
	"fmt"
	"sort"

	"github.com/HowardHan99/RerunPublicRobot/internal/geom"
	"github.com/HowardHan99/RerunPublicRobot/internal/runtime"
)

// TransitionPhase identifies where a transition is in its sequence. The
// phase names the work the next tick performs; Done and Failed are terminal.
type TransitionPhase string

const (
	// TransitionIdle is the engine's no-transition-in-flight state.
	TransitionIdle TransitionPhase = "idle"
	// TransitionCapturingTarget resolves the target state to apply.
	TransitionCapturingTarget TransitionPhase = "capturing_target"
	// TransitionDeactivating hides the secondary stand-ins.
	TransitionDeactivating TransitionPhase = "deactivating"
	// TransitionActivating wakes the primary instances.
	TransitionActivating TransitionPhase = "activating"
	// TransitionRemapping rebuilds identity mappings against the activated
	// set.
	TransitionRemapping TransitionPhase = "remapping"
	// TransitionApplying writes the captured state onto the primaries.
	TransitionApplying TransitionPhase = "applying"
	// TransitionDone means the transition finished and the report is final.
	TransitionDone TransitionPhase = "done"
	// TransitionFailed means the transition aborted; the report lists why.
	TransitionFailed TransitionPhase = "failed"
)

// The fallback live-snapshot recording spans a nominal second so normalized
// queries against it stay well defined.
const liveSnapshotDuration = 1.0

// TransitionConfig carries the handback tolerances and tick pacing.
type TransitionConfig struct {
	// PositionTolerance is the maximum position distance accepted when
	// verifying an applied pose.
	PositionTolerance float64
	// RotationToleranceDeg is the maximum rotation angle, in degrees,
	// accepted when verifying an applied pose.
	RotationToleranceDeg float64
	// SettleTicks is how many full ticks to wait after the deactivation and
	// activation steps before the next phase probes their side effects.
	SettleTicks int
}

// DefaultTransitionConfig returns the handback defaults.
func DefaultTransitionConfig() TransitionConfig {
	return TransitionConfig{
		PositionTolerance:    0.01,
		RotationToleranceDeg: 0.1,
		SettleTicks:          1,
	}
}

func (c TransitionConfig) normalized() TransitionConfig {
	def := DefaultTransitionConfig()
	if c.PositionTolerance <= 0 {
		c.PositionTolerance = def.PositionTolerance
	}
	if c.RotationToleranceDeg <= 0 {
		c.RotationToleranceDeg = def.RotationToleranceDeg
	}
	if c.SettleTicks < 1 {
		c.SettleTicks = def.SettleTicks
	}
	return c
}

// TransitionReport is the pure result of a transition run. It accumulates
// per-entity outcomes instead of aborting: Applied counts entities whose
// state landed, Failed counts entities with no usable primary handle or a
// failed write, Skipped counts entities whose primary could not be
// activated. The report never panics and carries its own error and warning
// lists for the caller to log.
type TransitionReport struct {
	Phase            TransitionPhase
	Applied          int
	Failed           int
	Skipped          int
	Rebound          int
	Ticks            int
	FromLiveSnapshot bool
	Errors           []string
	Warnings         []string
}

func (r TransitionReport) clone() TransitionReport {
	cloned := r
	if len(r.Errors) > 0 {
		cloned.Errors = append([]string(nil), r.Errors...)
	}
	if len(r.Warnings) > 0 {
		cloned.Warnings = append([]string(nil), r.Warnings...)
	}
	return cloned
}

// Summary renders the counts in one line for logs and CLI output.
func (r TransitionReport) Summary() string {
	return fmt.Sprintf("phase=%s applied=%d failed=%d skipped=%d ticks=%d", r.Phase, r.Applied, r.Failed, r.Skipped, r.Ticks)
}

// Transition hands control back from replayed state to live entities as an
// explicit state machine advanced one step per Tick by an external driver.
// The deactivation and activation steps are each followed by a settle wait
// of SettleTicks full ticks, because the host runtime only guarantees
// activation side effects are visible after a tick boundary. A transition is
// single-use: once Done or Failed it never advances again, and a new
// handback needs a new Transition.
type Transition struct {
	cfg       TransitionConfig
	reg       *Registry
	recording *Recording
	queryTime float64

	phase       TransitionPhase
	settle      int
	ticks       int
	target      map[string]StateSnapshot
	targetOrder []string
	aliases     map[string]string
	report      TransitionReport
}

// NewTransition arms a transition against the given registry. The recording
// may be nil; the capture step then falls back to a live snapshot of every
// registered entity so there is always some target state to apply. Negative
// query times clamp to zero.
func NewTransition(cfg TransitionConfig, reg *Registry, recording *Recording, queryTime float64) *Transition {
	if queryTime < 0 {
		queryTime = 0
	}
	return &Transition{
		cfg:       cfg.normalized(),
		reg:       reg,
		recording: recording,
		queryTime: queryTime,
		phase:     TransitionCapturingTarget,
		aliases:   make(map[string]string),
	}
}

// Phase returns the current phase.
func (t *Transition) Phase() TransitionPhase {
	if t == nil {
		return TransitionIdle
	}
	return t.phase
}

// Finished reports whether the transition reached Done or Failed.
func (t *Transition) Finished() bool {
	if t == nil {
		return true
	}
	return t.phase == TransitionDone || t.phase == TransitionFailed
}

// Report returns a copy of the accumulated report stamped with the current
// phase and tick count.
func (t *Transition) Report() TransitionReport {
	if t == nil {
		return TransitionReport{Phase: TransitionIdle}
	}
	report := t.report.clone()
	report.Phase = t.phase
	report.Ticks = t.ticks
	return report
}

// Tick advances the state machine by one step and returns the new phase.
// Settle waits consume their tick without running a phase.
func (t *Transition) Tick() TransitionPhase {
	if t == nil {
		return TransitionIdle
	}
	if t.Finished() {
		return t.phase
	}
	t.ticks++
	if t.settle > 0 {
		t.settle--
		return t.phase
	}
	switch t.phase {
	case TransitionCapturingTarget:
		t.captureTarget()
	case TransitionDeactivating:
		t.deactivateSecondaries()
	case TransitionActivating:
		t.activatePrimaries()
	case TransitionRemapping:
		t.remap()
	case TransitionApplying:
		t.apply()
	}
	return t.phase
}

// RunToCompletion drives the machine until it finishes or maxTicks elapse,
// and returns the final report. It suits in-process handles whose side
// effects land immediately; a hub with remote handles steps Tick itself.
func (t *Transition) RunToCompletion(maxTicks int) TransitionReport {
	if t == nil {
		return TransitionReport{Phase: TransitionIdle}
	}
	if maxTicks <= 0 {
		maxTicks = 64
	}
	for i := 0; i < maxTicks && !t.Finished(); i++ {
		t.Tick()
	}
	if !t.Finished() {
		t.fail("transition did not finish within %d ticks", maxTicks)
	}
	return t.Report()
}

func (t *Transition) captureTarget() {
	rec := t.recording
	target := StateAtAll(rec, t.queryTime)
	if rec == nil || len(target) == 0 {
		rec = liveSnapshotRecording(t.reg)
		target = StateAtAll(rec, t.queryTime)
		t.report.FromLiveSnapshot = true
	}
	t.target = target
	t.targetOrder = make([]string, 0, len(target))
	for id := range target {
		t.targetOrder = append(t.targetOrder, id)
	}
	sort.Strings(t.targetOrder)
	t.phase = TransitionDeactivating
}

func (t *Transition) deactivateSecondaries() {
	for _, id := range t.reg.SecondaryIDs() {
		h, ok := t.reg.Secondary(id)
		if !ok {
			continue
		}
		if !h.Live() {
			t.fail("secondary handle %s became invalid during deactivation", id)
			return
		}
		if err := h.SetActive(false); err != nil {
			t.warn("deactivating secondary %s: %v", id, err)
		}
	}
	t.settle = t.cfg.SettleTicks
	t.phase = TransitionActivating
}

func (t *Transition) activatePrimaries() {
	for _, id := range t.reg.SecondaryIDs() {
		h, ok := t.reg.Secondary(id)
		if !ok {
			continue
		}
		if h.Live() && h.Active() {
			t.warn("secondary %s still active after deactivation", id)
		}
	}

	for _, id := range t.reg.PrimaryIDs() {
		h, ok := t.reg.Primary(id)
		if !ok {
			continue
		}
		if !h.Live() {
			t.fail("primary handle %s became invalid during activation", id)
			return
		}
		if err := h.SetActive(true); err != nil {
			t.fail("activating primary %s: %v", id, err)
			return
		}
	}
	t.settle = t.cfg.SettleTicks
	t.phase = TransitionRemapping
}

func (t *Transition) remap() {
	for _, id := range t.reg.PrimaryIDs() {
		h, ok := t.reg.Primary(id)
		if !ok {
			continue
		}
		if !h.Live() || !h.Active() {
			t.fail("primary %s failed to activate", id)
			return
		}
	}

	t.reg.RebuildMappings()
	match := Reconcile(t.reg)
	for _, bound := range match.Bound {
		t.aliases[bound.SecondaryID] = bound.PrimaryID
	}
	t.report.Rebound = len(match.Bound)
	t.phase = TransitionApplying
}

func (t *Transition) apply() {
	for _, id := range t.targetOrder {
		snap := t.target[id]
		h, ok := t.reg.Primary(id)
		if !ok {
			if alias, aliased := t.aliases[id]; aliased {
				h, ok = t.reg.Primary(alias)
			}
		}
		if !ok || h == nil || !h.Live() {
			t.report.Failed++
			t.report.Errors = append(t.report.Errors, fmt.Sprintf("no primary handle for %s", id))
			continue
		}
		if !h.Active() {
			if err := h.SetActive(true); err != nil {
				t.report.Skipped++
				t.warn("could not activate %s before applying: %v", id, err)
				continue
			}
		}
		if err := ApplySnapshot(h, snap); err != nil {
			t.report.Failed++
			t.report.Errors = append(t.report.Errors, fmt.Sprintf("applying pose to %s: %v", id, err))
			continue
		}
		t.report.Warnings = append(t.report.Warnings, ApplyProperties(h, snap.Properties)...)
		if !t.poseWithinTolerance(h.Pose(), snap) {
			// Single corrective re-application, then report; no retry loop.
			if err := ApplySnapshot(h, snap); err != nil {
				t.warn("corrective re-application for %s: %v", id, err)
			} else if !t.poseWithinTolerance(h.Pose(), snap) {
				t.warn("pose for %s still outside tolerance after re-application", id)
			}
		}
		t.report.Applied++
	}
	t.phase = TransitionDone
}

func (t *Transition) poseWithinTolerance(pose runtime.Pose, snap StateSnapshot) bool {
	if geom.Distance(pose.Position, snap.Position) >= t.cfg.PositionTolerance {
		return false
	}
	if geom.AngleBetween(pose.Rotation, snap.Rotation) >= t.cfg.RotationToleranceDeg {
		return false
	}
	return true
}

func (t *Transition) fail(format string, args ...any) {
	t.report.Errors = append(t.report.Errors, fmt.Sprintf(format, args...))
	t.phase = TransitionFailed
}

func (t *Transition) warn(format string, args ...any) {
	t.report.Warnings = append(t.report.Warnings, fmt.Sprintf(format, args...))
}

// liveSnapshotRecording captures every live registered entity once into a
// transient recording, giving a transition some target state even with no
// recording loaded.
func liveSnapshotRecording(reg *Registry) *Recording {
	rec := &Recording{
		TotalDuration: liveSnapshotDuration,
		Timelines:     make(map[string]*Timeline),
	}
	for _, h := range reg.SampleSet() {
		id := h.EntityID()
		if id == "" || !h.Live() {
			continue
		}
		tl := &Timeline{EntityID: id}
		tl.Append(CaptureSnapshot(h, 0))
		rec.Timelines[id] = tl
	}
	return rec
}

// ApplySnapshot writes a snapshot's pose onto a handle.
func ApplySnapshot(h runtime.Handle, snap StateSnapshot) error {
	if h == nil {
		return ErrMissingPrimary
	}
	return h.ApplyPose(runtime.Pose{
		Position: snap.Position,
		Rotation: snap.Rotation,
		Scale:    snap.Scale,
	})
}

// ApplyProperties writes the well-known captured properties back through the
// handle's setters, gated on its capabilities. Unknown keys are ignored;
// per-key failures come back as warnings rather than aborting the batch.
func ApplyProperties(h runtime.Handle, props *Properties) []string {
	if h == nil || props.Len() == 0 {
		return nil
	}
	var warnings []string
	caps := h.Capabilities()
	noteErr := func(key string, err error) {
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("applying %s to %s: %v", key, h.EntityID(), err))
		}
	}

	if caps.Velocity {
		if value, ok := props.Get(PropLinearVelocity); ok {
			if v, ok := value.AsVector3(); ok {
				noteErr(PropLinearVelocity, h.SetLinearVelocity(v))
			}
		}
		if value, ok := props.Get(PropAngularVelocity); ok {
			if v, ok := value.AsVector3(); ok {
				noteErr(PropAngularVelocity, h.SetAngularVelocity(v))
			}
		}
	}
	if caps.Kinematic {
		if value, ok := props.Get(PropKinematic); ok {
			if b, ok := value.AsBool(); ok {
				noteErr(PropKinematic, h.SetKinematic(b))
			}
		}
	}
	if caps.Animation {
		name, hasName := props.Get(PropAnimationState)
		if hasName {
			state := runtime.AnimationState{}
			if s, ok := name.AsString(); ok {
				state.Name = s
			}
			if value, ok := props.Get(PropAnimationTime); ok {
				if f, ok := value.AsFloat(); ok {
					state.Time = f
				}
			}
			if value, ok := props.Get(PropAnimationSpeed); ok {
				if f, ok := value.AsFloat(); ok {
					state.Speed = f
				}
			}
			noteErr(PropAnimationState, h.SetAnimation(state))
		}
	}
	return warnings
}
