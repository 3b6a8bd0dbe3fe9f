package ws

import (
	"sync"

	"github.com/HowardHan99/RerunPublicRobot/internal/geom"
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	"github.com/HowardHan99/RerunPublicRobot/internal/runtime"
)

// RemoteHandle mirrors one entity owned by a connected runtime. Reads return
// the state the runtime last streamed; writes are forwarded over the wire
// and do not touch the local cache, so a write's effect becomes visible only
// once the runtime echoes it back in a later state or status batch.
type RemoteHandle struct {
	id   string
	path string
	send func(runtimeCommand) error

	mu              sync.Mutex
	live            bool
	active          bool
	pose            runtime.Pose
	caps            runtime.Capabilities
	linearVelocity  geom.Vec3
	angularVelocity geom.Vec3
	kinematic       bool
	animation       runtime.AnimationState
	hasAnimation    bool
}

var _ runtime.Handle = (*RemoteHandle)(nil)

// newRemoteHandle builds a handle from an announcement. The entity starts
// live with an identity pose until the first state batch fills the cache.
func newRemoteHandle(ann entityAnnouncement, send func(runtimeCommand) error) *RemoteHandle {
	return &RemoteHandle{
		id:     ann.ID,
		path:   ann.Path,
		send:   send,
		live:   true,
		active: ann.Active,
		pose: runtime.Pose{
			Rotation: geom.IdentityQuat(),
			Scale:    geom.Vec3{X: 1, Y: 1, Z: 1},
		},
		caps: runtime.Capabilities{
			Velocity:  ann.Capabilities.Velocity,
			Kinematic: ann.Capabilities.Kinematic,
			Animation: ann.Capabilities.Animation,
		},
	}
}

func (h *RemoteHandle) EntityID() string { return h.id }

func (h *RemoteHandle) HierarchyPath() string { return h.path }

func (h *RemoteHandle) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

func (h *RemoteHandle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *RemoteHandle) SetActive(active bool) error {
	return h.send(runtimeCommand{ID: h.id, Op: opSetActive, Active: &active})
}

func (h *RemoteHandle) Pose() runtime.Pose {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pose
}

func (h *RemoteHandle) ApplyPose(pose runtime.Pose) error {
	doc := poseDocument{
		Position: replay.VectorDocument{X: pose.Position.X, Y: pose.Position.Y, Z: pose.Position.Z},
		Rotation: replay.QuaternionDocument{X: pose.Rotation.X, Y: pose.Rotation.Y, Z: pose.Rotation.Z, W: pose.Rotation.W},
		Scale:    replay.VectorDocument{X: pose.Scale.X, Y: pose.Scale.Y, Z: pose.Scale.Z},
	}
	return h.send(runtimeCommand{ID: h.id, Op: opApplyPose, Pose: &doc})
}

func (h *RemoteHandle) Capabilities() runtime.Capabilities {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caps
}

func (h *RemoteHandle) LinearVelocity() geom.Vec3 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.linearVelocity
}

func (h *RemoteHandle) SetLinearVelocity(v geom.Vec3) error {
	doc := replay.VectorDocument{X: v.X, Y: v.Y, Z: v.Z}
	return h.send(runtimeCommand{ID: h.id, Op: opSetLinearVelocity, Vector: &doc})
}

func (h *RemoteHandle) AngularVelocity() geom.Vec3 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.angularVelocity
}

func (h *RemoteHandle) SetAngularVelocity(v geom.Vec3) error {
	doc := replay.VectorDocument{X: v.X, Y: v.Y, Z: v.Z}
	return h.send(runtimeCommand{ID: h.id, Op: opSetAngularVelocity, Vector: &doc})
}

func (h *RemoteHandle) Kinematic() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kinematic
}

func (h *RemoteHandle) SetKinematic(kinematic bool) error {
	return h.send(runtimeCommand{ID: h.id, Op: opSetKinematic, Flag: &kinematic})
}

func (h *RemoteHandle) Animation() (runtime.AnimationState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.animation, h.hasAnimation
}

func (h *RemoteHandle) SetAnimation(state runtime.AnimationState) error {
	doc := animationDocument{Name: state.Name, Time: state.Time, Speed: state.Speed}
	return h.send(runtimeCommand{ID: h.id, Op: opSetAnimation, Animation: &doc})
}

// applyState replaces the cached pose and refreshes whichever optional
// groups the snapshot carries. A state batch from the runtime also proves
// the entity exists, so the handle flips back to live.
func (h *RemoteHandle) applyState(snap replay.StateSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = true
	h.pose = runtime.Pose{
		Position: snap.Position,
		Rotation: snap.Rotation,
		Scale:    snap.Scale,
	}
	if value, ok := snap.Properties.Get(replay.PropLinearVelocity); ok {
		if v, ok := value.AsVector3(); ok {
			h.linearVelocity = v
		}
	}
	if value, ok := snap.Properties.Get(replay.PropAngularVelocity); ok {
		if v, ok := value.AsVector3(); ok {
			h.angularVelocity = v
		}
	}
	if value, ok := snap.Properties.Get(replay.PropKinematic); ok {
		if flag, ok := value.AsBool(); ok {
			h.kinematic = flag
		}
	}
	if value, ok := snap.Properties.Get(replay.PropAnimationState); ok {
		if name, ok := value.AsString(); ok {
			h.animation.Name = name
			h.hasAnimation = true
		}
	}
	if value, ok := snap.Properties.Get(replay.PropAnimationTime); ok {
		if at, ok := value.AsFloat(); ok {
			h.animation.Time = at
		}
	}
	if value, ok := snap.Properties.Get(replay.PropAnimationSpeed); ok {
		if speed, ok := value.AsFloat(); ok {
			h.animation.Speed = speed
		}
	}
}

// setStatus applies an activation or liveness report from the runtime.
func (h *RemoteHandle) setStatus(active, live bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active = active
	h.live = live
}

// markDead flags the entity as gone. Used for explicit removals and when
// the owning session disconnects, so stale handles never receive commands
// the runtime cannot see anymore.
func (h *RemoteHandle) markDead() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = false
}
