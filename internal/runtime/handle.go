package runtime

import "github.com/HowardHan99/RerunPublicRobot/internal/geom"

// Pose bundles the spatial state of one entity.
type Pose struct {
	Position geom.Vec3
	Rotation geom.Quat
	Scale    geom.Vec3
}

// AnimationState is the named-animation triple exposed by runtimes that
// track animation playback.
type AnimationState struct {
	Name  string
	Time  float64
	Speed float64
}

// Capabilities advertises which optional state groups a handle exposes.
// Pose is always available; the rest is captured only when advertised.
type Capabilities struct {
	Velocity  bool
	Kinematic bool
	Animation bool
}

// Handle is the engine's non-owning reference to one entity owned by the
// host runtime. Reads report the state the runtime last published; writes
// are forwarded to the runtime, and their side effects are only guaranteed
// visible after the next tick boundary.
type Handle interface {
	// EntityID returns the entity's declared id. An empty id marks a handle
	// the engine must skip.
	EntityID() string
	// HierarchyPath returns the entity's ownership path, root to leaf,
	// joined with "/".
	HierarchyPath() string
	// Live reports whether the underlying entity still exists.
	Live() bool
	// Active reports whether the entity currently participates in the
	// host's scheduling.
	Active() bool
	// SetActive asks the runtime to activate or deactivate the entity.
	SetActive(active bool) error

	Pose() Pose
	ApplyPose(pose Pose) error

	Capabilities() Capabilities
	LinearVelocity() geom.Vec3
	SetLinearVelocity(v geom.Vec3) error
	AngularVelocity() geom.Vec3
	SetAngularVelocity(v geom.Vec3) error
	Kinematic() bool
	SetKinematic(kinematic bool) error
	Animation() (AnimationState, bool)
	SetAnimation(state AnimationState) error
}
