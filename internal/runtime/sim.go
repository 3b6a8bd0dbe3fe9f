package runtime

import "github.com/HowardHan99/RerunPublicRobot/internal/geom"

var _ Handle = (*SimHandle)(nil)

// SimHandle is an in-process Handle backed by plain fields. Engine tests and
// the offline tooling use it in place of a connected runtime; writes apply
// immediately so a driver loop can run a full transition without waiting on
// a remote peer.
type SimHandle struct {
	id   string
	path string

	live   bool
	active bool
	pose   Pose
	caps   Capabilities

	linearVelocity  geom.Vec3
	angularVelocity geom.Vec3
	kinematic       bool
	animation       AnimationState
	hasAnimation    bool

	activateErr error
	applyErr    error
	applyDrift  geom.Vec3

	applyCount    int
	activations   int
	deactivations int
}

// NewSimHandle constructs a live, active handle with identity rotation and
// unit scale.
func NewSimHandle(id, path string) *SimHandle {
	return &SimHandle{
		id:     id,
		path:   path,
		live:   true,
		active: true,
		pose: Pose{
			Rotation: geom.IdentityQuat(),
			Scale:    geom.Vec3{X: 1, Y: 1, Z: 1},
		},
	}
}

func (h *SimHandle) EntityID() string      { return h.id }
func (h *SimHandle) HierarchyPath() string { return h.path }

func (h *SimHandle) Live() bool   { return h.live }
func (h *SimHandle) Active() bool { return h.active }

// SetLive marks the underlying entity as existing or destroyed.
func (h *SimHandle) SetLive(live bool) { h.live = live }

// SetHierarchyPath reparents the entity, changing how the registry
// classifies it on the next rebuild.
func (h *SimHandle) SetHierarchyPath(path string) { h.path = path }

func (h *SimHandle) SetActive(active bool) error {
	if active {
		h.activations++
		if h.activateErr != nil {
			return h.activateErr
		}
	} else {
		h.deactivations++
	}
	h.active = active
	return nil
}

func (h *SimHandle) Pose() Pose { return h.pose }

func (h *SimHandle) ApplyPose(pose Pose) error {
	h.applyCount++
	if h.applyErr != nil {
		return h.applyErr
	}
	pose.Position = pose.Position.Add(h.applyDrift)
	h.pose = pose
	return nil
}

// SetPose overwrites the pose directly, bypassing drift and counters.
func (h *SimHandle) SetPose(pose Pose) { h.pose = pose }

func (h *SimHandle) Capabilities() Capabilities { return h.caps }

// SetCapabilities configures which optional state groups the handle
// advertises.
func (h *SimHandle) SetCapabilities(caps Capabilities) { h.caps = caps }

func (h *SimHandle) LinearVelocity() geom.Vec3 { return h.linearVelocity }

func (h *SimHandle) SetLinearVelocity(v geom.Vec3) error {
	h.linearVelocity = v
	return nil
}

func (h *SimHandle) AngularVelocity() geom.Vec3 { return h.angularVelocity }

func (h *SimHandle) SetAngularVelocity(v geom.Vec3) error {
	h.angularVelocity = v
	return nil
}

func (h *SimHandle) Kinematic() bool { return h.kinematic }

func (h *SimHandle) SetKinematic(kinematic bool) error {
	h.kinematic = kinematic
	return nil
}

func (h *SimHandle) Animation() (AnimationState, bool) {
	return h.animation, h.hasAnimation
}

func (h *SimHandle) SetAnimation(state AnimationState) error {
	h.animation = state
	h.hasAnimation = true
	return nil
}

// FailActivation scripts SetActive(true) to return err until cleared with a
// nil err.
func (h *SimHandle) FailActivation(err error) { h.activateErr = err }

// FailApply scripts ApplyPose to return err until cleared with a nil err.
func (h *SimHandle) FailApply(err error) { h.applyErr = err }

// SetApplyDrift offsets every applied position by v, simulating a host that
// does not land writes exactly where asked.
func (h *SimHandle) SetApplyDrift(v geom.Vec3) { h.applyDrift = v }

// ApplyCount returns how many times ApplyPose was called.
func (h *SimHandle) ApplyCount() int { return h.applyCount }

// Activations returns how many times SetActive(true) was called.
func (h *SimHandle) Activations() int { return h.activations }

// Deactivations returns how many times SetActive(false) was called.
func (h *SimHandle) Deactivations() int { return h.deactivations }
