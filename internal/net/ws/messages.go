package ws

import (
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
)

// Runtime protocol message types. The runtime side announces entities once,
// then streams state, status, and removal batches; the bridge streams back
// commands whenever replay or a handback needs to drive an entity.
const (
	runtimeAnnounce  = "announce"
	runtimeState     = "state"
	runtimeStatus    = "status"
	runtimeRemove    = "remove"
	runtimeHeartbeat = "heartbeat"
	runtimeCommandT  = "command"
)

// Command operations the bridge can ask a runtime to perform on an entity.
const (
	opSetActive          = "set_active"
	opApplyPose          = "apply_pose"
	opSetLinearVelocity  = "set_linear_velocity"
	opSetAngularVelocity = "set_angular_velocity"
	opSetKinematic       = "set_kinematic"
	opSetAnimation       = "set_animation"
)

// runtimeMessage is the envelope for every frame a runtime connection sends.
// Only the slice matching Type is populated.
type runtimeMessage struct {
	Ver      int                    `json:"ver,omitempty"`
	Type     string                 `json:"type"`
	SentAt   int64                  `json:"sentAt,omitempty"`
	Entities []entityAnnouncement   `json:"entities,omitempty"`
	States   []replay.StateDocument `json:"states,omitempty"`
	Statuses []entityStatus         `json:"statuses,omitempty"`
	IDs      []string               `json:"ids,omitempty"`
}

// entityAnnouncement introduces one entity the runtime owns. State, when
// present, seeds the bridge's cache so the first tick already has a pose.
type entityAnnouncement struct {
	ID           string                `json:"id"`
	Path         string                `json:"path"`
	Active       bool                  `json:"active"`
	Capabilities capabilitiesDocument  `json:"capabilities"`
	State        *replay.StateDocument `json:"state,omitempty"`
}

type capabilitiesDocument struct {
	Velocity  bool `json:"velocity"`
	Kinematic bool `json:"kinematic"`
	Animation bool `json:"animation"`
}

// entityStatus reports an activation or liveness change. Live is a pointer
// so a status that only toggles activation leaves liveness untouched.
type entityStatus struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
	Live   *bool  `json:"live,omitempty"`
}

// runtimeCommand is one outbound instruction. Exactly one payload pointer is
// set, matching Op.
type runtimeCommand struct {
	Ver       int                    `json:"ver"`
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	Op        string                 `json:"op"`
	Active    *bool                  `json:"active,omitempty"`
	Pose      *poseDocument          `json:"pose,omitempty"`
	Vector    *replay.VectorDocument `json:"vector,omitempty"`
	Flag      *bool                  `json:"flag,omitempty"`
	Animation *animationDocument     `json:"animation,omitempty"`
}

type poseDocument struct {
	Position replay.VectorDocument     `json:"position"`
	Rotation replay.QuaternionDocument `json:"rotation"`
	Scale    replay.VectorDocument     `json:"scale"`
}

type animationDocument struct {
	Name  string  `json:"name"`
	Time  float64 `json:"time"`
	Speed float64 `json:"speed"`
}

// clientMessage is the envelope for frames a spectator connection sends.
type clientMessage struct {
	Ver        int      `json:"ver,omitempty"`
	Type       string   `json:"type"`
	SentAt     int64    `json:"sentAt"`
	Action     string   `json:"action,omitempty"`
	Position   *float64 `json:"position,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	QueryTime  *float64 `json:"queryTime,omitempty"`
	CommandSeq *uint64  `json:"seq,omitempty"`
}

type commandAckMessage struct {
	Ver  int    `json:"ver"`
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Tick uint64 `json:"tick,omitempty"`
}

type commandRejectMessage struct {
	Ver    int    `json:"ver"`
	Type   string `json:"type"`
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
	Tick   uint64 `json:"tick,omitempty"`
}

type heartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
	RTTMillis  int64  `json:"rtt"`
}
