package rerun

import (
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
)

// ProtocolVersion tags every wire message so clients can refuse payloads
// they do not understand.
const ProtocolVersion = 1

// Reject reasons returned to clients whose commands cannot be honored.
const (
	CommandRejectUnknownCommand  = "unknown_command"
	CommandRejectInvalidArgument = "invalid_argument"
	CommandRejectRecorderBusy    = "recorder_busy"
	CommandRejectRecorderIdle    = "recorder_idle"
	CommandRejectTransitionBusy  = "transition_busy"
	CommandRejectNoRecording     = "no_recording"
)

type playbackStatus struct {
	Playing    bool    `json:"playing"`
	Position   float64 `json:"position"`
	Duration   float64 `json:"duration"`
	Speed      float64 `json:"speed"`
	Normalized float64 `json:"normalized"`
}

type recordingInfo struct {
	Duration float64 `json:"duration"`
	Entities int     `json:"entities"`
	Samples  int     `json:"samples"`
}

// welcomeMessage is the first frame a spectator receives after subscribing.
type welcomeMessage struct {
	Ver        int            `json:"ver"`
	Type       string         `json:"type"`
	ID         string         `json:"id"`
	Tick       uint64         `json:"t"`
	ServerTime int64          `json:"serverTime"`
	TickRate   int            `json:"tickRate"`
	Playback   playbackStatus `json:"playback"`
	Recording  *recordingInfo `json:"recording,omitempty"`
}

// stateMessage is the per-tick broadcast. Source names where the entity
// states came from: interpolated replay while a recording drives playback,
// live handle reads otherwise.
type stateMessage struct {
	Ver        int                    `json:"ver"`
	Type       string                 `json:"type"`
	Tick       uint64                 `json:"t"`
	ServerTime int64                  `json:"serverTime"`
	Recorder   string                 `json:"recorder"`
	Transition string                 `json:"transition,omitempty"`
	Playback   playbackStatus         `json:"playback"`
	Source     string                 `json:"source"`
	Entities   []replay.StateDocument `json:"entities"`
}

type reportMessage struct {
	Ver      int      `json:"ver"`
	Type     string   `json:"type"`
	Tick     uint64   `json:"t"`
	Phase    string   `json:"phase"`
	Applied  int      `json:"applied"`
	Failed   int      `json:"failed"`
	Skipped  int      `json:"skipped"`
	Rebound  int      `json:"rebound"`
	Ticks    int      `json:"ticks"`
	FromLive bool     `json:"fromLiveSnapshot,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type diagnosticsSnapshot struct {
	Ver              int               `json:"ver"`
	Tick             uint64            `json:"t"`
	Recorder         string            `json:"recorder"`
	Primaries        int               `json:"primaries"`
	Secondaries      int               `json:"secondaries"`
	Subscribers      int               `json:"subscribers"`
	TransitionActive bool              `json:"transitionActive"`
	Playback         playbackStatus    `json:"playback"`
	Recording        *recordingInfo    `json:"recording,omitempty"`
	Counters         map[string]uint64 `json:"counters,omitempty"`
}
