package rerun

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	"github.com/HowardHan99/RerunPublicRobot/logging"
	loggingsession "github.com/HowardHan99/RerunPublicRobot/logging/session"
	loggingsimulation "github.com/HowardHan99/RerunPublicRobot/logging/simulation"
)

const (
	defaultTickRate = 20

	// writeWait bounds how long a broadcast may block on one subscriber.
	writeWait = 10 * time.Second
)

// MetricTickOverruns counts ticks whose work exceeded the tick interval.
const MetricTickOverruns = "hub.tick_budget_overruns"

// HubConfig carries the hub's loop settings.
type HubConfig struct {
	// TickRate is the number of engine ticks per second.
	TickRate int
}

// DefaultHubConfig returns the hub defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{TickRate: defaultTickRate}
}

func (c HubConfig) normalized() HubConfig {
	if c.TickRate <= 0 {
		c.TickRate = defaultTickRate
	}
	return c
}

// TickIntake drains buffered runtime input at the top of a tick. The bridge
// registers one so pose updates land between ticks, never during one.
type TickIntake interface {
	Drain(now float64) int
}

// subscriber is one spectator connection. The mutex serializes writes since
// the underlying connection allows a single concurrent writer.
type subscriber struct {
	id      string
	conn    *websocket.Conn
	mu      sync.Mutex
	lastSeq atomic.Uint64
}

// ID returns the hub-assigned subscriber id.
func (s *subscriber) ID() string { return s.id }

// LastCommandSeq returns the highest command sequence acknowledged so far.
func (s *subscriber) LastCommandSeq() uint64 { return s.lastSeq.Load() }

// StoreLastCommandSeq records the highest acknowledged command sequence.
func (s *subscriber) StoreLastCommandSeq(seq uint64) { s.lastSeq.Store(seq) }

// WriteMessage writes one frame under the subscriber's write lock with the
// hub's write deadline applied.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// Hub owns the engine loop and the spectator broadcast fan-out. Commands
// arrive from the HTTP and websocket layers between ticks; the tick loop is
// the only caller of Advance.
type Hub struct {
	engine *Engine
	cfg    HubConfig
	start  time.Time

	nextID atomic.Uint64

	mu          sync.Mutex
	subscribers map[string]*subscriber

	intakeMu sync.Mutex
	intakes  []TickIntake
}

// NewHub wraps an engine in a broadcast loop.
func NewHub(engine *Engine, cfg HubConfig) *Hub {
	return &Hub{
		engine:      engine,
		cfg:         cfg.normalized(),
		start:       time.Now(),
		subscribers: make(map[string]*subscriber),
	}
}

// Engine returns the wrapped engine.
func (h *Hub) Engine() *Engine { return h.engine }

// TickRate returns the configured ticks per second.
func (h *Hub) TickRate() int { return h.cfg.TickRate }

// Now returns the hub's engine time: seconds since the hub was created.
// Commands and the tick loop share this single timebase.
func (h *Hub) Now() float64 {
	return time.Since(h.start).Seconds()
}

// AttachIntake registers a runtime input buffer to drain each tick.
func (h *Hub) AttachIntake(intake TickIntake) {
	if intake == nil {
		return
	}
	h.intakeMu.Lock()
	h.intakes = append(h.intakes, intake)
	h.intakeMu.Unlock()
}

// Subscribe registers a spectator connection and sends it the welcome frame.
func (h *Hub) Subscribe(conn *websocket.Conn) (*subscriber, error) {
	id := fmt.Sprintf("spectator-%d", h.nextID.Add(1))
	sub := &subscriber{id: id, conn: conn}

	h.mu.Lock()
	h.subscribers[id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	loggingsession.ClientConnected(context.Background(), h.engine.Publisher(), h.engine.Tick(),
		logging.EntityRef{ID: id, Kind: logging.EntityKindClient},
		loggingsession.ConnectedPayload{RemoteAddr: conn.RemoteAddr().String(), Subscribers: count}, nil)

	if err := h.sendWelcome(sub); err != nil {
		h.Disconnect(sub, "welcome write failed")
		return nil, err
	}
	return sub, nil
}

// Disconnect removes a subscriber and closes its connection. Calling it for
// an already-removed subscriber is a no-op.
func (h *Hub) Disconnect(sub *subscriber, reason string) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, known := h.subscribers[sub.id]
	delete(h.subscribers, sub.id)
	count := len(h.subscribers)
	h.mu.Unlock()
	if !known {
		return
	}
	sub.conn.Close()

	loggingsession.ClientDisconnected(context.Background(), h.engine.Publisher(), h.engine.Tick(),
		logging.EntityRef{ID: sub.id, Kind: logging.EntityKindClient},
		loggingsession.DisconnectedPayload{Reason: reason, Subscribers: count}, nil)
}

// SubscriberCount returns the number of attached spectators.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// RunTicks drives the engine loop until stop closes: drain buffered runtime
// input, advance the engine, then broadcast the resulting state.
func (h *Hub) RunTicks(stop <-chan struct{}) {
	interval := time.Second / time.Duration(h.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var overrunStreak uint64
	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			if dt <= 0 {
				dt = 1.0 / float64(h.cfg.TickRate)
			}
			h.StepTick(now.Sub(h.start).Seconds(), dt)

			elapsed := time.Since(now)
			if elapsed <= interval {
				overrunStreak = 0
				continue
			}
			overrunStreak++
			h.engine.Metrics().Add(MetricTickOverruns, 1)
			loggingsimulation.TickBudgetOverrun(context.Background(), h.engine.Publisher(), h.engine.Tick(),
				loggingsimulation.TickBudgetOverrunPayload{
					DurationMillis: elapsed.Milliseconds(),
					BudgetMillis:   interval.Milliseconds(),
					Ratio:          float64(elapsed) / float64(interval),
					Streak:         overrunStreak,
				}, nil)
		}
	}
}

// StepTick runs one tick at the given engine time. Split from RunTicks so
// tests and embedders can drive the loop deterministically.
func (h *Hub) StepTick(now, dt float64) TickSummary {
	h.intakeMu.Lock()
	intakes := append([]TickIntake(nil), h.intakes...)
	h.intakeMu.Unlock()
	for _, intake := range intakes {
		intake.Drain(now)
	}

	summary := h.engine.Advance(now, dt)
	h.broadcast(now, summary)
	return summary
}

// broadcast sends the per-tick state frame, plus a transition report frame
// when one finished this tick, to every subscriber. A failed write detaches
// that subscriber; the next tick covers the rest.
func (h *Hub) broadcast(now float64, summary TickSummary) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	state, err := json.Marshal(h.buildStateMessage(now, summary))
	if err != nil {
		h.engine.Logger().Printf("marshal state frame: %v", err)
		return
	}
	var report []byte
	if summary.Transition != nil {
		report, err = json.Marshal(buildReportMessage(summary.Tick, *summary.Transition))
		if err != nil {
			h.engine.Logger().Printf("marshal report frame: %v", err)
			report = nil
		}
	}

	for _, sub := range subs {
		if err := sub.WriteMessage(websocket.TextMessage, state); err != nil {
			h.Disconnect(sub, "state write failed")
			continue
		}
		if report == nil {
			continue
		}
		if err := sub.WriteMessage(websocket.TextMessage, report); err != nil {
			h.Disconnect(sub, "report write failed")
		}
	}
}

// buildStateMessage assembles the per-tick frame. While playback is running
// the frame carries interpolated recording state; otherwise it carries the
// live snapshot of every registered handle.
func (h *Hub) buildStateMessage(now float64, summary TickSummary) stateMessage {
	diag := h.engine.Diagnostics()
	msg := stateMessage{
		Ver:        ProtocolVersion,
		Type:       "state",
		Tick:       summary.Tick,
		ServerTime: time.Now().UnixMilli(),
		Recorder:   string(diag.Recorder),
		Playback:   playbackStatusFrom(diag),
		Source:     "live",
	}
	if summary.TransitionPhase != "" {
		msg.Transition = string(summary.TransitionPhase)
	}

	var states map[string]replay.StateSnapshot
	if diag.HasRecording && diag.Playing {
		msg.Source = "replay"
		states = h.engine.PlaybackStates()
	} else {
		states = h.engine.LiveStates(now)
	}

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	msg.Entities = make([]replay.StateDocument, 0, len(ids))
	for _, id := range ids {
		doc, err := replay.EncodeState(states[id])
		if err != nil {
			h.engine.Logger().Printf("encode state for %s: %v", id, err)
			continue
		}
		msg.Entities = append(msg.Entities, doc)
	}
	return msg
}

func buildReportMessage(tick uint64, report replay.TransitionReport) reportMessage {
	return reportMessage{
		Ver:      ProtocolVersion,
		Type:     "transition_report",
		Tick:     tick,
		Phase:    string(report.Phase),
		Applied:  report.Applied,
		Failed:   report.Failed,
		Skipped:  report.Skipped,
		Rebound:  report.Rebound,
		Ticks:    report.Ticks,
		FromLive: report.FromLiveSnapshot,
		Errors:   report.Errors,
		Warnings: report.Warnings,
	}
}

func playbackStatusFrom(diag Diagnostics) playbackStatus {
	return playbackStatus{
		Playing:    diag.Playing,
		Position:   diag.Position,
		Duration:   diag.RecordingDuration,
		Speed:      diag.Speed,
		Normalized: diag.Normalized,
	}
}

func (h *Hub) sendWelcome(sub *subscriber) error {
	diag := h.engine.Diagnostics()
	msg := welcomeMessage{
		Ver:        ProtocolVersion,
		Type:       "welcome",
		ID:         sub.id,
		Tick:       diag.Tick,
		ServerTime: time.Now().UnixMilli(),
		TickRate:   h.cfg.TickRate,
		Playback:   playbackStatusFrom(diag),
	}
	if diag.HasRecording {
		msg.Recording = &recordingInfo{
			Duration: diag.RecordingDuration,
			Entities: diag.RecordingEntities,
			Samples:  diag.RecordingSamples,
		}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return sub.WriteMessage(websocket.TextMessage, data)
}

// DiagnosticsDocument assembles the operator diagnostics frame. Counters
// may be nil when the deployment does not collect them.
func (h *Hub) DiagnosticsDocument(counters map[string]uint64) any {
	diag := h.engine.Diagnostics()
	doc := diagnosticsSnapshot{
		Ver:              ProtocolVersion,
		Tick:             diag.Tick,
		Recorder:         string(diag.Recorder),
		Primaries:        diag.Primaries,
		Secondaries:      diag.Secondaries,
		Subscribers:      h.SubscriberCount(),
		TransitionActive: diag.TransitionActive,
		Playback:         playbackStatusFrom(diag),
		Counters:         counters,
	}
	if diag.HasRecording {
		doc.Recording = &recordingInfo{
			Duration: diag.RecordingDuration,
			Entities: diag.RecordingEntities,
			Samples:  diag.RecordingSamples,
		}
	}
	return doc
}

// HandleRecord applies a begin or stop recording command and reports why a
// rejected command was refused.
func (h *Hub) HandleRecord(action string) (bool, string) {
	switch action {
	case "begin":
		if err := h.engine.BeginRecording(h.Now()); err != nil {
			return false, CommandRejectRecorderBusy
		}
		return true, ""
	case "stop":
		if _, _, err := h.engine.StopRecording(h.Now()); err != nil {
			return false, CommandRejectRecorderIdle
		}
		return true, ""
	default:
		return false, CommandRejectInvalidArgument
	}
}

// HandlePlayback applies a play, pause, seek, or speed command.
func (h *Hub) HandlePlayback(action string, position, speed float64) (bool, string) {
	switch action {
	case "play":
		if err := h.engine.Play(); err != nil {
			return false, CommandRejectNoRecording
		}
		return true, ""
	case "pause":
		h.engine.Pause()
		return true, ""
	case "seek":
		if h.engine.ActiveRecording() == nil {
			return false, CommandRejectNoRecording
		}
		h.engine.Seek(position)
		return true, ""
	case "speed":
		if err := h.engine.SetSpeed(speed); err != nil {
			return false, CommandRejectInvalidArgument
		}
		return true, ""
	default:
		return false, CommandRejectInvalidArgument
	}
}

// HandleTransition arms a handback at the given query time. A negative
// query time resolves to the current playback position.
func (h *Hub) HandleTransition(queryTime float64) (bool, string) {
	if queryTime < 0 {
		queryTime = h.engine.PlaybackTime()
	}
	if err := h.engine.BeginTransition(queryTime); err != nil {
		return false, CommandRejectTransitionBusy
	}
	return true, ""
}
