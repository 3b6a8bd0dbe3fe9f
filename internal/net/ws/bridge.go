package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	rerun "github.com/HowardHan99/RerunPublicRobot"
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	"github.com/HowardHan99/RerunPublicRobot/logging"
	loggingsession "github.com/HowardHan99/RerunPublicRobot/logging/session"
)

const (
	defaultQueueSize = 256

	// writeWait bounds how long an outbound command may block on one
	// runtime connection.
	writeWait = 10 * time.Second
)

// Bridge intake metric keys.
const (
	MetricStagedUpdates  = "bridge.updates_staged"
	MetricDroppedUpdates = "bridge.updates_dropped"
	MetricStatesApplied  = "bridge.states_applied"
	MetricUnknownEntity  = "bridge.unknown_entity"
)

// BridgeConfig carries the runtime endpoint settings.
type BridgeConfig struct {
	// Logger receives connection and protocol diagnostics. Defaults to the
	// standard logger.
	Logger *log.Logger
	// QueueSize bounds how many inbound batches may wait for the next tick
	// before new ones are dropped.
	QueueSize int
}

// Bridge accepts runtime connections and turns their entity streams into
// registered handles. Inbound batches are decoded on the read goroutine but
// applied only from Drain, so handle state changes exactly once per tick.
type Bridge struct {
	engine   *rerun.Engine
	logger   *log.Logger
	cfg      BridgeConfig
	upgrader websocket.Upgrader

	nextID atomic.Uint64

	mu       sync.Mutex
	sessions map[string]*runtimeSession
	queue    []stagedMessage
	dropped  uint64
}

// runtimeSession is one connected runtime and the handles it announced.
type runtimeSession struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  atomic.Bool

	mu      sync.Mutex
	handles map[string]*RemoteHandle
}

// stagedAnnounce pairs an announcement with its optional decoded seed state.
type stagedAnnounce struct {
	ann  entityAnnouncement
	snap *replay.StateSnapshot
}

// stagedMessage is one decoded inbound batch waiting for the next tick.
type stagedMessage struct {
	session   *runtimeSession
	announces []stagedAnnounce
	states    []replay.StateSnapshot
	statuses  []entityStatus
	removals  []string
}

// NewBridge builds the runtime endpoint around an engine.
func NewBridge(engine *rerun.Engine, cfg BridgeConfig) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Bridge{
		engine: engine,
		logger: cfg.Logger,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		sessions: make(map[string]*runtimeSession),
	}
}

// SessionCount returns the number of attached runtime connections.
func (b *Bridge) SessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Handle upgrades a runtime connection and runs its read loop until the
// connection drops.
func (b *Bridge) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Printf("runtime upgrade failed: %v", err)
		return
	}

	session := b.attach(conn)
	defer b.detach(session, "read failed")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg runtimeMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			b.logger.Printf("discarding malformed runtime message from %s: %v", session.id, err)
			continue
		}

		switch msg.Type {
		case runtimeAnnounce:
			staged := stagedMessage{session: session}
			for _, ann := range msg.Entities {
				if ann.ID == "" || ann.Path == "" {
					b.logger.Printf("discarding announce without id or path from %s", session.id)
					continue
				}
				entry := stagedAnnounce{ann: ann}
				if ann.State != nil {
					snap, err := replay.DecodeState(*ann.State)
					if err != nil {
						b.logger.Printf("discarding seed state for %q from %s: %v", ann.ID, session.id, err)
					} else {
						entry.snap = &snap
					}
				}
				staged.announces = append(staged.announces, entry)
			}
			if len(staged.announces) > 0 {
				b.stage(staged)
			}
		case runtimeState:
			staged := stagedMessage{session: session}
			for _, doc := range msg.States {
				snap, err := replay.DecodeState(doc)
				if err != nil {
					b.logger.Printf("discarding state for %q from %s: %v", doc.EntityID, session.id, err)
					continue
				}
				staged.states = append(staged.states, snap)
			}
			if len(staged.states) > 0 {
				b.stage(staged)
			}
		case runtimeStatus:
			if len(msg.Statuses) > 0 {
				b.stage(stagedMessage{session: session, statuses: msg.Statuses})
			}
		case runtimeRemove:
			if len(msg.IDs) > 0 {
				b.stage(stagedMessage{session: session, removals: msg.IDs})
			}
		case runtimeHeartbeat:
			now := time.Now()
			var rtt int64
			if msg.SentAt > 0 {
				if delta := now.UnixMilli() - msg.SentAt; delta > 0 {
					rtt = delta
				}
			}
			ack := heartbeatMessage{
				Ver:        rerun.ProtocolVersion,
				Type:       runtimeHeartbeat,
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
				RTTMillis:  rtt,
			}
			data, err := json.Marshal(ack)
			if err != nil {
				b.logger.Printf("failed to encode heartbeat ack: %v", err)
				continue
			}
			if err := session.write(data); err != nil {
				b.detach(session, "heartbeat write failed")
				return
			}
		default:
			b.logger.Printf("unknown runtime message type %q from %s", msg.Type, session.id)
		}
	}
}

// Drain applies every staged batch in arrival order. It satisfies the hub's
// tick intake, so the tick loop calls it before advancing the engine.
func (b *Bridge) Drain(now float64) int {
	b.mu.Lock()
	queue := b.queue
	b.queue = nil
	b.mu.Unlock()

	applied := 0
	for _, msg := range queue {
		applied += b.apply(msg)
	}
	return applied
}

func (b *Bridge) attach(conn *websocket.Conn) *runtimeSession {
	session := &runtimeSession{
		id:      fmt.Sprintf("runtime-%d", b.nextID.Add(1)),
		conn:    conn,
		handles: make(map[string]*RemoteHandle),
	}

	b.mu.Lock()
	b.sessions[session.id] = session
	count := len(b.sessions)
	b.mu.Unlock()

	loggingsession.ClientConnected(context.Background(), b.engine.Publisher(), b.engine.Tick(),
		logging.EntityRef{ID: session.id, Kind: logging.EntityKindClient},
		loggingsession.ConnectedPayload{RemoteAddr: conn.RemoteAddr().String(), Subscribers: count}, nil)
	return session
}

// detach closes a session and marks every handle it announced dead. Handles
// stay registered so recorded timelines keep their identity; a later
// announce of the same id replaces them.
func (b *Bridge) detach(session *runtimeSession, reason string) {
	if session == nil || !session.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	delete(b.sessions, session.id)
	count := len(b.sessions)
	b.mu.Unlock()

	session.conn.Close()
	for _, handle := range session.allHandles() {
		handle.markDead()
	}

	loggingsession.ClientDisconnected(context.Background(), b.engine.Publisher(), b.engine.Tick(),
		logging.EntityRef{ID: session.id, Kind: logging.EntityKindClient},
		loggingsession.DisconnectedPayload{Reason: reason, Subscribers: count}, nil)
}

func (b *Bridge) stage(msg stagedMessage) {
	b.mu.Lock()
	if len(b.queue) >= b.cfg.QueueSize {
		b.dropped++
		dropped := b.dropped
		b.mu.Unlock()
		b.engine.Metrics().Add(MetricDroppedUpdates, 1)
		if dropped == 1 || dropped%64 == 0 {
			b.logger.Printf("runtime intake full, dropped %d batches", dropped)
		}
		return
	}
	b.queue = append(b.queue, msg)
	b.mu.Unlock()
	b.engine.Metrics().Add(MetricStagedUpdates, 1)
}

func (b *Bridge) apply(msg stagedMessage) int {
	session := msg.session
	if session.closed.Load() {
		return 0
	}

	applied := 0
	for _, entry := range msg.announces {
		handle := newRemoteHandle(entry.ann, session.sendCommand)
		if entry.snap != nil {
			handle.applyState(*entry.snap)
		}
		session.putHandle(handle)
		if res := b.engine.Register(handle); res.Replaced {
			b.logger.Printf("entity %q re-announced by %s, newer registration wins", entry.ann.ID, session.id)
		}
		applied++
	}
	for _, snap := range msg.states {
		handle, ok := session.handle(snap.EntityID)
		if !ok {
			b.engine.Metrics().Add(MetricUnknownEntity, 1)
			b.logger.Printf("state for unannounced entity %q from %s", snap.EntityID, session.id)
			continue
		}
		handle.applyState(snap)
		b.engine.Metrics().Add(MetricStatesApplied, 1)
		applied++
	}
	for _, status := range msg.statuses {
		handle, ok := session.handle(status.ID)
		if !ok {
			b.engine.Metrics().Add(MetricUnknownEntity, 1)
			continue
		}
		live := handle.Live()
		if status.Live != nil {
			live = *status.Live
		}
		handle.setStatus(status.Active, live)
		applied++
	}
	for _, id := range msg.removals {
		handle, ok := session.takeHandle(id)
		if !ok {
			continue
		}
		handle.markDead()
		b.engine.Unregister(handle)
		applied++
	}
	return applied
}

// sendCommand stamps the protocol envelope and writes one command frame.
// Commands to a closed session fail fast so transition failures surface
// instead of blocking on a dead connection.
func (s *runtimeSession) sendCommand(cmd runtimeCommand) error {
	if s.closed.Load() {
		return fmt.Errorf("runtime session %s is closed", s.id)
	}
	cmd.Ver = rerun.ProtocolVersion
	cmd.Type = runtimeCommandT
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *runtimeSession) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *runtimeSession) putHandle(h *RemoteHandle) {
	s.mu.Lock()
	s.handles[h.EntityID()] = h
	s.mu.Unlock()
}

func (s *runtimeSession) handle(id string) (*RemoteHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

func (s *runtimeSession) takeHandle(id string) (*RemoteHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	return h, ok
}

func (s *runtimeSession) allHandles() []*RemoteHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	handles := make([]*RemoteHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	return handles
}
