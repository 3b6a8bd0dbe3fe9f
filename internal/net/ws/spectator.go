package ws

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	rerun "github.com/HowardHan99/RerunPublicRobot"
	"github.com/HowardHan99/RerunPublicRobot/logging"
	loggingsession "github.com/HowardHan99/RerunPublicRobot/logging/session"
)

// subscription is the slice of the hub subscriber the read loop needs.
type subscription interface {
	ID() string
	WriteMessage(messageType int, data []byte) error
	LastCommandSeq() uint64
	StoreLastCommandSeq(seq uint64)
}

// SpectatorConfig carries the spectator endpoint settings.
type SpectatorConfig struct {
	// Logger receives connection and protocol diagnostics. Defaults to the
	// standard logger.
	Logger *log.Logger
}

// SpectatorHandler terminates spectator connections. The hub owns the
// subscriber set and the broadcast; this handler runs the per-connection
// read loop that turns inbound frames into hub commands.
type SpectatorHandler struct {
	hub      *rerun.Hub
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// NewSpectatorHandler builds the spectator endpoint around a hub.
func NewSpectatorHandler(hub *rerun.Hub, cfg SpectatorConfig) *SpectatorHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SpectatorHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades a spectator connection, subscribes it to the hub, and
// services commands until the connection drops.
func (h *SpectatorHandler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("spectator upgrade failed: %v", err)
		return
	}

	sub, err := h.hub.Subscribe(conn)
	if err != nil {
		h.logger.Printf("spectator subscribe failed: %v", err)
		return
	}
	session := subscription(sub)
	engine := h.hub.Engine()

	writeJSON := func(payload any, what string) bool {
		data, err := json.Marshal(payload)
		if err != nil {
			h.logger.Printf("failed to encode %s: %v", what, err)
			return true
		}
		if err := session.WriteMessage(websocket.TextMessage, data); err != nil {
			h.hub.Disconnect(sub, what+" write failed")
			return false
		}
		return true
	}

	sendCommandAck := func(seq uint64) bool {
		if seq == 0 {
			return true
		}
		ack := commandAckMessage{
			Ver:  rerun.ProtocolVersion,
			Type: "command_ack",
			Seq:  seq,
			Tick: engine.Tick(),
		}
		if !writeJSON(ack, "command ack") {
			return false
		}
		session.StoreLastCommandSeq(seq)
		return true
	}

	sendDuplicateAck := func(seq uint64) bool {
		ack := commandAckMessage{
			Ver:  rerun.ProtocolVersion,
			Type: "command_ack",
			Seq:  seq,
			Tick: engine.Tick(),
		}
		return writeJSON(ack, "duplicate command ack")
	}

	sendCommandReject := func(seq uint64, command, reason string) bool {
		reject := commandRejectMessage{
			Ver:    rerun.ProtocolVersion,
			Type:   "command_reject",
			Seq:    seq,
			Reason: reason,
			Tick:   engine.Tick(),
		}
		loggingsession.CommandRejected(r.Context(), engine.Publisher(), engine.Tick(),
			logging.EntityRef{ID: session.ID(), Kind: logging.EntityKindClient},
			loggingsession.CommandRejectedPayload{Command: command, Reason: reason}, nil)
		return writeJSON(reject, "command reject")
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Disconnect(sub, "read failed")
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", session.ID(), err)
			continue
		}

		var seq uint64
		if msg.CommandSeq != nil {
			seq = *msg.CommandSeq
		}

		switch msg.Type {
		case "heartbeat":
			now := time.Now()
			var rtt int64
			if msg.SentAt > 0 {
				if delta := now.UnixMilli() - msg.SentAt; delta > 0 {
					rtt = delta
				}
			}
			ack := heartbeatMessage{
				Ver:        rerun.ProtocolVersion,
				Type:       "heartbeat",
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
				RTTMillis:  rtt,
			}
			if !writeJSON(ack, "heartbeat ack") {
				return
			}
		case "record":
			if last := session.LastCommandSeq(); seq > 0 && last > 0 && seq <= last {
				if !sendDuplicateAck(seq) {
					return
				}
				continue
			}
			if ok, reason := h.hub.HandleRecord(msg.Action); !ok {
				if !sendCommandReject(seq, "record/"+msg.Action, reason) {
					return
				}
				continue
			}
			if !sendCommandAck(seq) {
				return
			}
		case "playback":
			if last := session.LastCommandSeq(); seq > 0 && last > 0 && seq <= last {
				if !sendDuplicateAck(seq) {
					return
				}
				continue
			}
			var position, speed float64
			missing := false
			switch msg.Action {
			case "seek":
				if msg.Position == nil {
					missing = true
				} else {
					position = *msg.Position
				}
			case "speed":
				if msg.Speed == nil {
					missing = true
				} else {
					speed = *msg.Speed
				}
			}
			if missing {
				if !sendCommandReject(seq, "playback/"+msg.Action, rerun.CommandRejectInvalidArgument) {
					return
				}
				continue
			}
			if ok, reason := h.hub.HandlePlayback(msg.Action, position, speed); !ok {
				if !sendCommandReject(seq, "playback/"+msg.Action, reason) {
					return
				}
				continue
			}
			if !sendCommandAck(seq) {
				return
			}
		case "transition":
			if last := session.LastCommandSeq(); seq > 0 && last > 0 && seq <= last {
				if !sendDuplicateAck(seq) {
					return
				}
				continue
			}
			queryTime := -1.0
			if msg.QueryTime != nil {
				queryTime = *msg.QueryTime
			}
			if ok, reason := h.hub.HandleTransition(queryTime); !ok {
				if !sendCommandReject(seq, "transition", reason) {
					return
				}
				continue
			}
			if !sendCommandAck(seq) {
				return
			}
		default:
			h.logger.Printf("unknown message type %q from %s", msg.Type, session.ID())
		}
	}
}
