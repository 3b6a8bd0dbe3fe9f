package ws

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	rerun "github.com/HowardHan99/RerunPublicRobot"
	"github.com/HowardHan99/RerunPublicRobot/internal/replay"
	loggingsession "github.com/HowardHan99/RerunPublicRobot/logging/session"
)

func newSpectatorFixture(t *testing.T) (*SpectatorHandler, *rerun.Hub, *eventLog) {
	t.Helper()
	events := &eventLog{}
	engine := rerun.NewEngine(rerun.DefaultEngineConfig(), rerun.Deps{Publisher: events})
	hub := rerun.NewHub(engine, rerun.DefaultHubConfig())
	return NewSpectatorHandler(hub, SpectatorConfig{Logger: quietLogger()}), hub, events
}

func dialSpectator(t *testing.T, handler *SpectatorHandler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(nethttp.HandlerFunc(handler.Handle))
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial spectator endpoint: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.Close()
	})
	return conn
}

// spectatorFrame is the union of the envelope fields the tests inspect.
type spectatorFrame struct {
	Type       string `json:"type"`
	Seq        uint64 `json:"seq"`
	Reason     string `json:"reason"`
	ClientTime int64  `json:"clientTime"`
}

func readSpectatorFrame(t *testing.T, conn *websocket.Conn) spectatorFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame spectatorFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func uptr(v uint64) *uint64 { return &v }

func TestSpectatorCommandFlow(t *testing.T) {
	handler, hub, events := newSpectatorFixture(t)
	conn := dialSpectator(t, handler)

	if frame := readSpectatorFrame(t, conn); frame.Type != "welcome" {
		t.Fatalf("expected welcome first, got %+v", frame)
	}

	send := func(msg clientMessage) {
		t.Helper()
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write %s: %v", msg.Type, err)
		}
	}

	send(clientMessage{Type: "record", Action: "begin", CommandSeq: uptr(1)})
	if frame := readSpectatorFrame(t, conn); frame.Type != "command_ack" || frame.Seq != 1 {
		t.Fatalf("expected ack for seq 1, got %+v", frame)
	}
	if got := hub.Engine().RecorderState(); got != replay.RecorderRecording {
		t.Fatalf("expected recorder running, got %q", got)
	}

	// Replaying an acknowledged sequence acks again without re-running the
	// command; a second begin would otherwise reject as busy.
	send(clientMessage{Type: "record", Action: "begin", CommandSeq: uptr(1)})
	if frame := readSpectatorFrame(t, conn); frame.Type != "command_ack" || frame.Seq != 1 {
		t.Fatalf("expected duplicate ack for seq 1, got %+v", frame)
	}

	send(clientMessage{Type: "record", Action: "stop", CommandSeq: uptr(2)})
	if frame := readSpectatorFrame(t, conn); frame.Type != "command_ack" || frame.Seq != 2 {
		t.Fatalf("expected ack for seq 2, got %+v", frame)
	}
	if hub.Engine().ActiveRecording() == nil {
		t.Fatalf("expected stop to bind the recording")
	}

	send(clientMessage{Type: "playback", Action: "seek", CommandSeq: uptr(3)})
	frame := readSpectatorFrame(t, conn)
	if frame.Type != "command_reject" || frame.Seq != 3 {
		t.Fatalf("expected reject for seek without position, got %+v", frame)
	}
	if frame.Reason != rerun.CommandRejectInvalidArgument {
		t.Fatalf("unexpected reject reason %q", frame.Reason)
	}

	// Malformed and unknown frames are discarded without dropping the
	// connection.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write malformed frame: %v", err)
	}
	send(clientMessage{Type: "mystery"})
	send(clientMessage{Type: "heartbeat", SentAt: 123})
	if frame := readSpectatorFrame(t, conn); frame.Type != "heartbeat" || frame.ClientTime != 123 {
		t.Fatalf("expected heartbeat echo, got %+v", frame)
	}

	send(clientMessage{Type: "playback", Action: "play", CommandSeq: uptr(4)})
	if frame := readSpectatorFrame(t, conn); frame.Type != "command_ack" || frame.Seq != 4 {
		t.Fatalf("expected ack for seq 4, got %+v", frame)
	}
	if !hub.Engine().Playing() {
		t.Fatalf("expected playback running after play")
	}

	if got := events.count(loggingsession.EventCommandRejected); got != 1 {
		t.Fatalf("expected one rejected command event, got %d", got)
	}
}

func TestSpectatorDisconnectCleansUp(t *testing.T) {
	handler, hub, events := newSpectatorFixture(t)
	conn := dialSpectator(t, handler)

	if frame := readSpectatorFrame(t, conn); frame.Type != "welcome" {
		t.Fatalf("expected welcome first, got %+v", frame)
	}
	if got := hub.SubscriberCount(); got != 1 {
		t.Fatalf("expected one subscriber, got %d", got)
	}

	conn.Close()
	waitFor(t, "unsubscribe", func() bool { return hub.SubscriberCount() == 0 })
	waitFor(t, "disconnect event", func() bool {
		return events.count(loggingsession.EventClientDisconnected) == 1
	})
}
