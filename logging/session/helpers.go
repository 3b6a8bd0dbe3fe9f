package session

import (
	"context"

	"github.com/HowardHan99/RerunPublicRobot/logging"
)

const (
	// EventClientConnected is emitted when a control client attaches to the engine.
	EventClientConnected logging.EventType = "session.client_connected"
	// EventClientDisconnected is emitted when a control client detaches or times out.
	EventClientDisconnected logging.EventType = "session.client_disconnected"
	// EventCommandRejected is emitted when a client command cannot be honored.
	EventCommandRejected logging.EventType = "session.command_rejected"
	// EventHandleReplaced is emitted when a registration displaces a live handle with the same entity id.
	EventHandleReplaced logging.EventType = "session.handle_replaced"
)

// ConnectedPayload captures where the client came from and the resulting fanout size.
type ConnectedPayload struct {
	RemoteAddr  string `json:"remoteAddr"`
	Subscribers int    `json:"subscribers"`
}

// DisconnectedPayload captures why the client left and the resulting fanout size.
type DisconnectedPayload struct {
	Reason      string `json:"reason"`
	Subscribers int    `json:"subscribers"`
}

// CommandRejectedPayload captures the command that was refused and the reason.
type CommandRejectedPayload struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

// HandleReplacedPayload captures the hierarchy paths involved in a registration collision.
type HandleReplacedPayload struct {
	PreviousPath string `json:"previousPath"`
	Path         string `json:"path"`
}

// ClientConnected publishes an informational event when a client attaches.
func ClientConnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ConnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventClientConnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySession,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// ClientDisconnected publishes an informational event when a client detaches.
func ClientDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DisconnectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventClientDisconnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySession,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// CommandRejected publishes a warning event when a client command is refused.
func CommandRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CommandRejectedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventCommandRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySession,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// HandleReplaced publishes a warning event when a live handle is displaced by a newer registration.
func HandleReplaced(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload HandleReplacedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventHandleReplaced,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySession,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
