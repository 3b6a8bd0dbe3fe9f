package transition

import (
	"context"

	"github.com/HowardHan99/RerunPublicRobot/logging"
)

const (
	// EventStarted is emitted when a control handback is armed.
	EventStarted logging.EventType = "transition.started"
	// EventPhaseAdvanced is emitted each time the handback state machine moves.
	EventPhaseAdvanced logging.EventType = "transition.phase_advanced"
	// EventIdentityRebound is emitted when reconciliation rekeys a stand-in
	// under the primary id it matched.
	EventIdentityRebound logging.EventType = "transition.identity_rebound"
	// EventCompleted is emitted when a handback reaches its terminal phase
	// with applied state.
	EventCompleted logging.EventType = "transition.completed"
	// EventFailed is emitted when a handback aborts.
	EventFailed logging.EventType = "transition.failed"
)

// StartedPayload captures how the handback was armed.
type StartedPayload struct {
	QueryTime   float64 `json:"queryTime"`
	Primaries   int     `json:"primaries"`
	Secondaries int     `json:"secondaries"`
}

// PhasePayload captures one state-machine step.
type PhasePayload struct {
	Phase string `json:"phase"`
	Tick  int    `json:"tick"`
}

// ReboundPayload captures one identity rebinding.
type ReboundPayload struct {
	PrimaryID   string  `json:"primaryId"`
	SecondaryID string  `json:"secondaryId"`
	Similarity  float64 `json:"similarity"`
}

// OutcomePayload summarizes a finished handback.
type OutcomePayload struct {
	Applied          int      `json:"applied"`
	Failed           int      `json:"failed"`
	Skipped          int      `json:"skipped"`
	Rebound          int      `json:"rebound"`
	Ticks            int      `json:"ticks"`
	FromLiveSnapshot bool     `json:"fromLiveSnapshot"`
	Errors           []string `json:"errors,omitempty"`
}

// Started publishes a handback-armed event.
func Started(ctx context.Context, pub logging.Publisher, tick uint64, payload StartedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventStarted,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTransition,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// PhaseAdvanced publishes a state-machine step event.
func PhaseAdvanced(ctx context.Context, pub logging.Publisher, tick uint64, payload PhasePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventPhaseAdvanced,
		Tick:     tick,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryTransition,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// IdentityRebound publishes an identity-rebinding event.
func IdentityRebound(ctx context.Context, pub logging.Publisher, tick uint64, payload ReboundPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventIdentityRebound,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTransition,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// Completed publishes a handback-finished event.
func Completed(ctx context.Context, pub logging.Publisher, tick uint64, payload OutcomePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventCompleted,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryTransition,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// Failed publishes a handback-aborted event.
func Failed(ctx context.Context, pub logging.Publisher, tick uint64, payload OutcomePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventFailed,
		Tick:     tick,
		Severity: logging.SeverityError,
		Category: logging.CategoryTransition,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
