package audit

import (
	"encoding/json"
	"time"
)

// Event is an immutable, append-only record of an action taken through the API.
//
// Invariants:
// - Events are never updated or deleted.
// - actor and ip capture are best-effort; audit failures never fail the action.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorUserID and ActorRole are empty on unauthenticated routes.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CallID     string `json:"call_id,omitempty" db:"call_id"`
	CallbackID string `json:"callback_id,omitempty" db:"callback_id"`

	Message  string          `json:"message,omitempty" db:"message"`
	Metadata json.RawMessage `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventCallInitiated     EventType = "call_initiated"
	EventTestCallCreated   EventType = "test_call_created"
	EventCallbackScheduled EventType = "callback_scheduled"
	EventRelayTriggered    EventType = "relay_triggered"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCallInitiated, EventTestCallCreated, EventCallbackScheduled, EventRelayTriggered:
		return true
	default:
		return false
	}
}

const MaxListLimit = 100
