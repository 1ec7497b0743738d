package grant

import (
	"time"

	"github.com/google/uuid"

	"uniquekits.dev/internal/kit"
	"uniquekits.dev/internal/reason"
)

type Status string

const (
	Success  Status = "success"
	Rejected Status = "rejected"
)

// State is the last step a grant reached.
type State int

const (
	StateStart State = iota
	StateEligibilityChecked
	StateCooldownChecked
	StateOneTimeChecked
	StateCostReserved
	StateItemsGranted
	StateEffectsApplied
	StateCommandsExecuted
	StateCommitted
	StateDone
)

var stateNames = [...]string{
	"start",
	"eligibility_checked",
	"cooldown_checked",
	"one_time_checked",
	"cost_reserved",
	"items_granted",
	"effects_applied",
	"commands_executed",
	"committed",
	"done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Outcome is the typed result of a grant attempt. Reason is empty on a clean
// success, DeliveryOverflow on a success with overflow, and the rejection
// code otherwise.
type Outcome struct {
	Status          Status
	Reason          reason.Code
	KitID           string
	DisplayName     string
	RemainingMillis int64
	Overflow        []kit.Item
	State           State
}

func (o Outcome) OK() bool { return o.Status == Success }

// MessageKey is the presentation key for the outcome.
func (o Outcome) MessageKey() string { return reason.MessageKey(o.Reason) }

// Event is emitted to recorders after every attempt.
type Event struct {
	At       time.Time   `json:"at"`
	User     uuid.UUID   `json:"user"`
	UserName string      `json:"user_name,omitempty"`
	World    string      `json:"world,omitempty"`
	KitID    string      `json:"kit"`
	Status   Status      `json:"status"`
	Reason   reason.Code `json:"reason,omitempty"`
	State    string      `json:"state"`
	Forced   bool        `json:"forced,omitempty"`
	Cost     int64       `json:"cost,omitempty"`
	Items    int         `json:"items,omitempty"`
	Overflow int         `json:"overflow,omitempty"`
}

// Recorder receives grant events. Implementations must not block.
type Recorder interface {
	RecordGrant(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

func (f RecorderFunc) RecordGrant(e Event) { f(e) }
