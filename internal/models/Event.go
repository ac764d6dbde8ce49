package models

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cast"
)

type Action string

const (
	ActionLike        Action = "like"
	ActionTip         Action = "tip"
	ActionTipSent     Action = "tip_sent"
	ActionUse         Action = "use"
	ActionBounty      Action = "bounty"
	ActionDailyBounty Action = "daily_bounty"
	ActionDailySignin Action = "daily_signin"
	ActionDraftCost   Action = "draft_cost"
	ActionListen      Action = "listen"
	ActionReply       Action = "reply"
	ActionSelfLike    Action = "self_like"
	ActionUnknown     Action = "unknown"
)

var knownActions = map[Action]struct{}{
	ActionLike: {}, ActionTip: {}, ActionTipSent: {}, ActionUse: {}, ActionBounty: {},
	ActionDailyBounty: {}, ActionDailySignin: {}, ActionDraftCost: {}, ActionListen: {},
	ActionReply: {}, ActionSelfLike: {}, ActionUnknown: {},
}

// ParseAction maps free-form action labels onto the known set; anything else is ActionUnknown.
func ParseAction(s string) Action {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownActions[a]; ok {
		return a
	}
	return ActionUnknown
}

// SelfUser is how receipts refer to the dashboard owner.
const SelfUser = "you"

// Event is one receipt.
type Event struct {
	User      string  `json:"user"`
	Action    Action  `json:"action"`
	Concept   *string `json:"concept"`
	Amount    int64   `json:"amount"`
	Timestamp string  `json:"timestamp"`
	Raw       string  `json:"raw"`
}

type eventWire struct {
	User      string      `json:"user"`
	Action    string      `json:"action"`
	Concept   *string     `json:"concept"`
	Amount    interface{} `json:"amount"`
	Timestamp string      `json:"timestamp"`
	Raw       string      `json:"raw"`
}

// UnmarshalJSON accepts amounts given as numbers or numeric strings.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	amount, err := cast.ToInt64E(w.Amount)
	if err != nil {
		return err
	}
	*e = Event{
		User:      w.User,
		Action:    ParseAction(w.Action),
		Concept:   w.Concept,
		Amount:    amount,
		Timestamp: w.Timestamp,
		Raw:       w.Raw,
	}
	if e.Concept != nil && strings.TrimSpace(*e.Concept) == "" {
		e.Concept = nil
	}
	return nil
}

// HasTimestamp reports whether the event can be persisted.
func (e *Event) HasTimestamp() bool {
	return strings.TrimSpace(e.Timestamp) != ""
}

// ConceptName returns the concept or "" when the event has none.
func (e *Event) ConceptName() string {
	if e.Concept == nil {
		return ""
	}
	return *e.Concept
}

func (e *Event) Clone() *Event {
	c := *e
	if e.Concept != nil {
		name := *e.Concept
		c.Concept = &name
	}
	return &c
}
