package domain

import "github.com/bytedance/sonic"

// Entity types carried by change events.
const (
	EntityBoard = "board"
	EntityList  = "list"
	EntityCard  = "card"
)

// Event types carried by change events.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// ChangeEvent is one row change pushed on the change feed. New carries the
// row after the change, Old the row before it (deletes only carry Old). The
// transport promises neither ordering nor exactly-once delivery; consumers
// reconcile.
type ChangeEvent struct {
	EntityType string                 `json:"entityType"`
	EventType  string                 `json:"eventType"`
	New        sonic.NoCopyRawMessage `json:"new,omitempty"`
	Old        sonic.NoCopyRawMessage `json:"old,omitempty"`
	CommitTime int64                  `json:"commitTimestamp"`
}

// NewChangeEvent builds an event from row snapshots. Nil rows are omitted.
func NewChangeEvent(entityType, eventType string, newRow, oldRow any, commitTime int64) (ChangeEvent, error) {
	ev := ChangeEvent{EntityType: entityType, EventType: eventType, CommitTime: commitTime}
	if newRow != nil {
		data, err := sonic.Marshal(newRow)
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.New = data
	}
	if oldRow != nil {
		data, err := sonic.Marshal(oldRow)
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.Old = data
	}
	return ev, nil
}

// Row returns the entity snapshot carried by the event: the new row when
// present, otherwise the old one.
func (e ChangeEvent) Row() sonic.NoCopyRawMessage {
	if len(e.New) > 0 {
		return e.New
	}
	return e.Old
}

// DecodeBoard decodes the event row as a Board.
func (e ChangeEvent) DecodeBoard() (Board, error) {
	var b Board
	err := sonic.Unmarshal(e.Row(), &b)
	return b, err
}

// DecodeList decodes the event row as a List.
func (e ChangeEvent) DecodeList() (List, error) {
	var l List
	err := sonic.Unmarshal(e.Row(), &l)
	return l, err
}

// DecodeCard decodes the event row as a Card.
func (e ChangeEvent) DecodeCard() (Card, error) {
	var c Card
	err := sonic.Unmarshal(e.Row(), &c)
	return c, err
}
