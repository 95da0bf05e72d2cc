package trade

import "time"

type EventKind string

const (
	EventOpened     EventKind = "OPEN"
	EventOffered    EventKind = "OFFER"
	EventWithdrawn  EventKind = "UNOFFER"
	EventReady      EventKind = "READY"
	EventUnready    EventKind = "UNREADY"
	EventAccepted   EventKind = "ACCEPT"
	EventCompleted  EventKind = "COMPLETE"
	EventCancelled  EventKind = "CANCEL"
	EventExpired    EventKind = "EXPIRE"
	EventSwapFailed EventKind = "SWAP_FAILED"
)

// Event is emitted for every state change. Record is set on terminal events.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Actor     string    `json:"actor,omitempty"`
	AssetID   string    `json:"asset_id,omitempty"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Record    *Record   `json:"record,omitempty"`
}

type Recorder interface {
	RecordEvent(ev Event)
}

// Recorders fans an event out to several recorders.
type Recorders []Recorder

func (rs Recorders) RecordEvent(ev Event) {
	for _, r := range rs {
		if r != nil {
			r.RecordEvent(ev)
		}
	}
}

// Notice is a message for one participant about a change they did not make.
type Notice struct {
	To        string `json:"to"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type Notifier interface {
	Notify(n Notice)
}

// Directory resolves display labels for actors.
type Directory interface {
	DisplayName(actorID string) string
}
