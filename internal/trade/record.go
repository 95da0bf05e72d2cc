package trade

import (
	"fmt"
	"time"
)

// Record is the persisted and displayed form of a Session.
type Record struct {
	ID        string      `json:"id"`
	Status    Status      `json:"status"`
	A         PartyRecord `json:"a"`
	B         PartyRecord `json:"b"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type PartyRecord struct {
	Actor    string   `json:"actor"`
	Label    string   `json:"label,omitempty"`
	Offers   []string `json:"offers"`
	Ready    bool     `json:"ready"`
	Accepted bool     `json:"accepted"`
}

// SessionStore persists the active sessions. SaveSessions replaces the whole set.
type SessionStore interface {
	SaveSessions(recs []Record) error
	LoadSessions() ([]Record, error)
}

func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record: empty id")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("record %s: bad status %q", r.ID, r.Status)
	}
	if r.A.Actor == "" || r.B.Actor == "" || r.A.Actor == r.B.Actor {
		return fmt.Errorf("record %s: bad parties %q/%q", r.ID, r.A.Actor, r.B.Actor)
	}
	return nil
}

// Party returns the side of actor, if any.
func (r Record) Party(actor string) (PartyRecord, bool) {
	switch actor {
	case r.A.Actor:
		return r.A, true
	case r.B.Actor:
		return r.B, true
	}
	return PartyRecord{}, false
}

// Other returns the side opposite actor.
func (r Record) Other(actor string) PartyRecord {
	if actor == r.A.Actor {
		return r.B
	}
	return r.A
}
