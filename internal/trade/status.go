package trade

// Status is the lifecycle state of a Session.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusReady     Status = "READY"
	StatusLocked    Status = "LOCKED"
	StatusComplete  Status = "COMPLETE"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusReady, StatusLocked, StatusComplete, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// edges is the only place transition legality is defined. READY->OPEN and
// LOCKED->OPEN are renegotiation edges; COMPLETE is reachable only from LOCKED.
var edges = map[Status][]Status{
	StatusOpen:   {StatusReady, StatusCancelled, StatusExpired},
	StatusReady:  {StatusOpen, StatusLocked, StatusCancelled, StatusExpired},
	StatusLocked: {StatusOpen, StatusComplete, StatusCancelled, StatusExpired},
}

// CanTransition reports whether from -> to is an edge of the session graph.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
