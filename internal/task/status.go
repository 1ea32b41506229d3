package task

type Status string

const (
	StatusPending     Status = "pending"
	StatusDiscovering Status = "discovering"
	StatusFetching    Status = "fetching"
	StatusPartial     Status = "partial"
	StatusComplete    Status = "complete"
	StatusFailed      Status = "failed"
)

// discovering -> pending is crash recovery: a process that died mid-discovery
// left the claim behind, and the task must become claimable again.
var transitions = map[Status][]Status{
	StatusPending:     {StatusDiscovering},
	StatusDiscovering: {StatusFetching, StatusComplete, StatusFailed, StatusPending},
	StatusFetching:    {StatusPartial, StatusComplete, StatusFailed},
	StatusPartial:     {StatusFetching, StatusComplete},
	StatusComplete:    {},
	StatusFailed:      {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal statuses are never left once entered.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
