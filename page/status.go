package page

// Handle is the host's identifier of a page.
type Handle uint64

// State is the phase of a page load.
type State int

// The page states.
const (
	StateBegin State = iota
	StateWaitingForLastResource
	StateComplete
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateBegin:
		return "Begin"
	case StateWaitingForLastResource:
		return "WaitingForLastResource"
	case StateComplete:
		return "Complete"
	case StateDiscarded:
		return "Discarded"
	default:
		return "Unknown"
	}
}

// Status is a snapshot of a page's counters.
type Status struct {
	Handle         Handle `json:"handle"`
	UID            string `json:"uid"`
	URL            string `json:"url"`
	State          State  `json:"state"`
	PendingFetches int    `json:"pending_fetches"`
	PendingTimers  int    `json:"pending_timers"`
	DOMNesting     int    `json:"dom_nesting"`
	StackDepth     int    `json:"stack_depth"`
	Nodes          int    `json:"nodes"`
	CharsConsumed  int64  `json:"chars_consumed"`
	Anomalies      int    `json:"anomalies"`
}
