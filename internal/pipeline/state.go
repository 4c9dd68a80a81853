package pipeline

// State is a step of the per-region scrape loop.
type State int

// Region loop states.
const (
	StateIdle State = iota
	StateFetchingPage
	StateNormalizing
	StatePersisting
	StateNextPage
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingPage:
		return "fetching_page"
	case StateNormalizing:
		return "normalizing"
	case StatePersisting:
		return "persisting"
	case StateNextPage:
		return "next_page"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Reason says why a region loop stopped.
type Reason string

// Termination reasons.
const (
	ReasonEmptyPage       Reason = "empty_page"
	ReasonMaxPages        Reason = "max_pages"
	ReasonFirstPageFailed Reason = "first_page_failed"
	ReasonRetryable       Reason = "retryable_failure"
	ReasonBlocked         Reason = "blocked"
	ReasonFatal           Reason = "fatal_failure"
	ReasonSessionLost     Reason = "session_unavailable"
	ReasonCanceled        Reason = "canceled"
)

// Complete reports whether the region was paged to its natural end.
func (r Reason) Complete() bool {
	return r == ReasonEmptyPage || r == ReasonMaxPages
}

// Run statuses.
const (
	RunCompleted = "completed"
	RunAborted   = "aborted"
	RunCanceled  = "canceled"
)
