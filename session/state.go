package session

// State is the session lifecycle state.
type State int

const (
	// StateAnonymous means no session is present.
	StateAnonymous State = iota
	// StateAuthenticated means a non-expired token pair is held.
	StateAuthenticated
	// StateRefreshing means a refresh is in flight; concurrent callers
	// share its result.
	StateRefreshing
	// StateExpired means the session could not be refreshed. It is
	// transient: the manager moves to StateAnonymous immediately after
	// clearing persisted state.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "ANONYMOUS"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateRefreshing:
		return "REFRESHING"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}
