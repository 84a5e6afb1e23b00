package task

// transitions encodes the directed lifecycle graph from spec §3. A
// transition is legal iff to is present in transitions[from].
var transitions = map[Status][]Status{
	StatusCreated:           {StatusValidated, StatusCancelled},
	StatusValidated:         {StatusQueued, StatusCancelled},
	StatusQueued:            {StatusScheduled, StatusBlocked, StatusCancelled, StatusExpired, StatusFailed},
	StatusBlocked:           {StatusQueued, StatusCancelled, StatusFailed},
	StatusScheduled:         {StatusPreparing, StatusCancelled, StatusExpired, StatusFailed},
	StatusPreparing:         {StatusResourceAllocated, StatusCancelled, StatusFailed},
	StatusResourceAllocated: {StatusStarting, StatusCancelled, StatusFailed},
	StatusStarting:          {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:           {StatusCompleting, StatusPaused, StatusFailed, StatusCancelled},
	StatusPaused:            {StatusResuming, StatusCancelled},
	StatusResuming:          {StatusRunning, StatusCancelled},
	StatusCompleting:        {StatusCompleted, StatusFailed},
	StatusCompleted:         {StatusArchived},
	StatusFailed:            {StatusRetrying, StatusRollingBack, StatusArchived},
	StatusRetrying:          {StatusQueued},
	StatusRollingBack:       {StatusFailed},
	StatusCancelled:         {StatusArchived},
	StatusExpired:           {StatusArchived},
	StatusArchived:          {},
}

// CanTransition reports whether moving from -> to is a legal edge in the
// lifecycle graph (§3 I5).
func CanTransition(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
