package task

import "testing"

func TestCanTransitionAllowsDocumentedEdges(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusCreated, StatusValidated},
		{StatusValidated, StatusQueued},
		{StatusQueued, StatusScheduled},
		{StatusRunning, StatusCompleting},
		{StatusCompleting, StatusCompleted},
		{StatusFailed, StatusRetrying},
		{StatusRetrying, StatusQueued},
	}
	for _, c := range cases {
		if !CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be allowed", c.from, c.to)
		}
	}
}

func TestCanTransitionRejectsUndocumentedEdges(t *testing.T) {
	cases := []struct{ from, to Status }{
		{StatusCreated, StatusRunning},
		{StatusCompleted, StatusQueued},
		{StatusArchived, StatusQueued},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Errorf("expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}

// Cascade failure propagation (engine/worker.go) requires a not-yet-
// dispatched task to be failable directly, bypassing the usual
// SCHEDULED/PREPARING/... walk.
func TestCanTransitionAllowsDirectFailureFromPreDispatchStates(t *testing.T) {
	for _, from := range []Status{StatusQueued, StatusBlocked, StatusScheduled} {
		if !CanTransition(from, StatusFailed) {
			t.Errorf("expected %s -> FAILED to be allowed for cascade propagation", from)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusArchived, StatusExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []Status{StatusCreated, StatusQueued, StatusRunning, StatusRetrying}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestBucketAndNextBucketUp(t *testing.T) {
	if Bucket(900) != PriorityHigh {
		t.Fatalf("expected 900 to bucket as HIGH, got %v", Bucket(900))
	}
	if Bucket(Priority(100)) != PriorityBackground {
		t.Fatalf("expected 100 to bucket as BACKGROUND, got %v", Bucket(Priority(100)))
	}
	if NextBucketUp(PriorityBackground) != PriorityLow {
		t.Fatalf("expected BACKGROUND to boost to LOW, got %v", NextBucketUp(PriorityBackground))
	}
	if NextBucketUp(PriorityCritical) != PriorityCritical {
		t.Fatalf("expected CRITICAL to stay capped at CRITICAL, got %v", NextBucketUp(PriorityCritical))
	}
}
