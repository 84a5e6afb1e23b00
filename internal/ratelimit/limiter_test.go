package ratelimit

import "testing"

func TestAllowRespectsBurstThenThrottles(t *testing.T) {
	l := New(1, 2)

	if !l.Allow("cpu") {
		t.Fatal("expected first call within burst to be allowed")
	}
	if !l.Allow("cpu") {
		t.Fatal("expected second call within burst to be allowed")
	}
	if l.Allow("cpu") {
		t.Fatal("expected third call to exhaust the burst and be denied")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, 1)

	if !l.Allow("cpu") {
		t.Fatal("expected cpu to be allowed")
	}
	if !l.Allow("memory") {
		t.Fatal("expected memory to be independent of cpu's bucket")
	}
}

func TestReserveDoesNotConsumeATokenOnDenial(t *testing.T) {
	l := New(1, 1)
	l.Allow("cpu") // drain the single token

	ok, delay := l.Reserve("cpu")
	if ok {
		t.Fatal("expected Reserve to report not-ok with an empty bucket")
	}
	if delay <= 0 {
		t.Fatalf("expected a positive delay, got %v", delay)
	}
}
