package resource

import "testing"

func TestReserveAtomicAcrossTypes(t *testing.T) {
	p := NewPool(map[string]int{"cpu": 4, "memory": 4})

	ok, reason := p.Reserve("t1", map[string]int{"cpu": 2, "memory": 10})
	if ok {
		t.Fatalf("expected reservation to fail on insufficient memory, reason=%q", reason)
	}

	snap := p.Snapshot()
	if snap["cpu"].Reserved != 0 {
		t.Fatalf("expected no partial reservation of cpu on a failed atomic Reserve, got %d", snap["cpu"].Reserved)
	}
}

func TestReserveCommitRelease(t *testing.T) {
	p := NewPool(map[string]int{"cpu": 4})

	ok, _ := p.Reserve("t1", map[string]int{"cpu": 2})
	if !ok {
		t.Fatal("expected reservation to succeed")
	}
	if u := p.Utilization()["cpu"]; u != 0.5 {
		t.Fatalf("expected 50%% utilization after reserve, got %v", u)
	}

	p.Commit("t1")
	snap := p.Snapshot()
	if snap["cpu"].Reserved != 0 || snap["cpu"].Allocated != 2 {
		t.Fatalf("expected reserved=0 allocated=2 after commit, got %+v", snap["cpu"])
	}

	p.Release("t1")
	snap = p.Snapshot()
	if snap["cpu"].Allocated != 0 || snap["cpu"].Reserved != 0 {
		t.Fatalf("expected fully released counters, got %+v", snap["cpu"])
	}
	if p.HasReservation("t1") {
		t.Fatal("expected HasReservation to be false after Release")
	}
}

func TestReleaseBeforeCommitDrainsReservedOnly(t *testing.T) {
	p := NewPool(map[string]int{"cpu": 4})
	p.Reserve("t1", map[string]int{"cpu": 2})
	p.Release("t1")

	snap := p.Snapshot()
	if snap["cpu"].Reserved != 0 {
		t.Fatalf("expected reserved drained to 0, got %d", snap["cpu"].Reserved)
	}
}

func TestResetClearsAllocationsKeepsCapacity(t *testing.T) {
	p := NewPool(map[string]int{"cpu": 4})
	p.Reserve("t1", map[string]int{"cpu": 2})
	p.Commit("t1")

	p.Reset()

	snap := p.Snapshot()
	if snap["cpu"].Capacity != 4 || snap["cpu"].Allocated != 0 || snap["cpu"].Reserved != 0 {
		t.Fatalf("expected capacity preserved and counters zeroed, got %+v", snap["cpu"])
	}
	if p.HasReservation("t1") {
		t.Fatal("expected holders cleared by Reset")
	}
}

func TestEnsureTypeIsNoopIfAlreadyPresent(t *testing.T) {
	p := NewPool(map[string]int{"cpu": 4})
	p.EnsureType("cpu", 999)
	if p.Snapshot()["cpu"].Capacity != 4 {
		t.Fatal("expected EnsureType not to overwrite an existing type's capacity")
	}
}
