package ctxstore

import "testing"

func TestDominates(t *testing.T) {
	a := VectorClock{"p1": 2, "p2": 3}
	b := VectorClock{"p1": 1, "p2": 3}
	if !a.Dominates(b) {
		t.Fatal("expected a to dominate b")
	}
	if b.Dominates(a) {
		t.Fatal("did not expect b to dominate a")
	}
}

func TestConcurrent(t *testing.T) {
	a := VectorClock{"p1": 2, "p2": 0}
	b := VectorClock{"p1": 0, "p2": 2}
	if !Concurrent(a, b) {
		t.Fatal("expected a and b to be concurrent")
	}
	if a.Dominates(b) || b.Dominates(a) {
		t.Fatal("concurrent clocks must not dominate each other")
	}
}

func TestEqualClocksNotDominating(t *testing.T) {
	a := VectorClock{"p1": 1}
	b := VectorClock{"p1": 1}
	if a.Dominates(b) || b.Dominates(a) {
		t.Fatal("equal clocks must not dominate")
	}
	if Concurrent(a, b) {
		t.Fatal("equal clocks are not concurrent")
	}
}

func TestMergeIsPointwiseMax(t *testing.T) {
	a := VectorClock{"p1": 3, "p2": 1}
	b := VectorClock{"p1": 1, "p2": 5, "p3": 2}
	got := Merge(a, b)
	want := VectorClock{"p1": 3, "p2": 5, "p3": 2}
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestIncrementClockMonotonicity(t *testing.T) {
	// spec §8: after n sequential local updates at peer p, p's component
	// in the local clock equals n.
	c := VectorClock{}
	for i := 1; i <= 5; i++ {
		c = c.Increment("p1")
		if c["p1"] != uint64(i) {
			t.Fatalf("after %d increments, expected component %d, got %d", i, i, c["p1"])
		}
	}
}

func TestCloneIndependence(t *testing.T) {
	a := VectorClock{"p1": 1}
	b := a.Clone()
	b["p1"] = 99
	if a["p1"] != 1 {
		t.Fatal("mutating clone must not affect original")
	}
}
