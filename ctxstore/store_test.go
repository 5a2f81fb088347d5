package ctxstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestApplyLocalPatchMergesAndIncrementsClock(t *testing.T) {
	s := NewStore("me")
	s.ReplaceLocal(map[string]interface{}{
		"device": map[string]interface{}{"name": "X", "battery_pct": 100.0},
		"app":    map[string]interface{}{"status": "idle"},
	})

	got := s.ApplyLocalPatch(map[string]interface{}{
		"device": map[string]interface{}{"name": "Kitchen"},
	})

	want := map[string]interface{}{
		"device": map[string]interface{}{"name": "Kitchen", "battery_pct": 100.0},
		"app":    map[string]interface{}{"status": "idle"},
	}
	if diff := cmp.Diff(want, got.Data); diff != "" {
		t.Errorf("patch mismatch (-want +got):\n%s", diff)
	}
	if got.Clock["me"] != 2 {
		t.Fatalf("expected clock component 2 after replace+patch, got %d", got.Clock["me"])
	}
}

func TestMergeRemoteDiscardsStale(t *testing.T) {
	s := NewStore("me")
	s.MergeRemote("peerA", map[string]interface{}{"v": 1.0}, VectorClock{"peerA": 2})

	res := s.MergeRemote("peerA", map[string]interface{}{"v": 99.0}, VectorClock{"peerA": 1})
	if res.Applied {
		t.Fatal("expected stale update to be discarded")
	}
	ctx, _ := s.Get("peerA")
	if ctx.Data["v"] != 1.0 {
		t.Fatalf("stale update must not overwrite data, got %v", ctx.Data["v"])
	}
}

func TestMergeRemoteDominatingReplaces(t *testing.T) {
	s := NewStore("me")
	s.MergeRemote("peerA", map[string]interface{}{"v": 1.0}, VectorClock{"peerA": 1})

	res := s.MergeRemote("peerA", map[string]interface{}{"v": 2.0}, VectorClock{"peerA": 2})
	if !res.Applied {
		t.Fatal("expected dominating update to apply")
	}
	if res.Context.Data["v"] != 2.0 {
		t.Fatalf("expected data replaced with dominating version, got %v", res.Context.Data["v"])
	}
}

func TestMergeRemoteConcurrentMergesData(t *testing.T) {
	s := NewStore("me")
	s.MergeRemote("peerA", map[string]interface{}{"x": 1.0}, VectorClock{"peerA": 1, "peerB": 0})

	res := s.MergeRemote("peerA", map[string]interface{}{"y": 2.0}, VectorClock{"peerA": 0, "peerB": 1})
	if !res.Applied {
		t.Fatal("expected concurrent update to apply via merge")
	}
	want := map[string]interface{}{"x": 1.0, "y": 2.0}
	if diff := cmp.Diff(want, res.Context.Data); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
	wantClock := VectorClock{"peerA": 1, "peerB": 1}
	if !res.Context.Clock.Equal(wantClock) {
		t.Fatalf("expected pointwise max clock %v, got %v", wantClock, res.Context.Clock)
	}
}

func TestMergeCommutativityOnComparableClocks(t *testing.T) {
	// spec §8: for comparable clocks, merge(A,B) = merge(B,A) = the one
	// with the larger clock, independent of application order.
	dataOld := map[string]interface{}{"v": 1.0}
	dataNew := map[string]interface{}{"v": 2.0}

	s1 := NewStore("me")
	s1.MergeRemote("peerA", dataOld, VectorClock{"peerA": 1})
	s1.MergeRemote("peerA", dataNew, VectorClock{"peerA": 2})

	s2 := NewStore("me")
	s2.MergeRemote("peerA", dataNew, VectorClock{"peerA": 2})
	s2.MergeRemote("peerA", dataOld, VectorClock{"peerA": 1})

	c1, _ := s1.Get("peerA")
	c2, _ := s2.Get("peerA")
	if diff := cmp.Diff(c1.Data, c2.Data); diff != "" {
		t.Errorf("order-dependent result (-s1 +s2):\n%s", diff)
	}
	if c1.Data["v"] != 2.0 {
		t.Fatalf("expected larger-clock data to win, got %v", c1.Data["v"])
	}
}

func TestEvictRemovesRemotePeerNotLocal(t *testing.T) {
	s := NewStore("me")
	s.MergeRemote("peerA", map[string]interface{}{}, VectorClock{"peerA": 1})
	s.Evict("peerA")
	if _, ok := s.Get("peerA"); ok {
		t.Fatal("expected peerA to be evicted")
	}
	s.Evict("me")
	if _, ok := s.Get("me"); !ok {
		t.Fatal("evicting local peer must be a no-op")
	}
}
