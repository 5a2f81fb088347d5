package ctxstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJSONMergeObjectsRecursive(t *testing.T) {
	a := map[string]interface{}{
		"device": map[string]interface{}{"name": "X", "battery_pct": 100.0},
		"app":    map[string]interface{}{"status": "idle"},
	}
	b := map[string]interface{}{
		"device": map[string]interface{}{"name": "Kitchen"},
	}
	got := JSONMerge(a, b)
	want := map[string]interface{}{
		"device": map[string]interface{}{"name": "Kitchen", "battery_pct": 100.0},
		"app":    map[string]interface{}{"status": "idle"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONMergeBWinsOnScalar(t *testing.T) {
	got := JSONMerge("old", "new")
	if got != "new" {
		t.Fatalf("expected B to win on scalar, got %v", got)
	}
}

func TestJSONMergeBWinsOnTypeMismatch(t *testing.T) {
	a := map[string]interface{}{"k": 1.0}
	b := map[string]interface{}{"k": map[string]interface{}{"nested": true}}
	got := JSONMerge(a, b)
	want := map[string]interface{}{"k": map[string]interface{}{"nested": true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONMergeArrayBWins(t *testing.T) {
	got := JSONMerge([]interface{}{1.0, 2.0}, []interface{}{3.0})
	want := []interface{}{3.0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}
