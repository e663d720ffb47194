package names

import (
	"strings"
	"testing"
)

func TestInstanceNameSharedIgnoresNode(t *testing.T) {
	a := InstanceName("cfg", "dev-123", true, "node-a")
	b := InstanceName("cfg", "dev-123", true, "node-b")
	if a != b {
		t.Fatalf("shared device names must converge across nodes: %q != %q", a, b)
	}
	if !strings.HasPrefix(a, "cfg-") {
		t.Fatalf("expected cfg- prefix, got %q", a)
	}
}

func TestInstanceNameLocalBindsNode(t *testing.T) {
	a := InstanceName("cfg", "dev-123", false, "node-a")
	b := InstanceName("cfg", "dev-123", false, "node-b")
	if a == b {
		t.Fatalf("local device names must differ across nodes, both were %q", a)
	}
}

func TestInstanceNameDeterministic(t *testing.T) {
	a := InstanceName("cfg", "dev-123", false, "node-a")
	b := InstanceName("cfg", "dev-123", false, "node-a")
	if a != b {
		t.Fatalf("expected deterministic name, got %q and %q", a, b)
	}
}

func TestInstanceNameDifferentDeviceIDsDiffer(t *testing.T) {
	a := InstanceName("cfg", "dev-123", true, "")
	b := InstanceName("cfg", "dev-456", true, "")
	if a == b {
		t.Fatalf("expected different device ids to produce different names, both were %q", a)
	}
}

func TestSlotID(t *testing.T) {
	if got, want := SlotID("cfg-abc", 0), "cfg-abc-0"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got, want := SlotID("cfg-abc", 3), "cfg-abc-3"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestSlotIDs(t *testing.T) {
	ids := SlotIDs("cfg-abc", 3)
	want := []string{"cfg-abc-0", "cfg-abc-1", "cfg-abc-2"}
	if len(ids) != len(want) {
		t.Fatalf("got %d ids want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("index %d: got %q want %q", i, ids[i], want[i])
		}
	}
}

func TestSlotIDsZeroCapacity(t *testing.T) {
	ids := SlotIDs("cfg-abc", 0)
	if len(ids) != 0 {
		t.Fatalf("expected no slots, got %v", ids)
	}
}

func TestResourceName(t *testing.T) {
	if got, want := ResourceName("cfg-abc"), "akri.sh/cfg-abc"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
