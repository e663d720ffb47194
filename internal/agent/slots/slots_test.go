package slots

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/apierrors"
	"github.com/project-akri/akri-sub000/internal/agent/runtimeinspect"
	"github.com/project-akri/akri-sub000/internal/store"
)

const testNamespace = "akri"

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := akriv1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("add to scheme: %v", err)
	}
	return scheme
}

func newArbiter(t *testing.T, objs ...client.Object) (*Arbiter, *store.Store) {
	t.Helper()
	builder := fake.NewClientBuilder().WithScheme(newScheme(t))
	builder = builder.WithObjects(objs...)
	c := builder.Build()
	s := store.New(c)
	fakeInspect := runtimeinspect.NewFake()
	return NewArbiter(s, fakeInspect, "node-a", logr.Discard()), s
}

func newTestInstance(name string, usage map[string]string) *akriv1alpha1.Instance {
	return &akriv1alpha1.Instance{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace},
		Spec: akriv1alpha1.InstanceSpec{
			ConfigurationName: "cfg",
			Nodes:             []string{"node-a"},
			DeviceUsage:       usage,
		},
	}
}

func TestClaimSucceedsOnFreeSlot(t *testing.T) {
	inst := newTestInstance("inst-1", map[string]string{"inst-1-0": ""})
	arbiter, s := newArbiter(t, inst)
	ctx := context.Background()

	if err := arbiter.Claim(ctx, testNamespace, "inst-1", "inst-1-0"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	got, err := s.GetInstance(ctx, testNamespace, "inst-1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Spec.DeviceUsage["inst-1-0"] != "node-a" {
		t.Fatalf("expected slot held by node-a, got %q", got.Spec.DeviceUsage["inst-1-0"])
	}
}

func TestClaimIsIdempotentForHolder(t *testing.T) {
	inst := newTestInstance("inst-1", map[string]string{"inst-1-0": "node-a"})
	arbiter, _ := newArbiter(t, inst)
	ctx := context.Background()

	if err := arbiter.Claim(ctx, testNamespace, "inst-1", "inst-1-0"); err != nil {
		t.Fatalf("Claim should succeed when already held by this node: %v", err)
	}
}

func TestClaimFailsWhenHeldByAnotherNode(t *testing.T) {
	inst := newTestInstance("inst-1", map[string]string{"inst-1-0": "node-b"})
	arbiter, _ := newArbiter(t, inst)
	ctx := context.Background()

	err := arbiter.Claim(ctx, testNamespace, "inst-1", "inst-1-0")
	if !apierrors.Is(err, apierrors.KindSlotTaken) {
		t.Fatalf("expected SlotTaken, got %v", err)
	}
}

func TestClaimFailsOnUnknownSlot(t *testing.T) {
	inst := newTestInstance("inst-1", map[string]string{"inst-1-0": ""})
	arbiter, _ := newArbiter(t, inst)
	ctx := context.Background()

	err := arbiter.Claim(ctx, testNamespace, "inst-1", "inst-1-99")
	if !apierrors.Is(err, apierrors.KindInvariantViolation) {
		t.Fatalf("expected InvariantViolation for nonexistent slot, got %v", err)
	}
}

func TestClaimFailsWhenInstanceGone(t *testing.T) {
	arbiter, _ := newArbiter(t)
	ctx := context.Background()

	err := arbiter.Claim(ctx, testNamespace, "ghost", "ghost-0")
	if !apierrors.Is(err, apierrors.KindSlotTaken) {
		t.Fatalf("expected SlotTaken when instance vanished mid-claim, got %v", err)
	}
}

func TestSweepDoesNotReleaseWhileContainerRunning(t *testing.T) {
	inst := newTestInstance("inst-1", map[string]string{"inst-1-0": "node-a"})
	arbiter, s := newArbiter(t, inst)
	ctx := context.Background()

	fakeInspect := arbiter.inspect.(*runtimeinspect.Fake)
	fakeInspect.SetRunning(map[runtimeinspect.SlotRef]runtimeinspect.ContainerID{
		{InstanceName: "inst-1", SlotID: "inst-1-0"}: "container-1",
	})

	if err := arbiter.Sweep(ctx, testNamespace); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, _ := s.GetInstance(ctx, testNamespace, "inst-1")
	if got.Spec.DeviceUsage["inst-1-0"] != "node-a" {
		t.Fatalf("slot should still be held while container is running, got %q", got.Spec.DeviceUsage["inst-1-0"])
	}
}

func TestSweepReleasesAfterGraceElapses(t *testing.T) {
	inst := newTestInstance("inst-1", map[string]string{"inst-1-0": "node-a"})
	arbiter, s := newArbiter(t, inst)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	clockNow = func() time.Time { return base }
	defer func() { clockNow = time.Now }()

	// First pass: container missing, starts the grace window.
	if err := arbiter.Sweep(ctx, testNamespace); err != nil {
		t.Fatalf("Sweep (pass 1): %v", err)
	}
	got, _ := s.GetInstance(ctx, testNamespace, "inst-1")
	if got.Spec.DeviceUsage["inst-1-0"] != "node-a" {
		t.Fatalf("slot should not be released before grace elapses")
	}

	// Second pass: grace window has elapsed.
	clockNow = func() time.Time { return base.Add(ReleaseGrace) }
	if err := arbiter.Sweep(ctx, testNamespace); err != nil {
		t.Fatalf("Sweep (pass 2): %v", err)
	}
	got, _ = s.GetInstance(ctx, testNamespace, "inst-1")
	if got.Spec.DeviceUsage["inst-1-0"] != "" {
		t.Fatalf("expected slot released after grace window, still held by %q", got.Spec.DeviceUsage["inst-1-0"])
	}
}

func TestSweepClearsMissingSinceWhenContainerReappears(t *testing.T) {
	inst := newTestInstance("inst-1", map[string]string{"inst-1-0": "node-a"})
	arbiter, s := newArbiter(t, inst)
	ctx := context.Background()

	base := time.Unix(1700000000, 0)
	clockNow = func() time.Time { return base }
	defer func() { clockNow = time.Now }()

	if err := arbiter.Sweep(ctx, testNamespace); err != nil {
		t.Fatalf("Sweep (pass 1): %v", err)
	}

	fakeInspect := arbiter.inspect.(*runtimeinspect.Fake)
	fakeInspect.SetRunning(map[runtimeinspect.SlotRef]runtimeinspect.ContainerID{
		{InstanceName: "inst-1", SlotID: "inst-1-0"}: "container-1",
	})

	clockNow = func() time.Time { return base.Add(ReleaseGrace) }
	if err := arbiter.Sweep(ctx, testNamespace); err != nil {
		t.Fatalf("Sweep (pass 2): %v", err)
	}

	got, _ := s.GetInstance(ctx, testNamespace, "inst-1")
	if got.Spec.DeviceUsage["inst-1-0"] != "node-a" {
		t.Fatalf("slot should remain held once container reappeared, got %q", got.Spec.DeviceUsage["inst-1-0"])
	}
}

func TestSweepDoesNotReleaseSlotsOnContainerRuntimeError(t *testing.T) {
	inst := newTestInstance("inst-1", map[string]string{"inst-1-0": "node-a"})
	arbiter, s := newArbiter(t, inst)
	ctx := context.Background()

	fakeInspect := arbiter.inspect.(*runtimeinspect.Fake)
	fakeInspect.SetErr(context.DeadlineExceeded)

	err := arbiter.Sweep(ctx, testNamespace)
	if !apierrors.Is(err, apierrors.KindContainerRuntimeUnavailable) {
		t.Fatalf("expected ContainerRuntimeUnavailable, got %v", err)
	}

	got, _ := s.GetInstance(ctx, testNamespace, "inst-1")
	if got.Spec.DeviceUsage["inst-1-0"] != "node-a" {
		t.Fatalf("slot must not be released when the container runtime is unreachable")
	}
}

func TestSweepIgnoresSlotsHeldByOtherNodes(t *testing.T) {
	inst := newTestInstance("inst-1", map[string]string{"inst-1-0": "node-b"})
	arbiter, s := newArbiter(t, inst)
	ctx := context.Background()

	if err := arbiter.Sweep(ctx, testNamespace); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, _ := s.GetInstance(ctx, testNamespace, "inst-1")
	if got.Spec.DeviceUsage["inst-1-0"] != "node-b" {
		t.Fatalf("slot held by another node must be left alone, got %q", got.Spec.DeviceUsage["inst-1-0"])
	}
}
