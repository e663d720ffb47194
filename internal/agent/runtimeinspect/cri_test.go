package runtimeinspect

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"
	"google.golang.org/grpc"

	"github.com/project-akri/akri-sub000/pkg/names"
)

// fakeRuntimeServiceClient embeds the real client interface so only the
// method this package actually calls needs a concrete implementation; every
// other method panics on nil-pointer dispatch if exercised, which these
// tests never do.
type fakeRuntimeServiceClient struct {
	runtimeapi.RuntimeServiceClient
	containers []*runtimeapi.Container
	err        error
}

func (f *fakeRuntimeServiceClient) ListContainers(ctx context.Context, req *runtimeapi.ListContainersRequest, _ ...grpc.CallOption) (*runtimeapi.ListContainersResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &runtimeapi.ListContainersResponse{Containers: f.containers}, nil
}

func TestRunningAnnotatedExtractsSlotAndInstance(t *testing.T) {
	fake := &fakeRuntimeServiceClient{containers: []*runtimeapi.Container{
		{
			Id: "container-1",
			Annotations: map[string]string{
				names.AnnotationSlot:     "inst-1-0",
				names.AnnotationInstance: "inst-1",
			},
		},
	}}
	inspector := &CRIInspector{client: fake, log: logr.Discard()}

	got, err := inspector.RunningAnnotated(context.Background())
	if err != nil {
		t.Fatalf("RunningAnnotated: %v", err)
	}
	ref := SlotRef{InstanceName: "inst-1", SlotID: "inst-1-0"}
	if got[ref] != "container-1" {
		t.Fatalf("expected container-1 for %v, got %v", ref, got)
	}
}

func TestRunningAnnotatedIgnoresContainersMissingAnnotations(t *testing.T) {
	fake := &fakeRuntimeServiceClient{containers: []*runtimeapi.Container{
		{Id: "container-1", Annotations: map[string]string{}},
		{Id: "container-2", Annotations: map[string]string{names.AnnotationSlot: "inst-1-0"}},
	}}
	inspector := &CRIInspector{client: fake, log: logr.Discard()}

	got, err := inspector.RunningAnnotated(context.Background())
	if err != nil {
		t.Fatalf("RunningAnnotated: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no managed containers, got %v", got)
	}
}

func TestRunningAnnotatedKeepsFirstSeenOnDuplicateSlot(t *testing.T) {
	fake := &fakeRuntimeServiceClient{containers: []*runtimeapi.Container{
		{Id: "container-1", Annotations: map[string]string{names.AnnotationSlot: "inst-1-0", names.AnnotationInstance: "inst-1"}},
		{Id: "container-2", Annotations: map[string]string{names.AnnotationSlot: "inst-1-0", names.AnnotationInstance: "inst-1"}},
	}}
	inspector := &CRIInspector{client: fake, log: logr.Discard()}

	got, err := inspector.RunningAnnotated(context.Background())
	if err != nil {
		t.Fatalf("RunningAnnotated: %v", err)
	}
	ref := SlotRef{InstanceName: "inst-1", SlotID: "inst-1-0"}
	if got[ref] != "container-1" {
		t.Fatalf("expected first-seen container-1 kept, got %v", got[ref])
	}
}

func TestRunningAnnotatedPropagatesError(t *testing.T) {
	fake := &fakeRuntimeServiceClient{err: context.DeadlineExceeded}
	inspector := &CRIInspector{client: fake, log: logr.Discard()}

	_, err := inspector.RunningAnnotated(context.Background())
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}
