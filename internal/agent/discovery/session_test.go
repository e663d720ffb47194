package discovery

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	v0 "github.com/project-akri/akri-sub000/api/discovery/v0"
	"github.com/project-akri/akri-sub000/internal/store"
	"github.com/project-akri/akri-sub000/pkg/names"
)

const testNamespace = "akri"

type fakeEndpoints struct {
	started []string
	stopped []string
}

func (f *fakeEndpoints) Start(_ context.Context, _ string, inst *akriv1alpha1.Instance) error {
	f.started = append(f.started, inst.Name)
	return nil
}

func (f *fakeEndpoints) Stop(instanceName string) {
	f.stopped = append(f.stopped, instanceName)
}

func newTestSession(t *testing.T, handler HandlerInfo, objs ...client.Object) (*Session, *store.Store, *fakeEndpoints) {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		t.Fatalf("add client-go scheme: %v", err)
	}
	if err := akriv1alpha1.AddToScheme(scheme); err != nil {
		t.Fatalf("add akri scheme: %v", err)
	}
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(objs...).Build()
	s := store.New(c)
	ep := &fakeEndpoints{}
	log := logrus.New()
	log.SetOutput(discardWriter{})
	sess := NewSession(testNamespace, "cfg", "node-a", handler, "", s, NewRegistry(log), ep, log)
	return sess, s, ep
}

func newTestCfg(capacity int32) *akriv1alpha1.Configuration {
	return &akriv1alpha1.Configuration{
		ObjectMeta: metav1.ObjectMeta{Name: "cfg", Namespace: testNamespace},
		Spec: akriv1alpha1.ConfigurationSpec{
			DiscoveryHandler: akriv1alpha1.DiscoveryHandlerInfo{Name: "udev"},
			Capacity:         capacity,
		},
	}
}

func TestSessionAppearedCreatesUnsharedInstance(t *testing.T) {
	cfg := newTestCfg(1)
	sess, s, ep := newTestSession(t, HandlerInfo{Protocol: "udev", Endpoint: "unix:///tmp/a.sock", IsLocal: true}, cfg)
	ctx := context.Background()

	d := &v0.Device{Id: "dev-1", Properties: map[string]string{"foo": "bar"}}
	sess.appeared(ctx, d)

	instanceName := names.InstanceName("cfg", "dev-1", false, "node-a")
	inst, err := s.GetInstance(ctx, testNamespace, instanceName)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst == nil {
		t.Fatalf("expected instance to be created")
	}
	if inst.Spec.Shared {
		t.Fatalf("expected unshared instance for IsLocal handler")
	}
	if len(inst.Spec.Nodes) != 1 || inst.Spec.Nodes[0] != "node-a" {
		t.Fatalf("expected Nodes=[node-a], got %v", inst.Spec.Nodes)
	}
	if len(ep.started) != 1 || ep.started[0] != instanceName {
		t.Fatalf("expected endpoint started for %s, got %v", instanceName, ep.started)
	}
}

func TestSessionAppearedSharedDeviceConvergesAcrossNodes(t *testing.T) {
	cfg := newTestCfg(2)
	sess, s, _ := newTestSession(t, HandlerInfo{Protocol: "udev", Endpoint: "unix:///tmp/a.sock", IsLocal: false}, cfg)
	ctx := context.Background()

	d := &v0.Device{Id: "dev-1"}
	sess.appeared(ctx, d)

	instanceName := names.InstanceName("cfg", "dev-1", true, "")
	inst, err := s.GetInstance(ctx, testNamespace, instanceName)
	if err != nil || inst == nil {
		t.Fatalf("expected shared instance to be created: %v", err)
	}
	if !inst.Spec.Shared {
		t.Fatalf("expected shared instance")
	}

	// A second node observing the same shared device adds itself rather
	// than creating a second Instance.
	log := logrus.New()
	log.SetOutput(discardWriter{})
	sess2 := NewSession(testNamespace, "cfg", "node-b", sess.handler, "", s, NewRegistry(log), &fakeEndpoints{}, log)
	sess2.appeared(ctx, d)

	got, err := s.GetInstance(ctx, testNamespace, instanceName)
	if err != nil || got == nil {
		t.Fatalf("expected shared instance to still exist: %v", err)
	}
	if len(got.Spec.Nodes) != 2 {
		t.Fatalf("expected both nodes recorded, got %v", got.Spec.Nodes)
	}
}

func TestSessionDisappearedDeletesUnsharedInstanceImmediately(t *testing.T) {
	cfg := newTestCfg(1)
	instanceName := names.InstanceName("cfg", "dev-1", false, "node-a")
	inst := &akriv1alpha1.Instance{
		ObjectMeta: metav1.ObjectMeta{Name: instanceName, Namespace: testNamespace},
		Spec: akriv1alpha1.InstanceSpec{
			ConfigurationName: "cfg",
			Nodes:             []string{"node-a"},
			DeviceUsage:       map[string]string{instanceName + "-0": ""},
		},
	}
	sess, s, ep := newTestSession(t, HandlerInfo{Protocol: "udev", Endpoint: "unix:///tmp/a.sock", IsLocal: true}, cfg, inst)
	ctx := context.Background()

	sess.disappeared(ctx, "dev-1")

	got, err := s.GetInstance(ctx, testNamespace, instanceName)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got != nil {
		t.Fatalf("expected unshared instance to be deleted immediately once empty")
	}
	if len(ep.stopped) != 1 || ep.stopped[0] != instanceName {
		t.Fatalf("expected endpoint stopped for %s, got %v", instanceName, ep.stopped)
	}
}

func TestSessionDisappearedSharedDeviceStartsGraceTimerInsteadOfDeleting(t *testing.T) {
	cfg := newTestCfg(1)
	instanceName := names.InstanceName("cfg", "dev-1", true, "")
	inst := &akriv1alpha1.Instance{
		ObjectMeta: metav1.ObjectMeta{Name: instanceName, Namespace: testNamespace},
		Spec: akriv1alpha1.InstanceSpec{
			ConfigurationName: "cfg",
			Shared:            true,
			Nodes:             []string{"node-a"},
			DeviceUsage:       map[string]string{instanceName + "-0": ""},
		},
	}
	sess, s, _ := newTestSession(t, HandlerInfo{Protocol: "udev", Endpoint: "unix:///tmp/a.sock", IsLocal: false}, cfg, inst)
	ctx := context.Background()

	sess.disappeared(ctx, "dev-1")

	if _, ok := sess.graceTimers[instanceName]; !ok {
		t.Fatalf("expected a grace timer to be armed for the shared instance")
	}
	got, err := s.GetInstance(ctx, testNamespace, instanceName)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got == nil {
		t.Fatalf("expected shared instance to survive until grace elapses")
	}
	sess.graceTimers[instanceName].Stop()
}

func TestSessionAppearedCancelsPendingGraceTimer(t *testing.T) {
	cfg := newTestCfg(1)
	instanceName := names.InstanceName("cfg", "dev-1", true, "")
	inst := &akriv1alpha1.Instance{
		ObjectMeta: metav1.ObjectMeta{Name: instanceName, Namespace: testNamespace},
		Spec: akriv1alpha1.InstanceSpec{
			ConfigurationName: "cfg",
			Shared:            true,
			Nodes:             []string{},
			DeviceUsage:       map[string]string{instanceName + "-0": ""},
		},
	}
	sess, _, _ := newTestSession(t, HandlerInfo{Protocol: "udev", Endpoint: "unix:///tmp/a.sock", IsLocal: false}, cfg, inst)
	ctx := context.Background()

	sess.disappeared(ctx, "dev-1")
	if _, ok := sess.graceTimers[instanceName]; !ok {
		t.Fatalf("expected a grace timer to be armed")
	}

	sess.appeared(ctx, &v0.Device{Id: "dev-1"})
	if _, ok := sess.graceTimers[instanceName]; ok {
		t.Fatalf("expected the grace timer to be cancelled once the device reappeared")
	}
}

func TestReconcileDrivesAppearedAndDisappeared(t *testing.T) {
	cfg := newTestCfg(1)
	sess, s, ep := newTestSession(t, HandlerInfo{Protocol: "udev", Endpoint: "unix:///tmp/a.sock", IsLocal: true}, cfg)
	ctx := context.Background()

	sess.reconcile(ctx, []*v0.Device{{Id: "dev-1"}})
	instanceName := names.InstanceName("cfg", "dev-1", false, "node-a")
	if inst, err := s.GetInstance(ctx, testNamespace, instanceName); err != nil || inst == nil {
		t.Fatalf("expected instance created after first reconcile: %v", err)
	}

	sess.reconcile(ctx, nil)
	if inst, err := s.GetInstance(ctx, testNamespace, instanceName); err != nil || inst != nil {
		t.Fatalf("expected instance deleted after device disappears from reconcile: %v, %+v", err, inst)
	}
	if len(ep.stopped) != 1 {
		t.Fatalf("expected endpoint stop called once, got %v", ep.stopped)
	}
}

func TestInsertSortedKeepsOrderAndDedupes(t *testing.T) {
	nodes := []string{"a", "c"}
	nodes = insertSorted(nodes, "b")
	want := []string{"a", "b", "c"}
	for i := range want {
		if nodes[i] != want[i] {
			t.Fatalf("got %v want %v", nodes, want)
		}
	}
	nodes = insertSorted(nodes, "b")
	if len(nodes) != 3 {
		t.Fatalf("expected no duplicate insert, got %v", nodes)
	}
}

func TestRemoveFromSlice(t *testing.T) {
	got := removeFromSlice([]string{"a", "b", "c"}, "b")
	want := []string{"a", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestContainsNode(t *testing.T) {
	if !containsNode([]string{"a", "b"}, "b") {
		t.Fatalf("expected containsNode to find b")
	}
	if containsNode([]string{"a", "b"}, "z") {
		t.Fatalf("expected containsNode to not find z")
	}
}
