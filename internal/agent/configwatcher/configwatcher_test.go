package configwatcher

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/agent/discovery"
	"github.com/project-akri/akri-sub000/internal/store"
)

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return log
}

type fakeEndpoints struct{}

func (fakeEndpoints) Start(context.Context, string, *akriv1alpha1.Instance) error { return nil }
func (fakeEndpoints) Stop(string)                                                {}

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	log := discardLog()
	registry := discovery.NewRegistry(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = registry.Run(ctx) }()

	return NewWatcher("akri", "node-a", &store.Store{}, registry, fakeEndpoints{}, log)
}

func newTestConfiguration(name, protocol string) *akriv1alpha1.Configuration {
	return &akriv1alpha1.Configuration{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "akri"},
		Spec: akriv1alpha1.ConfigurationSpec{
			DiscoveryHandler: akriv1alpha1.DiscoveryHandlerInfo{Name: protocol},
			Capacity:         1,
		},
	}
}

func TestHandleAddedStartsPipeline(t *testing.T) {
	w := newTestWatcher(t)
	cfg := newTestConfiguration("cfg", "udev")

	w.handle(context.Background(), store.ConfigurationEvent{Kind: store.Added, Object: cfg})

	w.mu.Lock()
	_, exists := w.pipelines["cfg"]
	w.mu.Unlock()
	if !exists {
		t.Fatalf("expected pipeline to be started for cfg")
	}
}

func TestHandleAddedIsIdempotent(t *testing.T) {
	w := newTestWatcher(t)
	cfg := newTestConfiguration("cfg", "udev")

	w.handle(context.Background(), store.ConfigurationEvent{Kind: store.Added, Object: cfg})
	w.mu.Lock()
	first := w.pipelines["cfg"]
	w.mu.Unlock()

	w.handle(context.Background(), store.ConfigurationEvent{Kind: store.Added, Object: cfg})
	w.mu.Lock()
	second := w.pipelines["cfg"]
	w.mu.Unlock()

	if first != second {
		t.Fatalf("expected a second Added event for the same configuration to be a no-op")
	}
}

func TestHandleModifiedRestartsPipeline(t *testing.T) {
	w := newTestWatcher(t)
	cfg := newTestConfiguration("cfg", "udev")

	w.handle(context.Background(), store.ConfigurationEvent{Kind: store.Added, Object: cfg})
	w.mu.Lock()
	first := w.pipelines["cfg"]
	w.mu.Unlock()

	w.handle(context.Background(), store.ConfigurationEvent{Kind: store.Modified, Object: cfg})
	w.mu.Lock()
	second, exists := w.pipelines["cfg"]
	w.mu.Unlock()

	if !exists {
		t.Fatalf("expected pipeline to exist after Modified")
	}
	if first == second {
		t.Fatalf("expected Modified to replace the pipeline with a fresh one")
	}
}

func TestHandleDeletedStopsPipeline(t *testing.T) {
	w := newTestWatcher(t)
	cfg := newTestConfiguration("cfg", "udev")

	w.handle(context.Background(), store.ConfigurationEvent{Kind: store.Added, Object: cfg})
	w.handle(context.Background(), store.ConfigurationEvent{Kind: store.Deleted, Object: cfg})

	w.mu.Lock()
	_, exists := w.pipelines["cfg"]
	w.mu.Unlock()
	if exists {
		t.Fatalf("expected pipeline to be removed after Deleted")
	}
}

func TestRunStopsAllPipelinesOnContextCancel(t *testing.T) {
	w := newTestWatcher(t)
	cfg := newTestConfiguration("cfg", "udev")
	w.handle(context.Background(), store.ConfigurationEvent{Kind: store.Added, Object: cfg})

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan store.ConfigurationEvent)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, ch) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}
