// Package configwatcher drives per-Configuration discovery sessions and
// Device Plugin endpoint lifecycles from Configuration watch events: Added
// starts a session against every handler whose protocol matches, Modified
// tears down and restarts the whole pipeline (the Configuration is immutable
// from the core's perspective once observed), Deleted stops everything
// (Instance cleanup itself is a Kubernetes owner-reference cascade, not this
// package's job).
package configwatcher

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/agent/discovery"
	"github.com/project-akri/akri-sub000/internal/store"
)

// pipeline is the set of live sessions for one Configuration, one per
// matching registered handler.
type pipeline struct {
	cancel   context.CancelFunc
	sessions []*discovery.Session
}

// Watcher owns the Added/Modified/Deleted state machine across
// Configurations on this node.
type Watcher struct {
	namespace string
	nodeName  string

	store     *store.Store
	registry  *discovery.Registry
	endpoints discovery.EndpointManager
	log       logrus.FieldLogger

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

func NewWatcher(namespace, nodeName string, s *store.Store, registry *discovery.Registry, endpoints discovery.EndpointManager, log logrus.FieldLogger) *Watcher {
	return &Watcher{
		namespace: namespace,
		nodeName:  nodeName,
		store:     s,
		registry:  registry,
		endpoints: endpoints,
		log:       log,
		pipelines: map[string]*pipeline{},
	}
}

// Run consumes Configuration events from ch until ctx is cancelled or ch
// closes.
func (w *Watcher) Run(ctx context.Context, ch <-chan store.ConfigurationEvent) error {
	for {
		select {
		case <-ctx.Done():
			w.stopAll()
			return nil
		case ev, ok := <-ch:
			if !ok {
				w.stopAll()
				return nil
			}
			w.handle(ctx, ev)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev store.ConfigurationEvent) {
	switch ev.Kind {
	case store.Added:
		w.start(ctx, ev.Object)
	case store.Modified:
		// The Configuration is immutable from the core's perspective once
		// observed; any change means tearing the pipeline down
		// and rebuilding it fresh rather than diffing fields.
		w.stop(ev.Object.Name)
		w.start(ctx, ev.Object)
	case store.Deleted:
		w.stop(ev.Object.Name)
	}
}

func (w *Watcher) start(ctx context.Context, cfg *akriv1alpha1.Configuration) {
	handlers := w.registry.ListHandlers(ctx, cfg.Spec.DiscoveryHandler.Name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.pipelines[cfg.Name]; exists {
		return
	}

	pctx, cancel := context.WithCancel(ctx)
	p := &pipeline{cancel: cancel}

	for _, h := range handlers {
		sess := discovery.NewSession(w.namespace, cfg.Name, w.nodeName, h, cfg.Spec.DiscoveryHandler.DiscoveryDetails, w.store, w.registry, w.endpoints, w.log)
		p.sessions = append(p.sessions, sess)
		go sess.Run(pctx)
	}
	w.pipelines[cfg.Name] = p
	w.log.WithField("configuration", cfg.Name).WithField("sessions", len(p.sessions)).Info("started configuration pipeline")
}

func (w *Watcher) stop(configurationName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pipelines[configurationName]
	if !ok {
		return
	}
	p.cancel()
	delete(w.pipelines, configurationName)
	w.log.WithField("configuration", configurationName).Info("stopped configuration pipeline")
}

func (w *Watcher) stopAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, p := range w.pipelines {
		p.cancel()
		delete(w.pipelines, name)
	}
}
