package store

import (
	"context"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
)

// EventKind is one of the event kinds a watch can deliver.
type EventKind int

const (
	Added EventKind = iota
	Modified
	Deleted
)

// ConfigurationEvent is one event on the Configuration watch.
type ConfigurationEvent struct {
	Kind   EventKind
	Object *akriv1alpha1.Configuration
}

// WatchConfigurations delivers a restartable stream of Configuration events
// on ch until ctx is cancelled. It is built directly on the manager's
// informer-backed cache: on reconnect the underlying reflector re-lists and
// synthesizes Added events for anything it has not seen, and a deletion
// during the gap is detected by its absence from that re-list.
func WatchConfigurations(ctx context.Context, c cache.Cache, log logr.Logger, ch chan<- ConfigurationEvent) error {
	informer, err := c.GetInformer(ctx, &akriv1alpha1.Configuration{})
	if err != nil {
		return err
	}

	reg, err := informer.AddEventHandler(configurationHandler{ctx: ctx, ch: ch, log: log})
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = informer.RemoveEventHandler(reg)
	}()
	return nil
}

type configurationHandler struct {
	ctx context.Context
	ch  chan<- ConfigurationEvent
	log logr.Logger
}

func (h configurationHandler) OnAdd(obj interface{}, _ bool) {
	h.send(Added, obj)
}

func (h configurationHandler) OnUpdate(_, newObj interface{}) {
	h.send(Modified, newObj)
}

func (h configurationHandler) OnDelete(obj interface{}) {
	h.send(Deleted, obj)
}

func (h configurationHandler) send(kind EventKind, obj interface{}) {
	cfg, ok := obj.(*akriv1alpha1.Configuration)
	if !ok {
		h.log.Info("ignoring non-Configuration object from informer", "type", objTypeName(obj))
		return
	}
	select {
	case h.ch <- ConfigurationEvent{Kind: kind, Object: cfg}:
	case <-h.ctx.Done():
	}
}

func objTypeName(obj interface{}) string {
	if o, ok := obj.(runtime.Object); ok {
		return o.GetObjectKind().GroupVersionKind().String()
	}
	return "unknown"
}

var _ client.Object = &akriv1alpha1.Configuration{}
