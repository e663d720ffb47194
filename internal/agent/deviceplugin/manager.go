// Package deviceplugin runs one kubelet-facing Device Plugin gRPC endpoint
// per live Instance, on a UDS under kubelet's well-known device plugin
// directory, using the real upstream
// k8s.io/kubelet/pkg/apis/deviceplugin/v1beta1 contract rather than a
// hand-rolled one.
package deviceplugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/agent/slots"
	"github.com/project-akri/akri-sub000/internal/store"
)

// registerBackoffInitial and registerBackoffMax bound the retry delay for a
// failed kubelet registration: a transient failure (kubelet restarting, the
// registration socket briefly gone) must not permanently strand an
// Instance's advertised resource.
const (
	registerBackoffInitial = 2 * time.Second
	registerBackoffMax     = time.Minute
)

// Manager starts and stops one Endpoint per Instance this node owns,
// implementing internal/agent/discovery.EndpointManager. Mutation of the
// endpoints map is guarded by a plain mutex: unlike the discovery registry,
// no blocking call is ever made while the lock is held.
type Manager struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint

	store    *store.Store
	arbiter  *slots.Arbiter
	nodeName string
	socketDir string
	log      logr.Logger
}

func NewManager(s *store.Store, arbiter *slots.Arbiter, nodeName, socketDir string, log logr.Logger) *Manager {
	return &Manager{
		endpoints: map[string]*Endpoint{},
		store:     s,
		arbiter:   arbiter,
		nodeName:  nodeName,
		socketDir: socketDir,
		log:       log,
	}
}

// Start launches the Device Plugin endpoint for inst if one is not already
// running, then registers it with kubelet in the background with retry and
// backoff: a transient registration failure must not permanently leave the
// Instance's resource unadvertised after just one attempt.
func (m *Manager) Start(ctx context.Context, namespace string, inst *akriv1alpha1.Instance) error {
	m.mu.Lock()
	if _, ok := m.endpoints[inst.Name]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	socketName := fmt.Sprintf("akri-%s.sock", inst.Name)
	socketPath := filepath.Join(m.socketDir, socketName)
	_ = os.Remove(socketPath)

	ep := NewEndpoint(namespace, inst.Name, socketPath, m.store, m.arbiter, m.nodeName, m.log.WithValues("instance", inst.Name))
	if err := ep.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.endpoints[inst.Name] = ep
	m.mu.Unlock()

	go m.registerWithRetry(ep, socketName)
	return nil
}

// registerWithRetry calls RegisterWithKubelet until it succeeds or ep is
// stopped, doubling its backoff on each failure up to registerBackoffMax.
func (m *Manager) registerWithRetry(ep *Endpoint, socketName string) {
	backoff := registerBackoffInitial
	for {
		err := ep.RegisterWithKubelet(ep.RegistrationContext(), socketName)
		if err == nil {
			return
		}
		m.log.Error(err, "failed to register device plugin endpoint with kubelet, retrying", "instance", ep.instanceName, "backoff", backoff)
		select {
		case <-ep.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > registerBackoffMax {
			backoff = registerBackoffMax
		}
	}
}

// Stop tears down the endpoint for instanceName, if running.
func (m *Manager) Stop(instanceName string) {
	m.mu.Lock()
	ep, ok := m.endpoints[instanceName]
	delete(m.endpoints, instanceName)
	m.mu.Unlock()
	if ok {
		ep.Stop()
	}
}

// StopAll tears down every running endpoint.
func (m *Manager) StopAll() {
	m.mu.Lock()
	eps := make([]*Endpoint, 0, len(m.endpoints))
	for name, ep := range m.endpoints {
		eps = append(eps, ep)
		delete(m.endpoints, name)
	}
	m.mu.Unlock()
	for _, ep := range eps {
		ep.Stop()
	}
}
