// Package discovery implements the Discovery Handler registration endpoint
// and per-(Configuration, Handler) session lifecycle. The registry is
// deliberately not a shared map behind a mutex: it is a supervisor goroutine
// owning the map, driven by a command channel, so every mutation is
// serialized without a lock held across any blocking call.
package discovery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// HandlerStatus mirrors the Waiting/Active/Offline states a registered
// Discovery Handler passes through over its lifetime.
type HandlerStatus int

const (
	StatusWaiting HandlerStatus = iota
	StatusActive
	StatusOffline
)

func (s HandlerStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusOffline:
		return "Offline"
	default:
		return "Waiting"
	}
}

// offlineEvictAfter is how long a handler may stay Offline before the
// registry drops its registration entirely.
const offlineEvictAfter = 5 * time.Minute

// HandlerInfo describes one registered Discovery Handler.
type HandlerInfo struct {
	Protocol   string
	Endpoint   string
	IsLocal    bool
	Status     HandlerStatus
	OfflineAt  time.Time
	registered time.Time
}

// Registry tracks registered Discovery Handlers, keyed by protocol. All
// access goes through its command channel; Registry itself holds no
// exported mutable state.
type Registry struct {
	cmds chan command
	log  logrus.FieldLogger
}

func NewRegistry(log logrus.FieldLogger) *Registry {
	return &Registry{
		cmds: make(chan command),
		log:  log,
	}
}

// Run owns the registration map for the lifetime of ctx. It must be started
// exactly once, typically as one actor in the Agent's oklog/run.Group.
func (r *Registry) Run(ctx context.Context) error {
	handlers := map[string][]HandlerInfo{} // protocol -> handlers
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.evictStale(handlers)
		case cmd := <-r.cmds:
			cmd.exec(handlers, r.log)
		}
	}
}

func (r *Registry) evictStale(handlers map[string][]HandlerInfo) {
	now := time.Now()
	for protocol, list := range handlers {
		kept := list[:0]
		for _, h := range list {
			if h.Status == StatusOffline && now.Sub(h.OfflineAt) > offlineEvictAfter {
				r.log.WithFields(logrus.Fields{"protocol": protocol, "endpoint": h.Endpoint}).
					Info("evicting discovery handler offline past grace")
				continue
			}
			kept = append(kept, h)
		}
		handlers[protocol] = kept
	}
}

// command is a closure executed serially inside Run's select loop, the
// indirection that lets Registry avoid holding a mutex across a send.
type command struct {
	exec func(map[string][]HandlerInfo, logrus.FieldLogger)
}

func (r *Registry) send(ctx context.Context, exec func(map[string][]HandlerInfo, logrus.FieldLogger)) {
	select {
	case r.cmds <- command{exec: exec}:
	case <-ctx.Done():
	}
}

// Register inserts or overwrites the registration entry for (protocol,
// endpoint), the effect of a handler's Register RPC call.
func (r *Registry) Register(ctx context.Context, protocol, endpoint string, isLocal bool) {
	r.send(ctx, func(handlers map[string][]HandlerInfo, log logrus.FieldLogger) {
		list := handlers[protocol]
		for i := range list {
			if list[i].Endpoint == endpoint {
				list[i].Status = StatusWaiting
				list[i].IsLocal = isLocal
				list[i].registered = time.Now()
				handlers[protocol] = list
				return
			}
		}
		handlers[protocol] = append(list, HandlerInfo{
			Protocol:   protocol,
			Endpoint:   endpoint,
			IsLocal:    isLocal,
			Status:     StatusWaiting,
			registered: time.Now(),
		})
		log.WithFields(logrus.Fields{"protocol": protocol, "endpoint": endpoint}).Info("discovery handler registered")
	})
}

// ListHandlers returns a snapshot of the handlers registered for protocol.
func (r *Registry) ListHandlers(ctx context.Context, protocol string) []HandlerInfo {
	result := make(chan []HandlerInfo, 1)
	r.send(ctx, func(handlers map[string][]HandlerInfo, _ logrus.FieldLogger) {
		snapshot := make([]HandlerInfo, len(handlers[protocol]))
		copy(snapshot, handlers[protocol])
		result <- snapshot
	})
	select {
	case snap := <-result:
		return snap
	case <-ctx.Done():
		return nil
	}
}

// MarkActive transitions a handler to Active once its session starts.
func (r *Registry) MarkActive(ctx context.Context, protocol, endpoint string) {
	r.send(ctx, func(handlers map[string][]HandlerInfo, _ logrus.FieldLogger) {
		list := handlers[protocol]
		for i := range list {
			if list[i].Endpoint == endpoint {
				list[i].Status = StatusActive
			}
		}
	})
}

// MarkOffline transitions a handler to Offline on stream error/disconnect.
func (r *Registry) MarkOffline(ctx context.Context, protocol, endpoint string) {
	r.send(ctx, func(handlers map[string][]HandlerInfo, log logrus.FieldLogger) {
		list := handlers[protocol]
		for i := range list {
			if list[i].Endpoint == endpoint {
				list[i].Status = StatusOffline
				list[i].OfflineAt = time.Now()
				log.WithFields(logrus.Fields{"protocol": protocol, "endpoint": endpoint}).Warn("discovery handler offline")
			}
		}
	})
}
