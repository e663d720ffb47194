package discovery

import (
	"context"
	"fmt"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	akriconditions "github.com/project-akri/akri-sub000/api"
	v0 "github.com/project-akri/akri-sub000/api/discovery/v0"
	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/apierrors"
	"github.com/project-akri/akri-sub000/internal/metrics"
	"github.com/project-akri/akri-sub000/internal/store"
	"github.com/project-akri/akri-sub000/pkg/names"
)

// disappearedGrace is the window a shared device's Instance is kept alive
// after this node sees it vanish from a DiscoverResponse, absorbing a flaky
// transport's momentary device dropouts.
const disappearedGrace = 5 * time.Minute

// reconnectBackoff bounds the delay between Discover stream reconnect
// attempts on the same handler endpoint.
const reconnectBackoff = 30 * time.Second

// EndpointManager starts and stops the per-Instance Device Plugin endpoint
// (internal/agent/deviceplugin). Session depends only on this interface to
// avoid an import cycle between discovery and deviceplugin.
type EndpointManager interface {
	Start(ctx context.Context, namespace string, inst *akriv1alpha1.Instance) error
	Stop(instanceName string)
}

// Session drives one (Configuration, Handler) discovery pipeline: dial,
// stream, reconcile Appeared/Persisted/Disappeared, repeat on disconnect
// with backoff.
type Session struct {
	configurationName string
	namespace         string
	nodeName          string
	handler           HandlerInfo
	discoveryDetails  string

	store     *store.Store
	registry  *Registry
	endpoints EndpointManager
	log       logrus.FieldLogger

	prev        map[string]*v0.Device
	graceTimers map[string]*time.Timer
}

func NewSession(namespace, configurationName, nodeName string, handler HandlerInfo, discoveryDetails string, s *store.Store, registry *Registry, endpoints EndpointManager, log logrus.FieldLogger) *Session {
	return &Session{
		configurationName: configurationName,
		namespace:          namespace,
		nodeName:           nodeName,
		handler:            handler,
		discoveryDetails:   discoveryDetails,
		store:              s,
		registry:           registry,
		endpoints:          endpoints,
		log: log.WithFields(logrus.Fields{
			"configuration": configurationName,
			"handler":       handler.Endpoint,
			"protocol":      handler.Protocol,
		}),
		prev:        map[string]*v0.Device{},
		graceTimers: map[string]*time.Timer{},
	}
}

// Run dials the handler and reconciles Discover responses until ctx is
// cancelled, reconnecting with backoff on stream failure. On exit it tears
// down every Instance still open in s.prev, so a Configuration Modified or
// Deleted event never strands a kubelet registration or leaves this node's
// name behind in an Instance's Nodes.
func (s *Session) Run(ctx context.Context) {
	defer s.cleanup()
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.runOnce(ctx); err != nil {
			s.log.WithError(err).Warn("discovery session disconnected, will retry")
			s.registry.MarkOffline(ctx, s.handler.Protocol, s.handler.Endpoint)
			s.setCondition(ctx, akriconditions.Conditions().NotSessionActive().Reason(akriconditions.ReasonOffline).Msg(err.Error()).Build())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (s *Session) runOnce(ctx context.Context) error {
	conn, err := grpc.NewClient(s.handler.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
		grpc.WithStreamInterceptor(grpc_prometheus.StreamClientInterceptor),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := v0.NewDiscoveryClient(conn)
	stream, err := client.Discover(ctx, &v0.DiscoverRequest{DiscoveryDetails: map[string]string{"details": s.discoveryDetails}})
	if err != nil {
		return err
	}
	s.registry.MarkActive(ctx, s.handler.Protocol, s.handler.Endpoint)
	s.setCondition(ctx, akriconditions.Conditions().HandlerRegistered().Reason(akriconditions.ReasonCreated).Build())
	s.setCondition(ctx, akriconditions.Conditions().SessionActive().Reason(akriconditions.ReasonCreated).Build())

	metrics.DiscoveryHandlerSessionsActive.WithLabelValues(s.configurationName, s.handler.Protocol).Inc()
	defer metrics.DiscoveryHandlerSessionsActive.WithLabelValues(s.configurationName, s.handler.Protocol).Dec()

	for {
		start := time.Now()
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		s.reconcile(ctx, resp.GetDevices())
		metrics.DiscoveryResponseDuration.WithLabelValues(s.configurationName, s.handler.Protocol).Observe(time.Since(start).Seconds())
	}
}

// setCondition folds a single condition update into the Configuration's
// status via a CAS loop, so sessions for different handlers racing on the
// same Configuration's status subresource don't clobber each other's writes.
func (s *Session) setCondition(ctx context.Context, cond *metav1.Condition) {
	err := store.RetryOnConflict(ctx, func() error {
		cfg, getErr := s.store.GetConfiguration(ctx, s.namespace, s.configurationName)
		if getErr != nil {
			return getErr
		}
		if cfg == nil {
			return nil
		}
		meta.SetStatusCondition(&cfg.Status.Conditions, *cond)
		return s.store.UpdateConfigurationStatus(ctx, cfg)
	})
	if err != nil {
		s.log.WithError(err).Warn("failed to update configuration status condition")
	}
}

// shared reports whether devices from this session's handler are visible
// from more than one node; derived from the handler's registered is_local
// flag.
func (s *Session) shared() bool { return !s.handler.IsLocal }

// cleanup runs this node's Disappeared path for every Instance left open in
// s.prev: stop its Device Plugin endpoint and CAS-remove this node from
// Nodes (deleting the Instance if it was the last node and the device is
// not shared). Uses a background context since ctx is already cancelled by
// the time Run's defer fires.
func (s *Session) cleanup() {
	ctx := context.Background()
	for id := range s.prev {
		s.disappeared(ctx, id)
	}
	s.prev = map[string]*v0.Device{}
}

// reconcile folds one DiscoverResponse's devices against s.prev. A device id
// that repeats within the same response is a DiscoveryProtocolError: the
// offending (later) device is skipped and logged, the rest of the response
// still applies.
func (s *Session) reconcile(ctx context.Context, devices []*v0.Device) {
	next := make(map[string]*v0.Device, len(devices))
	for _, d := range devices {
		id := d.GetId()
		if _, dup := next[id]; dup {
			err := apierrors.New(apierrors.KindDiscoveryProtocol, fmt.Sprintf("duplicate device id %q in discover response, skipping", id))
			s.log.WithError(err).Error("discovery protocol error")
			continue
		}
		next[id] = d
	}

	for id, d := range next {
		if _, existed := s.prev[id]; !existed {
			s.appeared(ctx, d)
		}
	}
	for id := range s.prev {
		if _, still := next[id]; !still {
			s.disappeared(ctx, id)
		}
	}
	s.prev = next
}

func (s *Session) appeared(ctx context.Context, d *v0.Device) {
	shared := s.shared()
	instanceName := names.InstanceName(s.configurationName, d.GetId(), shared, s.nodeName)
	log := s.log.WithField("instance", instanceName)

	if timer, ok := s.graceTimers[instanceName]; ok {
		timer.Stop()
		delete(s.graceTimers, instanceName)
	}

	cfg, err := s.store.GetConfiguration(ctx, s.namespace, s.configurationName)
	if err != nil || cfg == nil {
		log.WithError(err).Error("appeared: configuration unavailable")
		return
	}

	err = store.RetryOnConflict(ctx, func() error {
		inst, getErr := s.store.GetInstance(ctx, s.namespace, instanceName)
		if getErr != nil {
			return getErr
		}
		if inst == nil {
			inst = newInstance(s.namespace, instanceName, s.configurationName, cfg, d, shared, s.nodeName)
			return s.store.CreateInstance(ctx, inst)
		}
		if containsNode(inst.Spec.Nodes, s.nodeName) {
			return nil
		}
		inst.Spec.Nodes = insertSorted(inst.Spec.Nodes, s.nodeName)
		return s.store.UpdateInstance(ctx, inst)
	})
	if err != nil {
		log.WithError(err).Error("appeared: failed to reconcile instance")
		return
	}

	inst, err := s.store.GetInstance(ctx, s.namespace, instanceName)
	if err != nil || inst == nil {
		return
	}
	if err := s.endpoints.Start(ctx, s.namespace, inst); err != nil {
		log.WithError(err).Error("appeared: failed to start device plugin endpoint")
	}
}

func (s *Session) disappeared(ctx context.Context, deviceID string) {
	shared := s.shared()
	instanceName := names.InstanceName(s.configurationName, deviceID, shared, s.nodeName)
	log := s.log.WithField("instance", instanceName)

	s.endpoints.Stop(instanceName)

	removeNode := func() (empty bool, err error) {
		retryErr := store.RetryOnConflict(ctx, func() error {
			inst, getErr := s.store.GetInstance(ctx, s.namespace, instanceName)
			if getErr != nil {
				return getErr
			}
			if inst == nil {
				empty = true
				return nil
			}
			inst.Spec.Nodes = removeFromSlice(inst.Spec.Nodes, s.nodeName)
			empty = len(inst.Spec.Nodes) == 0
			return s.store.UpdateInstance(ctx, inst)
		})
		return empty, retryErr
	}

	empty, err := removeNode()
	if err != nil {
		log.WithError(err).Error("disappeared: failed to remove node from instance")
		return
	}
	if !empty {
		return
	}

	if shared {
		timer := time.AfterFunc(disappearedGrace, func() {
			s.deleteIfStillEmpty(context.Background(), instanceName)
		})
		s.graceTimers[instanceName] = timer
		return
	}
	s.deleteIfStillEmpty(ctx, instanceName)
}

func (s *Session) deleteIfStillEmpty(ctx context.Context, instanceName string) {
	inst, err := s.store.GetInstance(ctx, s.namespace, instanceName)
	if err != nil || inst == nil {
		return
	}
	if len(inst.Spec.Nodes) != 0 {
		return
	}
	if err := s.store.DeleteInstance(ctx, inst); err != nil && !apierrs.IsNotFound(err) {
		s.log.WithField("instance", instanceName).WithError(err).Error("failed to delete empty instance")
	}
}

func newInstance(namespace, instanceName, configurationName string, cfg *akriv1alpha1.Configuration, d *v0.Device, shared bool, nodeName string) *akriv1alpha1.Instance {
	return &akriv1alpha1.Instance{
		ObjectMeta: ownerRefMeta(namespace, instanceName, configurationName, cfg),
		Spec: akriv1alpha1.InstanceSpec{
			ConfigurationName: configurationName,
			Shared:            shared,
			DeviceProperties:  d.GetProperties(),
			Nodes:             []string{nodeName},
			DeviceUsage:       emptySlots(instanceName, cfg.Spec.Capacity),
			Mounts:            toDeviceMounts(d.GetMounts()),
			DeviceSpecs:       toDeviceSpecs(d.GetDeviceSpecs()),
		},
	}
}

func toDeviceMounts(mounts []*v0.Mount) []akriv1alpha1.DeviceMount {
	if len(mounts) == 0 {
		return nil
	}
	out := make([]akriv1alpha1.DeviceMount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, akriv1alpha1.DeviceMount{
			ContainerPath: m.GetContainerPath(),
			HostPath:      m.GetHostPath(),
			ReadOnly:      m.GetReadOnly(),
		})
	}
	return out
}

func toDeviceSpecs(specs []*v0.DeviceSpec) []akriv1alpha1.DeviceSpec {
	if len(specs) == 0 {
		return nil
	}
	out := make([]akriv1alpha1.DeviceSpec, 0, len(specs))
	for _, ds := range specs {
		out = append(out, akriv1alpha1.DeviceSpec{
			ContainerPath: ds.GetContainerPath(),
			HostPath:      ds.GetHostPath(),
			Permissions:   ds.GetPermissions(),
		})
	}
	return out
}

func emptySlots(instanceName string, capacity int32) map[string]string {
	usage := make(map[string]string, capacity)
	for _, id := range names.SlotIDs(instanceName, capacity) {
		usage[id] = ""
	}
	return usage
}

func containsNode(nodes []string, node string) bool {
	for _, n := range nodes {
		if n == node {
			return true
		}
	}
	return false
}

func insertSorted(nodes []string, node string) []string {
	for i, n := range nodes {
		if n == node {
			return nodes
		}
		if n > node {
			out := make([]string, 0, len(nodes)+1)
			out = append(out, nodes[:i]...)
			out = append(out, node)
			out = append(out, nodes[i:]...)
			return out
		}
	}
	return append(nodes, node)
}

func removeFromSlice(nodes []string, node string) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n != node {
			out = append(out, n)
		}
	}
	return out
}
