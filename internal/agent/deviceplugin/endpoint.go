package deviceplugin

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-logr/logr"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	pluginapi "k8s.io/kubelet/pkg/apis/deviceplugin/v1beta1"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/agent/slots"
	"github.com/project-akri/akri-sub000/internal/apierrors"
	"github.com/project-akri/akri-sub000/internal/store"
	"github.com/project-akri/akri-sub000/pkg/names"
)

// listWatchPushInterval bounds how often Endpoint re-reads the Instance and
// considers pushing a new slot list, in lieu of a live watch channel per
// endpoint; it is a ceiling, not a poll-only mechanism, since Allocate also
// triggers an immediate push.
const listWatchPushInterval = 5 * time.Second

// Endpoint is one kubelet-facing Device Plugin gRPC server for a single
// Instance.
type Endpoint struct {
	pluginapi.UnimplementedDevicePluginServer

	namespace    string
	instanceName string
	socketPath   string
	nodeName     string

	store   *store.Store
	arbiter *slots.Arbiter
	log     logr.Logger

	server *grpc.Server
	ctx    context.Context
	cancel context.CancelFunc
	pushCh chan struct{}
}

func NewEndpoint(namespace, instanceName, socketPath string, s *store.Store, arbiter *slots.Arbiter, nodeName string, log logr.Logger) *Endpoint {
	return &Endpoint{
		namespace:    namespace,
		instanceName: instanceName,
		socketPath:   socketPath,
		nodeName:     nodeName,
		store:        s,
		arbiter:      arbiter,
		log:          log,
		pushCh:       make(chan struct{}, 1),
	}
}

// Start begins serving the gRPC endpoint on its UDS.
func (e *Endpoint) Start(ctx context.Context) error {
	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", e.socketPath, err)
	}

	e.server = grpc.NewServer(
		grpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		grpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	)
	pluginapi.RegisterDevicePluginServer(e.server, e)
	grpc_prometheus.Register(e.server)

	runCtx, cancel := context.WithCancel(ctx)
	e.ctx = runCtx
	e.cancel = cancel

	go func() {
		if serveErr := e.server.Serve(listener); serveErr != nil {
			e.log.Error(serveErr, "device plugin endpoint stopped serving")
		}
	}()
	go e.watchInstance(runCtx)
	return nil
}

// Stop tears down the gRPC server and its socket.
func (e *Endpoint) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.server != nil {
		e.server.Stop()
	}
}

// RegisterWithKubelet dials kubelet's well-known registration socket and
// advertises this endpoint under the akri.sh/<instance> extended resource
// name, mirroring the upstream device plugin registration flow. A failure
// here is always KindDevicePluginRegistration.
func (e *Endpoint) RegisterWithKubelet(ctx context.Context, socketFilename string) error {
	dialCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	dialer := grpc.WithContextDialer(func(dctx context.Context, address string) (net.Conn, error) {
		return (&net.Dialer{}).DialContext(dctx, "unix", address)
	})
	conn, err := grpc.DialContext(dialCtx, pluginapi.KubeletSocket,
		grpc.WithBlock(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		dialer,
	)
	if err != nil {
		return apierrors.Wrap(apierrors.KindDevicePluginRegistration, "connect to kubelet registration socket", err)
	}
	defer conn.Close()

	client := pluginapi.NewRegistrationClient(conn)
	req := &pluginapi.RegisterRequest{
		Version:      pluginapi.Version,
		Endpoint:     socketFilename,
		ResourceName: names.ResourceName(e.instanceName),
	}
	if _, err := client.Register(ctx, req); err != nil {
		return apierrors.Wrap(apierrors.KindDevicePluginRegistration, "register with kubelet", err)
	}
	e.log.Info("registered device plugin endpoint with kubelet", "resource", req.ResourceName)
	return nil
}

// Done reports a channel closed once the endpoint is stopped, letting a
// background retry loop (kubelet registration) abandon itself promptly
// instead of retrying against a dead endpoint.
func (e *Endpoint) Done() <-chan struct{} {
	return e.ctx.Done()
}

// RegistrationContext returns the context bound to this endpoint's
// lifetime, for use by callers that need to retry RegisterWithKubelet for as
// long as the endpoint stays up.
func (e *Endpoint) RegistrationContext() context.Context {
	return e.ctx
}

func (e *Endpoint) GetDevicePluginOptions(context.Context, *pluginapi.Empty) (*pluginapi.DevicePluginOptions, error) {
	return &pluginapi.DevicePluginOptions{PreStartRequired: false, GetPreferredAllocationAvailable: false}, nil
}

// ListAndWatch streams the slot health list for this Instance,
// pushing a new list whenever watchInstance observes a device_usage change
// and at least every listWatchPushInterval as a liveness floor.
func (e *Endpoint) ListAndWatch(_ *pluginapi.Empty, stream pluginapi.DevicePlugin_ListAndWatchServer) error {
	ticker := time.NewTicker(listWatchPushInterval)
	defer ticker.Stop()

	ctx := stream.Context()
	var lastSlotIDs []string
	for {
		inst, err := e.store.GetInstance(ctx, e.namespace, e.instanceName)
		if err != nil {
			return err
		}
		if inst == nil {
			// The device has disappeared: emit every
			// previously-advertised slot as Unhealthy, then let the
			// caller tear this endpoint down.
			return stream.Send(&pluginapi.ListAndWatchResponse{Devices: allUnhealthy(lastSlotIDs)})
		}

		lastSlotIDs = lastSlotIDs[:0]
		for slotID := range inst.Spec.DeviceUsage {
			lastSlotIDs = append(lastSlotIDs, slotID)
		}
		if sendErr := stream.Send(&pluginapi.ListAndWatchResponse{Devices: healthFromUsage(inst.Spec.DeviceUsage, e.nodeName)}); sendErr != nil {
			return sendErr
		}

		select {
		case <-ctx.Done():
			return nil
		case <-e.pushCh:
		case <-ticker.C:
		}
	}
}

// NotifyChanged wakes ListAndWatch to re-read and push immediately,
// called after a successful Allocate and when watchInstance sees the
// Instance change.
func (e *Endpoint) NotifyChanged() {
	select {
	case e.pushCh <- struct{}{}:
	default:
	}
}

func healthFromUsage(usage map[string]string, nodeName string) []*pluginapi.Device {
	devices := make([]*pluginapi.Device, 0, len(usage))
	for slotID, holder := range usage {
		health := pluginapi.Healthy
		if holder != "" && holder != nodeName {
			health = pluginapi.Unhealthy
		}
		devices = append(devices, &pluginapi.Device{ID: slotID, Health: health})
	}
	return devices
}

func allUnhealthy(slotIDs []string) []*pluginapi.Device {
	devices := make([]*pluginapi.Device, 0, len(slotIDs))
	for _, slotID := range slotIDs {
		devices = append(devices, &pluginapi.Device{ID: slotID, Health: pluginapi.Unhealthy})
	}
	return devices
}

// Allocate claims every requested slot via the arbiter and returns the
// container environment/mounts/devices for each. Any single claim failure
// fails the whole call with a transient error so kubelet reschedules.
func (e *Endpoint) Allocate(ctx context.Context, req *pluginapi.AllocateRequest) (*pluginapi.AllocateResponse, error) {
	inst, err := e.store.GetInstance(ctx, e.namespace, e.instanceName)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	if inst == nil {
		return nil, status.Error(codes.Unavailable, "instance no longer exists")
	}
	cfg, err := e.store.GetConfiguration(ctx, e.namespace, inst.Spec.ConfigurationName)
	if err != nil || cfg == nil {
		return nil, status.Error(codes.Unavailable, "configuration unavailable")
	}

	resp := &pluginapi.AllocateResponse{}
	for _, creq := range req.ContainerRequests {
		claimed := make([]string, 0, len(creq.DevicesIDs))
		for _, slotID := range creq.DevicesIDs {
			if claimErr := e.arbiter.Claim(ctx, e.namespace, e.instanceName, slotID); claimErr != nil {
				e.releaseClaimed(ctx, claimed)
				if apierrors.Is(claimErr, apierrors.KindSlotTaken) {
					return nil, status.Error(codes.ResourceExhausted, claimErr.Error())
				}
				return nil, status.Error(codes.Unavailable, claimErr.Error())
			}
			claimed = append(claimed, slotID)
		}

		resp.ContainerResponses = append(resp.ContainerResponses, containerResponse(inst, cfg, claimed))
	}

	e.NotifyChanged()
	return resp, nil
}

// releaseClaimed best-effort releases slots this Allocate call already
// claimed before a later slot in the same request failed, so a partial
// Allocate failure does not strand slots until the sweep grace expires.
func (e *Endpoint) releaseClaimed(ctx context.Context, slotIDs []string) {
	if len(slotIDs) == 0 {
		return
	}
	err := store.RetryOnConflict(ctx, func() error {
		inst, getErr := e.store.GetInstance(ctx, e.namespace, e.instanceName)
		if getErr != nil || inst == nil {
			return getErr
		}
		for _, slotID := range slotIDs {
			if inst.Spec.DeviceUsage[slotID] == e.nodeName {
				inst.Spec.DeviceUsage[slotID] = ""
			}
		}
		return e.store.UpdateInstance(ctx, inst)
	})
	if err != nil {
		e.log.Error(err, "failed to release partially-claimed slots after allocate failure", "slots", slotIDs)
	}
}

func containerResponse(inst *akriv1alpha1.Instance, cfg *akriv1alpha1.Configuration, slotIDs []string) *pluginapi.ContainerAllocateResponse {
	envs := map[string]string{}
	for k, v := range inst.Spec.DeviceProperties {
		envs[k] = v
	}
	for k, v := range cfg.Spec.BrokerProperties {
		envs[k] = v
	}
	annotations := map[string]string{
		names.AnnotationInstance: inst.Name,
	}
	if len(slotIDs) > 0 {
		annotations[names.AnnotationSlot] = slotIDs[0]
	}

	var mounts []*pluginapi.Mount
	for _, m := range inst.Spec.Mounts {
		mounts = append(mounts, &pluginapi.Mount{
			ContainerPath: m.ContainerPath,
			HostPath:      m.HostPath,
			ReadOnly:      m.ReadOnly,
		})
	}
	var devices []*pluginapi.DeviceSpec
	for _, ds := range inst.Spec.DeviceSpecs {
		devices = append(devices, &pluginapi.DeviceSpec{
			ContainerPath: ds.ContainerPath,
			HostPath:      ds.HostPath,
			Permissions:   ds.Permissions,
		})
	}

	return &pluginapi.ContainerAllocateResponse{
		Envs:        envs,
		Annotations: annotations,
		Mounts:      mounts,
		Devices:     devices,
	}
}

func (e *Endpoint) GetPreferredAllocation(context.Context, *pluginapi.PreferredAllocationRequest) (*pluginapi.PreferredAllocationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "GetPreferredAllocation is not implemented")
}

func (e *Endpoint) PreStartContainer(context.Context, *pluginapi.PreStartContainerRequest) (*pluginapi.PreStartContainerResponse, error) {
	return &pluginapi.PreStartContainerResponse{}, nil
}

// watchInstance polls the Instance at a faster interval than ListAndWatch's
// floor purely to wake any active stream promptly on device_usage changes
// it did not itself cause (e.g. a sweep release, or another node's claim).
func (e *Endpoint) watchInstance(ctx context.Context) {
	var lastVersion string
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			inst, err := e.store.GetInstance(ctx, e.namespace, e.instanceName)
			if err != nil || inst == nil {
				continue
			}
			if inst.ResourceVersion != lastVersion {
				lastVersion = inst.ResourceVersion
				e.NotifyChanged()
			}
		}
	}
}

