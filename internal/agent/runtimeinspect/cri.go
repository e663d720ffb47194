package runtimeinspect

import (
	"context"
	"strconv"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	runtimeapi "k8s.io/cri-api/pkg/apis/runtime/v1"

	"github.com/project-akri/akri-sub000/pkg/names"
)

// CRIInspector talks to the node's container runtime over its CRI UDS, the
// same socket kubelet itself dials. It reads slot assignment back from the
// akri.sh/slot and akri.sh/instance container annotations written at
// Allocate time, rather than tracking its own bookkeeping of what it
// started.
type CRIInspector struct {
	conn   *grpc.ClientConn
	client runtimeapi.RuntimeServiceClient
	log    logr.Logger
}

// NewCRIInspector dials the CRI unix socket (e.g.
// "unix:///run/containerd/containerd.sock"). The connection is lazy;
// dial errors surface on the first RunningAnnotated call.
func NewCRIInspector(endpoint string, log logr.Logger) (*CRIInspector, error) {
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &CRIInspector{
		conn:   conn,
		client: runtimeapi.NewRuntimeServiceClient(conn),
		log:    log,
	}, nil
}

func (c *CRIInspector) Close() error { return c.conn.Close() }

// RunningAnnotated lists running containers and extracts the slot
// annotations the Controller and Allocate wrote (names.AnnotationSlot,
// names.AnnotationInstance). Containers without both annotations are not
// managed by the core and are ignored.
func (c *CRIInspector) RunningAnnotated(ctx context.Context) (map[SlotRef]ContainerID, error) {
	resp, err := c.client.ListContainers(ctx, &runtimeapi.ListContainersRequest{
		Filter: &runtimeapi.ContainerFilter{
			State: &runtimeapi.ContainerStateValue{State: runtimeapi.ContainerState_CONTAINER_RUNNING},
		},
	})
	if err != nil {
		return nil, err
	}

	result := make(map[SlotRef]ContainerID, len(resp.Containers))
	for _, ctr := range resp.Containers {
		slotID, ok := ctr.Annotations[names.AnnotationSlot]
		if !ok {
			continue
		}
		instanceName, ok := ctr.Annotations[names.AnnotationInstance]
		if !ok {
			continue
		}
		ref := SlotRef{InstanceName: instanceName, SlotID: slotID}
		if existing, dup := result[ref]; dup {
			c.log.Info("multiple running containers claim the same slot, keeping first seen",
				"slot", slotID, "instance", instanceName,
				"kept", existing, "ignored", ctr.Id)
			continue
		}
		result[ref] = ContainerID(ctr.Id)
	}
	c.log.V(1).Info("inspected running containers", "count", strconv.Itoa(len(result)))
	return result, nil
}
