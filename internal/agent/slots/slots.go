// Package slots implements the claim/release arbitration over
// Instance.Spec.DeviceUsage. Claim is called synchronously from
// Allocate; Release runs out of the sweep reconciler on a ticker, using
// runtimeinspect.Inspector as its sole source of truth about which
// containers are actually alive.
package slots

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/agent/runtimeinspect"
	"github.com/project-akri/akri-sub000/internal/apierrors"
	"github.com/project-akri/akri-sub000/internal/metrics"
	"github.com/project-akri/akri-sub000/internal/store"
)

// ReleaseGrace is the absence window the sweep reconciler waits out before
// freeing a slot whose claimant's container has vanished.
const ReleaseGrace = 5 * time.Minute

// Arbiter claims and releases Instance usage slots on behalf of this node.
type Arbiter struct {
	store    *store.Store
	inspect  runtimeinspect.Inspector
	nodeName string
	log      logr.Logger

	// missingSince tracks, per slot this node believes it holds, the first
	// sweep pass at which the claiming container was not observed running.
	// Cleared the moment the container reappears.
	missingSince map[runtimeinspect.SlotRef]time.Time
}

func NewArbiter(s *store.Store, inspect runtimeinspect.Inspector, nodeName string, log logr.Logger) *Arbiter {
	return &Arbiter{
		store:        s,
		inspect:      inspect,
		nodeName:     nodeName,
		log:          log,
		missingSince: map[runtimeinspect.SlotRef]time.Time{},
	}
}

// Claim runs the compare-and-swap claim protocol for one slot on one
// Instance, identified by namespace/name. On SlotTaken the caller (the
// device plugin's Allocate handler) must fail the whole Allocate call with
// a transient gRPC error so kubelet reschedules.
func (a *Arbiter) Claim(ctx context.Context, namespace, instanceName, slotID string) error {
	var outcome = "claimed"
	defer func() { metrics.SlotClaimTotal.WithLabelValues(outcome).Inc() }()

	err := store.RetryOnConflict(ctx, func() error {
		inst, getErr := a.store.GetInstance(ctx, namespace, instanceName)
		if getErr != nil {
			return getErr
		}
		if inst == nil {
			return apierrors.New(apierrors.KindSlotTaken, "instance no longer exists")
		}

		holder, ok := inst.Spec.DeviceUsage[slotID]
		if !ok {
			return apierrors.New(apierrors.KindInvariantViolation, "slot "+slotID+" does not exist on instance "+instanceName)
		}
		if holder != "" && holder != a.nodeName {
			return apierrors.SlotTaken(slotID)
		}
		if holder == a.nodeName {
			return nil
		}

		inst.Spec.DeviceUsage[slotID] = a.nodeName
		return a.store.UpdateInstance(ctx, inst)
	})
	if apierrors.Is(err, apierrors.KindConflict) {
		err = apierrors.Wrap(apierrors.KindSlotTaken, "claim retries exhausted for slot "+slotID, err)
	}

	if err != nil {
		if apierrors.Is(err, apierrors.KindSlotTaken) {
			outcome = "slot_taken"
		} else {
			outcome = "error"
		}
		return err
	}
	return nil
}

// Sweep runs one pass of the release protocol across
// every Instance this node currently claims at least one slot in.
func (a *Arbiter) Sweep(ctx context.Context, namespace string) error {
	live, err := a.inspect.RunningAnnotated(ctx)
	if err != nil {
		a.log.Error(err, "sweep paused: container runtime unavailable, no slots released this pass")
		return apierrors.Wrap(apierrors.KindContainerRuntimeUnavailable, "enumerate running containers", err)
	}

	instances, err := a.store.ListInstancesForNode(ctx, namespace, a.nodeName)
	if err != nil {
		return err
	}

	now := a.now()
	for i := range instances.Items {
		inst := &instances.Items[i]
		a.sweepInstance(ctx, inst, live, now)
	}
	return nil
}

func (a *Arbiter) sweepInstance(ctx context.Context, inst *akriv1alpha1.Instance, live map[runtimeinspect.SlotRef]runtimeinspect.ContainerID, now time.Time) {
	var toRelease []string
	for slotID, holder := range inst.Spec.DeviceUsage {
		if holder != a.nodeName {
			continue
		}
		ref := runtimeinspect.SlotRef{InstanceName: inst.Name, SlotID: slotID}
		if _, running := live[ref]; running {
			delete(a.missingSince, ref)
			continue
		}
		since, tracked := a.missingSince[ref]
		if !tracked {
			a.missingSince[ref] = now
			continue
		}
		if now.Sub(since) >= ReleaseGrace {
			toRelease = append(toRelease, slotID)
		}
	}
	if len(toRelease) == 0 {
		return
	}

	err := store.RetryOnConflict(ctx, func() error {
		current, getErr := a.store.GetInstance(ctx, inst.Namespace, inst.Name)
		if getErr != nil {
			return getErr
		}
		if current == nil {
			return nil
		}
		changed := false
		for _, slotID := range toRelease {
			if current.Spec.DeviceUsage[slotID] == a.nodeName {
				current.Spec.DeviceUsage[slotID] = ""
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return a.store.UpdateInstance(ctx, current)
	})
	if err != nil {
		a.log.Error(err, "failed to release slots", "instance", inst.Name, "slots", toRelease)
		return
	}
	for _, slotID := range toRelease {
		delete(a.missingSince, runtimeinspect.SlotRef{InstanceName: inst.Name, SlotID: slotID})
		metrics.SlotReleaseTotal.WithLabelValues("grace_expired").Inc()
	}
	a.log.Info("released slots", "instance", inst.Name, "slots", toRelease)
}

// clockNow is overridden in tests to avoid depending on wall-clock grace timing.
var clockNow = time.Now

func (a *Arbiter) now() time.Time { return clockNow() }

// Run drives Sweep on a ticker until ctx is cancelled, at whatever interval
// the caller configures.
func Run(ctx context.Context, a *Arbiter, namespace string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.Sweep(ctx, namespace); err != nil {
				a.log.Error(err, "sweep pass failed")
			}
		}
	}
}
