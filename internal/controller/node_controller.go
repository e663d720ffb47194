package controller

import (
	"context"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/metrics"
	"github.com/project-akri/akri-sub000/internal/store"
)

// NodeReconciler repairs Instance state after a Node is deleted: it un-sticks slots and visibility entries a crashed
// Agent can no longer sweep for itself.
type NodeReconciler struct {
	client.Client
	Store     *store.Store
	Namespace string
	Log       logrus.FieldLogger
}

//+kubebuilder:rbac:groups="",resources=nodes,verbs=get;list;watch

func (r *NodeReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, err error) {
	defer func() { metrics.RecordReconcileError("node", err) }()
	log := r.Log.WithField("node", req.Name)

	node := &corev1.Node{}
	err = r.Get(ctx, req.NamespacedName, node)
	if err == nil {
		// Node still exists; nothing to repair.
		return ctrl.Result{}, nil
	}
	if !apierrs.IsNotFound(err) {
		return ctrl.Result{}, err
	}

	instances, err := r.Store.ListInstancesForNode(ctx, r.Namespace, req.Name)
	if err != nil {
		return ctrl.Result{}, err
	}
	for i := range instances.Items {
		if repairErr := r.repair(ctx, &instances.Items[i], req.Name); repairErr != nil {
			log.WithError(repairErr).WithField("instance", instances.Items[i].Name).Error("failed to repair instance after node loss")
			return ctrl.Result{}, repairErr
		}
	}
	if len(instances.Items) > 0 {
		log.WithField("instances_repaired", len(instances.Items)).Info("repaired instances after node loss")
	}
	return ctrl.Result{}, nil
}

func (r *NodeReconciler) repair(ctx context.Context, inst *akriv1alpha1.Instance, lostNode string) error {
	return store.RetryOnConflict(ctx, func() error {
		current, err := r.Store.GetInstance(ctx, inst.Namespace, inst.Name)
		if err != nil {
			return err
		}
		if current == nil {
			return nil
		}
		changed := false
		kept := current.Spec.Nodes[:0]
		for _, n := range current.Spec.Nodes {
			if n == lostNode {
				changed = true
				continue
			}
			kept = append(kept, n)
		}
		current.Spec.Nodes = kept

		for slotID, holder := range current.Spec.DeviceUsage {
			if holder == lostNode {
				current.Spec.DeviceUsage[slotID] = ""
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return r.Store.UpdateInstance(ctx, current)
	})
}

func (r *NodeReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.Node{}).
		Complete(r)
}
