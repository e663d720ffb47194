// Package controller implements the Controller's reconcilers:
// InstanceReconciler drives broker Pods/Services from Instance records,
// NodeReconciler repairs Instance state after node loss. Each follows the
// same build/ensure/delete-stale shape: compute the desired objects from
// current state, create what's missing, delete what's no longer wanted.
package controller

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/pointer"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/metrics"
	"github.com/project-akri/akri-sub000/internal/store"
	"github.com/project-akri/akri-sub000/pkg/names"
)

// InstanceReconciler ensures broker Pods and an Instance Service exist for
// every Instance, tearing them down again when the Instance disappears.
type InstanceReconciler struct {
	client.Client
	Store     *store.Store
	Namespace string
	Log       logrus.FieldLogger
}

//+kubebuilder:rbac:groups=akri.sh,resources=instances,verbs=get;list;watch
//+kubebuilder:rbac:groups=akri.sh,resources=configurations,verbs=get;list;watch
//+kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch;create;update;patch;delete
//+kubebuilder:rbac:groups="",resources=services,verbs=get;list;watch;create;update;patch;delete

func (r *InstanceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, err error) {
	defer func() { metrics.RecordReconcileError("instance", err) }()
	log := r.Log.WithFields(logrus.Fields{"instance": req.Name, "namespace": req.Namespace})

	inst, err := r.Store.GetInstance(ctx, req.Namespace, req.Name)
	if err != nil {
		return ctrl.Result{}, err
	}
	if inst == nil {
		// Instance gone: clean up anything an earlier reconcile left
		// behind (owner-reference garbage collection also handles this
		// path, this is belt-and-suspenders for the Instance Service,
		// which carries no owner reference once its Instance is deleted).
		return ctrl.Result{}, r.deleteInstanceService(ctx, req.Namespace, req.Name)
	}

	cfg, err := r.Store.GetConfiguration(ctx, req.Namespace, inst.Spec.ConfigurationName)
	if err != nil {
		return ctrl.Result{}, err
	}
	if cfg == nil {
		log.Warn("configuration for instance no longer exists, skipping")
		return ctrl.Result{}, nil
	}

	if cfg.Spec.BrokerPodSpec != nil {
		if err := r.reconcileBrokerPods(ctx, log, inst, cfg); err != nil {
			return ctrl.Result{}, err
		}
	}
	if cfg.Spec.InstanceServiceSpec != nil {
		if err := r.reconcileInstanceService(ctx, log, inst, cfg); err != nil {
			return ctrl.Result{}, err
		}
	} else {
		if err := r.deleteInstanceService(ctx, req.Namespace, req.Name); err != nil {
			return ctrl.Result{}, err
		}
	}

	r.reportBrokerPodCount(ctx, inst)
	return ctrl.Result{}, nil
}

// targetNodes applies the placement tie-break: when |nodes| exceeds
// capacity, the lexicographically smallest node names win, deterministically
// and stably across controller restarts.
func targetNodes(inst *akriv1alpha1.Instance, capacity int32) []string {
	nodes := append([]string(nil), inst.Spec.Nodes...)
	sort.Strings(nodes)
	if int32(len(nodes)) > capacity {
		nodes = nodes[:capacity]
	}
	return nodes
}

func (r *InstanceReconciler) reconcileBrokerPods(ctx context.Context, log logrus.FieldLogger, inst *akriv1alpha1.Instance, cfg *akriv1alpha1.Configuration) error {
	wanted := targetNodes(inst, cfg.Spec.Capacity)
	wantedSet := make(map[string]bool, len(wanted))
	for _, n := range wanted {
		wantedSet[n] = true
	}

	existing, err := r.Store.ListPodsForInstance(ctx, inst.Namespace, inst.Name)
	if err != nil {
		return err
	}
	byNode := make(map[string]*corev1.Pod, len(existing.Items))
	for i := range existing.Items {
		pod := &existing.Items[i]
		if node, ok := pod.Labels[names.LabelTargetNode]; ok {
			byNode[node] = pod
		}
	}

	for node, pod := range byNode {
		if !wantedSet[node] {
			if err := r.Delete(ctx, pod); err != nil && !apierrs.IsNotFound(err) {
				return fmt.Errorf("delete stale broker pod %s: %w", pod.Name, err)
			}
			log.WithField("node", node).Info("deleted broker pod for node no longer assigned this instance")
		}
	}

	for _, node := range wanted {
		if _, ok := byNode[node]; ok {
			continue
		}
		pod := buildBrokerPod(inst, cfg, node)
		if err := r.Create(ctx, pod); err != nil && !apierrs.IsAlreadyExists(err) {
			return fmt.Errorf("create broker pod for node %s: %w", node, err)
		}
		log.WithField("node", node).Info("created broker pod")
	}
	return nil
}

func buildBrokerPod(inst *akriv1alpha1.Instance, cfg *akriv1alpha1.Configuration, node string) *corev1.Pod {
	labels := map[string]string{
		names.LabelConfiguration: cfg.Name,
		names.LabelInstance:      inst.Name,
		names.LabelTargetNode:    node,
	}
	spec := *cfg.Spec.BrokerPodSpec.DeepCopy()
	spec.Affinity = &corev1.Affinity{
		NodeAffinity: &corev1.NodeAffinity{
			RequiredDuringSchedulingIgnoredDuringExecution: &corev1.NodeSelector{
				NodeSelectorTerms: []corev1.NodeSelectorTerm{{
					MatchFields: []corev1.NodeSelectorRequirement{{
						Key:      "metadata.name",
						Operator: corev1.NodeSelectorOpIn,
						Values:   []string{node},
					}},
				}},
			},
		},
	}

	resourceName := corev1.ResourceName(names.ResourceName(inst.Name))
	resourceList := corev1.ResourceList{resourceName: resource.MustParse("1")}
	for i := range spec.Containers {
		if spec.Containers[i].Resources.Limits == nil {
			spec.Containers[i].Resources.Limits = corev1.ResourceList{}
		}
		if spec.Containers[i].Resources.Requests == nil {
			spec.Containers[i].Resources.Requests = corev1.ResourceList{}
		}
		for k, v := range resourceList {
			spec.Containers[i].Resources.Limits[k] = v
			spec.Containers[i].Resources.Requests[k] = v
		}
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			GenerateName: inst.Name + "-",
			Namespace:    inst.Namespace,
			Labels:       labels,
			Annotations: map[string]string{
				names.AnnotationInstance: inst.Name,
			},
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion:         akriv1alpha1.GroupVersion.WithKind("Instance").GroupVersion().String(),
				Kind:               "Instance",
				Name:               inst.Name,
				UID:                inst.UID,
				Controller:         pointer.Bool(true),
				BlockOwnerDeletion: pointer.Bool(true),
			}},
		},
		Spec: spec,
	}
}

func (r *InstanceReconciler) reconcileInstanceService(ctx context.Context, log logrus.FieldLogger, inst *akriv1alpha1.Instance, cfg *akriv1alpha1.Configuration) error {
	expected := buildInstanceService(inst, cfg)
	existing := &corev1.Service{}
	err := r.Get(ctx, types.NamespacedName{Namespace: inst.Namespace, Name: expected.Name}, existing)
	if apierrs.IsNotFound(err) {
		return r.Create(ctx, expected)
	}
	if err != nil {
		return err
	}
	if equality.Semantic.DeepEqual(existing.Spec.Selector, expected.Spec.Selector) &&
		equality.Semantic.DeepEqual(existing.Spec.Ports, expected.Spec.Ports) {
		return nil
	}
	existing.Spec.Selector = expected.Spec.Selector
	existing.Spec.Ports = expected.Spec.Ports
	log.Info("updating drifted instance service")
	return r.Update(ctx, existing)
}

func buildInstanceService(inst *akriv1alpha1.Instance, cfg *akriv1alpha1.Configuration) *corev1.Service {
	spec := *cfg.Spec.InstanceServiceSpec.DeepCopy()
	spec.Selector = map[string]string{names.LabelInstance: inst.Name}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      instanceServiceName(inst.Name),
			Namespace: inst.Namespace,
			Labels:    map[string]string{names.LabelInstance: inst.Name},
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion:         akriv1alpha1.GroupVersion.WithKind("Instance").GroupVersion().String(),
				Kind:               "Instance",
				Name:               inst.Name,
				UID:                inst.UID,
				Controller:         pointer.Bool(true),
				BlockOwnerDeletion: pointer.Bool(true),
			}},
		},
		Spec: spec,
	}
}

func instanceServiceName(instanceName string) string { return instanceName }

func (r *InstanceReconciler) deleteInstanceService(ctx context.Context, namespace, instanceName string) error {
	svc := &corev1.Service{}
	err := r.Get(ctx, types.NamespacedName{Namespace: namespace, Name: instanceServiceName(instanceName)}, svc)
	if apierrs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return client.IgnoreNotFound(r.Delete(ctx, svc))
}

func (r *InstanceReconciler) reportBrokerPodCount(ctx context.Context, inst *akriv1alpha1.Instance) {
	pods := &corev1.PodList{}
	if err := r.List(ctx, pods, client.InNamespace(inst.Namespace), client.MatchingLabels{names.LabelConfiguration: inst.Spec.ConfigurationName}); err != nil {
		return
	}
	byNode := map[string]int{}
	for _, pod := range pods.Items {
		byNode[pod.Labels[names.LabelTargetNode]]++
	}
	for node, count := range byNode {
		metrics.BrokerPodCount.WithLabelValues(inst.Spec.ConfigurationName, node).Set(float64(count))
	}
	instances, err := r.Store.ListInstancesForConfiguration(ctx, inst.Namespace, inst.Spec.ConfigurationName)
	if err != nil {
		return
	}
	byShared := map[bool]int{}
	for i := range instances.Items {
		byShared[instances.Items[i].Spec.Shared]++
	}
	for shared, count := range byShared {
		metrics.InstanceCount.WithLabelValues(inst.Spec.ConfigurationName, metrics.SharedLabel(shared)).Set(float64(count))
	}
}

func (r *InstanceReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&akriv1alpha1.Instance{}).
		Owns(&corev1.Pod{}).
		Owns(&corev1.Service{}).
		Complete(r)
}
