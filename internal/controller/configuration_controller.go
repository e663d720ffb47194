package controller

import (
	"context"

	"github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/pointer"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	akriconditions "github.com/project-akri/akri-sub000/api"
	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/metrics"
	"github.com/project-akri/akri-sub000/internal/store"
	"github.com/project-akri/akri-sub000/pkg/names"
)

// ConfigurationReconciler owns the single shared Service per Configuration:
// create it on the first broker of the Configuration, delete it when the
// last disappears. Per-Instance Services and broker Pods are
// InstanceReconciler's job; this reconciler only watches Instance existence
// to decide the Configuration-wide Service's lifetime.
type ConfigurationReconciler struct {
	client.Client
	Store     *store.Store
	Namespace string
	Log       logrus.FieldLogger
}

//+kubebuilder:rbac:groups=akri.sh,resources=configurations,verbs=get;list;watch

func (r *ConfigurationReconciler) Reconcile(ctx context.Context, req ctrl.Request) (result ctrl.Result, err error) {
	defer func() { metrics.RecordReconcileError("configuration", err) }()
	log := r.Log.WithField("configuration", req.Name)

	cfg, err := r.Store.GetConfiguration(ctx, req.Namespace, req.Name)
	if err != nil {
		return ctrl.Result{}, err
	}
	if cfg == nil || cfg.Spec.ConfigurationServiceSpec == nil {
		return ctrl.Result{}, client.IgnoreNotFound(r.deleteConfigurationService(ctx, req.Namespace, req.Name))
	}

	instances, err := r.Store.ListInstancesForConfiguration(ctx, req.Namespace, req.Name)
	if err != nil {
		return ctrl.Result{}, err
	}
	if len(instances.Items) == 0 {
		return ctrl.Result{}, r.deleteConfigurationService(ctx, req.Namespace, req.Name)
	}

	if err := r.reconcileConfigurationService(ctx, log, cfg); err != nil {
		r.setInstancesReconciled(ctx, req.Namespace, req.Name, false, err.Error())
		return ctrl.Result{}, err
	}
	r.setInstancesReconciled(ctx, req.Namespace, req.Name, true, "")
	return ctrl.Result{}, nil
}

// setInstancesReconciled records whether the Configuration-wide Service
// reflects the current set of Instances, giving an operator watching
// `kubectl get configuration` a liveness signal independent of logs.
func (r *ConfigurationReconciler) setInstancesReconciled(ctx context.Context, namespace, name string, ok bool, message string) {
	builder := akriconditions.Conditions().InstancesReconciled().Reason(akriconditions.ReasonCreated)
	if !ok {
		builder = akriconditions.Conditions().NotInstancesReconciled().Reason(akriconditions.ReasonFailedCreated).Msg(message)
	}
	cond := builder.Build()

	err := store.RetryOnConflict(ctx, func() error {
		cfg, getErr := r.Store.GetConfiguration(ctx, namespace, name)
		if getErr != nil {
			return getErr
		}
		if cfg == nil {
			return nil
		}
		meta.SetStatusCondition(&cfg.Status.Conditions, *cond)
		return r.Store.UpdateConfigurationStatus(ctx, cfg)
	})
	if err != nil {
		r.Log.WithField("configuration", name).WithError(err).Warn("failed to update InstancesReconciled condition")
	}
}

func (r *ConfigurationReconciler) reconcileConfigurationService(ctx context.Context, log logrus.FieldLogger, cfg *akriv1alpha1.Configuration) error {
	expected := buildConfigurationService(cfg)
	existing := &corev1.Service{}
	err := r.Get(ctx, types.NamespacedName{Namespace: cfg.Namespace, Name: expected.Name}, existing)
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
	log.Info("updating drifted configuration service")
	return r.Update(ctx, existing)
}

func buildConfigurationService(cfg *akriv1alpha1.Configuration) *corev1.Service {
	spec := *cfg.Spec.ConfigurationServiceSpec.DeepCopy()
	spec.Selector = map[string]string{names.LabelConfiguration: cfg.Name}
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      configurationServiceName(cfg.Name),
			Namespace: cfg.Namespace,
			Labels:    map[string]string{names.LabelConfiguration: cfg.Name},
			OwnerReferences: []metav1.OwnerReference{{
				APIVersion:         akriv1alpha1.GroupVersion.WithKind("Configuration").GroupVersion().String(),
				Kind:               "Configuration",
				Name:               cfg.Name,
				UID:                cfg.UID,
				Controller:         pointer.Bool(true),
				BlockOwnerDeletion: pointer.Bool(true),
			}},
		},
		Spec: spec,
	}
}

func configurationServiceName(configurationName string) string { return configurationName }

func (r *ConfigurationReconciler) deleteConfigurationService(ctx context.Context, namespace, configurationName string) error {
	svc := &corev1.Service{}
	err := r.Get(ctx, types.NamespacedName{Namespace: namespace, Name: configurationServiceName(configurationName)}, svc)
	if apierrs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.Delete(ctx, svc)
}

func (r *ConfigurationReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&akriv1alpha1.Configuration{}).
		Owns(&corev1.Service{}).
		Complete(r)
}
