// Package store provides typed CRUD and watch access to the cluster store.
// It is the sole arbiter of cross-node state: every write here is a
// compare-and-swap keyed on resourceVersion, and no caller is allowed to
// treat an in-memory copy as authoritative between a read and its paired
// write.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/avast/retry-go"
	corev1 "k8s.io/api/core/v1"
	apierrs "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/internal/apierrors"
	"github.com/project-akri/akri-sub000/pkg/names"
)

// retryAttempts bounds the number of CAS retries a single logical operation
// will perform before surfacing Conflict to its caller.
const retryAttempts = 5

// Store wraps a controller-runtime client with the akri-specific typed
// helpers used by the Agent and Controller. It holds no cache of its own;
// reads either come from the client's informer-backed cache (the normal
// case inside a running manager) or go straight to the API server.
type Store struct {
	client.Client
}

func New(c client.Client) *Store {
	return &Store{Client: c}
}

// GetInstance fetches an Instance by name/namespace. Returns nil, nil if not
// found, so callers can treat "gone" as ordinary data rather than an error.
func (s *Store) GetInstance(ctx context.Context, namespace, name string) (*akriv1alpha1.Instance, error) {
	inst := &akriv1alpha1.Instance{}
	err := s.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, inst)
	if apierrs.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apierrors.TransientStore("get instance "+name, err)
	}
	return inst, nil
}

func (s *Store) CreateInstance(ctx context.Context, inst *akriv1alpha1.Instance) error {
	err := s.Create(ctx, inst)
	if apierrs.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return apierrors.TransientStore("create instance "+inst.Name, err)
	}
	return nil
}

// UpdateInstance performs a single compare-and-swap write. A conflict is
// translated to apierrors.KindConflict so that callers implementing a
// read-modify-write loop can distinguish it from other
// transient failures and decide whether to retry.
func (s *Store) UpdateInstance(ctx context.Context, inst *akriv1alpha1.Instance) error {
	err := s.Update(ctx, inst)
	if apierrs.IsConflict(err) {
		return apierrors.Conflict(inst.Name, err)
	}
	if err != nil {
		return apierrors.TransientStore("update instance "+inst.Name, err)
	}
	return nil
}

func (s *Store) DeleteInstance(ctx context.Context, inst *akriv1alpha1.Instance) error {
	err := s.Delete(ctx, inst)
	return client.IgnoreNotFound(err)
}

func (s *Store) GetConfiguration(ctx context.Context, namespace, name string) (*akriv1alpha1.Configuration, error) {
	cfg := &akriv1alpha1.Configuration{}
	err := s.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, cfg)
	if apierrs.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apierrors.TransientStore("get configuration "+name, err)
	}
	return cfg, nil
}

// UpdateConfigurationStatus writes cfg's Status subresource, translating a
// conflict the same way UpdateInstance does so callers folding condition
// updates into a CAS loop can tell a stale read from a genuine failure.
func (s *Store) UpdateConfigurationStatus(ctx context.Context, cfg *akriv1alpha1.Configuration) error {
	err := s.Status().Update(ctx, cfg)
	if apierrs.IsConflict(err) {
		return apierrors.Conflict(cfg.Name, err)
	}
	if err != nil {
		return apierrors.TransientStore("update configuration status "+cfg.Name, err)
	}
	return nil
}

func (s *Store) ListConfigurations(ctx context.Context, namespace string) (*akriv1alpha1.ConfigurationList, error) {
	list := &akriv1alpha1.ConfigurationList{}
	if err := s.List(ctx, list, client.InNamespace(namespace)); err != nil {
		return nil, apierrors.TransientStore("list configurations", err)
	}
	return list, nil
}

func (s *Store) ListInstancesForConfiguration(ctx context.Context, namespace, configurationName string) (*akriv1alpha1.InstanceList, error) {
	list := &akriv1alpha1.InstanceList{}
	if err := s.List(ctx, list, client.InNamespace(namespace), client.MatchingLabels{
		names.LabelConfiguration: configurationName,
	}); err != nil {
		return nil, apierrors.TransientStore("list instances for configuration "+configurationName, err)
	}
	return list, nil
}

// ListInstancesForNode returns every Instance that lists nodeName in its
// Spec.Nodes, the read side of the sweep reconciler's "every Instance this
// node claims any slot in" precondition. Node membership
// is not label-selectable (Nodes is a slice field, not a label), so this
// lists the namespace's Instances and filters client-side; namespaces in
// this core are expected to stay small relative to cluster size.
func (s *Store) ListInstancesForNode(ctx context.Context, namespace, nodeName string) (*akriv1alpha1.InstanceList, error) {
	all := &akriv1alpha1.InstanceList{}
	if err := s.List(ctx, all, client.InNamespace(namespace)); err != nil {
		return nil, apierrors.TransientStore("list instances for node "+nodeName, err)
	}
	filtered := &akriv1alpha1.InstanceList{}
	for _, inst := range all.Items {
		for _, n := range inst.Spec.Nodes {
			if n == nodeName {
				filtered.Items = append(filtered.Items, inst)
				break
			}
		}
	}
	return filtered, nil
}

func (s *Store) ListPodsForInstance(ctx context.Context, namespace, instanceName string) (*corev1.PodList, error) {
	list := &corev1.PodList{}
	if err := s.List(ctx, list, client.InNamespace(namespace), client.MatchingLabels{
		names.LabelInstance: instanceName,
	}); err != nil {
		return nil, apierrors.TransientStore("list pods for instance "+instanceName, err)
	}
	return list, nil
}

// RetryOnConflict runs fn, retrying with bounded exponential backoff when fn
// returns a Conflict. This is the generic shape of every compare-and-swap
// loop callers build: fn is expected to re-Get, mutate, and re-Update on
// every attempt.
func RetryOnConflict(ctx context.Context, fn func() error) error {
	err := retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return apierrors.Is(err, apierrors.KindConflict)
		}),
	)
	if err != nil {
		var ae *apierrors.Error
		if errors.As(err, &ae) {
			return err
		}
		return fmt.Errorf("retry loop exhausted: %w", err)
	}
	return nil
}
