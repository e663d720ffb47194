package discovery

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	akriv1alpha1 "github.com/project-akri/akri-sub000/api/v1alpha1"
	"github.com/project-akri/akri-sub000/pkg/names"
)

// configurationKind is the GroupVersionKind used to build the owner
// reference Instances carry back to their Configuration").
var configurationKind = akriv1alpha1.GroupVersion.WithKind("Configuration")

func ownerRefMeta(namespace, instanceName, configurationName string, cfg *akriv1alpha1.Configuration) metav1.ObjectMeta {
	blockOwnerDeletion := true
	isController := true
	return metav1.ObjectMeta{
		Name:      instanceName,
		Namespace: namespace,
		Labels: map[string]string{
			names.LabelConfiguration: configurationName,
		},
		OwnerReferences: []metav1.OwnerReference{{
			APIVersion:         configurationKind.GroupVersion().String(),
			Kind:               configurationKind.Kind,
			Name:               cfg.Name,
			UID:                cfg.UID,
			Controller:         &isController,
			BlockOwnerDeletion: &blockOwnerDeletion,
		}},
	}
}
