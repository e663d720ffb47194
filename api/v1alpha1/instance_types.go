/*
Copyright 2021.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// InstanceSpec represents one discovered device, its visibility, and its
// usage slots. Deliberately has no separate status subresource: every field
// here is mutated through compare-and-swap on the whole object's
// resourceVersion, which is the core's sole coordination primitive. Using a
// status subresource would split that single linearization point in two.
type InstanceSpec struct {
	// ConfigurationName back-references the Configuration this Instance
	// was created from. Combined with the owner reference set at creation
	// time; kept here too since label selectors, not back-references, are
	// how the rest of the core looks Instances up.
	ConfigurationName string `json:"configurationName"`

	// Shared is true if the device is visible from more than one node.
	Shared bool `json:"shared"`

	// DeviceProperties is discovered metadata destined for broker
	// environment variables.
	DeviceProperties map[string]string `json:"deviceProperties,omitempty"`

	// Nodes is the set of node names that currently see this device,
	// represented as a sorted slice (Kubernetes has no native set type).
	Nodes []string `json:"nodes"`

	// DeviceUsage maps slot_id -> node name ("" if unclaimed). Always has
	// exactly Configuration.Spec.Capacity entries once initialized, with
	// slot ids "{instance_name}-{index}".
	DeviceUsage map[string]string `json:"deviceUsage"`

	// Mounts are host paths the discovery handler reported for this
	// device, bind-mounted into the broker container on Allocate.
	Mounts []DeviceMount `json:"mounts,omitempty"`

	// DeviceSpecs are host device nodes the discovery handler reported for
	// this device, exposed to the broker container on Allocate.
	DeviceSpecs []DeviceSpec `json:"deviceSpecs,omitempty"`
}

// DeviceMount is a host path bind mount a discovery handler attached to a
// discovered device, carried through to the broker container unchanged.
type DeviceMount struct {
	ContainerPath string `json:"containerPath"`
	HostPath      string `json:"hostPath"`
	ReadOnly      bool   `json:"readOnly,omitempty"`
}

// DeviceSpec is a host device node a discovery handler attached to a
// discovered device, carried through to the broker container unchanged.
type DeviceSpec struct {
	ContainerPath string `json:"containerPath"`
	HostPath      string `json:"hostPath"`
	Permissions   string `json:"permissions,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:printcolumn:name="Configuration",type=string,JSONPath=".spec.configurationName"
//+kubebuilder:printcolumn:name="Shared",type=boolean,JSONPath=".spec.shared"

// Instance is the Schema for the instances API.
type Instance struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec InstanceSpec `json:"spec,omitempty"`
}

//+kubebuilder:object:root=true

// InstanceList contains a list of Instance.
type InstanceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Instance `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Instance{}, &InstanceList{})
}
