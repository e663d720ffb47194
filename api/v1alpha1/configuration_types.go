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
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DiscoveryHandlerInfo selects a protocol and carries its opaque,
// protocol-specific configuration through to the Discovery Handler
// unexamined by the core.
type DiscoveryHandlerInfo struct {
	// Name selects which registered Discovery Handler protocol discovers
	// devices for this Configuration (e.g. "udev", "onvif", "opcua").
	Name string `json:"name"`

	// DiscoveryDetails is passed verbatim to the Discovery Handler's
	// Discover RPC. Its contents are opaque to the core.
	DiscoveryDetails string `json:"discoveryDetails,omitempty"`
}

// ConfigurationSpec defines the desired state of Configuration.
type ConfigurationSpec struct {
	// DiscoveryHandler selects the protocol used to find devices for this
	// Configuration and the opaque details passed to it.
	DiscoveryHandler DiscoveryHandlerInfo `json:"discoveryHandler"`

	// Capacity is the maximum number of nodes that may simultaneously hold
	// a usage slot for any one device discovered under this Configuration.
	// +kubebuilder:validation:Minimum=1
	Capacity int32 `json:"capacity"`

	// BrokerPodSpec is the pod spec scheduled once per target node of each
	// Instance (lexicographically smallest node names first, at most
	// Capacity pods). If nil, no broker is scheduled and Instances exist purely for
	// slot bookkeeping.
	BrokerPodSpec *corev1.PodSpec `json:"brokerPodSpec,omitempty"`

	// InstanceServiceSpec, if set, is applied to a Service created per
	// Instance selecting that Instance's broker pods.
	InstanceServiceSpec *corev1.ServiceSpec `json:"instanceServiceSpec,omitempty"`

	// ConfigurationServiceSpec, if set, is applied to a single Service
	// shared by all Instances of this Configuration.
	ConfigurationServiceSpec *corev1.ServiceSpec `json:"configurationServiceSpec,omitempty"`

	// BrokerProperties are additional environment variables injected into
	// every broker pod for this Configuration, merged with the discovered
	// device's own properties; on a shared key the broker property wins.
	BrokerProperties map[string]string `json:"brokerProperties,omitempty"`
}

// ConfigurationStatus surfaces operator-visible summaries of discovery
// activity; it is not consulted by any core algorithm.
type ConfigurationStatus struct {
	// Conditions track discovery-handler liveness and other
	// operator-relevant signals (see internal/agent/discovery).
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

//+kubebuilder:object:root=true
//+kubebuilder:subresource:status
//+kubebuilder:printcolumn:name="Protocol",type=string,JSONPath=".spec.discoveryHandler.name"
//+kubebuilder:printcolumn:name="Capacity",type=integer,JSONPath=".spec.capacity"

// Configuration is the Schema for the configurations API. It declares what
// devices to discover, how many nodes may share each, and what broker
// workload to run per device.
type Configuration struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ConfigurationSpec   `json:"spec,omitempty"`
	Status ConfigurationStatus `json:"status,omitempty"`
}

//+kubebuilder:object:root=true

// ConfigurationList contains a list of Configuration.
type ConfigurationList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Configuration `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Configuration{}, &ConfigurationList{})
}
