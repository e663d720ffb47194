// Package names derives the deterministic, collision-resistant names the
// core assigns to Instances and usage slots.
package names

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// instanceHashLen is the number of hex characters kept from the digest.
const instanceHashLen = 8

// InstanceName derives the Instance name for a device discovered under
// configurationName. For a node-local (unshared) device the hash also binds
// nodeName so that identical device descriptors on different nodes never
// collide; for a shared device nodeName is omitted so that every node
// observing the same physical device converges on one Instance name,
// enabling cross-node slot reservation on that shared Instance.
func InstanceName(configurationName, deviceID string, shared bool, nodeName string) string {
	h := sha256.New()
	h.Write([]byte(deviceID))
	if !shared {
		h.Write([]byte{0})
		h.Write([]byte(nodeName))
	}
	sum := hex.EncodeToString(h.Sum(nil))[:instanceHashLen]
	return fmt.Sprintf("%s-%s", configurationName, sum)
}

// SlotID returns the deterministic slot identifier for the index'th slot of
// instanceName: "{instance_name}-{index}".
func SlotID(instanceName string, index int) string {
	return fmt.Sprintf("%s-%d", instanceName, index)
}

// SlotIDs returns the full ordered list of slot ids for an Instance with the
// given capacity.
func SlotIDs(instanceName string, capacity int32) []string {
	ids := make([]string, capacity)
	for i := range ids {
		ids[i] = SlotID(instanceName, i)
	}
	return ids
}

// ResourceName builds the kubelet-facing extended resource name for an
// Instance, using the akri.sh/ domain prefix.
func ResourceName(instanceName string) string {
	return fmt.Sprintf("akri.sh/%s", instanceName)
}
