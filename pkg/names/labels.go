package names

// Label keys applied to broker Pods and used as the one-way label selectors
// the rest of the core uses to look Pods/Services up from an Instance or
// Configuration, instead of reverse owner-reference chains.
const (
	LabelConfiguration = "akri.sh/configuration"
	LabelInstance      = "akri.sh/instance"
	LabelTargetNode    = "akri.sh/target-node"
)

// Container annotation keys written by Allocate. The Controller also sets
// AnnotationInstance on the broker Pod's own metadata; the slot annotation
// exists only on the container.
const (
	AnnotationSlot     = "akri.sh/slot"
	AnnotationInstance = "akri.sh/instance"
)
