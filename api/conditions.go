package api

import (
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// DiscoveryHandlerRegistered indicates at least one Discovery Handler
	// is registered for this Configuration's protocol.
	DiscoveryHandlerRegistered string = "DiscoveryHandlerRegistered"

	// SessionActive indicates a discovery session is streaming responses
	// for this Configuration.
	SessionActive string = "SessionActive"

	// InstancesReconciled indicates the Controller has reconciled the
	// Configuration-wide Service against this Configuration's Instances.
	InstancesReconciled string = "InstancesReconciled"

	// ReasonCreated is used when desired objects are created
	ReasonCreated = "Created"

	// ReasonFailedCreated is used when desired objects failed to be created
	ReasonFailedCreated = "FailedCreated"

	// ReasonNotFound is used when desired objects is not found
	ReasonNotFound = "NotFound"

	// ReasonProgressing is used when update is progressing
	ReasonProgressing = "Progressing"

	// ReasonOffline is used when a handler's Discover stream fails or
	// disconnects. No idle timeout is applied to an open stream, so a
	// connected handler that stops sending is not marked Offline.
	ReasonOffline = "HandlerOffline"

	// ReasonNoHandler is used when no Discovery Handler is registered for
	// the Configuration's protocol.
	ReasonNoHandler = "NoHandlerRegistered"
)

type conditionsBuilder struct {
	cndType string
	status  v1.ConditionStatus
	reason  string
	message string
}

func Conditions() *conditionsBuilder {
	return &conditionsBuilder{}
}

func (builder *conditionsBuilder) Build() *v1.Condition {
	return &v1.Condition{
		Type:    builder.cndType,
		Status:  builder.status,
		Reason:  builder.reason,
		Message: builder.message,
	}
}

func (builder *conditionsBuilder) HandlerRegistered() *conditionsBuilder {
	builder.status = v1.ConditionTrue
	builder.cndType = DiscoveryHandlerRegistered
	return builder
}

func (builder *conditionsBuilder) NotHandlerRegistered() *conditionsBuilder {
	builder.status = v1.ConditionFalse
	builder.cndType = DiscoveryHandlerRegistered
	return builder
}

func (builder *conditionsBuilder) SessionActive() *conditionsBuilder {
	builder.status = v1.ConditionTrue
	builder.cndType = SessionActive
	return builder
}

func (builder *conditionsBuilder) NotSessionActive() *conditionsBuilder {
	builder.status = v1.ConditionFalse
	builder.cndType = SessionActive
	return builder
}

func (builder *conditionsBuilder) InstancesReconciled() *conditionsBuilder {
	builder.status = v1.ConditionTrue
	builder.cndType = InstancesReconciled
	return builder
}

func (builder *conditionsBuilder) NotInstancesReconciled() *conditionsBuilder {
	builder.status = v1.ConditionFalse
	builder.cndType = InstancesReconciled
	return builder
}

func (builder *conditionsBuilder) Reason(r string) *conditionsBuilder {
	builder.reason = r
	return builder
}

func (builder *conditionsBuilder) Msg(msg string) *conditionsBuilder {
	builder.message = msg
	return builder
}
