// Package metrics exposes the core's Prometheus metrics. Both the Agent and
// the Controller register against the same default registry and serve it on
// their own HTTP listener, a bare promhttp.Handler mounted on a dedicated
// metrics port.
package metrics

import (
	"errors"
	"net/http"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/project-akri/akri-sub000/internal/apierrors"
)

func init() {
	// Discovery sessions dial handlers as gRPC clients; device plugin
	// endpoints serve kubelet as gRPC servers. The client collectors are
	// registered against the default registry here; go-grpc-prometheus
	// registers its server collectors there itself, so a single
	// promhttp.Handler call picks them all up.
	prometheus.MustRegister(grpc_prometheus.DefaultClientMetrics)
}

var (
	// InstanceCount tracks live Instances per Configuration, split by
	// shared/local, so an operator can see discovery fan-out at a glance.
	InstanceCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "akri_instance_count",
		Help: "Number of Instance objects currently present, by configuration and sharing mode.",
	}, []string{"configuration", "shared"})

	// BrokerPodCount tracks broker Pods the Controller currently has
	// running, by Configuration and node.
	BrokerPodCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "akri_broker_pod_count",
		Help: "Number of broker pods currently running, by configuration and node.",
	}, []string{"configuration", "node"})

	// SlotClaimTotal counts Allocate-time slot claim attempts, split by
	// outcome, giving a direct read on the SlotTaken race rate.
	SlotClaimTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akri_slot_claim_total",
		Help: "Slot claim attempts by outcome.",
	}, []string{"outcome"})

	// SlotReleaseTotal counts slot releases performed by the sweep
	// reconciler, split by why the slot was released.
	SlotReleaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akri_slot_release_total",
		Help: "Slot releases performed by the sweep reconciler, by reason.",
	}, []string{"reason"})

	// DiscoveryResponseDuration observes latency of one Discover stream
	// response cycle per (configuration, discovery_handler).
	DiscoveryResponseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "akri_discovery_response_duration_seconds",
		Help:    "Time to process one DiscoverResponse from a discovery handler session.",
		Buckets: prometheus.DefBuckets,
	}, []string{"configuration", "discovery_handler"})

	// DiscoveryHandlerSessionsActive tracks the number of live
	// (configuration, discovery_handler) sessions.
	DiscoveryHandlerSessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "akri_discovery_handler_sessions_active",
		Help: "Active discovery sessions, by configuration and discovery handler name.",
	}, []string{"configuration", "discovery_handler"})

	// ReconcileErrorsTotal counts reconcile failures surfaced by a
	// controller-runtime Reconciler, by controller and error kind.
	ReconcileErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akri_reconcile_errors_total",
		Help: "Reconcile errors by controller and apierrors.Kind.",
	}, []string{"controller", "kind"})
)

// RecordReconcileError increments ReconcileErrorsTotal for controller,
// labeling by err's apierrors.Kind when it carries one, "unknown" otherwise.
func RecordReconcileError(controller string, err error) {
	if err == nil {
		return
	}
	kind := "unknown"
	var ae *apierrors.Error
	if errors.As(err, &ae) {
		kind = ae.Kind.String()
	}
	ReconcileErrorsTotal.WithLabelValues(controller, kind).Inc()
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SharedLabel renders a bool as the label value convention used by
// InstanceCount's "shared" label.
func SharedLabel(shared bool) string {
	if shared {
		return "true"
	}
	return "false"
}
