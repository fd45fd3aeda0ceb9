// Package monitoring provides Prometheus metrics and recording helpers for
// the Strand Operator. It exposes domain-specific gauges and counters that
// complement the generic controller-runtime metrics already registered by
// the framework.
//
// All metrics follow the naming convention strand_operator_<metric>_<unit>
// and are registered against controller-runtime's default Prometheus
// registry on import.
//
// Usage in controllers:
//
//	monitoring.SetNetworkInfo(net.Name, net.Namespace, string(net.Status.Phase))
//	monitoring.SetNetworkPeers(net.Name, net.Namespace, desired, ready)
//	monitoring.RecordPeeringPublish(net.Name, net.Namespace, err)
//
// The package also carries the operator's OpenTelemetry tracer. Reconcile
// passes open a span per resource so slow convergence can be attributed to
// individual API server or peer endpoint calls.
package monitoring
