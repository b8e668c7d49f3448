// Package metrics exposes the Prometheus collectors reported by fixie-bridge.
//
// Construct one Metrics per process with MustNew and pass it to the components
// that report into it. Tests should pass a fresh prometheus.NewRegistry() so
// registrations do not collide. A nil *Metrics is valid and records nothing.
package metrics
