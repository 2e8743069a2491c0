// Package sinks implements progress consumers: structured logs, Prometheus
// job metrics, and terminal-job notifications through a publisher.
package sinks
