// Package metrics defines the Prometheus collectors shared by all taskrouter
// components and exposes the HTTP handler serving them.
package metrics
