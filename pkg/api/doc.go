// Package api serves the HTTP surface of the router: signal ingest with an
// optional dry-run, the Task lifecycle, feature flag management and
// evaluation, rule set inspection and reloading, and a manual sweep trigger.
package api
