// Package audit records what the routing pipeline did: signals accepted,
// tasks created and transitioned, escalations fired, sweeps completed and
// flags changed. Events flow through a Recorder into pluggable sinks (log,
// webhook, Kafka), optionally decoupled from the request path by QueuedSink.
package audit
