// Package progress carries per-URL lifecycle events from the workers to
// pluggable sinks. Workers never block on reporting: the Hub buffers events,
// batches them on a background goroutine, and fans each batch out to sinks
// such as Prometheus collectors or a structured log.
package progress
