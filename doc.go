// Package jobpipeline hosts job pipelines: ordered chains of independent jobs
// bound to events, executed inline on the dispatching goroutine or deferred to a
// priority queue and executed by the pollers.
//
// Key components:
//   - Plugin: the endure plugin, owns the container, the event dispatcher and the queue
//   - Declaration: pipelines declared in the configuration
//   - Item/Options: a serialized pipeline and its delivery state in the queue
//   - memory driver: in-process connection with delays and retries
//   - RPC methods: Fire, FireBatch, List, Stat
package jobpipeline
