// Package pipeline implements job pipelines: an ordered chain of jobs triggered by
// an event and executed sequentially, either inline or deferred to a queue.
//
// A Definition is built once through Kernel.Make and configured with chained
// setters. Its listener turns the event arguments into a Passable (through the Send
// transform) and snapshots the definition into an Executable, which is either run
// right away or handed to an Enqueuer and run later on a worker.
//
// Run semantics:
//   - jobs run strictly one after another, in declaration order;
//   - a handler returning the literal false halts the chain, which is not an error;
//   - a failing handler whose job implements Failer is delegated to Failed and the
//     chain halts without an error, otherwise the failure is returned unchanged;
//   - construction and parameter resolution failures are always returned.
package pipeline
