// Package protocol decides what happens to a queued pipeline after a worker ran it.
//
// Completed, halted and delegated runs are acknowledged. A failed run is requeued
// with an exponential backoff delay while attempts remain, otherwise it is
// negatively acknowledged and considered dead.
package protocol
