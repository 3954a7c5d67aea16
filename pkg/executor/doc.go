// Package executor runs one phase of a pipeline run.
//
// For item-granular phases the executor computes the set difference between
// the declared input set and the items already recorded in the checkpoint
// store, then dispatches the remainder in batches through a bounded errgroup.
// Every successful computation is persisted before the item counts as
// processed, so a crash loses at most the items that were in flight.
//
// Cancellation is observed only between batches. The batch in flight runs on
// a context detached from the caller's cancellation and bounded by the
// per-item timeout, so a SIGINT never interrupts a computation half way.
//
// Transient failures are retried with exponential backoff. Errors wrapped
// with pipeline.Permanent fail immediately. An item that still fails is
// reported as errored and left unrecorded so the next resume retries it.
package executor
