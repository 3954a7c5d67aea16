// Saturn runs systematic literature reviews as resumable, checkpointed
// pipelines.
//
// Every phase writes its results to a durable checkpoint store before the
// run moves on, so an interrupted or gate-paused run continues exactly where
// it stopped. Quality gates between phases pause the run when a blocking
// threshold is missed, and the evidence ledger guarantees that no claim is
// exported without a resolved citation.
//
// Usage:
//
//	# Start a review
//	saturn start --topic "sleep deprivation and memory"
//
//	# Resume a paused run after remediation
//	saturn resume 5f0c...
//
//	# Inspect a run
//	saturn status 5f0c... --format json
//
//	# Serve metrics and auto-resume interrupted runs
//	saturn serve
package main

func main() {
	Execute()
}
