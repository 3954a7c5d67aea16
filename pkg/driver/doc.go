// Package driver sequences the phases of a run.
//
// A Registry holds the ordered PhaseSpecs of the pipeline. The Driver walks
// them for one run: it finds the first phase without a completion marker,
// executes it through the executor, evaluates the phase's gates and either
// advances, pauses or fails the run.
//
// Run status changes:
//
//	running -> paused     blocking gate failed, cancellation, operator pause
//	running -> failed     whole-phase fault, corrupt checkpoint state, store fault
//	running -> completed  every phase has a completion marker
//	paused  -> running    Resume
//	failed  -> running    Resume with Force
//
// Resuming re-evaluates the gates of the phase that paused, after executing
// only the items that are still outstanding. Checkpoints are validated
// first: they must form a prefix of the registry order.
//
// # Example
//
//	registry, _ := driver.NewRegistry(specs...)
//	d := driver.New(store, registry, exec, evaluator)
//	run, err := d.Start(ctx, "exercise and anxiety", cfgHash)
//	var gateErr *pipeline.GateError
//	if errors.As(err, &gateErr) {
//	    // remediate, then d.Resume(ctx, run.ID, driver.ResumeOptions{})
//	}
package driver
