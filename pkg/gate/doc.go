// Package gate evaluates the quality gates that guard phase advancement.
//
// A gate is a named predicate over a phase Snapshot with a threshold and a
// kind. Blocking gates stop the run when they fail; warn gates only record a
// warning. The Evaluator runs the gates of a phase in order, persists every
// verdict to the audit trail, and aggregates them:
//
//	any blocking gate failed      -> fail
//	otherwise any gate failed     -> warn
//	otherwise                     -> pass
//
// Observed values that cannot be computed (no decided items, no quality
// scores) are NaN. A NaN never satisfies a threshold, so such gates fail
// instead of passing vacuously.
package gate
