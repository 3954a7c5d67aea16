// Package consensus implements two-reviewer screening with arbitration.
//
// Each item is judged independently by reviewer A (biased toward inclusion)
// and reviewer B (biased toward exclusion). Resolve turns the pair into an
// Outcome:
//
//	A.decision != B.decision               -> Escalate (disagreement)
//	both confidences inside the band       -> Escalate (ambiguous)
//	otherwise                              -> Agreed
//
// An escalated item is decided by the arbiter, which sees both prior
// judgments. Every judgment is written to the checkpoint store as soon as it
// exists, so a retry or a resume reuses judgments already made instead of
// asking the reviewers again.
//
// After a phase, Observe computes Cohen's kappa between A and B over decided
// items and the arbitration rate, which feed the phase gates.
package consensus
