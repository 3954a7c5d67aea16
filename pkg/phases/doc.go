// Package phases provides the builtin phase set of the review pipeline.
//
// Builtin returns the nine phases in registry order:
//
//	intake       item   normalise and fingerprint manifest documents
//	dedup        item   mark later documents sharing a title or DOI key
//	screening    item   two-reviewer consensus on title and abstract
//	eligibility  item   two-reviewer consensus on full text
//	extraction   item   findings and citation record per included document
//	quality      item   reporting quality score in [0, 1]
//	synthesis    whole  claims, citations and evidence links in the ledger
//	composition  whole  Markdown report in the staging directory
//	packaging    whole  ledger export and manifest, committed by rename
//
// Each item phase declares its input set from the primary records of the
// phase before it, so a resumed run recomputes the same sets. Whole phases
// write only deterministic, idempotent output.
package phases
