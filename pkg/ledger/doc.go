// Package ledger records the claim, evidence and citation graph of a run.
//
// The ledger is append-only. Synthesis registers the claims a report makes,
// the citations that back them, and the evidence links between the two.
// A citation is resolved when it carries a DOI. A claim is unresolved while
// it has no evidence link to a resolved citation; the packaging phase refuses
// to export a run with unresolved claims.
//
// Identifiers are name-based UUIDs derived from the run and the content, so
// registering the same claim twice (for example when a crashed synthesis is
// re-run) returns the existing id and writes nothing.
//
// Two backends are provided:
//   - SQLiteLedger: durable, file-backed
//   - MemoryLedger: in-process only, used by tests
package ledger
