// Package pipeline defines the core data model shared by every stage of the
// Saturn review pipeline: runs, phase checkpoints, item records, consensus
// results and gate results, together with the phase and run state machines.
//
// # Data Model
//
// A Run identifies one pipeline execution over a topic. Its status is the only
// mutable field and moves through a fixed transition table:
//
//	running → paused | completed | failed
//	paused  → running | failed
//	failed  → running   (forced resume after manual intervention)
//
// A PhaseCheckpoint is a marker written once per (run, phase) after every
// blocking gate of that phase passed. It is not a snapshot: the substantive
// data lives in ItemRecords, which are immutable and keyed by
// (run, phase, item, role) so that replaying a computation never produces a
// duplicate.
//
// # Phase State Machine
//
// Each phase execution is driven through PhaseMachine:
//
//	pending → running → gate_check → completed
//	                  ↘ paused      ↘ paused
//	                  ↘ failed      ↘ failed
//
// Transitions outside the table return a TransitionError.
//
// # Computation Interfaces
//
// Item-granular phases implement Computation; whole-phase work implements
// PhaseFunc. Both are required to be idempotent: retries and resumption may
// repeat a call whose result was never durably recorded.
package pipeline
