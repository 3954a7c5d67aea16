// Package health provides the liveness, readiness and version endpoints of
// the "saturn serve" daemon.
//
//   - /health: the process is running
//   - /ready: every registered check passed (checkpoint store, ledger, scheduler)
//   - /version: build information
package health
