// Package scheduler resumes interrupted runs on a cron schedule.
//
// Only runs that are paused with reason "interrupted" are picked up. Runs
// paused by a gate or by an operator wait for an explicit resume, and runs
// left "running" by a crashed process are never touched automatically.
package scheduler
