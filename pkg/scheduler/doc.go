// Package scheduler triggers the recurring collection and reporting jobs on
// cron schedules, gated by persisted per-job state with an overlap guard.
package scheduler
