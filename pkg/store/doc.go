// Package store is the durable record of per-day, per-page and per-query
// search metrics, generated reports, schedule state and reconciliation job
// records. All metric writes are idempotent upserts keyed by compound
// uniqueness constraints; the constraints themselves are the only
// concurrency guard the pipeline relies on.
package store
