// Package reconciler backfills calendar dates with missing metric rows
// inside the recent collection window. Passes run detached and are recorded
// as pollable job records with per-date outcomes.
package reconciler
