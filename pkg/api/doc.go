// Package api exposes the read surface for dashboards: scoped site and
// metric reads, report access, on-demand aggregation, and reconciliation
// triggers with pollable job status.
package api
